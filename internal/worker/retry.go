package worker

import (
	"time"

	"safarbook/internal/config"
)

// RetryPolicy governs redelivery of a notification whose sink failed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter spreads every delay by up to this fraction in either direction.
	Jitter float64
}

// PolicyFromConfig reads the notifications section.
func PolicyFromConfig(cfg config.NotifyConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryDelay(),
		MaxDelay:    cfg.MaxRetryDelay(),
		Jitter:      cfg.RetryJitter,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = 30 * time.Second
		if p.MaxDelay < p.BaseDelay {
			p.MaxDelay = p.BaseDelay
		}
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Delay is the wait before the given redelivery (1-based): BaseDelay doubled
// per attempt, capped at MaxDelay, then jittered with rnd, which returns
// values in [0, 1). A nil rnd gives the unjittered delay.
func (p RetryPolicy) Delay(attempt int, rnd func() float64) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter > 0 && rnd != nil {
		spread := float64(d) * p.Jitter
		d += time.Duration(spread * (2*rnd() - 1))
	}
	return d
}
