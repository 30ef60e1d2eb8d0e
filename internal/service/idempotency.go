package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safarbook/internal/config"
	"safarbook/internal/domain"
	"safarbook/internal/metrics"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
)

const (
	idempotencyPrefix = "idem:booking:"
	idempotencyLock   = "idem:lock:"
)

// BookingReceipt is the response to a booking creation. It is built from
// persisted fields only so a replay is byte-identical to the original.
type BookingReceipt struct {
	ID              int64                `json:"id"`
	Reference       string               `json:"reference"`
	Status          models.BookingStatus `json:"status"`
	PackageID       int64                `json:"package_id"`
	TotalPrice      string               `json:"total_price"`
	TotalAmountPaid string               `json:"total_amount_paid"`
	NumTravelers    int                  `json:"num_travelers"`
	ExpiresAt       *time.Time           `json:"expires_at,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func NewBookingReceipt(b *models.Booking) *BookingReceipt {
	r := &BookingReceipt{
		ID:              b.ID,
		Reference:       b.Reference(),
		Status:          b.Status,
		PackageID:       b.PackageID,
		TotalPrice:      models.FormatMoney(b.TotalPrice),
		TotalAmountPaid: models.FormatMoney(b.TotalAmountPaid),
		NumTravelers:    b.NumTravelers,
		CreatedAt:       b.CreatedAt.UTC(),
	}
	if b.ExpiresAt != nil {
		t := b.ExpiresAt.UTC()
		r.ExpiresAt = &t
	}
	return r
}

// IdempotencyGate deduplicates booking creation per (owner, key). The cache is
// best-effort: the store's unique index is what guarantees a single booking.
type IdempotencyGate struct {
	cache   domain.Cache
	ttl     time.Duration
	lockTTL time.Duration
	logger  *zerolog.Logger
}

func NewIdempotencyGate(cache domain.Cache, cfg config.IdempotencyConfig, logger *zerolog.Logger) *IdempotencyGate {
	return &IdempotencyGate{
		cache:   cache,
		ttl:     cfg.TTL(),
		lockTTL: cfg.LockTTL(),
		logger:  logger,
	}
}

func receiptKey(ownerKey, key string) string {
	return idempotencyPrefix + ownerKey + ":" + key
}

func lockKey(ownerKey, key string) string {
	return idempotencyLock + ownerKey + ":" + key
}

// Do returns the stored receipt for (ownerKey, key) or runs create exactly once
// and stores its receipt. replayed is true whenever create did not insert.
func (g *IdempotencyGate) Do(
	ctx context.Context,
	ownerKey, key string,
	create func(ctx context.Context) (*BookingReceipt, bool, error),
) (receipt *BookingReceipt, replayed bool, err error) {
	if r, ok := g.lookup(ctx, ownerKey, key); ok {
		metrics.IncIdempotencyReplay()
		return r, true, nil
	}

	acquired, lockErr := g.cache.SetNX(ctx, lockKey(ownerKey, key), []byte("1"), g.lockTTL)
	if lockErr != nil {
		g.logger.Warn().Err(lockErr).Str("owner", ownerKey).Msg("idempotency lock unavailable, relying on store uniqueness")
		acquired = true
	}
	if !acquired {
		// The first request may have finished between lookup and SETNX.
		if r, ok := g.lookup(ctx, ownerKey, key); ok {
			metrics.IncIdempotencyReplay()
			return r, true, nil
		}
		return nil, false, fmt.Errorf("request with this idempotency key is in progress: %w", domain.ErrConflict)
	}
	defer func() {
		if lockErr == nil {
			if err := g.cache.Delete(context.WithoutCancel(ctx), lockKey(ownerKey, key)); err != nil {
				g.logger.Warn().Err(err).Str("owner", ownerKey).Msg("failed to release idempotency lock")
			}
		}
	}()

	receipt, replayed, err = create(ctx)
	if err != nil {
		return nil, false, err
	}
	if replayed {
		metrics.IncIdempotencyReplay()
	}
	g.store(ctx, ownerKey, key, receipt)
	return receipt, replayed, nil
}

func (g *IdempotencyGate) lookup(ctx context.Context, ownerKey, key string) (*BookingReceipt, bool) {
	raw, ok, err := g.cache.Get(ctx, receiptKey(ownerKey, key))
	if err != nil {
		g.logger.Warn().Err(err).Str("owner", ownerKey).Msg("idempotency cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var r BookingReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		g.logger.Warn().Err(err).Str("owner", ownerKey).Msg("corrupt idempotency receipt ignored")
		return nil, false
	}
	return &r, true
}

func (g *IdempotencyGate) store(ctx context.Context, ownerKey, key string, r *BookingReceipt) {
	raw, err := json.Marshal(r)
	if err != nil {
		g.logger.Error().Err(err).Int64("booking_id", r.ID).Msg("encode idempotency receipt")
		return
	}
	if err := g.cache.Set(ctx, receiptKey(ownerKey, key), raw, g.ttl); err != nil {
		g.logger.Warn().Err(err).Int64("booking_id", r.ID).Msg("idempotency cache write failed")
	}
}
