package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/metrics"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
)

// RuleCachePrefix namespaces every cached rule set; invalidating it drops them all.
const RuleCachePrefix = "pricing:rules:"

func ruleCacheKey(packageID int64) string {
	return fmt.Sprintf("%spkg:%d", RuleCachePrefix, packageID)
}

// CachedRuleSource reads rules through the cache port. The cache is only an
// optimisation: on any cache problem the store is consulted.
type CachedRuleSource struct {
	store  domain.RuleStore
	cache  domain.Cache
	ttl    time.Duration
	logger *zerolog.Logger
}

func NewCachedRuleSource(store domain.RuleStore, cache domain.Cache, ttl time.Duration, logger *zerolog.Logger) *CachedRuleSource {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &CachedRuleSource{store: store, cache: cache, ttl: ttl, logger: logger}
}

func (s *CachedRuleSource) RulesForPackage(ctx context.Context, packageID int64) ([]*models.PricingRule, error) {
	key := ruleCacheKey(packageID)
	if s.cache != nil {
		if rules, ok := s.fromCache(ctx, key); ok {
			return rules, nil
		}
	}

	rules, err := s.store.ListRulesForPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		raw, err := json.Marshal(rules)
		if err == nil {
			err = s.cache.Set(ctx, key, raw, s.ttl)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache pricing rules")
		}
	}
	return rules, nil
}

func (s *CachedRuleSource) fromCache(ctx context.Context, key string) ([]*models.PricingRule, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.IncRuleCache("error")
		s.logger.Warn().Err(err).Str("key", key).Msg("Rule cache unavailable, reading store")
		return nil, false
	}
	if !ok {
		metrics.IncRuleCache("miss")
		return nil, false
	}

	var rules []*models.PricingRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		metrics.IncRuleCache("error")
		s.logger.Warn().Err(err).Str("key", key).Msg("Discarding unreadable cached rules")
		_ = s.cache.Delete(ctx, key)
		return nil, false
	}
	metrics.IncRuleCache("hit")
	return rules, true
}

// Invalidate drops every cached rule set.
func (s *CachedRuleSource) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePrefix(ctx, RuleCachePrefix)
}
