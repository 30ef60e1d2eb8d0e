package service

import (
	"context"

	"safarbook/internal/domain"
	"safarbook/internal/events"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
)

// RuleInvalidator drops cached rule sets; *pricing.CachedRuleSource implements it.
type RuleInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RuleService is the admin surface for pricing rules. Every write invalidates
// the rule cache so new prices apply on the next computation.
type RuleService struct {
	store       domain.RuleStore
	invalidator RuleInvalidator
	eventBus    domain.EventPublisher
	logger      *zerolog.Logger
}

func NewRuleService(store domain.RuleStore, invalidator RuleInvalidator, eventBus domain.EventPublisher, logger *zerolog.Logger) *RuleService {
	return &RuleService{store: store, invalidator: invalidator, eventBus: eventBus, logger: logger}
}

func (s *RuleService) CreateRule(ctx context.Context, r *models.PricingRule) error {
	if err := r.Validate(); err != nil {
		return domain.ValidationError{Field: "rule", Msg: err.Error(), Err: err}
	}
	if err := s.store.CreateRule(ctx, r); err != nil {
		return err
	}
	s.changed(ctx, r)
	return nil
}

func (s *RuleService) ListRules(ctx context.Context) ([]*models.PricingRule, error) {
	return s.store.ListRules(ctx)
}

func (s *RuleService) SetRuleActive(ctx context.Context, id int64, active bool) (*models.PricingRule, error) {
	if err := s.store.SetRuleActive(ctx, id, active); err != nil {
		return nil, err
	}
	r, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, r)
	return r, nil
}

func (s *RuleService) changed(ctx context.Context, r *models.PricingRule) {
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			// Cached sets still age out after the rule cache TTL.
			s.logger.Warn().Err(err).Int64("rule_id", r.ID).Msg("rule cache invalidation failed")
		}
	}

	s.logger.Info().
		Int64("rule_id", r.ID).
		Str("name", r.Name).
		Str("kind", string(r.Kind)).
		Bool("active", r.IsActive).
		Msg("pricing rule changed")

	if s.eventBus != nil {
		if err := s.eventBus.PublishJSON(events.EventPricingRuleWrite, r); err != nil {
			s.logger.Error().Err(err).Int64("rule_id", r.ID).Msg("publish event error")
		}
	}
}
