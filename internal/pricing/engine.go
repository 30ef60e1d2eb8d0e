// Package pricing computes authoritative, auditable prices for package selections.
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"safarbook/internal/domain"
	"safarbook/internal/metrics"
	"safarbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultChargeableAge is the age from which a traveler pays.
const DefaultChargeableAge = 5

// RuleSource supplies candidate rules for a package. Applicability at a given
// instant is decided by the engine.
type RuleSource interface {
	RulesForPackage(ctx context.Context, packageID int64) ([]*models.PricingRule, error)
}

// Engine runs the fixed pricing pipeline. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	rules         RuleSource
	chargeableAge int
	now           func() time.Time
	logger        *zerolog.Logger
}

func NewEngine(rules RuleSource, chargeableAge int, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if chargeableAge < 0 {
		chargeableAge = DefaultChargeableAge
	}
	return &Engine{rules: rules, chargeableAge: chargeableAge, now: time.Now, logger: logger}
}

// SetClock overrides the instant used for rule applicability.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) ChargeableAge() int {
	return e.chargeableAge
}

// ComputeBreakdown prices sel against pkg. The order of stages is part of the
// price contract: add-ons, transport, tier multiplier, then rules by active_from.
func (e *Engine) ComputeBreakdown(ctx context.Context, pkg *models.Package, sel models.Selection) (*models.Breakdown, error) {
	b, err := e.compute(ctx, pkg, sel)
	if err != nil {
		if domain.IsValidation(err) {
			metrics.IncPriceComputation("invalid")
		} else {
			metrics.IncPriceComputation("error")
		}
		return nil, err
	}
	metrics.IncPriceComputation("ok")
	return b, nil
}

func (e *Engine) compute(ctx context.Context, pkg *models.Package, sel models.Selection) (*models.Breakdown, error) {
	if pkg == nil {
		return nil, domain.ValidationError{Field: "package_id", Reason: domain.ReasonInvalidComponent, Msg: "package is required"}
	}
	if sel.PackageID != 0 && sel.PackageID != pkg.ID {
		return nil, domain.InvalidComponent("package_id", sel.PackageID)
	}

	base := decimal.Zero
	for _, id := range UniqueAddOns(sel.AddOnIDs) {
		addOn, ok := pkg.FindAddOn(id)
		if !ok {
			return nil, domain.InvalidComponent("add_on_ids", id)
		}
		base = base.Add(addOn.BasePrice)
	}
	base = models.RoundMoney(base)

	transport := decimal.Zero
	if sel.TransportID != 0 {
		opt, ok := pkg.FindTransport(sel.TransportID)
		if !ok {
			return nil, domain.InvalidComponent("transport_id", sel.TransportID)
		}
		transport = models.RoundMoney(opt.BasePrice)
	}

	multiplier := decimal.NewFromInt(1)
	if sel.TierID != 0 {
		tier, ok := pkg.FindTier(sel.TierID)
		if !ok {
			return nil, domain.InvalidComponent("tier_id", sel.TierID)
		}
		if !tier.PriceMultiplier.IsPositive() {
			return nil, domain.ValidationError{Field: "tier_id", Msg: "tier multiplier must be positive"}
		}
		multiplier = tier.PriceMultiplier
	}

	numTravelers, chargeable, err := e.countTravelers(sel)
	if err != nil {
		return nil, err
	}
	nights, err := nightsBetween(sel.TravelStart, sel.TravelEnd)
	if err != nil {
		return nil, err
	}
	if sel.RoomCount < 0 {
		return nil, domain.ValidationError{Field: "room_count", Msg: "must not be negative"}
	}

	now := e.now()
	rules, err := e.applicableRules(ctx, pkg.ID, now)
	if err != nil {
		return nil, err
	}

	subtotal := models.RoundMoney(base.Add(transport))
	tierAdjusted := models.RoundMoney(subtotal.Mul(multiplier))

	running := tierAdjusted
	adjustments := make([]models.RuleAdjustment, 0, len(rules))
	for _, r := range rules {
		delta := r.Delta(running)
		running = models.RoundMoney(running.Add(delta))
		adjustments = append(adjustments, models.RuleAdjustment{
			RuleID:       r.ID,
			Name:         r.Name,
			Kind:         r.Kind,
			Magnitude:    r.Magnitude,
			IsPercentage: r.IsPercentage,
			Delta:        delta,
			RunningTotal: running,
		})
	}

	perPerson := running
	if perPerson.IsNegative() {
		perPerson = decimal.Zero
	}

	return &models.Breakdown{
		PackageID:       pkg.ID,
		BasePrice:       base,
		TransportPrice:  transport,
		Subtotal:        subtotal,
		TierMultiplier:  multiplier,
		TierAdjusted:    tierAdjusted,
		Adjustments:     adjustments,
		PerPersonTotal:  perPerson,
		NumTravelers:    numTravelers,
		ChargeableCount: chargeable,
		TotalAmount:     models.RoundMoney(perPerson.Mul(decimal.NewFromInt(int64(chargeable)))),
		Nights:          nights,
		RoomCount:       sel.RoomCount,
	}, nil
}

// countTravelers resolves the traveler count and how many of them pay.
// Without a manifest every declared traveler is chargeable.
func (e *Engine) countTravelers(sel models.Selection) (int, int, error) {
	if sel.Travelers.Len() == 0 {
		if sel.NumTravelers < 1 {
			return 0, 0, domain.ValidationError{Field: "num_travelers", Msg: "at least one traveler is required"}
		}
		return sel.NumTravelers, sel.NumTravelers, nil
	}

	if err := sel.Travelers.Validate(); err != nil {
		return 0, 0, domain.ValidationError{Field: "traveler_details", Msg: err.Error(), Err: err}
	}
	n := sel.Travelers.Len()
	if sel.NumTravelers != 0 && sel.NumTravelers != n {
		return 0, 0, domain.InvalidTravelerCount(sel.NumTravelers, n)
	}
	return n, sel.Travelers.ChargeableCount(e.chargeableAge), nil
}

func (e *Engine) applicableRules(ctx context.Context, packageID int64, now time.Time) ([]*models.PricingRule, error) {
	if e.rules == nil {
		return nil, nil
	}
	candidates, err := e.rules.RulesForPackage(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing rules: %w", err)
	}

	applicable := make([]*models.PricingRule, 0, len(candidates))
	for _, r := range candidates {
		if r.AppliesTo(packageID, now) {
			applicable = append(applicable, r)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].ActiveFrom.Equal(applicable[j].ActiveFrom) {
			return applicable[i].ID < applicable[j].ID
		}
		return applicable[i].ActiveFrom.Before(applicable[j].ActiveFrom)
	})
	return applicable, nil
}

// UniqueAddOns drops repeated ids, keeping first occurrence order.
func UniqueAddOns(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nightsBetween(start, end *time.Time) (int, error) {
	switch {
	case start == nil && end == nil:
		return 0, nil
	case start == nil || end == nil:
		return 0, domain.ValidationError{Field: "date_range", Msg: "both start and end are required"}
	case end.Before(*start):
		return 0, domain.ValidationError{Field: "date_range", Msg: "end is before start"}
	}
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	en := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(en.Sub(s).Hours() / 24), nil
}
