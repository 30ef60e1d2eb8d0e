package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RuleKind string

const (
	RuleMarkup   RuleKind = "MARKUP"
	RuleDiscount RuleKind = "DISCOUNT"
)

func ParseRuleKind(s string) (RuleKind, error) {
	switch RuleKind(s) {
	case RuleMarkup, RuleDiscount:
		return RuleKind(s), nil
	default:
		return "", fmt.Errorf("invalid rule kind: %s", s)
	}
}

// PricingRule is a time-bounded markup or discount. A nil PackageID makes it global.
type PricingRule struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Kind         RuleKind        `json:"kind"`
	Magnitude    decimal.Decimal `json:"magnitude"`
	IsPercentage bool            `json:"is_percentage"`
	PackageID    *int64          `json:"package_id,omitempty"`
	ActiveFrom   time.Time       `json:"active_from"`
	ActiveTo     *time.Time      `json:"active_to,omitempty"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AppliesTo reports whether the rule is applicable to packageID at now.
func (r *PricingRule) AppliesTo(packageID int64, now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.ActiveFrom.After(now) {
		return false
	}
	if r.ActiveTo != nil && r.ActiveTo.Before(now) {
		return false
	}
	return r.PackageID == nil || *r.PackageID == packageID
}

// Delta is the signed, rounded change this rule makes to the running total.
func (r *PricingRule) Delta(running decimal.Decimal) decimal.Decimal {
	amount := r.Magnitude
	if r.IsPercentage {
		amount = running.Mul(r.Magnitude).Div(decimal.NewFromInt(100))
	}
	amount = RoundMoney(amount)
	if r.Kind == RuleDiscount {
		return amount.Neg()
	}
	return amount
}

func (r *PricingRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if _, err := ParseRuleKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Magnitude.IsNegative() {
		return fmt.Errorf("rule magnitude must not be negative")
	}
	if r.ActiveFrom.IsZero() {
		return fmt.Errorf("rule active_from is required")
	}
	if r.ActiveTo != nil && r.ActiveTo.Before(r.ActiveFrom) {
		return fmt.Errorf("rule active_to is before active_from")
	}
	return nil
}
