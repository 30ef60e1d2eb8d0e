package models

import "github.com/shopspring/decimal"

// RuleAdjustment records what one pricing rule did to the running total.
type RuleAdjustment struct {
	RuleID       int64           `json:"rule_id"`
	Name         string          `json:"name"`
	Kind         RuleKind        `json:"kind"`
	Magnitude    decimal.Decimal `json:"magnitude"`
	IsPercentage bool            `json:"is_percentage"`
	Delta        decimal.Decimal `json:"delta"`
	RunningTotal decimal.Decimal `json:"running_total"`
}

// Breakdown is the full, auditable result of pricing a selection.
type Breakdown struct {
	PackageID       int64            `json:"package_id"`
	BasePrice       decimal.Decimal  `json:"base_price"`
	TransportPrice  decimal.Decimal  `json:"transport_price"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	TierMultiplier  decimal.Decimal  `json:"tier_multiplier"`
	TierAdjusted    decimal.Decimal  `json:"tier_adjusted"`
	Adjustments     []RuleAdjustment `json:"adjustments"`
	PerPersonTotal  decimal.Decimal  `json:"per_person_total"`
	NumTravelers    int              `json:"num_travelers"`
	ChargeableCount int              `json:"chargeable_count"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	Nights          int              `json:"nights"`
	RoomCount       int              `json:"room_count"`
}
