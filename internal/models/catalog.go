package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package is a sellable travel package together with its priced catalog.
type Package struct {
	ID          int64             `json:"id"`
	Slug        string            `json:"slug"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsActive    bool              `json:"is_active"`
	AddOns      []AddOn           `json:"add_ons"`
	Tiers       []Tier            `json:"tiers"`
	Transports  []TransportOption `json:"transports"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type AddOn struct {
	ID        int64           `json:"id"`
	PackageID int64           `json:"package_id"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"base_price"`
	IsActive  bool            `json:"is_active"`
}

type Tier struct {
	ID              int64           `json:"id"`
	PackageID       int64           `json:"package_id"`
	Name            string          `json:"name"`
	PriceMultiplier decimal.Decimal `json:"price_multiplier"`
}

type TransportOption struct {
	ID        int64           `json:"id"`
	PackageID int64           `json:"package_id"`
	Name      string          `json:"name"`
	Mode      string          `json:"mode"`
	BasePrice decimal.Decimal `json:"base_price"`
}

// FindAddOn returns the add-on only if it is active and belongs to this package.
func (p *Package) FindAddOn(id int64) (AddOn, bool) {
	for _, a := range p.AddOns {
		if a.ID == id && a.PackageID == p.ID && a.IsActive {
			return a, true
		}
	}
	return AddOn{}, false
}

func (p *Package) FindTier(id int64) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.ID == id && t.PackageID == p.ID {
			return t, true
		}
	}
	return Tier{}, false
}

func (p *Package) FindTransport(id int64) (TransportOption, bool) {
	for _, t := range p.Transports {
		if t.ID == id && t.PackageID == p.ID {
			return t, true
		}
	}
	return TransportOption{}, false
}

func (p *Package) HasAddOn(id int64) bool {
	_, ok := p.FindAddOn(id)
	return ok
}

func (p *Package) HasTier(id int64) bool {
	_, ok := p.FindTier(id)
	return ok
}

func (p *Package) HasTransport(id int64) bool {
	_, ok := p.FindTransport(id)
	return ok
}
