package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"safarbook/internal/domain"
	"safarbook/internal/models"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// CatalogSeed is the layout of catalog.yaml.
type CatalogSeed struct {
	Packages []PackageSeed `yaml:"packages"`
}

type PackageSeed struct {
	Name        string          `yaml:"name"`
	Slug        string          `yaml:"slug"`
	Description string          `yaml:"description"`
	Inactive    bool            `yaml:"inactive"`
	AddOns      []PricedSeed    `yaml:"add_ons"`
	Tiers       []TierSeed      `yaml:"tiers"`
	Transports  []TransportSeed `yaml:"transports"`
}

type PricedSeed struct {
	Name      string `yaml:"name"`
	BasePrice string `yaml:"base_price"`
}

type TierSeed struct {
	Name       string `yaml:"name"`
	Multiplier string `yaml:"price_multiplier"`
}

type TransportSeed struct {
	Name      string `yaml:"name"`
	Mode      string `yaml:"mode"`
	BasePrice string `yaml:"base_price"`
}

func LoadCatalogSeed(path string) (*CatalogSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed: %w", err)
	}
	var seed CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog seed: %w", err)
	}
	return &seed, nil
}

// ToPackage converts the seed entry into a catalog package.
func (s PackageSeed) ToPackage() (*models.Package, error) {
	p := &models.Package{
		Name:        s.Name,
		Slug:        s.Slug,
		Description: s.Description,
		IsActive:    !s.Inactive,
	}
	if p.Slug == "" {
		p.Slug = slug.Make(s.Name)
	}

	for _, a := range s.AddOns {
		price, err := parseAmount(a.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("package %s add-on %q: %w", p.Slug, a.Name, err)
		}
		p.AddOns = append(p.AddOns, models.AddOn{Name: a.Name, BasePrice: price, IsActive: true})
	}
	for _, t := range s.Tiers {
		m, err := decimal.NewFromString(t.Multiplier)
		if err != nil || !m.IsPositive() {
			return nil, fmt.Errorf("package %s tier %q: invalid multiplier %q", p.Slug, t.Name, t.Multiplier)
		}
		p.Tiers = append(p.Tiers, models.Tier{Name: t.Name, PriceMultiplier: m})
	}
	for _, t := range s.Transports {
		price, err := parseAmount(t.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("package %s transport %q: %w", p.Slug, t.Name, err)
		}
		p.Transports = append(p.Transports, models.TransportOption{Name: t.Name, Mode: t.Mode, BasePrice: price})
	}
	return p, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	return models.RoundMoney(d), nil
}

// SeedCatalog inserts every seeded package whose slug is not yet present.
// It returns the number of packages created.
func (db *DB) SeedCatalog(ctx context.Context, seed *CatalogSeed) (int, error) {
	created := 0
	for _, ps := range seed.Packages {
		p, err := ps.ToPackage()
		if err != nil {
			return created, err
		}

		_, err = db.GetPackageBySlug(ctx, p.Slug)
		if err == nil {
			db.logger.Debug().Str("slug", p.Slug).Msg("Catalog package already present")
			continue
		}
		if !domain.IsNotFound(err) {
			return created, err
		}

		if err := db.CreatePackage(ctx, p); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return created, err
		}
		created++
		db.logger.Info().Str("slug", p.Slug).Int64("package_id", p.ID).Msg("Catalog package seeded")
	}
	return created, nil
}
