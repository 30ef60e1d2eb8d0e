package database

import (
	"context"
	"fmt"

	"safarbook/internal/domain"
	"safarbook/internal/models"

	"github.com/gosimple/slug"
)

// CreatePackage inserts a package with its add-ons, tiers and transport options
// in one transaction. An empty slug is derived from the name.
func (db *DB) CreatePackage(ctx context.Context, p *models.Package) error {
	if p.Name == "" {
		return domain.ValidationError{Field: "name", Msg: "package name is required"}
	}
	if p.Slug == "" {
		p.Slug = slug.Make(p.Name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := db.clock()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO packages (slug, name, description, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Slug, p.Name, p.Description, p.IsActive, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("package %q: %w", p.Slug, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create package: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now

	for i := range p.AddOns {
		a := &p.AddOns[i]
		a.PackageID = p.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO package_add_ons (package_id, name, base_price, is_active) VALUES (?, ?, ?, ?)`,
			p.ID, a.Name, a.BasePrice.String(), a.IsActive)
		if err != nil {
			return fmt.Errorf("failed to create add-on %q: %w", a.Name, err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	for i := range p.Tiers {
		t := &p.Tiers[i]
		t.PackageID = p.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO package_tiers (package_id, name, price_multiplier) VALUES (?, ?, ?)`,
			p.ID, t.Name, t.PriceMultiplier.String())
		if err != nil {
			return fmt.Errorf("failed to create tier %q: %w", t.Name, err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	for i := range p.Transports {
		t := &p.Transports[i]
		t.PackageID = p.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO transport_options (package_id, name, mode, base_price) VALUES (?, ?, ?, ?)`,
			p.ID, t.Name, t.Mode, t.BasePrice.String())
		if err != nil {
			return fmt.Errorf("failed to create transport %q: %w", t.Name, err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, slug, name, description, is_active, created_at, updated_at FROM packages WHERE id = ?`, id)
	return db.loadPackage(ctx, row)
}

func (db *DB) GetPackageBySlug(ctx context.Context, s string) (*models.Package, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, slug, name, description, is_active, created_at, updated_at FROM packages WHERE slug = ?`, s)
	return db.loadPackage(ctx, row)
}

func (db *DB) ListPackages(ctx context.Context) ([]*models.Package, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM packages WHERE is_active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan package id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate packages: %w", err)
	}

	packages := make([]*models.Package, 0, len(ids))
	for _, id := range ids {
		p, err := db.GetPackage(ctx, id)
		if err != nil {
			return nil, err
		}
		packages = append(packages, p)
	}
	return packages, nil
}

func (db *DB) loadPackage(ctx context.Context, row rowScanner) (*models.Package, error) {
	var p models.Package
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound("package", err)
	}

	addOns, err := db.QueryContext(ctx,
		`SELECT id, package_id, name, base_price, is_active FROM package_add_ons WHERE package_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load add-ons: %w", err)
	}
	for addOns.Next() {
		var a models.AddOn
		if err := addOns.Scan(&a.ID, &a.PackageID, &a.Name, &a.BasePrice, &a.IsActive); err != nil {
			addOns.Close()
			return nil, fmt.Errorf("failed to scan add-on: %w", err)
		}
		p.AddOns = append(p.AddOns, a)
	}
	addOns.Close()

	tiers, err := db.QueryContext(ctx,
		`SELECT id, package_id, name, price_multiplier FROM package_tiers WHERE package_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers: %w", err)
	}
	for tiers.Next() {
		var t models.Tier
		if err := tiers.Scan(&t.ID, &t.PackageID, &t.Name, &t.PriceMultiplier); err != nil {
			tiers.Close()
			return nil, fmt.Errorf("failed to scan tier: %w", err)
		}
		p.Tiers = append(p.Tiers, t)
	}
	tiers.Close()

	transports, err := db.QueryContext(ctx,
		`SELECT id, package_id, name, mode, base_price FROM transport_options WHERE package_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transport options: %w", err)
	}
	for transports.Next() {
		var t models.TransportOption
		if err := transports.Scan(&t.ID, &t.PackageID, &t.Name, &t.Mode, &t.BasePrice); err != nil {
			transports.Close()
			return nil, fmt.Errorf("failed to scan transport option: %w", err)
		}
		p.Transports = append(p.Transports, t)
	}
	transports.Close()

	return &p, nil
}
