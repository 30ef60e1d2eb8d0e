package database

import (
	"context"
	"database/sql"
	"fmt"

	"safarbook/internal/models"
)

const ruleColumns = `id, name, kind, magnitude, is_percentage, package_id, active_from, active_to,
	is_active, created_at, updated_at`

func scanRule(row rowScanner) (*models.PricingRule, error) {
	var (
		r         models.PricingRule
		kind      string
		packageID sql.NullInt64
		activeTo  sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Name, &kind, &r.Magnitude, &r.IsPercentage, &packageID,
		&r.ActiveFrom, &activeTo, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Kind, err = models.ParseRuleKind(kind); err != nil {
		return nil, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	if packageID.Valid {
		id := packageID.Int64
		r.PackageID = &id
	}
	r.ActiveFrom = r.ActiveFrom.UTC()
	r.ActiveTo = timePtr(activeTo)
	return &r, nil
}

func (db *DB) CreateRule(ctx context.Context, r *models.PricingRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := db.clock()
	res, err := db.ExecContext(ctx,
		`INSERT INTO pricing_rules (name, kind, magnitude, is_percentage, package_id, active_from, active_to, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, string(r.Kind), r.Magnitude.String(), r.IsPercentage, nullUserID(r.PackageID),
		r.ActiveFrom.UTC(), nullTime(r.ActiveTo), r.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("failed to create pricing rule: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (db *DB) GetRule(ctx context.Context, id int64) (*models.PricingRule, error) {
	r, err := scanRule(db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM pricing_rules WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("pricing rule", err)
	}
	return r, nil
}

func (db *DB) ListRules(ctx context.Context) ([]*models.PricingRule, error) {
	return db.listRules(ctx, `SELECT `+ruleColumns+` FROM pricing_rules ORDER BY active_from ASC, id ASC`)
}

// ListRulesForPackage returns active global rules plus those targeting packageID,
// ordered by active_from with id as tie-breaker.
func (db *DB) ListRulesForPackage(ctx context.Context, packageID int64) ([]*models.PricingRule, error) {
	return db.listRules(ctx,
		`SELECT `+ruleColumns+` FROM pricing_rules
		 WHERE is_active = 1 AND (package_id IS NULL OR package_id = ?)
		 ORDER BY active_from ASC, id ASC`, packageID)
}

func (db *DB) SetRuleActive(ctx context.Context, id int64, active bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE pricing_rules SET is_active = ?, updated_at = ? WHERE id = ?`, active, db.clock(), id)
	if err != nil {
		return fmt.Errorf("failed to update pricing rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return notFound("pricing rule", sql.ErrNoRows)
	}
	return nil
}

func (db *DB) listRules(ctx context.Context, query string, args ...interface{}) ([]*models.PricingRule, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.PricingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pricing rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
