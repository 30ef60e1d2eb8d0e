package database

import (
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_add_ons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		name TEXT NOT NULL,
		base_price TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS package_tiers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		name TEXT NOT NULL,
		price_multiplier TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transport_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		name TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		base_price TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pricing_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		magnitude TEXT NOT NULL,
		is_percentage BOOLEAN NOT NULL DEFAULT 0,
		package_id INTEGER REFERENCES packages(id),
		active_from DATETIME NOT NULL,
		active_to DATETIME,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		guest_token TEXT,
		owner_key TEXT NOT NULL,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		add_on_ids TEXT NOT NULL DEFAULT '[]',
		tier_id INTEGER NOT NULL DEFAULT 0,
		transport_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		total_price TEXT NOT NULL,
		total_amount_paid TEXT NOT NULL,
		num_travelers INTEGER NOT NULL,
		traveler_details TEXT NOT NULL DEFAULT '',
		travel_start DATETIME,
		travel_end DATETIME,
		room_count INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT,
		expires_at DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (owner_key, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id),
		order_id TEXT NOT NULL UNIQUE,
		payment_id TEXT,
		signature TEXT,
		amount_minor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_add_ons_package ON package_add_ons(package_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tiers_package ON package_tiers(package_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transports_package ON transport_options(package_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_package ON pricing_rules(package_id, is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings(owner_key, status)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings(created_at)`,
}

func migrate(db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
