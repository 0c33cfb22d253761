package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		unit TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS sale_headers (
		id TEXT PRIMARY KEY,
		buyer TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		total_base_cents BIGINT NOT NULL,
		total_donation_cents BIGINT NOT NULL,
		grand_total_cents BIGINT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		ledger_ref TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_headers_date ON sale_headers (sale_date)`,
	`CREATE TABLE IF NOT EXISTS sale_line_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sale_headers (id),
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		base_price_cents BIGINT NOT NULL CHECK (base_price_cents >= 0),
		donation_cents BIGINT NOT NULL CHECK (donation_cents >= 0),
		subtotal_cents BIGINT NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_line_items_sale ON sale_line_items (sale_id)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sale_headers (id),
		sale_line_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('out', 'in')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		ledger_ref TEXT,
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_sale ON stock_movements (sale_id)`,
	`CREATE TABLE IF NOT EXISTS legacy_sales (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price {{decimal}} NOT NULL,
		base_price {{decimal}},
		donation {{decimal}},
		buyer TEXT NOT NULL DEFAULT '',
		sale_date TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		ledger_reference TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
		entry_date TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sale_ref TEXT,
		reference TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_sale_ref ON ledger_entries (sale_ref)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries (reference)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		actor_username TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at {{timestamp}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		created_at {{timestamp}} NOT NULL,
		updated_at {{timestamp}} NOT NULL
	)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	types := strings.NewReplacer(
		"{{timestamp}}", "TIMESTAMPTZ",
		"{{decimal}}", "NUMERIC(14,2)",
	)
	if s.db.DriverName() == DriverSQLite {
		types = strings.NewReplacer(
			"{{timestamp}}", "TIMESTAMP",
			"{{decimal}}", "TEXT",
		)
	}

	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, types.Replace(stmt)); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
