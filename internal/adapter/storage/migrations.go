package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// Migration holds the statements for one schema version, per dialect.
type Migration struct {
	Version string
	MySQL   []string
	SQLite  []string
}

func (m Migration) statements(d Dialect) []string {
	if d == DialectMySQL {
		return m.MySQL
	}
	return m.SQLite
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		MySQL: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id CHAR(36) PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL,
				price DECIMAL(12, 2) NOT NULL DEFAULT 0,
				stock INT NOT NULL DEFAULT 0,
				image_url VARCHAR(1024) NOT NULL DEFAULT '',
				seller_id CHAR(36) NOT NULL,
				version INT NOT NULL DEFAULT 0,
				created_at DATETIME(6) NOT NULL,
				CONSTRAINT chk_products_stock CHECK (stock >= 0)
			) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS orders (
				id CHAR(36) PRIMARY KEY,
				buyer_id CHAR(36) NOT NULL,
				status VARCHAR(16) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				INDEX idx_orders_buyer (buyer_id),
				INDEX idx_orders_status (status)
			) ENGINE=InnoDB`,
			`CREATE TABLE IF NOT EXISTS order_items (
				id CHAR(36) PRIMARY KEY,
				order_id CHAR(36) NOT NULL,
				product_id CHAR(36) NOT NULL,
				quantity INT NOT NULL,
				position INT NOT NULL,
				INDEX idx_order_items_order (order_id),
				CONSTRAINT fk_order_items_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
				CONSTRAINT fk_order_items_product FOREIGN KEY (product_id) REFERENCES products(id),
				CONSTRAINT chk_order_items_quantity CHECK (quantity > 0)
			) ENGINE=InnoDB`,
		},
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL,
				price TEXT NOT NULL DEFAULT '0',
				stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
				image_url TEXT NOT NULL DEFAULT '',
				seller_id TEXT NOT NULL,
				version INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				id TEXT PRIMARY KEY,
				buyer_id TEXT NOT NULL,
				status TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
			`CREATE TABLE IF NOT EXISTS order_items (
				id TEXT PRIMARY KEY,
				order_id TEXT NOT NULL,
				product_id TEXT NOT NULL,
				quantity INTEGER NOT NULL CHECK (quantity > 0),
				position INTEGER NOT NULL,
				FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE,
				FOREIGN KEY (product_id) REFERENCES products(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,
		},
	},
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version VARCHAR(32) PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !currentVersion.LessThan(migrationVersion) {
			continue
		}

		for _, stmt := range migration.statements(dialect) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
			}
		}

		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		currentVersion = migrationVersion
	}

	return nil
}

func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan schema_version: %w", err)
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}
