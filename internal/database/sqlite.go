package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/radiusdt/vector-analytics/internal/config"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteSchema creates the fact tables when they are missing. Amounts are
// TEXT so decimal values survive without float rounding.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS customers (
	customer_id         TEXT PRIMARY KEY,
	registration_date   TEXT NOT NULL,
	acquisition_channel TEXT,
	customer_segment    TEXT
);
CREATE TABLE IF NOT EXISTS products (
	product_id   TEXT PRIMARY KEY,
	product_name TEXT NOT NULL,
	category     TEXT,
	price        TEXT,
	cost         TEXT
);
CREATE TABLE IF NOT EXISTS orders (
	order_id       TEXT PRIMARY KEY,
	customer_id    TEXT NOT NULL,
	order_date     TEXT NOT NULL,
	status         TEXT NOT NULL,
	payment_method TEXT,
	total_amount   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS order_items (
	order_id   TEXT NOT NULL,
	product_id TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	unit_price TEXT NOT NULL,
	PRIMARY KEY (order_id, product_id)
);
CREATE TABLE IF NOT EXISTS web_sessions (
	session_id               TEXT PRIMARY KEY,
	customer_id              TEXT,
	session_date             TEXT NOT NULL,
	traffic_source           TEXT,
	device_type              TEXT,
	converted_order_id       TEXT,
	session_duration_seconds INTEGER,
	page_views               INTEGER,
	bounced                  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_orders_date ON orders(order_date);
CREATE INDEX IF NOT EXISTS idx_sessions_date ON web_sessions(session_date);
`

// SQLiteDB wraps a modernc sqlite handle.
type SQLiteDB struct {
	DB     *sql.DB
	logger *zap.Logger
}

// NewSQLiteDB opens or creates the database file and ensures the schema.
func NewSQLiteDB(ctx context.Context, cfg config.SQLiteConfig, logger *zap.Logger) (*SQLiteDB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	logger.Info("opened SQLite database", zap.String("path", cfg.Path))

	return &SQLiteDB{DB: db, logger: logger}, nil
}

// Close closes the database handle.
func (db *SQLiteDB) Close() error {
	if db.DB == nil {
		return nil
	}
	db.logger.Info("SQLite database closed")
	return db.DB.Close()
}

// Health checks if the database file is usable.
func (db *SQLiteDB) Health(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}
