// Package sqlite is the SQLite persistence of users, treatments, bookings,
// subscriptions and gift vouchers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"spabook/internal/models"
)

// DB is the database connection. It implements the store interfaces of the
// service packages.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

// NewDB opens the database at path, creating the directory and tables when
// they don't exist.
func NewDB(path string, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger.With().Str("component", "sqlite").Logger()}
	if err := instance.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	instance.logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

// Path is the database file location.
func (db *DB) Path() string { return db.path }

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			language TEXT NOT NULL DEFAULT '',
			notification_methods TEXT NOT NULL DEFAULT '[]',
			roles TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS treatments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			pricing_type TEXT NOT NULL DEFAULT 'fixed',
			price REAL NOT NULL DEFAULT 0,
			durations TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscription_plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			bonus_quantity INTEGER NOT NULL DEFAULT 0,
			validity_months INTEGER NOT NULL,
			discount_percent REAL NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			booking_number TEXT UNIQUE NOT NULL,
			user_id TEXT NOT NULL,
			treatment_id TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			professional_id TEXT NOT NULL DEFAULT '',
			starts_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			price REAL NOT NULL,
			final_amount REAL NOT NULL,
			for_someone_else BOOLEAN NOT NULL DEFAULT 0,
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_email TEXT NOT NULL DEFAULT '',
			recipient_phone TEXT NOT NULL DEFAULT '',
			subscription_id TEXT NOT NULL DEFAULT '',
			gift_voucher_id TEXT NOT NULL DEFAULT '',
			voucher_amount_applied REAL NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			reminder_sent BOOLEAN NOT NULL DEFAULT 0,
			completed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS user_subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			plan_id TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			treatment_id TEXT NOT NULL,
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			total_quantity INTEGER NOT NULL,
			remaining_quantity INTEGER NOT NULL,
			price_per_session REAL NOT NULL,
			total_price REAL NOT NULL,
			status TEXT NOT NULL,
			payment_method_id TEXT NOT NULL DEFAULT '',
			guest TEXT NOT NULL DEFAULT '',
			purchased_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gift_vouchers (
			id TEXT PRIMARY KEY,
			code TEXT UNIQUE NOT NULL,
			voucher_type TEXT NOT NULL,
			treatment_id TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL DEFAULT 0,
			amount REAL NOT NULL,
			remaining_amount REAL NOT NULL,
			purchaser_user_id TEXT NOT NULL DEFAULT '',
			owner_user_id TEXT NOT NULL DEFAULT '',
			is_gift BOOLEAN NOT NULL DEFAULT 0,
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_email TEXT NOT NULL DEFAULT '',
			recipient_phone TEXT NOT NULL DEFAULT '',
			greeting_message TEXT NOT NULL DEFAULT '',
			guest TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			valid_from DATETIME NOT NULL,
			valid_until DATETIME NOT NULL,
			purchased_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_reminder ON bookings(status, reminder_sent, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_subscriptions_user ON user_subscriptions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gift_vouchers_purchaser ON gift_vouchers(purchaser_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_gift_vouchers_owner ON gift_vouchers(owner_user_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Times are stored in UTC so range queries compare correctly.
func utc(t time.Time) time.Time { return t.UTC() }

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeGuest(g *models.GuestInfo) (string, error) {
	if g.IsZero() {
		return "", nil
	}
	return encodeJSON(g)
}

func decodeGuest(raw string) (*models.GuestInfo, error) {
	if raw == "" {
		return nil, nil
	}
	var g models.GuestInfo
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("decode guest: %w", err)
	}
	return &g, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
