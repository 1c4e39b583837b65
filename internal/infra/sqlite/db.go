// Package sqlite implements the durable ledger store on SQLite.
// It holds student balances, interview attempts, and the append-only
// credit transaction log, and provides the atomic debit unit of work.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls store behavior.
type Config struct {
	// TxTimeout bounds total transaction duration: lock wait plus write work.
	TxTimeout time.Duration
	// TxMaxWait bounds how long a writer waits for the database write lock
	// (SQLite busy_timeout). Exceeding it surfaces as a transaction failure.
	TxMaxWait time.Duration
}

// DefaultConfig returns production store defaults.
func DefaultConfig() Config {
	return Config{
		TxTimeout: 10 * time.Second,
		TxMaxWait: 5 * time.Second,
	}
}

// DB wraps the SQLite handle for the billing ledger.
type DB struct {
	db  *sql.DB
	cfg Config
}

// Open opens (creating if needed) the ledger database at path and applies
// migrations. WAL mode keeps readers unblocked while the single writer
// serializes debit transactions.
func Open(path string, cfg Config) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, cfg.TxMaxWait.Milliseconds(),
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{db: sqlDB, cfg: cfg}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// OpenMemory opens a fresh in-memory ledger database. Test use.
func OpenMemory(cfg Config) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// A single connection keeps every statement on the same in-memory DB.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB, cfg: cfg}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// Ping verifies database connectivity.
func (db *DB) Ping() error { return db.db.Ping() }

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the billing schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Credit balance holders
		`CREATE TABLE IF NOT EXISTS students (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL DEFAULT '',
			credit_balance INTEGER NOT NULL DEFAULT 0,
			is_admin       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// One row per metered practice session instance
		`CREATE TABLE IF NOT EXISTS interview_attempts (
			id                TEXT PRIMARY KEY,
			student_id        TEXT NOT NULL REFERENCES students(id),
			correlation_token TEXT NOT NULL UNIQUE,
			simulation_name   TEXT NOT NULL DEFAULT '',
			minutes_billed    INTEGER NOT NULL DEFAULT 0,
			duration_seconds  INTEGER NOT NULL DEFAULT 0,
			started_at        TEXT NOT NULL DEFAULT (datetime('now')),
			ended_at          TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempt_student ON interview_attempts(student_id)`,

		// Append-only debit ledger; rows are never updated or deleted
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id            TEXT PRIMARY KEY,
			student_id    TEXT NOT NULL REFERENCES students(id),
			type          TEXT NOT NULL,
			amount        INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			source_type   TEXT NOT NULL,
			source_id     TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_student ON credit_transactions(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_source ON credit_transactions(source_id)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
