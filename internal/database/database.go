// Package database is the plugin hub's SQLite file. It holds the option
// table behind kvstore.SQLite and the action audit log, and backs the
// /health database check.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the hub database handle
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
}

// Config holds database configuration. Zero pool settings fall back to
// DefaultConfig.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig places pluginhub.db in dataDir. Option reads and audit
// writes are short, so a small pool is enough even under bulk runs.
func DefaultConfig(dataDir string) *Config {
	return &Config{
		Path:            filepath.Join(dataDir, "pluginhub.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(filepath.Dir(c.Path))
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return c
}

// dsn enables WAL so the API and CLI can share the file, and waits on
// locks held by the other process instead of failing.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON&_cache_size=-4000", path)
}

// Open creates the parent directory if needed and opens the database. Run
// NewMigrator(db).Run before using the option or action tables.
func Open(cfg *Config) (*DB, error) {
	c := cfg.withDefaults()
	logger := slog.Default().With("component", "database")

	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(c.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug("Database opened", "path", c.Path, "max_open_conns", c.MaxOpenConns)
	return &DB{DB: db, path: c.Path, logger: logger}, nil
}

func (db *DB) Close() error {
	db.logger.Debug("Closing database")
	return db.DB.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Health is the /health database check
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Transaction runs fn in a transaction, rolling back when fn fails
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Checkpoint folds the WAL back into the main file. serve calls it on
// shutdown so the CLI sees a compact database.
func (db *DB) Checkpoint(ctx context.Context) error {
	_, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
