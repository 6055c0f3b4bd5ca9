package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Open-WP-Club/plugin-hub/internal/database"
)

// SQLite stores values in the options table created by the database migrations
type SQLite struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLite wraps an opened and migrated database
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM options WHERE name = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read option %s: %w", key, err)
	}

	if expiresAt.Valid && s.now().Unix() >= expiresAt.Int64 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM options WHERE name = ? AND expires_at = ?`, key, expiresAt.Int64,
		); err != nil {
			return nil, fmt.Errorf("failed to expire option %s: %w", key, err)
		}
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO options (name, value, expires_at, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write option %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM options WHERE name = ?`, key); err != nil {
		return fmt.Errorf("failed to delete option %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM options WHERE substr(name, 1, ?) = ?`, len(prefix), prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete options with prefix %s: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PurgeExpired removes every expired row
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM options WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired options: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
