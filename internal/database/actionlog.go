package database

import (
	"context"
	"fmt"
	"time"
)

// ActionRecord is one row of the action audit trail
type ActionRecord struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Plugin    string    `json:"plugin,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordAction appends an entry to the action log
func (db *DB) RecordAction(ctx context.Context, rec ActionRecord) error {
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO action_log (action, plugin, actor, success, message) VALUES (?, ?, ?, ?, ?)`,
		rec.Action, rec.Plugin, rec.Actor, success, rec.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// RecentActions returns the newest entries first. An empty plugin matches all.
func (db *DB) RecentActions(ctx context.Context, plugin string, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, action, plugin, actor, success, message, created_at FROM action_log`
	args := []interface{}{}
	if plugin != "" {
		query += ` WHERE plugin = ?`
		args = append(args, plugin)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query action log: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var success int
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.Plugin, &rec.Actor, &success, &rec.Message, &created); err != nil {
			return nil, err
		}
		rec.Success = success == 1
		rec.CreatedAt = time.Unix(created, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}
