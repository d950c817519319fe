package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetSyncState records a per-session checkpoint value.
func (q *Queries) SetSyncState(ctx context.Context, session, key, value string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_state (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		session, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set sync state %s: %w", key, err)
	}
	return nil
}

// SyncState returns a checkpoint value, or "" when it was never recorded.
func (q *Queries) SyncState(ctx context.Context, session, key string) (string, error) {
	var value string
	err := q.q.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE session_id = ? AND key = ?`, session, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
