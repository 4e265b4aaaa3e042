package store

import (
	"context"
	"fmt"
	"time"
)

// AppendCall writes a finished call to the call log.
func (db *DB) AppendCall(ctx context.Context, c CallEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO call_log (call_id, peer, direction, media, outcome, duration, started_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallID, c.Peer, c.Direction, c.Media, c.Outcome, c.Duration,
		c.StartedAt.UnixMilli(), millis(c.ConnectedAt), c.EndedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append call: %w", err)
	}
	return nil
}

// ListCalls returns the most recent calls, optionally for one peer.
func (db *DB) ListCalls(ctx context.Context, peer string, limit int) ([]CallEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, call_id, peer, direction, media, outcome, duration, started_at, connected_at, ended_at
		FROM call_log
		WHERE ? = '' OR peer = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, peer, peer, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var calls []CallEntry
	for rows.Next() {
		var c CallEntry
		var started, connected, ended int64
		if err := rows.Scan(&c.ID, &c.CallID, &c.Peer, &c.Direction, &c.Media, &c.Outcome,
			&c.Duration, &started, &connected, &ended); err != nil {
			return nil, err
		}
		c.StartedAt = time.UnixMilli(started)
		if connected > 0 {
			c.ConnectedAt = time.UnixMilli(connected)
		}
		c.EndedAt = time.UnixMilli(ended)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
