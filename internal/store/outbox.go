package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const outboxColumns = `request_id, kind, conversation_id, target_id, payload, status, attempts, error_message, created_at, updated_at, sent_at`

// QueueOutbox adds a mutation to the outbox. Re-queueing an existing request
// id is a no-op.
func (db *DB) QueueOutbox(ctx context.Context, e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.Status = OutboxQueued
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (request_id, kind, conversation_id, target_id, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO NOTHING`,
		e.RequestID, e.Kind, e.ConversationID, e.TargetID, e.Payload, OutboxQueued, e.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("queue outbox %s: %w", e.RequestID, err)
	}
	return nil
}

// MarkOutboxSent records a write to the socket.
func (db *DB) MarkOutboxSent(ctx context.Context, requestID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', attempts = attempts + 1, sent_at = ?, updated_at = ?
		WHERE request_id = ? AND status = 'queued'`, now, now, requestID)
	return err
}

// MarkOutboxConfirmed records the server's confirmation. A failed entry can
// still be confirmed when the confirmation outlived the ack timeout.
func (db *DB) MarkOutboxConfirmed(ctx context.Context, requestID string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'confirmed', error_message = '', updated_at = ?
		WHERE request_id = ? AND status IN ('queued', 'sent', 'failed')`, now, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkOutboxFailed records a rejection or an ack timeout.
func (db *DB) MarkOutboxFailed(ctx context.Context, requestID, errMsg string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ?
		WHERE request_id = ? AND status IN ('queued', 'sent')`, errMsg, now, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RequeueOutbox moves a failed entry back to queued.
func (db *DB) RequeueOutbox(ctx context.Context, requestID string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = 'queued', error_message = '', sent_at = 0, updated_at = ?
		WHERE request_id = ? AND status = 'failed'`, now, requestID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOutbox returns a single entry.
func (db *DB) GetOutbox(ctx context.Context, requestID string) (*OutboxEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE request_id = ?`, requestID)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// OutboxByStatus returns entries in one of the given statuses, oldest first.
func (db *DB) OutboxByStatus(ctx context.Context, statuses ...string) ([]OutboxEntry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `) ORDER BY created_at ASC, rowid ASC`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ExpiredOutbox returns sent entries whose confirmation is overdue.
func (db *DB) ExpiredOutbox(ctx context.Context, sentBefore time.Time) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox
		WHERE status = 'sent' AND sent_at < ? ORDER BY sent_at ASC`, sentBefore.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// RestartAckClock moves the send time of every entry awaiting confirmation
// to at.
func (db *DB) RestartAckClock(ctx context.Context, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE outbox SET sent_at = ?, updated_at = ? WHERE status = 'sent'`,
		at.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountOutbox returns how many entries await sending or confirmation.
func (db *DB) CountOutbox(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE status IN ('queued', 'sent')`).Scan(&n)
	return n, err
}

// PruneOutbox deletes confirmed entries last touched before cutoff.
func (db *DB) PruneOutbox(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM outbox WHERE status = 'confirmed' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutbox(s scanner) (*OutboxEntry, error) {
	var e OutboxEntry
	if err := s.Scan(&e.RequestID, &e.Kind, &e.ConversationID, &e.TargetID, &e.Payload,
		&e.Status, &e.Attempts, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.SentAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for range n {
		s += ", ?"
	}
	return s
}
