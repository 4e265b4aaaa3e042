package store

import "time"

// Outbox entry statuses.
const (
	OutboxQueued    = "queued"
	OutboxSent      = "sent"
	OutboxConfirmed = "confirmed"
	OutboxFailed    = "failed"
)

// OutboxEntry is a queued outbound mutation. Payload is the JSON envelope
// data as it will be written to the socket.
type OutboxEntry struct {
	RequestID      string
	Kind           string
	ConversationID string
	TargetID       string
	Payload        []byte
	Status         string // queued, sent, confirmed, failed
	Attempts       int
	ErrorMessage   string
	CreatedAt      int64
	UpdatedAt      int64
	SentAt         int64
}

// CallEntry is one finished call session.
type CallEntry struct {
	ID          int64
	CallID      string
	Peer        string
	Direction   string
	Media       string
	Outcome     string
	Duration    int // seconds
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}
