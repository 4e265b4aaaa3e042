package model

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// DeletedContent replaces the body of a message deleted for everyone.
const DeletedContent = "This message was deleted"

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Advance merges a status transition into the current status. Confirmed
// statuses only move forward; error is sticky only until a confirmed
// status arrives.
func (s Status) Advance(next Status) Status {
	if next == StatusError {
		if s == StatusPending || s == StatusError || s == "" {
			return StatusError
		}
		return s
	}
	if s == StatusError || next.rank() > s.rank() {
		return next
	}
	return s
}

// Reaction is one user's emoji on a message. A user holds at most one.
type Reaction struct {
	UserID string `json:"userId" validate:"required"`
	Emoji  string `json:"emoji" validate:"required"`
}

// Message is a chat message as held in the client cache.
type Message struct {
	ID             string     `json:"id" validate:"required"`
	TempID         string     `json:"tempId,omitempty"`
	ConversationID string     `json:"conversationId" validate:"required"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName,omitempty"`
	SenderAvatar   string     `json:"senderAvatar,omitempty"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	Status         Status     `json:"status"`
	Edited         bool       `json:"edited,omitempty"`
	Deleted        bool       `json:"deleted,omitempty"`
	Forwarded      bool       `json:"forwarded,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	StarredBy      []string   `json:"starredBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.StarredBy != nil {
		m.StarredBy = append([]string(nil), m.StarredBy...)
	}
	return m
}

// IsTemporary reports whether the message still carries a client-generated id.
func (m Message) IsTemporary() bool {
	return m.TempID != "" && m.ID == m.TempID
}
