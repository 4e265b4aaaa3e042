package model

import "time"

// Participant is a member of a conversation.
type Participant struct {
	UserID string `json:"userId" validate:"required"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Conversation is a direct or group chat.
type Conversation struct {
	ID           string        `json:"id" validate:"required"`
	IsGroup      bool          `json:"isGroup"`
	Name         string        `json:"name,omitempty"`
	Avatar       string        `json:"avatar,omitempty"`
	Participants []Participant `json:"participants,omitempty" validate:"dive"`
	Blocked      bool          `json:"blocked,omitempty"`
	BlockedBy    bool          `json:"blockedBy,omitempty"`
	Left         bool          `json:"left,omitempty"`
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	if c.Participants != nil {
		c.Participants = append([]Participant(nil), c.Participants...)
	}
	return c
}

// Peer returns the other participant of a direct conversation.
func (c Conversation) Peer(self string) (Participant, bool) {
	if c.IsGroup {
		return Participant{}, false
	}
	for _, p := range c.Participants {
		if p.UserID != self {
			return p, true
		}
	}
	return Participant{}, false
}

// User is a profile as broadcast by profile-updated.
type User struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Summary is the last-message digest shown on a preview row.
type Summary struct {
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SummaryOf derives a preview summary from a message.
func SummaryOf(m Message) *Summary {
	return &Summary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Type:      m.Type,
		Content:   m.Content,
		Status:    m.Status,
		Deleted:   m.Deleted,
		CreatedAt: m.CreatedAt,
	}
}

// Preview is the contact-list row for a conversation. It is derived from
// the message cache and never treated as a source of truth for messages.
type Preview struct {
	ConversationID string   `json:"conversationId"`
	Title          string   `json:"title,omitempty"`
	Avatar         string   `json:"avatar,omitempty"`
	LastMessage    *Summary `json:"lastMessage,omitempty"`
	UnreadCount    int      `json:"unreadCount"`
	Pinned         bool     `json:"pinned,omitempty"`
	Muted          bool     `json:"muted,omitempty"`
	Archived       bool     `json:"archived,omitempty"`
}

// Clone returns a deep copy of the preview.
func (p Preview) Clone() Preview {
	if p.LastMessage != nil {
		s := *p.LastMessage
		p.LastMessage = &s
	}
	return p
}
