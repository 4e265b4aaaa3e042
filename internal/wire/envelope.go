package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is an outbound frame. Call envelopes are addressed to user ids,
// never to conversations.
type Envelope struct {
	Event Kind `json:"event"`
	Data  any  `json:"data,omitempty"`
}

// Encode serializes the envelope for the socket.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Event, err)
	}
	return b, nil
}

type Presence struct {
	UserID string `json:"userId"`
	Since  int64  `json:"since,omitempty"`
}

type CallUser struct {
	To       string `json:"to"`
	CallType string `json:"callType"`
}

type SDPSignal struct {
	To          string             `json:"to"`
	Description SessionDescription `json:"description"`
}

type CandidateSignal struct {
	To        string       `json:"to"`
	Candidate ICECandidate `json:"candidate"`
}

type MediaStateSignal struct {
	To        string `json:"to"`
	Muted     bool   `json:"muted"`
	CameraOff bool   `json:"cameraOff"`
}

type AcceptCall struct {
	To     string `json:"to"`
	CallID string `json:"callId,omitempty"`
}

type RejectCall struct {
	To     string `json:"to"`
	CallID string `json:"callId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EndCall carries the client-computed duration in seconds.
type EndCall struct {
	To       string `json:"to"`
	CallID   string `json:"callId,omitempty"`
	Duration int    `json:"duration"`
}

type Receipt struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

type SendMessage struct {
	TempID         string `json:"tempId"`
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	Content        string `json:"content"`
}

// React sets or clears (empty Emoji) the caller's reaction.
type React struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

type Star struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Starred        bool   `json:"starred"`
}

type Delete struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ForEveryone    bool   `json:"forEveryone"`
}

type Edit struct {
	RequestID      string `json:"requestId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
}
