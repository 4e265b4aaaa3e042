// Package view is the Local Reactive Store: the conversation currently open
// for rendering and its message list.
package view

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
)

// Change is published on view.changed.
type Change struct {
	ConversationID string
	Messages       int
	Closed         bool
}

// Store holds the open conversation. It never fetches; the cache engine
// pushes every change to it.
type Store struct {
	mu       sync.RWMutex
	openID   string
	messages []model.Message
	version  uint64
	bus      *bus.Bus
}

// New creates an empty store.
func New(b *bus.Bus) *Store {
	return &Store{bus: b}
}

// OpenID returns the id of the open conversation, or "".
func (s *Store) OpenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID
}

// Open replaces the open conversation.
func (s *Store) Open(convID string, msgs []model.Message) {
	s.mu.Lock()
	s.openID = convID
	s.messages = clone(msgs)
	s.version++
	n := len(s.messages)
	s.mu.Unlock()
	s.bus.Emit(bus.ViewChanged, Change{ConversationID: convID, Messages: n})
}

// Sync replaces the message list if convID is still the open conversation.
func (s *Store) Sync(convID string, msgs []model.Message) {
	s.mu.Lock()
	if s.openID == "" || s.openID != convID {
		s.mu.Unlock()
		return
	}
	s.messages = clone(msgs)
	s.version++
	n := len(s.messages)
	s.mu.Unlock()
	s.bus.Emit(bus.ViewChanged, Change{ConversationID: convID, Messages: n})
}

// Close clears the open conversation.
func (s *Store) Close() {
	s.mu.Lock()
	convID := s.openID
	s.openID = ""
	s.messages = nil
	s.version++
	s.mu.Unlock()
	if convID != "" {
		s.bus.Emit(bus.ViewChanged, Change{ConversationID: convID, Closed: true})
	}
}

// Messages returns a copy of the open conversation's messages.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.messages)
}

// Version increases on every change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func clone(msgs []model.Message) []model.Message {
	if msgs == nil {
		return nil
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
