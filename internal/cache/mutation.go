package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

var (
	ErrEmptyContent = errors.New("cache: message content is empty")
	ErrNotAllowed   = errors.New("cache: operation not allowed on this message")
	ErrNotRetryable = errors.New("cache: message has not failed")
)

// Every optimistic mutation below is applied to the cache immediately and
// paired with a Rollback that restores only the fields it touched. The
// rollback runs when the server rejects the request or it times out.

// Send inserts a pending message with a fresh temporary id and queues it.
// If it cannot be queued the message stays in the cache with status error.
func (e *Engine) Send(ctx context.Context, convID, msgType, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyContent
	}
	if msgType == "" {
		msgType = "text"
	}
	tempID := e.newID()
	m := model.Message{
		ID:             tempID,
		TempID:         tempID,
		ConversationID: convID,
		SenderID:       e.self,
		Type:           msgType,
		Content:        content,
		Status:         model.StatusPending,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	e.cache.InsertPending(m)
	err := e.commit(ctx, sendMutation(m), "", e.sendRollback(convID, tempID))
	e.syncView(convID)
	current, _ := e.cache.Message(convID, tempID)
	preview, _ := e.cache.Preview(convID)
	e.mu.Unlock()

	e.bus.Emit(bus.MessageUpserted, current)
	e.bus.Emit(bus.PreviewChanged, preview)
	return current, err
}

func sendMutation(m model.Message) outbox.Mutation {
	return outbox.Mutation{
		RequestID:      m.TempID,
		Kind:           wire.KindSendMessage,
		ConversationID: m.ConversationID,
		TargetID:       m.TempID,
		Data: wire.SendMessage{
			TempID:         m.TempID,
			ConversationID: m.ConversationID,
			Type:           m.Type,
			Content:        m.Content,
		},
	}
}

func (e *Engine) sendRollback(convID, tempID string) Rollback {
	return func() {
		e.cache.UpdateMessage(convID, tempID, func(m *model.Message) {
			if m.IsTemporary() {
				m.Status = m.Status.Advance(model.StatusError)
			}
		}, nil)
	}
}

// Retry re-queues a send that failed.
func (e *Engine) Retry(ctx context.Context, tempID string) error {
	e.mu.Lock()
	convID, ok := e.cache.ConversationOf(tempID)
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	m, _ := e.cache.Message(convID, tempID)
	if !m.IsTemporary() || m.Status != model.StatusError {
		e.mu.Unlock()
		return ErrNotRetryable
	}
	e.cache.UpdateMessage(convID, tempID, func(m *model.Message) {
		m.Status = m.Status.Advance(model.StatusPending)
	}, nil)

	takeFrom(&e.lapsed, func(r *request) bool { return r.id == tempID })
	undo := e.sendRollback(convID, tempID)
	r := e.track(sendMutation(m), "", undo)
	var err error
	if e.outbox != nil {
		err = e.outbox.Retry(ctx, tempID)
		if errors.Is(err, outbox.ErrNotRetryable) {
			// never made it into the outbox, or already re-queued
			err = e.outbox.Enqueue(ctx, sendMutation(m))
		}
	}
	if err != nil {
		e.take(func(x *request) bool { return x == r })
		undo()
		err = fmt.Errorf("retry %s: %w", tempID, err)
	}
	e.syncView(convID)
	current, _ := e.cache.Message(convID, tempID)
	e.mu.Unlock()

	e.bus.Emit(bus.MessageUpserted, current)
	return err
}

// React sets the current user's reaction on a message. Choosing the emoji
// already set removes it.
func (e *Engine) React(ctx context.Context, convID, messageID, emoji string) error {
	return e.mutate(ctx, wire.KindReactMessage, convID, messageID, nil,
		func(m *model.Message) {
			m.Reactions = toggleReaction(m.Reactions, e.self, emoji)
		},
		func(requestID string, before, after model.Message) (any, string, Rollback) {
			prev, next := reactionOf(before.Reactions, e.self), reactionOf(after.Reactions, e.self)
			data := wire.React{RequestID: requestID, ConversationID: convID, MessageID: messageID, Emoji: next}
			return data, next, func() {
				e.cache.UpdateMessage(convID, messageID, func(m *model.Message) {
					m.Reactions = withReaction(m.Reactions, e.self, prev)
				}, nil)
			}
		})
}

// Star toggles the current user in a message's starred-by set.
func (e *Engine) Star(ctx context.Context, convID, messageID string) error {
	return e.mutate(ctx, wire.KindStarMessage, convID, messageID, nil,
		func(m *model.Message) {
			m.StarredBy = withMember(m.StarredBy, e.self, !slices.Contains(m.StarredBy, e.self))
		},
		func(requestID string, before, after model.Message) (any, string, Rollback) {
			was, now := slices.Contains(before.StarredBy, e.self), slices.Contains(after.StarredBy, e.self)
			data := wire.Star{RequestID: requestID, ConversationID: convID, MessageID: messageID, Starred: now}
			return data, strconv.FormatBool(now), func() {
				e.cache.UpdateMessage(convID, messageID, func(m *model.Message) {
					m.StarredBy = withMember(m.StarredBy, e.self, was)
				}, nil)
			}
		})
}

// Edit replaces the content of one of the current user's messages.
func (e *Engine) Edit(ctx context.Context, convID, messageID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return e.mutate(ctx, wire.KindEditMessage, convID, messageID, e.ownMessage,
		func(m *model.Message) {
			m.Content = content
			m.Edited = true
		},
		func(requestID string, before, _ model.Message) (any, string, Rollback) {
			data := wire.Edit{RequestID: requestID, ConversationID: convID, MessageID: messageID, Content: content}
			return data, content, func() {
				e.cache.UpdateMessage(convID, messageID, func(m *model.Message) {
					if m.Content == content && !m.Deleted {
						m.Content = before.Content
						m.Edited = before.Edited
					}
				}, nil)
			}
		})
}

// Delete removes a message for everyone, which only its sender may do, or
// hides it for the current user alone.
func (e *Engine) Delete(ctx context.Context, convID, messageID string, forEveryone bool) error {
	if !forEveryone {
		return e.deleteForMe(ctx, convID, messageID)
	}
	return e.mutate(ctx, wire.KindDeleteMessage, convID, messageID, e.ownMessage, tombstone,
		func(requestID string, before, _ model.Message) (any, string, Rollback) {
			data := wire.Delete{RequestID: requestID, ConversationID: convID, MessageID: messageID, ForEveryone: true}
			return data, deletedForEveryone, func() {
				e.cache.UpdateMessage(convID, messageID, func(m *model.Message) {
					if m.Deleted {
						m.Content = before.Content
						m.Deleted = before.Deleted
						m.Reactions = before.Reactions
					}
				}, nil)
			}
		})
}

func (e *Engine) deleteForMe(ctx context.Context, convID, messageID string) error {
	e.mu.Lock()
	if _, err := e.target(convID, messageID, nil); err != nil {
		e.mu.Unlock()
		return err
	}
	removed, _ := e.cache.RemoveMessage(convID, messageID)
	requestID := e.newID()
	err := e.commit(ctx, outbox.Mutation{
		RequestID:      requestID,
		Kind:           wire.KindDeleteMessage,
		ConversationID: convID,
		TargetID:       messageID,
		Data:           wire.Delete{RequestID: requestID, ConversationID: convID, MessageID: messageID},
	}, deletedForMe, func() {
		e.cache.Restore(convID, removed)
	})
	e.syncView(convID)
	preview, _ := e.cache.Preview(convID)
	e.mu.Unlock()

	if err == nil {
		e.bus.Emit(bus.MessageRemoved, map[string]string{"conversation_id": convID, "message_id": messageID})
	}
	e.bus.Emit(bus.PreviewChanged, preview)
	return err
}

func (e *Engine) ownMessage(m model.Message) error {
	if m.SenderID != e.self {
		return ErrNotAllowed
	}
	return nil
}

// target returns a message that may be mutated: cached, confirmed by the
// server and not deleted. Must be called with mu held.
func (e *Engine) target(convID, messageID string, check func(model.Message) error) (model.Message, error) {
	m, ok := e.cache.Message(convID, messageID)
	if !ok {
		return model.Message{}, ErrNotFound
	}
	if m.IsTemporary() || m.Deleted {
		return model.Message{}, ErrNotAllowed
	}
	if check != nil {
		if err := check(m); err != nil {
			return model.Message{}, err
		}
	}
	return m, nil
}

// mutate applies fn optimistically to a message, then queues the request
// that build derives from the before and after states.
func (e *Engine) mutate(
	ctx context.Context,
	kind wire.Kind,
	convID, messageID string,
	check func(model.Message) error,
	fn func(*model.Message),
	build func(requestID string, before, after model.Message) (data any, expect string, undo Rollback),
) error {
	e.mu.Lock()
	if _, err := e.target(convID, messageID, check); err != nil {
		e.mu.Unlock()
		return err
	}
	ch, _ := e.cache.UpdateMessage(convID, messageID, fn, nil)
	requestID := e.newID()
	data, expect, undo := build(requestID, ch.Before, ch.After)
	err := e.commit(ctx, outbox.Mutation{
		RequestID:      requestID,
		Kind:           kind,
		ConversationID: convID,
		TargetID:       messageID,
		Data:           data,
	}, expect, undo)
	e.syncView(convID)
	current, _ := e.cache.Message(convID, messageID)
	preview, _ := e.cache.Preview(convID)
	e.mu.Unlock()

	e.bus.Emit(bus.MessageUpserted, current)
	e.bus.Emit(bus.PreviewChanged, preview)
	return err
}

// commit records an applied mutation and queues its request. When the
// request cannot be queued the mutation is rolled back. Must be called
// with mu held.
func (e *Engine) commit(ctx context.Context, m outbox.Mutation, expect string, undo Rollback) error {
	r := e.track(m, expect, undo)
	if e.outbox == nil {
		return nil
	}
	if err := e.outbox.Enqueue(ctx, m); err != nil {
		e.take(func(x *request) bool { return x == r })
		undo()
		e.metrics.OptimisticFailed(string(m.Kind))
		return fmt.Errorf("queue %s: %w", m.Kind, err)
	}
	return nil
}

func (e *Engine) track(m outbox.Mutation, expect string, undo Rollback) *request {
	r := newRequest(m, expect, undo)
	e.inflight = append(e.inflight, r)
	return r
}

func newRequest(m outbox.Mutation, expect string, undo Rollback) *request {
	return &request{
		id:       m.RequestID,
		kind:     m.Kind,
		convID:   m.ConversationID,
		targetID: m.TargetID,
		expect:   expect,
		undo:     undo,
	}
}

// Restore reloads unconfirmed mutations after a restart. Pending sends are
// put back in the cache; failed ones come back with status error. Entries
// that failed on ack timeout can still be confirmed by a replayed event.
func (e *Engine) Restore(ctx context.Context) error {
	if e.outbox == nil {
		return nil
	}
	pending, err := e.outbox.Pending(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	touched := map[string]bool{}
	for _, p := range pending {
		known := func(r *request) bool { return r.id == p.RequestID }
		if slices.ContainsFunc(e.inflight, known) || slices.ContainsFunc(e.lapsed, known) {
			continue
		}
		expect, err := expectOf(p.Kind, p.Payload)
		if err != nil {
			e.log.Warn("skipping unreadable outbox entry", zap.String("request_id", p.RequestID), zap.Error(err))
			continue
		}
		var undo Rollback
		if p.Kind == wire.KindSendMessage {
			var data wire.SendMessage
			_ = json.Unmarshal(p.Payload, &data)
			if _, ok := e.cache.Message(p.ConversationID, data.TempID); !ok {
				status := model.StatusPending
				if p.Failed {
					status = model.StatusError
				}
				e.cache.InsertPending(model.Message{
					ID:             data.TempID,
					TempID:         data.TempID,
					ConversationID: p.ConversationID,
					SenderID:       e.self,
					Type:           data.Type,
					Content:        data.Content,
					Status:         status,
					CreatedAt:      p.QueuedAt,
				})
				touched[p.ConversationID] = true
			}
			undo = e.sendRollback(p.ConversationID, data.TempID)
		}
		switch {
		case !p.Failed:
			e.track(p.Mutation, expect, undo)
		case p.Error == outbox.ReasonAckTimeout:
			e.lapse(newRequest(p.Mutation, expect, nil))
		}
	}
	for convID := range touched {
		e.syncView(convID)
	}
	e.log.Info("outbox restored", zap.Int("entries", len(pending)), zap.Int("inflight", len(e.inflight)))
	return nil
}

// expectOf recovers the confirming state of a queued request.
func expectOf(kind wire.Kind, payload json.RawMessage) (string, error) {
	switch kind {
	case wire.KindReactMessage:
		var d wire.React
		err := json.Unmarshal(payload, &d)
		return d.Emoji, err
	case wire.KindStarMessage:
		var d wire.Star
		err := json.Unmarshal(payload, &d)
		return strconv.FormatBool(d.Starred), err
	case wire.KindEditMessage:
		var d wire.Edit
		err := json.Unmarshal(payload, &d)
		return d.Content, err
	case wire.KindDeleteMessage:
		var d wire.Delete
		err := json.Unmarshal(payload, &d)
		if d.ForEveryone {
			return deletedForEveryone, err
		}
		return deletedForMe, err
	case wire.KindSendMessage:
		var d wire.SendMessage
		return "", json.Unmarshal(payload, &d)
	}
	return "", fmt.Errorf("unexpected outbox kind %q", kind)
}
