// Package outbox queues optimistic mutations durably and writes them to the
// Transport while it is online. Entries wait for the server's confirming
// event; an entry left unconfirmed past the ack timeout is marked failed.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

// ErrNotRetryable is returned by Retry for entries that have not failed.
var ErrNotRetryable = errors.New("outbox: entry is not in a failed state")

// ReasonAckTimeout is the failure reason for entries never confirmed.
const ReasonAckTimeout = "ack timeout"

// Transmitter writes envelopes to the Transport.
type Transmitter interface {
	Send(ctx context.Context, env wire.Envelope) error
	Online() bool
}

// Mutation is an outbound optimistic change. For sends RequestID is the
// message's temporary id.
type Mutation struct {
	RequestID      string
	Kind           wire.Kind
	ConversationID string
	TargetID       string
	Data           any
}

// Pending is an unconfirmed entry read back from the store.
type Pending struct {
	Mutation
	Payload  json.RawMessage
	Failed   bool
	Error    string
	QueuedAt time.Time
}

// FailureFunc is called when an entry is marked failed by the sender itself.
type FailureFunc func(ctx context.Context, requestID, reason string)

// Sender drains the outbox over the Transport.
type Sender struct {
	db         *store.DB
	tx         Transmitter
	bus        *bus.Bus
	metrics    metrics.Collector
	logger     *zap.Logger
	ackTimeout time.Duration
	interval   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	onFailure FailureFunc
	offline   bool // seen offline since the ack clock last ran; loop only
	cancel    context.CancelFunc
	done      chan struct{}
	wake      chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, tx Transmitter, ackTimeout time.Duration, b *bus.Bus, m metrics.Collector, logger *zap.Logger) *Sender {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Sender{
		db:         db,
		tx:         tx,
		bus:        b,
		metrics:    m,
		logger:     logger,
		ackTimeout: ackTimeout,
		interval:   500 * time.Millisecond,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// OnFailure registers the callback for ack timeouts.
func (s *Sender) OnFailure(fn FailureFunc) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Enqueue persists m and schedules it for sending.
func (s *Sender) Enqueue(ctx context.Context, m Mutation) error {
	payload, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Kind, err)
	}
	if err := s.db.QueueOutbox(ctx, &store.OutboxEntry{
		RequestID:      m.RequestID,
		Kind:           string(m.Kind),
		ConversationID: m.ConversationID,
		TargetID:       m.TargetID,
		Payload:        payload,
		CreatedAt:      s.now().UnixMilli(),
	}); err != nil {
		return err
	}
	s.bus.Emit(bus.OutboxQueued, map[string]string{"request_id": m.RequestID, "kind": string(m.Kind)})
	s.Wake()
	return nil
}

// Ack marks an entry confirmed.
func (s *Sender) Ack(ctx context.Context, requestID string) error {
	if _, err := s.db.MarkOutboxConfirmed(ctx, requestID); err != nil {
		return fmt.Errorf("ack %s: %w", requestID, err)
	}
	return nil
}

// Fail marks an entry failed after the server rejected it. The failure
// callback is not invoked; the caller already knows.
func (s *Sender) Fail(ctx context.Context, requestID, reason string) error {
	ok, err := s.db.MarkOutboxFailed(ctx, requestID, reason)
	if err != nil {
		return fmt.Errorf("fail %s: %w", requestID, err)
	}
	if ok {
		s.bus.Emit(bus.OutboxFailed, map[string]string{"request_id": requestID, "error": reason})
	}
	return nil
}

// Retry re-queues a failed entry.
func (s *Sender) Retry(ctx context.Context, requestID string) error {
	ok, err := s.db.RequeueOutbox(ctx, requestID)
	if err != nil {
		return fmt.Errorf("retry %s: %w", requestID, err)
	}
	if !ok {
		return ErrNotRetryable
	}
	s.Wake()
	return nil
}

// Pending returns every unconfirmed entry, oldest first.
func (s *Sender) Pending(ctx context.Context) ([]Pending, error) {
	entries, err := s.db.OutboxByStatus(ctx, store.OutboxQueued, store.OutboxSent, store.OutboxFailed)
	if err != nil {
		return nil, fmt.Errorf("read outbox: %w", err)
	}
	out := make([]Pending, 0, len(entries))
	for _, e := range entries {
		out = append(out, Pending{
			Mutation: Mutation{
				RequestID:      e.RequestID,
				Kind:           wire.Kind(e.Kind),
				ConversationID: e.ConversationID,
				TargetID:       e.TargetID,
			},
			Payload:  e.Payload,
			Failed:   e.Status == store.OutboxFailed,
			Error:    e.ErrorMessage,
			QueuedAt: time.UnixMilli(e.CreatedAt),
		})
	}
	return out, nil
}

// Wake asks the loop to drain without waiting for the next tick. The
// Transport calls it when it comes online.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins draining the outbox.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	// entries sent by a previous run get a full timeout once online
	s.offline = true
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expire(ctx)
			s.processPending(ctx)
		case <-s.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	if !s.tx.Online() {
		return
	}
	queued, err := s.db.OutboxByStatus(ctx, store.OutboxQueued)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range queued {
		env := wire.Envelope{Event: wire.Kind(entry.Kind), Data: json.RawMessage(entry.Payload)}
		if err := s.tx.Send(ctx, env); err != nil {
			// Left queued; the next drain picks it up.
			s.logger.Debug("outbox send deferred", zap.Error(err), zap.String("request_id", entry.RequestID))
			return
		}
		if err := s.db.MarkOutboxSent(ctx, entry.RequestID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("request_id", entry.RequestID))
		}
	}
}

// expire fails entries whose confirmation is overdue. The ack clock stops
// while the Transport is down; entries sent before a disconnect get a full
// timeout again after it reconnects, since the server replays their
// confirmations then.
func (s *Sender) expire(ctx context.Context) {
	online := s.tx.Online()
	switch {
	case !online:
		s.offline = true
	case s.offline:
		s.offline = false
		n, err := s.db.RestartAckClock(ctx, s.now())
		if err != nil {
			s.logger.Error("failed to restart ack clock", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("ack clock restarted", zap.Int64("entries", n))
		}
	}

	if s.ackTimeout > 0 && online {
		expired, err := s.db.ExpiredOutbox(ctx, s.now().Add(-s.ackTimeout))
		if err != nil {
			s.logger.Error("failed to read expired outbox", zap.Error(err))
			return
		}
		s.mu.Lock()
		onFailure := s.onFailure
		s.mu.Unlock()

		for _, entry := range expired {
			ok, err := s.db.MarkOutboxFailed(ctx, entry.RequestID, ReasonAckTimeout)
			if err != nil {
				s.logger.Error("failed to mark failed", zap.Error(err), zap.String("request_id", entry.RequestID))
				continue
			}
			if !ok {
				continue
			}
			s.logger.Warn("mutation unconfirmed", zap.String("request_id", entry.RequestID), zap.String("kind", entry.Kind))
			s.bus.Emit(bus.OutboxFailed, map[string]string{"request_id": entry.RequestID, "error": ReasonAckTimeout})
			if onFailure != nil {
				onFailure(ctx, entry.RequestID, ReasonAckTimeout)
			}
		}
	}

	if n, err := s.db.CountOutbox(ctx); err == nil {
		s.metrics.OutboxDepth(n)
	}
	if _, err := s.db.PruneOutbox(ctx, s.now().Add(-24*time.Hour)); err != nil {
		s.logger.Debug("prune outbox", zap.Error(err))
	}
}
