package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/wire"
)

type fakeOutbox struct {
	mu         sync.Mutex
	queued     []outbox.Mutation
	acked      []string
	failed     []string
	retried    []string
	pending    []outbox.Pending
	enqueueErr error
	retryErr   error
}

func (o *fakeOutbox) Enqueue(_ context.Context, m outbox.Mutation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.enqueueErr != nil {
		return o.enqueueErr
	}
	o.queued = append(o.queued, m)
	return nil
}

func (o *fakeOutbox) Ack(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acked = append(o.acked, id)
	return nil
}

func (o *fakeOutbox) Fail(_ context.Context, id, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, id)
	return nil
}

func (o *fakeOutbox) Retry(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retryErr != nil {
		return o.retryErr
	}
	o.retried = append(o.retried, id)
	return nil
}

func (o *fakeOutbox) Pending(context.Context) ([]outbox.Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.pending), nil
}

func (o *fakeOutbox) last() outbox.Mutation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued[len(o.queued)-1]
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []wire.Envelope
}

func (s *fakeSignaler) Send(_ context.Context, env wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, env)
	return nil
}

func (s *fakeSignaler) receipts(kind wire.Kind) []wire.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Receipt
	for _, env := range s.sent {
		if env.Event == kind {
			out = append(out, env.Data.(wire.Receipt))
		}
	}
	return out
}

type memCheckpoints struct {
	mu     sync.Mutex
	values map[string]string
	saves  int
}

func (m *memCheckpoints) SaveCheckpoint(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	m.saves++
	return nil
}

func (m *memCheckpoints) LoadCheckpoint(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

// sequence hands out temp-1, temp-2, ...
func sequence() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("temp-%d", n)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
