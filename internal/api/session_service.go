package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
)

// Checkpointed reports the replay checkpoint.
type Checkpointed interface {
	Since() time.Time
}

// OutboxCounter reports how many mutations await confirmation.
type OutboxCounter interface {
	CountOutbox(ctx context.Context) (int, error)
}

// SessionService implements chatsync.v1.SessionService.
type SessionService struct {
	sessionName string
	userID      string
	startedAt   time.Time
	machine     *status.Machine
	sync        Checkpointed
	outbox      OutboxCounter
	bus         *bus.Bus
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName, userID string, machine *status.Machine, sync Checkpointed, outbox OutboxCounter, b *bus.Bus) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		userID:      userID,
		startedAt:   time.Now(),
		machine:     machine,
		sync:        sync,
		outbox:      outbox,
		bus:         b,
	}
}

func (s *SessionService) Name() string { return SessionServiceName }

func (s *SessionService) Unary() map[string]UnaryHandler {
	return map[string]UnaryHandler{"GetStatus": s.GetStatus}
}

func (s *SessionService) Streams() map[string]StreamHandler {
	return map[string]StreamHandler{"WatchEvents": s.WatchEvents}
}

func (s *SessionService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := map[string]any{
		"session":   s.sessionName,
		"user_id":   s.userID,
		"status":    string(s.machine.Current()),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.sync != nil {
		if since := s.sync.Since(); !since.IsZero() {
			resp["last_event_ms"] = since.UnixMilli()
		}
	}
	if s.outbox != nil {
		if n, err := s.outbox.CountOutbox(ctx); err == nil {
			resp["outbox_pending"] = n
		}
	}
	return toStruct(resp)
}

// WatchEvents streams bus notifications whose kind starts with the
// requested namespace (all of them when empty).
func (s *SessionService) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(str(req, "namespace"), 128)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			out, err := toStruct(map[string]any{
				"event_id":       uuid.NewString(),
				"kind":           evt.Kind,
				"occurred_at_ms": evt.Timestamp.UnixMilli(),
				"payload":        evt.Payload,
			})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}
