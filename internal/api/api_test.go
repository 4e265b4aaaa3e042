package api

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/view"
)

type fakeCaller struct {
	mu       sync.Mutex
	info     call.Info
	err      error
	dialed   []string
	muted    bool
	accepted int
}

func (f *fakeCaller) Initiate(_ context.Context, peer string, media call.Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.dialed = append(f.dialed, peer)
	f.info = call.Info{State: call.StateNegotiating, Peer: peer, Media: media, Direction: call.Outgoing}
	return nil
}

func (f *fakeCaller) Accept(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted++
	return f.err
}

func (f *fakeCaller) Reject(context.Context) error { return f.failure() }
func (f *fakeCaller) Hangup(context.Context) error { return f.failure() }

func (f *fakeCaller) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeCaller) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeCaller) ToggleMute(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = !f.muted
	return f.muted, f.err
}

func (f *fakeCaller) ToggleCamera(context.Context) (bool, error) { return false, call.ErrInvalidState }

func (f *fakeCaller) Info() call.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

type fakeHistory struct{ entries []store.CallEntry }

func (h *fakeHistory) ListCalls(_ context.Context, peer string, limit int) ([]store.CallEntry, error) {
	var out []store.CallEntry
	for _, e := range h.entries {
		if peer == "" || e.Peer == peer {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixture struct {
	client *Client
	bus    *bus.Bus
	engine *cache.Engine
	view   *view.Store
	caller *fakeCaller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bus.New()
	v := view.New(b)
	engine := cache.NewEngine(cache.New(50), cache.Deps{Self: "me", View: v, Bus: b, Logger: zap.NewNop()})
	caller := &fakeCaller{}
	history := &fakeHistory{entries: []store.CallEntry{
		{CallID: "k1", Peer: "bob", Direction: "caller", Media: "audio", Outcome: "completed", Duration: 12, StartedAt: time.Unix(1_700_000_000, 0)},
	}}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, NewSessionService("test", "me", status.NewMachine(b), engine, nil, b))
	Register(srv, NewCallService(caller, history))
	Register(srv, NewMessageService(engine, v))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{client: NewClient(conn), bus: b, engine: engine, view: v, caller: caller}
}

func code(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)
	resp, err := f.client.Call(context.Background(), SessionServiceName, "GetStatus", nil)
	require.NoError(t, err)
	assert.Equal(t, "test", resp["session"])
	assert.Equal(t, "me", resp["user_id"])
	assert.Equal(t, string(status.Offline), resp["status"])
	assert.NotContains(t, resp, "last_event_ms")
}

func TestWatchEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan map[string]any, 16)
	go func() {
		_ = f.client.Watch(ctx, SessionServiceName, "WatchEvents", map[string]any{"namespace": "call."}, func(m map[string]any) error {
			got <- m
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		f.bus.Emit(bus.ViewChanged, "ignored")
		f.bus.Emit(bus.CallStateChanged, map[string]string{"to": "ringing"})
		select {
		case m := <-got:
			assert.Equal(t, bus.CallStateChanged, m["kind"])
			assert.Equal(t, map[string]any{"to": "ringing"}, m["payload"])
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMessageFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Call(ctx, MessageServiceName, "Seed", map[string]any{
		"conversations": []any{map[string]any{
			"id":           "c1",
			"participants": []any{map[string]any{"userId": "me"}, map[string]any{"userId": "bob", "name": "Bob"}},
		}},
	})
	require.NoError(t, err)

	resp, err := f.client.Call(ctx, MessageServiceName, "Load", map[string]any{
		"conversation_id": "c1",
		"messages": []any{
			map[string]any{"id": "40", "conversationId": "c1", "senderId": "bob", "type": "text", "content": "hey", "status": "sent", "createdAt": "2026-03-01T12:00:00Z"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp["messages"])

	resp, err = f.client.Call(ctx, MessageServiceName, "Open", map[string]any{"conversation_id": "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp["conversation_id"])
	assert.Equal(t, "c1", f.view.OpenID())

	resp, err = f.client.Call(ctx, MessageServiceName, "Send", map[string]any{"conversation_id": "c1", "content": "hi"})
	require.NoError(t, err)
	sent := resp["message"].(map[string]any)
	assert.Equal(t, "pending", sent["status"])
	assert.Equal(t, sent["id"], sent["tempId"])
	assert.Len(t, f.view.Messages(), 2)

	_, err = f.client.Call(ctx, MessageServiceName, "React", map[string]any{"conversation_id": "c1", "message_id": "40", "emoji": "👍"})
	require.NoError(t, err)
	m, _ := f.engine.Cache().Message("c1", "40")
	require.Len(t, m.Reactions, 1)

	resp, err = f.client.Call(ctx, MessageServiceName, "Previews", nil)
	require.NoError(t, err)
	assert.Len(t, resp["previews"], 1)

	resp, err = f.client.Call(ctx, MessageServiceName, "List", nil)
	require.NoError(t, err)
	assert.Len(t, resp["messages"], 2)
}

func TestMessageErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.client.Call(ctx, MessageServiceName, "Load", map[string]any{
		"conversation_id": "c1",
		"messages": []any{
			map[string]any{"id": "40", "conversationId": "c1", "senderId": "bob", "content": "hey", "status": "sent"},
		},
	})
	require.NoError(t, err)

	_, err = f.client.Call(ctx, MessageServiceName, "Edit", map[string]any{"conversation_id": "c1", "message_id": "40", "content": "x"})
	assert.Equal(t, codes.FailedPrecondition, code(err))

	_, err = f.client.Call(ctx, MessageServiceName, "Star", map[string]any{"conversation_id": "c1", "message_id": "99"})
	assert.Equal(t, codes.NotFound, code(err))

	_, err = f.client.Call(ctx, MessageServiceName, "Send", map[string]any{"conversation_id": "c1", "content": " "})
	assert.Equal(t, codes.InvalidArgument, code(err))

	_, err = f.client.Call(ctx, MessageServiceName, "Open", nil)
	assert.Equal(t, codes.InvalidArgument, code(err))
}

func TestCallService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.client.Call(ctx, CallServiceName, "Dial", map[string]any{"peer": "bob", "media": "video"})
	require.NoError(t, err)
	assert.Equal(t, "negotiating", resp["state"])
	assert.Equal(t, "video", resp["media"])

	_, err = f.client.Call(ctx, CallServiceName, "Dial", map[string]any{"peer": "bob", "media": "hologram"})
	assert.Equal(t, codes.InvalidArgument, code(err))

	resp, err = f.client.Call(ctx, CallServiceName, "ToggleMute", nil)
	require.NoError(t, err)
	assert.Equal(t, true, resp["muted"])

	_, err = f.client.Call(ctx, CallServiceName, "ToggleCamera", nil)
	assert.Equal(t, codes.FailedPrecondition, code(err))

	f.caller.fail(call.ErrBusy)
	_, err = f.client.Call(ctx, CallServiceName, "Dial", map[string]any{"peer": "carol"})
	assert.Equal(t, codes.ResourceExhausted, code(err))

	f.caller.fail(&call.MediaError{Media: call.Video, Err: call.ErrPermissionDenied})
	_, err = f.client.Call(ctx, CallServiceName, "Accept", nil)
	assert.Equal(t, codes.PermissionDenied, code(err))

	resp, err = f.client.Call(ctx, CallServiceName, "History", map[string]any{"peer": "bob"})
	require.NoError(t, err)
	calls := resp["calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "k1", calls[0].(map[string]any)["call_id"])
}
