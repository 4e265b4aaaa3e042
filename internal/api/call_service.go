package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/store"
)

// Caller is the call session surface exposed to clients.
type Caller interface {
	Initiate(ctx context.Context, peer string, media call.Media) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Hangup(ctx context.Context) error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	Info() call.Info
}

// CallHistory reads the call log.
type CallHistory interface {
	ListCalls(ctx context.Context, peer string, limit int) ([]store.CallEntry, error)
}

// CallService implements chatsync.v1.CallService.
type CallService struct {
	calls   Caller
	history CallHistory
}

// NewCallService creates a call service.
func NewCallService(calls Caller, history CallHistory) *CallService {
	return &CallService{calls: calls, history: history}
}

func (s *CallService) Name() string { return CallServiceName }

func (s *CallService) Unary() map[string]UnaryHandler {
	return map[string]UnaryHandler{
		"Dial":         s.Dial,
		"Accept":       s.simple(s.calls.Accept),
		"Reject":       s.simple(s.calls.Reject),
		"Hangup":       s.simple(s.calls.Hangup),
		"ToggleMute":   s.toggle("muted", s.calls.ToggleMute),
		"ToggleCamera": s.toggle("camera_off", s.calls.ToggleCamera),
		"GetCall":      s.GetCall,
		"History":      s.History,
	}
}

func (s *CallService) Streams() map[string]StreamHandler { return nil }

// Dial starts an outgoing call: {peer, media}.
func (s *CallService) Dial(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "peer"); err != nil {
		return nil, err
	}
	media := call.Media(str(req, "media"))
	switch media {
	case "":
		media = call.Audio
	case call.Audio, call.Video:
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "media must be audio or video, got %q", media)
	}
	if err := s.calls.Initiate(ctx, str(req, "peer"), media); err != nil {
		return nil, toStatus(err)
	}
	return infoStruct(s.calls.Info())
}

func (s *CallService) simple(fn func(context.Context) error) UnaryHandler {
	return func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		if err := fn(ctx); err != nil {
			return nil, toStatus(err)
		}
		return infoStruct(s.calls.Info())
	}
}

func (s *CallService) toggle(key string, fn func(context.Context) (bool, error)) UnaryHandler {
	return func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return toStruct(map[string]any{key: v})
	}
}

func (s *CallService) GetCall(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return infoStruct(s.calls.Info())
}

// History lists logged calls: {peer?, limit?}.
func (s *CallService) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "call log not available")
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.history.ListCalls(ctx, str(req, "peer"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list calls: %v", err)
	}
	calls := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		calls = append(calls, map[string]any{
			"call_id":      e.CallID,
			"peer":         e.Peer,
			"direction":    e.Direction,
			"media":        e.Media,
			"outcome":      e.Outcome,
			"duration_s":   e.Duration,
			"started_at":   e.StartedAt.Format(time.RFC3339),
			"connected_at": formatTime(e.ConnectedAt),
		})
	}
	return toStruct(map[string]any{"calls": calls})
}

func infoStruct(info call.Info) (*structpb.Struct, error) {
	resp := map[string]any{
		"state":             string(info.State),
		"peer":              info.Peer,
		"direction":         string(info.Direction),
		"media":             string(info.Media),
		"call_id":           info.CallID,
		"caller_name":       info.CallerName,
		"muted":             info.Muted,
		"camera_off":        info.CameraOff,
		"remote_muted":      info.RemoteMuted,
		"remote_camera_off": info.RemoteCameraOff,
		"connection":        string(info.Connection),
		"remote_tracks":     len(info.RemoteTracks),
	}
	if !info.ConnectedAt.IsZero() {
		resp["connected_at"] = info.ConnectedAt.Format(time.RFC3339)
	}
	return toStruct(resp)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
