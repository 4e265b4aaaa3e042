package api

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/view"
)

// MessageService implements chatsync.v1.MessageService over the cache
// engine and the open-conversation view.
type MessageService struct {
	engine *cache.Engine
	view   *view.Store
}

// NewMessageService creates a message service.
func NewMessageService(engine *cache.Engine, v *view.Store) *MessageService {
	return &MessageService{engine: engine, view: v}
}

func (s *MessageService) Name() string { return MessageServiceName }

func (s *MessageService) Unary() map[string]UnaryHandler {
	return map[string]UnaryHandler{
		"Seed":     s.Seed,
		"Load":     s.Load,
		"Previews": s.Previews,
		"Open":     s.Open,
		"Close":    s.Close,
		"List":     s.List,
		"Send":     s.Send,
		"Retry":    s.Retry,
		"React":    s.React,
		"Star":     s.Star,
		"Delete":   s.Delete,
		"Edit":     s.Edit,
	}
}

func (s *MessageService) Streams() map[string]StreamHandler { return nil }

// Seed loads the conversation list fetched out of band.
func (s *MessageService) Seed(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in struct {
		Conversations []model.Conversation `json:"conversations"`
		Previews      []model.Preview      `json:"previews"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	s.engine.Seed(in.Conversations, in.Previews)
	return toStruct(map[string]any{"conversations": len(in.Conversations)})
}

// Load stores one page of history: {conversation_id, messages, older}.
func (s *MessageService) Load(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "conversation_id"); err != nil {
		return nil, err
	}
	var in struct {
		Messages []model.Message `json:"messages"`
	}
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	convID := str(req, "conversation_id")
	s.engine.LoadPage(convID, in.Messages, boolean(req, "older"))
	return toStruct(map[string]any{"messages": len(s.engine.Cache().Messages(convID))})
}

func (s *MessageService) Previews(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"previews": s.engine.Cache().Previews()})
}

func (s *MessageService) Open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "conversation_id"); err != nil {
		return nil, err
	}
	s.engine.Open(ctx, str(req, "conversation_id"))
	return s.openView()
}

func (s *MessageService) Close(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.Close()
	return toStruct(map[string]any{})
}

// List returns a conversation's cached messages, or the open
// conversation's when none is named.
func (s *MessageService) List(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	convID := str(req, "conversation_id")
	if convID == "" {
		return s.openView()
	}
	return toStruct(map[string]any{
		"conversation_id": convID,
		"messages":        s.engine.Cache().Messages(convID),
	})
}

func (s *MessageService) openView() (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"conversation_id": s.view.OpenID(),
		"version":         s.view.Version(),
		"messages":        s.view.Messages(),
	})
}

// Send queues a message: {conversation_id, content, type?}.
func (s *MessageService) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "conversation_id"); err != nil {
		return nil, err
	}
	m, err := s.engine.Send(ctx, str(req, "conversation_id"), str(req, "type"), str(req, "content"))
	if err != nil && m.ID == "" {
		return nil, toStatus(err)
	}
	resp := map[string]any{"message": m}
	if err != nil {
		resp["error"] = err.Error()
	}
	return toStruct(resp)
}

func (s *MessageService) Retry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := required(req, "temp_id"); err != nil {
		return nil, err
	}
	if err := s.engine.Retry(ctx, str(req, "temp_id")); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"temp_id": str(req, "temp_id")})
}

func (s *MessageService) React(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutation(ctx, req, func(ctx context.Context, convID, msgID string) error {
		return s.engine.React(ctx, convID, msgID, str(req, "emoji"))
	})
}

func (s *MessageService) Star(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutation(ctx, req, s.engine.Star)
}

func (s *MessageService) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutation(ctx, req, func(ctx context.Context, convID, msgID string) error {
		return s.engine.Delete(ctx, convID, msgID, boolean(req, "for_everyone"))
	})
}

func (s *MessageService) Edit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutation(ctx, req, func(ctx context.Context, convID, msgID string) error {
		return s.engine.Edit(ctx, convID, msgID, str(req, "content"))
	})
}

// mutation runs fn on {conversation_id, message_id} and returns the
// message as it now stands in the cache.
func (s *MessageService) mutation(ctx context.Context, req *structpb.Struct, fn func(ctx context.Context, convID, msgID string) error) (*structpb.Struct, error) {
	if err := required(req, "conversation_id", "message_id"); err != nil {
		return nil, err
	}
	convID, msgID := str(req, "conversation_id"), str(req, "message_id")
	if err := fn(ctx, convID, msgID); err != nil {
		return nil, toStatus(err)
	}
	resp := map[string]any{"conversation_id": convID, "message_id": msgID}
	if m, ok := s.engine.Cache().Message(convID, msgID); ok {
		resp["message"] = m
	}
	return toStruct(resp)
}
