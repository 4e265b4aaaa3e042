package wire

import (
	"context"

	"github.com/matheus3301/chatsync/internal/model"
)

// SyncHandler receives every server-confirmed state change for the cache.
type SyncHandler interface {
	OnMessageSent(ctx context.Context, ev MessageSent)
	OnMessageStatus(ctx context.Context, ev MessageStatusUpdate)
	OnMessagesRead(ctx context.Context, ev MessagesRead)
	OnMessageEdited(ctx context.Context, ev MessageEdited)
	OnMessageDeleted(ctx context.Context, ev MessageDeleted)
	OnMessageReacted(ctx context.Context, ev MessageReacted)
	OnMessageStarred(ctx context.Context, ev MessageStarred)
	OnMessageForwarded(ctx context.Context, ev MessageForwarded)
	OnChatFlag(ctx context.Context, ev ChatFlag)
	OnChatCleared(ctx context.Context, ev ChatCleared)
	OnChatDeleted(ctx context.Context, ev ChatDeleted)
	OnGroupCreated(ctx context.Context, ev GroupCreated)
	OnGroupUpdated(ctx context.Context, ev GroupUpdated)
	OnGroupMembersUpdated(ctx context.Context, ev GroupMembersUpdated)
	OnGroupRoleUpdated(ctx context.Context, ev GroupRoleUpdated)
	OnGroupLeft(ctx context.Context, ev GroupLeft)
	OnProfileUpdated(ctx context.Context, ev ProfileUpdated)
	OnContactBlock(ctx context.Context, ev ContactBlock)
	OnMessageError(ctx context.Context, ev MessageError)
}

// SyncEvent is an inbound event describing server-confirmed state.
type SyncEvent interface {
	Event
	VisitSync(ctx context.Context, h SyncHandler)
}

// MessageSent confirms persistence of a message. TempID is set only on the
// sender's own confirmation; peer messages arrive without one.
type MessageSent struct {
	TempID  string        `json:"tempId,omitempty"`
	Message model.Message `json:"message"`
}

type MessageStatusUpdate struct {
	MessageID      string       `json:"messageId" validate:"required"`
	ConversationID string       `json:"conversationId"`
	Status         model.Status `json:"status" validate:"required,oneof=sent delivered read"`
}

// MessagesRead reports that ReaderID has read the conversation. An empty
// MessageIDs means every message up to now.
type MessagesRead struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	ReaderID       string   `json:"readerId" validate:"required"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

type MessageEdited struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	Content        string `json:"content"`
}

// MessageDeleted removes a message for everyone, or only for UserID.
type MessageDeleted struct {
	MessageID      string `json:"messageId" validate:"required"`
	ConversationID string `json:"conversationId" validate:"required"`
	ForEveryone    bool   `json:"forEveryone"`
	UserID         string `json:"userId,omitempty"`
}

// MessageReacted carries the authoritative reaction set.
type MessageReacted struct {
	MessageID      string           `json:"messageId" validate:"required"`
	ConversationID string           `json:"conversationId" validate:"required"`
	Reactions      []model.Reaction `json:"reactions" validate:"dive"`
}

// MessageStarred carries the authoritative starred-by set.
type MessageStarred struct {
	MessageID      string   `json:"messageId" validate:"required"`
	ConversationID string   `json:"conversationId" validate:"required"`
	StarredBy      []string `json:"starredBy"`
}

type MessageForwarded struct {
	Messages []model.Message `json:"messages" validate:"required,dive"`
}

// ChatFlag covers chat-pinned, chat-archived and chat-muted.
type ChatFlag struct {
	Flag           Kind   `json:"-"`
	ConversationID string `json:"conversationId" validate:"required"`
	Value          bool   `json:"value"`
}

type ChatCleared struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type ChatDeleted struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type GroupCreated struct {
	Conversation model.Conversation `json:"conversation"`
}

type GroupUpdated struct {
	Conversation model.Conversation `json:"conversation"`
}

type GroupMembersUpdated struct {
	ConversationID string              `json:"conversationId" validate:"required"`
	Participants   []model.Participant `json:"participants" validate:"dive"`
}

type GroupRoleUpdated struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
	Role           string `json:"role" validate:"required"`
}

type GroupLeft struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

type ProfileUpdated struct {
	User model.User `json:"user"`
}

// ContactBlock covers the four contact-(un)blocked(-by) events. ByPeer is
// set when the other user did the (un)blocking.
type ContactBlock struct {
	UserID  string `json:"userId" validate:"required"`
	Blocked bool   `json:"-"`
	ByPeer  bool   `json:"-"`
}

// MessageError reports that the server rejected a mutation identified by
// its temporary or request id.
type MessageError struct {
	TempID string `json:"tempId" validate:"required"`
	Error  string `json:"error"`
}

func (MessageSent) Kind() Kind         { return KindMessageSent }
func (MessageStatusUpdate) Kind() Kind { return KindMessageStatus }
func (MessagesRead) Kind() Kind        { return KindMessagesRead }
func (MessageEdited) Kind() Kind       { return KindMessageEdited }
func (MessageDeleted) Kind() Kind      { return KindMessageDeleted }
func (MessageReacted) Kind() Kind      { return KindMessageReacted }
func (MessageStarred) Kind() Kind      { return KindMessageStarred }
func (MessageForwarded) Kind() Kind    { return KindMessageForwarded }
func (e ChatFlag) Kind() Kind          { return e.Flag }
func (ChatCleared) Kind() Kind         { return KindChatCleared }
func (ChatDeleted) Kind() Kind         { return KindChatDeleted }
func (GroupCreated) Kind() Kind        { return KindGroupCreated }
func (GroupUpdated) Kind() Kind        { return KindGroupUpdated }
func (GroupMembersUpdated) Kind() Kind { return KindGroupMembersUpdated }
func (GroupRoleUpdated) Kind() Kind    { return KindGroupRoleUpdated }
func (GroupLeft) Kind() Kind           { return KindGroupLeft }
func (ProfileUpdated) Kind() Kind      { return KindProfileUpdated }
func (MessageError) Kind() Kind        { return KindMessageError }

func (e ContactBlock) Kind() Kind {
	switch {
	case e.Blocked && e.ByPeer:
		return KindContactBlockedBy
	case e.Blocked:
		return KindContactBlocked
	case e.ByPeer:
		return KindContactUnblockedBy
	default:
		return KindContactUnblocked
	}
}

func (MessageSent) isEvent()         {}
func (MessageStatusUpdate) isEvent() {}
func (MessagesRead) isEvent()        {}
func (MessageEdited) isEvent()       {}
func (MessageDeleted) isEvent()      {}
func (MessageReacted) isEvent()      {}
func (MessageStarred) isEvent()      {}
func (MessageForwarded) isEvent()    {}
func (ChatFlag) isEvent()            {}
func (ChatCleared) isEvent()         {}
func (ChatDeleted) isEvent()         {}
func (GroupCreated) isEvent()        {}
func (GroupUpdated) isEvent()        {}
func (GroupMembersUpdated) isEvent() {}
func (GroupRoleUpdated) isEvent()    {}
func (GroupLeft) isEvent()           {}
func (ProfileUpdated) isEvent()      {}
func (ContactBlock) isEvent()        {}
func (MessageError) isEvent()        {}

func (e MessageSent) VisitSync(ctx context.Context, h SyncHandler) { h.OnMessageSent(ctx, e) }
func (e MessageStatusUpdate) VisitSync(ctx context.Context, h SyncHandler) {
	h.OnMessageStatus(ctx, e)
}
func (e MessagesRead) VisitSync(ctx context.Context, h SyncHandler)   { h.OnMessagesRead(ctx, e) }
func (e MessageEdited) VisitSync(ctx context.Context, h SyncHandler)  { h.OnMessageEdited(ctx, e) }
func (e MessageDeleted) VisitSync(ctx context.Context, h SyncHandler) { h.OnMessageDeleted(ctx, e) }
func (e MessageReacted) VisitSync(ctx context.Context, h SyncHandler) { h.OnMessageReacted(ctx, e) }
func (e MessageStarred) VisitSync(ctx context.Context, h SyncHandler) { h.OnMessageStarred(ctx, e) }
func (e MessageForwarded) VisitSync(ctx context.Context, h SyncHandler) {
	h.OnMessageForwarded(ctx, e)
}
func (e ChatFlag) VisitSync(ctx context.Context, h SyncHandler)     { h.OnChatFlag(ctx, e) }
func (e ChatCleared) VisitSync(ctx context.Context, h SyncHandler)  { h.OnChatCleared(ctx, e) }
func (e ChatDeleted) VisitSync(ctx context.Context, h SyncHandler)  { h.OnChatDeleted(ctx, e) }
func (e GroupCreated) VisitSync(ctx context.Context, h SyncHandler) { h.OnGroupCreated(ctx, e) }
func (e GroupUpdated) VisitSync(ctx context.Context, h SyncHandler) { h.OnGroupUpdated(ctx, e) }
func (e GroupMembersUpdated) VisitSync(ctx context.Context, h SyncHandler) {
	h.OnGroupMembersUpdated(ctx, e)
}
func (e GroupRoleUpdated) VisitSync(ctx context.Context, h SyncHandler) {
	h.OnGroupRoleUpdated(ctx, e)
}
func (e GroupLeft) VisitSync(ctx context.Context, h SyncHandler)      { h.OnGroupLeft(ctx, e) }
func (e ProfileUpdated) VisitSync(ctx context.Context, h SyncHandler) { h.OnProfileUpdated(ctx, e) }
func (e ContactBlock) VisitSync(ctx context.Context, h SyncHandler)   { h.OnContactBlock(ctx, e) }
func (e MessageError) VisitSync(ctx context.Context, h SyncHandler)   { h.OnMessageError(ctx, e) }
