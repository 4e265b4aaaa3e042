package cache

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/wire"
	"go.uber.org/zap"
)

const checkpointKey = "last_event_at"

// maxLapsed bounds how many timed-out requests wait for a late confirmation.
const maxLapsed = 256

// View is the Local Reactive Store holding the open conversation.
type View interface {
	OpenID() string
	Open(convID string, msgs []model.Message)
	Sync(convID string, msgs []model.Message)
	Close()
}

// Outbox queues optimistic mutations until the server confirms them.
type Outbox interface {
	Enqueue(ctx context.Context, m outbox.Mutation) error
	Ack(ctx context.Context, requestID string) error
	Fail(ctx context.Context, requestID, reason string) error
	Retry(ctx context.Context, requestID string) error
	Pending(ctx context.Context) ([]outbox.Pending, error)
}

// Signaler writes receipts to the Transport.
type Signaler interface {
	Send(ctx context.Context, env wire.Envelope) error
}

// Checkpointer persists the replay checkpoint.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, key, value string) error
	LoadCheckpoint(ctx context.Context, key string) (string, error)
}

// Deps are the Engine's collaborators. Only Self is required.
type Deps struct {
	Self        string
	View        View
	Outbox      Outbox
	Signaler    Signaler
	Checkpoints Checkpointer
	Bus         *bus.Bus
	Metrics     metrics.Collector
	Logger      *zap.Logger
}

// Rollback undoes one optimistic mutation.
type Rollback func()

type request struct {
	id       string
	kind     wire.Kind
	convID   string
	targetID string
	expect   string // the confirming state, for requests other users can race
	undo     Rollback
}

// Engine is the single writer of the Cache. It applies inbound Transport
// events and local optimistic mutations, keeps the open conversation's View
// in step, and emits delivery and read receipts.
type Engine struct {
	cache       *Cache
	self        string
	view        View
	outbox      Outbox
	signal      Signaler
	checkpoints Checkpointer
	bus         *bus.Bus
	metrics     metrics.Collector
	log         *zap.Logger
	now         func() time.Time
	newID       func() string

	mu        sync.Mutex
	inflight  []*request // issue order
	lapsed    []*request // rolled back on ack timeout, still confirmable
	lastEvent time.Time
	saved     time.Time
}

// NewEngine creates an engine over c.
func NewEngine(c *Cache, d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		cache:       c,
		self:        d.Self,
		view:        d.View,
		outbox:      d.Outbox,
		signal:      d.Signaler,
		checkpoints: d.Checkpoints,
		bus:         d.Bus,
		metrics:     d.Metrics,
		log:         d.Logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Cache returns the engine's cache for reads.
func (e *Engine) Cache() *Cache { return e.cache }

// Seed loads the conversation list.
func (e *Engine) Seed(convs []model.Conversation, previews []model.Preview) {
	e.mu.Lock()
	e.cache.Seed(convs, previews)
	e.mu.Unlock()
	for _, c := range convs {
		e.bus.Emit(bus.ConversationChanged, c)
	}
}

// LoadPage stores a page of history fetched out of band.
func (e *Engine) LoadPage(convID string, msgs []model.Message, older bool) {
	e.mu.Lock()
	e.cache.PutPage(convID, msgs, older)
	e.syncView(convID)
	preview, _ := e.cache.Preview(convID)
	e.mu.Unlock()
	e.bus.Emit(bus.PreviewChanged, preview)
}

// Open makes convID the open conversation, acknowledges everything in it as
// read and clears its unread counter.
func (e *Engine) Open(ctx context.Context, convID string) {
	e.mu.Lock()
	changed, preview := e.cache.MarkRead(convID, e.self, e.self, nil, true)
	if e.view != nil {
		e.view.Open(convID, e.cache.Messages(convID))
	}
	e.mu.Unlock()

	e.bus.Emit(bus.PreviewChanged, preview)
	if len(changed) > 0 {
		e.receipt(ctx, wire.KindMarkRead, convID, ids(changed))
	}
}

// Close clears the open conversation.
func (e *Engine) Close() {
	if e.view != nil {
		e.view.Close()
	}
}

// Since returns the time of the last reconciled server event.
func (e *Engine) Since() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastEvent
}

// LoadCheckpoint restores the replay checkpoint from storage.
func (e *Engine) LoadCheckpoint(ctx context.Context) error {
	if e.checkpoints == nil {
		return nil
	}
	v, err := e.checkpoints.LoadCheckpoint(ctx, checkpointKey)
	if err != nil || v == "" {
		return err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse checkpoint %q: %w", v, err)
	}
	e.mu.Lock()
	if t := time.UnixMilli(ms); t.After(e.lastEvent) {
		e.lastEvent = t
		e.saved = t
	}
	e.mu.Unlock()
	return nil
}

// Run persists the checkpoint every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.saveCheckpoint(ctx)
		case <-ctx.Done():
			e.saveCheckpoint(context.WithoutCancel(ctx))
			return
		}
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context) {
	if e.checkpoints == nil {
		return
	}
	e.mu.Lock()
	last, saved := e.lastEvent, e.saved
	e.mu.Unlock()
	if last.IsZero() || !last.After(saved) {
		return
	}
	if err := e.checkpoints.SaveCheckpoint(ctx, checkpointKey, strconv.FormatInt(last.UnixMilli(), 10)); err != nil {
		e.log.Warn("failed to save checkpoint", zap.Error(err))
		return
	}
	e.mu.Lock()
	if last.After(e.saved) {
		e.saved = last
	}
	e.mu.Unlock()
}

// reconciled must be called with mu held once per handled server event.
func (e *Engine) reconciled(kind wire.Kind) {
	e.lastEvent = e.now()
	e.metrics.EventReconciled(string(kind))
}

// syncView pushes convID's messages to the View when it is the open
// conversation. The open id is read now, never remembered.
func (e *Engine) syncView(convID string) {
	if e.view == nil || e.view.OpenID() != convID {
		return
	}
	e.view.Sync(convID, e.cache.Messages(convID))
}

func (e *Engine) isOpen(convID string) bool {
	return e.view != nil && convID != "" && e.view.OpenID() == convID
}

func (e *Engine) receipt(ctx context.Context, kind wire.Kind, convID string, messageIDs []string) {
	if e.signal == nil {
		return
	}
	env := wire.Envelope{Event: kind, Data: wire.Receipt{ConversationID: convID, MessageIDs: messageIDs}}
	if err := e.signal.Send(ctx, env); err != nil {
		e.log.Debug("receipt not sent", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

// OnMessageSent reconciles a persisted message. With a temporary id it is
// the confirmation of our own send; otherwise it is a new message.
func (e *Engine) OnMessageSent(ctx context.Context, ev wire.MessageSent) {
	if ev.TempID != "" {
		e.confirmSend(ctx, ev)
		return
	}
	e.addIncoming(ctx, wire.KindMessageSent, []model.Message{ev.Message})
}

func (e *Engine) confirmSend(ctx context.Context, ev wire.MessageSent) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	e.settle(ctx, ev.TempID)
	res := e.cache.ConfirmSend(ev.TempID, ev.Message)
	if res.Duplicate {
		e.mu.Unlock()
		e.log.Debug("duplicate send confirmation", zap.String("temp_id", ev.TempID))
		return
	}
	e.syncView(res.Message.ConversationID)
	e.mu.Unlock()

	e.bus.Emit(bus.MessageConfirmed, map[string]string{
		"conversation_id": res.Message.ConversationID,
		"temp_id":         ev.TempID,
		"message_id":      res.Message.ID,
	})
	e.bus.Emit(bus.PreviewChanged, res.Preview)
}

// addIncoming appends messages pushed by the server and acknowledges the
// ones from other users.
func (e *Engine) addIncoming(ctx context.Context, kind wire.Kind, msgs []model.Message) {
	delivered := map[string][]string{}
	read := map[string][]string{}
	var previews []model.Preview
	var added []model.Message

	e.mu.Lock()
	e.reconciled(kind)
	for _, m := range msgs {
		open := e.isOpen(m.ConversationID)
		p, ok := e.cache.AddIncoming(m, e.self, open)
		if !ok {
			continue
		}
		added = append(added, m)
		if m.SenderID != e.self {
			delivered[m.ConversationID] = append(delivered[m.ConversationID], m.ID)
			if open {
				_, p = e.cache.MarkRead(m.ConversationID, e.self, e.self, []string{m.ID}, true)
				read[m.ConversationID] = append(read[m.ConversationID], m.ID)
			}
		}
		previews = append(previews, p)
	}
	touched := map[string]bool{}
	for _, m := range added {
		if !touched[m.ConversationID] {
			touched[m.ConversationID] = true
			e.syncView(m.ConversationID)
		}
	}
	e.mu.Unlock()

	for _, m := range added {
		e.bus.Emit(bus.MessageUpserted, m)
	}
	for _, p := range previews {
		e.bus.Emit(bus.PreviewChanged, p)
	}
	for convID, msgIDs := range delivered {
		e.receipt(ctx, wire.KindMarkDelivered, convID, msgIDs)
	}
	for convID, msgIDs := range read {
		e.receipt(ctx, wire.KindMarkRead, convID, msgIDs)
	}
}

// OnMessageStatus advances a message's delivery status.
func (e *Engine) OnMessageStatus(_ context.Context, ev wire.MessageStatusUpdate) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	ch, ok := e.cache.SetStatus(ev.ConversationID, ev.MessageID, ev.Status)
	if ok && ch.Cached {
		e.syncView(ch.After.ConversationID)
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug("status for uncached message kept", zap.String("message_id", ev.MessageID), zap.String("status", string(ev.Status)))
		return
	}
	if ch.Cached {
		e.bus.Emit(bus.MessageUpserted, ch.After)
	}
	e.bus.Emit(bus.PreviewChanged, ch.Preview)
}

// OnMessagesRead applies a read receipt. A receipt for the open
// conversation, or one from our own account, clears the unread counter in
// the same pass.
func (e *Engine) OnMessagesRead(_ context.Context, ev wire.MessagesRead) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	resetUnread := ev.ReaderID == e.self || e.isOpen(ev.ConversationID)
	changed, preview := e.cache.MarkRead(ev.ConversationID, ev.ReaderID, e.self, ev.MessageIDs, resetUnread)
	if len(changed) > 0 {
		e.syncView(ev.ConversationID)
	}
	e.mu.Unlock()

	for _, m := range changed {
		e.bus.Emit(bus.MessageUpserted, m)
	}
	e.bus.Emit(bus.PreviewChanged, preview)
}

// OnMessageEdited applies an edit.
func (e *Engine) OnMessageEdited(ctx context.Context, ev wire.MessageEdited) {
	e.updateMessage(ctx, ev.Kind(), ev.ConversationID, ev.MessageID, ev.Content, func(m *model.Message) {
		m.Content = ev.Content
		m.Edited = true
	}, func(s *model.Summary) {
		s.Content = ev.Content
	})
}

// OnMessageDeleted tombstones a message deleted for everyone, or removes
// one the current user deleted for themselves. Deletions scoped to another
// user are ignored.
func (e *Engine) OnMessageDeleted(ctx context.Context, ev wire.MessageDeleted) {
	if ev.ForEveryone {
		e.updateMessage(ctx, ev.Kind(), ev.ConversationID, ev.MessageID, deletedForEveryone, tombstone, func(s *model.Summary) {
			s.Content = model.DeletedContent
			s.Deleted = true
		})
		return
	}
	if ev.UserID != "" && ev.UserID != e.self {
		return
	}

	e.mu.Lock()
	e.reconciled(ev.Kind())
	e.settleOldest(ctx, ev.Kind(), ev.MessageID, deletedForMe)
	r, ok := e.cache.RemoveMessage(ev.ConversationID, ev.MessageID)
	if ok {
		e.syncView(ev.ConversationID)
	}
	e.mu.Unlock()

	if ok {
		e.bus.Emit(bus.MessageRemoved, map[string]string{"conversation_id": ev.ConversationID, "message_id": ev.MessageID})
		e.bus.Emit(bus.PreviewChanged, r.Preview)
	}
}

const (
	deletedForEveryone = "everyone"
	deletedForMe       = "me"
)

func tombstone(m *model.Message) {
	m.Content = model.DeletedContent
	m.Deleted = true
	m.Reactions = nil
}

// OnMessageReacted replaces the reaction set with the server's.
func (e *Engine) OnMessageReacted(ctx context.Context, ev wire.MessageReacted) {
	rs := dedupeReactions(ev.Reactions)
	e.updateMessage(ctx, ev.Kind(), ev.ConversationID, ev.MessageID, reactionOf(rs, e.self), func(m *model.Message) {
		m.Reactions = rs
	}, nil)
}

// OnMessageStarred replaces the starred-by set with the server's.
func (e *Engine) OnMessageStarred(ctx context.Context, ev wire.MessageStarred) {
	starred := slices.Clone(ev.StarredBy)
	e.updateMessage(ctx, ev.Kind(), ev.ConversationID, ev.MessageID, strconv.FormatBool(slices.Contains(starred, e.self)), func(m *model.Message) {
		m.StarredBy = starred
	}, nil)
}

// updateMessage applies an authoritative change and settles the oldest
// optimistic request it confirms. state is what a confirmed request must
// have asked for.
func (e *Engine) updateMessage(ctx context.Context, kind wire.Kind, convID, id, state string, fn func(*model.Message), summary func(*model.Summary)) {
	e.mu.Lock()
	e.reconciled(kind)
	e.settleOldest(ctx, kind, id, state)
	ch, ok := e.cache.UpdateMessage(convID, id, fn, summary)
	if ok && ch.Cached {
		e.syncView(ch.After.ConversationID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	if ch.Cached {
		e.bus.Emit(bus.MessageUpserted, ch.After)
	}
	e.bus.Emit(bus.PreviewChanged, ch.Preview)
}

// OnMessageForwarded adds forwarded copies.
func (e *Engine) OnMessageForwarded(ctx context.Context, ev wire.MessageForwarded) {
	e.addIncoming(ctx, ev.Kind(), ev.Messages)
}

// OnChatFlag pins, mutes or archives a conversation's preview row.
func (e *Engine) OnChatFlag(_ context.Context, ev wire.ChatFlag) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	p := e.cache.SetFlag(ev.ConversationID, ev.Flag, ev.Value)
	e.mu.Unlock()
	e.bus.Emit(bus.PreviewChanged, p)
}

// OnChatCleared drops every cached message of one conversation.
func (e *Engine) OnChatCleared(_ context.Context, ev wire.ChatCleared) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	p := e.cache.Clear(ev.ConversationID)
	e.syncView(ev.ConversationID)
	e.mu.Unlock()
	e.bus.Emit(bus.PreviewChanged, p)
}

// OnChatDeleted forgets a conversation and closes it if open.
func (e *Engine) OnChatDeleted(_ context.Context, ev wire.ChatDeleted) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	e.cache.DeleteConversation(ev.ConversationID)
	if e.isOpen(ev.ConversationID) {
		e.view.Close()
	}
	e.mu.Unlock()
	e.bus.Emit(bus.ConversationChanged, map[string]string{"conversation_id": ev.ConversationID, "deleted": "true"})
}

// OnGroupCreated adds a new group.
func (e *Engine) OnGroupCreated(_ context.Context, ev wire.GroupCreated) {
	e.upsertConversation(ev.Kind(), ev.Conversation)
}

// OnGroupUpdated refreshes a group's name, avatar and, when given, members.
func (e *Engine) OnGroupUpdated(_ context.Context, ev wire.GroupUpdated) {
	conv := ev.Conversation
	if cached, ok := e.cache.Conversation(conv.ID); ok && len(conv.Participants) == 0 {
		conv.Participants = cached.Participants
	}
	e.upsertConversation(ev.Kind(), conv)
}

func (e *Engine) upsertConversation(kind wire.Kind, conv model.Conversation) {
	e.mu.Lock()
	e.reconciled(kind)
	p := e.cache.UpsertConversation(conv)
	e.mu.Unlock()
	e.bus.Emit(bus.ConversationChanged, conv)
	e.bus.Emit(bus.PreviewChanged, p)
}

// OnGroupMembersUpdated replaces the member list. New names and avatars in
// the list are copied onto cached messages as a profile update would.
func (e *Engine) OnGroupMembersUpdated(_ context.Context, ev wire.GroupMembersUpdated) {
	var renamed []model.User
	e.updateConversation(ev.Kind(), ev.ConversationID, func(c *model.Conversation) {
		for _, p := range ev.Participants {
			if p.Name == "" && p.Avatar == "" {
				continue
			}
			i := slices.IndexFunc(c.Participants, func(q model.Participant) bool { return q.UserID == p.UserID })
			if i < 0 || c.Participants[i].Name != p.Name || c.Participants[i].Avatar != p.Avatar {
				renamed = append(renamed, model.User{ID: p.UserID, Name: p.Name, Avatar: p.Avatar})
			}
		}
		c.Participants = slices.Clone(ev.Participants)
		c.Left = !slices.ContainsFunc(c.Participants, func(p model.Participant) bool { return p.UserID == e.self })
	})
	for _, u := range renamed {
		e.applyProfile(u)
	}
}

// OnGroupRoleUpdated changes one member's role.
func (e *Engine) OnGroupRoleUpdated(_ context.Context, ev wire.GroupRoleUpdated) {
	e.updateConversation(ev.Kind(), ev.ConversationID, func(c *model.Conversation) {
		for i := range c.Participants {
			if c.Participants[i].UserID == ev.UserID {
				c.Participants[i].Role = ev.Role
			}
		}
	})
}

// OnGroupLeft removes a member.
func (e *Engine) OnGroupLeft(_ context.Context, ev wire.GroupLeft) {
	e.updateConversation(ev.Kind(), ev.ConversationID, func(c *model.Conversation) {
		c.Participants = slices.DeleteFunc(c.Participants, func(p model.Participant) bool { return p.UserID == ev.UserID })
		if ev.UserID == e.self {
			c.Left = true
		}
	})
}

func (e *Engine) updateConversation(kind wire.Kind, convID string, fn func(*model.Conversation)) {
	e.mu.Lock()
	e.reconciled(kind)
	conv, ok := e.cache.UpdateConversation(convID, fn)
	e.mu.Unlock()
	if !ok {
		e.log.Debug("update for uncached conversation", zap.String("kind", string(kind)), zap.String("conversation_id", convID))
		return
	}
	e.bus.Emit(bus.ConversationChanged, conv)
}

// OnProfileUpdated rewrites a user's name and avatar wherever cached.
func (e *Engine) OnProfileUpdated(_ context.Context, ev wire.ProfileUpdated) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	e.mu.Unlock()
	e.applyProfile(ev.User)
}

func (e *Engine) applyProfile(u model.User) {
	e.mu.Lock()
	touched := e.cache.ApplyProfile(u, e.self)
	var previews []model.Preview
	for _, id := range touched {
		e.syncView(id)
		if p, ok := e.cache.Preview(id); ok {
			previews = append(previews, p)
		}
	}
	e.mu.Unlock()
	for _, p := range previews {
		e.bus.Emit(bus.PreviewChanged, p)
	}
}

// OnContactBlock flags the direct conversations with a user.
func (e *Engine) OnContactBlock(_ context.Context, ev wire.ContactBlock) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	var changed []model.Conversation
	for _, id := range e.cache.DirectWith(ev.UserID, e.self) {
		conv, ok := e.cache.UpdateConversation(id, func(c *model.Conversation) {
			if ev.ByPeer {
				c.BlockedBy = ev.Blocked
			} else {
				c.Blocked = ev.Blocked
			}
		})
		if ok {
			changed = append(changed, conv)
		}
	}
	e.mu.Unlock()
	for _, c := range changed {
		e.bus.Emit(bus.ConversationChanged, c)
	}
}

// OnMessageError rolls back the rejected mutation. TempID carries the
// temporary id of a send or the request id of any other mutation.
func (e *Engine) OnMessageError(ctx context.Context, ev wire.MessageError) {
	e.mu.Lock()
	e.reconciled(ev.Kind())
	e.mu.Unlock()
	if !e.fail(ctx, ev.TempID, ev.Error, true) {
		e.log.Debug("error for unknown request", zap.String("request_id", ev.TempID), zap.String("error", ev.Error))
	}
}

// Expire rolls back a mutation the outbox gave up on. The request stays
// confirmable: if the server's confirmation still arrives, the outbox entry
// is acknowledged and the confirming event is applied as usual.
func (e *Engine) Expire(ctx context.Context, requestID, reason string) {
	e.fail(ctx, requestID, reason, false)
}

func (e *Engine) fail(ctx context.Context, requestID, reason string, rejected bool) bool {
	e.mu.Lock()
	r := e.take(func(r *request) bool { return r.id == requestID })
	if r == nil {
		e.mu.Unlock()
		return false
	}
	if r.undo != nil {
		r.undo()
	}
	if !rejected {
		e.lapse(r)
	}
	e.syncView(r.convID)
	preview, _ := e.cache.Preview(r.convID)
	e.mu.Unlock()

	if rejected && e.outbox != nil {
		if err := e.outbox.Fail(ctx, requestID, reason); err != nil {
			e.log.Warn("failed to record mutation failure", zap.Error(err))
		}
	}
	e.metrics.OptimisticFailed(string(r.kind))
	e.log.Info("mutation rolled back",
		zap.String("request_id", requestID),
		zap.String("kind", string(r.kind)),
		zap.String("reason", reason))
	e.bus.Emit(bus.MessageFailed, map[string]string{
		"request_id":      requestID,
		"kind":            string(r.kind),
		"conversation_id": r.convID,
		"message_id":      r.targetID,
		"error":           reason,
	})
	e.bus.Emit(bus.PreviewChanged, preview)
	return true
}

// take removes and returns the oldest in-flight request matching fn. Must
// be called with mu held.
func (e *Engine) take(fn func(*request) bool) *request {
	return takeFrom(&e.inflight, fn)
}

func takeFrom(list *[]*request, fn func(*request) bool) *request {
	i := slices.IndexFunc(*list, fn)
	if i < 0 {
		return nil
	}
	r := (*list)[i]
	*list = slices.Delete(*list, i, i+1)
	return r
}

// lapse keeps a timed-out request around for a late confirmation. Must be
// called with mu held.
func (e *Engine) lapse(r *request) {
	r.undo = nil
	e.lapsed = append(e.lapsed, r)
	if n := len(e.lapsed) - maxLapsed; n > 0 {
		e.lapsed = slices.Delete(e.lapsed, 0, n)
	}
}

// settleMatching acks the oldest request matching fn, in flight or lapsed.
func (e *Engine) settleMatching(ctx context.Context, fn func(*request) bool) {
	r := e.take(fn)
	if r == nil {
		r = takeFrom(&e.lapsed, fn)
	}
	if r != nil {
		e.ack(ctx, r)
	}
}

// settle confirms the send with the given temporary id.
func (e *Engine) settle(ctx context.Context, requestID string) {
	e.settleMatching(ctx, func(r *request) bool { return r.id == requestID })
}

// settleOldest confirms the oldest request of kind on targetID that asked
// for state. Confirmations arrive in request order; a broadcast caused by
// another user's change does not match.
func (e *Engine) settleOldest(ctx context.Context, kind wire.Kind, targetID, state string) {
	want := requestKind(kind)
	e.settleMatching(ctx, func(r *request) bool {
		return r.kind == want && r.targetID == targetID && r.expect == state
	})
}

func (e *Engine) ack(ctx context.Context, r *request) {
	if e.outbox != nil {
		if err := e.outbox.Ack(ctx, r.id); err != nil {
			e.log.Warn("failed to ack mutation", zap.Error(err), zap.String("request_id", r.id))
		}
	}
	e.bus.Emit(bus.MutationConfirmed, map[string]string{"request_id": r.id, "kind": string(r.kind)})
}

// requestKind maps a confirming event to the request it confirms.
func requestKind(k wire.Kind) wire.Kind {
	switch k {
	case wire.KindMessageSent:
		return wire.KindSendMessage
	case wire.KindMessageReacted:
		return wire.KindReactMessage
	case wire.KindMessageStarred:
		return wire.KindStarMessage
	case wire.KindMessageDeleted:
		return wire.KindDeleteMessage
	case wire.KindMessageEdited:
		return wire.KindEditMessage
	}
	return k
}

// Inflight returns the request ids awaiting confirmation, oldest first.
func (e *Engine) Inflight() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.inflight))
	for i, r := range e.inflight {
		out[i] = r.id
	}
	return out
}

var _ wire.SyncHandler = (*Engine)(nil)
