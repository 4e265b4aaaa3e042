// Package cache holds the client's authoritative view of conversations and
// reconciles it against optimistic local mutations and server events.
package cache

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/wire"
)

// ErrNotFound is returned when a conversation or message is not cached.
var ErrNotFound = errors.New("cache: not found")

// Cache maps conversation ids to their page sequence and preview row. Every
// method takes the lock once, so a message change and the preview derived
// from it are observed together.
type Cache struct {
	mu            sync.RWMutex
	pageSize      int
	conversations map[string]model.Conversation
	previews      map[string]model.Preview
	pages         map[string][][]model.Message

	// temporary id -> conversation, while unconfirmed
	temp map[string]string
	// temporary id -> permanent id, once confirmed
	resolved map[string]string
	// statuses received for permanent ids not yet cached
	early map[string]model.Status
}

// New creates an empty cache. pageSize bounds each page; 0 means unbounded.
func New(pageSize int) *Cache {
	return &Cache{
		pageSize:      pageSize,
		conversations: make(map[string]model.Conversation),
		previews:      make(map[string]model.Preview),
		pages:         make(map[string][][]model.Message),
		temp:          make(map[string]string),
		resolved:      make(map[string]string),
		early:         make(map[string]model.Status),
	}
}

// Seed loads conversations and their preview rows.
func (c *Cache) Seed(convs []model.Conversation, previews []model.Preview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range convs {
		c.conversations[conv.ID] = conv.Clone()
		c.ensurePreview(conv.ID)
	}
	for _, p := range previews {
		c.previews[p.ConversationID] = p.Clone()
	}
}

// PutPage stores a page of history. Older pages are prepended. A newer page
// goes after every cached message it postdates, so pushes and pending sends
// that arrived before the fetch stay newest. Messages already cached are
// skipped.
func (c *Cache) PutPage(convID string, msgs []model.Message, older bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := c.pages[convID]
	page := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := locate(pages, byID(m.ID)); ok {
			continue
		}
		page = append(page, m.Clone())
	}
	if len(page) == 0 {
		if pages == nil {
			c.pages[convID] = [][]model.Message{}
		}
		return
	}
	if older {
		c.pages[convID] = append([][]model.Message{page}, pages...)
	} else {
		head, tail := splitAt(pages, c.newerThan(pages, page[len(page)-1].CreatedAt))
		head = append(head, page)
		if len(tail) > 0 {
			head = append(head, tail)
		}
		c.pages[convID] = head
	}
	c.refreshPreview(convID)
}

// newerThan returns where the trailing run of messages created after t, or
// still unconfirmed, begins.
func (c *Cache) newerThan(pages [][]model.Message, t time.Time) position {
	at := position{page: len(pages)}
	for p := len(pages) - 1; p >= 0; p-- {
		for i := len(pages[p]) - 1; i >= 0; i-- {
			m := pages[p][i]
			if _, pending := c.temp[m.ID]; !pending && !m.CreatedAt.After(t) {
				return at
			}
			at = position{page: p, index: i}
		}
	}
	return at
}

// Messages returns a copy of the conversation's messages, oldest first.
func (c *Cache) Messages(convID string) []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return flatten(c.pages[convID])
}

// Message returns one cached message.
func (c *Cache) Message(convID, id string) (model.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pages := c.pages[convID]
	p, ok := locate(pages, byID(id))
	if !ok {
		return model.Message{}, false
	}
	return at(pages, p).Clone(), true
}

// Count returns how many entries the conversation holds with the given id.
func (c *Cache) Count(convID, id string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, page := range c.pages[convID] {
		for _, m := range page {
			if m.ID == id {
				n++
			}
		}
	}
	return n
}

// Preview returns the preview row of a conversation.
func (c *Cache) Preview(convID string) (model.Preview, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.previews[convID]
	return p.Clone(), ok
}

// Previews returns every preview row, pinned first, then most recent.
func (c *Cache) Previews() []model.Preview {
	c.mu.RLock()
	out := make([]model.Preview, 0, len(c.previews))
	for _, p := range c.previews {
		out = append(out, p.Clone())
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		ti, tj := lastAt(out[i]), lastAt(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// Conversation returns a cached conversation.
func (c *Cache) Conversation(convID string) (model.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.conversations[convID]
	return conv.Clone(), ok
}

// ConversationOf returns the conversation holding message id.
func (c *Cache) ConversationOf(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(id)
}

func (c *Cache) findLocked(id string) (string, bool) {
	for convID, pages := range c.pages {
		if _, ok := locate(pages, byID(id)); ok {
			return convID, true
		}
	}
	return "", false
}

// ensurePreview creates the preview row for convID if missing.
func (c *Cache) ensurePreview(convID string) model.Preview {
	p, ok := c.previews[convID]
	if !ok {
		p = model.Preview{ConversationID: convID}
	}
	if conv, ok := c.conversations[convID]; ok {
		if conv.Name != "" {
			p.Title = conv.Name
		}
		if conv.Avatar != "" {
			p.Avatar = conv.Avatar
		}
	}
	c.previews[convID] = p
	return p
}

// refreshPreview derives the last-message summary from the newest cached
// message. Must be called with mu held after every change to convID's pages.
func (c *Cache) refreshPreview(convID string) model.Preview {
	p := c.ensurePreview(convID)
	if m, ok := newest(c.pages[convID]); ok {
		p.LastMessage = model.SummaryOf(m)
	} else if _, loaded := c.pages[convID]; loaded {
		p.LastMessage = nil
	}
	c.previews[convID] = p
	return p.Clone()
}

// patchSummary updates the preview of an unloaded conversation when its
// last message is the one that changed.
func (c *Cache) patchSummary(convID, id string, fn func(*model.Summary)) (model.Preview, bool) {
	p, ok := c.previews[convID]
	if !ok || p.LastMessage == nil || p.LastMessage.MessageID != id {
		return model.Preview{}, false
	}
	p = p.Clone()
	fn(p.LastMessage)
	c.previews[convID] = p
	return p.Clone(), true
}

// InsertPending adds an optimistic message as the newest entry.
func (c *Cache) InsertPending(m model.Message) model.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[m.ConversationID] = withAppended(c.pages[m.ConversationID], m.Clone(), c.pageSize)
	c.temp[m.TempID] = m.ConversationID
	return c.refreshPreview(m.ConversationID)
}

// Confirmation is the result of reconciling a send confirmation.
type Confirmation struct {
	Message   model.Message
	Preview   model.Preview
	Replaced  bool // the temporary entry was replaced in place
	Duplicate bool // the temporary id had already been resolved
}

// ConfirmSend replaces the temporary entry for tempID with the persisted
// message, keeping its position. A temporary id resolves at most once.
func (c *Cache) ConfirmSend(tempID string, m model.Message) Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.resolved[tempID]; done {
		return Confirmation{Duplicate: true}
	}
	convID := m.ConversationID
	if owner, ok := c.temp[tempID]; ok && convID == "" {
		convID = owner
		m.ConversationID = owner
	}
	m = m.Clone()
	m.TempID = tempID
	m.Status = m.Status.Advance(model.StatusSent)
	if st, ok := c.early[m.ID]; ok {
		m.Status = m.Status.Advance(st)
		delete(c.early, m.ID)
	}

	pages := c.pages[convID]
	tp, hasTemp := locate(pages, byTempID(tempID))
	pp, hasPerm := locate(pages, byID(m.ID))
	res := Confirmation{}

	switch {
	case hasTemp && hasPerm:
		// the permanent entry raced in as a push; the temporary slot wins
		m.Status = m.Status.Advance(at(pages, pp).Status)
		pages = withMessage(pages, tp, m)
		pages = withoutMessage(pages, pp)
		res.Replaced = true
	case hasTemp:
		pages = withMessage(pages, tp, m)
		res.Replaced = true
	case hasPerm:
		existing := at(pages, pp)
		existing.TempID = tempID
		existing.Status = existing.Status.Advance(m.Status)
		pages = withMessage(pages, pp, existing)
		m = existing
	default:
		pages = withAppended(pages, m, c.pageSize)
	}

	c.pages[convID] = pages
	delete(c.temp, tempID)
	c.resolved[tempID] = m.ID
	res.Message = m.Clone()
	res.Preview = c.refreshPreview(convID)
	return res
}

// Resolved returns the permanent id a temporary id was confirmed as.
func (c *Cache) Resolved(tempID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.resolved[tempID]
	return id, ok
}

// AddIncoming appends a message pushed by the server unless an entry with
// its permanent id already exists. When the message is from someone else
// and the conversation is not open, the unread counter is incremented.
func (c *Cache) AddIncoming(m model.Message, self string, open bool) (model.Preview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	convID := m.ConversationID
	pages := c.pages[convID]
	if _, ok := locate(pages, byID(m.ID)); ok {
		return model.Preview{}, false
	}
	m = m.Clone()
	if st, ok := c.early[m.ID]; ok {
		m.Status = m.Status.Advance(st)
		delete(c.early, m.ID)
	}
	c.pages[convID] = withAppended(pages, m, c.pageSize)
	p := c.refreshPreview(convID)
	if m.SenderID != self && !open {
		p.UnreadCount++
		c.previews[convID] = p
	}
	return p.Clone(), true
}

// Change describes a single-message update.
type Change struct {
	Before  model.Message
	After   model.Message
	Preview model.Preview
	Cached  bool // the message itself was found; otherwise only the preview changed
}

// UpdateMessage applies fn to message id of convID and refreshes the
// preview. With an empty convID the message is searched everywhere. When
// the message is not cached, summary is applied to the preview if its last
// message is id.
func (c *Cache) UpdateMessage(convID, id string, fn func(*model.Message), summary func(*model.Summary)) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if convID == "" {
		if found, ok := c.findLocked(id); ok {
			convID = found
		}
	}
	pages := c.pages[convID]
	p, ok := locate(pages, byID(id))
	if !ok {
		if summary == nil {
			return Change{}, false
		}
		for cid := range c.previews {
			if convID != "" && cid != convID {
				continue
			}
			if prev, ok := c.patchSummary(cid, id, summary); ok {
				return Change{Preview: prev}, true
			}
		}
		return Change{}, false
	}
	before := at(pages, p)
	after := before.Clone()
	fn(&after)
	c.pages[convID] = withMessage(pages, p, after)
	return Change{
		Before:  before.Clone(),
		After:   after.Clone(),
		Preview: c.refreshPreview(convID),
		Cached:  true,
	}, true
}

// SetStatus advances a message's status. A status for an id that is not
// cached yet is kept and applied when the message arrives.
func (c *Cache) SetStatus(convID, id string, st model.Status) (Change, bool) {
	ch, ok := c.UpdateMessage(convID, id, func(m *model.Message) {
		m.Status = m.Status.Advance(st)
	}, func(s *model.Summary) {
		s.Status = s.Status.Advance(st)
	})
	if ok && ch.Cached {
		return ch, true
	}
	c.mu.Lock()
	c.early[id] = c.early[id].Advance(st)
	c.mu.Unlock()
	return ch, ok
}

// Removal records where a removed message was, for rollback.
type Removal struct {
	Message model.Message
	Preview model.Preview
	at      position
}

// RemoveMessage drops a message from the conversation.
func (c *Cache) RemoveMessage(convID, id string) (Removal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := c.pages[convID]
	p, ok := locate(pages, byID(id))
	if !ok {
		return Removal{}, false
	}
	m := at(pages, p)
	c.pages[convID] = withoutMessage(pages, p)
	return Removal{Message: m.Clone(), Preview: c.refreshPreview(convID), at: p}, true
}

// Restore puts a removed message back where it was, unless it has
// reappeared in the meantime.
func (c *Cache) Restore(convID string, r Removal) model.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	pages := c.pages[convID]
	if _, ok := locate(pages, byID(r.Message.ID)); !ok {
		c.pages[convID] = withInserted(pages, r.at, r.Message)
	}
	return c.refreshPreview(convID)
}

// MarkRead applies a read receipt from readerID. A receipt from self marks
// messages from others as read, any other reader marks self's messages. An
// empty ids slice covers the whole conversation. With clearUnread the
// preview's unread counter is zeroed in the same pass.
func (c *Cache) MarkRead(convID, readerID, self string, ids []string, clearUnread bool) ([]model.Message, model.Preview) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ownReceipt := readerID == self
	covers := func(senderID, id string) bool {
		if (senderID == self) == ownReceipt {
			return false
		}
		return len(ids) == 0 || slices.Contains(ids, id)
	}

	pages := c.pages[convID]
	var changed []model.Message
	for pi, page := range pages {
		for mi, m := range page {
			if m.IsTemporary() || !covers(m.SenderID, m.ID) {
				continue
			}
			next := m.Status.Advance(model.StatusRead)
			if next == m.Status {
				continue
			}
			m = m.Clone()
			m.Status = next
			pages = withMessage(pages, position{pi, mi}, m)
			changed = append(changed, m)
		}
	}

	var p model.Preview
	if _, loaded := c.pages[convID]; loaded {
		c.pages[convID] = pages
		p = c.refreshPreview(convID)
	} else {
		p = c.ensurePreview(convID)
		if s := p.LastMessage; s != nil && covers(s.SenderID, s.MessageID) {
			p = p.Clone()
			p.LastMessage.Status = p.LastMessage.Status.Advance(model.StatusRead)
		}
	}
	if clearUnread {
		p.UnreadCount = 0
	}
	c.previews[convID] = p
	return changed, p.Clone()
}

// SetFlag applies a pin, mute or archive flag to the preview row only.
func (c *Cache) SetFlag(convID string, flag wire.Kind, value bool) model.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.ensurePreview(convID)
	switch flag {
	case wire.KindChatPinned:
		p.Pinned = value
	case wire.KindChatMuted:
		p.Muted = value
	case wire.KindChatArchived:
		p.Archived = value
	}
	c.previews[convID] = p
	return p.Clone()
}

// Clear removes every cached message of one conversation.
func (c *Cache) Clear(convID string) model.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropTempLocked(convID)
	c.pages[convID] = [][]model.Message{}
	p := c.refreshPreview(convID)
	p.UnreadCount = 0
	c.previews[convID] = p
	return p.Clone()
}

// DeleteConversation forgets a conversation entirely.
func (c *Cache) DeleteConversation(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropTempLocked(convID)
	delete(c.pages, convID)
	delete(c.previews, convID)
	delete(c.conversations, convID)
}

func (c *Cache) dropTempLocked(convID string) {
	for tempID, owner := range c.temp {
		if owner == convID {
			delete(c.temp, tempID)
		}
	}
}

// UpsertConversation stores a conversation and syncs its preview title.
func (c *Cache) UpsertConversation(conv model.Conversation) model.Preview {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[conv.ID] = conv.Clone()
	return c.ensurePreview(conv.ID).Clone()
}

// UpdateConversation applies fn to a cached conversation.
func (c *Cache) UpdateConversation(convID string, fn func(*model.Conversation)) (model.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[convID]
	if !ok {
		return model.Conversation{}, false
	}
	conv = conv.Clone()
	fn(&conv)
	c.conversations[convID] = conv
	c.ensurePreview(convID)
	return conv.Clone(), true
}

// ApplyProfile rewrites a user's name and avatar wherever they are
// denormalized. It returns the conversations that changed.
func (c *Cache) ApplyProfile(u model.User, self string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := map[string]bool{}

	for id, conv := range c.conversations {
		changed := false
		conv = conv.Clone()
		for i, p := range conv.Participants {
			if p.UserID == u.ID {
				conv.Participants[i].Name = u.Name
				conv.Participants[i].Avatar = u.Avatar
				changed = true
			}
		}
		if !changed {
			continue
		}
		c.conversations[id] = conv
		touched[id] = true
		if peer, ok := conv.Peer(self); ok && peer.UserID == u.ID {
			p := c.ensurePreview(id)
			p.Title = u.Name
			p.Avatar = u.Avatar
			c.previews[id] = p
		}
	}

	for convID, pages := range c.pages {
		changed := false
		for pi, page := range pages {
			for mi, m := range page {
				if m.SenderID != u.ID || (m.SenderName == u.Name && m.SenderAvatar == u.Avatar) {
					continue
				}
				m = m.Clone()
				m.SenderName = u.Name
				m.SenderAvatar = u.Avatar
				pages = withMessage(pages, position{pi, mi}, m)
				changed = true
			}
		}
		if changed {
			c.pages[convID] = pages
			touched[convID] = true
		}
	}

	out := make([]string, 0, len(touched))
	for id := range touched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DirectWith returns the direct conversations whose peer is userID.
func (c *Cache) DirectWith(userID, self string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, conv := range c.conversations {
		if peer, ok := conv.Peer(self); ok && peer.UserID == userID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func lastAt(p model.Preview) time.Time {
	if p.LastMessage == nil {
		return time.Time{}
	}
	return p.LastMessage.CreatedAt
}
