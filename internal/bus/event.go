package bus

import "time"

// Event represents a change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notification kinds. Subscribers filter on the prefix before the dot.
const (
	TransportStatusChanged = "transport.status_changed"

	CallStateChanged = "call.state_changed"
	CallEnded        = "call.ended"
	CallMediaError   = "call.media_error"
	CallRemoteMedia  = "call.remote_media"

	MessageUpserted     = "cache.message_upserted"
	MessageConfirmed    = "cache.message_confirmed"
	MessageFailed       = "cache.message_failed"
	MessageRemoved      = "cache.message_removed"
	PreviewChanged      = "cache.preview_changed"
	ConversationChanged = "cache.conversation_changed"
	MutationConfirmed   = "cache.mutation_confirmed"

	ViewChanged = "view.changed"

	OutboxQueued = "outbox.queued"
	OutboxFailed = "outbox.failed"
)
