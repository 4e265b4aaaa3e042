// Package wire defines the real-time Transport protocol: a closed set of
// inbound events, each a distinct Go type, and the outbound envelopes the
// client emits.
package wire

// Kind is the event name carried in every frame.
type Kind string

// Inbound call signaling.
const (
	KindIncomingCall Kind = "incoming-call"
	KindCallAccepted Kind = "call-accepted"
	KindCallRejected Kind = "call-rejected"
	KindCallEnded    Kind = "call-ended"
	KindCallFailed   Kind = "call-failed"
	KindCallBusy     Kind = "call-busy"
	KindOffer        Kind = "webrtc-offer"
	KindAnswer       Kind = "webrtc-answer"
	KindICECandidate Kind = "webrtc-ice-candidate"
	KindMediaState   Kind = "call-media-state"
)

// Inbound cache synchronization.
const (
	KindMessageSent         Kind = "message-sent"
	KindMessageStatus       Kind = "message-status-update"
	KindMessagesRead        Kind = "messages-read"
	KindMessageEdited       Kind = "message-edited"
	KindMessageDeleted      Kind = "message-deleted"
	KindMessageReacted      Kind = "message-reacted"
	KindMessageStarred      Kind = "message-starred"
	KindMessageForwarded    Kind = "message-forwarded"
	KindChatPinned          Kind = "chat-pinned"
	KindChatCleared         Kind = "chat-cleared"
	KindChatArchived        Kind = "chat-archived"
	KindChatMuted           Kind = "chat-muted"
	KindChatDeleted         Kind = "chat-deleted"
	KindGroupCreated        Kind = "group-created"
	KindGroupUpdated        Kind = "group-updated"
	KindGroupMembersUpdated Kind = "group-members-updated"
	KindGroupRoleUpdated    Kind = "group-role-updated"
	KindGroupLeft           Kind = "group-left"
	KindProfileUpdated      Kind = "profile-updated"
	KindContactBlocked      Kind = "contact-blocked"
	KindContactBlockedBy    Kind = "contact-blocked-by"
	KindContactUnblocked    Kind = "contact-unblocked"
	KindContactUnblockedBy  Kind = "contact-unblocked-by"
	KindMessageError        Kind = "message-error"
)

// Outbound (client to server).
const (
	KindPresence      Kind = "user-online"
	KindCallUser      Kind = "call-user"
	KindAcceptCall    Kind = "accept-call"
	KindRejectCall    Kind = "reject-call"
	KindEndCall       Kind = "end-call"
	KindMarkRead      Kind = "mark-read"
	KindMarkDelivered Kind = "mark-delivered"
	KindSendMessage   Kind = "send-message"
	KindReactMessage  Kind = "react-message"
	KindStarMessage   Kind = "star-message"
	KindDeleteMessage Kind = "delete-message"
	KindEditMessage   Kind = "edit-message"
)
