package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownEvent is returned by Decode for event names outside the protocol.
var ErrUnknownEvent = errors.New("unknown event")

// Event is an inbound Transport event. Only types in this package implement
// it; every Event is either a CallEvent or a SyncEvent.
type Event interface {
	Kind() Kind
	isEvent()
}

// Frame is the JSON shape of every message on the socket.
type Frame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type decoder func(kind Kind, data json.RawMessage) (Event, error)

var decoders = map[Kind]decoder{
	KindIncomingCall: decodeAs[IncomingCall],
	KindCallAccepted: decodeAs[CallAccepted],
	KindCallRejected: decodeAs[CallRejected],
	KindCallEnded:    decodeAs[CallEnded],
	KindCallFailed:   decodeAs[CallFailed],
	KindCallBusy:     decodeAs[CallBusy],
	KindOffer:        decodeAs[Offer],
	KindAnswer:       decodeAs[Answer],
	KindICECandidate: decodeAs[ICECandidateEvent],
	KindMediaState:   decodeAs[MediaState],

	KindMessageSent:         decodeAs[MessageSent],
	KindMessageStatus:       decodeAs[MessageStatusUpdate],
	KindMessagesRead:        decodeAs[MessagesRead],
	KindMessageEdited:       decodeAs[MessageEdited],
	KindMessageDeleted:      decodeAs[MessageDeleted],
	KindMessageReacted:      decodeAs[MessageReacted],
	KindMessageStarred:      decodeAs[MessageStarred],
	KindMessageForwarded:    decodeAs[MessageForwarded],
	KindChatPinned:          decodeChatFlag,
	KindChatArchived:        decodeChatFlag,
	KindChatMuted:           decodeChatFlag,
	KindChatCleared:         decodeAs[ChatCleared],
	KindChatDeleted:         decodeAs[ChatDeleted],
	KindGroupCreated:        decodeAs[GroupCreated],
	KindGroupUpdated:        decodeAs[GroupUpdated],
	KindGroupMembersUpdated: decodeAs[GroupMembersUpdated],
	KindGroupRoleUpdated:    decodeAs[GroupRoleUpdated],
	KindGroupLeft:           decodeAs[GroupLeft],
	KindProfileUpdated:      decodeAs[ProfileUpdated],
	KindContactBlocked:      decodeContactBlock,
	KindContactBlockedBy:    decodeContactBlock,
	KindContactUnblocked:    decodeContactBlock,
	KindContactUnblockedBy:  decodeContactBlock,
	KindMessageError:        decodeAs[MessageError],
}

// Decode parses a raw frame into its typed event and validates it.
func Decode(raw []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	dec, ok := decoders[f.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	ev, err := dec(f.Event, f.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return ev, nil
}

func decodeAs[T Event](_ Kind, data json.RawMessage) (Event, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	if err := validate.Struct(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeChatFlag(kind Kind, data json.RawMessage) (Event, error) {
	ev, err := decodeAs[ChatFlag](kind, data)
	if err != nil {
		return nil, err
	}
	flag := ev.(ChatFlag)
	flag.Flag = kind
	return flag, nil
}

func decodeContactBlock(kind Kind, data json.RawMessage) (Event, error) {
	ev, err := decodeAs[ContactBlock](kind, data)
	if err != nil {
		return nil, err
	}
	cb := ev.(ContactBlock)
	cb.Blocked = kind == KindContactBlocked || kind == KindContactBlockedBy
	cb.ByPeer = kind == KindContactBlockedBy || kind == KindContactUnblockedBy
	return cb, nil
}

// Dispatch routes an event to the handler for its family. Events are
// delivered in the order Dispatch is called.
func Dispatch(ctx context.Context, ev Event, calls CallHandler, syncs SyncHandler) {
	switch e := ev.(type) {
	case CallEvent:
		if calls != nil {
			e.VisitCall(ctx, calls)
		}
	case SyncEvent:
		if syncs != nil {
			e.VisitSync(ctx, syncs)
		}
	}
}
