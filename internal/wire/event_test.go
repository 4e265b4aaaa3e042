package wire

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIncomingCall(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"incoming-call","data":{"from":"alice","callType":"video","callId":"c-1"}}`))
	require.NoError(t, err)

	call, ok := ev.(IncomingCall)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "alice", call.From)
	assert.Equal(t, "video", call.CallType)
	assert.Equal(t, "c-1", call.CallID)
	assert.Equal(t, KindIncomingCall, call.Kind())
}

func TestDecodeRejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing from", `{"event":"incoming-call","data":{"callType":"audio"}}`},
		{"bad call type", `{"event":"incoming-call","data":{"from":"a","callType":"fax"}}`},
		{"offer without sdp", `{"event":"webrtc-offer","data":{"from":"a","description":{"type":"offer"}}}`},
		{"bad status", `{"event":"message-status-update","data":{"messageId":"1","status":"pending"}}`},
		{"message without id", `{"event":"message-sent","data":{"message":{"conversationId":"c"}}}`},
		{"not json", `{"event":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"event":"typing","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeChatFlagKeepsKind(t *testing.T) {
	for _, kind := range []Kind{KindChatPinned, KindChatArchived, KindChatMuted} {
		raw, _ := json.Marshal(map[string]any{"event": kind, "data": map[string]any{"conversationId": "c1", "value": true}})
		ev, err := Decode(raw)
		require.NoError(t, err)
		flag := ev.(ChatFlag)
		assert.Equal(t, kind, flag.Flag)
		assert.Equal(t, kind, flag.Kind())
		assert.True(t, flag.Value)
	}
}

func TestDecodeContactBlockVariants(t *testing.T) {
	tests := []struct {
		kind            Kind
		blocked, byPeer bool
	}{
		{KindContactBlocked, true, false},
		{KindContactBlockedBy, true, true},
		{KindContactUnblocked, false, false},
		{KindContactUnblockedBy, false, true},
	}
	for _, tt := range tests {
		raw, _ := json.Marshal(map[string]any{"event": tt.kind, "data": map[string]any{"userId": "bob"}})
		ev, err := Decode(raw)
		require.NoError(t, err)
		cb := ev.(ContactBlock)
		assert.Equal(t, tt.blocked, cb.Blocked, tt.kind)
		assert.Equal(t, tt.byPeer, cb.ByPeer, tt.kind)
		assert.Equal(t, tt.kind, cb.Kind())
	}
}

type recorder struct {
	calls []Kind
	syncs []Kind
}

func (r *recorder) call(ev Event) { r.calls = append(r.calls, ev.Kind()) }
func (r *recorder) sync(ev Event) { r.syncs = append(r.syncs, ev.Kind()) }

func (r *recorder) OnIncomingCall(_ context.Context, ev IncomingCall)      { r.call(ev) }
func (r *recorder) OnCallAccepted(_ context.Context, ev CallAccepted)      { r.call(ev) }
func (r *recorder) OnCallRejected(_ context.Context, ev CallRejected)      { r.call(ev) }
func (r *recorder) OnCallEnded(_ context.Context, ev CallEnded)            { r.call(ev) }
func (r *recorder) OnCallFailed(_ context.Context, ev CallFailed)          { r.call(ev) }
func (r *recorder) OnCallBusy(_ context.Context, ev CallBusy)              { r.call(ev) }
func (r *recorder) OnOffer(_ context.Context, ev Offer)                    { r.call(ev) }
func (r *recorder) OnAnswer(_ context.Context, ev Answer)                  { r.call(ev) }
func (r *recorder) OnICECandidate(_ context.Context, ev ICECandidateEvent) { r.call(ev) }
func (r *recorder) OnMediaState(_ context.Context, ev MediaState)          { r.call(ev) }

func (r *recorder) OnMessageSent(_ context.Context, ev MessageSent)                 { r.sync(ev) }
func (r *recorder) OnMessageStatus(_ context.Context, ev MessageStatusUpdate)       { r.sync(ev) }
func (r *recorder) OnMessagesRead(_ context.Context, ev MessagesRead)               { r.sync(ev) }
func (r *recorder) OnMessageEdited(_ context.Context, ev MessageEdited)             { r.sync(ev) }
func (r *recorder) OnMessageDeleted(_ context.Context, ev MessageDeleted)           { r.sync(ev) }
func (r *recorder) OnMessageReacted(_ context.Context, ev MessageReacted)           { r.sync(ev) }
func (r *recorder) OnMessageStarred(_ context.Context, ev MessageStarred)           { r.sync(ev) }
func (r *recorder) OnMessageForwarded(_ context.Context, ev MessageForwarded)       { r.sync(ev) }
func (r *recorder) OnChatFlag(_ context.Context, ev ChatFlag)                       { r.sync(ev) }
func (r *recorder) OnChatCleared(_ context.Context, ev ChatCleared)                 { r.sync(ev) }
func (r *recorder) OnChatDeleted(_ context.Context, ev ChatDeleted)                 { r.sync(ev) }
func (r *recorder) OnGroupCreated(_ context.Context, ev GroupCreated)               { r.sync(ev) }
func (r *recorder) OnGroupUpdated(_ context.Context, ev GroupUpdated)               { r.sync(ev) }
func (r *recorder) OnGroupMembersUpdated(_ context.Context, ev GroupMembersUpdated) { r.sync(ev) }
func (r *recorder) OnGroupRoleUpdated(_ context.Context, ev GroupRoleUpdated)       { r.sync(ev) }
func (r *recorder) OnGroupLeft(_ context.Context, ev GroupLeft)                     { r.sync(ev) }
func (r *recorder) OnProfileUpdated(_ context.Context, ev ProfileUpdated)           { r.sync(ev) }
func (r *recorder) OnContactBlock(_ context.Context, ev ContactBlock)               { r.sync(ev) }
func (r *recorder) OnMessageError(_ context.Context, ev MessageError)               { r.sync(ev) }

func TestDispatchRoutesByFamily(t *testing.T) {
	h := &recorder{}
	ctx := context.Background()

	Dispatch(ctx, IncomingCall{From: "a", CallType: "audio"}, h, h)
	Dispatch(ctx, MessageSent{}, h, h)
	Dispatch(ctx, ICECandidateEvent{From: "a"}, h, h)
	Dispatch(ctx, ChatFlag{Flag: KindChatMuted}, h, h)

	assert.Equal(t, []Kind{KindIncomingCall, KindICECandidate}, h.calls)
	assert.Equal(t, []Kind{KindMessageSent, KindChatMuted}, h.syncs)
}

func TestDispatchToleratesMissingHandler(t *testing.T) {
	assert.NotPanics(t, func() {
		Dispatch(context.Background(), MessageSent{}, nil, nil)
	})
}

func TestEnvelopeEncode(t *testing.T) {
	b, err := Envelope{Event: KindEndCall, Data: EndCall{To: "bob", CallID: "c-9", Duration: 42}}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"end-call","data":{"to":"bob","callId":"c-9","duration":42}}`, string(b))
}
