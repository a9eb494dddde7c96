package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/protocol"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/randx"
)

func TestGuestJoinRejected(t *testing.T) {
	h := newHarness(t)

	erin := h.start("h-erin")
	erin.push(t, `{"type":"hello","payload":{"username":"erin","token":null}}`)

	reply := erin.expect(t, protocol.TypeHello).Payload.(protocol.HelloReply)
	assert.Equal(t, protocol.HelloReply{Username: "erin", Guest: true}, reply)

	cc, ok := h.svc.Hub.LookupByHandle("h-erin")
	require.True(t, ok)
	assert.True(t, cc.User.IsGuest())

	erin.push(t, `{"type":"channel_join","payload":{"username":"erin","channel_id":5}}`)
	erin.expectError(t, errs.ErrGuestCannotJoin)

	assert.Empty(t, h.svc.Hub.MembersOf(5))
	_, created := h.svc.Hub.Channel(5)
	assert.False(t, created)
}

func TestRegisteredJoinConfirmedWithHistory(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "h-bob", "", "tok-bob")

	bob.push(t, `{"type":"channel_join","payload":{"username":"bob","channel_id":5}}`)

	confirm := bob.expect(t, protocol.TypeChannelJoin).Payload.(protocol.ChannelJoin)
	assert.Equal(t, protocol.ChannelJoin{Username: "bob", ChannelID: 5}, confirm)

	history := bob.expect(t, protocol.TypeChannelHistory).Payload.(protocol.ChannelHistory)
	assert.Equal(t, int64(5), history.ChannelID)
	assert.Empty(t, history.Messages)

	assert.Equal(t, []int64{7}, h.svc.Hub.members.MembersOf(5))
}

func TestChatFanOutExcludesSender(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")
	dave := h.login(t, "dave")

	h.join(t, bob, 5)
	h.join(t, carol, 5)
	bob.expect(t, protocol.TypeChannelJoin)

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"hi"}}`)

	echo := carol.expect(t, protocol.TypeChatSend).Payload.(protocol.ChatMessage)
	assert.Equal(t, protocol.ChatMessage{ChannelID: 5, Sender: "bob", Content: "hi"}, echo)

	dave.silent(t)
	bob.silent(t)

	stored := h.store.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "hi", stored[0].Content)
	require.NotNil(t, stored[0].SenderID)
	assert.Equal(t, int64(7), *stored[0].SenderID)
}

func TestUnknownTypeLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	h.join(t, bob, 5)

	before := h.svc.Hub.ActiveChannels()

	bob.push(t, `{"type":"frobnicate","payload":{"x":1}}`)
	p := bob.expectError(t, errs.ErrUnknownMessageType)
	assert.Contains(t, p.Detail, "frobnicate")
	bob.silent(t)

	assert.Equal(t, before, h.svc.Hub.ActiveChannels())
	assert.Equal(t, 1, h.svc.Hub.Len())
}

func TestChatAcknowledgedWhenCorrelated(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	h.join(t, bob, 5)

	bob.push(t, `{"type":"chat_send","correlation_id":"6f1c1a52-8b1e-4a43-9a55-1b2f3c4d5e6f","payload":{"channel_id":5,"content":"hi"}}`)

	ack := bob.expect(t, protocol.TypeChatSend)
	require.NotNil(t, ack.CorrelationID)
	assert.Equal(t, "6f1c1a52-8b1e-4a43-9a55-1b2f3c4d5e6f", ack.CorrelationID.String())
}

func TestChatSendValidation(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"hi"}}`)
	bob.expectError(t, errs.ErrNotChannelMember)

	h.join(t, bob, 5)

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"   "}}`)
	bob.expectError(t, errs.ErrMessageEmpty)

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"this is longer than sixteen"}}`)
	bob.expectError(t, errs.ErrMessageContentTooLong)

	assert.Empty(t, h.store.stored())
}

func TestChatDeliveredWhenPersistenceFails(t *testing.T) {
	h := newHarness(t)
	h.store.appendErr = errors.New("disk full")

	bob := h.login(t, "bob")
	carol := h.login(t, "carol")
	h.join(t, bob, 5)
	h.join(t, carol, 5)
	bob.expect(t, protocol.TypeChannelJoin)

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"hi"}}`)
	carol.expect(t, protocol.TypeChatSend)
	bob.silent(t)
}

func TestJoinReplaysHistoryAndNotifiesMembers(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	h.join(t, bob, 5)

	for _, content := range []string{"one", "two", "three", "four"} {
		bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"`+content+`"}}`)
	}
	require.Eventually(t, func() bool { return len(h.store.stored()) == 4 }, waitTimeout, 5*time.Millisecond)

	carol := h.login(t, "carol")
	carol.push(t, `{"type":"channel_join","payload":{"channel_id":5}}`)

	assert.Equal(t, protocol.ChannelJoin{Username: "carol", ChannelID: 5},
		carol.expect(t, protocol.TypeChannelJoin).Payload)
	history := carol.expect(t, protocol.TypeChannelHistory).Payload.(protocol.ChannelHistory)
	require.Len(t, history.Messages, 3)
	assert.Equal(t, "two", history.Messages[0].Content)
	assert.Equal(t, "four", history.Messages[2].Content)

	assert.Equal(t, protocol.ChannelJoin{Username: "carol", ChannelID: 5},
		bob.expect(t, protocol.TypeChannelJoin).Payload)

	// A repeated join is confirmed to the joiner only.
	carol.push(t, `{"type":"channel_join","payload":{"channel_id":5}}`)
	carol.expect(t, protocol.TypeChannelJoin)
	carol.expect(t, protocol.TypeChannelHistory)
	bob.silent(t)
}

func TestJoinWithoutHistoryWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	h.store.historyErr = errors.New("timeout")

	bob := h.login(t, "bob")
	bob.push(t, `{"type":"channel_join","payload":{"channel_id":5}}`)
	bob.expect(t, protocol.TypeChannelJoin)
	bob.silent(t)
	assert.True(t, h.svc.Hub.IsMember(7, 5))
}

func TestChannelPart(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")
	h.join(t, bob, 5)
	h.join(t, carol, 5)
	bob.expect(t, protocol.TypeChannelJoin)

	carol.push(t, `{"type":"channel_part","payload":{"channel_id":5}}`)

	want := protocol.ChannelLeave{Username: "carol", ChannelID: 5}
	assert.Equal(t, want, carol.expect(t, protocol.TypeChannelLeave).Payload)
	assert.Equal(t, want, bob.expect(t, protocol.TypeChannelLeave).Payload)
	assert.False(t, h.svc.Hub.IsMember(8, 5))

	carol.push(t, `{"type":"channel_part","payload":{"channel_id":5}}`)
	carol.expectError(t, errs.ErrNotChannelMember)
}

func TestKick(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")

	h.join(t, alice, 5)
	h.join(t, bob, 5)
	alice.expect(t, protocol.TypeChannelJoin)

	kickBob := `{"type":"kick","payload":{"channel_id":5,"target":"bob","reason":"spam"}}`

	// Not an admin.
	h.join(t, carol, 5)
	alice.expect(t, protocol.TypeChannelJoin)
	bob.expect(t, protocol.TypeChannelJoin)
	carol.push(t, kickBob)
	carol.expectError(t, errs.ErrForbidden)

	// Unknown channel.
	alice.push(t, `{"type":"kick","payload":{"channel_id":77,"target":"bob","reason":""}}`)
	alice.expectError(t, errs.ErrChannelNotFound)

	// Target not in the channel.
	alice.push(t, `{"type":"kick","payload":{"channel_id":5,"target":"dave","reason":""}}`)
	alice.expectError(t, errs.ErrTargetNotMember)

	alice.push(t, kickBob)
	want := protocol.Kick{ChannelID: 5, Target: "bob", Reason: "spam"}
	assert.Equal(t, want, alice.expect(t, protocol.TypeKick).Payload)
	assert.Equal(t, want, bob.expect(t, protocol.TypeKick).Payload)
	assert.Equal(t, want, carol.expect(t, protocol.TypeKick).Payload)

	assert.False(t, h.svc.Hub.IsMember(7, 5))
	assert.True(t, h.svc.Hub.IsMember(1, 5))

	// Kicked users are no longer members.
	bob.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"hey"}}`)
	bob.expectError(t, errs.ErrNotChannelMember)
}

func TestKickRequiresMembership(t *testing.T) {
	h := newHarness(t)
	alice := h.login(t, "alice")
	bob := h.login(t, "bob")
	h.join(t, bob, 5)

	alice.push(t, `{"type":"kick","payload":{"channel_id":5,"target":"bob","reason":""}}`)
	alice.expectError(t, errs.ErrNotChannelMember)
	assert.True(t, h.svc.Hub.IsMember(7, 5))
}

func TestDecodeErrorsKeepConnectionOpen(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")

	bob.push(t, `not json`)
	bob.expectError(t, errs.ErrMalformedMessage)

	bob.push(t, `{"type":"user_online","payload":{"username":"bob"}}`)
	bob.expectError(t, errs.ErrClientNotAllowed)

	bob.push(t, `{"type":"chat_send","payload":{"channel_id":"5"}}`)
	bob.expectError(t, errs.ErrMalformedPayload)

	bob.push(t, `{"type":"hello","payload":{"username":"bob","token":null}}`)
	bob.expectError(t, errs.ErrUnsupportedMessageType)

	h.join(t, bob, 5)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t)
	h.svc.Config.MessageRateLimit = 2
	bob := h.login(t, "bob")

	bob.push(t, `{"type":"channel_part","payload":{"channel_id":1}}`)
	bob.expectError(t, errs.ErrNotChannelMember)
	bob.push(t, `{"type":"channel_part","payload":{"channel_id":1}}`)
	bob.expectError(t, errs.ErrNotChannelMember)
	bob.push(t, `{"type":"channel_part","payload":{"channel_id":1}}`)
	bob.expectError(t, errs.ErrRateLimitExceeded)
}

func TestGuestNameGenerated(t *testing.T) {
	h := newHarness(t)
	mc := h.start("h-guest")
	mc.push(t, `{"type":"hello","payload":{"username":"","token":null}}`)

	reply := mc.expect(t, protocol.TypeHello).Payload.(protocol.HelloReply)
	assert.True(t, reply.Guest)
	assert.True(t, randx.IsGuestName(reply.Username), reply.Username)

	cc, ok := h.svc.Hub.LookupByHandle("h-guest")
	require.True(t, ok)
	assert.Nil(t, cc.User.ID)
}

func TestGuestCannotTakeOnlineRegisteredName(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")
	carol.ignore = nil

	impostor := h.start("h-impostor")
	impostor.push(t, `{"type":"hello","payload":{"username":"bob","token":null}}`)

	reply := impostor.expect(t, protocol.TypeHello).Payload.(protocol.HelloReply)
	assert.True(t, reply.Guest)
	assert.NotEqual(t, "bob", reply.Username)
	assert.True(t, randx.IsGuestName(reply.Username), reply.Username)

	online := carol.expect(t, protocol.TypeUserOnline).Payload.(protocol.UserOnline)
	assert.Equal(t, reply.Username, online.Username)

	impostor.Close(CloseNormal, "")
	require.NoError(t, h.runErr(t, "h-impostor"))

	offline := carol.expect(t, protocol.TypeUserOffline).Payload.(protocol.UserOffline)
	assert.Equal(t, reply.Username, offline.Username)
	carol.silent(t)

	cc, ok := h.svc.Hub.LookupByUser(7)
	require.True(t, ok)
	assert.Equal(t, "bob-conn", cc.Handle)
	bob.silent(t)
}

func TestGuestCannotTakeTakenName(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, h *harness)
		username string
	}{
		{"offline registered user", func(*testing.T, *harness) {}, "alice"},
		{"live guest", func(t *testing.T, h *harness) { h.connect(t, "h-erin", "erin", "") }, "erin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			mc := h.start("h-guest")
			mc.push(t, `{"type":"hello","payload":{"username":"`+tt.username+`","token":null}}`)

			reply := mc.expect(t, protocol.TypeHello).Payload.(protocol.HelloReply)
			assert.True(t, reply.Guest)
			assert.NotEqual(t, tt.username, reply.Username)
			assert.True(t, randx.IsGuestName(reply.Username), reply.Username)
		})
	}
}

func TestGuestNameLookupFailureClosesConnection(t *testing.T) {
	h := newHarness(t)
	h.store.lookupErr = errors.New("database is down")

	mc := h.start("h-guest")
	mc.push(t, `{"type":"hello","payload":{"username":"erin","token":null}}`)

	code, _ := mc.waitClosed(t)
	assert.Equal(t, CloseInternalError, code)
	assert.Error(t, h.runErr(t, "h-guest"))
	assert.Zero(t, h.svc.Hub.Len())
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		reason string
		err    error
	}{
		{"not hello", `{"type":"chat_send","payload":{"channel_id":1,"content":"x"}}`, "invalid hello", ErrHandshake},
		{"garbage", `{{{`, "invalid hello", ErrHandshake},
		{"malformed hello", `{"type":"hello","payload":{"user":"bob"}}`, "invalid hello", ErrHandshake},
		{"bad token", `{"type":"hello","payload":{"username":"bob","token":"forged"}}`, "authentication failed", ErrAuthentication},
		{"unknown subject", `{"type":"hello","payload":{"username":"ghost","token":"tok-ghost"}}`, "authentication failed", ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			mc := h.start("h-1")
			mc.push(t, tt.frame)

			code, reason := mc.waitClosed(t)
			assert.Equal(t, ClosePolicyViolation, code)
			assert.Equal(t, tt.reason, reason)
			assert.ErrorIs(t, h.runErr(t, "h-1"), tt.err)
			assert.Zero(t, h.svc.Hub.Len())
		})
	}
}

func TestHandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	mc := h.start("h-slow")

	code, reason := mc.waitClosed(t)
	assert.Equal(t, ClosePolicyViolation, code)
	assert.Equal(t, "handshake timeout", reason)
	assert.ErrorIs(t, h.runErr(t, "h-slow"), ErrHandshakeTimeout)
}

func TestPresence(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	bob.ignore = nil

	carol := h.login(t, "carol")
	assert.Equal(t, protocol.UserOnline{Username: "carol"}, bob.expect(t, protocol.TypeUserOnline).Payload)

	carol.Close(CloseNormal, "")
	assert.Equal(t, protocol.UserOffline{Username: "carol"}, bob.expect(t, protocol.TypeUserOffline).Payload)
}

func TestDisconnectCascade(t *testing.T) {
	h := newHarness(t)
	bob := h.login(t, "bob")
	carol := h.login(t, "carol")
	dave := h.login(t, "dave")

	h.join(t, bob, 5)
	h.join(t, bob, 6)
	h.join(t, carol, 5)
	bob.expect(t, protocol.TypeChannelJoin)
	h.join(t, dave, 6)
	bob.expect(t, protocol.TypeChannelJoin)

	bob.Close(CloseNormal, "")
	require.NoError(t, h.runErr(t, "bob-conn"))

	assert.Equal(t, protocol.ChannelLeave{Username: "bob", ChannelID: 5}, carol.expect(t, protocol.TypeChannelLeave).Payload)
	assert.Equal(t, protocol.ChannelLeave{Username: "bob", ChannelID: 6}, dave.expect(t, protocol.TypeChannelLeave).Payload)
	carol.silent(t)
	dave.silent(t)

	assert.Empty(t, h.svc.Hub.ChannelsOf(7))
	assert.Equal(t, []int64{8}, h.svc.Hub.members.MembersOf(5))
	_, ok := h.svc.Hub.LookupByUser(7)
	assert.False(t, ok)
	assert.Equal(t, 2, h.svc.Hub.Len())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	mc := newMockConn("h-bob")
	session := NewSession(mc, h.svc, h.router)

	done := make(chan error, 1)
	go func() { done <- session.Run(h.ctx) }()
	mc.push(t, `{"type":"hello","payload":{"username":"","token":"tok-bob"}}`)
	mc.expect(t, protocol.TypeHello)

	carol := h.login(t, "carol")
	h.join(t, carol, 5)
	carol.ignore = nil

	mc.push(t, `{"type":"channel_join","payload":{"channel_id":5}}`)
	mc.expect(t, protocol.TypeChannelJoin)
	carol.expect(t, protocol.TypeChannelJoin)

	session.Close(CloseGoingAway, "bye")
	session.Close(CloseNormal, "again")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("session did not stop")
	}

	// Run's own teardown after the loop ends must not repeat the cascade.
	carol.expect(t, protocol.TypeChannelLeave)
	carol.expect(t, protocol.TypeUserOffline)
	carol.silent(t)

	code, reason := mc.waitClosed(t)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "bye", reason)
}

func TestDuplicateLoginEvictsOldSession(t *testing.T) {
	h := newHarness(t)
	carol := h.login(t, "carol")
	first := h.connect(t, "h-bob-1", "", "tok-bob")
	h.join(t, first, 5)
	h.join(t, carol, 5)
	first.expect(t, protocol.TypeChannelJoin)
	carol.ignore = nil

	second := h.connect(t, "h-bob-2", "", "tok-bob")

	code, reason := first.waitClosed(t)
	assert.Equal(t, CloseSessionReplaced, code)
	assert.Equal(t, "session replaced", reason)
	require.NoError(t, h.runErr(t, "h-bob-1"))

	assert.Equal(t, protocol.UserOnline{Username: "bob"}, carol.expect(t, protocol.TypeUserOnline).Payload)

	// The replaced session's teardown neither drops memberships nor announces bob offline.
	carol.silent(t)
	assert.True(t, h.svc.Hub.IsMember(7, 5))

	cc, ok := h.svc.Hub.LookupByUser(7)
	require.True(t, ok)
	assert.Equal(t, "h-bob-2", cc.Handle)

	second.push(t, `{"type":"chat_send","payload":{"channel_id":5,"content":"back"}}`)
	assert.Equal(t, "back", carol.expect(t, protocol.TypeChatSend).Payload.(protocol.ChatMessage).Content)
}
