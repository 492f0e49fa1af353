package router

import (
	"encoding/json"
	"lobbycast/internal/client/transport/transporttest"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func raw(typ, payload string) protocol.Envelope {
	return protocol.MustNew(typ, json.RawMessage(payload))
}

func TestDecodeNormalizesChatAliases(t *testing.T) {
	cases := []string{
		`{"userId":"u1","username":"ann","message":"hi","timestamp":1700000000000}`,
		`{"playerId":"u1","displayName":"ann","content":"hi","timestamp":"2023-11-14T22:13:20Z"}`,
		`{"user_id":"u1","name":"ann","text":"hi","timestamp":1700000000000}`,
	}
	want := time.UnixMilli(1700000000000).UTC()
	for _, payload := range cases {
		ev, ok := Decode(raw(protocol.TypeChatMessage, payload)).(ChatEvent)
		require.True(t, ok, payload)
		assert.Equal(t, "u1", ev.UserID, payload)
		assert.Equal(t, "ann", ev.Username, payload)
		assert.Equal(t, "hi", ev.Message, payload)
		assert.True(t, want.Equal(ev.Timestamp), payload)
	}
}

func TestDecodeCategories(t *testing.T) {
	snapshot := model.Lobby{ID: "l1", HostID: "a", Phase: model.PhaseWaiting, Version: 3}
	cases := []struct {
		env  protocol.Envelope
		want Event
	}{
		{protocol.MustNew(protocol.TypeTransportConnect, nil), LifecycleEvent{}},
		{protocol.MustNew(protocol.TypeFriendStatus, model.FriendStatus{UserID: "f", Status: "online"}), FriendStatusEvent{}},
		{protocol.MustNew(protocol.TypeNotificationNew, model.Notification{ID: "n", Type: model.NotifySystem}), NotificationEvent{}},
		{protocol.MustNew(protocol.TypeInvitation, model.Invitation{ID: "i"}), InvitationEvent{}},
		{protocol.MustNew(protocol.TypePlayerJoin, protocol.PlayerEvent{Lobby: snapshot}), LobbyEvent{}},
		{protocol.MustNew(protocol.AckType(protocol.TypeLobbyJoin), protocol.OK(&snapshot)), AckEvent{}},
		{protocol.MustNew(protocol.TypeError, protocol.ProtocolError{Reason: "unknown_type"}), ErrorEvent{}},
		{protocol.MustNew("achievement:unlocked", nil), UnknownEvent{}},
	}
	for _, tc := range cases {
		assert.IsType(t, tc.want, Decode(tc.env), tc.env.Type)
	}
}

func TestDecodeLobbyAndAck(t *testing.T) {
	snapshot := model.Lobby{ID: "l1", HostID: "b", Phase: model.PhaseWaiting, Version: 7,
		Players: []model.PlayerSlot{{Index: 0, UserID: "b", IsHost: true}}}

	ev := Decode(protocol.MustNew(protocol.TypePlayerLeave, protocol.PlayerEvent{
		LobbyID: "l1", UserID: "a", NewHostID: "b", Lobby: snapshot,
	})).(LobbyEvent)
	assert.Equal(t, protocol.TypePlayerLeave, ev.Type)
	assert.Equal(t, "b", ev.NewHostID)
	require.NotNil(t, ev.Lobby)
	assert.EqualValues(t, 7, ev.Lobby.Version)

	sync := Decode(protocol.MustNew(protocol.TypeLobbySync, protocol.SyncSnapshot{
		Lobby: snapshot,
		Chat:  []model.ChatMessage{{UserID: "b", Message: "yo"}},
	})).(LobbyEvent)
	assert.Equal(t, "l1", sync.LobbyID, "lobby id falls back to the snapshot")
	require.Len(t, sync.Chat, 1)
	assert.Equal(t, "yo", sync.Chat[0].Message)

	ack := Decode(protocol.MustNew(protocol.AckType(protocol.TypeLobbyJoin), protocol.Failed("lobby_full"))).(AckEvent)
	assert.Equal(t, protocol.TypeLobbyJoin, ack.Command)
	assert.False(t, ack.Ack.Success)
	assert.Equal(t, "lobby_full", ack.Ack.Reason)

	bad := Decode(raw("lobby:join:ack", `[1,2]`)).(AckEvent)
	assert.Equal(t, "malformed_ack", bad.Ack.Reason)
}

func TestDecodeNotificationAndInvitation(t *testing.T) {
	n := Decode(raw(protocol.TypeNotificationNew,
		`{"id":"n1","type":"friend_request","title":"Hi","content":"bo wants to be friends","actionable":true,"data":{"playerId":"bo","requestId":"r1"},"timestamp":1700000000000}`,
	)).(NotificationEvent).Notification
	assert.Equal(t, model.NotifyFriendRequest, n.Type)
	assert.Equal(t, "bo wants to be friends", n.Message)
	assert.Equal(t, model.PriorityNormal, n.Priority)
	assert.True(t, n.Actionable)
	assert.Equal(t, "bo", n.Data["userId"])
	assert.Equal(t, "r1", n.Data["requestId"])

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := Decode(raw(protocol.TypeInvitation,
		`{"invitationId":"i1","lobbyId":"l1","fromUserId":"a","fromUsername":"ann","gameType":"pong","expiresAt":"2030-01-01T00:00:00Z"}`,
	)).(InvitationEvent).Invitation
	assert.Equal(t, "i1", inv.ID)
	assert.Equal(t, "ann", inv.FromUsername)
	assert.True(t, exp.Equal(inv.ExpiresAt))
}

func TestDispatchOrderAndRecovery(t *testing.T) {
	tr := transporttest.New()
	r := New(tr, zap.NewNop())

	var order []string
	r.OnGeneric(func(ev Event) { order = append(order, "generic:"+ev.Envelope().Type) })
	r.OnChat(func(ChatEvent) { panic("first chat handler fails") })
	r.OnChat(func(e ChatEvent) { order = append(order, "chat1:"+e.Message) })
	unsub := r.OnChat(func(e ChatEvent) { order = append(order, "chat2:"+e.Message) })
	r.OnLobby(func(e LobbyEvent) { order = append(order, "lobby:"+e.Type) })

	tr.Deliver(raw(protocol.TypeChatMessage, `{"message":"a"}`))
	unsub()
	unsub()
	tr.Deliver(raw(protocol.TypeChatMessage, `{"message":"b"}`))
	tr.DeliverNew(protocol.TypeGameStarted, protocol.GameStarted{LobbyID: "l1"})

	assert.Equal(t, []string{
		"generic:chat:message", "chat1:a", "chat2:a",
		"generic:chat:message", "chat1:b",
		"generic:lobby:game:started", "lobby:lobby:game:started",
	}, order)

	r.Close()
	tr.Deliver(raw(protocol.TypeChatMessage, `{"message":"c"}`))
	assert.Len(t, order, 7, "closed router receives nothing")
}

func TestLifecycleAndErrors(t *testing.T) {
	tr := transporttest.New()
	r := New(tr, zap.NewNop())

	var life []LifecycleEvent
	var errs []ErrorEvent
	r.OnLifecycle(func(e LifecycleEvent) { life = append(life, e) })
	r.OnError(func(e ErrorEvent) { errs = append(errs, e) })

	require.NoError(t, tr.Connect(testContext(t)))
	tr.DeliverNew(protocol.TypeError, protocol.ProtocolError{Type: "lobby:teleport", Reason: "unknown_type"})
	require.NoError(t, tr.Close())

	require.Len(t, life, 2)
	assert.True(t, life[0].Connected)
	assert.False(t, life[1].Connected)
	assert.True(t, life[1].Disconnect.Clean)
	require.Len(t, errs, 1)
	assert.Equal(t, "unknown_type", errs[0].Reason)
}

func TestDecodeNormalizesSlotAliases(t *testing.T) {
	ev := Decode(raw(protocol.TypePlayerJoin,
		`{"lobby":{"id":"l1","version":2,"players":[{"index":0,"playerId":"a","displayName":"ann","isHost":true},{"index":1,"user_id":"b","name":"bea"}]}}`,
	)).(LobbyEvent)
	require.NotNil(t, ev.Lobby)
	require.Len(t, ev.Lobby.Players, 2)
	assert.Equal(t, "a", ev.Lobby.Players[0].UserID)
	assert.Equal(t, "ann", ev.Lobby.Players[0].Username)
	assert.Equal(t, "b", ev.Lobby.Players[1].UserID)
	assert.Equal(t, "bea", ev.Lobby.Players[1].Username)
	host, ok := ev.Lobby.HostSlot()
	require.True(t, ok)
	assert.Equal(t, "a", host.UserID)

	ack := Decode(raw("lobby:join:ack",
		`{"success":true,"players":[{"index":0,"playerId":"a"}],"lobby":{"id":"l1","players":[{"index":0,"playerId":"a","displayName":"ann"}]}}`,
	)).(AckEvent)
	require.Len(t, ack.Ack.Players, 1)
	assert.Equal(t, "a", ack.Ack.Players[0].UserID)
	require.NotNil(t, ack.Ack.Lobby)
	assert.Equal(t, "ann", ack.Ack.Lobby.Players[0].Username)
	assert.Equal(t, "l1", ack.Ack.LobbyID)
}
