package lobbyview

import (
	"errors"
	"lobbycast/internal/client/router"
	"lobbycast/internal/client/transport/transporttest"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func slot(i int, userID string, host, ready bool) model.PlayerSlot {
	return model.PlayerSlot{Index: i, UserID: userID, Username: userID, IsHost: host, IsReady: ready, IsOnline: true}
}

func snapshot(version int64, players ...model.PlayerSlot) model.Lobby {
	l := model.Lobby{ID: "l1", GameType: "pong", MaxPlayers: 2, Phase: model.PhaseWaiting, Version: version, Players: players}
	if host, ok := l.HostSlot(); ok {
		l.HostID = host.UserID
	}
	return l
}

func newController(t *testing.T, self string, opts Options) (*Controller, *transporttest.Fake) {
	t.Helper()
	tr := transporttest.New()
	require.NoError(t, tr.Connect(testContext(t)))
	r := router.New(tr, zap.NewNop())
	c := New(tr, r, self, opts, zap.NewNop())
	t.Cleanup(func() {
		c.Close()
		r.Close()
	})
	c.Mount()
	return c, tr
}

// joined puts self into l1 the way the authority does: the join broadcast
// first, then the ack.
func joined(t *testing.T, c *Controller, tr *transporttest.Fake, snap model.Lobby) {
	t.Helper()
	tr.OnSend = func(s transporttest.Sent) {
		if s.Type != protocol.TypeLobbyJoin {
			return
		}
		tr.DeliverNew(protocol.TypePlayerJoin, protocol.PlayerEvent{LobbyID: snap.ID, UserID: c.selfID, Lobby: snap})
		tr.DeliverNew(protocol.AckType(protocol.TypeLobbyJoin), protocol.OK(&snap))
	}
	got, err := c.Join(testContext(t), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.Version, got.Version)
	tr.OnSend = nil
}

func TestReadyWaitsForBroadcast(t *testing.T) {
	c, tr := newController(t, "b", Options{})
	var renders int
	c.OnRender(func(View) { renders++ })

	joined(t, c, tr, snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false)))
	assert.Equal(t, 1, renders, "the ack repeats the join snapshot")

	require.True(t, c.ToggleReady())
	require.True(t, c.ToggleReady())
	assert.False(t, c.View().Ready, "own toggle is not applied locally")
	sent := tr.SentOfType(protocol.TypeLobbyReady)
	require.Len(t, sent, 2)
	for _, s := range sent {
		assert.Equal(t, protocol.ReadyRequest{LobbyID: "l1", IsReady: true}, s.Payload)
	}

	ready := snapshot(3, slot(0, "a", true, false), slot(1, "b", false, true))
	tr.DeliverNew(protocol.TypePlayerReady, protocol.PlayerEvent{LobbyID: "l1", UserID: "b", IsReady: true, Lobby: ready})
	assert.True(t, c.View().Ready)

	// the second request changes nothing server side; a replayed or older
	// snapshot must not undo the applied one
	tr.DeliverNew(protocol.TypePlayerReady, protocol.PlayerEvent{LobbyID: "l1", Lobby: snapshot(3, slot(0, "a", true, false), slot(1, "b", false, false))})
	tr.DeliverNew(protocol.TypePlayerJoin, protocol.PlayerEvent{LobbyID: "l1", Lobby: snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false))})
	assert.True(t, c.View().Ready)
	assert.EqualValues(t, 3, c.View().Authority.Version())
	assert.Equal(t, 2, renders)
}

func TestHostControlsFollowSnapshot(t *testing.T) {
	c, tr := newController(t, "a", Options{})
	first := snapshot(1, slot(0, "a", true, false))
	tr.OnSend = func(s transporttest.Sent) {
		if s.Type == protocol.TypeLobbyCreate {
			tr.DeliverNew(protocol.AckType(protocol.TypeLobbyCreate), protocol.OK(&first))
		}
	}
	l, err := c.Create(testContext(t), "pong", 2)
	require.NoError(t, err)
	assert.Equal(t, "l1", l.ID)

	v := c.View()
	assert.True(t, v.IsHost)
	assert.False(t, v.CanStart, "a lone host cannot start")
	assert.False(t, c.Start())

	tr.DeliverNew(protocol.TypePlayerJoin, protocol.PlayerEvent{LobbyID: "l1", UserID: "b",
		Lobby: snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false))})
	assert.False(t, c.View().CanStart, "b is not ready")
	assert.False(t, c.Start())
	assert.Empty(t, tr.SentOfType(protocol.TypeLobbyStart))
	assert.False(t, c.Kick("a"), "cannot kick self")

	tr.DeliverNew(protocol.TypePlayerReady, protocol.PlayerEvent{LobbyID: "l1", UserID: "b",
		Lobby: snapshot(3, slot(0, "a", true, false), slot(1, "b", false, true))})
	assert.True(t, c.View().CanStart)
	assert.True(t, c.Start())
	require.Len(t, tr.SentOfType(protocol.TypeLobbyStart), 1)

	handedOver := snapshot(4, slot(0, "a", false, false), slot(1, "b", true, true))
	tr.DeliverNew(protocol.TypePlayerCustomize, protocol.PlayerEvent{LobbyID: "l1", Lobby: handedOver})
	v = c.View()
	assert.False(t, v.IsHost, "host status is read from each snapshot")
	assert.False(t, v.CanStart)
	assert.False(t, c.Kick("b"))
	assert.False(t, c.AddAI(model.AIEasy))
	assert.Empty(t, tr.SentOfType(protocol.TypeLobbyKick))

	starting := handedOver
	starting.Version, starting.Phase = 5, model.PhaseStarting
	tr.DeliverNew(protocol.TypeGameStarting, protocol.GameStarting{LobbyID: "l1", GameID: "g1", Countdown: 3, Lobby: starting})
	v = c.View()
	assert.Equal(t, "g1", v.GameID)
	assert.Equal(t, 3, v.Countdown)
}

func TestChatRendersFromBroadcastOnly(t *testing.T) {
	c, tr := newController(t, "b", Options{ChatHistory: 2})
	joined(t, c, tr, snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false)))

	c.SetChatDraft("hello")
	assert.Equal(t, "hello", c.View().Local.ChatDraft)
	require.True(t, c.SendChat(c.View().Local.ChatDraft))
	assert.Empty(t, c.View().Local.ChatDraft)
	assert.Empty(t, c.View().Authority.Chat(), "outbound text is not rendered")
	assert.False(t, c.SendChat("   "))

	line := func(lobbyID, msg string) protocol.ChatBroadcast {
		return protocol.ChatBroadcast{LobbyID: lobbyID, UserID: "b", Username: "b", Message: msg, Timestamp: time.Now()}
	}
	tr.DeliverNew(protocol.TypeLobbyChat, line("l1", "hello"))
	tr.DeliverNew(protocol.TypeLobbyChat, line("l2", "elsewhere"))
	tr.DeliverNew(protocol.TypeChatMessage, line("l1", "direct"))
	chat := c.View().Authority.Chat()
	require.Len(t, chat, 1)
	assert.Equal(t, "hello", chat[0].Message)

	tr.DeliverNew(protocol.TypeLobbyChat, line("l1", "two"))
	tr.DeliverNew(protocol.TypeLobbyChat, line("l1", "three"))
	chat = c.View().Authority.Chat()
	require.Len(t, chat, 2)
	assert.Equal(t, "two", chat[0].Message)
}

func TestJoinFailures(t *testing.T) {
	c, tr := newController(t, "b", Options{AckTimeout: 50 * time.Millisecond})

	tr.OnSend = func(s transporttest.Sent) {
		tr.DeliverNew(protocol.AckType(s.Type), protocol.Failed("lobby_full"))
	}
	_, err := c.Join(testContext(t), "l1")
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "lobby_full", rej.Reason)
	assert.Equal(t, "That lobby is full.", DescribeReason(rej.Reason))

	tr.OnSend = nil
	_, err = c.Join(testContext(t), "l1")
	assert.ErrorIs(t, err, ErrAckTimeout)

	// a broadcast for a lobby that was never joined is ignored
	tr.DeliverNew(protocol.TypePlayerJoin, protocol.PlayerEvent{LobbyID: "l1", Lobby: snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false))})
	assert.Empty(t, c.View().Authority.LobbyID())

	require.NoError(t, tr.Close())
	_, err = c.Join(testContext(t), "l1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWaitMounted(t *testing.T) {
	tr := transporttest.New()
	require.NoError(t, tr.Connect(testContext(t)))
	c := New(tr, router.New(tr, zap.NewNop()), "b", Options{}, zap.NewNop())

	err := c.WaitMounted(testContext(t), 3, time.Millisecond)
	assert.ErrorIs(t, err, ErrNotMounted)

	c.Mount()
	assert.ErrorIs(t, c.WaitMounted(testContext(t), 2, time.Millisecond), ErrNotMounted, "mounted but no snapshot yet")

	joined(t, c, tr, snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false)))
	assert.NoError(t, c.WaitMounted(testContext(t), 1, time.Millisecond))
}

func TestRemovalClearsView(t *testing.T) {
	c, tr := newController(t, "b", Options{})
	joined(t, c, tr, snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false)))

	tr.DeliverNew(protocol.TypeKicked, protocol.KickedNotice{LobbyID: "l1", ByUserID: "a"})
	v := c.View()
	assert.Empty(t, v.Authority.LobbyID())
	assert.Equal(t, "You were removed from the lobby", v.Local.Notice)

	tr.DeliverNew(protocol.TypePlayerKicked, protocol.PlayerEvent{LobbyID: "l1", Lobby: snapshot(3, slot(0, "a", true, false))})
	assert.Empty(t, c.View().Authority.LobbyID(), "later broadcasts for the old lobby are ignored")
	assert.False(t, c.SetReady(true))

	joined(t, c, tr, snapshot(4, slot(0, "a", true, false), slot(1, "b", false, false)))
	require.True(t, c.Leave())
	tr.DeliverNew(protocol.AckType(protocol.TypeLobbyLeave), protocol.OK(nil))
	assert.Empty(t, c.View().Authority.LobbyID())
}

func TestReconnectResyncs(t *testing.T) {
	c, tr := newController(t, "b", Options{})
	joined(t, c, tr, snapshot(2, slot(0, "a", true, false), slot(1, "b", false, false)))

	require.NoError(t, tr.Close())
	assert.Equal(t, "Connection lost", c.View().Local.Notice)
	require.NoError(t, tr.Connect(testContext(t)))
	sent := tr.SentOfType(protocol.TypeLobbySync)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.LobbyRequest{LobbyID: "l1"}, sent[0].Payload)

	tr.DeliverNew(protocol.TypeLobbySync, protocol.SyncSnapshot{
		Lobby: snapshot(6, slot(0, "a", true, false), slot(1, "b", false, true)),
		Chat:  []model.ChatMessage{{UserID: "a", Username: "a", Message: "missed"}},
	})
	v := c.View()
	assert.True(t, v.Ready)
	require.Len(t, v.Authority.Chat(), 1)
	assert.Equal(t, "missed", v.Authority.Chat()[0].Message)
}
