package client

import (
	"context"
	"lobbycast/internal/client/modal"
	"lobbycast/internal/client/notify"
	"lobbycast/internal/client/router"
	"lobbycast/internal/client/transport"
	"lobbycast/internal/client/transport/transporttest"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func token(t *testing.T, userID, username string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &model.UserClaims{
		UserID:           userID,
		Username:         username,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func newClient(t *testing.T) (*Client, *transporttest.Fake) {
	t.Helper()
	tr := transporttest.New()
	c, err := Wire(tr, notify.NewMemoryStorage(), Config{Token: token(t, "b", "bea")}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.Connect(testContext(t)))
	t.Cleanup(func() { c.Close() })
	return c, tr
}

func TestIdentityFromToken(t *testing.T) {
	_, err := IdentityFromToken("")
	assert.ErrorIs(t, err, transport.ErrMissingToken)

	_, err = IdentityFromToken("not-a-jwt")
	var connErr *transport.ConnectionError
	assert.ErrorAs(t, err, &connErr)

	id, err := IdentityFromToken(token(t, "b", "bea"))
	require.NoError(t, err)
	assert.Equal(t, model.UserIdentity{UserID: "b", Username: "bea"}, id)
}

func TestInvitationDeliveredTwiceIsStoredOnce(t *testing.T) {
	c, tr := newClient(t)
	inv := model.Invitation{
		ID: "inv1", LobbyID: "l1", GameType: "pong", FromUserID: "a", FromUsername: "ann", ToUserID: "b",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	tr.DeliverNew(protocol.TypeInvitation, inv)
	tr.DeliverNew(protocol.TypeNotificationNew, inv.Notification(time.Now()))

	all := c.Notifications.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, model.NotifyInvitation, all[0].Type)
	assert.True(t, all[0].Actionable)
	assert.Equal(t, "l1", all[0].Data["lobbyId"])
	assert.Equal(t, 1, c.Notifications.GetUnreadCount())
}

func TestAcceptInvitationMountsLobby(t *testing.T) {
	c, tr := newClient(t)
	inv := model.Invitation{ID: "inv1", LobbyID: "l1", FromUserID: "a", ToUserID: "b", ExpiresAt: time.Now().Add(time.Minute)}
	tr.DeliverNew(protocol.TypeInvitation, inv)

	snap := model.Lobby{ID: "l1", HostID: "a", Phase: model.PhaseWaiting, MaxPlayers: 2, Version: 2, Players: []model.PlayerSlot{
		{Index: 0, UserID: "a", IsHost: true},
		{Index: 1, UserID: "b"},
	}}
	tr.OnSend = func(s transporttest.Sent) {
		if s.Type != protocol.TypeInvitationRespond {
			return
		}
		tr.DeliverNew(protocol.TypePlayerJoin, protocol.PlayerEvent{LobbyID: "l1", UserID: "b", Lobby: snap})
		tr.DeliverNew(protocol.AckType(protocol.TypeInvitationRespond), protocol.OK(&snap))
	}

	require.NoError(t, c.RespondToInvitation("inv1", true))
	assert.Equal(t, "l1", c.Lobby.View().Authority.LobbyID())
	sent := tr.SentOfType(protocol.TypeInvitationRespond)
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.InvitationResponse{InvitationID: "inv1", Accept: true}, sent[0].Payload)
}

func TestConfirmIsExclusive(t *testing.T) {
	c, _ := newClient(t)
	ok, err := c.Confirm("leave", func() bool {
		_, inner := c.Confirm("kick", func() bool { return true })
		assert.ErrorIs(t, inner, modal.ErrModalOpen)
		return true
	})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Confirm("kick", func() bool { return false })
	assert.NoError(t, err, "the gate is released after the first dialog")
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	c, tr := newClient(t)
	var connects atomic.Int32
	c.Router.OnLifecycle(func(ev router.LifecycleEvent) {
		if ev.Connected {
			connects.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	tr.DeliverNew(protocol.TypeTransportDisconnect, protocol.Disconnect{Code: 1006, Reason: "eof"})
	assert.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
