package cache

import (
	"context"
	"lobbycast/internal/model"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testLobby(id, gameType string, players, max int, created time.Time) *model.Lobby {
	l := &model.Lobby{
		ID:         id,
		GameType:   gameType,
		HostID:     "host-" + id,
		MaxPlayers: max,
		Phase:      model.PhaseWaiting,
		Version:    1,
		CreatedAt:  created,
	}
	for i := 0; i < players; i++ {
		l.Players = append(l.Players, model.PlayerSlot{Index: i, UserID: id + "-p" + string(rune('a'+i)), IsHost: i == 0})
	}
	return l
}

func TestLobbyCacheSetGet(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewLobbyCache(client)

	l := testLobby("l1", "pong", 1, 2, time.Now().UTC())
	require.NoError(t, c.Set(ctx, l))
	assert.True(t, mr.Exists("lobby:l1"))

	got, err := c.Get(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pong", got.GameType)
	assert.Len(t, got.Players, 1)

	missing, err := c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLobbyCacheOpenIndex(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	c := NewLobbyCache(client)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Set(ctx, testLobby("old", "pong", 1, 2, base)))
	require.NoError(t, c.Set(ctx, testLobby("new", "pong", 1, 4, base.Add(time.Minute))))
	require.NoError(t, c.Set(ctx, testLobby("other", "racer", 1, 4, base.Add(2*time.Minute))))
	require.NoError(t, c.Set(ctx, testLobby("full", "pong", 2, 2, base.Add(3*time.Minute))))

	open, err := c.ListOpen(ctx, "pong", 10)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "new", open[0].ID, "newest first")
	assert.Equal(t, "old", open[1].ID)
	assert.Equal(t, 1, open[0].PlayerCount)

	all, err := c.ListOpen(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	started := testLobby("new", "pong", 2, 4, base.Add(time.Minute))
	started.Phase = model.PhaseStarting
	require.NoError(t, c.Set(ctx, started))
	open, err = c.ListOpen(ctx, "pong", 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "old", open[0].ID)
}

func TestLobbyCacheDeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewLobbyCache(client)

	require.NoError(t, c.Set(ctx, testLobby("a", "pong", 1, 2, time.Now())))
	require.NoError(t, c.Set(ctx, testLobby("b", "pong", 1, 2, time.Now())))

	require.NoError(t, c.Delete(ctx, "a"))
	// snapshot vanished without the index being updated
	mr.Del("lobby:b")

	open, err := c.ListOpen(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	members, err := client.ZCard(ctx, openLobbiesKey).Result()
	require.NoError(t, err)
	assert.Zero(t, members, "stale index entries are pruned")
}

func TestInvitationCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	c := NewInvitationCache(client)

	inv := &model.Invitation{ID: "inv-1", LobbyID: "l1", FromUserID: "a", ToUserID: "b", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, c.Set(ctx, inv))

	got, err := c.Get(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "l1", got.LobbyID)

	mr.FastForward(2 * time.Minute)
	got, err = c.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, got, "expired with its TTL")

	expired := &model.Invitation{ID: "inv-2", ExpiresAt: time.Now().Add(-time.Second)}
	require.NoError(t, c.Set(ctx, expired))
	assert.False(t, mr.Exists("invitation:inv-2"))
}

func TestMemoryInvitationCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &memoryInvitationCache{items: map[string]model.Invitation{}, now: func() time.Time { return now }}

	require.NoError(t, c.Set(ctx, &model.Invitation{ID: "x", ExpiresAt: now.Add(time.Second)}))
	got, err := c.Get(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Second)
	got, err = c.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Delete(ctx, "x"))
}
