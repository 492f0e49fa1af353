package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"lobbycast/internal/model"
	"time"

	"github.com/redis/go-redis/v9"
)

// LobbyCache mirrors lobby snapshots into Redis and keeps a ZSET index of
// lobbies that can still be joined, scored by creation time.
type LobbyCache interface {
	Set(ctx context.Context, lobby *model.Lobby) error
	Get(ctx context.Context, id string) (*model.Lobby, error)
	Delete(ctx context.Context, id string) error
	ListOpen(ctx context.Context, gameType string, limit int) ([]model.LobbySummary, error)
}

const openLobbiesKey = "lobbies:open"

type lobbyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLobbyCache creates a new lobby cache
func NewLobbyCache(client *redis.Client) LobbyCache {
	return &lobbyCache{
		client: client,
		ttl:    24 * time.Hour, // lobbies expire after 24h
	}
}

func (c *lobbyCache) key(id string) string {
	return fmt.Sprintf("lobby:%s", id)
}

func joinable(l *model.Lobby) bool {
	return l.Phase == model.PhaseWaiting && len(l.Players) < l.MaxPlayers
}

func (c *lobbyCache) Set(ctx context.Context, lobby *model.Lobby) error {
	data, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(lobby.ID), data, c.ttl)
		if joinable(lobby) {
			pipe.ZAdd(ctx, openLobbiesKey, redis.Z{
				Score:  float64(lobby.CreatedAt.UnixMilli()),
				Member: lobby.ID,
			})
		} else {
			pipe.ZRem(ctx, openLobbiesKey, lobby.ID)
		}
		return nil
	})
	return err
}

func (c *lobbyCache) Get(ctx context.Context, id string) (*model.Lobby, error) {
	data, err := c.client.Get(ctx, c.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lobby model.Lobby
	if err := json.Unmarshal([]byte(data), &lobby); err != nil {
		return nil, err
	}
	return &lobby, nil
}

func (c *lobbyCache) Delete(ctx context.Context, id string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(id))
		pipe.ZRem(ctx, openLobbiesKey, id)
		return nil
	})
	return err
}

// ListOpen returns joinable lobbies, newest first. An empty gameType matches
// every game. Index entries whose snapshot has expired are pruned.
func (c *lobbyCache) ListOpen(ctx context.Context, gameType string, limit int) ([]model.LobbySummary, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := c.client.ZRevRange(ctx, openLobbiesKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.LobbySummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	summaries := make([]model.LobbySummary, 0, limit)
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var lobby model.Lobby
		if err := json.Unmarshal([]byte(raw), &lobby); err != nil || !joinable(&lobby) {
			stale = append(stale, ids[i])
			continue
		}
		if gameType != "" && lobby.GameType != gameType {
			continue
		}
		if len(summaries) < limit {
			summaries = append(summaries, model.LobbySummary{
				ID:          lobby.ID,
				GameType:    lobby.GameType,
				HostID:      lobby.HostID,
				PlayerCount: len(lobby.Players),
				MaxPlayers:  lobby.MaxPlayers,
				CreatedAt:   lobby.CreatedAt,
			})
		}
	}
	if len(stale) > 0 {
		if err := c.client.ZRem(ctx, openLobbiesKey, stale...).Err(); err != nil {
			return summaries, err
		}
	}
	return summaries, nil
}
