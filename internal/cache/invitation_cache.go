package cache

import (
	"context"
	"encoding/json"
	"lobbycast/internal/model"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvitationCache stores pending invitations until they expire
type InvitationCache interface {
	Set(ctx context.Context, inv *model.Invitation) error
	Get(ctx context.Context, id string) (*model.Invitation, error)
	Delete(ctx context.Context, id string) error
}

type invitationCache struct {
	client *redis.Client
}

func NewInvitationCache(client *redis.Client) InvitationCache {
	return &invitationCache{
		client: client,
	}
}

func invitationKey(id string) string {
	return "invitation:" + id
}

// Set stores inv with a TTL that ends at its expiry. Already expired
// invitations are not stored.
func (c *invitationCache) Set(ctx context.Context, inv *model.Invitation) error {
	ttl := time.Until(inv.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, invitationKey(inv.ID), data, ttl).Err()
}

func (c *invitationCache) Get(ctx context.Context, id string) (*model.Invitation, error) {
	data, err := c.client.Get(ctx, invitationKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var inv model.Invitation
	if err := json.Unmarshal([]byte(data), &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *invitationCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, invitationKey(id)).Err()
}

// memoryInvitationCache is used when no Redis address is configured
type memoryInvitationCache struct {
	mu    sync.Mutex
	items map[string]model.Invitation
	now   func() time.Time
}

func NewMemoryInvitationCache() InvitationCache {
	return &memoryInvitationCache{
		items: make(map[string]model.Invitation),
		now:   time.Now,
	}
}

func (c *memoryInvitationCache) Set(_ context.Context, inv *model.Invitation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, existing := range c.items {
		if existing.Expired(now) {
			delete(c.items, id)
		}
	}
	if !inv.Expired(now) {
		c.items[inv.ID] = *inv
	}
	return nil
}

func (c *memoryInvitationCache) Get(_ context.Context, id string) (*model.Invitation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.items[id]
	if !ok || inv.Expired(c.now()) {
		return nil, nil
	}
	return &inv, nil
}

func (c *memoryInvitationCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
	return nil
}
