package notify

import (
	"lobbycast/internal/client/transport/transporttest"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, storage Storage, opts Options) (*Store, *transporttest.Fake, *clock) {
	t.Helper()
	clk := newClock()
	if opts.Now == nil {
		opts.Now = clk.Now
	}
	tr := transporttest.New()
	require.NoError(t, tr.Connect(testContext(t)))
	s, err := NewStore(storage, tr, opts, zap.NewNop())
	require.NoError(t, err)
	return s, tr, clk
}

func chatFrom(userID string, at time.Time) Notification {
	return Notification{
		Type:      model.NotifyChat,
		Title:     "New message",
		Timestamp: at,
		Data:      map[string]any{"userId": userID},
	}
}

func invitation(id string, now time.Time, ttl time.Duration) Notification {
	return Notification{
		ID:         id,
		Type:       model.NotifyInvitation,
		Title:      "Game invitation",
		Actionable: true,
		Priority:   model.PriorityHigh,
		Timestamp:  now,
		Data: map[string]any{
			"invitationId": id,
			"userId":       "host",
			"expiresAt":    now.Add(ttl).Format(time.RFC3339Nano),
		},
	}
}

func TestDedupWindow(t *testing.T) {
	s, _, clk := newTestStore(t, NewMemoryStorage(), Options{})
	now := clk.Now()

	_, ok := s.Add(chatFrom("bo", now))
	require.True(t, ok)
	_, ok = s.Add(chatFrom("bo", now.Add(5*time.Second)))
	assert.False(t, ok, "same type and user within 5s is a duplicate")
	_, ok = s.Add(chatFrom("cy", now.Add(time.Second)))
	assert.True(t, ok, "different user is not a duplicate")
	_, ok = s.Add(chatFrom("bo", now.Add(6*time.Second)))
	assert.True(t, ok, "outside the window is accepted")

	n, ok := s.Add(Notification{ID: "fixed", Type: model.NotifySystem, Title: "a"})
	require.True(t, ok)
	_, ok = s.Add(Notification{ID: n.ID, Type: model.NotifyAchievement, Title: "b"})
	assert.False(t, ok, "same id is a duplicate")

	assert.Len(t, s.GetAll(), 4)
}

func TestNewestFirstAndCap(t *testing.T) {
	s, _, clk := newTestStore(t, NewMemoryStorage(), Options{Max: 3})
	base := clk.Now()
	for i := 0; i < 5; i++ {
		_, ok := s.Add(chatFrom(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)))
		require.True(t, ok)
	}

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "e", all[0].dataString("userId"))
	assert.Equal(t, "c", all[2].dataString("userId"), "oldest entries are evicted")
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp))
	}
}

func TestExpiredInvitationPurgedOnNextInsert(t *testing.T) {
	storage := NewMemoryStorage()
	s, _, clk := newTestStore(t, storage, Options{})

	_, ok := s.Add(invitation("inv1", clk.Now(), time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1, s.GetUnreadCount())

	clk.Advance(2 * time.Minute)
	assert.Len(t, s.GetAll(), 1, "purge happens on insert, not on read")

	_, ok = s.Add(chatFrom("bo", clk.Now()))
	require.True(t, ok)
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, model.NotifyChat, all[0].Type)
}

func TestInvitationArrivingExpiredIsListedUntilNextInsert(t *testing.T) {
	s, _, clk := newTestStore(t, NewMemoryStorage(), Options{})

	_, ok := s.Add(invitation("inv1", clk.Now(), -time.Millisecond))
	require.True(t, ok)
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "inv1", all[0].ID)

	_, ok = s.Add(chatFrom("bo", clk.Now()))
	require.True(t, ok)
	all = s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, model.NotifyChat, all[0].Type)
	assert.Equal(t, 1, s.GetUnreadCount(), "the purged invitation is not counted")
}

func TestExpiredInvitationPurgedOnAnyMutation(t *testing.T) {
	s, _, clk := newTestStore(t, NewMemoryStorage(), Options{})
	var counts []int
	s.SubscribeToUnreadCount(func(n int) { counts = append(counts, n) })

	_, ok := s.Add(invitation("inv1", clk.Now(), time.Minute))
	require.True(t, ok)
	chat, ok := s.Add(chatFrom("bo", clk.Now()))
	require.True(t, ok)
	assert.Equal(t, 2, s.GetUnreadCount())

	clk.Advance(2 * time.Minute)
	require.True(t, s.MarkAsRead(chat.ID))
	all := s.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, chat.ID, all[0].ID)
	assert.Equal(t, 0, s.GetUnreadCount())
	assert.Equal(t, []int{1, 2, 0}, counts)

	s.Add(invitation("inv2", clk.Now(), time.Minute))
	clk.Advance(2 * time.Minute)
	assert.False(t, s.Remove("missing"))
	assert.Len(t, s.GetAll(), 1, "a mutation that finds nothing still purges")
}

func TestMarkRemoveClear(t *testing.T) {
	s, _, clk := newTestStore(t, NewMemoryStorage(), Options{})
	var counts []int
	s.SubscribeToUnreadCount(func(n int) { counts = append(counts, n) })
	var lists int
	unsub := s.Subscribe(func([]Notification) { lists++ })

	a, _ := s.Add(chatFrom("a", clk.Now()))
	b, _ := s.Add(chatFrom("b", clk.Now()))
	assert.True(t, s.MarkAsRead(a.ID))
	assert.False(t, s.MarkAsRead(a.ID), "already read")
	assert.False(t, s.MarkAsRead("missing"))
	assert.Equal(t, 1, s.GetUnreadCount())

	s.MarkAllAsRead()
	assert.Equal(t, 0, s.GetUnreadCount())
	assert.True(t, s.Remove(b.ID))
	assert.False(t, s.Remove(b.ID))

	unsub()
	s.ClearAll()
	assert.Empty(t, s.GetAll())
	assert.Equal(t, []int{1, 2, 1, 0}, counts)
	assert.Equal(t, 5, lists)
}

func TestPersistenceRoundTrip(t *testing.T) {
	storage := FileStorage{Dir: t.TempDir()}
	s, _, clk := newTestStore(t, storage, Options{})

	chat, _ := s.Add(chatFrom("bo", clk.Now()))
	s.Add(invitation("inv1", clk.Now(), time.Minute))
	s.MarkAsRead(chat.ID)

	reloaded, err := NewStore(storage, transporttest.New(), Options{Now: clk.Now}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.GetUnreadCount())
	require.Len(t, reloaded.GetAll(), 2)

	clk.Advance(time.Hour)
	reloaded, err = NewStore(storage, transporttest.New(), Options{Now: clk.Now}, zap.NewNop())
	require.NoError(t, err)
	all := reloaded.GetAll()
	require.Len(t, all, 1, "expired invitations are purged on load")
	assert.Equal(t, chat.ID, all[0].ID)
	assert.True(t, all[0].Read)
}

func TestActionableResponse(t *testing.T) {
	s, tr, clk := newTestStore(t, NewMemoryStorage(), Options{ActionGrace: 200 * time.Millisecond})
	s.Add(invitation("inv1", clk.Now(), time.Minute))

	require.NoError(t, s.HandleActionableResponse("inv1", Accept))
	assert.ErrorIs(t, s.HandleActionableResponse("inv1", Decline), ErrActionPending)

	sent := tr.SentOfType(protocol.TypeInvitationRespond)
	require.Len(t, sent, 1, "second response is ignored")
	assert.Equal(t, protocol.InvitationResponse{InvitationID: "inv1", Accept: true}, sent[0].Payload)

	all := s.GetAll()
	require.Len(t, all, 1)
	assert.True(t, all[0].ActionPending)
	assert.Eventually(t, func() bool { return len(s.GetAll()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestActionableResponseRejections(t *testing.T) {
	s, tr, clk := newTestStore(t, NewMemoryStorage(), Options{})

	assert.ErrorIs(t, s.HandleActionableResponse("missing", Accept), ErrNotFound)

	chat, _ := s.Add(chatFrom("bo", clk.Now()))
	assert.ErrorIs(t, s.HandleActionableResponse(chat.ID, Accept), ErrNotActionable)

	s.Add(invitation("inv1", clk.Now(), time.Minute))
	clk.Advance(2 * time.Minute)
	assert.ErrorIs(t, s.HandleActionableResponse("inv1", Accept), ErrExpired)
	assert.Len(t, s.GetAll(), 1, "the expired invitation is removed")

	s.Add(Notification{
		ID: "fr1", Type: model.NotifyFriendRequest, Title: "Friend request", Actionable: true,
		Data: map[string]any{"requestId": "r1", "userId": "cy"},
	})
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, s.HandleActionableResponse("fr1", Decline), ErrSendFailed)
	for _, n := range s.GetAll() {
		assert.False(t, n.ActionPending, "a failed send leaves the entry actionable")
	}
	assert.Empty(t, tr.SentOfType(protocol.TypeFriendRespond))
}
