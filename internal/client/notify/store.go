// Package notify is the client's notification inbox: deduplicated, capped,
// newest first and persisted after every change.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("notification not found")
	ErrNotActionable = errors.New("notification is not actionable")
	ErrExpired       = errors.New("invitation has expired")
	ErrActionPending = errors.New("a response is already pending")
	ErrSendFailed    = errors.New("response could not be sent")
)

const (
	DefaultMax         = 50
	DefaultDedupWindow = 5 * time.Second
	DefaultActionGrace = 1500 * time.Millisecond
)

// Notification is one inbox entry.
type Notification struct {
	ID            string                 `json:"id"`
	Type          model.NotificationType `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Timestamp     time.Time              `json:"timestamp"`
	Read          bool                   `json:"read"`
	Priority      model.Priority         `json:"priority"`
	Actionable    bool                   `json:"actionable"`
	ActionPending bool                   `json:"actionPending,omitempty"`
	Data          map[string]any         `json:"data,omitempty"`
}

// FromModel converts a server notification.
func FromModel(n model.Notification) Notification {
	return Notification{
		ID:         n.ID,
		Type:       n.Type,
		Title:      n.Title,
		Message:    n.Message,
		Timestamp:  n.Timestamp,
		Priority:   n.Priority,
		Actionable: n.Actionable,
		Data:       n.Data,
	}
}

// ExpiresAt reads Data["expiresAt"] as RFC 3339 text or epoch milliseconds.
func (n Notification) ExpiresAt() (time.Time, bool) {
	switch v := n.Data["expiresAt"].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	case float64:
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

func (n Notification) expired(now time.Time) bool {
	if n.Type != model.NotifyInvitation {
		return false
	}
	at, ok := n.ExpiresAt()
	return ok && !now.Before(at)
}

func (n Notification) dataString(key string) string {
	s, _ := n.Data[key].(string)
	return s
}

// Action is the user's answer to an actionable notification.
type Action string

const (
	Accept  Action = "accept"
	Decline Action = "decline"
)

// Sender delivers the resolving envelope of an action.
type Sender interface {
	Send(typ string, payload any) bool
}

type Options struct {
	Max         int
	DedupWindow time.Duration
	ActionGrace time.Duration
	Now         func() time.Time
}

// Store is safe for concurrent use. Mutations and persistence are
// serialized under one mutex; subscribers are called after it is released,
// in mutation order.
type Store struct {
	mu      sync.Mutex
	items   []Notification
	storage Storage
	sender  Sender
	opts    Options
	logger  *zap.Logger
	timers  map[string]*time.Timer

	notifyMu   sync.Mutex
	subMu      sync.Mutex
	nextSub    uint64
	listSubs   map[uint64]func([]Notification)
	unreadSubs map[uint64]func(int)
	lastUnread int
}

// NewStore loads the persisted list, dropping expired invitations and
// entries whose action was already sent.
func NewStore(storage Storage, sender Sender, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Max <= 0 {
		opts.Max = DefaultMax
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.ActionGrace <= 0 {
		opts.ActionGrace = DefaultActionGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		storage:    storage,
		sender:     sender,
		opts:       opts,
		logger:     logger.Named("notify"),
		timers:     make(map[string]*time.Timer),
		listSubs:   make(map[uint64]func([]Notification)),
		unreadSubs: make(map[uint64]func(int)),
	}

	data, err := storage.Load(StorageKey)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		var loaded []Notification
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("decode %s: %w", StorageKey, err)
		}
		now := opts.Now()
		for _, n := range loaded {
			if n.ActionPending || n.expired(now) {
				continue
			}
			s.items = append(s.items, n)
		}
		s.sortAndCap()
		if len(s.items) != len(loaded) {
			s.persistLocked()
		}
	}
	s.lastUnread = s.unreadLocked()
	return s, nil
}

// Add inserts n unless it duplicates an entry: same id, or same type and
// Data["userId"] within the dedup window. Expired invitations already in the
// store are purged first; n itself is kept even if it has expired, until
// the next mutation. It reports whether n was stored.
func (s *Store) Add(n Notification) (Notification, bool) {
	s.mu.Lock()
	now := s.opts.Now()
	purged := s.purgeExpiredLocked(now)

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	n.Read = false
	n.ActionPending = false

	if s.duplicateLocked(n) {
		if purged {
			s.persistLocked()
		}
		s.mu.Unlock()
		if purged {
			s.publish()
		}
		s.logger.Debug("notification discarded", zap.String("id", n.ID), zap.String("type", string(n.Type)))
		return n, false
	}

	s.items = append(s.items, n)
	s.sortAndCap()
	s.persistLocked()
	s.mu.Unlock()
	s.publish()
	return n, true
}

func (s *Store) duplicateLocked(n Notification) bool {
	uid := n.dataString("userId")
	for _, e := range s.items {
		if e.ID == n.ID {
			return true
		}
		if e.Type != n.Type || e.dataString("userId") != uid {
			continue
		}
		d := n.Timestamp.Sub(e.Timestamp)
		if d < 0 {
			d = -d
		}
		if d <= s.opts.DedupWindow {
			return true
		}
	}
	return false
}

func (s *Store) purgeExpiredLocked(now time.Time) bool {
	kept := s.items[:0]
	for _, e := range s.items {
		if e.expired(now) && !e.ActionPending {
			continue
		}
		kept = append(kept, e)
	}
	purged := len(kept) != len(s.items)
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = Notification{}
	}
	s.items = kept
	return purged
}

// sortAndCap orders newest first and evicts the oldest beyond Max.
func (s *Store) sortAndCap() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].Timestamp.After(s.items[j].Timestamp)
	})
	if len(s.items) > s.opts.Max {
		s.items = s.items[:s.opts.Max]
	}
}

func (s *Store) MarkAsRead(id string) bool {
	return s.update(func() bool {
		i := s.indexLocked(id)
		if i < 0 || s.items[i].Read {
			return false
		}
		s.items[i].Read = true
		return true
	})
}

func (s *Store) MarkAllAsRead() {
	s.update(func() bool {
		changed := false
		for i := range s.items {
			if !s.items[i].Read {
				s.items[i].Read = true
				changed = true
			}
		}
		return changed
	})
}

func (s *Store) Remove(id string) bool {
	return s.update(func() bool {
		return s.removeLocked(id)
	})
}

func (s *Store) ClearAll() {
	s.update(func() bool {
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
		changed := len(s.items) > 0
		s.items = nil
		return changed
	})
}

// GetAll returns a copy of the list, newest first.
func (s *Store) GetAll() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) GetUnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked()
}

// Subscribe calls fn with the full list after every change.
func (s *Store) Subscribe(fn func([]Notification)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.listSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.listSubs, id)
	}
}

// SubscribeToUnreadCount calls fn whenever the unread count changes.
func (s *Store) SubscribeToUnreadCount(fn func(int)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.unreadSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.unreadSubs, id)
	}
}

// HandleActionableResponse answers an invitation or friend request. The
// entry is marked pending, the resolving envelope is sent and the entry is
// removed after the action grace delay. Responses while pending are
// rejected with ErrActionPending.
func (s *Store) HandleActionableResponse(id string, action Action) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	n := s.items[i]
	if n.ActionPending {
		s.mu.Unlock()
		return ErrActionPending
	}
	if !n.Actionable {
		s.mu.Unlock()
		return ErrNotActionable
	}
	now := s.opts.Now()
	if n.expired(now) {
		s.removeLocked(id)
		s.purgeExpiredLocked(now)
		s.persistLocked()
		s.mu.Unlock()
		s.publish()
		return ErrExpired
	}

	typ, payload, ok := resolving(n, action == Accept)
	if !ok {
		s.mu.Unlock()
		return ErrNotActionable
	}
	s.items[i].ActionPending = true
	s.items[i].Read = true
	s.purgeExpiredLocked(now)
	s.persistLocked()
	s.mu.Unlock()
	s.publish()

	if !s.sender.Send(typ, payload) {
		s.update(func() bool {
			if j := s.indexLocked(id); j >= 0 {
				s.items[j].ActionPending = false
				return true
			}
			return false
		})
		return ErrSendFailed
	}

	s.mu.Lock()
	s.timers[id] = time.AfterFunc(s.opts.ActionGrace, func() {
		s.update(func() bool {
			delete(s.timers, id)
			return s.removeLocked(id)
		})
	})
	s.mu.Unlock()
	s.logger.Debug("actionable response sent", zap.String("id", id), zap.String("action", string(action)))
	return nil
}

func resolving(n Notification, accept bool) (string, any, bool) {
	switch n.Type {
	case model.NotifyInvitation:
		invID := n.dataString("invitationId")
		if invID == "" {
			return "", nil, false
		}
		return protocol.TypeInvitationRespond, protocol.InvitationResponse{InvitationID: invID, Accept: accept}, true
	case model.NotifyFriendRequest:
		reqID := n.dataString("requestId")
		if reqID == "" {
			return "", nil, false
		}
		return protocol.TypeFriendRespond, protocol.FriendRequestResponse{RequestID: reqID, Accept: accept}, true
	}
	return "", nil, false
}

// update runs fn under the lock, then purges expired invitations. It
// persists and publishes when either changed the list and returns fn's
// result.
func (s *Store) update(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	purged := s.purgeExpiredLocked(s.opts.Now())
	if changed || purged {
		s.persistLocked()
	}
	s.mu.Unlock()
	if changed || purged {
		s.publish()
	}
	return changed
}

func (s *Store) indexLocked(id string) int {
	for i, e := range s.items {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Store) unreadLocked() int {
	n := 0
	for _, e := range s.items {
		if !e.Read {
			n++
		}
	}
	return n
}

func (s *Store) copyLocked() []Notification {
	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) persistLocked() {
	data, err := json.Marshal(s.items)
	if err != nil {
		s.logger.Error("failed to encode notifications", zap.Error(err))
		return
	}
	if err := s.storage.Save(StorageKey, data); err != nil {
		s.logger.Error("failed to persist notifications", zap.Error(err))
	}
}

// publish delivers the current state to subscribers. notifyMu keeps
// deliveries in mutation order.
func (s *Store) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	list := s.copyLocked()
	unread := s.unreadLocked()
	s.mu.Unlock()

	s.subMu.Lock()
	listSubs := make([]func([]Notification), 0, len(s.listSubs))
	for _, fn := range s.listSubs {
		listSubs = append(listSubs, fn)
	}
	var unreadSubs []func(int)
	if unread != s.lastUnread {
		s.lastUnread = unread
		for _, fn := range s.unreadSubs {
			unreadSubs = append(unreadSubs, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range listSubs {
		fn(list)
	}
	for _, fn := range unreadSubs {
		fn(unread)
	}
}
