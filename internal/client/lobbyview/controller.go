// Package lobbyview renders one lobby from the authority's snapshots and
// turns user intent into envelopes. Authority-owned fields change only when
// a snapshot arrives, including for the player who asked for the change.
package lobbyview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lobbycast/internal/client/router"
	"lobbycast/internal/client/transport"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotMounted   = errors.New("lobby view not mounted")
	ErrAckTimeout   = errors.New("timed out waiting for acknowledgement")
	ErrNotConnected = errors.New("not connected")
	ErrBusy         = errors.New("request already in flight")
)

// RejectedError is a failed ack. Reason is the wire value; DescribeReason
// turns it into text for the user.
type RejectedError struct {
	Command string
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Command, e.Reason)
}

const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultChatHistory = 100
)

type Options struct {
	AckTimeout  time.Duration
	ChatHistory int
}

type renderer struct {
	id uint64
	fn func(View)
}

// Controller owns the view state of the lobby the user is in.
type Controller struct {
	tr     transport.Transport
	selfID string
	opts   Options
	logger *zap.Logger
	unsubs []func()

	mu        sync.Mutex
	auth      AuthorityState
	local     LocalState
	pending   string
	mounted   bool
	gameID    string
	countdown int
	waiters   map[string]chan protocol.Ack
	renderers []renderer
	nextID    uint64
}

// New subscribes a controller for selfID to r's lobby, ack, chat and
// lifecycle events. Intents are sent on tr.
func New(tr transport.Transport, r *router.Router, selfID string, opts Options, logger *zap.Logger) *Controller {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.ChatHistory <= 0 {
		opts.ChatHistory = DefaultChatHistory
	}
	c := &Controller{
		tr:      tr,
		selfID:  selfID,
		opts:    opts,
		logger:  logger.Named("lobbyview"),
		waiters: make(map[string]chan protocol.Ack),
	}
	c.unsubs = append(c.unsubs,
		r.OnLobby(c.onLobby),
		r.OnAck(c.onAck),
		r.OnChat(c.onChat),
		r.OnLifecycle(c.onLifecycle),
	)
	return c
}

// Close detaches the controller from the router.
func (c *Controller) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
}

// OnRender registers fn to receive a fresh View after every change.
func (c *Controller) OnRender(fn func(View)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.renderers = append(c.renderers, renderer{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.renderers = slices.DeleteFunc(c.renderers, func(r renderer) bool { return r.id == id })
	}
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	return buildView(c.auth, c.local, c.selfID, c.gameID, c.countdown)
}

// Mount marks the UI as ready to render.
func (c *Controller) Mount() {
	c.mu.Lock()
	c.mounted = true
	v := c.viewLocked()
	fns := c.renderFnsLocked()
	c.mu.Unlock()
	render(fns, v)
}

func (c *Controller) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mounted = false
}

// WaitMounted polls until the UI is mounted and a snapshot has been applied.
// It gives up with ErrNotMounted after attempts polls spaced by delay.
func (c *Controller) WaitMounted(ctx context.Context, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		c.mu.Lock()
		ready := c.mounted && c.auth.lobby != nil
		c.mu.Unlock()
		if ready {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrNotMounted, attempts)
}

// Create asks the authority for a new lobby and returns its first snapshot.
func (c *Controller) Create(ctx context.Context, gameType string, maxPlayers int) (model.Lobby, error) {
	return c.request(ctx, protocol.TypeLobbyCreate, protocol.CreateRequest{GameType: gameType, MaxPlayers: maxPlayers}, "")
}

// Join asks to enter lobbyID. Broadcasts for lobbyID are accepted from the
// moment the request is sent, since they may arrive before the ack.
func (c *Controller) Join(ctx context.Context, lobbyID string) (model.Lobby, error) {
	return c.request(ctx, protocol.TypeLobbyJoin, protocol.LobbyRequest{LobbyID: lobbyID}, lobbyID)
}

func (c *Controller) request(ctx context.Context, typ string, payload any, pending string) (model.Lobby, error) {
	ch := make(chan protocol.Ack, 1)
	c.mu.Lock()
	if _, busy := c.waiters[typ]; busy {
		c.mu.Unlock()
		return model.Lobby{}, ErrBusy
	}
	c.waiters[typ] = ch
	if pending != "" {
		c.pending = pending
	}
	c.mu.Unlock()

	if !c.tr.Send(typ, payload) {
		c.dropWaiter(typ, ch)
		return model.Lobby{}, ErrNotConnected
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case ack := <-ch:
		if !ack.Success {
			return model.Lobby{}, &RejectedError{Command: typ, Reason: ack.Reason}
		}
		l, ok := c.currentLobby()
		if !ok {
			return model.Lobby{}, &RejectedError{Command: typ, Reason: "missing_snapshot"}
		}
		return l, nil
	case <-timer.C:
		c.dropWaiter(typ, ch)
		return model.Lobby{}, fmt.Errorf("%s: %w", typ, ErrAckTimeout)
	case <-ctx.Done():
		c.dropWaiter(typ, ch)
		return model.Lobby{}, ctx.Err()
	}
}

func (c *Controller) currentLobby() (model.Lobby, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.Lobby()
}

func (c *Controller) dropWaiter(typ string, ch chan protocol.Ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiters[typ] == ch {
		delete(c.waiters, typ)
	}
	if typ == protocol.TypeLobbyJoin && c.auth.lobby == nil {
		c.pending = ""
	}
}

// Expect accepts snapshots for lobbyID before the user is a member, for
// joins that happen outside Join such as accepting an invitation.
func (c *Controller) Expect(lobbyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = lobbyID
}

// Leave asks to leave the current lobby. The view clears once the ack
// confirms it.
func (c *Controller) Leave() bool {
	id := c.lobbyID()
	return id != "" && c.tr.Send(protocol.TypeLobbyLeave, protocol.LobbyRequest{LobbyID: id})
}

// SetReady requests a readiness change. The slot is not touched locally.
func (c *Controller) SetReady(ready bool) bool {
	id := c.lobbyID()
	return id != "" && c.tr.Send(protocol.TypeLobbyReady, protocol.ReadyRequest{LobbyID: id, IsReady: ready})
}

// ToggleReady requests the opposite of the readiness last broadcast for
// this player. Toggling twice before a broadcast sends the same request.
func (c *Controller) ToggleReady() bool {
	c.mu.Lock()
	slot, ok := c.auth.Slot(c.selfID)
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.SetReady(!slot.IsReady)
}

func (c *Controller) Customize(customization json.RawMessage) bool {
	id := c.lobbyID()
	return id != "" && c.tr.Send(protocol.TypeLobbyCustomize, protocol.CustomizeRequest{LobbyID: id, Customization: customization})
}

// Kick is only sent while the current snapshot names this player as host.
func (c *Controller) Kick(targetUserID string) bool {
	v := c.View()
	if !v.CanKick || targetUserID == "" || targetUserID == c.selfID {
		return false
	}
	return c.tr.Send(protocol.TypeLobbyKick, protocol.KickRequest{LobbyID: v.Authority.LobbyID(), TargetUserID: targetUserID})
}

// Start is only sent while the current snapshot allows it.
func (c *Controller) Start() bool {
	v := c.View()
	if !v.CanStart {
		return false
	}
	return c.tr.Send(protocol.TypeLobbyStart, protocol.LobbyRequest{LobbyID: v.Authority.LobbyID()})
}

func (c *Controller) AddAI(difficulty model.AIDifficulty) bool {
	v := c.View()
	if !v.CanKick {
		return false
	}
	return c.tr.Send(protocol.TypeLobbyAddAI, protocol.AddAIRequest{LobbyID: v.Authority.LobbyID(), Difficulty: difficulty})
}

func (c *Controller) RemoveAI(slotIndex int) bool {
	v := c.View()
	if !v.CanKick {
		return false
	}
	return c.tr.Send(protocol.TypeLobbyRemoveAI, protocol.RemoveAIRequest{LobbyID: v.Authority.LobbyID(), SlotIndex: slotIndex})
}

func (c *Controller) Invite(targetUserID string) bool {
	id := c.lobbyID()
	return id != "" && targetUserID != "" &&
		c.tr.Send(protocol.TypeLobbyInvite, protocol.InviteRequest{LobbyID: id, TargetUserID: targetUserID})
}

// Sync asks the authority to resend the snapshot and recent chat.
func (c *Controller) Sync() bool {
	id := c.lobbyID()
	return id != "" && c.tr.Send(protocol.TypeLobbySync, protocol.LobbyRequest{LobbyID: id})
}

// SendChat sends msg and clears the draft. The line shows up once the
// authority broadcasts it back.
func (c *Controller) SendChat(msg string) bool {
	msg = strings.TrimSpace(msg)
	id := c.lobbyID()
	if msg == "" || id == "" {
		return false
	}
	if !c.tr.Send(protocol.TypeLobbyChat, protocol.ChatRequest{LobbyID: id, Message: msg}) {
		return false
	}
	c.updateLocal(func(l *LocalState) { l.ChatDraft = "" })
	return true
}

func (c *Controller) SetChatDraft(draft string) {
	c.updateLocal(func(l *LocalState) { l.ChatDraft = draft })
}

func (c *Controller) SelectSlot(index int) {
	c.updateLocal(func(l *LocalState) { l.SelectedSlot = index })
}

func (c *Controller) updateLocal(fn func(*LocalState)) {
	c.mu.Lock()
	fn(&c.local)
	v := c.viewLocked()
	fns := c.renderFnsLocked()
	c.mu.Unlock()
	render(fns, v)
}

func (c *Controller) lobbyID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth.LobbyID()
}

func (c *Controller) onLobby(ev router.LobbyEvent) {
	c.mu.Lock()
	changed := false
	switch ev.Type {
	case protocol.TypeKicked:
		if ev.LobbyID != "" && ev.LobbyID == c.auth.LobbyID() {
			c.clearLocked("You were removed from the lobby")
			changed = true
		}
	case protocol.TypeLobbySync:
		changed = c.applyLocked(ev.Lobby)
		if ev.Lobby != nil && ev.Lobby.ID == c.auth.LobbyID() && ev.Chat != nil {
			c.auth.chat = c.trimChat(slices.Clone(ev.Chat))
			changed = true
		}
	default:
		if !c.applyLocked(ev.Lobby) {
			break
		}
		changed = true
		switch ev.Type {
		case protocol.TypeGameStarting:
			c.gameID, c.countdown = ev.GameID, ev.Countdown
		case protocol.TypeGameStarted:
			c.gameID, c.countdown = ev.GameID, 0
		case protocol.TypeLobbyFinished:
			c.local.Notice = "The game has finished"
		}
	}
	if changed && c.auth.lobby != nil {
		if _, ok := c.auth.lobby.Member(c.selfID); !ok {
			c.clearLocked("You are no longer in the lobby")
		}
	}
	c.flushLocked(changed)
}

// applyLocked installs snapshot if it belongs to the current or pending
// lobby and is newer than what is shown.
func (c *Controller) applyLocked(snapshot *model.Lobby) bool {
	if snapshot == nil {
		return false
	}
	cur := c.auth.lobby
	switch {
	case cur != nil && cur.ID == snapshot.ID:
		if snapshot.Version <= cur.Version {
			c.logger.Debug("discarding stale snapshot",
				zap.String("lobbyId", snapshot.ID),
				zap.Int64("version", snapshot.Version),
				zap.Int64("applied", cur.Version),
			)
			return false
		}
	case snapshot.ID == c.pending:
		c.auth.chat = nil
		c.gameID, c.countdown = "", 0
		c.local = LocalState{}
	default:
		return false
	}
	l := cloneLobby(*snapshot)
	c.auth.lobby = &l
	c.pending = ""
	return true
}

func (c *Controller) clearLocked(notice string) {
	c.auth = AuthorityState{}
	c.pending = ""
	c.gameID, c.countdown = "", 0
	c.local = LocalState{Notice: notice}
}

func (c *Controller) onAck(ev router.AckEvent) {
	c.mu.Lock()
	changed := false
	switch ev.Command {
	case protocol.TypeLobbyCreate, protocol.TypeLobbyJoin, protocol.TypeInvitationRespond:
		if ev.Ack.Success && ev.Ack.Lobby != nil {
			c.pending = ev.Ack.Lobby.ID
			changed = c.applyLocked(ev.Ack.Lobby)
			c.pending = ""
		} else if !ev.Ack.Success {
			c.pending = ""
		}
	case protocol.TypeLobbyLeave:
		if ev.Ack.Success && c.auth.lobby != nil {
			c.clearLocked("")
			changed = true
		}
	default:
		if !ev.Ack.Success {
			c.local.Notice = DescribeReason(ev.Ack.Reason)
			changed = true
		}
	}
	if ch, ok := c.waiters[ev.Command]; ok {
		delete(c.waiters, ev.Command)
		ch <- ev.Ack
	}
	c.flushLocked(changed)
}

func (c *Controller) onChat(ev router.ChatEvent) {
	if ev.Envelope().Type != protocol.TypeLobbyChat {
		return
	}
	c.mu.Lock()
	if ev.LobbyID == "" || ev.LobbyID != c.auth.LobbyID() {
		c.mu.Unlock()
		return
	}
	c.auth.chat = c.trimChat(append(c.auth.chat, model.ChatMessage{
		UserID:    ev.UserID,
		Username:  ev.Username,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	}))
	c.flushLocked(true)
}

// onLifecycle resyncs after a reconnect so the view catches up on any
// broadcasts it missed.
func (c *Controller) onLifecycle(ev router.LifecycleEvent) {
	c.mu.Lock()
	id := c.auth.LobbyID()
	if !ev.Connected {
		c.local.Notice = "Connection lost"
		c.flushLocked(id != "")
		return
	}
	c.mu.Unlock()
	if id != "" {
		c.tr.Send(protocol.TypeLobbySync, protocol.LobbyRequest{LobbyID: id})
	}
}

func (c *Controller) trimChat(chat []model.ChatMessage) []model.ChatMessage {
	if over := len(chat) - c.opts.ChatHistory; over > 0 {
		chat = slices.Clone(chat[over:])
	}
	return chat
}

// flushLocked releases c.mu and renders if anything changed.
func (c *Controller) flushLocked(changed bool) {
	if !changed || !c.mounted {
		c.mu.Unlock()
		return
	}
	v := c.viewLocked()
	fns := c.renderFnsLocked()
	c.mu.Unlock()
	render(fns, v)
}

func (c *Controller) renderFnsLocked() []func(View) {
	fns := make([]func(View), len(c.renderers))
	for i, r := range c.renderers {
		fns[i] = r.fn
	}
	return fns
}

func render(fns []func(View), v View) {
	for _, fn := range fns {
		fn(v)
	}
}
