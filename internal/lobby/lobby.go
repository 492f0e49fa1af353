// Package lobby implements the state machine of a single game lobby.
//
// A Lobby is not safe for concurrent use. The owner (service.LobbyService)
// holds a per-lobby mutex for the duration of each transition. Every method
// validates completely before it mutates, so a call either returns a
// Transition carrying the full updated snapshot or an error and leaves the
// lobby untouched.
package lobby

import (
	"encoding/json"
	"fmt"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MinPlayers        = 2
	DefaultMaxPlayers = 4
	MaxChatLength     = 500
)

// Options tune a lobby. Zero values fall back to defaults.
type Options struct {
	MaxPlayersLimit int
	ChatHistory     int
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxPlayersLimit < MinPlayers {
		o.MaxPlayersLimit = 8
	}
	if o.ChatHistory <= 0 {
		o.ChatHistory = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Transition describes one applied mutation. Lobby is a deep copy of the
// state after the mutation and is safe to hand to other goroutines.
type Transition struct {
	Type      string
	ActorID   string
	Subject   model.PlayerSlot
	NewHostID string
	Lobby     model.Lobby
	Finished  bool
}

// Lobby is the authoritative state of one lobby
type Lobby struct {
	state   model.Lobby
	chat    []model.ChatMessage
	nextSeq int64
	opts    Options
}

// New creates a lobby in the waiting phase with host as its only member.
func New(id, gameType string, maxPlayers int, host model.UserIdentity, opts Options) (*Lobby, error) {
	opts = opts.withDefaults()
	gameType = strings.TrimSpace(gameType)
	if id == "" || gameType == "" || host.UserID == "" {
		return nil, ErrInvalidPayload
	}
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	maxPlayers = clamp(maxPlayers, MinPlayers, opts.MaxPlayersLimit)

	now := opts.Now().UTC()
	l := &Lobby{
		state: model.Lobby{
			ID:         id,
			GameType:   gameType,
			HostID:     host.UserID,
			MaxPlayers: maxPlayers,
			Phase:      model.PhaseWaiting,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		opts: opts,
	}
	slot := l.newHumanSlot(host)
	slot.IsHost = true
	l.state.Players = append(l.state.Players, slot)
	return l, nil
}

// Restore rebuilds a lobby from a stored snapshot.
func Restore(snapshot model.Lobby, opts Options) *Lobby {
	l := &Lobby{state: copyLobby(snapshot), opts: opts.withDefaults()}
	for _, p := range l.state.Players {
		if p.JoinSeq >= l.nextSeq {
			l.nextSeq = p.JoinSeq + 1
		}
	}
	return l
}

func (l *Lobby) ID() string {
	return l.state.ID
}

func (l *Lobby) Phase() model.Phase {
	return l.state.Phase
}

// Snapshot returns a deep copy of the current state.
func (l *Lobby) Snapshot() model.Lobby {
	return copyLobby(l.state)
}

// ChatHistory returns the retained chat transcript, oldest first.
func (l *Lobby) ChatHistory() []model.ChatMessage {
	out := make([]model.ChatMessage, len(l.chat))
	copy(out, l.chat)
	return out
}

// IsMember reports whether userID occupies a slot.
func (l *Lobby) IsMember(userID string) bool {
	_, ok := l.state.Member(userID)
	return ok
}

// HumanCount is the number of non-AI members.
func (l *Lobby) HumanCount() int {
	return len(l.state.HumanIDs())
}

// Created is the transition emitted for a freshly created lobby.
func (l *Lobby) Created() Transition {
	host, _ := l.state.HostSlot()
	return Transition{
		Type:    protocol.TypeLobbyCreate,
		ActorID: host.UserID,
		Subject: host,
		Lobby:   l.Snapshot(),
	}
}

// Join seats user in the next slot.
func (l *Lobby) Join(user model.UserIdentity) (Transition, error) {
	if user.UserID == "" {
		return Transition{}, ErrInvalidPayload
	}
	switch l.state.Phase {
	case model.PhaseWaiting:
	case model.PhaseFinished:
		return Transition{}, ErrLobbyNotFound
	default:
		return Transition{}, ErrLobbyInGame
	}
	if l.IsMember(user.UserID) {
		return Transition{}, ErrAlreadyInLobby
	}
	if len(l.state.Players) >= l.state.MaxPlayers {
		return Transition{}, ErrLobbyFull
	}

	slot := l.newHumanSlot(user)
	l.state.Players = append(l.state.Players, slot)
	l.reindex()
	joined, _ := l.state.Member(user.UserID)
	return l.commit(protocol.TypePlayerJoin, user.UserID, joined, ""), nil
}

// Leave removes userID. A departing host is replaced by the remaining human
// with the lowest join sequence. When no human remains the lobby finishes.
func (l *Lobby) Leave(userID string) (Transition, error) {
	return l.remove(protocol.TypePlayerLeave, userID, userID)
}

// Kick removes target on behalf of the host.
func (l *Lobby) Kick(hostID, targetID string) (Transition, error) {
	if err := l.requireHost(hostID); err != nil {
		return Transition{}, err
	}
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	if targetID == hostID {
		return Transition{}, ErrCannotKickSelf
	}
	target, ok := l.state.Member(targetID)
	if !ok || target.IsAI {
		return Transition{}, ErrTargetNotFound
	}
	return l.remove(protocol.TypePlayerKicked, hostID, targetID)
}

func (l *Lobby) remove(typ, actorID, userID string) (Transition, error) {
	if l.state.Phase == model.PhaseFinished {
		return Transition{}, ErrLobbyNotFound
	}
	idx := l.indexOf(userID)
	if idx < 0 {
		if typ == protocol.TypePlayerKicked {
			return Transition{}, ErrTargetNotFound
		}
		return Transition{}, ErrNotMember
	}

	removed := l.state.Players[idx]
	l.state.Players = append(l.state.Players[:idx], l.state.Players[idx+1:]...)
	l.reindex()

	newHost := ""
	if removed.IsHost {
		newHost = l.reassignHost()
	}
	if len(l.state.HumanIDs()) == 0 {
		l.state.Phase = model.PhaseFinished
		l.state.HostID = ""
		t := l.commit(typ, actorID, removed, "")
		t.Finished = true
		return t, nil
	}
	return l.commit(typ, actorID, removed, newHost), nil
}

// SetReady sets the caller's own readiness.
func (l *Lobby) SetReady(userID string, ready bool) (Transition, error) {
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	idx := l.indexOf(userID)
	if idx < 0 {
		return Transition{}, ErrNotMember
	}
	l.state.Players[idx].IsReady = ready
	return l.commit(protocol.TypePlayerReady, userID, l.state.Players[idx], ""), nil
}

// Customize replaces the caller's customization payload, which must be a
// JSON object.
func (l *Lobby) Customize(userID string, customization json.RawMessage) (Transition, error) {
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	idx := l.indexOf(userID)
	if idx < 0 {
		return Transition{}, ErrNotMember
	}
	var obj map[string]any
	if len(customization) == 0 || json.Unmarshal(customization, &obj) != nil || obj == nil {
		return Transition{}, ErrInvalidPayload
	}
	l.state.Players[idx].Customization = append(json.RawMessage(nil), customization...)
	return l.commit(protocol.TypePlayerCustomize, userID, l.state.Players[idx], ""), nil
}

// AddAI seats an AI player. AI slots count toward MaxPlayers and are always
// ready.
func (l *Lobby) AddAI(hostID string, difficulty model.AIDifficulty) (Transition, error) {
	if err := l.requireHost(hostID); err != nil {
		return Transition{}, err
	}
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	switch difficulty {
	case "":
		difficulty = model.AIMedium
	case model.AIEasy, model.AIMedium, model.AIHard:
	default:
		return Transition{}, ErrInvalidPayload
	}
	if len(l.state.Players) >= l.state.MaxPlayers {
		return Transition{}, ErrLobbyFull
	}

	l.nextSeq++
	slot := model.PlayerSlot{
		Username:     fmt.Sprintf("AI %d (%s)", l.aiCount()+1, difficulty),
		IsOnline:     true,
		IsAI:         true,
		AIDifficulty: difficulty,
		IsReady:      true,
		JoinSeq:      l.nextSeq,
	}
	l.state.Players = append(l.state.Players, slot)
	l.reindex()
	return l.commit(protocol.TypePlayerJoin, hostID, l.state.Players[len(l.state.Players)-1], ""), nil
}

// RemoveAI frees the AI slot at index.
func (l *Lobby) RemoveAI(hostID string, index int) (Transition, error) {
	if err := l.requireHost(hostID); err != nil {
		return Transition{}, err
	}
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	if index < 0 || index >= len(l.state.Players) || !l.state.Players[index].IsAI {
		return Transition{}, ErrTargetNotFound
	}
	removed := l.state.Players[index]
	l.state.Players = append(l.state.Players[:index], l.state.Players[index+1:]...)
	l.reindex()
	return l.commit(protocol.TypePlayerLeave, hostID, removed, ""), nil
}

// Start moves a waiting lobby to starting. Only the host may start, at
// least MinPlayers slots must be filled and every human other than the host
// must be ready.
func (l *Lobby) Start(userID, gameID string) (Transition, error) {
	if err := l.requireHost(userID); err != nil {
		return Transition{}, err
	}
	if l.state.Phase != model.PhaseWaiting {
		return Transition{}, ErrInvalidPhase
	}
	if len(l.state.Players) < MinPlayers {
		return Transition{}, ErrNotEnoughPlayers
	}
	if !l.AllReady() {
		return Transition{}, ErrPlayersNotReady
	}
	if gameID == "" {
		return Transition{}, ErrInvalidPayload
	}
	l.state.Phase = model.PhaseStarting
	l.state.GameID = gameID
	host, _ := l.state.HostSlot()
	return l.commit(protocol.TypeGameStarting, userID, host, ""), nil
}

// AllReady reports whether every non-host human is ready.
func (l *Lobby) AllReady() bool {
	return CanStart(l.state)
}

// CanStart evaluates the start guard against a snapshot. Clients use it to
// enable the start control; the authority uses it to validate.
func CanStart(s model.Lobby) bool {
	if s.Phase != model.PhaseWaiting || len(s.Players) < MinPlayers {
		return false
	}
	for _, p := range s.Players {
		if p.IsAI || p.IsHost {
			continue
		}
		if !p.IsReady {
			return false
		}
	}
	return true
}

// BeginGame hands a starting lobby to the game.
func (l *Lobby) BeginGame() (Transition, error) {
	if l.state.Phase != model.PhaseStarting {
		return Transition{}, ErrInvalidPhase
	}
	l.state.Phase = model.PhaseInProgress
	host, _ := l.state.HostSlot()
	return l.commit(protocol.TypeGameStarted, host.UserID, host, ""), nil
}

// Finish ends the lobby. Only the host may finish it, and only once the game
// has been handed off.
func (l *Lobby) Finish(userID string) (Transition, error) {
	if err := l.requireHost(userID); err != nil {
		return Transition{}, err
	}
	if l.state.Phase != model.PhaseStarting && l.state.Phase != model.PhaseInProgress {
		return Transition{}, ErrInvalidPhase
	}
	l.state.Phase = model.PhaseFinished
	host, _ := l.state.HostSlot()
	t := l.commit(protocol.TypeLobbyFinished, userID, host, "")
	t.Finished = true
	return t, nil
}

// SetOnline records a connection change for a member. It returns
// ErrNoChange when the flag already matches.
func (l *Lobby) SetOnline(userID string, online bool) (Transition, error) {
	if l.state.Phase == model.PhaseFinished {
		return Transition{}, ErrLobbyNotFound
	}
	idx := l.indexOf(userID)
	if idx < 0 {
		return Transition{}, ErrNotMember
	}
	if l.state.Players[idx].IsOnline == online {
		return Transition{}, ErrNoChange
	}
	l.state.Players[idx].IsOnline = online
	typ := protocol.TypePlayerOffline
	if online {
		typ = protocol.TypePlayerOnline
	}
	return l.commit(typ, userID, l.state.Players[idx], ""), nil
}

// Chat appends a message to the transcript. Chat does not change membership
// so the version is left alone.
func (l *Lobby) Chat(userID, text string) (model.ChatMessage, error) {
	if l.state.Phase == model.PhaseFinished {
		return model.ChatMessage{}, ErrLobbyNotFound
	}
	slot, ok := l.state.Member(userID)
	if !ok {
		return model.ChatMessage{}, ErrNotMember
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxChatLength {
		return model.ChatMessage{}, ErrInvalidPayload
	}
	msg := model.ChatMessage{
		UserID:    userID,
		Username:  slot.Username,
		Message:   text,
		Timestamp: l.opts.Now().UTC(),
	}
	l.chat = append(l.chat, msg)
	if over := len(l.chat) - l.opts.ChatHistory; over > 0 {
		l.chat = append([]model.ChatMessage(nil), l.chat[over:]...)
	}
	return msg, nil
}

func (l *Lobby) commit(typ, actorID string, subject model.PlayerSlot, newHost string) Transition {
	l.state.Version++
	l.state.UpdatedAt = l.opts.Now().UTC()
	if subject.UserID != "" {
		if cur, ok := l.state.Member(subject.UserID); ok {
			subject = cur
		}
	}
	return Transition{
		Type:      typ,
		ActorID:   actorID,
		Subject:   subject,
		NewHostID: newHost,
		Lobby:     l.Snapshot(),
	}
}

func (l *Lobby) requireHost(userID string) error {
	if l.state.Phase == model.PhaseFinished {
		return ErrLobbyNotFound
	}
	if !l.IsMember(userID) {
		return ErrNotMember
	}
	if l.state.HostID != userID {
		return ErrNotHost
	}
	return nil
}

func (l *Lobby) newHumanSlot(user model.UserIdentity) model.PlayerSlot {
	l.nextSeq++
	name := strings.TrimSpace(user.Username)
	if name == "" {
		name = user.UserID
	}
	return model.PlayerSlot{
		UserID:   user.UserID,
		Username: name,
		Avatar:   user.Avatar,
		IsOnline: true,
		JoinSeq:  l.nextSeq,
	}
}

// reassignHost picks the human with the lowest join sequence.
func (l *Lobby) reassignHost() string {
	candidates := make([]int, 0, len(l.state.Players))
	for i, p := range l.state.Players {
		p.IsHost = false
		l.state.Players[i] = p
		if !p.IsAI && p.UserID != "" {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return l.state.Players[candidates[a]].JoinSeq < l.state.Players[candidates[b]].JoinSeq
	})
	next := &l.state.Players[candidates[0]]
	next.IsHost = true
	l.state.HostID = next.UserID
	return next.UserID
}

func (l *Lobby) reindex() {
	for i := range l.state.Players {
		l.state.Players[i].Index = i
	}
}

func (l *Lobby) indexOf(userID string) int {
	if userID == "" {
		return -1
	}
	for i, p := range l.state.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (l *Lobby) aiCount() int {
	n := 0
	for _, p := range l.state.Players {
		if p.IsAI {
			n++
		}
	}
	return n
}

func copyLobby(s model.Lobby) model.Lobby {
	out := s
	out.Players = make([]model.PlayerSlot, len(s.Players))
	for i, p := range s.Players {
		if p.Customization != nil {
			p.Customization = append(json.RawMessage(nil), p.Customization...)
		}
		out.Players[i] = p
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
