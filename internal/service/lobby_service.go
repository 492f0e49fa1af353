package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lobbycast/internal/cache"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"lobbycast/internal/repository"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// restoreLimit caps how many stored lobbies Restore looks at.
const restoreLimit = 500

var ErrGameNotFound = errors.New("game session not found")

// LobbyConfig tunes the lobby authority
type LobbyConfig struct {
	MaxPlayersLimit int
	ChatHistory     int
	ReconnectGrace  time.Duration
	Countdown       time.Duration
}

// LobbyService is the single authority for every lobby in the process.
//
// Locking: s.mu guards the registry (lobbies, userLobby). Each lobbyEntry
// has its own mutex held for one complete transition, including the
// broadcast enqueue. When both are needed s.mu is always taken first.
type LobbyService struct {
	mu        sync.Mutex
	lobbies   map[string]*lobbyEntry
	userLobby map[string]string

	repo     repository.LobbyRepo
	sessions repository.GameSessionRepo
	cache    cache.LobbyCache

	broadcaster  Broadcaster
	cfg          LobbyConfig
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	storeTimeout time.Duration
}

type lobbyEntry struct {
	mu        sync.Mutex
	lobby     *lobby.Lobby
	grace     map[string]*graceTimer
	countdown *time.Timer
}

type graceTimer struct {
	timer *time.Timer
}

// NewLobbyService creates the lobby authority. repo, sessions and lobbyCache
// may be nil, in which case that persistence is skipped.
func NewLobbyService(
	repo repository.LobbyRepo,
	sessions repository.GameSessionRepo,
	lobbyCache cache.LobbyCache,
	cfg LobbyConfig,
	logger *zap.Logger,
) *LobbyService {
	return &LobbyService{
		lobbies:      make(map[string]*lobbyEntry),
		userLobby:    make(map[string]string),
		repo:         repo,
		sessions:     sessions,
		cache:        lobbyCache,
		broadcaster:  nopBroadcaster{},
		cfg:          cfg,
		logger:       logger.Named("lobby_service"),
		now:          time.Now,
		newID:        uuid.NewString,
		storeTimeout: 3 * time.Second,
	}
}

// SetBroadcaster injects the connection hub
func (s *LobbyService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *LobbyService) options() lobby.Options {
	return lobby.Options{
		MaxPlayersLimit: s.cfg.MaxPlayersLimit,
		ChatHistory:     s.cfg.ChatHistory,
		Now:             s.now,
	}
}

// Create opens a lobby with user as host. A user can be in one lobby at a
// time.
func (s *LobbyService) Create(ctx context.Context, user model.UserIdentity, req protocol.CreateRequest) (model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.userLobby[user.UserID]; busy {
		return model.Lobby{}, lobby.ErrAlreadyInLobby
	}
	l, err := lobby.New(s.newID(), req.GameType, req.MaxPlayers, user, s.options())
	if err != nil {
		return model.Lobby{}, err
	}

	s.lobbies[l.ID()] = &lobbyEntry{lobby: l, grace: make(map[string]*graceTimer)}
	s.userLobby[user.UserID] = l.ID()

	snapshot := l.Snapshot()
	s.persist(ctx, snapshot, true)
	s.logger.Info("lobby created",
		zap.String("lobbyId", snapshot.ID),
		zap.String("gameType", snapshot.GameType),
		zap.String("hostId", user.UserID),
		zap.Int("maxPlayers", snapshot.MaxPlayers),
	)
	return snapshot, nil
}

// Join seats user in lobbyID and broadcasts the new membership.
func (s *LobbyService) Join(ctx context.Context, user model.UserIdentity, lobbyID string) (model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.userLobby[user.UserID]; busy {
		return model.Lobby{}, lobby.ErrAlreadyInLobby
	}
	e, ok := s.lobbies[lobbyID]
	if !ok {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.lobby.Join(user)
	if err != nil {
		return model.Lobby{}, err
	}
	s.userLobby[user.UserID] = lobbyID
	s.publish(t)
	s.persist(ctx, t.Lobby, false)
	return t.Lobby, nil
}

// Leave removes userID from lobbyID.
func (s *LobbyService) Leave(ctx context.Context, userID, lobbyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lobbies[lobbyID]
	if !ok {
		return lobby.ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return s.leaveLocked(ctx, e, userID)
}

// leaveLocked requires s.mu and e.mu.
func (s *LobbyService) leaveLocked(ctx context.Context, e *lobbyEntry, userID string) error {
	t, err := e.lobby.Leave(userID)
	if err != nil {
		return err
	}
	s.afterRemoval(ctx, e, t, userID)
	return nil
}

// Kick removes targetID on behalf of the host. The target is told before
// the remaining members see the broadcast.
func (s *LobbyService) Kick(ctx context.Context, hostID, lobbyID, targetID string) (model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lobbies[lobbyID]
	if !ok {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.lobby.Kick(hostID, targetID)
	if err != nil {
		return model.Lobby{}, err
	}
	s.broadcaster.SendToUser(targetID, protocol.MustNew(protocol.TypeKicked, protocol.KickedNotice{
		LobbyID:  lobbyID,
		ByUserID: hostID,
	}))
	s.afterRemoval(ctx, e, t, targetID)
	s.logger.Info("player kicked", zap.String("lobbyId", lobbyID), zap.String("userId", targetID))
	return t.Lobby, nil
}

// afterRemoval requires s.mu and e.mu.
func (s *LobbyService) afterRemoval(ctx context.Context, e *lobbyEntry, t lobby.Transition, userID string) {
	delete(s.userLobby, userID)
	e.stopGrace(userID)
	s.publish(t)
	if t.Finished {
		s.discardLocked(ctx, e, t.Lobby)
		return
	}
	s.persist(ctx, t.Lobby, t.NewHostID != "")
}

// discardLocked requires s.mu and e.mu.
func (s *LobbyService) discardLocked(ctx context.Context, e *lobbyEntry, snapshot model.Lobby) {
	for uid, g := range e.grace {
		g.timer.Stop()
		delete(e.grace, uid)
	}
	if e.countdown != nil {
		e.countdown.Stop()
	}
	for _, uid := range snapshot.HumanIDs() {
		delete(s.userLobby, uid)
	}
	delete(s.lobbies, snapshot.ID)

	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if s.cache != nil {
		if err := s.cache.Delete(ctx, snapshot.ID); err != nil {
			s.logger.Warn("failed to drop cached lobby", zap.String("lobbyId", snapshot.ID), zap.Error(err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, &snapshot); err != nil {
			s.logger.Warn("failed to record finished lobby", zap.String("lobbyId", snapshot.ID), zap.Error(err))
		}
	}
	if s.sessions != nil && snapshot.GameID != "" {
		if err := s.sessions.End(ctx, snapshot.GameID, s.now().UTC()); err != nil {
			s.logger.Warn("failed to end game session", zap.String("gameId", snapshot.GameID), zap.Error(err))
		}
	}
	s.logger.Info("lobby discarded", zap.String("lobbyId", snapshot.ID))
}

// SetReady sets the caller's readiness.
func (s *LobbyService) SetReady(ctx context.Context, userID, lobbyID string, ready bool) (model.Lobby, error) {
	return s.mutate(ctx, lobbyID, func(l *lobby.Lobby) (lobby.Transition, error) {
		return l.SetReady(userID, ready)
	})
}

// Customize replaces the caller's customization payload.
func (s *LobbyService) Customize(ctx context.Context, userID, lobbyID string, customization json.RawMessage) (model.Lobby, error) {
	return s.mutate(ctx, lobbyID, func(l *lobby.Lobby) (lobby.Transition, error) {
		return l.Customize(userID, customization)
	})
}

// AddAI seats an AI player.
func (s *LobbyService) AddAI(ctx context.Context, hostID, lobbyID string, difficulty model.AIDifficulty) (model.Lobby, error) {
	return s.mutate(ctx, lobbyID, func(l *lobby.Lobby) (lobby.Transition, error) {
		return l.AddAI(hostID, difficulty)
	})
}

// RemoveAI frees an AI slot.
func (s *LobbyService) RemoveAI(ctx context.Context, hostID, lobbyID string, index int) (model.Lobby, error) {
	return s.mutate(ctx, lobbyID, func(l *lobby.Lobby) (lobby.Transition, error) {
		return l.RemoveAI(hostID, index)
	})
}

// mutate runs a transition that does not change the user index.
func (s *LobbyService) mutate(ctx context.Context, lobbyID string, fn func(*lobby.Lobby) (lobby.Transition, error)) (model.Lobby, error) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return model.Lobby{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby.Phase() == model.PhaseFinished {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}

	t, err := fn(e.lobby)
	if err != nil {
		return model.Lobby{}, err
	}
	s.publish(t)
	s.persist(ctx, t.Lobby, false)
	return t.Lobby, nil
}

// Start moves the lobby to starting and schedules the hand-off to the game
// once the countdown elapses.
func (s *LobbyService) Start(ctx context.Context, userID, lobbyID string) (model.Lobby, error) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return model.Lobby{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby.Phase() == model.PhaseFinished {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}

	gameID := s.newID()
	t, err := e.lobby.Start(userID, gameID)
	if err != nil {
		return model.Lobby{}, err
	}
	s.publish(t)
	s.persist(ctx, t.Lobby, true)
	s.recordSession(ctx, t.Lobby)

	e.countdown = time.AfterFunc(s.cfg.Countdown, func() {
		s.beginGame(lobbyID)
	})
	s.logger.Info("lobby starting",
		zap.String("lobbyId", lobbyID),
		zap.String("gameId", gameID),
		zap.Duration("countdown", s.cfg.Countdown),
	)
	return t.Lobby, nil
}

func (s *LobbyService) recordSession(ctx context.Context, snapshot model.Lobby) {
	if s.sessions == nil {
		return
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	session := &model.GameSession{
		ID:        snapshot.GameID,
		LobbyID:   snapshot.ID,
		GameType:  snapshot.GameType,
		Players:   snapshot.Players,
		Status:    model.SessionActive,
		StartedAt: s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Warn("failed to record game session", zap.String("gameId", snapshot.GameID), zap.Error(err))
	}
}

func (s *LobbyService) beginGame(lobbyID string) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.lobby.BeginGame()
	if err != nil {
		// the lobby was emptied during the countdown
		return
	}
	s.publish(t)
	s.persist(context.Background(), t.Lobby, true)
}

// Finish ends a lobby whose game is over and discards it.
func (s *LobbyService) Finish(ctx context.Context, userID, lobbyID string) (model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lobbies[lobbyID]
	if !ok {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.lobby.Finish(userID)
	if err != nil {
		return model.Lobby{}, err
	}
	s.publish(t)
	s.discardLocked(ctx, e, t.Lobby)
	return t.Lobby, nil
}

// Chat appends a message and broadcasts it to every member, the sender
// included.
func (s *LobbyService) Chat(ctx context.Context, userID, lobbyID, text string) (model.ChatMessage, error) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return model.ChatMessage{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, err := e.lobby.Chat(userID, text)
	if err != nil {
		return model.ChatMessage{}, err
	}
	snapshot := e.lobby.Snapshot()
	s.broadcaster.SendToUsers(snapshot.HumanIDs(), protocol.MustNew(protocol.TypeLobbyChat, protocol.ChatBroadcast{
		LobbyID:   lobbyID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
		Lobby:     snapshot,
	}))
	return msg, nil
}

// Sync returns the snapshot and chat transcript for a member.
func (s *LobbyService) Sync(userID, lobbyID string) (protocol.SyncSnapshot, error) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return protocol.SyncSnapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lobby.Phase() == model.PhaseFinished {
		return protocol.SyncSnapshot{}, lobby.ErrLobbyNotFound
	}
	if !e.lobby.IsMember(userID) {
		return protocol.SyncSnapshot{}, lobby.ErrNotMember
	}
	return protocol.SyncSnapshot{Lobby: e.lobby.Snapshot(), Chat: e.lobby.ChatHistory()}, nil
}

// Get returns the current snapshot of a lobby.
func (s *LobbyService) Get(lobbyID string) (model.Lobby, error) {
	e, err := s.entry(lobbyID)
	if err != nil {
		return model.Lobby{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby.Phase() == model.PhaseFinished {
		return model.Lobby{}, lobby.ErrLobbyNotFound
	}
	return e.lobby.Snapshot(), nil
}

// LobbyOf returns the lobby userID belongs to, or "".
func (s *LobbyService) LobbyOf(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userLobby[userID]
}

// ListOpen lists joinable lobbies, newest first. The Redis index is used
// when configured.
func (s *LobbyService) ListOpen(ctx context.Context, gameType string, limit int) ([]model.LobbySummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.cache != nil {
		return s.cache.ListOpen(ctx, gameType, limit)
	}

	s.mu.Lock()
	entries := make([]*lobbyEntry, 0, len(s.lobbies))
	for _, e := range s.lobbies {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	summaries := make([]model.LobbySummary, 0)
	for _, e := range entries {
		e.mu.Lock()
		snap := e.lobby.Snapshot()
		e.mu.Unlock()
		if snap.Phase != model.PhaseWaiting || len(snap.Players) >= snap.MaxPlayers {
			continue
		}
		if gameType != "" && snap.GameType != gameType {
			continue
		}
		summaries = append(summaries, model.LobbySummary{
			ID:          snap.ID,
			GameType:    snap.GameType,
			HostID:      snap.HostID,
			PlayerCount: len(snap.Players),
			MaxPlayers:  snap.MaxPlayers,
			CreatedAt:   snap.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// HandleConnect marks a returning member online, cancels their grace timer
// and pushes a lobby:sync to the new connection.
func (s *LobbyService) HandleConnect(userID string) {
	lobbyID := s.LobbyOf(userID)
	if lobbyID == "" {
		return
	}
	e, err := s.entry(lobbyID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby.Phase() == model.PhaseFinished || !e.lobby.IsMember(userID) {
		return
	}

	e.stopGrace(userID)
	if t, err := e.lobby.SetOnline(userID, true); err == nil {
		s.publish(t)
		s.persist(context.Background(), t.Lobby, false)
	}
	s.broadcaster.SendToUser(userID, protocol.MustNew(protocol.TypeLobbySync, protocol.SyncSnapshot{
		Lobby: e.lobby.Snapshot(),
		Chat:  e.lobby.ChatHistory(),
	}))
	s.logger.Debug("member reconnected", zap.String("lobbyId", lobbyID), zap.String("userId", userID))
}

// HandleDisconnect marks a member offline. Outside of a running game the
// member is removed once the reconnect grace period passes without a new
// connection.
func (s *LobbyService) HandleDisconnect(userID string) {
	lobbyID := s.LobbyOf(userID)
	if lobbyID == "" {
		return
	}
	e, err := s.entry(lobbyID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lobby.Phase() == model.PhaseFinished || !e.lobby.IsMember(userID) {
		return
	}

	if t, err := e.lobby.SetOnline(userID, false); err == nil {
		s.publish(t)
		s.persist(context.Background(), t.Lobby, false)
	}
	if e.lobby.Phase() == model.PhaseInProgress {
		return
	}

	s.startGrace(e, lobbyID, userID)
	s.logger.Debug("member offline, grace started",
		zap.String("lobbyId", lobbyID),
		zap.String("userId", userID),
		zap.Duration("grace", s.cfg.ReconnectGrace),
	)
}

// startGrace requires e.mu, or s.mu while e is being registered.
func (s *LobbyService) startGrace(e *lobbyEntry, lobbyID, userID string) {
	e.stopGrace(userID)
	g := &graceTimer{}
	e.grace[userID] = g
	g.timer = time.AfterFunc(s.cfg.ReconnectGrace, func() {
		s.graceExpired(lobbyID, userID, g)
	})
}

func (s *LobbyService) graceExpired(lobbyID, userID string, g *graceTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lobbies[lobbyID]
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grace[userID] != g {
		// cancelled by a reconnect or replaced by a newer timer
		return
	}
	delete(e.grace, userID)
	if e.lobby.Phase() == model.PhaseInProgress {
		return
	}
	if err := s.leaveLocked(context.Background(), e, userID); err != nil {
		s.logger.Debug("grace leave skipped", zap.String("userId", userID), zap.Error(err))
		return
	}
	s.logger.Info("member removed after grace", zap.String("lobbyId", lobbyID), zap.String("userId", userID))
}

// Restore reloads the waiting lobbies a previous process left behind. The
// Redis snapshot wins over the MongoDB record since it is written on every
// transition. Restored members start offline under a reconnect grace timer,
// so members who never come back are removed. Records without a human
// member are deleted. Lobbies past waiting are not restored; their
// countdown or game did not survive the restart.
func (s *LobbyService) Restore(ctx context.Context) (int, error) {
	records, err := s.restoreCandidates(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range records {
		snap, err := s.latestSnapshot(ctx, rec)
		if err != nil {
			s.logger.Warn("failed to load lobby", zap.String("lobbyId", rec.ID), zap.Error(err))
			continue
		}
		if snap == nil || snap.Phase != model.PhaseWaiting {
			continue
		}
		if len(snap.HumanIDs()) == 0 {
			s.forget(ctx, snap.ID)
			continue
		}
		if s.adopt(*snap) {
			restored++
		}
	}
	if restored > 0 {
		s.logger.Info("lobbies restored", zap.Int("count", restored))
	}
	return restored, nil
}

// restoreCandidates lists stored waiting lobbies, from MongoDB when it is
// configured and otherwise from the Redis open index.
func (s *LobbyService) restoreCandidates(ctx context.Context) ([]*model.Lobby, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	switch {
	case s.repo != nil:
		records, err := s.repo.ListByPhase(ctx, model.PhaseWaiting, restoreLimit)
		if err != nil {
			return nil, fmt.Errorf("list waiting lobbies: %w", err)
		}
		return records, nil
	case s.cache != nil:
		open, err := s.cache.ListOpen(ctx, "", restoreLimit)
		if err != nil {
			return nil, fmt.Errorf("list open lobbies: %w", err)
		}
		records := make([]*model.Lobby, len(open))
		for i, o := range open {
			records[i] = &model.Lobby{ID: o.ID}
		}
		return records, nil
	}
	return nil, nil
}

// latestSnapshot prefers the cached snapshot of rec. A record that only
// carries an id is returned as nil when the cache has nothing.
func (s *LobbyService) latestSnapshot(ctx context.Context, rec *model.Lobby) (*model.Lobby, error) {
	if s.cache != nil {
		ctx, cancel := s.storeContext(ctx)
		defer cancel()
		cached, err := s.cache.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}
	if rec.Version == 0 && len(rec.Players) == 0 {
		return nil, nil
	}
	return rec, nil
}

func (s *LobbyService) adopt(snap model.Lobby) bool {
	humans := snap.HumanIDs()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[snap.ID]; ok {
		return false
	}
	for _, uid := range humans {
		if _, busy := s.userLobby[uid]; busy {
			return false
		}
	}
	for i := range snap.Players {
		if !snap.Players[i].IsAI {
			snap.Players[i].IsOnline = false
		}
	}
	e := &lobbyEntry{lobby: lobby.Restore(snap, s.options()), grace: make(map[string]*graceTimer)}
	s.lobbies[snap.ID] = e
	for _, uid := range humans {
		s.userLobby[uid] = snap.ID
		s.startGrace(e, snap.ID, uid)
	}
	s.persist(context.Background(), e.lobby.Snapshot(), false)
	return true
}

func (s *LobbyService) forget(ctx context.Context, lobbyID string) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if s.repo != nil {
		if err := s.repo.Delete(ctx, lobbyID); err != nil {
			s.logger.Warn("failed to delete lobby record", zap.String("lobbyId", lobbyID), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, lobbyID); err != nil {
			s.logger.Warn("failed to drop cached lobby", zap.String("lobbyId", lobbyID), zap.Error(err))
		}
	}
}

// Record returns the stored record of lobbyID and the games it handed off,
// oldest first. It serves lobbies that are no longer live.
func (s *LobbyService) Record(ctx context.Context, lobbyID string) (model.Lobby, []model.GameSession, error) {
	if s.repo == nil {
		return model.Lobby{}, nil, lobby.ErrLobbyNotFound
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	rec, err := s.repo.GetByID(ctx, lobbyID)
	if err != nil {
		return model.Lobby{}, nil, fmt.Errorf("load lobby record: %w", err)
	}
	if rec == nil {
		return model.Lobby{}, nil, lobby.ErrLobbyNotFound
	}
	sessions := []model.GameSession{}
	if s.sessions != nil {
		found, err := s.sessions.ListByLobby(ctx, lobbyID)
		if err != nil {
			return model.Lobby{}, nil, fmt.Errorf("load game sessions: %w", err)
		}
		for _, gs := range found {
			sessions = append(sessions, *gs)
		}
	}
	return *rec, sessions, nil
}

// GameSession returns a recorded game.
func (s *LobbyService) GameSession(ctx context.Context, gameID string) (model.GameSession, error) {
	if s.sessions == nil {
		return model.GameSession{}, ErrGameNotFound
	}
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	gs, err := s.sessions.GetByID(ctx, gameID)
	if err != nil {
		return model.GameSession{}, fmt.Errorf("load game session: %w", err)
	}
	if gs == nil {
		return model.GameSession{}, ErrGameNotFound
	}
	return *gs, nil
}

// Close stops every pending timer.
func (s *LobbyService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.lobbies {
		e.mu.Lock()
		for uid := range e.grace {
			e.stopGrace(uid)
		}
		if e.countdown != nil {
			e.countdown.Stop()
		}
		e.mu.Unlock()
	}
}

func (s *LobbyService) entry(lobbyID string) (*lobbyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lobbies[lobbyID]
	if !ok {
		return nil, lobby.ErrLobbyNotFound
	}
	return e, nil
}

// stopGrace requires e.mu.
func (e *lobbyEntry) stopGrace(userID string) {
	if g, ok := e.grace[userID]; ok {
		g.timer.Stop()
		delete(e.grace, userID)
	}
}

// publish sends exactly one envelope for t to every human member.
func (s *LobbyService) publish(t lobby.Transition) {
	recipients := t.Lobby.HumanIDs()
	if len(recipients) == 0 {
		return
	}
	s.broadcaster.SendToUsers(recipients, TransitionEnvelope(t, s.cfg.Countdown))
}

// TransitionEnvelope renders a transition as its broadcast envelope.
func TransitionEnvelope(t lobby.Transition, countdown time.Duration) protocol.Envelope {
	switch t.Type {
	case protocol.TypeGameStarting:
		return protocol.MustNew(t.Type, protocol.GameStarting{
			LobbyID:   t.Lobby.ID,
			GameID:    t.Lobby.GameID,
			Countdown: int(countdown.Round(time.Second) / time.Second),
			Lobby:     t.Lobby,
		})
	case protocol.TypeGameStarted:
		return protocol.MustNew(t.Type, protocol.GameStarted{
			LobbyID: t.Lobby.ID,
			GameID:  t.Lobby.GameID,
			Lobby:   t.Lobby,
		})
	case protocol.TypeLobbyFinished:
		return protocol.MustNew(t.Type, protocol.LobbyFinished{
			LobbyID: t.Lobby.ID,
			GameID:  t.Lobby.GameID,
			Lobby:   t.Lobby,
		})
	}

	ev := protocol.PlayerEvent{
		LobbyID:   t.Lobby.ID,
		UserID:    t.Subject.UserID,
		Username:  t.Subject.Username,
		SlotIndex: t.Subject.Index,
		IsReady:   t.Subject.IsReady,
		IsHost:    t.Subject.IsHost,
		IsOnline:  t.Subject.IsOnline,
		IsAI:      t.Subject.IsAI,
		NewHostID: t.NewHostID,
		Lobby:     t.Lobby,
	}
	if t.ActorID != t.Subject.UserID {
		ev.ByUserID = t.ActorID
	}
	return protocol.MustNew(t.Type, ev)
}

func (s *LobbyService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

// persist mirrors the snapshot to Redis and, when record is set, writes the
// MongoDB record. Storage failures are logged; the in-memory state stays
// authoritative.
func (s *LobbyService) persist(ctx context.Context, snapshot model.Lobby, record bool) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if s.cache != nil {
		if err := s.cache.Set(ctx, &snapshot); err != nil {
			s.logger.Warn("failed to cache lobby", zap.String("lobbyId", snapshot.ID), zap.Error(err))
		}
	}
	if record && s.repo != nil {
		if err := s.repo.Save(ctx, &snapshot); err != nil {
			s.logger.Warn("failed to record lobby", zap.String("lobbyId", snapshot.ID), zap.Error(err))
		}
	}
}
