package service

import (
	"context"
	"fmt"
	"lobbycast/internal/cache"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InvitationService creates lobby invitations and resolves responses.
// An invitation reaches its target twice, as lobby:invitation and as
// notification:new; clients dedup the pair.
type InvitationService struct {
	lobbies     *LobbyService
	store       cache.InvitationCache
	broadcaster Broadcaster
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewInvitationService(lobbies *LobbyService, store cache.InvitationCache, ttl time.Duration, logger *zap.Logger) *InvitationService {
	return &InvitationService{
		lobbies:     lobbies,
		store:       store,
		broadcaster: nopBroadcaster{},
		ttl:         ttl,
		logger:      logger.Named("invitation_service"),
		now:         time.Now,
	}
}

// SetBroadcaster injects the connection hub
func (s *InvitationService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Invite offers targetUserID a seat in a waiting lobby the sender belongs to.
func (s *InvitationService) Invite(ctx context.Context, from model.UserIdentity, req protocol.InviteRequest) (*model.Invitation, error) {
	if req.TargetUserID == "" || req.TargetUserID == from.UserID {
		return nil, lobby.ErrInvalidPayload
	}
	snapshot, err := s.lobbies.Get(req.LobbyID)
	if err != nil {
		return nil, err
	}
	if _, ok := snapshot.Member(from.UserID); !ok {
		return nil, lobby.ErrNotMember
	}
	if snapshot.Phase != model.PhaseWaiting {
		return nil, lobby.ErrLobbyInGame
	}
	if _, ok := snapshot.Member(req.TargetUserID); ok {
		return nil, lobby.ErrAlreadyInLobby
	}

	inv := &model.Invitation{
		ID:           uuid.NewString(),
		LobbyID:      snapshot.ID,
		GameType:     snapshot.GameType,
		FromUserID:   from.UserID,
		FromUsername: from.Username,
		ToUserID:     req.TargetUserID,
		ExpiresAt:    s.now().Add(s.ttl).UTC(),
	}
	if err := s.store.Set(ctx, inv); err != nil {
		return nil, fmt.Errorf("store invitation: %w", err)
	}

	s.broadcaster.SendToUser(inv.ToUserID, protocol.MustNew(protocol.TypeInvitation, inv))
	s.broadcaster.SendToUser(inv.ToUserID, protocol.MustNew(protocol.TypeNotificationNew, inv.Notification(s.now())))
	s.logger.Info("invitation sent",
		zap.String("invitationId", inv.ID),
		zap.String("lobbyId", inv.LobbyID),
		zap.String("from", inv.FromUserID),
		zap.String("to", inv.ToUserID),
	)
	return inv, nil
}

// Respond resolves an invitation. Accepting joins the lobby.
func (s *InvitationService) Respond(ctx context.Context, user model.UserIdentity, resp protocol.InvitationResponse) (*model.Lobby, error) {
	inv, err := s.store.Get(ctx, resp.InvitationID)
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	if inv == nil {
		return nil, lobby.ErrInvitationNotFound
	}
	if inv.ToUserID != user.UserID {
		return nil, lobby.ErrInvitationForbidden
	}
	if inv.Expired(s.now()) {
		return nil, lobby.ErrInvitationExpired
	}
	if !resp.Accept {
		s.consume(ctx, inv.ID)
		s.broadcaster.SendToUser(inv.FromUserID, protocol.MustNew(protocol.TypeNotificationNew, model.Notification{
			ID:        uuid.NewString(),
			Type:      model.NotifySystem,
			Title:     "Invitation declined",
			Message:   fmt.Sprintf("%s declined your invitation", user.Username),
			Priority:  model.PriorityLow,
			Data:      map[string]any{"userId": user.UserID, "lobbyId": inv.LobbyID},
			Timestamp: s.now().UTC(),
		}))
		return nil, nil
	}

	// a failed join leaves the invitation usable until it expires
	snapshot, err := s.lobbies.Join(ctx, user, inv.LobbyID)
	if err != nil {
		return nil, err
	}
	s.consume(ctx, inv.ID)
	return &snapshot, nil
}

func (s *InvitationService) consume(ctx context.Context, id string) {
	if err := s.store.Delete(ctx, id); err != nil {
		s.logger.Warn("failed to delete invitation", zap.String("invitationId", id), zap.Error(err))
	}
}
