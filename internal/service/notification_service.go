package service

import (
	"context"
	"errors"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidNotification = errors.New("notification needs a recipient, a known type and a title")

// FriendRequestHook forwards friend request decisions to the external
// friends service.
type FriendRequestHook interface {
	RespondFriendRequest(ctx context.Context, userID, requestID string, accept bool) error
}

// NotificationService pushes notifications and presence updates coming
// from collaborators outside the lobby authority.
type NotificationService struct {
	broadcaster Broadcaster
	friends     FriendRequestHook
	logger      *zap.Logger
	now         func() time.Time
}

func NewNotificationService(friends FriendRequestHook, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		broadcaster: nopBroadcaster{},
		friends:     friends,
		logger:      logger.Named("notification_service"),
		now:         time.Now,
	}
}

// SetBroadcaster injects the connection hub
func (s *NotificationService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

var knownTypes = map[model.NotificationType]bool{
	model.NotifyChat:          true,
	model.NotifyInvitation:    true,
	model.NotifyFriendRequest: true,
	model.NotifyGameStarted:   true,
	model.NotifyAchievement:   true,
	model.NotifySystem:        true,
}

// Push delivers n to userID, filling in id, priority and timestamp. It
// reports whether the user had a live connection.
func (s *NotificationService) Push(userID string, n model.Notification) (model.Notification, bool, error) {
	if userID == "" || !knownTypes[n.Type] || strings.TrimSpace(n.Title) == "" {
		return model.Notification{}, false, ErrInvalidNotification
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	online := s.broadcaster.IsOnline(userID)
	s.broadcaster.SendToUser(userID, protocol.MustNew(protocol.TypeNotificationNew, n))
	s.logger.Debug("notification pushed",
		zap.String("userId", userID),
		zap.String("type", string(n.Type)),
		zap.Bool("online", online),
	)
	return n, online, nil
}

// FriendStatus fans a presence change out to the given recipients.
func (s *NotificationService) FriendStatus(status model.FriendStatus, recipients []string) error {
	if status.UserID == "" || status.Status == "" {
		return ErrInvalidNotification
	}
	s.broadcaster.SendToUsers(recipients, protocol.MustNew(protocol.TypeFriendStatus, status))
	return nil
}

// RespondFriendRequest forwards a decision to the friends service.
func (s *NotificationService) RespondFriendRequest(ctx context.Context, userID string, resp protocol.FriendRequestResponse) error {
	if resp.RequestID == "" {
		return lobby.ErrInvalidPayload
	}
	if s.friends == nil {
		s.logger.Info("friend request response dropped, no friends service configured",
			zap.String("userId", userID),
			zap.String("requestId", resp.RequestID),
		)
		return nil
	}
	return s.friends.RespondFriendRequest(ctx, userID, resp.RequestID, resp.Accept)
}
