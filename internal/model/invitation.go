package model

import (
	"fmt"
	"time"
)

// Invitation is a time-bounded offer to join a lobby
type Invitation struct {
	ID           string    `json:"invitationId"`
	LobbyID      string    `json:"lobbyId"`
	GameType     string    `json:"gameType"`
	FromUserID   string    `json:"fromUserId"`
	FromUsername string    `json:"fromUsername"`
	ToUserID     string    `json:"toUserId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the invitation is no longer actionable at now.
func (i *Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

type NotificationType string

const (
	NotifyChat          NotificationType = "chat"
	NotifyInvitation    NotificationType = "invitation"
	NotifyFriendRequest NotificationType = "friend_request"
	NotifyGameStarted   NotificationType = "game_started"
	NotifyAchievement   NotificationType = "achievement"
	NotifySystem        NotificationType = "system"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Notification is the server-side shape of a notification:new payload
type Notification struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Priority   Priority         `json:"priority,omitempty"`
	Actionable bool             `json:"actionable,omitempty"`
	Data       map[string]any   `json:"data,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// FriendStatus is pushed by the external friends service
type FriendStatus struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"` // online, offline, in-game
}

// Notification is the notification:new twin of an invitation. It shares the
// invitation's id so clients can collapse the two deliveries.
func (i *Invitation) Notification(now time.Time) Notification {
	return Notification{
		ID:         i.ID,
		Type:       NotifyInvitation,
		Title:      "Game invitation",
		Message:    fmt.Sprintf("%s invited you to play %s", i.FromUsername, i.GameType),
		Priority:   PriorityHigh,
		Actionable: true,
		Data: map[string]any{
			"invitationId": i.ID,
			"lobbyId":      i.LobbyID,
			"userId":       i.FromUserID,
			"fromUserId":   i.FromUserID,
			"gameType":     i.GameType,
			"expiresAt":    i.ExpiresAt.Format(time.RFC3339Nano),
		},
		Timestamp: now.UTC(),
	}
}
