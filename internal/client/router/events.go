package router

import (
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"time"
)

// Event is one decoded inbound envelope. The set of implementations is
// closed: ChatEvent, FriendStatusEvent, NotificationEvent, InvitationEvent,
// LobbyEvent, AckEvent, LifecycleEvent, ErrorEvent and UnknownEvent.
type Event interface {
	Envelope() protocol.Envelope
	event()
}

type base struct {
	env protocol.Envelope
}

func (b base) Envelope() protocol.Envelope {
	return b.env
}

func (base) event() {}

// ChatEvent is a chat line, from a lobby broadcast or a direct chat:message.
type ChatEvent struct {
	base
	LobbyID   string
	UserID    string
	Username  string
	Message   string
	Timestamp time.Time
}

type FriendStatusEvent struct {
	base
	UserID   string
	Username string
	Status   string
}

type NotificationEvent struct {
	base
	Notification model.Notification
}

type InvitationEvent struct {
	base
	Invitation model.Invitation
}

// LobbyEvent is any authority broadcast about a lobby. Lobby is the full
// snapshot when the envelope carried one.
type LobbyEvent struct {
	base
	Type      string
	LobbyID   string
	UserID    string
	Username  string
	NewHostID string
	ByUserID  string
	GameID    string
	Countdown int
	Lobby     *model.Lobby
	Chat      []model.ChatMessage
}

// AckEvent answers a command. Command is the type that was acknowledged.
type AckEvent struct {
	base
	Command string
	Ack     protocol.Ack
}

type LifecycleEvent struct {
	base
	Connected  bool
	Disconnect protocol.Disconnect
}

// ErrorEvent reports an envelope the server refused to route.
type ErrorEvent struct {
	base
	Type   string
	Reason string
}

type UnknownEvent struct {
	base
}
