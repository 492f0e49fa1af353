package service

import "lobbycast/internal/protocol"

// Broadcaster delivers envelopes to user connections (avoids import cycle).
// Implementations must not block: the lobby service calls them while it
// holds a lobby lock so that broadcasts are enqueued in transition order.
type Broadcaster interface {
	SendToUser(userID string, env protocol.Envelope)
	SendToUsers(userIDs []string, env protocol.Envelope)
	IsOnline(userID string) bool
}

type nopBroadcaster struct{}

func (nopBroadcaster) SendToUser(string, protocol.Envelope) {}

func (nopBroadcaster) SendToUsers([]string, protocol.Envelope) {}

func (nopBroadcaster) IsOnline(string) bool {
	return false
}
