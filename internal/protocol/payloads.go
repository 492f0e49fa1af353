package protocol

import (
	"encoding/json"
	"lobbycast/internal/model"
	"time"
)

// CreateRequest is the payload of lobby:create
type CreateRequest struct {
	GameType   string `json:"gameType"`
	MaxPlayers int    `json:"maxPlayers"`
}

// LobbyRequest is the payload of commands that only name a lobby
// (lobby:join, lobby:leave, lobby:start, lobby:sync).
type LobbyRequest struct {
	LobbyID string `json:"lobbyId"`
}

type ReadyRequest struct {
	LobbyID string `json:"lobbyId"`
	IsReady bool   `json:"isReady"`
}

type CustomizeRequest struct {
	LobbyID       string          `json:"lobbyId"`
	Customization json.RawMessage `json:"customization"`
}

type KickRequest struct {
	LobbyID      string `json:"lobbyId"`
	TargetUserID string `json:"targetUserId"`
}

type ChatRequest struct {
	LobbyID string `json:"lobbyId"`
	Message string `json:"message"`
}

type AddAIRequest struct {
	LobbyID    string             `json:"lobbyId"`
	Difficulty model.AIDifficulty `json:"difficulty,omitempty"`
}

type RemoveAIRequest struct {
	LobbyID   string `json:"lobbyId"`
	SlotIndex int    `json:"slotIndex"`
}

type InviteRequest struct {
	LobbyID      string `json:"lobbyId"`
	TargetUserID string `json:"targetUserId"`
}

type InvitationResponse struct {
	InvitationID string `json:"invitationId"`
	Accept       bool   `json:"accept"`
}

type FriendRequestResponse struct {
	RequestID string `json:"requestId"`
	Accept    bool   `json:"accept"`
}

// Ack answers every client command. Reason is set only on failure.
type Ack struct {
	Success bool               `json:"success"`
	Reason  string             `json:"reason,omitempty"`
	LobbyID string             `json:"lobbyId,omitempty"`
	Players []model.PlayerSlot `json:"players,omitempty"`
	Lobby   *model.Lobby       `json:"lobby,omitempty"`
}

// OK builds a successful ack, attaching the snapshot when one is given.
func OK(snapshot *model.Lobby) Ack {
	ack := Ack{Success: true}
	if snapshot != nil {
		ack.LobbyID = snapshot.ID
		ack.Players = snapshot.Players
		ack.Lobby = snapshot
	}
	return ack
}

// Failed builds a rejected ack.
func Failed(reason string) Ack {
	return Ack{Success: false, Reason: reason}
}

// PlayerEvent is broadcast for every membership or slot change. Lobby is
// always the complete snapshot after the change.
type PlayerEvent struct {
	LobbyID   string      `json:"lobbyId"`
	UserID    string      `json:"userId,omitempty"`
	Username  string      `json:"username"`
	SlotIndex int         `json:"slotIndex"`
	IsReady   bool        `json:"isReady"`
	IsHost    bool        `json:"isHost"`
	IsOnline  bool        `json:"isOnline"`
	IsAI      bool        `json:"isAI,omitempty"`
	NewHostID string      `json:"newHostId,omitempty"`
	ByUserID  string      `json:"byUserId,omitempty"`
	Lobby     model.Lobby `json:"lobby"`
}

// KickedNotice is sent only to the removed member before the broadcast
type KickedNotice struct {
	LobbyID  string `json:"lobbyId"`
	ByUserID string `json:"byUserId"`
}

type GameStarting struct {
	LobbyID   string      `json:"lobbyId"`
	GameID    string      `json:"gameId"`
	Countdown int         `json:"countdown"`
	Lobby     model.Lobby `json:"lobby"`
}

type GameStarted struct {
	LobbyID string      `json:"lobbyId"`
	GameID  string      `json:"gameId"`
	Lobby   model.Lobby `json:"lobby"`
}

type LobbyFinished struct {
	LobbyID string      `json:"lobbyId"`
	GameID  string      `json:"gameId,omitempty"`
	Lobby   model.Lobby `json:"lobby"`
}

// ChatBroadcast is the authority's copy of a chat line
type ChatBroadcast struct {
	LobbyID   string      `json:"lobbyId"`
	UserID    string      `json:"userId"`
	Username  string      `json:"username"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
	Lobby     model.Lobby `json:"lobby"`
}

// SyncSnapshot answers lobby:sync and is pushed after a reconnect.
type SyncSnapshot struct {
	Lobby model.Lobby         `json:"lobby"`
	Chat  []model.ChatMessage `json:"chat"`
}

// ProtocolError reports an envelope the server could not route.
type ProtocolError struct {
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

// Disconnect is the payload of the synthetic transport:disconnect envelope.
type Disconnect struct {
	Code   int    `json:"code"`
	Clean  bool   `json:"clean"`
	Reason string `json:"reason,omitempty"`
}
