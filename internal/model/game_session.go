package model

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// GameSession records a game handed off from a lobby
type GameSession struct {
	ID        string        `json:"id" bson:"_id"`
	LobbyID   string        `json:"lobbyId" bson:"lobbyId"`
	GameType  string        `json:"gameType" bson:"gameType"`
	Players   []PlayerSlot  `json:"players" bson:"players"`
	Status    SessionStatus `json:"status" bson:"status"`
	StartedAt time.Time     `json:"startedAt" bson:"startedAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}
