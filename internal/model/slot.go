package model

import "encoding/json"

type AIDifficulty string

const (
	AIEasy   AIDifficulty = "easy"
	AIMedium AIDifficulty = "medium"
	AIHard   AIDifficulty = "hard"
)

// PlayerSlot is one seat in a lobby. AI slots never carry a user id.
type PlayerSlot struct {
	Index         int             `json:"index" bson:"index"`
	UserID        string          `json:"userId,omitempty" bson:"userId,omitempty"`
	Username      string          `json:"username" bson:"username"`
	Avatar        string          `json:"avatar,omitempty" bson:"avatar,omitempty"`
	IsOnline      bool            `json:"isOnline" bson:"isOnline"`
	IsAI          bool            `json:"isAI" bson:"isAI"`
	AIDifficulty  AIDifficulty    `json:"aiDifficulty,omitempty" bson:"aiDifficulty,omitempty"`
	IsReady       bool            `json:"isReady" bson:"isReady"`
	IsHost        bool            `json:"isHost" bson:"isHost"`
	Customization json.RawMessage `json:"customization,omitempty" bson:"customization,omitempty"`
	JoinSeq       int64           `json:"joinSeq" bson:"joinSeq"` // join order, drives host reassignment
}

// UserIdentity is the authenticated user bound to a connection
type UserIdentity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}
