package model

import "time"

type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseStarting   Phase = "starting"
	PhaseInProgress Phase = "in-progress"
	PhaseFinished   Phase = "finished"
)

// Lobby is the authoritative snapshot of one game lobby. It is what gets
// broadcast to members, cached in Redis and recorded in MongoDB.
type Lobby struct {
	ID         string       `json:"id" bson:"_id"`
	GameType   string       `json:"gameType" bson:"gameType"`
	HostID     string       `json:"hostId" bson:"hostId"`
	Players    []PlayerSlot `json:"players" bson:"players"`
	MaxPlayers int          `json:"maxPlayers" bson:"maxPlayers"`
	Phase      Phase        `json:"phase" bson:"phase"`
	Version    int64        `json:"version" bson:"version"`
	GameID     string       `json:"gameId,omitempty" bson:"gameId,omitempty"`
	CreatedAt  time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt" bson:"updatedAt"`
}

// HostSlot returns the slot flagged as host, if any.
func (l *Lobby) HostSlot() (PlayerSlot, bool) {
	for _, p := range l.Players {
		if p.IsHost {
			return p, true
		}
	}
	return PlayerSlot{}, false
}

// Member returns the slot occupied by userID.
func (l *Lobby) Member(userID string) (PlayerSlot, bool) {
	if userID == "" {
		return PlayerSlot{}, false
	}
	for _, p := range l.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return PlayerSlot{}, false
}

// HumanIDs lists the user ids of every human member, in slot order.
func (l *Lobby) HumanIDs() []string {
	ids := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		if !p.IsAI && p.UserID != "" {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// LobbySummary is the listing entry for open lobbies
type LobbySummary struct {
	ID          string    `json:"id"`
	GameType    string    `json:"gameType"`
	HostID      string    `json:"hostId"`
	PlayerCount int       `json:"playerCount"`
	MaxPlayers  int       `json:"maxPlayers"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ChatMessage is one line of a lobby's chat transcript
type ChatMessage struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
