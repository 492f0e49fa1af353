package lobbyview

import (
	"encoding/json"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"slices"
)

// AuthorityState is the last snapshot the server broadcast. It has no
// exported setters; only the controller's apply path assigns it.
type AuthorityState struct {
	lobby *model.Lobby
	chat  []model.ChatMessage
}

// Lobby returns a copy of the snapshot, false before the first one lands.
func (a AuthorityState) Lobby() (model.Lobby, bool) {
	if a.lobby == nil {
		return model.Lobby{}, false
	}
	return cloneLobby(*a.lobby), true
}

func (a AuthorityState) LobbyID() string {
	if a.lobby == nil {
		return ""
	}
	return a.lobby.ID
}

func (a AuthorityState) Version() int64 {
	if a.lobby == nil {
		return 0
	}
	return a.lobby.Version
}

func (a AuthorityState) Phase() model.Phase {
	if a.lobby == nil {
		return ""
	}
	return a.lobby.Phase
}

func (a AuthorityState) Players() []model.PlayerSlot {
	if a.lobby == nil {
		return nil
	}
	return cloneLobby(*a.lobby).Players
}

// Slot returns the seat held by userID.
func (a AuthorityState) Slot(userID string) (model.PlayerSlot, bool) {
	if a.lobby == nil {
		return model.PlayerSlot{}, false
	}
	return a.lobby.Member(userID)
}

// HostID is read from the host slot, not from the lobby header.
func (a AuthorityState) HostID() string {
	if a.lobby == nil {
		return ""
	}
	host, ok := a.lobby.HostSlot()
	if !ok {
		return ""
	}
	return host.UserID
}

func (a AuthorityState) Chat() []model.ChatMessage {
	return slices.Clone(a.chat)
}

func (a AuthorityState) canStart() bool {
	return a.lobby != nil && lobby.CanStart(*a.lobby)
}

// LocalState is owned by the view and may be edited freely.
type LocalState struct {
	ChatDraft    string
	SelectedSlot int
	Notice       string
}

// View is what a renderer receives. Host controls are derived from the
// snapshot every time a View is built.
type View struct {
	Authority AuthorityState
	Local     LocalState
	SelfID    string
	IsHost    bool
	CanStart  bool
	CanKick   bool
	Ready     bool
	GameID    string
	Countdown int
}

func buildView(auth AuthorityState, local LocalState, self, gameID string, countdown int) View {
	v := View{
		Authority: AuthorityState{lobby: auth.lobby, chat: slices.Clone(auth.chat)},
		Local:     local,
		SelfID:    self,
		GameID:    gameID,
		Countdown: countdown,
	}
	if auth.lobby != nil {
		c := cloneLobby(*auth.lobby)
		v.Authority.lobby = &c
	}
	v.IsHost = self != "" && auth.HostID() == self
	waiting := auth.Phase() == model.PhaseWaiting
	v.CanStart = v.IsHost && auth.canStart()
	v.CanKick = v.IsHost && waiting
	if slot, ok := auth.Slot(self); ok {
		v.Ready = slot.IsReady
	}
	return v
}

func cloneLobby(l model.Lobby) model.Lobby {
	l.Players = slices.Clone(l.Players)
	for i, p := range l.Players {
		if p.Customization != nil {
			l.Players[i].Customization = append(json.RawMessage(nil), p.Customization...)
		}
	}
	return l
}
