package router

import (
	"encoding/json"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Payload field aliases accepted from older servers and third party pushes.
var (
	userIDPaths   = []string{"userId", "playerId", "user_id"}
	usernamePaths = []string{"username", "displayName", "name"}
	messagePaths  = []string{"message", "content", "text"}
)

// Decode turns an envelope into its typed Event. Unrecognized types decode
// to UnknownEvent; it never fails.
func Decode(env protocol.Envelope) Event {
	b := base{env: env}
	p := gjson.ParseBytes(env.Payload)

	switch {
	case env.Type == protocol.TypeTransportConnect:
		return LifecycleEvent{base: b, Connected: true}
	case env.Type == protocol.TypeTransportDisconnect:
		return LifecycleEvent{base: b, Disconnect: protocol.Disconnect{
			Code:   int(p.Get("code").Int()),
			Clean:  p.Get("clean").Bool(),
			Reason: p.Get("reason").String(),
		}}
	case protocol.IsAck(env.Type):
		return decodeAck(b, p)
	case env.Type == protocol.TypeError:
		return ErrorEvent{base: b, Type: p.Get("type").String(), Reason: p.Get("reason").String()}
	case env.Type == protocol.TypeChatMessage || env.Type == protocol.TypeLobbyChat:
		return ChatEvent{
			base:      b,
			LobbyID:   p.Get("lobbyId").String(),
			UserID:    first(p, userIDPaths...).String(),
			Username:  first(p, usernamePaths...).String(),
			Message:   first(p, messagePaths...).String(),
			Timestamp: timestamp(p.Get("timestamp"), env.Timestamp),
		}
	case env.Type == protocol.TypeFriendStatus:
		return FriendStatusEvent{
			base:     b,
			UserID:   first(p, userIDPaths...).String(),
			Username: first(p, usernamePaths...).String(),
			Status:   p.Get("status").String(),
		}
	case env.Type == protocol.TypeNotificationNew:
		return NotificationEvent{base: b, Notification: decodeNotification(p, env.Timestamp)}
	case env.Type == protocol.TypeInvitation:
		return InvitationEvent{base: b, Invitation: decodeInvitation(p)}
	case protocol.Domain(env.Type) == "lobby":
		return decodeLobby(b, p)
	}
	return UnknownEvent{base: b}
}

func decodeAck(b base, p gjson.Result) AckEvent {
	ev := AckEvent{base: b, Command: strings.TrimSuffix(b.env.Type, ":ack")}
	if err := json.Unmarshal(b.env.Payload, &ev.Ack); err != nil {
		ev.Ack = protocol.Failed("malformed_ack")
		return ev
	}
	if ev.Ack.LobbyID == "" {
		ev.Ack.LobbyID = p.Get("lobby.id").String()
	}
	normalizeSlots(ev.Ack.Players, p.Get("players"))
	if ev.Ack.Lobby != nil {
		normalizeSlots(ev.Ack.Lobby.Players, p.Get("lobby.players"))
	}
	return ev
}

// normalizeSlots fills slot user ids and names given under an alias.
func normalizeSlots(slots []model.PlayerSlot, raw gjson.Result) {
	for i, slot := range raw.Array() {
		if i >= len(slots) {
			return
		}
		if slots[i].UserID == "" {
			slots[i].UserID = first(slot, userIDPaths...).String()
		}
		if slots[i].Username == "" {
			slots[i].Username = first(slot, usernamePaths...).String()
		}
	}
}

func decodeNotification(p gjson.Result, fallback time.Time) model.Notification {
	n := model.Notification{
		ID:         p.Get("id").String(),
		Type:       model.NotificationType(p.Get("type").String()),
		Title:      p.Get("title").String(),
		Message:    first(p, messagePaths...).String(),
		Priority:   model.Priority(p.Get("priority").String()),
		Actionable: p.Get("actionable").Bool(),
		Timestamp:  timestamp(p.Get("timestamp"), fallback),
	}
	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}
	n.Data = map[string]any{}
	if d := p.Get("data"); d.IsObject() {
		if err := json.Unmarshal([]byte(d.Raw), &n.Data); err != nil {
			n.Data = map[string]any{}
		}
		if _, ok := n.Data["userId"]; !ok {
			if uid := first(d, userIDPaths...); uid.Exists() {
				n.Data["userId"] = uid.String()
			}
		}
	}
	return n
}

func decodeInvitation(p gjson.Result) model.Invitation {
	return model.Invitation{
		ID:           first(p, "invitationId", "id").String(),
		LobbyID:      p.Get("lobbyId").String(),
		GameType:     p.Get("gameType").String(),
		FromUserID:   first(p, "fromUserId", "fromPlayerId").String(),
		FromUsername: first(p, "fromUsername", "fromDisplayName").String(),
		ToUserID:     p.Get("toUserId").String(),
		ExpiresAt:    timestamp(p.Get("expiresAt"), time.Time{}),
	}
}

func decodeLobby(b base, p gjson.Result) LobbyEvent {
	ev := LobbyEvent{
		base:      b,
		Type:      b.env.Type,
		LobbyID:   p.Get("lobbyId").String(),
		UserID:    first(p, userIDPaths...).String(),
		Username:  first(p, usernamePaths...).String(),
		NewHostID: p.Get("newHostId").String(),
		ByUserID:  p.Get("byUserId").String(),
		GameID:    p.Get("gameId").String(),
		Countdown: int(p.Get("countdown").Int()),
	}
	if l := p.Get("lobby"); l.IsObject() {
		var snapshot model.Lobby
		if err := json.Unmarshal([]byte(l.Raw), &snapshot); err == nil {
			normalizeSlots(snapshot.Players, l.Get("players"))
			ev.Lobby = &snapshot
			if ev.LobbyID == "" {
				ev.LobbyID = snapshot.ID
			}
		}
	}
	if c := p.Get("chat"); c.IsArray() {
		c.ForEach(func(_, line gjson.Result) bool {
			ev.Chat = append(ev.Chat, model.ChatMessage{
				UserID:    first(line, userIDPaths...).String(),
				Username:  first(line, usernamePaths...).String(),
				Message:   first(line, messagePaths...).String(),
				Timestamp: timestamp(line.Get("timestamp"), time.Time{}),
			})
			return true
		})
	}
	return ev
}

func first(p gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if v := p.Get(path); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// timestamp accepts epoch milliseconds or an RFC 3339 string.
func timestamp(v gjson.Result, fallback time.Time) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC()
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.String()); err == nil {
			return t
		}
	}
	return fallback
}
