package service

import (
	"context"
	"errors"
	"lobbycast/internal/lobby"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"

	"go.uber.org/zap"
)

// Dispatcher routes inbound client envelopes to the services and answers
// each command with a <type>:ack to the requester. Broadcasts caused by a
// command are enqueued before its ack.
type Dispatcher struct {
	lobbies       *LobbyService
	invitations   *InvitationService
	notifications *NotificationService
	broadcaster   Broadcaster
	logger        *zap.Logger
}

func NewDispatcher(lobbies *LobbyService, invitations *InvitationService, notifications *NotificationService, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		lobbies:       lobbies,
		invitations:   invitations,
		notifications: notifications,
		broadcaster:   nopBroadcaster{},
		logger:        logger.Named("dispatcher"),
	}
}

// SetBroadcaster injects the connection hub
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.broadcaster = b
}

// Connected is called by the hub when userID gains a connection.
func (d *Dispatcher) Connected(userID string) {
	d.lobbies.HandleConnect(userID)
}

// Disconnected is called by the hub when userID loses its last connection.
func (d *Dispatcher) Disconnected(userID string) {
	d.lobbies.HandleDisconnect(userID)
}

// Reject reports an envelope that could not be routed.
func (d *Dispatcher) Reject(userID, typ, reason string) {
	d.broadcaster.SendToUser(userID, protocol.MustNew(protocol.TypeError, protocol.ProtocolError{
		Type:   typ,
		Reason: reason,
	}))
}

// Handle processes one envelope from user. Envelopes from one connection
// are handled one at a time, in arrival order.
func (d *Dispatcher) Handle(ctx context.Context, user model.UserIdentity, env protocol.Envelope) {
	ack, err := d.route(ctx, user, env)
	if errors.Is(err, lobby.ErrUnknownType) {
		d.Reject(user.UserID, env.Type, lobby.ErrUnknownType.Reason())
		return
	}
	if err != nil {
		ack = protocol.Failed(lobby.ReasonOf(err))
		if ack.Reason == "internal_error" {
			d.logger.Error("command failed",
				zap.String("type", env.Type),
				zap.String("userId", user.UserID),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("command rejected",
				zap.String("type", env.Type),
				zap.String("userId", user.UserID),
				zap.String("reason", ack.Reason),
			)
		}
	}
	d.broadcaster.SendToUser(user.UserID, protocol.MustNew(protocol.AckType(env.Type), ack))
}

func (d *Dispatcher) route(ctx context.Context, user model.UserIdentity, env protocol.Envelope) (protocol.Ack, error) {
	switch env.Type {
	case protocol.TypeLobbyCreate:
		req, err := bind[protocol.CreateRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.Create(ctx, user, req))

	case protocol.TypeLobbyJoin:
		req, err := bind[protocol.LobbyRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.Join(ctx, user, req.LobbyID))

	case protocol.TypeLobbyLeave:
		req, err := bind[protocol.LobbyRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		if err := d.lobbies.Leave(ctx, user.UserID, req.LobbyID); err != nil {
			return protocol.Ack{}, err
		}
		ack := protocol.OK(nil)
		ack.LobbyID = req.LobbyID
		return ack, nil

	case protocol.TypeLobbyReady:
		req, err := bind[protocol.ReadyRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.SetReady(ctx, user.UserID, req.LobbyID, req.IsReady))

	case protocol.TypeLobbyCustomize:
		req, err := bind[protocol.CustomizeRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.Customize(ctx, user.UserID, req.LobbyID, req.Customization))

	case protocol.TypeLobbyKick:
		req, err := bind[protocol.KickRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.Kick(ctx, user.UserID, req.LobbyID, req.TargetUserID))

	case protocol.TypeLobbyStart:
		req, err := bind[protocol.LobbyRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.Start(ctx, user.UserID, req.LobbyID))

	case protocol.TypeLobbyChat:
		req, err := bind[protocol.ChatRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		if _, err := d.lobbies.Chat(ctx, user.UserID, req.LobbyID, req.Message); err != nil {
			return protocol.Ack{}, err
		}
		return protocol.OK(nil), nil

	case protocol.TypeLobbyAddAI:
		req, err := bind[protocol.AddAIRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.AddAI(ctx, user.UserID, req.LobbyID, req.Difficulty))

	case protocol.TypeLobbyRemoveAI:
		req, err := bind[protocol.RemoveAIRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		return snapshotAck(d.lobbies.RemoveAI(ctx, user.UserID, req.LobbyID, req.SlotIndex))

	case protocol.TypeLobbySync:
		req, err := bind[protocol.LobbyRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		snap, err := d.lobbies.Sync(user.UserID, req.LobbyID)
		if err != nil {
			return protocol.Ack{}, err
		}
		d.broadcaster.SendToUser(user.UserID, protocol.MustNew(protocol.TypeLobbySync, snap))
		return protocol.OK(&snap.Lobby), nil

	case protocol.TypeLobbyInvite:
		req, err := bind[protocol.InviteRequest](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		if _, err := d.invitations.Invite(ctx, user, req); err != nil {
			return protocol.Ack{}, err
		}
		ack := protocol.OK(nil)
		ack.LobbyID = req.LobbyID
		return ack, nil

	case protocol.TypeInvitationRespond:
		req, err := bind[protocol.InvitationResponse](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		snap, err := d.invitations.Respond(ctx, user, req)
		if err != nil {
			return protocol.Ack{}, err
		}
		return protocol.OK(snap), nil

	case protocol.TypeFriendRespond:
		req, err := bind[protocol.FriendRequestResponse](env)
		if err != nil {
			return protocol.Ack{}, err
		}
		if err := d.notifications.RespondFriendRequest(ctx, user.UserID, req); err != nil {
			return protocol.Ack{}, err
		}
		return protocol.OK(nil), nil
	}
	return protocol.Ack{}, lobby.ErrUnknownType
}

func bind[T any](env protocol.Envelope) (T, error) {
	var v T
	if err := env.Bind(&v); err != nil {
		return v, lobby.ErrInvalidPayload
	}
	return v, nil
}

func snapshotAck(snapshot model.Lobby, err error) (protocol.Ack, error) {
	if err != nil {
		return protocol.Ack{}, err
	}
	return protocol.OK(&snapshot), nil
}
