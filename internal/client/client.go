// Package client wires the transport, event router, notification store,
// lobby view and modal gate for one signed-in user.
package client

import (
	"context"
	"errors"
	"fmt"
	"lobbycast/internal/client/lobbyview"
	"lobbycast/internal/client/modal"
	"lobbycast/internal/client/notify"
	"lobbycast/internal/client/router"
	"lobbycast/internal/client/transport"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type Config struct {
	ServerURL        string
	Token            string
	StorageDir       string
	MaxNotifications int
	AckTimeout       time.Duration
	Backoff          transport.Backoff
}

// Client holds the components of one session. Components receive their
// dependencies explicitly; nothing is reachable through package state.
type Client struct {
	Identity      model.UserIdentity
	Transport     transport.Transport
	Router        *router.Router
	Notifications *notify.Store
	Lobby         *lobbyview.Controller
	Modal         *modal.Gate

	backoff transport.Backoff
	logger  *zap.Logger
	unsubs  []func()
	dropped chan protocol.Disconnect
}

// IdentityFromToken reads the user from the token claims. The signature is
// checked by the server on connect, not here.
func IdentityFromToken(token string) (model.UserIdentity, error) {
	if token == "" {
		return model.UserIdentity{}, &transport.ConnectionError{Op: "identity", Err: transport.ErrMissingToken}
	}
	var claims model.UserClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return model.UserIdentity{}, &transport.ConnectionError{Op: "identity", Err: fmt.Errorf("parse token: %w", err)}
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return model.UserIdentity{}, &transport.ConnectionError{Op: "identity", Err: errors.New("token has no user id")}
	}
	return model.UserIdentity{UserID: claims.UserID, Username: claims.Username, Avatar: claims.Avatar}, nil
}

// New builds a websocket client for cfg.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	tr := transport.NewWS(transport.Options{URL: cfg.ServerURL, Token: cfg.Token}, logger)
	return Wire(tr, notify.FileStorage{Dir: cfg.StorageDir}, cfg, logger)
}

// Wire assembles a client on an existing transport and storage.
func Wire(tr transport.Transport, storage notify.Storage, cfg Config, logger *zap.Logger) (*Client, error) {
	id, err := IdentityFromToken(cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.Backoff.Attempts == 0 {
		cfg.Backoff = transport.DefaultBackoff()
	}
	store, err := notify.NewStore(storage, tr, notify.Options{Max: cfg.MaxNotifications}, logger)
	if err != nil {
		return nil, fmt.Errorf("open notifications: %w", err)
	}
	r := router.New(tr, logger)
	c := &Client{
		Identity:      id,
		Transport:     tr,
		Router:        r,
		Notifications: store,
		Lobby:         lobbyview.New(tr, r, id.UserID, lobbyview.Options{AckTimeout: cfg.AckTimeout}, logger),
		Modal:         &modal.Gate{},
		backoff:       cfg.Backoff,
		logger:        logger.Named("client"),
		dropped:       make(chan protocol.Disconnect, 1),
	}
	c.unsubs = append(c.unsubs,
		r.OnNotification(c.onNotification),
		r.OnInvitation(c.onInvitation),
		r.OnLifecycle(c.onLifecycle),
	)
	return c, nil
}

func (c *Client) onNotification(ev router.NotificationEvent) {
	n := notify.FromModel(ev.Notification)
	if _, ok := c.Notifications.Add(n); !ok {
		c.logger.Debug("notification deduplicated", zap.String("id", n.ID), zap.String("type", string(n.Type)))
	}
}

// onInvitation stores the direct invitation under the same id as its
// notification:new twin so whichever lands second is dropped.
func (c *Client) onInvitation(ev router.InvitationEvent) {
	inv := ev.Invitation
	if inv.ID == "" {
		return
	}
	c.Notifications.Add(notify.FromModel(inv.Notification(ev.Envelope().Timestamp)))
}

func (c *Client) onLifecycle(ev router.LifecycleEvent) {
	if ev.Connected || ev.Disconnect.Clean {
		return
	}
	select {
	case c.dropped <- ev.Disconnect:
	default:
	}
}

// Connect opens the connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.Transport.Connect(ctx)
}

// Run reconnects with backoff whenever the connection drops uncleanly. It
// returns when ctx ends or reconnecting gives up.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-c.dropped:
			c.logger.Warn("connection lost", zap.Int("code", d.Code), zap.String("reason", d.Reason))
			if err := transport.Reconnect(ctx, c.Transport, c.backoff, c.logger); err != nil {
				return err
			}
		}
	}
}

// Confirm shows one blocking dialog through ask. It fails with
// modal.ErrModalOpen while another dialog is up.
func (c *Client) Confirm(name string, ask func() bool) (bool, error) {
	release, err := c.Modal.Acquire(name)
	if err != nil {
		return false, err
	}
	defer release()
	return ask(), nil
}

// RespondToInvitation resolves an invitation from the inbox. Accepting
// also prepares the lobby view to take the join broadcast.
func (c *Client) RespondToInvitation(id string, accept bool) error {
	action := notify.Decline
	if accept {
		action = notify.Accept
		for _, n := range c.Notifications.GetAll() {
			if lobbyID, ok := n.Data["lobbyId"].(string); ok && n.ID == id {
				c.Lobby.Expect(lobbyID)
			}
		}
	}
	return c.Notifications.HandleActionableResponse(id, action)
}

// Close detaches every component and closes the connection.
func (c *Client) Close() error {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.Lobby.Close()
	c.Router.Close()
	return c.Transport.Close()
}
