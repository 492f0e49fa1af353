package ws

import (
	"context"
	"lobbycast/internal/model"
	"lobbycast/internal/protocol"
	"lobbycast/internal/service"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options are the per-connection limits
type Options struct {
	ReadTimeout    time.Duration
	PingPeriod     time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
}

// Handler upgrades authenticated requests and pumps envelopes between the
// socket, the hub and the dispatcher.
type Handler struct {
	hub        *Hub
	authSvc    *service.AuthService
	dispatcher *service.Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, authSvc *service.AuthService, dispatcher *service.Dispatcher, opts Options, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:        hub,
		authSvc:    authSvc,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.Named("ws_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS handles GET /v1/ws?token=...
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.Validate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &Connection{
		UserID:   claims.UserID,
		Username: claims.Username,
		Avatar:   claims.Avatar,
		Send:     make(chan []byte, h.opts.SendBuffer),
	}
	h.hub.Register(conn)
	h.logger.Info("user connected", zap.String("userId", conn.UserID), zap.String("remote", r.RemoteAddr))

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, service.Identity(claims))
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, user model.UserIdentity) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(h.opts.MaxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		return nil
	})

	ctx := context.Background()
	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", zap.String("userId", user.UserID), zap.Error(err))
			}
			return
		}
		wsConn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
		if msgType != websocket.TextMessage {
			h.dispatcher.Reject(user.UserID, "", "text_frames_only")
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			h.dispatcher.Reject(user.UserID, "", "malformed_envelope")
			continue
		}
		h.dispatcher.Handle(ctx, user, env)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if !ok {
				code, reason := conn.closeCode, conn.closeReason
				if code == 0 {
					code = websocket.CloseNormalClosure
				}
				wsConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
