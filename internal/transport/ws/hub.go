package ws

import (
	"lobbycast/internal/protocol"
	"sync"

	"go.uber.org/zap"
)

// Application close codes sent to a connection the hub drops.
const (
	CloseReplaced     = 4000
	CloseSlowConsumer = 4001
	CloseShutdown     = 4002
)

// Hub owns the user -> connection table. A user has at most one live
// connection; registering a new one replaces and closes the old one.
type Hub struct {
	conns map[string]*Connection

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *BroadcastMessage
	lifecycle  chan lifecycleEvent
	stop       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	onConnect    func(userID string)
	onDisconnect func(userID string)

	logger *zap.Logger
}

// Connection is one websocket bound to one authenticated user
type Connection struct {
	UserID   string
	Username string
	Avatar   string
	Send     chan []byte

	// set by the hub before it closes Send
	closeCode   int
	closeReason string
}

// BroadcastMessage is an encoded envelope addressed to a set of users
type BroadcastMessage struct {
	UserIDs []string
	Data    []byte
}

type lifecycleEvent struct {
	userID    string
	connected bool
}

// NewHub creates and starts a hub
func NewHub(logger *zap.Logger) *Hub {
	h := &Hub{
		conns:        make(map[string]*Connection),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		broadcast:    make(chan *BroadcastMessage, 1024),
		lifecycle:    make(chan lifecycleEvent, 256),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		onConnect:    func(string) {},
		onDisconnect: func(string) {},
		logger:       logger.Named("ws_hub"),
	}
	go h.run()
	go h.notify()
	return h
}

// OnLifecycle sets the callbacks fired, in order and off the hub goroutine,
// when a user gains or loses its connection. Replacing a connection fires
// connect only. Call before serving traffic.
func (h *Hub) OnLifecycle(onConnect, onDisconnect func(userID string)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if old, ok := h.conns[conn.UserID]; ok {
				h.drop(old, CloseReplaced, "replaced by a new connection")
			}
			h.conns[conn.UserID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", zap.String("userId", conn.UserID))
			h.emit(lifecycleEvent{userID: conn.UserID, connected: true})

		case conn := <-h.unregister:
			h.mu.Lock()
			existing, ok := h.conns[conn.UserID]
			current := ok && existing == conn
			if current {
				delete(h.conns, conn.UserID)
				close(conn.Send)
			}
			h.mu.Unlock()
			if current {
				h.logger.Debug("connection unregistered", zap.String("userId", conn.UserID))
				h.emit(lifecycleEvent{userID: conn.UserID, connected: false})
			}

		case msg := <-h.broadcast:
			var slow []string
			h.mu.Lock()
			for _, id := range msg.UserIDs {
				conn, ok := h.conns[id]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					delete(h.conns, id)
					h.drop(conn, CloseSlowConsumer, "send buffer full")
					slow = append(slow, id)
				}
			}
			h.mu.Unlock()
			for _, id := range slow {
				h.logger.Warn("dropping slow connection", zap.String("userId", id))
				h.emit(lifecycleEvent{userID: id, connected: false})
			}

		case <-h.stop:
			h.mu.Lock()
			for id, conn := range h.conns {
				delete(h.conns, id)
				h.drop(conn, CloseShutdown, "server shutting down")
			}
			h.mu.Unlock()
			close(h.lifecycle)
			return
		}
	}
}

// drop requires h.mu. The write pump sends the close frame once Send is
// closed.
func (h *Hub) drop(conn *Connection, code int, reason string) {
	conn.closeCode = code
	conn.closeReason = reason
	close(conn.Send)
}

func (h *Hub) emit(ev lifecycleEvent) {
	select {
	case h.lifecycle <- ev:
	default:
		h.logger.Error("lifecycle queue full, event lost", zap.String("userId", ev.userID), zap.Bool("connected", ev.connected))
	}
}

func (h *Hub) notify() {
	for ev := range h.lifecycle {
		if ev.connected {
			h.onConnect(ev.userID)
		} else {
			h.onDisconnect(ev.userID)
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Stop closes every connection and stops the hub.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// SendToUser implements service.Broadcaster
func (h *Hub) SendToUser(userID string, env protocol.Envelope) {
	h.SendToUsers([]string{userID}, env)
}

// SendToUsers implements service.Broadcaster. Envelopes are queued in call
// order and delivered to each connection in that order.
func (h *Hub) SendToUsers(userIDs []string, env protocol.Envelope) {
	if len(userIDs) == 0 {
		return
	}
	data, err := env.Encode()
	if err != nil {
		h.logger.Error("failed to encode envelope", zap.String("type", env.Type), zap.Error(err))
		return
	}
	msg := &BroadcastMessage{UserIDs: append([]string(nil), userIDs...), Data: data}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// IsOnline implements service.Broadcaster
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// ConnectionCount is the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
