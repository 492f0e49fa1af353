// Package transport is the client side of the lobby websocket. It sends
// envelopes, fans inbound envelopes out to per-type and catch-all handlers
// and reports connection lifecycle as synthetic envelopes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"lobbycast/internal/protocol"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrMissingToken is returned by Connect when no credential is configured.
var ErrMissingToken = errors.New("missing auth token")

// ConnectionError wraps a failure to establish the channel.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Handler receives one inbound envelope. Handlers run on the read
// goroutine, one at a time, in arrival order.
type Handler func(env protocol.Envelope)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	ID   uint64
	Type string
}

// Transport is the message channel used by the router and the controllers.
type Transport interface {
	Connect(ctx context.Context) error
	Send(typ string, payload any) bool
	On(typ string, h Handler) Subscription
	Off(sub Subscription)
	IsConnected() bool
	Close() error
}

type Options struct {
	URL            string
	Token          string
	SendBuffer     int
	MaxMessageSize int64
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type session struct {
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closing atomic.Bool
}

// WS is a Transport over github.com/coder/websocket.
type WS struct {
	opts   Options
	logger *zap.Logger

	dialMu sync.Mutex

	mu  sync.Mutex
	cur *session

	hmu      sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
}

var _ Transport = (*WS)(nil)

func NewWS(opts Options, logger *zap.Logger) *WS {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	return &WS{
		opts:     opts,
		logger:   logger.Named("transport"),
		handlers: make(map[string][]handlerEntry),
	}
}

// Connect dials the server. It returns once the handshake completes and the
// transport:connect envelope has been dispatched. Connecting an open
// transport is a no-op.
func (t *WS) Connect(ctx context.Context) error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	if t.IsConnected() {
		return nil
	}
	if t.opts.Token == "" {
		return &ConnectionError{Op: "connect", Err: ErrMissingToken}
	}
	u, err := url.Parse(t.opts.URL)
	if err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	q := u.Query()
	q.Set("token", t.opts.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(t.opts.MaxMessageSize)

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		send:   make(chan []byte, t.opts.SendBuffer),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.cur = s
	t.mu.Unlock()

	t.logger.Info("connected", zap.String("url", t.opts.URL))
	t.dispatch(protocol.MustNew(protocol.TypeTransportConnect, nil))

	go t.writeLoop(s)
	go t.readLoop(s)
	return nil
}

// Send enqueues an envelope. It reports false when the transport is not
// connected or its send buffer is full.
func (t *WS) Send(typ string, payload any) bool {
	env, err := protocol.New(typ, payload)
	if err != nil {
		t.logger.Error("failed to build envelope", zap.String("type", typ), zap.Error(err))
		return false
	}
	data, err := env.Encode()
	if err != nil {
		t.logger.Error("failed to encode envelope", zap.String("type", typ), zap.Error(err))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return false
	}
	select {
	case t.cur.send <- data:
		return true
	default:
		t.logger.Warn("send buffer full, envelope dropped", zap.String("type", typ))
		return false
	}
}

// On registers h for typ, or for every envelope when typ is protocol.Wildcard.
func (t *WS) On(typ string, h Handler) Subscription {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	t.nextID++
	t.handlers[typ] = append(t.handlers[typ], handlerEntry{id: t.nextID, fn: h})
	return Subscription{ID: t.nextID, Type: typ}
}

func (t *WS) Off(sub Subscription) {
	t.hmu.Lock()
	defer t.hmu.Unlock()
	list := t.handlers[sub.Type]
	for i, e := range list {
		if e.id == sub.ID {
			t.handlers[sub.Type] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (t *WS) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur != nil
}

// Close closes the connection with a normal closure and waits for the read
// loop to dispatch transport:disconnect. It must not be called from a
// Handler.
func (t *WS) Close() error {
	t.mu.Lock()
	s := t.cur
	t.mu.Unlock()
	if s == nil {
		return nil
	}
	s.closing.Store(true)
	if err := s.conn.Close(websocket.StatusNormalClosure, "client closing"); err != nil {
		t.logger.Debug("close handshake incomplete", zap.Error(err))
	}
	<-s.done
	return nil
}

func (t *WS) writeLoop(s *session) {
	for {
		select {
		case data := <-s.send:
			ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
			err := s.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if !s.closing.Load() {
					t.logger.Debug("write failed", zap.Error(err))
				}
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (t *WS) readLoop(s *session) {
	defer close(s.done)
	var err error
	for {
		var data []byte
		var typ websocket.MessageType
		typ, data, err = s.conn.Read(s.ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		env, derr := protocol.Decode(data)
		if derr != nil {
			t.logger.Warn("dropping malformed envelope", zap.Error(derr))
			continue
		}
		t.dispatch(env)
	}

	t.mu.Lock()
	if t.cur == s {
		t.cur = nil
	}
	t.mu.Unlock()
	s.cancel()
	s.conn.CloseNow()

	d := disconnectInfo(err, s.closing.Load())
	t.logger.Info("disconnected", zap.Int("code", d.Code), zap.Bool("clean", d.Clean), zap.String("reason", d.Reason))
	t.dispatch(protocol.MustNew(protocol.TypeTransportDisconnect, d))
}

func disconnectInfo(err error, closing bool) protocol.Disconnect {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return protocol.Disconnect{
			Code:   int(ce.Code),
			Clean:  ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway,
			Reason: ce.Reason,
		}
	}
	if closing {
		return protocol.Disconnect{Code: int(websocket.StatusNormalClosure), Clean: true}
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return protocol.Disconnect{Code: int(websocket.StatusAbnormalClosure), Reason: reason}
}

func (t *WS) dispatch(env protocol.Envelope) {
	t.hmu.RLock()
	typed := append([]handlerEntry(nil), t.handlers[env.Type]...)
	wild := append([]handlerEntry(nil), t.handlers[protocol.Wildcard]...)
	t.hmu.RUnlock()

	for _, e := range typed {
		t.call(e.fn, env)
	}
	for _, e := range wild {
		t.call(e.fn, env)
	}
}

func (t *WS) call(h Handler, env protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("handler panicked", zap.String("type", env.Type), zap.Any("panic", r))
		}
	}()
	h(env)
}
