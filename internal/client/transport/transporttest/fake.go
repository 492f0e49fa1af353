// Package transporttest provides an in-memory transport.Transport for tests.
package transporttest

import (
	"context"
	"lobbycast/internal/client/transport"
	"lobbycast/internal/protocol"
	"sync"
)

// Sent is one envelope passed to Send.
type Sent struct {
	Type    string
	Payload any
}

// Fake records sent envelopes and dispatches delivered ones synchronously
// on the caller's goroutine.
type Fake struct {
	mu        sync.Mutex
	connected bool
	sent      []Sent
	handlers  map[string][]fakeHandler
	nextID    uint64

	// OnSend, when set, is called after every accepted Send.
	OnSend func(Sent)
}

type fakeHandler struct {
	id uint64
	fn transport.Handler
}

var _ transport.Transport = (*Fake)(nil)

func New() *Fake {
	return &Fake{handlers: make(map[string][]fakeHandler)}
}

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.Deliver(protocol.MustNew(protocol.TypeTransportConnect, nil))
	return nil
}

func (f *Fake) Send(typ string, payload any) bool {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return false
	}
	s := Sent{Type: typ, Payload: payload}
	f.sent = append(f.sent, s)
	hook := f.OnSend
	f.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return true
}

func (f *Fake) On(typ string, h transport.Handler) transport.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers[typ] = append(f.handlers[typ], fakeHandler{id: f.nextID, fn: h})
	return transport.Subscription{ID: f.nextID, Type: typ}
}

func (f *Fake) Off(sub transport.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.handlers[sub.Type]
	for i, h := range list {
		if h.id == sub.ID {
			f.handlers[sub.Type] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Close() error {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.Deliver(protocol.MustNew(protocol.TypeTransportDisconnect, protocol.Disconnect{Code: 1000, Clean: true}))
	}
	return nil
}

// Deliver dispatches env to typed handlers, then catch-all handlers.
func (f *Fake) Deliver(env protocol.Envelope) {
	f.mu.Lock()
	var fns []transport.Handler
	for _, h := range f.handlers[env.Type] {
		fns = append(fns, h.fn)
	}
	for _, h := range f.handlers[protocol.Wildcard] {
		fns = append(fns, h.fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(env)
	}
}

// DeliverNew builds and delivers an envelope.
func (f *Fake) DeliverNew(typ string, payload any) {
	f.Deliver(protocol.MustNew(typ, payload))
}

// Sent returns a copy of every accepted Send.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentOfType filters Sent by envelope type.
func (f *Fake) SentOfType(typ string) []Sent {
	var out []Sent
	for _, s := range f.Sent() {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}
