// Package router decodes every inbound envelope into a typed Event and fans
// it out to handlers registered per category.
package router

import (
	"lobbycast/internal/client/transport"
	"lobbycast/internal/protocol"
	"sync"

	"go.uber.org/zap"
)

type registry[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

func (r *registry[T]) add(fn func(T)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.list = append(r.list, entry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, e := range r.list {
				if e.id == id {
					r.list = append(r.list[:i:i], r.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *registry[T]) snapshot() []func(T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]func(T), len(r.list))
	for i, e := range r.list {
		out[i] = e.fn
	}
	return out
}

// Router holds the single catch-all subscription on a transport.
type Router struct {
	tr     transport.Transport
	sub    transport.Subscription
	logger *zap.Logger

	generic      registry[Event]
	chat         registry[ChatEvent]
	friendStatus registry[FriendStatusEvent]
	notification registry[NotificationEvent]
	invitation   registry[InvitationEvent]
	lobby        registry[LobbyEvent]
	ack          registry[AckEvent]
	lifecycle    registry[LifecycleEvent]
	protoErr     registry[ErrorEvent]
}

// New subscribes a router to every envelope on tr.
func New(tr transport.Transport, logger *zap.Logger) *Router {
	r := &Router{tr: tr, logger: logger.Named("router")}
	r.sub = tr.On(protocol.Wildcard, r.Dispatch)
	return r
}

// Close removes the router's subscription.
func (r *Router) Close() {
	r.tr.Off(r.sub)
}

func (r *Router) OnGeneric(fn func(Event)) func() {
	return r.generic.add(fn)
}

func (r *Router) OnChat(fn func(ChatEvent)) func() {
	return r.chat.add(fn)
}

func (r *Router) OnFriendStatus(fn func(FriendStatusEvent)) func() {
	return r.friendStatus.add(fn)
}

func (r *Router) OnNotification(fn func(NotificationEvent)) func() {
	return r.notification.add(fn)
}

func (r *Router) OnInvitation(fn func(InvitationEvent)) func() {
	return r.invitation.add(fn)
}

func (r *Router) OnLobby(fn func(LobbyEvent)) func() {
	return r.lobby.add(fn)
}

func (r *Router) OnAck(fn func(AckEvent)) func() {
	return r.ack.add(fn)
}

func (r *Router) OnLifecycle(fn func(LifecycleEvent)) func() {
	return r.lifecycle.add(fn)
}

func (r *Router) OnError(fn func(ErrorEvent)) func() {
	return r.protoErr.add(fn)
}

// Dispatch decodes env and runs generic handlers, then the handlers of its
// category, each in registration order.
func (r *Router) Dispatch(env protocol.Envelope) {
	ev := Decode(env)
	run(r, &r.generic, ev)

	switch e := ev.(type) {
	case ChatEvent:
		run(r, &r.chat, e)
	case FriendStatusEvent:
		run(r, &r.friendStatus, e)
	case NotificationEvent:
		run(r, &r.notification, e)
	case InvitationEvent:
		run(r, &r.invitation, e)
	case LobbyEvent:
		run(r, &r.lobby, e)
	case AckEvent:
		run(r, &r.ack, e)
	case LifecycleEvent:
		run(r, &r.lifecycle, e)
	case ErrorEvent:
		r.logger.Warn("server rejected envelope", zap.String("type", e.Type), zap.String("reason", e.Reason))
		run(r, &r.protoErr, e)
	case UnknownEvent:
		r.logger.Debug("unhandled envelope type", zap.String("type", env.Type))
	}
}

func run[T Event](r *Router, reg *registry[T], ev T) {
	for _, fn := range reg.snapshot() {
		r.call(ev, func() { fn(ev) })
	}
}

func (r *Router) call(ev Event, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked",
				zap.String("type", ev.Envelope().Type),
				zap.Any("panic", p),
			)
		}
	}()
	fn()
}
