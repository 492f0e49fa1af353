package ws

import (
	"encoding/json"
	"lobbycast/internal/protocol"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lifecycleLog struct {
	mu     sync.Mutex
	events []string
}

func (l *lifecycleLog) add(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *lifecycleLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func newTestHub(t *testing.T) (*Hub, *lifecycleLog) {
	t.Helper()
	log := &lifecycleLog{}
	h := NewHub(zap.NewNop())
	h.OnLifecycle(
		func(id string) { log.add("+" + id) },
		func(id string) { log.add("-" + id) },
	)
	t.Cleanup(h.Stop)
	return h, log
}

func newConn(id string, buffer int) *Connection {
	return &Connection{UserID: id, Send: make(chan []byte, buffer)}
}

func receive(t *testing.T, c *Connection) protocol.Envelope {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		env, err := protocol.Decode(data)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return protocol.Envelope{}
	}
}

func TestHubDeliversInOrder(t *testing.T) {
	h, _ := newTestHub(t)
	a, b := newConn("a", 8), newConn("b", 8)
	h.Register(a)
	h.Register(b)

	h.SendToUsers([]string{"a", "b", "ghost"}, protocol.MustNew("lobby:player:join", map[string]string{"n": "1"}))
	h.SendToUser("a", protocol.MustNew("lobby:player:ready", map[string]string{"n": "2"}))

	assert.Equal(t, "lobby:player:join", receive(t, a).Type)
	assert.Equal(t, "lobby:player:ready", receive(t, a).Type)
	assert.Equal(t, "lobby:player:join", receive(t, b).Type)
	assert.True(t, h.IsOnline("a"))
	assert.False(t, h.IsOnline("ghost"))
	assert.Equal(t, 2, h.ConnectionCount())
}

func TestHubReplacesConnection(t *testing.T) {
	h, log := newTestHub(t)
	first, second := newConn("a", 1), newConn("a", 1)
	h.Register(first)
	h.Register(second)

	_, open := <-first.Send
	assert.False(t, open)
	assert.Equal(t, CloseReplaced, first.closeCode)

	// the replaced connection's own unregister must not remove the new one
	h.Unregister(first)
	assert.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+a", "+a"}, log.snapshot())
	assert.True(t, h.IsOnline("a"))

	h.Unregister(second)
	assert.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "-a", log.snapshot()[2])
	assert.False(t, h.IsOnline("a"))
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h, log := newTestHub(t)
	slow := newConn("slow", 1)
	h.Register(slow)

	env := protocol.MustNew("chat:message", json.RawMessage(`{"m":"x"}`))
	h.SendToUser("slow", env)
	h.SendToUser("slow", env)

	assert.Eventually(t, func() bool { return !h.IsOnline("slow") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, CloseSlowConsumer, slow.closeCode)
	assert.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"+slow", "-slow"}, log.snapshot())
}

func TestHubStopClosesConnections(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := newConn("a", 1)
	h.Register(c)
	h.Stop()

	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, CloseShutdown, c.closeCode)

	// calls after Stop return instead of blocking
	h.SendToUser("a", protocol.MustNew("chat:message", nil))
	late := newConn("b", 1)
	h.Register(late)
	_, open = <-late.Send
	assert.False(t, open)
	h.Stop()
}
