// Package modal serializes blocking prompts. Only one dialog is shown at a
// time; a second request fails fast instead of queueing.
package modal

import (
	"errors"
	"sync"
)

var ErrModalOpen = errors.New("a modal dialog is already open")

// Gate is safe for concurrent use. The zero value is ready.
type Gate struct {
	mu    sync.Mutex
	owner string
	seq   uint64
}

// Acquire claims the gate for name. The returned release is idempotent and
// only releases this acquisition.
func (g *Gate) Acquire(name string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != "" {
		return nil, ErrModalOpen
	}
	if name == "" {
		name = "modal"
	}
	g.seq++
	g.owner = name
	seq := g.seq

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.seq == seq {
				g.owner = ""
			}
		})
	}, nil
}

// Open reports which dialog holds the gate, if any.
func (g *Gate) Open() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, g.owner != ""
}
