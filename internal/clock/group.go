package clock

import (
	"sync"
	"time"
)

// Group owns a set of timers that share a lifetime. After Stop, no callback
// scheduled through the group runs, including ones already due.
type Group struct {
	clock   Clock
	mu      sync.Mutex
	next    uint64
	timers  map[uint64]Timer
	stopped bool
}

func NewGroup(c Clock) *Group {
	if c == nil {
		c = Real()
	}
	return &Group{clock: c, timers: make(map[uint64]Timer)}
}

// AfterFunc runs f once after d unless the group is stopped first.
func (g *Group) AfterFunc(d time.Duration, f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.next++
	id := g.next
	g.timers[id] = g.clock.AfterFunc(d, func() {
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return
		}
		delete(g.timers, id)
		g.mu.Unlock()
		f()
	})
}

// Every runs f every d until the group is stopped.
func (g *Group) Every(d time.Duration, f func()) {
	var tick func()
	tick = func() {
		f()
		g.AfterFunc(d, tick)
	}
	g.AfterFunc(d, tick)
}

// Pending returns the number of scheduled callbacks that have not run.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// Stop cancels every timer. It is safe to call more than once.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
}
