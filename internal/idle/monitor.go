// Package idle tracks which participants were recently active, as opposed to
// merely connected.
package idle

import (
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is how long a participant stays active without a new signal.
const DefaultTimeout = 30 * time.Second

// Monitor maps client ids to the time of their last activity signal.
type Monitor struct {
	mu     sync.Mutex
	active map[uint64]time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{active: make(map[uint64]time.Time)}
}

// MarkActive records activity for clientID at now.
func (m *Monitor) MarkActive(clientID uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[clientID] = now
}

func (m *Monitor) MarkInactive(clientID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, clientID)
}

// Sweep keeps only the entries whose last activity is within timeout of now
// and returns the evicted client ids in ascending order.
func (m *Monitor) Sweep(now time.Time, timeout time.Duration) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make(map[uint64]time.Time, len(m.active))
	var evicted []uint64
	for id, last := range m.active {
		if now.Sub(last) <= timeout {
			kept[id] = last
			continue
		}
		evicted = append(evicted, id)
	}
	m.active = kept
	sort.Slice(evicted, func(i, j int) bool { return evicted[i] < evicted[j] })
	return evicted
}

func (m *Monitor) IsActive(clientID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[clientID]
	return ok
}

// Snapshot returns a copy of the active set.
func (m *Monitor) Snapshot() map[uint64]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint64]time.Time, len(m.active))
	for id, last := range m.active {
		out[id] = last
	}
	return out
}
