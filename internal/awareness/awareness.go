// Package awareness tracks the ephemeral per-connection state that tells
// participants who is currently in a room. States are never persisted; each
// carries a per-client clock so that the newest announcement wins.
package awareness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"coderoom/collab/internal/observe"
)

// DefaultTimeout is how long a remote state survives without being renewed.
const DefaultTimeout = 30 * time.Second

// UserInfo is the identity a participant publishes. LastActive is in unix
// milliseconds.
type UserInfo struct {
	ClientID   uint64 `json:"clientId"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	Picture    string `json:"picture,omitempty"`
	LastActive int64  `json:"lastActive"`
}

// Complete reports whether the record carries everything a user list needs.
func (u *UserInfo) Complete() bool {
	return u != nil && u.Name != "" && u.Color != ""
}

// State is the awareness record of one client. A state may exist before its
// User is set.
type State struct {
	User *UserInfo `json:"user,omitempty"`
}

// Change lists the clients whose state appeared, changed or went away.
type Change struct {
	Added   []uint64
	Updated []uint64
	Removed []uint64
	Origin  any
}

// Clients returns every client id touched by the change.
func (c Change) Clients() []uint64 {
	out := make([]uint64, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	return append(out, c.Removed...)
}

type meta struct {
	clock       uint64
	lastUpdated time.Time
}

// Awareness holds the states of every known client, including the local one.
// OnChange fires when a state appears, disappears or changes content;
// OnUpdate fires on every accepted announcement, including renewals.
type Awareness struct {
	mu        sync.Mutex
	clientID  uint64
	now       func() time.Time
	states    map[uint64]State
	meta      map[uint64]meta
	changes   observe.Registry[Change]
	updates   observe.Registry[Change]
	destroyed bool
}

// New creates an awareness instance whose local state starts empty.
func New(clientID uint64, now func() time.Time) *Awareness {
	if now == nil {
		now = time.Now
	}
	a := &Awareness{
		clientID: clientID,
		now:      now,
		states:   make(map[uint64]State),
		meta:     make(map[uint64]meta),
	}
	a.states[clientID] = State{}
	a.meta[clientID] = meta{clock: 0, lastUpdated: now()}
	return a
}

func (a *Awareness) ClientID() uint64 {
	return a.clientID
}

func (a *Awareness) OnChange(fn func(Change)) observe.Handle {
	return a.changes.Add(fn)
}

func (a *Awareness) OffChange(h observe.Handle) {
	a.changes.Remove(h)
}

func (a *Awareness) OnUpdate(fn func(Change)) observe.Handle {
	return a.updates.Add(fn)
}

func (a *Awareness) OffUpdate(h observe.Handle) {
	a.updates.Remove(h)
}

// LocalState returns the local state, or false once it has been removed.
func (a *Awareness) LocalState() (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[a.clientID]
	return st, ok
}

// States returns a copy of every known state keyed by client id.
func (a *Awareness) States() map[uint64]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]State, len(a.states))
	for id, st := range a.states {
		out[id] = st
	}
	return out
}

// SetLocalState replaces the local state. A nil state announces that the
// local client left.
func (a *Awareness) SetLocalState(st *State) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	ch := a.setLocalLocked(st)
	a.mu.Unlock()
	a.emit(ch)
}

// SetLocalUser sets the user field of the local state.
func (a *Awareness) SetLocalUser(user UserInfo) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	st := a.states[a.clientID]
	st.User = &user
	ch := a.setLocalLocked(&st)
	a.mu.Unlock()
	a.emit(ch)
}

func (a *Awareness) setLocalLocked(st *State) emission {
	id := a.clientID
	prev, existed := a.states[id]
	m := a.meta[id]
	m.clock++
	m.lastUpdated = a.now()
	a.meta[id] = m

	var ch Change
	changed := false
	switch {
	case st == nil:
		delete(a.states, id)
		if existed {
			ch.Removed = append(ch.Removed, id)
			changed = true
		}
	case !existed:
		a.states[id] = *st
		ch.Added = append(ch.Added, id)
		changed = true
	default:
		a.states[id] = *st
		ch.Updated = append(ch.Updated, id)
		changed = !reflect.DeepEqual(prev, *st)
	}
	ch.Origin = localOrigin
	return emission{change: ch, changed: changed, updated: true}
}

// RemoveStates drops the given remote states, for example when the channel
// that announced them closes. The local state is never removed this way.
func (a *Awareness) RemoveStates(clients []uint64, origin any) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	ch := Change{Origin: origin}
	for _, id := range clients {
		if id == a.clientID {
			continue
		}
		if _, ok := a.states[id]; ok {
			delete(a.states, id)
			ch.Removed = append(ch.Removed, id)
		}
	}
	a.mu.Unlock()
	n := len(ch.Removed) > 0
	a.emit(emission{change: ch, changed: n, updated: n})
}

// CheckOutdated renews the local announcement once half of timeout has passed
// and drops remote states that were not renewed within timeout.
func (a *Awareness) CheckOutdated(timeout time.Duration) {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	now := a.now()
	var renew emission
	if st, ok := a.states[a.clientID]; ok && now.Sub(a.meta[a.clientID].lastUpdated) >= timeout/2 {
		renew = a.setLocalLocked(&st)
	}
	expired := Change{Origin: timeoutOrigin}
	for id := range a.states {
		if id == a.clientID {
			continue
		}
		if now.Sub(a.meta[id].lastUpdated) >= timeout {
			delete(a.states, id)
			expired.Removed = append(expired.Removed, id)
		}
	}
	a.mu.Unlock()

	a.emit(renew)
	sortIDs(expired.Removed)
	n := len(expired.Removed) > 0
	a.emit(emission{change: expired, changed: n, updated: n})
}

// Destroy announces the removal of the local state and drops every
// subscriber.
func (a *Awareness) Destroy() {
	a.SetLocalState(nil)
	a.mu.Lock()
	a.destroyed = true
	a.mu.Unlock()
	a.changes.Clear()
	a.updates.Clear()
}

// Entry is one client's record in an encoded update. A nil State means the
// client left.
type Entry struct {
	ClientID uint64 `json:"clientId"`
	Clock    uint64 `json:"clock"`
	State    *State `json:"state"`
}

// EncodeUpdate encodes the current records of the given clients.
func (a *Awareness) EncodeUpdate(clients []uint64) ([]byte, error) {
	a.mu.Lock()
	entries := make([]Entry, 0, len(clients))
	for _, id := range clients {
		m, ok := a.meta[id]
		if !ok {
			continue
		}
		e := Entry{ClientID: id, Clock: m.clock}
		if st, ok := a.states[id]; ok {
			e.State = &st
		}
		entries = append(entries, e)
	}
	a.mu.Unlock()
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode awareness: %w", err)
	}
	return data, nil
}

// EncodeRemoval encodes a removal of each client, one clock past the last
// clock seen for it.
func EncodeRemoval(clocks map[uint64]uint64) ([]byte, error) {
	ids := make([]uint64, 0, len(clocks))
	for id := range clocks {
		ids = append(ids, id)
	}
	sortIDs(ids)
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{ClientID: id, Clock: clocks[id] + 1})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode awareness removal: %w", err)
	}
	return data, nil
}

func DecodeUpdate(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode awareness: %w", err)
	}
	return entries, nil
}

// ApplyUpdate merges an encoded update received from another replica. A
// record is accepted when its clock is newer, or when it removes a known
// state at the same clock. A remote attempt to remove the local state is
// answered by re-announcing it.
func (a *Awareness) ApplyUpdate(data []byte, origin any) error {
	entries, err := DecodeUpdate(data)
	if err != nil {
		return err
	}
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	now := a.now()
	ch := Change{Origin: origin}
	var contentChanged []uint64
	var renew emission
	for _, e := range entries {
		current, known := a.meta[e.ClientID]
		prev, existed := a.states[e.ClientID]
		if known && !(current.clock < e.Clock || (current.clock == e.Clock && e.State == nil && existed)) {
			continue
		}
		if e.ClientID == a.clientID {
			if e.State == nil && existed {
				// Another replica believes we left; keep our state and
				// announce it with a newer clock.
				m := a.meta[a.clientID]
				if e.Clock > m.clock {
					m.clock = e.Clock
				}
				a.meta[a.clientID] = m
				renew = a.setLocalLocked(&prev)
			}
			continue
		}
		if e.State == nil {
			delete(a.states, e.ClientID)
		} else {
			a.states[e.ClientID] = *e.State
		}
		a.meta[e.ClientID] = meta{clock: e.Clock, lastUpdated: now}
		switch {
		case e.State == nil && existed:
			ch.Removed = append(ch.Removed, e.ClientID)
		case e.State != nil && !existed:
			ch.Added = append(ch.Added, e.ClientID)
		case e.State != nil:
			ch.Updated = append(ch.Updated, e.ClientID)
			if !reflect.DeepEqual(prev, *e.State) {
				contentChanged = append(contentChanged, e.ClientID)
			}
		}
	}
	a.mu.Unlock()

	changed := len(ch.Added) > 0 || len(ch.Removed) > 0 || len(contentChanged) > 0
	updated := changed || len(ch.Updated) > 0
	a.emit(emission{change: ch, changed: changed, updated: updated})
	a.emit(renew)
	return nil
}

type origin string

const (
	localOrigin   origin = "local"
	timeoutOrigin origin = "timeout"
)

type emission struct {
	change  Change
	changed bool
	updated bool
}

func (a *Awareness) emit(e emission) {
	if e.changed {
		a.changes.Emit(e.change)
	}
	if e.updated {
		a.updates.Emit(e.change)
	}
}

func sortIDs(ids []uint64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
