package crdt

import (
	"sort"
	"sync"

	"coderoom/collab/internal/observe"
)

// MapEvent describes a change to one map of a Document.
type MapEvent struct {
	Map    string
	Keys   map[string]struct{}
	Origin any
	// Local is true when the change was written through this Document
	// rather than merged from an update.
	Local bool
}

// Changed reports whether key was among the changed keys.
func (e MapEvent) Changed(key string) bool {
	_, ok := e.Keys[key]
	return ok
}

// UpdateEvent carries the effective part of a change, ready to be
// propagated to other replicas.
type UpdateEvent struct {
	Update Update
	Origin any
	Local  bool
}

// Subscription is returned by Observe. The zero value is a valid no-op
// argument to Unobserve.
type Subscription struct {
	Map    string
	Handle observe.Handle
}

// Document is a replicated document. Writes apply locally first and are
// emitted as updates for propagation; merges are commutative, associative and
// idempotent. Observers run on the goroutine that made the change, after the
// document lock is released.
type Document struct {
	mu        sync.Mutex
	client    uint64
	clock     uint64
	maps      map[string]map[string]MapEntry
	text      *sequence
	observers map[string]*observe.Registry[MapEvent]
	updates   observe.Registry[UpdateEvent]
	destroyed bool
}

func New(clientID uint64) *Document {
	return &Document{
		client:    clientID,
		maps:      make(map[string]map[string]MapEntry),
		text:      newSequence(),
		observers: make(map[string]*observe.Registry[MapEvent]),
	}
}

func (d *Document) ClientID() uint64 {
	return d.client
}

func (d *Document) Map(name string) *Map {
	return &Map{doc: d, name: name}
}

func (d *Document) Text() *Text {
	return &Text{doc: d}
}

// Observe registers fn for changes to the named map.
func (d *Document) Observe(name string, fn func(MapEvent)) Subscription {
	d.mu.Lock()
	reg, ok := d.observers[name]
	if !ok {
		reg = &observe.Registry[MapEvent]{}
		d.observers[name] = reg
	}
	d.mu.Unlock()
	return Subscription{Map: name, Handle: reg.Add(fn)}
}

func (d *Document) Unobserve(sub Subscription) {
	if sub.Handle == 0 {
		return
	}
	d.mu.Lock()
	reg, ok := d.observers[sub.Map]
	d.mu.Unlock()
	if ok {
		reg.Remove(sub.Handle)
	}
}

// OnUpdate registers fn for every effective change, local or merged.
func (d *Document) OnUpdate(fn func(UpdateEvent)) observe.Handle {
	return d.updates.Add(fn)
}

func (d *Document) OffUpdate(h observe.Handle) {
	d.updates.Remove(h)
}

// Apply merges u into the document. origin is passed through to observers so
// that a channel can recognise its own updates.
func (d *Document) Apply(u Update, origin any) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	var out Update
	changed := make(map[string]map[string]struct{})
	for name, entries := range u.Maps {
		for _, entry := range entries {
			d.observe(entry.ID)
			if d.setEntry(name, entry) {
				out.addMapEntry(name, entry)
				if changed[name] == nil {
					changed[name] = make(map[string]struct{})
				}
				changed[name][entry.Key] = struct{}{}
			}
		}
	}
	for _, item := range u.Text {
		d.observe(item.ID)
		d.text.apply(item, &out)
	}
	for _, id := range u.Deletes {
		d.text.remove(id, &out)
	}
	d.mu.Unlock()

	d.emit(out, changed, origin)
}

// State returns the whole document as one update.
func (d *Document) State() Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out Update
	for _, name := range sortedKeys(d.maps) {
		entries := d.maps[name]
		for _, key := range sortedKeys(entries) {
			out.addMapEntry(name, entries[key])
		}
	}
	d.text.state(&out)
	return out
}

// Destroy drops every observer. Later writes and merges are ignored.
func (d *Document) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	observers := d.observers
	d.observers = make(map[string]*observe.Registry[MapEvent])
	d.mu.Unlock()

	for _, reg := range observers {
		reg.Clear()
	}
	d.updates.Clear()
}

func (d *Document) observe(id ID) {
	if id.Clock > d.clock {
		d.clock = id.Clock
	}
}

// setEntry keeps the register with the greater ID. Callers hold d.mu.
func (d *Document) setEntry(name string, entry MapEntry) bool {
	m, ok := d.maps[name]
	if !ok {
		m = make(map[string]MapEntry)
		d.maps[name] = m
	}
	current, ok := m[entry.Key]
	if ok && !current.ID.Less(entry.ID) {
		return false
	}
	m[entry.Key] = entry
	return true
}

func (d *Document) emit(out Update, changed map[string]map[string]struct{}, origin any) {
	if out.IsEmpty() {
		return
	}
	local := origin == nil
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d.mu.Lock()
		reg := d.observers[name]
		d.mu.Unlock()
		if reg == nil {
			continue
		}
		reg.Emit(MapEvent{Map: name, Keys: changed[name], Origin: origin, Local: local})
	}
	d.updates.Emit(UpdateEvent{Update: out, Origin: origin, Local: local})
}

// Map is a view over one named last-writer-wins map of a Document.
type Map struct {
	doc  *Document
	name string
}

func (m *Map) Name() string {
	return m.name
}

func (m *Map) Get(key string) (string, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	entry, ok := m.doc.maps[m.name][key]
	return entry.Value, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Entries returns a copy of the current key/value pairs.
func (m *Map) Entries() map[string]string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	out := make(map[string]string, len(m.doc.maps[m.name]))
	for key, entry := range m.doc.maps[m.name] {
		out[key] = entry.Value
	}
	return out
}

// Set writes value under key with a clock later than anything this replica
// has seen.
func (m *Map) Set(key, value string) {
	d := m.doc
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.clock++
	entry := MapEntry{Key: key, Value: value, ID: ID{Client: d.client, Clock: d.clock}}
	d.setEntry(m.name, entry)
	var out Update
	out.addMapEntry(m.name, entry)
	d.mu.Unlock()

	d.emit(out, map[string]map[string]struct{}{m.name: {key: {}}}, nil)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
