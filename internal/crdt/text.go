package crdt

import "strings"

// sequence is a replicated growable array. Items are never removed, only
// tombstoned, so every origin stays addressable.
type sequence struct {
	items          []*TextItem
	byID           map[ID]*TextItem
	pending        []TextItem
	pendingDeletes map[ID]struct{}
}

func newSequence() *sequence {
	return &sequence{
		byID:           make(map[ID]*TextItem),
		pendingDeletes: make(map[ID]struct{}),
	}
}

// apply integrates item and any parked items it unblocks, recording the
// effective changes in out.
func (s *sequence) apply(item TextItem, out *Update) {
	if !s.integrate(item, out) {
		return
	}
	for {
		parked := s.pending
		s.pending = nil
		progressed := false
		for _, p := range parked {
			if s.ready(p) {
				s.integrate(p, out)
				progressed = true
				continue
			}
			s.pending = append(s.pending, p)
		}
		if !progressed {
			return
		}
	}
}

func (s *sequence) ready(item TextItem) bool {
	if item.Origin.IsZero() {
		return true
	}
	_, ok := s.byID[item.Origin]
	return ok
}

func (s *sequence) integrate(item TextItem, out *Update) bool {
	if existing, ok := s.byID[item.ID]; ok {
		if item.Deleted && !existing.Deleted {
			existing.Deleted = true
			out.Deletes = append(out.Deletes, item.ID)
			return true
		}
		return false
	}
	if !s.ready(item) {
		s.pending = append(s.pending, item)
		return false
	}

	pos := 0
	if !item.Origin.IsZero() {
		pos = s.indexOf(item.Origin) + 1
	}
	// Later concurrent inserts at the same origin come first; their
	// descendants carry even later clocks, so they are skipped as a block.
	for pos < len(s.items) && item.ID.Less(s.items[pos].ID) {
		pos++
	}

	stored := item
	if _, ok := s.pendingDeletes[item.ID]; ok {
		delete(s.pendingDeletes, item.ID)
		stored.Deleted = true
	}
	s.items = append(s.items, nil)
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = &stored
	s.byID[stored.ID] = &stored
	out.Text = append(out.Text, stored)
	return true
}

func (s *sequence) remove(id ID, out *Update) {
	item, ok := s.byID[id]
	if !ok {
		s.pendingDeletes[id] = struct{}{}
		return
	}
	if item.Deleted {
		return
	}
	item.Deleted = true
	out.Deletes = append(out.Deletes, id)
}

func (s *sequence) indexOf(id ID) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// visible returns the items that are not tombstoned, in order.
func (s *sequence) visible() []*TextItem {
	out := make([]*TextItem, 0, len(s.items))
	for _, item := range s.items {
		if !item.Deleted {
			out = append(out, item)
		}
	}
	return out
}

func (s *sequence) String() string {
	var b strings.Builder
	for _, item := range s.items {
		if !item.Deleted {
			b.WriteString(item.Value)
		}
	}
	return b.String()
}

func (s *sequence) state(out *Update) {
	for _, item := range s.items {
		out.Text = append(out.Text, *item)
	}
	out.Text = append(out.Text, s.pending...)
	for id := range s.pendingDeletes {
		out.Deletes = append(out.Deletes, id)
	}
}

// Text is the code text of a Document.
type Text struct {
	doc *Document
}

func (t *Text) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return t.doc.text.String()
}

// Len returns the number of visible runes.
func (t *Text) Len() int {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	return len(t.doc.text.visible())
}

// Insert inserts value before the rune at index. Indexes past the end append.
func (t *Text) Insert(index int, value string) {
	if value == "" {
		return
	}
	d := t.doc
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	visible := d.text.visible()
	if index < 0 {
		index = 0
	}
	if index > len(visible) {
		index = len(visible)
	}
	var origin ID
	if index > 0 {
		origin = visible[index-1].ID
	}
	var out Update
	for _, r := range value {
		d.clock++
		item := TextItem{ID: ID{Client: d.client, Clock: d.clock}, Origin: origin, Value: string(r)}
		d.text.integrate(item, &out)
		origin = item.ID
	}
	d.mu.Unlock()

	d.emit(out, nil, nil)
}

// Delete removes length runes starting at index.
func (t *Text) Delete(index, length int) {
	if length <= 0 {
		return
	}
	d := t.doc
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	visible := d.text.visible()
	if index < 0 {
		index = 0
	}
	end := index + length
	if end > len(visible) {
		end = len(visible)
	}
	var out Update
	for i := index; i < end; i++ {
		d.text.remove(visible[i].ID, &out)
	}
	d.mu.Unlock()

	d.emit(out, nil, nil)
}
