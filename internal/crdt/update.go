// Package crdt implements the replicated room document: last-writer-wins maps
// for small metadata fields and an RGA sequence for the code text.
package crdt

import (
	"encoding/json"
	"fmt"
)

// ID identifies a write by the client that made it and that client's lamport
// clock at the time.
type ID struct {
	Client uint64 `json:"client"`
	Clock  uint64 `json:"clock"`
}

// IsZero reports whether id is the zero ID, which marks the head of a text
// sequence.
func (id ID) IsZero() bool {
	return id.Client == 0 && id.Clock == 0
}

// Less orders IDs by clock, then by client.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Client < other.Client
}

func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Clock, id.Client)
}

// MapEntry is one register of a replicated map.
type MapEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	ID    ID     `json:"id"`
}

// TextItem is one rune of the text sequence. Origin is the item it was
// inserted after; the zero ID means the start of the text.
type TextItem struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"origin"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Update is a batch of changes. Applying the same update twice, or a set of
// updates in any order, yields the same document.
type Update struct {
	Maps    map[string][]MapEntry `json:"maps,omitempty"`
	Text    []TextItem            `json:"text,omitempty"`
	Deletes []ID                  `json:"deletes,omitempty"`
}

func (u Update) IsEmpty() bool {
	if len(u.Text) > 0 || len(u.Deletes) > 0 {
		return false
	}
	for _, entries := range u.Maps {
		if len(entries) > 0 {
			return false
		}
	}
	return true
}

func (u *Update) addMapEntry(name string, entry MapEntry) {
	if u.Maps == nil {
		u.Maps = make(map[string][]MapEntry)
	}
	u.Maps[name] = append(u.Maps[name], entry)
}

// Encode returns the JSON form used on the wire and on disk.
func (u Update) Encode() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return data, nil
}

func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// Merge folds updates into a single update holding the merged state.
func Merge(updates ...Update) Update {
	doc := New(0)
	for _, u := range updates {
		doc.Apply(u, nil)
	}
	return doc.State()
}
