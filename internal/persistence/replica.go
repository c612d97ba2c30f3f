package persistence

import (
	"log"
	"sync"

	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/observe"
)

// Replica binds one document to its stored log. Every effective change of
// the document is appended; the stored log is replayed into the document once
// on open.
type Replica struct {
	store  *Store
	key    string
	doc    *crdt.Document
	handle observe.Handle

	mu        sync.Mutex
	synced    bool
	destroyed bool
	wg        sync.WaitGroup
}

// Replica opens the stored log of key for doc. onSynced runs once, on a
// separate goroutine, after the stored updates have been applied.
func (s *Store) Replica(key string, doc *crdt.Document, onSynced func()) (*Replica, error) {
	stored, err := s.Updates(key)
	if err != nil {
		return nil, err
	}
	r := &Replica{store: s, key: key, doc: doc}
	r.handle = doc.OnUpdate(r.onUpdate)

	r.wg.Add(1)
	go r.replay(stored, onSynced)
	return r, nil
}

func (r *Replica) replay(stored [][]byte, onSynced func()) {
	for _, data := range stored {
		if r.isDestroyed() {
			break
		}
		u, err := crdt.DecodeUpdate(data)
		if err != nil {
			log.Printf("persistence: skip stored update for %s: %v", r.key, err)
			continue
		}
		r.doc.Apply(u, r)
	}
	r.mu.Lock()
	fire := !r.destroyed
	r.synced = fire
	r.mu.Unlock()
	r.wg.Done()

	if fire && onSynced != nil {
		onSynced()
	}
}

func (r *Replica) onUpdate(ev crdt.UpdateEvent) {
	if ev.Origin == r || r.isDestroyed() {
		return
	}
	data, err := ev.Update.Encode()
	if err != nil {
		log.Printf("persistence: %v", err)
		return
	}
	n, err := r.store.Append(r.key, data)
	if err != nil {
		log.Printf("persistence: %v", err)
		return
	}
	if r.store.compactThreshold > 1 && n >= r.store.compactThreshold {
		r.compact()
	}
}

func (r *Replica) compact() {
	data, err := r.doc.State().Encode()
	if err != nil {
		log.Printf("persistence: compact %s: %v", r.key, err)
		return
	}
	if err := r.store.Replace(r.key, data); err != nil {
		log.Printf("persistence: compact %s: %v", r.key, err)
	}
}

// Synced reports whether the stored log has been replayed.
func (r *Replica) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}

func (r *Replica) isDestroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Destroy detaches the replica from its document and waits for a running
// replay to stop. The stored log is kept.
func (r *Replica) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	r.mu.Unlock()

	r.doc.OffUpdate(r.handle)
	r.wg.Wait()
	return nil
}
