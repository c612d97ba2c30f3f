package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"coderoom/collab/internal/crdt"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func waitSynced(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("replica never reported synced")
	}
}

func TestReplicaSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.db")

	s := openStore(t, path)
	doc := crdt.New(1)
	synced := make(chan struct{})
	r, err := s.Replica("room-1", doc, func() { close(synced) })
	if err != nil {
		t.Fatalf("Replica() error = %v", err)
	}
	waitSynced(t, synced)
	doc.Map("meta").Set("title", "Persisted")
	doc.Text().Insert(0, "package main")
	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s = openStore(t, path)
	defer s.Close()
	restored := crdt.New(2)
	synced = make(chan struct{})
	r, err = s.Replica("room-1", restored, func() { close(synced) })
	if err != nil {
		t.Fatalf("Replica() error = %v", err)
	}
	defer r.Destroy()
	waitSynced(t, synced)

	if title, _ := restored.Map("meta").Get("title"); title != "Persisted" {
		t.Fatalf("unexpected title %q", title)
	}
	if restored.Text().String() != "package main" {
		t.Fatalf("unexpected text %q", restored.Text().String())
	}
	if !r.Synced() {
		t.Fatal("expected replica to report synced")
	}
}

func TestReplayIsNotWrittenBack(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "rooms.db"))
	defer s.Close()

	src := crdt.New(1)
	src.Map("meta").Set("title", "a")
	data, err := src.State().Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := s.Append("room", data); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	synced := make(chan struct{})
	r, err := s.Replica("room", crdt.New(2), func() { close(synced) })
	if err != nil {
		t.Fatalf("Replica() error = %v", err)
	}
	defer r.Destroy()
	waitSynced(t, synced)

	n, err := s.Len("room")
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected replayed updates not to be stored again, got %d", n)
	}
}

func TestCompactionFoldsLog(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "rooms.db"))
	defer s.Close()
	s.SetCompactThreshold(4)

	doc := crdt.New(1)
	synced := make(chan struct{})
	r, err := s.Replica("room", doc, func() { close(synced) })
	if err != nil {
		t.Fatalf("Replica() error = %v", err)
	}
	waitSynced(t, synced)
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		doc.Map("meta").Set("title", title)
	}
	r.Destroy()

	n, err := s.Len("room")
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("expected compacted log plus one update, got %d", n)
	}

	restored := crdt.New(2)
	synced = make(chan struct{})
	r, err = s.Replica("room", restored, func() { close(synced) })
	if err != nil {
		t.Fatalf("Replica() error = %v", err)
	}
	defer r.Destroy()
	waitSynced(t, synced)
	if title, _ := restored.Map("meta").Get("title"); title != "e" {
		t.Fatalf("unexpected title after compaction %q", title)
	}
}

func TestDeleteDropsRoom(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "rooms.db"))
	defer s.Close()

	if _, err := s.Append("room", []byte(`{}`)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Delete("room"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete("missing"); err != nil {
		t.Fatalf("Delete() of a missing room error = %v", err)
	}
	updates, err := s.Updates("room")
	if err != nil {
		t.Fatalf("Updates() error = %v", err)
	}
	if len(updates) != 0 {
		t.Fatalf("expected no updates, got %d", len(updates))
	}
}
