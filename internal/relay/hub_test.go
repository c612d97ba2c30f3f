package relay

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"coderoom/collab/internal/auth"
	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/protocol"
	"coderoom/collab/internal/transport"
)

type fakeRooms struct {
	mu     sync.Mutex
	states map[string][]byte
	titles map[string]string
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{states: make(map[string][]byte), titles: make(map[string]string)}
}

func (f *fakeRooms) LoadRoomState(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[id], nil
}

func (f *fakeRooms) SaveRoomState(_ context.Context, id string, state []byte, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
	f.titles[id] = title
	return nil
}

func (f *fakeRooms) title(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, ok := f.titles[id]
	return title, ok
}

type peer struct {
	doc       *crdt.Document
	awareness *awareness.Awareness
	provider  *transport.Provider
}

func (p *peer) close() {
	p.awareness.Destroy()
	p.provider.Destroy()
}

func startRelay(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()
	l, _ := setupTestLog(t)
	cfg.Log = l
	hub := NewHub(cfg)
	server := httptest.NewServer(NewHTTPServer(hub, HTTPConfig{CORSOrigin: "*"}).Handler())
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		l.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/sync"
}

func connect(t *testing.T, url, room, token string, clientID uint64) *peer {
	t.Helper()
	p := &peer{doc: crdt.New(clientID), awareness: awareness.New(clientID, nil)}
	provider, err := transport.Open(transport.Options{
		URL:       url,
		RoomID:    room,
		Token:     token,
		Document:  p.doc,
		Awareness: p.awareness,
	})
	if err != nil {
		t.Fatalf("transport.Open() error = %v", err)
	}
	p.provider = provider
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPeersConvergeThroughRelay(t *testing.T) {
	rooms := newFakeRooms()
	_, url := startRelay(t, HubConfig{Rooms: rooms})

	a := connect(t, url, "room-1", "", 1)
	b := connect(t, url, "room-1", "", 2)
	waitFor(t, "both peers synced", func() bool { return a.provider.Synced() && b.provider.Synced() })

	a.doc.Map("meta").Set("title", "Shared")
	b.doc.Text().Insert(0, "fmt.Println()")
	b.doc.Map("editor").Set("language", "go")

	waitFor(t, "title on b", func() bool {
		title, _ := b.doc.Map("meta").Get("title")
		return title == "Shared"
	})
	waitFor(t, "text and language on a", func() bool {
		lang, _ := a.doc.Map("editor").Get("language")
		return a.doc.Text().String() == "fmt.Println()" && lang == "go"
	})

	a.awareness.SetLocalUser(awareness.UserInfo{ClientID: 1, Name: "Ada", Color: "#f00"})
	waitFor(t, "a's presence on b", func() bool {
		st, ok := b.awareness.States()[1]
		return ok && st.User != nil && st.User.Name == "Ada"
	})

	a.close()
	waitFor(t, "a's presence removed on b", func() bool {
		_, ok := b.awareness.States()[1]
		return !ok
	})

	b.close()
	waitFor(t, "room snapshot", func() bool {
		title, ok := rooms.title("room-1")
		return ok && title == "Shared"
	})
}

func TestAbruptDisconnectRemovesPresence(t *testing.T) {
	_, url := startRelay(t, HubConfig{})

	a := connect(t, url, "room-1", "", 1)
	b := connect(t, url, "room-1", "", 2)
	defer b.close()
	waitFor(t, "both peers synced", func() bool { return a.provider.Synced() && b.provider.Synced() })

	a.awareness.SetLocalUser(awareness.UserInfo{ClientID: 1, Name: "Ada", Color: "#f00"})
	waitFor(t, "a's presence on b", func() bool {
		_, ok := b.awareness.States()[1]
		return ok
	})

	// Dropping the connection without destroying awareness leaves the
	// removal to the relay.
	a.provider.Destroy()
	waitFor(t, "relay-announced removal", func() bool {
		_, ok := b.awareness.States()[1]
		return !ok
	})
}

func TestRoomIsSeededFromStore(t *testing.T) {
	src := crdt.New(9)
	src.Map("meta").Set("title", "Stored")
	state, err := src.State().Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	rooms := newFakeRooms()
	rooms.states["room-2"] = state
	_, url := startRelay(t, HubConfig{Rooms: rooms})

	p := connect(t, url, "room-2", "", 1)
	defer p.close()
	waitFor(t, "seeded title", func() bool {
		title, _ := p.doc.Map("meta").Get("title")
		return title == "Stored"
	})
}

func TestRelayRejectsBadToken(t *testing.T) {
	secret := []byte("relay-secret")
	_, url := startRelay(t, HubConfig{TokenSecret: secret})

	bad := connect(t, url, "room-1", "forged", 1)
	defer bad.close()
	waitFor(t, "rejection", func() bool { return bad.provider.Err() != nil })
	relayErr, ok := bad.provider.Err().(*transport.RelayError)
	if !ok || relayErr.Code != protocol.CodeUnauthorized {
		t.Fatalf("unexpected error %v", bad.provider.Err())
	}

	token, err := auth.IssueToken(secret, auth.NewClaims(identity.Identity{ID: "u1", Name: "Ada"}, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	good := connect(t, url, "room-1", token, 2)
	defer good.close()
	waitFor(t, "authorized sync", good.provider.Synced)
}
