package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"coderoom/collab/internal/config"
	"coderoom/collab/internal/discovery"
	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/notify"
	"coderoom/collab/internal/persistence"
	"coderoom/collab/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded")
	}
	cfg := config.Load()

	roomID := flag.String("room", "", "room id")
	slug := flag.String("slug", "", "room slug (defaults to the room id)")
	name := flag.String("name", "", "display name; anonymous when empty")
	token := flag.String("token", os.Getenv("CODEROOM_TOKEN"), "session token")
	title := flag.String("title", "", "set the room title once synced")
	language := flag.String("language", "", "set the editor language once synced")
	flag.Parse()
	if *roomID == "" {
		log.Fatalf("-room is required")
	}
	if *slug == "" {
		*slug = *roomID
	}

	syncURL := cfg.SyncURL
	if syncURL == "" && cfg.Discovery {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		url, err := discovery.Browse(ctx, cfg.DiscoveryService)
		cancel()
		if err != nil {
			log.Printf("relay discovery failed, staying offline: %v", err)
		} else {
			log.Printf("Discovered relay at %s", url)
			syncURL = url
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	replicas, err := persistence.Open(filepath.Join(cfg.DataDir, "rooms.db"))
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}
	defer replicas.Close()

	opts := session.OptionsFromConfig(cfg)
	opts.SyncURL = syncURL
	opts.Persistence = session.BoltPersistence(replicas)
	opts.Network = session.WebsocketNetwork(cfg.AwarenessTimeout)
	opts.Notifier = notify.LogSink{Prefix: "[" + *slug + "] "}
	s := session.New(opts)
	defer s.Destroy()

	var id *identity.Identity
	if *name != "" {
		id = &identity.Identity{ID: uuid.NewString(), Name: *name}
	}
	if err := s.Initialize(session.Room{ID: *roomID, Slug: *slug}, id, *token); err != nil {
		log.Fatalf("join room: %v", err)
	}
	log.Printf("Joined %s as client %d, share %s", *roomID, s.ClientID(), cfg.RoomURL(*slug))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last session.Snapshot
	for {
		select {
		case <-sigCh:
			return
		case line := <-lines:
			text := s.Document().Text()
			text.Insert(text.Len(), line+"\n")
			s.MarkActive(s.ClientID())
		case <-ticker.C:
			snap := s.Snapshot()
			if *title != "" && snap.PersistenceStatus == session.PersistenceSynced {
				s.SetTitle(*title)
				*title = ""
			}
			if *language != "" && snap.NetworkStatus == session.NetworkSynced {
				s.SetLanguage(*language)
				*language = ""
			}
			if snap.NetworkStatus != last.NetworkStatus || len(snap.Users) != len(last.Users) {
				log.Printf("network=%s local=%s users=%d active=%d title=%q language=%s",
					snap.NetworkStatus, snap.PersistenceStatus, len(snap.Users), len(snap.ActiveUsers),
					snap.Title, snap.Language)
			}
			last = snap
		}
	}
}
