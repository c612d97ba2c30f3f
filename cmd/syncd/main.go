package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"coderoom/collab/internal/auth"
	"coderoom/collab/internal/config"
	"coderoom/collab/internal/discovery"
	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/relay"
	"coderoom/collab/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded")
	}
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "issue-token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return
	}

	ctx := context.Background()
	redisLog, err := relay.NewRedisLog(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisLog.Close()

	hubCfg := relay.HubConfig{Log: redisLog}
	httpCfg := relay.HTTPConfig{CORSOrigin: cfg.CORSOrigin, RoomURL: cfg.RoomURL}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		rooms, err := store.OpenRooms(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			log.Fatalf("database setup failed: %v", err)
		}
		defer rooms.Close()
		hubCfg.Rooms = rooms
		httpCfg.Database = rooms
		httpCfg.Rooms = rooms
		log.Printf("Persisting room snapshots to PostgreSQL")
	} else {
		log.Printf("No DATABASE_URL set, rooms live in Redis only")
	}
	if cfg.TokenSecret != "" {
		hubCfg.TokenSecret = []byte(cfg.TokenSecret)
	} else {
		log.Printf("WARNING: CODEROOM_TOKEN_SECRET is empty, tokens are not verified")
	}

	hub := relay.NewHub(hubCfg)
	httpServer := relay.NewHTTPServer(hub, httpCfg)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if cfg.Discovery {
		port, err := listenPort(cfg.Addr)
		if err != nil {
			log.Fatalf("discovery: %v", err)
		}
		ad, err := discovery.Advertise(cfg.DiscoveryService, port, "/sync")
		if err != nil {
			log.Fatalf("discovery: %v", err)
		}
		defer ad.Shutdown()
		log.Printf("Advertising relay as %s on port %d", cfg.DiscoveryService, port)
	}

	go func() {
		log.Printf("Coderoom relay listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	hub.Close()
	hub.Wait()
}

// issueToken prints a signed session token for a participant.
func issueToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	id := fs.String("id", "", "participant id (generated when empty)")
	name := fs.String("name", "", "display name")
	picture := fs.String("picture", "", "avatar URL")
	anonymous := fs.Bool("anonymous", false, "issue an anonymous token")
	ttl := fs.Duration("ttl", cfg.TokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.TokenSecret == "" {
		return fmt.Errorf("CODEROOM_TOKEN_SECRET is not set")
	}
	if *id == "" {
		*id = uuid.NewString()
	}
	claims := auth.NewClaims(identity.Identity{
		ID:          *id,
		Name:        *name,
		Picture:     *picture,
		IsAnonymous: *anonymous,
	}, *ttl)
	token, err := auth.IssueToken([]byte(cfg.TokenSecret), claims)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func listenPort(addr string) (int, error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return 0, fmt.Errorf("parse listen port %q: %w", portText, err)
	}
	return port, nil
}
