package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Relay
	Addr          string
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string
	TokenSecret   string
	TokenTTL      time.Duration
	CORSOrigin    string
	// Client
	SyncURL string
	AppURL  string
	DataDir string
	// Session timing
	IdleTimeout       time.Duration
	IdleSweepInterval time.Duration
	LeaveGrace        time.Duration
	ConnectSettle     time.Duration
	AwarenessTimeout  time.Duration
	// mDNS discovery of the relay on the local network
	Discovery        bool
	DiscoveryService string
}

func Load() Config {
	return Config{
		Addr:              getenv("SYNC_ADDR", ":1234"),
		RedisURL:          getenv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		MigrationsDir:     getenv("CODEROOM_MIGRATIONS_DIR", "./db/migrations"),
		TokenSecret:       getenv("CODEROOM_TOKEN_SECRET", ""),
		TokenTTL:          time.Duration(getenvInt("CODEROOM_TOKEN_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:        getenv("CODEROOM_CORS_ORIGIN", "*"),
		SyncURL:           getenv("SYNC_URL", ""),
		AppURL:            getenv("APP_URL", "http://localhost:3000"),
		DataDir:           getenv("CODEROOM_DATA_DIR", "./data"),
		IdleTimeout:       getenvDuration("CODEROOM_IDLE_TIMEOUT_MS", 30*time.Second),
		IdleSweepInterval: getenvDuration("CODEROOM_IDLE_SWEEP_MS", 5*time.Second),
		LeaveGrace:        getenvDuration("CODEROOM_LEAVE_GRACE_MS", 50*time.Millisecond),
		ConnectSettle:     getenvDuration("CODEROOM_CONNECT_SETTLE_MS", 50*time.Millisecond),
		AwarenessTimeout:  getenvDuration("CODEROOM_AWARENESS_TIMEOUT_MS", 30*time.Second),
		Discovery:         getenvBool("CODEROOM_DISCOVERY", false),
		DiscoveryService:  getenv("CODEROOM_DISCOVERY_SERVICE", "_coderoom._tcp"),
	}
}

// RoomURL returns the share link of a room.
func (c Config) RoomURL(slug string) string {
	return strings.TrimRight(c.AppURL, "/") + "/" + slug
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a whole number of milliseconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	ms := getenvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
