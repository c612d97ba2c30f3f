package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/store"
	"coderoom/collab/internal/util"
)

// Pinger is implemented by dependencies that the readiness check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RoomDirectory looks rooms up in the relational store.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id string) (store.Room, error)
	GetRoomBySlug(ctx context.Context, slug string) (store.Room, error)
	CreateRoom(ctx context.Context, slug, title string) (store.Room, error)
}

// HTTPConfig holds the optional collaborators of the HTTP surface. Database
// and Rooms are nil when the relay runs without Postgres.
type HTTPConfig struct {
	Database   Pinger
	Rooms      RoomDirectory
	CORSOrigin string
	// RoomURL builds the share link of a room from its slug.
	RoomURL func(slug string) string
}

type HTTPServer struct {
	hub *Hub
	cfg HTTPConfig
}

func NewHTTPServer(hub *Hub, cfg HTTPConfig) *HTTPServer {
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.RoomURL == nil {
		cfg.RoomURL = func(slug string) string { return "/" + slug }
	}
	return &HTTPServer{hub: hub, cfg: cfg}
}

// Handler routes /sync to the websocket hub and /api to JSON endpoints. Only
// the JSON routes are wrapped in the logging middleware, since the recorder
// cannot hijack connections.
func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/sync", s.hub.ServeWS).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.withMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/by-slug/{slug}", s.handleRoomBySlug).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", s.handleRoom).Methods(http.MethodGet)
	api.PathPrefix("/").HandlerFunc(s.handleOptions).Methods(http.MethodOptions)
	return router
}

func (s *HTTPServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNoContent, map[string]any{})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}

	probe := func(name string, p Pinger) {
		if err := p.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	probe("redis", s.hub)
	if s.cfg.Database != nil {
		probe("database", s.cfg.Database)
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleRoom reports the live state of a room, with its stored slug and
// title when the room directory knows it.
func (s *HTTPServer) handleRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	info, err := s.hub.Room(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Room lookup failed", nil)
		return
	}
	if s.cfg.Rooms != nil {
		room, err := s.cfg.Rooms.GetRoom(r.Context(), id)
		switch {
		case err == nil:
			info.Slug = room.Slug
			info.Title = room.Title
			info.URL = s.cfg.RoomURL(room.Slug)
		case !errors.Is(err, store.ErrRoomNotFound):
			log.Printf("relay: get room %s: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, info)
}

type createRoomRequest struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

func (s *HTTPServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Rooms == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Room directory is not configured", nil)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	if req.Slug == "" {
		req.Slug = generateSlug()
	}
	room, err := s.cfg.Rooms.CreateRoom(r.Context(), req.Slug, strings.TrimSpace(req.Title))
	if err != nil {
		log.Printf("relay: create room %s: %v", req.Slug, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Room creation failed", nil)
		return
	}
	writeJSON(w, http.StatusCreated, s.roomResponse(room))
}

func (s *HTTPServer) handleRoomBySlug(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Rooms == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Room directory is not configured", nil)
		return
	}
	room, err := s.cfg.Rooms.GetRoomBySlug(r.Context(), mux.Vars(r)["slug"])
	if errors.Is(err, store.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Room not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Room lookup failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.roomResponse(room))
}

func (s *HTTPServer) roomResponse(room store.Room) map[string]any {
	return map[string]any{
		"id":        room.ID,
		"slug":      room.Slug,
		"title":     room.Title,
		"url":       s.cfg.RoomURL(room.Slug),
		"createdAt": room.CreatedAt,
		"updatedAt": room.UpdatedAt,
	}
}

// generateSlug turns a generated display name into a slug such as
// "brave-otter".
func generateSlug() string {
	return strings.ToLower(strings.ReplaceAll(identity.GenerateUniqueName(), " ", "-"))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.cfg.CORSOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}
