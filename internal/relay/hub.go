// Package relay is the sync relay: it accepts websocket streams from room
// clients, keeps each room's update log in Redis, fans frames out across
// relay instances and snapshots rooms into Postgres when they empty.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"coderoom/collab/internal/auth"
	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/protocol"
	"coderoom/collab/internal/util"
)

const (
	helloTimeout     = 10 * time.Second
	writeTimeout     = 10 * time.Second
	storeTimeout     = 5 * time.Second
	sendBuffer       = 256
	defaultCompactAt = 200
)

// RoomStore persists merged room snapshots.
type RoomStore interface {
	LoadRoomState(ctx context.Context, id string) ([]byte, error)
	SaveRoomState(ctx context.Context, id string, state []byte, title string) error
}

type HubConfig struct {
	Log *RedisLog
	// Rooms is optional; without it rooms live only in Redis.
	Rooms RoomStore
	// TokenSecret enables token verification when set.
	TokenSecret []byte
	// CompactAt is the log length that triggers compaction while a room is
	// in use. Zero uses a default; negative disables it.
	CompactAt int64
}

type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
	wg    sync.WaitGroup
}

type room struct {
	id      string
	streams map[string]*stream
	sub     *redis.PubSub
}

// envelope wraps a frame published to the room channel. Origin is the id of
// the stream that produced it, which must not receive it back.
type envelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.CompactAt == 0 {
		cfg.CompactAt = defaultCompactAt
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// ServeWS upgrades the request and runs the stream until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}
	s := newStream(conn)
	go s.writePump()

	roomID, err := h.handshake(s)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			s.sendMessage(perr.frame())
		}
		log.Printf("relay: stream %s rejected: %v", s.id, err)
		s.close()
		return
	}

	if err := h.join(roomID, s); err != nil {
		log.Printf("relay: stream %s join %s: %v", s.id, roomID, err)
		s.sendMessage(protocol.Error(protocol.CodeUnavailable, "room unavailable"))
		s.close()
		return
	}
	log.Printf("relay: stream %s joined %s subject=%q", s.id, roomID, s.subject)

	h.readLoop(roomID, s)
	h.leave(roomID, s)
	log.Printf("relay: stream %s left %s", s.id, roomID)
}

func (h *Hub) handshake(s *stream) (string, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeHello || msg.Room == "" {
		return "", protocolError(protocol.CodeBadHello, "first frame must be hello with a room")
	}
	if len(h.cfg.TokenSecret) > 0 {
		claims, err := auth.ParseToken(h.cfg.TokenSecret, msg.Token)
		if err != nil {
			log.Printf("relay: token %s rejected: %v", auth.HashToken(msg.Token)[:12], err)
			return "", protocolError(protocol.CodeUnauthorized, err.Error())
		}
		s.subject = claims.Identity().ID
	}
	return msg.Room, nil
}

// join registers s in the room, subscribing and seeding the room on first
// use, then sends the current log.
func (h *Hub) join(roomID string, s *stream) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if !ok {
		sub, err := h.cfg.Log.Subscribe(context.Background(), roomID)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		rm = &room{id: roomID, streams: make(map[string]*stream), sub: sub}
		h.rooms[roomID] = rm
		h.wg.Add(1)
		go h.forward(rm)
		if err := h.seed(ctx, roomID); err != nil {
			log.Printf("relay: seed %s: %v", roomID, err)
		}
	}
	rm.streams[s.id] = s
	h.mu.Unlock()

	updates, err := h.cfg.Log.Range(ctx, roomID)
	if err != nil {
		h.leave(roomID, s)
		return err
	}
	s.sendMessage(protocol.Sync(updates))
	return h.publish(ctx, roomID, s.id, protocol.QueryAwareness())
}

// seed loads the stored snapshot into an empty log.
func (h *Hub) seed(ctx context.Context, roomID string) error {
	if h.cfg.Rooms == nil {
		return nil
	}
	n, err := h.cfg.Log.Len(ctx, roomID)
	if err != nil || n > 0 {
		return err
	}
	state, err := h.cfg.Rooms.LoadRoomState(ctx, roomID)
	if err != nil || len(state) == 0 {
		return err
	}
	_, err = h.cfg.Log.Append(ctx, roomID, state)
	return err
}

func (h *Hub) readLoop(roomID string, s *stream) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("relay: stream %s: %v", s.id, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		err = h.handle(ctx, roomID, s, msg)
		cancel()
		if err != nil {
			log.Printf("relay: stream %s: %v", s.id, err)
		}
	}
}

func (h *Hub) handle(ctx context.Context, roomID string, s *stream, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeUpdate:
		if len(msg.Update) == 0 {
			return nil
		}
		n, err := h.cfg.Log.Append(ctx, roomID, msg.Update)
		if err != nil {
			return err
		}
		if err := h.publish(ctx, roomID, s.id, msg); err != nil {
			return err
		}
		if h.cfg.CompactAt > 0 && n >= h.cfg.CompactAt {
			if _, err := h.cfg.Log.Compact(ctx, roomID, mergeUpdates); err != nil {
				log.Printf("relay: compact %s: %v", roomID, err)
			}
		}
	case protocol.TypeAwareness:
		entries, err := awareness.DecodeUpdate(msg.Awareness)
		if err != nil {
			return err
		}
		s.track(entries)
		return h.publish(ctx, roomID, s.id, msg)
	}
	return nil
}

func (h *Hub) publish(ctx context.Context, roomID, origin string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Origin: origin, Message: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return h.cfg.Log.Publish(ctx, roomID, payload)
}

// forward delivers frames published on the room channel to local streams.
func (h *Hub) forward(rm *room) {
	defer h.wg.Done()
	for msg := range rm.sub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Printf("relay: room %s: decode envelope: %v", rm.id, err)
			continue
		}
		h.mu.Lock()
		targets := make([]*stream, 0, len(rm.streams))
		for id, s := range rm.streams {
			if id != env.Origin {
				targets = append(targets, s)
			}
		}
		h.mu.Unlock()
		for _, s := range targets {
			s.send(env.Message)
		}
	}
}

// leave removes s from its room, announces the departure of every client it
// carried and flushes the room once no local stream is left.
func (h *Hub) leave(roomID string, s *stream) {
	s.close()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if clocks := s.announced(); len(clocks) > 0 {
		data, err := awareness.EncodeRemoval(clocks)
		if err == nil {
			err = h.publish(ctx, roomID, s.id, protocol.Awareness(data))
		}
		if err != nil {
			log.Printf("relay: stream %s: announce removal: %v", s.id, err)
		}
	}

	h.mu.Lock()
	rm, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(rm.streams, s.id)
	empty := len(rm.streams) == 0
	if empty {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if empty {
		_ = rm.sub.Close()
		if err := h.flush(ctx, roomID); err != nil {
			log.Printf("relay: flush %s: %v", roomID, err)
		}
	}
}

// flush compacts the room log and saves the merged snapshot.
func (h *Hub) flush(ctx context.Context, roomID string) error {
	merged, err := h.cfg.Log.Compact(ctx, roomID, mergeUpdates)
	if err != nil || merged == nil || h.cfg.Rooms == nil {
		return err
	}
	u, err := crdt.DecodeUpdate(merged)
	if err != nil {
		return err
	}
	doc := crdt.New(0)
	doc.Apply(u, nil)
	title, _ := doc.Map("meta").Get("title")
	return h.cfg.Rooms.SaveRoomState(ctx, roomID, merged, title)
}

func mergeUpdates(updates [][]byte) ([]byte, error) {
	decoded := make([]crdt.Update, 0, len(updates))
	for _, data := range updates {
		u, err := crdt.DecodeUpdate(data)
		if err != nil {
			log.Printf("relay: drop undecodable update: %v", err)
			continue
		}
		decoded = append(decoded, u)
	}
	return crdt.Merge(decoded...).Encode()
}

// RoomInfo describes a room as seen by this relay instance.
type RoomInfo struct {
	ID      string `json:"id"`
	Slug    string `json:"slug,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Updates int64  `json:"updates"`
	Streams int    `json:"streams"`
}

func (h *Hub) Room(ctx context.Context, roomID string) (RoomInfo, error) {
	n, err := h.cfg.Log.Len(ctx, roomID)
	if err != nil {
		return RoomInfo{}, err
	}
	h.mu.Lock()
	streams := 0
	if rm, ok := h.rooms[roomID]; ok {
		streams = len(rm.streams)
	}
	h.mu.Unlock()
	return RoomInfo{ID: roomID, Updates: n, Streams: streams}, nil
}

func (h *Hub) Ping(ctx context.Context) error {
	return h.cfg.Log.Ping(ctx)
}

// Close disconnects every stream. Their rooms are flushed as they leave.
func (h *Hub) Close() {
	h.mu.Lock()
	var streams []*stream
	for _, rm := range h.rooms {
		for _, s := range rm.streams {
			streams = append(streams, s)
		}
	}
	h.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
}

// Wait blocks until every room subscription has stopped.
func (h *Hub) Wait() {
	h.wg.Wait()
}

type stream struct {
	id      string
	subject string
	conn    *websocket.Conn
	out     chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	clocks map[uint64]uint64
}

func newStream(conn *websocket.Conn) *stream {
	return &stream{
		id:     util.NewID("stream"),
		conn:   conn,
		out:    make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		clocks: make(map[uint64]uint64),
	}
}

func (s *stream) sendMessage(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("relay: stream %s: %v", s.id, err)
		return
	}
	s.send(data)
}

// send queues a frame. A stream that cannot keep up is closed.
func (s *stream) send(data []byte) {
	select {
	case <-s.closed:
	case s.out <- data:
	default:
		log.Printf("relay: stream %s: send buffer full, closing", s.id)
		s.close()
	}
}

// writePump owns the connection. Once the stream is closed it flushes the
// frames already queued, says goodbye and closes the connection, which also
// ends the read loop.
func (s *stream) writePump() {
	defer s.conn.Close()
	for {
		select {
		case data := <-s.out:
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-s.closed:
			s.drain()
			_ = s.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *stream) drain() {
	for {
		select {
		case data := <-s.out:
			if err := s.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *stream) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.closed)
	})
}

// track records the awareness clocks the stream's client announced.
func (s *stream) track(entries []awareness.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.State == nil {
			delete(s.clocks, e.ClientID)
			continue
		}
		s.clocks[e.ClientID] = e.Clock
	}
}

func (s *stream) announced() map[uint64]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]uint64, len(s.clocks))
	for id, clock := range s.clocks {
		out[id] = clock
	}
	return out
}
