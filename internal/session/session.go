// Package session is the room synchronization session: it owns a room's
// replicated document, follows who is present and active, and coordinates
// the local replica with the remote sync channel.
package session

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/clock"
	"coderoom/collab/internal/config"
	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/identity"
	"coderoom/collab/internal/idle"
	"coderoom/collab/internal/notify"
	"coderoom/collab/internal/observe"
	"coderoom/collab/internal/util"
)

// Room is the room a session is bound to.
type Room struct {
	ID    string
	Slug  string
	Title string
}

type Options struct {
	SyncURL     string
	Persistence PersistenceProvider
	Network     NetworkProvider
	Notifier    notify.Sink
	Clock       clock.Clock
	Names       *identity.NameGenerator
	Palette     []string

	IdleTimeout time.Duration
	// IdleSweepInterval runs SweepIdle periodically while initialized. Zero
	// leaves sweeping to the caller.
	IdleSweepInterval time.Duration
	LeaveGrace        time.Duration
	ConnectSettle     time.Duration

	// NewClientID returns the client id of each fresh document.
	NewClientID func() uint64
}

// OptionsFromConfig copies the session settings out of cfg. Providers are
// left for the caller to set.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SyncURL:           cfg.SyncURL,
		IdleTimeout:       cfg.IdleTimeout,
		IdleSweepInterval: cfg.IdleSweepInterval,
		LeaveGrace:        cfg.LeaveGrace,
		ConnectSettle:     cfg.ConnectSettle,
	}
}

func (o Options) withDefaults() Options {
	if o.Notifier == nil {
		o.Notifier = notify.Discard
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Palette == nil {
		o.Palette = identity.BaseColors
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = idle.DefaultTimeout
	}
	if o.LeaveGrace <= 0 {
		o.LeaveGrace = 50 * time.Millisecond
	}
	if o.ConnectSettle <= 0 {
		o.ConnectSettle = 50 * time.Millisecond
	}
	if o.NewClientID == nil {
		o.NewClientID = util.NewClientID
	}
	return o
}

// Session is safe for concurrent use. Handlers triggered by the document,
// the awareness channel, providers and timers each run under the session
// lock; notifications are sent after it is released. The document and
// awareness are never written while the lock is held.
type Session struct {
	opts Options

	mu   sync.Mutex
	rt   *runtime
	idle *idle.Monitor
}

// runtime is everything created by Initialize and discarded by Destroy.
// Callbacks hold the runtime they were registered for and do nothing once
// it is no longer current.
type runtime struct {
	room     Room
	identity *identity.Identity
	doc      *crdt.Document
	aw       *awareness.Awareness
	timers   *clock.Group

	persistenceOpen   bool
	persistence       PersistenceReplica
	persistenceStatus PersistenceStatus
	networkOpen       bool
	network           NetworkChannel
	networkStatus     NetworkStatus
	initialSync       bool

	title          string
	titleActive    bool
	titleSub       crdt.Subscription
	language       string
	languageActive bool
	languageSub    crdt.Subscription

	users            map[uint64]awareness.UserInfo
	presenceHandle   observe.Handle
	suppressPresence bool
	// settling is raised on every connect and only the matching settle
	// timer lowers it.
	settling  bool
	settleGen uint64
}

func New(opts Options) *Session {
	s := &Session{opts: opts.withDefaults(), idle: idle.NewMonitor()}
	s.rt = s.newRuntime()
	return s
}

func (s *Session) newRuntime() *runtime {
	return &runtime{
		doc:               crdt.New(s.opts.NewClientID()),
		timers:            clock.NewGroup(s.opts.Clock),
		persistenceStatus: PersistenceUninitialized,
		networkStatus:     NetworkUninitialized,
		language:          DefaultLanguage,
		users:             make(map[uint64]awareness.UserInfo),
		suppressPresence:  true,
	}
}

// lockCurrent takes the lock and reports whether rt is still the live runtime.
// When it is not, the lock is released before returning.
func (s *Session) lockCurrent(rt *runtime) bool {
	s.mu.Lock()
	if s.rt != rt {
		s.mu.Unlock()
		return false
	}
	return true
}

// Initialize binds the session to room and starts the local replica and the
// network channel. id may be nil for a fully anonymous participant; token is
// passed to the network channel as is. Calling it again for the same room
// retries whichever provider failed to open and is otherwise a no-op.
func (s *Session) Initialize(room Room, id *identity.Identity, token string) error {
	if room.ID == "" {
		return ErrNoRoom
	}

	s.mu.Lock()
	rt := s.rt
	if rt.aw != nil {
		bound := rt.room.ID
		s.mu.Unlock()
		if bound != room.ID {
			return ErrAlreadyInitialized
		}
		log.Printf("session: room %s already initialized", room.ID)
		return s.openProviders(rt, token)
	}
	rt.room = room
	if id != nil {
		copied := *id
		rt.identity = &copied
	}
	rt.aw = awareness.New(rt.doc.ClientID(), s.opts.Clock.Now)
	s.mu.Unlock()

	s.initializeLocalIdentity(rt)
	s.observePresence(rt)
	if s.opts.IdleSweepInterval > 0 {
		rt.timers.Every(s.opts.IdleSweepInterval, func() { s.SweepIdle() })
	}

	return s.openProviders(rt, token)
}

// openProviders starts both providers independently; a failure of one does
// not keep the other from opening.
func (s *Session) openProviders(rt *runtime, token string) error {
	return errors.Join(s.openPersistence(rt), s.openNetwork(rt, token))
}

// Destroy tears the session down and leaves it as if freshly constructed.
// It is safe to call at any time, any number of times.
func (s *Session) Destroy() {
	s.mu.Lock()
	old := s.rt
	s.rt = s.newRuntime()
	s.idle = idle.NewMonitor()
	s.mu.Unlock()

	old.teardown()
}

func (rt *runtime) teardown() {
	rt.timers.Stop()
	if rt.aw != nil {
		rt.aw.Destroy()
	}
	if rt.network != nil {
		rt.network.Disconnect()
		if err := rt.network.Destroy(); err != nil {
			log.Printf("session: destroy network channel for %s: %v", rt.room.ID, err)
		}
	}
	if rt.persistence != nil {
		if err := rt.persistence.Destroy(); err != nil {
			log.Printf("session: destroy persistence for %s: %v", rt.room.ID, err)
		}
	}
	rt.doc.Unobserve(rt.languageSub)
	rt.doc.Unobserve(rt.titleSub)
	if rt.aw != nil {
		rt.aw.OffChange(rt.presenceHandle)
	}
	rt.doc.Destroy()
}

// Room returns the room the session is bound to, or the zero Room.
func (s *Session) Room() Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.room
}

// Document returns the current document. It is replaced on Destroy.
func (s *Session) Document() *crdt.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.doc
}

// Awareness returns the presence state of the initialized session, or nil.
func (s *Session) Awareness() *awareness.Awareness {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.aw
}

// ClientID returns the local client id once initialized, and zero before.
func (s *Session) ClientID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rt.aw == nil {
		return 0
	}
	return s.rt.aw.ClientID()
}

// Users returns the participants with a complete user record, ordered by
// client id.
func (s *Session) Users() []awareness.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]awareness.UserInfo, 0, len(s.rt.users))
	for _, u := range s.rt.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// MarkActive records an activity signal from clientID.
func (s *Session) MarkActive(clientID uint64) {
	s.monitor().MarkActive(clientID, s.opts.Clock.Now())
}

func (s *Session) MarkInactive(clientID uint64) {
	s.monitor().MarkInactive(clientID)
}

// SweepIdle drops participants whose last activity is older than the idle
// timeout and returns their ids.
func (s *Session) SweepIdle() []uint64 {
	return s.monitor().Sweep(s.opts.Clock.Now(), s.opts.IdleTimeout)
}

// ActiveUsers returns the last activity time of each active participant.
func (s *Session) ActiveUsers() map[uint64]time.Time {
	return s.monitor().Snapshot()
}

func (s *Session) monitor() *idle.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Snapshot is the observable state of a session at one instant.
type Snapshot struct {
	Room              Room
	Title             string
	Language          string
	NetworkStatus     NetworkStatus
	PersistenceStatus PersistenceStatus
	Users             []awareness.UserInfo
	ActiveUsers       map[uint64]time.Time
}

func (s *Session) Snapshot() Snapshot {
	users := s.Users()
	active := s.ActiveUsers()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Room:              s.rt.room,
		Title:             s.rt.title,
		Language:          s.rt.language,
		NetworkStatus:     s.rt.networkStatus,
		PersistenceStatus: s.rt.persistenceStatus,
		Users:             users,
		ActiveUsers:       active,
	}
}

func (s *Session) notify(events ...notify.Event) {
	for _, ev := range events {
		s.opts.Notifier.Notify(ev)
	}
}
