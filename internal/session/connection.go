package session

import (
	"fmt"
	"log"
)

type PersistenceStatus string

const (
	PersistenceUninitialized PersistenceStatus = "uninitialized"
	PersistenceSyncing       PersistenceStatus = "syncing"
	PersistenceSynced        PersistenceStatus = "synced"
)

// NetworkStatus follows the remote channel. It may cycle from disconnected
// back to connecting while the channel reconnects.
type NetworkStatus string

const (
	NetworkUninitialized NetworkStatus = "uninitialized"
	NetworkConnecting    NetworkStatus = "connecting"
	NetworkConnected     NetworkStatus = "connected"
	NetworkSynced        NetworkStatus = "synced"
	NetworkDisconnected  NetworkStatus = "disconnected"
)

func (s *Session) PersistenceStatus() PersistenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.persistenceStatus
}

func (s *Session) NetworkStatus() NetworkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.networkStatus
}

// InitialSyncInProgress is true from the moment the network channel is
// opened until it first connects.
func (s *Session) InitialSyncInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rt.initialSync
}

// openPersistence starts the local replica. A nil provider leaves the
// session without one.
func (s *Session) openPersistence(rt *runtime) error {
	if s.opts.Persistence == nil {
		return nil
	}
	if !s.lockCurrent(rt) {
		return nil
	}
	if rt.persistenceOpen {
		s.mu.Unlock()
		log.Printf("session: persistence for %s already open", rt.room.ID)
		return nil
	}
	rt.persistenceOpen = true
	rt.persistenceStatus = PersistenceSyncing
	key := rt.room.ID
	s.mu.Unlock()

	replica, err := s.opts.Persistence.Open(key, rt.doc, func() { s.persistenceSynced(rt) })
	if err != nil {
		if s.lockCurrent(rt) {
			rt.persistenceOpen = false
			rt.persistenceStatus = PersistenceUninitialized
			s.mu.Unlock()
		}
		return fmt.Errorf("open persistence: %w", err)
	}
	if !s.lockCurrent(rt) {
		if err := replica.Destroy(); err != nil {
			log.Printf("session: destroy persistence for %s: %v", key, err)
		}
		return nil
	}
	rt.persistence = replica
	s.mu.Unlock()
	return nil
}

func (s *Session) persistenceSynced(rt *runtime) {
	if !s.lockCurrent(rt) {
		return
	}
	rt.persistenceStatus = PersistenceSynced
	s.mu.Unlock()
	s.activate(rt, titleField)
}

// openNetwork starts the remote channel. A nil provider or an empty sync URL
// keeps the session offline.
func (s *Session) openNetwork(rt *runtime, token string) error {
	if s.opts.Network == nil || s.opts.SyncURL == "" {
		return nil
	}
	if !s.lockCurrent(rt) {
		return nil
	}
	if rt.networkOpen {
		s.mu.Unlock()
		log.Printf("session: network for %s already open", rt.room.ID)
		return nil
	}
	rt.networkOpen = true
	rt.networkStatus = NetworkConnecting
	rt.initialSync = true
	opts := NetworkOptions{
		URL:       s.opts.SyncURL,
		RoomID:    rt.room.ID,
		Document:  rt.doc,
		Awareness: rt.aw,
		Token:     token,
		OnStatus:  func(st NetworkStatus) { s.networkStatusChanged(rt, st) },
		OnConnect: func() { s.networkConnected(rt) },
		OnSynced:  func() { s.networkSynced(rt) },
	}
	s.mu.Unlock()

	channel, err := s.opts.Network.Open(opts)
	if err != nil {
		if s.lockCurrent(rt) {
			rt.networkOpen = false
			rt.networkStatus = NetworkUninitialized
			rt.initialSync = false
			s.mu.Unlock()
		}
		return fmt.Errorf("open network: %w", err)
	}
	if !s.lockCurrent(rt) {
		channel.Disconnect()
		if err := channel.Destroy(); err != nil {
			log.Printf("session: destroy network channel for %s: %v", opts.RoomID, err)
		}
		return nil
	}
	rt.network = channel
	s.mu.Unlock()
	return nil
}

func (s *Session) networkStatusChanged(rt *runtime, st NetworkStatus) {
	if !s.lockCurrent(rt) {
		return
	}
	rt.networkStatus = st
	s.mu.Unlock()
}

// networkConnected holds presence notifications back for the settle delay
// so that peers already in the room do not produce a burst of joins.
func (s *Session) networkConnected(rt *runtime) {
	if !s.lockCurrent(rt) {
		return
	}
	rt.initialSync = false
	rt.settling = true
	rt.settleGen++
	gen := rt.settleGen
	rt.timers.AfterFunc(s.opts.ConnectSettle, func() {
		if !s.lockCurrent(rt) {
			return
		}
		if rt.settleGen == gen {
			rt.settling = false
			rt.suppressPresence = false
		}
		s.mu.Unlock()
	})
	s.mu.Unlock()
}

func (s *Session) networkSynced(rt *runtime) {
	if !s.lockCurrent(rt) {
		return
	}
	rt.networkStatus = NetworkSynced
	s.mu.Unlock()
	s.activate(rt, languageField)
}
