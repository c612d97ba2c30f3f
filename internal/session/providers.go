package session

import (
	"time"

	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/persistence"
	"coderoom/collab/internal/transport"
)

// PersistenceProvider opens the local durable replica of a room. onSynced
// must be called once, after the stored state has been applied to doc.
type PersistenceProvider interface {
	Open(key string, doc *crdt.Document, onSynced func()) (PersistenceReplica, error)
}

type PersistenceReplica interface {
	Destroy() error
}

// NetworkOptions is everything a network channel needs to join a room.
type NetworkOptions struct {
	URL       string
	RoomID    string
	Document  *crdt.Document
	Awareness *awareness.Awareness
	Token     string
	OnStatus  func(NetworkStatus)
	OnConnect func()
	OnSynced  func()
}

// NetworkProvider opens the remote sync channel of a room. Reconnecting is
// the channel's concern; the session only follows its status.
type NetworkProvider interface {
	Open(opts NetworkOptions) (NetworkChannel, error)
}

type NetworkChannel interface {
	Disconnect()
	Destroy() error
}

// BoltPersistence keeps room replicas in a bbolt store.
func BoltPersistence(store *persistence.Store) PersistenceProvider {
	return boltPersistence{store: store}
}

type boltPersistence struct {
	store *persistence.Store
}

func (p boltPersistence) Open(key string, doc *crdt.Document, onSynced func()) (PersistenceReplica, error) {
	replica, err := p.store.Replica(key, doc, onSynced)
	if err != nil {
		return nil, err
	}
	return replica, nil
}

// WebsocketNetwork connects rooms to the sync relay over websockets.
// awarenessTimeout of zero uses the awareness default.
func WebsocketNetwork(awarenessTimeout time.Duration) NetworkProvider {
	return websocketNetwork{awarenessTimeout: awarenessTimeout}
}

type websocketNetwork struct {
	awarenessTimeout time.Duration
}

func (n websocketNetwork) Open(opts NetworkOptions) (NetworkChannel, error) {
	provider, err := transport.Open(transport.Options{
		URL:       opts.URL,
		RoomID:    opts.RoomID,
		Token:     opts.Token,
		Document:  opts.Document,
		Awareness: opts.Awareness,
		OnStatus: func(st transport.Status) {
			if opts.OnStatus != nil {
				opts.OnStatus(networkStatus(st))
			}
		},
		OnConnect:        opts.OnConnect,
		OnSynced:         opts.OnSynced,
		AwarenessTimeout: n.awarenessTimeout,
	})
	if err != nil {
		return nil, err
	}
	return provider, nil
}

func networkStatus(st transport.Status) NetworkStatus {
	switch st {
	case transport.Connecting:
		return NetworkConnecting
	case transport.Connected:
		return NetworkConnected
	default:
		return NetworkDisconnected
	}
}
