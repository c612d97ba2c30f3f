// Package transport is the websocket network channel between a room
// document and the sync relay. It reconnects with exponential backoff until
// it is disconnected or the relay rejects it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"coderoom/collab/internal/awareness"
	"coderoom/collab/internal/crdt"
	"coderoom/collab/internal/observe"
	"coderoom/collab/internal/protocol"
)

type Status string

const (
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
)

const writeTimeout = 10 * time.Second

// RelayError is returned when the relay answers with an error frame. The
// provider stops reconnecting after one.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

var ErrNoURL = errors.New("relay url is required")

type Options struct {
	URL       string
	RoomID    string
	Token     string
	Document  *crdt.Document
	Awareness *awareness.Awareness

	OnStatus  func(Status)
	OnConnect func()
	OnSynced  func()

	// AwarenessTimeout drives renewal of the local presence and expiry of
	// silent peers. Zero uses awareness.DefaultTimeout.
	AwarenessTimeout time.Duration
	Dialer           *websocket.Dialer
	// NewBackOff returns the reconnect policy. Nil uses an unbounded
	// exponential backoff.
	NewBackOff func() backoff.BackOff
}

// Provider keeps one room document and its awareness in sync with the relay.
type Provider struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	docHandle       observe.Handle
	awarenessHandle observe.Handle

	sendMu sync.Mutex
	conn   *websocket.Conn

	mu     sync.Mutex
	status Status
	synced bool
	peers  map[uint64]struct{}
	err    error
	closed bool
}

// Open starts connecting in the background.
func Open(opts Options) (*Provider, error) {
	if opts.URL == "" {
		return nil, ErrNoURL
	}
	if opts.Document == nil || opts.Awareness == nil {
		return nil, errors.New("document and awareness are required")
	}
	if opts.AwarenessTimeout <= 0 {
		opts.AwarenessTimeout = awareness.DefaultTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Provider{opts: opts, ctx: ctx, cancel: cancel, peers: make(map[uint64]struct{})}
	p.docHandle = opts.Document.OnUpdate(p.onDocumentUpdate)
	p.awarenessHandle = opts.Awareness.OnUpdate(p.onAwarenessUpdate)

	p.wg.Add(2)
	go p.run()
	go p.checkAwareness()
	return p, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (p *Provider) run() {
	defer p.wg.Done()
	b := backoff.WithContext(p.opts.NewBackOff(), p.ctx)
	err := backoff.RetryNotify(func() error {
		if p.ctx.Err() != nil {
			return nil
		}
		err := p.connect(b)
		if p.ctx.Err() != nil {
			return nil
		}
		var relayErr *RelayError
		if errors.As(err, &relayErr) {
			p.mu.Lock()
			p.err = relayErr
			p.mu.Unlock()
			return nil
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.Printf("transport: room %s: %v; retrying in %s", p.opts.RoomID, err, wait)
	})
	if err != nil && p.ctx.Err() == nil {
		log.Printf("transport: room %s: giving up: %v", p.opts.RoomID, err)
	}
	if relayErr := p.Err(); relayErr != nil {
		log.Printf("transport: room %s: %v", p.opts.RoomID, relayErr)
	}
}

// connect runs one connection until it fails or the provider is closed.
func (p *Provider) connect(b backoff.BackOff) error {
	p.setStatus(Connecting)
	conn, _, err := p.opts.Dialer.DialContext(p.ctx, p.opts.URL, nil)
	if err != nil {
		p.setStatus(Disconnected)
		return fmt.Errorf("dial relay: %w", err)
	}
	b.Reset()

	done := make(chan struct{})
	go func() {
		select {
		case <-p.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		p.dropConn(conn)
	}()

	p.sendMu.Lock()
	p.conn = conn
	p.sendMu.Unlock()
	p.setStatus(Connected)
	if p.opts.OnConnect != nil {
		p.opts.OnConnect()
	}
	if err := p.send(protocol.Hello(p.opts.RoomID, p.opts.Token)); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read relay: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
			continue
		}
		if err := p.handle(msg); err != nil {
			return err
		}
	}
}

func (p *Provider) handle(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeSync:
		for _, raw := range msg.Updates {
			u, err := crdt.DecodeUpdate(raw)
			if err != nil {
				log.Printf("transport: room %s: %v", p.opts.RoomID, err)
				continue
			}
			p.opts.Document.Apply(u, p)
		}
		state, err := p.opts.Document.State().Encode()
		if err != nil {
			return err
		}
		if err := p.send(protocol.Update(state)); err != nil {
			return err
		}
		if err := p.sendLocalAwareness(); err != nil {
			return err
		}
		p.mu.Lock()
		p.synced = true
		p.mu.Unlock()
		if p.opts.OnSynced != nil {
			p.opts.OnSynced()
		}
	case protocol.TypeUpdate:
		u, err := crdt.DecodeUpdate(msg.Update)
		if err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
			return nil
		}
		p.opts.Document.Apply(u, p)
	case protocol.TypeAwareness:
		entries, err := awareness.DecodeUpdate(msg.Awareness)
		if err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
			return nil
		}
		local := p.opts.Awareness.ClientID()
		p.mu.Lock()
		for _, e := range entries {
			if e.ClientID != local {
				p.peers[e.ClientID] = struct{}{}
			}
		}
		p.mu.Unlock()
		if err := p.opts.Awareness.ApplyUpdate(msg.Awareness, p); err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
		}
	case protocol.TypeQueryAwareness:
		return p.sendLocalAwareness()
	case protocol.TypeError:
		return &RelayError{Code: msg.Code, Message: msg.Error}
	}
	return nil
}

// dropConn forgets conn and removes the presence of every peer it announced.
func (p *Provider) dropConn(conn *websocket.Conn) {
	p.sendMu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.sendMu.Unlock()
	_ = conn.Close()

	p.mu.Lock()
	peers := make([]uint64, 0, len(p.peers))
	for id := range p.peers {
		peers = append(peers, id)
	}
	p.peers = make(map[uint64]struct{})
	p.synced = false
	p.mu.Unlock()

	p.opts.Awareness.RemoveStates(peers, p)
	p.setStatus(Disconnected)
}

func (p *Provider) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.conn == nil {
		return nil
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write relay: %w", err)
	}
	return nil
}

func (p *Provider) sendLocalAwareness() error {
	data, err := p.opts.Awareness.EncodeUpdate([]uint64{p.opts.Awareness.ClientID()})
	if err != nil {
		return err
	}
	return p.send(protocol.Awareness(data))
}

func (p *Provider) onDocumentUpdate(ev crdt.UpdateEvent) {
	if ev.Origin == p {
		return
	}
	data, err := ev.Update.Encode()
	if err != nil {
		log.Printf("transport: room %s: %v", p.opts.RoomID, err)
		return
	}
	if err := p.send(protocol.Update(data)); err != nil {
		log.Printf("transport: room %s: %v", p.opts.RoomID, err)
	}
}

// onAwarenessUpdate forwards changes of the local state only. Peers announce
// themselves.
func (p *Provider) onAwarenessUpdate(ch awareness.Change) {
	if ch.Origin == p {
		return
	}
	local := p.opts.Awareness.ClientID()
	for _, id := range ch.Clients() {
		if id != local {
			continue
		}
		data, err := p.opts.Awareness.EncodeUpdate([]uint64{local})
		if err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
			return
		}
		if err := p.send(protocol.Awareness(data)); err != nil {
			log.Printf("transport: room %s: %v", p.opts.RoomID, err)
		}
		return
	}
}

func (p *Provider) checkAwareness() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.AwarenessTimeout / 10)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.opts.Awareness.CheckOutdated(p.opts.AwarenessTimeout)
		}
	}
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	if p.status == s || (p.closed && s != Disconnected) {
		p.mu.Unlock()
		return
	}
	p.status = s
	p.mu.Unlock()
	if p.opts.OnStatus != nil {
		p.opts.OnStatus(s)
	}
}

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Synced reports whether the current connection has completed its initial
// exchange with the relay.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Err returns the relay error that stopped the provider, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Disconnect closes the connection and stops reconnecting. It blocks until
// the background goroutines have exited.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	p.setStatus(Disconnected)
}

// Destroy disconnects and detaches from the document and awareness.
func (p *Provider) Destroy() error {
	p.Disconnect()
	p.opts.Document.OffUpdate(p.docHandle)
	p.opts.Awareness.OffUpdate(p.awarenessHandle)
	return nil
}
