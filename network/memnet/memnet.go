// Package memnet is an in-process network.Transport. A Hub connects the
// endpoints of a local cluster and can inject faults: dropped, duplicated and
// delayed (thus reordered) messages, disconnected peers and arbitrary
// per-link filters.
package memnet

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/network"
)

// InboxSize is the number of undelivered messages an endpoint buffers before
// dropping new ones.
const InboxSize = 4096

// Filter decides whether a message from one endpoint reaches another.
type Filter func(from, to string, data []byte) bool

// Option configures a Hub.
type Option func(*Hub)

// WithDropRate drops each delivery with probability p.
func WithDropRate(p float64) Option { return func(h *Hub) { h.dropRate = p } }

// WithDuplicateRate delivers a message twice with probability p.
func WithDuplicateRate(p float64) Option { return func(h *Hub) { h.dupRate = p } }

// WithMaxDelay delays each delivery by a random duration up to d.
func WithMaxDelay(d time.Duration) Option { return func(h *Hub) { h.maxDelay = d } }

// WithSeed makes the fault injection reproducible.
func WithSeed(seed int64) Option { return func(h *Hub) { h.rng = rand.New(rand.NewSource(seed)) } }

// Hub is the shared medium of a local cluster.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	offline   map[string]bool
	filter    Filter

	rngMu    sync.Mutex
	rng      *rand.Rand
	dropRate float64
	dupRate  float64
	maxDelay time.Duration
}

// NewHub returns a Hub with the given fault options.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		endpoints: make(map[string]*Endpoint),
		offline:   make(map[string]bool),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join adds an endpoint named id.
func (h *Hub) Join(id string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := &Endpoint{id: id, hub: h, inbox: make(chan []byte, InboxSize)}
	h.endpoints[id] = e
	return e
}

// Disconnect isolates id: it neither sends nor receives until Reconnect.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline[id] = true
	log.Debugw("memnet peer disconnected", "peer", id)
}

// Reconnect undoes Disconnect.
func (h *Hub) Reconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.offline, id)
}

// SetFilter installs f on every link. A nil filter delivers everything.
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
}

func (h *Hub) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return h.rng.Float64() < p
}

func (h *Hub) delay() time.Duration {
	if h.maxDelay <= 0 {
		return 0
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return time.Duration(h.rng.Int63n(int64(h.maxDelay)))
}

func (h *Hub) broadcast(from string, data []byte) {
	h.mu.RLock()
	if h.offline[from] {
		h.mu.RUnlock()
		return
	}
	var targets []*Endpoint
	for id, e := range h.endpoints {
		if id == from || h.offline[id] {
			continue
		}
		if h.filter != nil && !h.filter(from, id, data) {
			continue
		}
		targets = append(targets, e)
	}
	h.mu.RUnlock()

	for _, e := range targets {
		if h.chance(h.dropRate) {
			continue
		}
		copies := 1
		if h.chance(h.dupRate) {
			copies = 2
		}
		for i := 0; i < copies; i++ {
			msg := append([]byte(nil), data...)
			if d := h.delay(); d > 0 {
				time.AfterFunc(d, func() { e.deliver(msg) })
				continue
			}
			e.deliver(msg)
		}
	}
}

// Endpoint is one peer's network.Transport on a Hub.
type Endpoint struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	inbox  chan []byte
	closed bool
}

var _ network.Transport = (*Endpoint)(nil)

// ID returns the endpoint name.
func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) deliver(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.inbox <- data:
	default:
		log.Warnw("memnet inbox full, dropping message", "peer", e.id)
	}
}

func (e *Endpoint) Broadcast(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return network.ErrClosed
	}
	e.hub.broadcast(e.id, data)
	return nil
}

func (e *Endpoint) Messages() <-chan []byte { return e.inbox }

func (e *Endpoint) Close() error {
	e.hub.mu.Lock()
	delete(e.hub.endpoints, e.id)
	e.hub.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.inbox)
	}
	return nil
}
