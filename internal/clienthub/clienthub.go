// Package clienthub tracks connected clients, their current-worker
// affinity, and their subscription indexes, per spec.md §4.7. Fanout
// (internal/fanout) reads these indexes directly rather than keeping its
// own copy.
package clienthub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownClient is returned by operations addressing a client id the
// Hub has no record of.
var ErrUnknownClient = errors.New("clienthub: unknown client id")

// ErrSendBufferFull is returned by Send when a client's outbound queue is
// saturated — the client is not draining fast enough.
var ErrSendBufferFull = errors.New("clienthub: client send buffer full")

type clientEntry struct {
	send            chan []byte
	currentWorkerID string
	processSubs     map[string]bool
	providerSubs    map[string]bool
}

// Hub is the gateway's single source of truth for connected clients and
// the affinity/subscription indexes Fanout consults to compute a
// delivery set (spec.md §4.9).
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*clientEntry
	affinity map[string]map[string]bool // workerID -> set of client ids currently chatting with it
	workers  map[string]map[string]bool // workerID -> set of subscribed client ids
	provs    map[string]map[string]bool // provider -> set of subscribed client ids
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{
		clients:  make(map[string]*clientEntry),
		affinity: make(map[string]map[string]bool),
		workers:  make(map[string]map[string]bool),
		provs:    make(map[string]map[string]bool),
	}
}

// Attach registers a new client with an outbound delivery queue and
// returns its generated id.
func (h *Hub) Attach(send chan []byte) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = &clientEntry{
		send:         send,
		processSubs:  make(map[string]bool),
		providerSubs: make(map[string]bool),
	}
	h.mu.Unlock()
	return id
}

// Detach removes clientID from the client table and every Fanout index
// atomically (spec.md §4.7's ordering guarantee).
func (h *Hub) Detach(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	if c.currentWorkerID != "" {
		removeFromSet(h.affinity, c.currentWorkerID, clientID)
	}
	for workerID := range c.processSubs {
		removeFromSet(h.workers, workerID, clientID)
	}
	for provider := range c.providerSubs {
		removeFromSet(h.provs, provider, clientID)
	}
	delete(h.clients, clientID)
}

// SetCurrentWorker records clientID's current chat affinity. workerID=""
// clears it.
func (h *Hub) SetCurrentWorker(clientID, workerID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if c.currentWorkerID != "" {
		removeFromSet(h.affinity, c.currentWorkerID, clientID)
	}
	c.currentWorkerID = workerID
	if workerID != "" {
		addToSet(h.affinity, workerID, clientID)
	}
	return nil
}

// CurrentWorker returns clientID's current chat affinity, if any.
func (h *Hub) CurrentWorker(clientID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok || c.currentWorkerID == "" {
		return "", false
	}
	return c.currentWorkerID, true
}

// AddSub subscribes clientID to a worker id (process=true) or provider
// name (process=false).
func (h *Hub) AddSub(clientID string, process bool, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if process {
		c.processSubs[key] = true
		addToSet(h.workers, key, clientID)
	} else {
		c.providerSubs[key] = true
		addToSet(h.provs, key, clientID)
	}
	return nil
}

// RemoveSub unsubscribes clientID from a single worker id or provider
// name. all=true drops every subscription of the given kind instead.
func (h *Hub) RemoveSub(clientID string, process bool, key string, all bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}

	if process {
		keys := []string{key}
		if all {
			keys = keysOf(c.processSubs)
		}
		for _, k := range keys {
			delete(c.processSubs, k)
			removeFromSet(h.workers, k, clientID)
		}
		return nil
	}

	keys := []string{key}
	if all {
		keys = keysOf(c.providerSubs)
	}
	for _, k := range keys {
		delete(c.providerSubs, k)
		removeFromSet(h.provs, k, clientID)
	}
	return nil
}

// SubscriptionsOf returns clientID's current process and provider
// subscription keys.
func (h *Hub) SubscriptionsOf(clientID string) (processes, providers []string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	if !ok {
		return nil, nil, ErrUnknownClient
	}
	return keysOf(c.processSubs), keysOf(c.providerSubs), nil
}

// ClientsWithAffinity returns the ids of clients currently chatting with
// workerID (spec.md §4.9 step 1).
func (h *Hub) ClientsWithAffinity(workerID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return keysOf(h.affinity[workerID])
}

// ClientsSubscribedToWorker returns the ids of clients subscribed to
// workerID's stream (spec.md §4.9 step 2).
func (h *Hub) ClientsSubscribedToWorker(workerID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return keysOf(h.workers[workerID])
}

// ClientsSubscribedToProvider returns the ids of clients subscribed to
// provider's stream (spec.md §4.9 step 3).
func (h *Hub) ClientsSubscribedToProvider(provider string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return keysOf(h.provs[provider])
}

// Send enqueues data on clientID's outbound delivery queue. Non-blocking:
// a full buffer is reported rather than stalling the caller (which may be
// a Fanout goroutine serving many clients).
func (h *Hub) Send(clientID string, data []byte) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Count returns the number of attached clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func addToSet(m map[string]map[string]bool, key, member string) {
	if m[key] == nil {
		m[key] = make(map[string]bool)
	}
	m[key][member] = true
}

func removeFromSet(m map[string]map[string]bool, key, member string) {
	set := m[key]
	if set == nil {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m, key)
	}
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
