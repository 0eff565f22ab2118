// Package pool maintains, per provider, the selection set of currently
// healthy workers, per spec.md §4.4.
package pool

import (
	"math/rand/v2"
	"sync"

	"zeusgateway/internal/registry"
)

// Pool is the per-provider selection set of healthy worker ids. Updated
// on every Registry/Health event touching that provider via Recompute.
//
// Selector policy: uniformly random (spec.md's Open Question 2 resolves
// in favor of the source's actual behavior over its "round-robin"
// comment — random requires no shared counter under concurrency and
// gives uniform load in steady state).
type Pool struct {
	reg *registry.Registry

	mu      sync.RWMutex
	members map[string][]string // provider -> healthy worker ids
}

// New constructs a Pool backed by reg. Callers should wire Recompute as a
// registry.Listener so the pool stays current with lifecycle/health events.
func New(reg *registry.Registry) *Pool {
	return &Pool{
		reg:     reg,
		members: make(map[string][]string),
	}
}

// Recompute refreshes the selection set for provider from the registry's
// current Healthy() view. Safe to call from any goroutine; independent
// per-provider probes (HealthMonitor) MUST not block each other, so this
// only ever touches the single provider's slice.
func (p *Pool) Recompute(provider string) {
	healthy := p.reg.Healthy(provider)
	ids := make([]string, 0, len(healthy))
	for _, w := range healthy {
		ids = append(ids, w.ID)
	}

	p.mu.Lock()
	if len(ids) == 0 {
		delete(p.members, provider)
	} else {
		p.members[provider] = ids
	}
	p.mu.Unlock()
}

// Select picks uniformly at random from provider's healthy set, or
// returns ok=false if the pool is empty (spec.md §4.4).
func (p *Pool) Select(provider string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := p.members[provider]
	if len(ids) == 0 {
		return "", false
	}
	return ids[rand.IntN(len(ids))], true
}

// Size returns the number of healthy workers currently in provider's pool.
func (p *Pool) Size(provider string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members[provider])
}

// Members returns a copy of provider's current healthy worker id set.
func (p *Pool) Members(provider string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.members[provider]...)
}
