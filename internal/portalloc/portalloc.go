// Package portalloc hands out and reclaims ports in a fixed range for
// worker processes, per spec.md §4.1.
package portalloc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

// ErrNoPorts is returned by Allocate when every port in the range is
// either held by a live worker or occupied by a foreign process.
var ErrNoPorts = errors.New("portalloc: no free port in range")

// Allocator hands out ports from a fixed half-open range [low, high),
// verifying OS-level availability before handing one out. Centralizing
// allocation here prevents collisions across concurrent spawns.
type Allocator struct {
	low, high int

	mu    sync.Mutex
	table map[int]string // port -> worker id
}

// New constructs an Allocator over [low, high).
func New(low, high int) (*Allocator, error) {
	if high <= low {
		return nil, fmt.Errorf("portalloc: invalid range [%d, %d)", low, high)
	}
	return &Allocator{
		low:   low,
		high:  high,
		table: make(map[int]string),
	}, nil
}

// Allocate returns the lowest port in the range not already in the
// internal table and not bound by a foreign process, and records it as
// owned by workerID. The foreign-binding check is a best-effort bind/
// release probe; if binding itself fails for a reason unrelated to the
// port being busy (rare, e.g. a sandboxed environment denying raw
// listens), the port is treated as free rather than blocking all spawns.
func (a *Allocator) Allocate(workerID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.low; port < a.high; port++ {
		if _, taken := a.table[port]; taken {
			continue
		}
		if !probeFree(port) {
			continue
		}
		a.table[port] = workerID
		return port, nil
	}
	return 0, ErrNoPorts
}

// AllocateSpecific claims a caller-supplied port, verifying it is both
// out of the table and OS-available. Used when a spawn request supplies
// an explicit port (spec.md §4.2 step 2).
func (a *Allocator) AllocateSpecific(port int, workerID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.low || port >= a.high {
		return fmt.Errorf("portalloc: port %d outside range [%d, %d)", port, a.low, a.high)
	}
	if _, taken := a.table[port]; taken {
		return fmt.Errorf("portalloc: port %d already allocated", port)
	}
	if !probeFree(port) {
		return fmt.Errorf("portalloc: port %d is bound by a foreign process", port)
	}
	a.table[port] = workerID
	return nil
}

// Retag reassigns an already-allocated port's owner, used once a worker's
// id is known (the id format embeds the port itself, so the caller must
// allocate a port before it can compute the id it belongs to).
func (a *Allocator) Retag(port int, workerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.table[port]; taken {
		a.table[port] = workerID
	}
}

// Release frees a port. Idempotent: releasing an unallocated or
// already-released port is not an error (spec.md §4.1, §8 Port reclaim).
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.table, port)
}

// OwnerOf returns the worker id holding port, if any.
func (a *Allocator) OwnerOf(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.table[port]
	return id, ok
}

// InUse reports how many ports are currently allocated.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// probeFree attempts to bind and immediately release a TCP listener on
// the port, to detect a foreign process already bound to it. If the
// local probe is unavailable for environmental reasons, the port is
// assumed free per spec.md §4.1.
func probeFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return !errors.Is(err, syscall.EADDRINUSE)
	}
	ln.Close()
	return true
}
