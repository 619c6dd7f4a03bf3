// Copyright 2025 Int3nts Protocol
//
// Solver Registry Cache
// TTL-bounded cache over the hub chain's on-chain solver registry.
// Lookups resolve a solver's hub address to its registered settlement
// identities; the cache keeps RPC load off the hot validation path.

package solver

import (
	"context"
	"sync"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// Registry resolves solver identities through the hub adapter with a
// TTL cache
type Registry struct {
	hub chain.Adapter
	ttl time.Duration

	mu      sync.RWMutex
	entries map[types.Address]*cachedEntry
}

type cachedEntry struct {
	entry     *chain.RegistryEntry
	fetchedAt time.Time
}

// NewRegistry creates a registry cache over the hub adapter
func NewRegistry(hub chain.Adapter, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{
		hub:     hub,
		ttl:     ttl,
		entries: make(map[types.Address]*cachedEntry),
	}
}

// Lookup resolves the solver's registered identities, serving from
// cache within the TTL
func (r *Registry) Lookup(ctx context.Context, hubAddr types.Address) (*chain.RegistryEntry, error) {
	r.mu.RLock()
	cached, ok := r.entries[hubAddr]
	r.mu.RUnlock()

	if ok && time.Since(cached.fetchedAt) < r.ttl {
		metrics.RegistryLookups.WithLabelValues("hit").Inc()
		return cached.entry, nil
	}

	entry, err := r.hub.LookupSolverRegistryEntry(ctx, hubAddr)
	if err != nil {
		metrics.RegistryLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RegistryLookups.WithLabelValues("miss").Inc()

	r.mu.Lock()
	r.entries[hubAddr] = &cachedEntry{entry: entry, fetchedAt: time.Now()}
	r.mu.Unlock()

	return entry, nil
}

// Len returns the cached entry count
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
