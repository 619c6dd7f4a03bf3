// Copyright 2025 Int3nts Protocol
//
// Solver Registry Cache Tests

package solver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// countingHub counts registry RPC round trips
type countingHub struct {
	lookups atomic.Int64
	entry   *chain.RegistryEntry
}

func (h *countingHub) Family() types.ChainFamily { return types.FamilyMove }
func (h *countingHub) ChainID() uint32           { return 1 }
func (h *countingHub) Descriptor() *types.ChainDescriptor {
	return &types.ChainDescriptor{ID: 1, Family: types.FamilyMove}
}
func (h *countingHub) PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error) {
	return nil, nil
}
func (h *countingHub) PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error) {
	return nil, nil
}
func (h *countingHub) PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error) {
	return nil, nil
}
func (h *countingHub) FetchTransfer(ctx context.Context, txHash string) (*chain.Transfer, error) {
	return nil, chain.ErrUnsupported
}
func (h *countingHub) LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*chain.RegistryEntry, error) {
	h.lookups.Add(1)
	if h.entry == nil {
		return nil, chain.ErrSolverNotRegistered
	}
	return h.entry, nil
}
func (h *countingHub) HealthCheck(ctx context.Context) error { return nil }

func TestLookup_CachesWithinTTL(t *testing.T) {
	var solverAddr types.Address
	solverAddr[31] = 0xAA

	hub := &countingHub{entry: &chain.RegistryEntry{HubAddr: solverAddr, HasEVM: true}}
	registry := NewRegistry(hub, time.Minute)

	for i := 0; i < 5; i++ {
		entry, err := registry.Lookup(context.Background(), solverAddr)
		if err != nil {
			t.Fatal(err)
		}
		if !entry.HasEVM {
			t.Fatal("entry lost in cache")
		}
	}

	if got := hub.lookups.Load(); got != 1 {
		t.Errorf("%d RPC lookups within TTL, want 1", got)
	}
	if registry.Len() != 1 {
		t.Errorf("cache size = %d", registry.Len())
	}
}

func TestLookup_RefetchesAfterTTL(t *testing.T) {
	var solverAddr types.Address
	hub := &countingHub{entry: &chain.RegistryEntry{HubAddr: solverAddr}}
	registry := NewRegistry(hub, time.Millisecond)

	registry.Lookup(context.Background(), solverAddr)
	time.Sleep(5 * time.Millisecond)
	registry.Lookup(context.Background(), solverAddr)

	if got := hub.lookups.Load(); got != 2 {
		t.Errorf("%d RPC lookups across TTL expiry, want 2", got)
	}
}

func TestLookup_ErrorNotCached(t *testing.T) {
	var solverAddr types.Address
	hub := &countingHub{}
	registry := NewRegistry(hub, time.Minute)

	if _, err := registry.Lookup(context.Background(), solverAddr); err == nil {
		t.Fatal("missing solver resolved")
	}
	if _, err := registry.Lookup(context.Background(), solverAddr); err == nil {
		t.Fatal("missing solver resolved on retry")
	}
	if got := hub.lookups.Load(); got != 2 {
		t.Errorf("%d RPC lookups, want 2 (errors are not cached)", got)
	}
}
