// Copyright 2025 Int3nts Protocol
//
// Chain Poller Tests

package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// fakeAdapter emits a fixed intent event stream and can be made to fail
type fakeAdapter struct {
	family   types.ChainFamily
	chainID  uint32
	events   []*types.IntentEvent
	failing  atomic.Bool
	pollCnt  atomic.Int64
}

func (f *fakeAdapter) Family() types.ChainFamily { return f.family }
func (f *fakeAdapter) ChainID() uint32           { return f.chainID }
func (f *fakeAdapter) Descriptor() *types.ChainDescriptor {
	return &types.ChainDescriptor{ID: f.chainID, Family: f.family, PollIntervalMs: 10}
}
func (f *fakeAdapter) PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error) {
	f.pollCnt.Add(1)
	if f.failing.Load() {
		return nil, chain.ErrUnavailable
	}
	return f.events, nil
}
func (f *fakeAdapter) PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error) {
	return nil, nil
}
func (f *fakeAdapter) PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchTransfer(ctx context.Context, txHash string) (*chain.Transfer, error) {
	return nil, chain.ErrUnsupported
}
func (f *fakeAdapter) LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*chain.RegistryEntry, error) {
	return nil, chain.ErrUnsupported
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) error { return nil }

func testIntent(b byte) *types.IntentEvent {
	var id types.IntentID
	id[31] = b
	return &types.IntentEvent{
		IntentID:      id,
		ChainID:       1,
		OfferedAmount: types.U128FromUint64(1),
		DesiredAmount: types.U128FromUint64(1),
		Flow:          types.FlowInflow,
	}
}

func TestPoller_StoresEventsAndTurnsReady(t *testing.T) {
	c := cache.New(100)
	adapter := &fakeAdapter{family: types.FamilyMove, chainID: 1, events: []*types.IntentEvent{testIntent(1), testIntent(2)}}
	p := New(adapter, KindIntent, c, nil)

	if p.Ready() {
		t.Fatal("ready before first poll")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Len() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if c.Len() != 2 {
		t.Fatalf("cache has %d records, want 2", c.Len())
	}
	if !p.Ready() {
		t.Error("poller not ready after successful poll")
	}
}

func TestPoller_RedeliveryDoesNotDuplicate(t *testing.T) {
	c := cache.New(100)
	adapter := &fakeAdapter{family: types.FamilyMove, chainID: 1, events: []*types.IntentEvent{testIntent(3)}}
	p := New(adapter, KindIntent, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	// Let several ticks deliver the same event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && adapter.pollCnt.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if c.Len() != 1 {
		t.Fatalf("cache has %d records after redelivery, want 1", c.Len())
	}
}

func TestPoller_SurvivesTransientFailures(t *testing.T) {
	c := cache.New(100)
	adapter := &fakeAdapter{family: types.FamilyMove, chainID: 1, events: []*types.IntentEvent{testIntent(4)}}
	adapter.failing.Store(true)
	p := New(adapter, KindIntent, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Fail a few ticks, then recover
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && adapter.pollCnt.Load() < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Ready() {
		t.Fatal("poller reported ready while failing")
	}
	adapter.failing.Store(false)

	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && c.Len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Len() != 1 {
		t.Fatal("poller did not recover after transient failures")
	}
}

func TestPoller_StopsAtSleepBoundary(t *testing.T) {
	c := cache.New(100)
	adapter := &fakeAdapter{family: types.FamilyMove, chainID: 1}
	p := New(adapter, KindIntent, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestBackoff(t *testing.T) {
	d := 100 * time.Millisecond
	d = nextBackoff(d)
	if d != 200*time.Millisecond {
		t.Errorf("backoff = %s", d)
	}
	if nextBackoff(maxBackoff) != maxBackoff {
		t.Error("backoff exceeded cap")
	}

	base := time.Second
	for i := 0; i < 50; i++ {
		j := withJitter(base)
		if j < 900*time.Millisecond || j > 1100*time.Millisecond {
			t.Fatalf("jitter %s outside ±10%% band", j)
		}
	}
}
