// Copyright 2025 Int3nts Protocol
//
// Chain Pollers
// One long-lived polling loop per (chain, event kind). Each loop runs
// sleep → fetch → decode → cache-update, honors the stop context at the
// sleep boundary, and backs off exponentially with jitter on transient
// RPC failures. Persistent errors are logged and the loop continues.

package poller

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// EventKind names the three polled event streams
type EventKind string

const (
	KindIntent      EventKind = "intent"
	KindEscrow      EventKind = "escrow"
	KindFulfillment EventKind = "fulfillment"
)

// maxBackoff caps the transient-failure backoff
const maxBackoff = 2 * time.Minute

// Poller drives one (chain, kind) polling loop
type Poller struct {
	adapter  chain.Adapter
	kind     EventKind
	cache    *cache.Cache
	interval time.Duration
	logger   *log.Logger

	// polledOnce flips after the first completed poll and feeds /health
	polledOnce atomic.Bool
}

// New creates a poller for one chain and event kind
func New(adapter chain.Adapter, kind EventKind, c *cache.Cache, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.New(log.Writer(), "[POLLER] ", log.LstdFlags)
	}
	return &Poller{
		adapter:  adapter,
		kind:     kind,
		cache:    c,
		interval: adapter.Descriptor().PollInterval(),
		logger:   logger,
	}
}

// Ready reports whether the poller has completed at least one poll
func (p *Poller) Ready() bool {
	return p.polledOnce.Load()
}

// ChainID returns the polled chain's id
func (p *Poller) ChainID() uint32 {
	return p.adapter.ChainID()
}

// Kind returns the polled event kind
func (p *Poller) Kind() EventKind {
	return p.kind
}

// Run loops until the context is canceled
func (p *Poller) Run(ctx context.Context) {
	p.logger.Printf("polling chain %d %s events every %s", p.adapter.ChainID(), p.kind, p.interval)

	backoff := p.interval
	for {
		if err := p.tick(ctx); err != nil {
			metrics.PollTicks.WithLabelValues(p.chainLabel(), string(p.kind), "error").Inc()
			p.logger.Printf("chain %d %s poll failed: %v (next attempt in %s)",
				p.adapter.ChainID(), p.kind, err, backoff)
			if !sleep(ctx, withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		p.polledOnce.Store(true)
		metrics.PollTicks.WithLabelValues(p.chainLabel(), string(p.kind), "ok").Inc()
		backoff = p.interval

		if !sleep(ctx, p.interval) {
			return
		}
	}
}

// tick performs one fetch-decode-store cycle
func (p *Poller) tick(ctx context.Context) error {
	switch p.kind {
	case KindIntent:
		events, err := p.adapter.PollIntentEvents(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			p.store(func() (bool, error) { return p.cache.PutIntent(ev) }, ev.IntentID)
		}

	case KindEscrow:
		events, err := p.adapter.PollEscrowEvents(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			p.store(func() (bool, error) { return p.cache.PutEscrow(ev) }, ev.IntentID)
		}

	case KindFulfillment:
		events, err := p.adapter.PollFulfillmentEvents(ctx)
		if err != nil {
			return err
		}
		for _, ev := range events {
			p.store(func() (bool, error) { return p.cache.PutFulfillment(p.adapter.ChainID(), ev) }, ev.IntentID)
		}
	}
	return nil
}

func (p *Poller) store(put func() (bool, error), id types.IntentID) {
	if _, err := put(); err != nil {
		// Conflicting rewrites are a decode or upstream defect, never a
		// crash
		p.logger.Printf("chain %d %s event for %s dropped: %v", p.adapter.ChainID(), p.kind, id.Display(), err)
	}
}

// chainLabel uses the family to keep metric cardinality low
func (p *Poller) chainLabel() string {
	return p.adapter.Family().String()
}

// sleep waits for d or the context, whichever first; false means stop
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// nextBackoff doubles up to the cap
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// withJitter spreads retries by ±10%
func withJitter(d time.Duration) time.Duration {
	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread/2) + time.Duration(rand.Int63n(spread))
}

// =============================================================================
// POLLER GROUP
// =============================================================================

// Group runs a set of pollers and answers readiness for /health
type Group struct {
	pollers []*Poller
	wg      sync.WaitGroup
}

// NewGroup builds the (chain × kind) poller matrix for the adapters.
// The hub polls intents and fulfillments; every connected chain, a Move
// connected chain included, polls escrows only.
func NewGroup(adapters *chain.Set, c *cache.Cache, logger *log.Logger) *Group {
	g := &Group{}

	hub := adapters.Hub()
	g.pollers = append(g.pollers,
		New(hub, KindIntent, c, logger),
		New(hub, KindFulfillment, c, logger),
	)

	for _, a := range adapters.All() {
		if a == hub {
			continue
		}
		g.pollers = append(g.pollers, New(a, KindEscrow, c, logger))
	}

	return g
}

// Start launches every poller on its own goroutine
func (g *Group) Start(ctx context.Context) {
	for _, p := range g.pollers {
		p := p
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			p.Run(ctx)
		}()
	}
}

// Wait blocks until every poller has observed the stop signal
func (g *Group) Wait() {
	g.wg.Wait()
}

// Ready reports whether all pollers completed at least one poll
func (g *Group) Ready() bool {
	for _, p := range g.pollers {
		if !p.Ready() {
			return false
		}
	}
	return true
}

// Status reports per-poller readiness for detailed health
func (g *Group) Status() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(g.pollers))
	for _, p := range g.pollers {
		out = append(out, map[string]interface{}{
			"chain_id": p.ChainID(),
			"kind":     string(p.Kind()),
			"ready":    p.Ready(),
		})
	}
	return out
}
