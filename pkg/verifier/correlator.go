// Copyright 2025 Int3nts Protocol
//
// Correlation Task
// Consumes cache update signals from a bounded channel and dispatches
// inflow validation jobs. Jobs for the same intent id are coalesced: at
// most one runs at a time, and a trigger arriving mid-run re-arms
// exactly one more run after completion. Dropped signals only delay
// validation; the state lives in the cache.

package verifier

import (
	"context"
	"log"
	"sync"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// jobState tracks per-intent coalescing
type jobState int

const (
	jobIdle jobState = iota
	jobRunning
	jobRearmed
)

// Correlator drives automatic inflow validation off cache updates
type Correlator struct {
	cache     *cache.Cache
	validator *Validator
	logger    *log.Logger

	mu   sync.Mutex
	jobs map[types.IntentID]jobState

	wg sync.WaitGroup
}

// NewCorrelator creates a correlator over the cache and validator
func NewCorrelator(c *cache.Cache, v *Validator, logger *log.Logger) *Correlator {
	if logger == nil {
		logger = log.New(log.Writer(), "[CORRELATOR] ", log.LstdFlags)
	}
	return &Correlator{
		cache:     c,
		validator: v,
		logger:    logger,
		jobs:      make(map[types.IntentID]jobState),
	}
}

// Run consumes update signals until the context is canceled, then waits
// for in-flight jobs to finish
func (c *Correlator) Run(ctx context.Context) {
	c.logger.Printf("correlation task started")
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.logger.Printf("correlation task stopped")
			return
		case id := <-c.cache.Updates():
			c.Trigger(ctx, id)
		}
	}
}

// Trigger requests a validation run for the intent id, coalescing with
// any run already in flight
func (c *Correlator) Trigger(ctx context.Context, id types.IntentID) {
	c.mu.Lock()
	switch c.jobs[id] {
	case jobRunning:
		// Re-arm exactly one more run after the current one
		c.jobs[id] = jobRearmed
		c.mu.Unlock()
		return
	case jobRearmed:
		c.mu.Unlock()
		return
	default:
		c.jobs[id] = jobRunning
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go c.run(ctx, id)
}

func (c *Correlator) run(ctx context.Context, id types.IntentID) {
	defer c.wg.Done()

	for {
		c.validator.ValidateInflow(ctx, id)

		c.mu.Lock()
		if c.jobs[id] == jobRearmed {
			c.jobs[id] = jobRunning
			c.mu.Unlock()
			continue
		}
		delete(c.jobs, id)
		c.mu.Unlock()
		return
	}
}
