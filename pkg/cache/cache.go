// Copyright 2025 Int3nts Protocol
//
// Event Cache - Content-Addressed Cross-Chain Event Store
//
// Maps intent ids to a record holding the intent, escrow, fulfillment,
// and approval observed so far. Writes are compare-and-set on individual
// sub-fields: an already-present field is never overwritten unless the
// new event is bit-identical, in which case the write is a no-op. The
// cache is the only shared mutable state in the process and is
// recoverable by replaying chain history.

package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// State is the per-record validation lifecycle state. Transitions are
// monotonic and terminal states never transition further.
type State int

const (
	StateEmpty State = iota
	StatePartiallyObserved
	StateValidationEligible
	StateApproved
	StateRejected
	StateExpired
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePartiallyObserved:
		return "partially_observed"
	case StateValidationEligible:
		return "validation_eligible"
	case StateApproved:
		return "approved"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateExpired
}

// ErrConflict is returned when a write carries a value that differs from
// the one already cached for the same sub-field
var ErrConflict = fmt.Errorf("conflicting event for cached intent")

// Record is the correlation state for one intent id. Returned copies
// are snapshots; mutation happens only through the cache write paths.
type Record struct {
	IntentID    types.IntentID           `json:"intent_id"`
	Intent      *types.IntentEvent       `json:"intent,omitempty"`
	Escrow      *types.EscrowEvent       `json:"escrow,omitempty"`
	Fulfillment *types.FulfillmentEvent  `json:"fulfillment,omitempty"`
	Approval    *types.ApprovalSignature `json:"approval,omitempty"`
	State       State                    `json:"-"`
	StateName   string                   `json:"state"`
	Reason      string                   `json:"reason,omitempty"`

	firstObserved time.Time
	ownerChain    uint32
}

// InflowEligible reports whether the record has the shape the automatic
// inflow path validates: an inflow intent with escrow and fulfillment
// observed and no approval yet
func (r *Record) InflowEligible() bool {
	return r.Intent != nil &&
		r.Intent.Flow == types.FlowInflow &&
		r.Escrow != nil &&
		r.Fulfillment != nil &&
		r.Approval == nil &&
		!r.State.Terminal()
}

// Cache is the bounded, concurrency-safe event store
type Cache struct {
	mu      sync.RWMutex
	records map[types.IntentID]*Record

	// arrival holds per-chain FIFO queues for bounded retention
	arrival map[uint32][]types.IntentID

	capacityPerChain int

	// updates receives the intent id of every record that changed shape;
	// the channel is bounded and sends never block. A dropped signal only
	// delays validation: the state lives in the records.
	updates chan types.IntentID
}

// New creates a cache with the given per-chain retention bound
func New(capacityPerChain int) *Cache {
	if capacityPerChain <= 0 {
		capacityPerChain = 10000
	}
	return &Cache{
		records:          make(map[types.IntentID]*Record),
		arrival:          make(map[uint32][]types.IntentID),
		capacityPerChain: capacityPerChain,
		updates:          make(chan types.IntentID, 1024),
	}
}

// Updates exposes the change notification channel consumed by the
// correlator
func (c *Cache) Updates() <-chan types.IntentID {
	return c.updates
}

// PutIntent stores an intent event. Returns true when the record
// changed; a bit-identical redelivery is a no-op returning false.
func (c *Cache) PutIntent(ev *types.IntentEvent) (bool, error) {
	c.mu.Lock()
	rec := c.obtain(ev.IntentID, ev.ChainID)

	if rec.Intent != nil {
		identical := types.EqualIntentEvent(rec.Intent, ev)
		c.mu.Unlock()
		if identical {
			metrics.DuplicateEvents.WithLabelValues(chainLabel(ev.ChainID), "intent").Inc()
			return false, nil
		}
		metrics.ConflictingEvents.WithLabelValues(chainLabel(ev.ChainID), "intent").Inc()
		return false, fmt.Errorf("%w: intent %s", ErrConflict, ev.IntentID.Display())
	}

	rec.Intent = ev
	c.advance(rec)
	c.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(chainLabel(ev.ChainID), "intent").Inc()
	c.notify(ev.IntentID)
	return true, nil
}

// PutEscrow stores an escrow event under the same CAS discipline
func (c *Cache) PutEscrow(ev *types.EscrowEvent) (bool, error) {
	c.mu.Lock()
	rec := c.obtain(ev.IntentID, ev.ChainID)

	if rec.Escrow != nil {
		identical := types.EqualEscrowEvent(rec.Escrow, ev)
		c.mu.Unlock()
		if identical {
			metrics.DuplicateEvents.WithLabelValues(chainLabel(ev.ChainID), "escrow").Inc()
			return false, nil
		}
		metrics.ConflictingEvents.WithLabelValues(chainLabel(ev.ChainID), "escrow").Inc()
		return false, fmt.Errorf("%w: escrow %s", ErrConflict, ev.IntentID.Display())
	}

	rec.Escrow = ev
	c.advance(rec)
	c.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(chainLabel(ev.ChainID), "escrow").Inc()
	c.notify(ev.IntentID)
	return true, nil
}

// PutFulfillment stores a fulfillment event under the same CAS
// discipline. The chain id attributes retention only.
func (c *Cache) PutFulfillment(chainID uint32, ev *types.FulfillmentEvent) (bool, error) {
	c.mu.Lock()
	rec := c.obtain(ev.IntentID, chainID)

	if rec.Fulfillment != nil {
		identical := types.EqualFulfillmentEvent(rec.Fulfillment, ev)
		c.mu.Unlock()
		if identical {
			metrics.DuplicateEvents.WithLabelValues(chainLabel(chainID), "fulfillment").Inc()
			return false, nil
		}
		metrics.ConflictingEvents.WithLabelValues(chainLabel(chainID), "fulfillment").Inc()
		return false, fmt.Errorf("%w: fulfillment %s", ErrConflict, ev.IntentID.Display())
	}

	rec.Fulfillment = ev
	c.advance(rec)
	c.mu.Unlock()

	metrics.EventsIngested.WithLabelValues(chainLabel(chainID), "fulfillment").Inc()
	c.notify(ev.IntentID)
	return true, nil
}

// SetApproval records a signed approval and moves the record to its
// Approved terminal state. Idempotent for the identical approval.
func (c *Cache) SetApproval(id types.IntentID, approval *types.ApprovalSignature) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return fmt.Errorf("no record for intent %s", id.Display())
	}
	if rec.Approval != nil {
		return nil
	}
	if rec.State.Terminal() {
		return fmt.Errorf("record for %s is terminal (%s)", id.Display(), rec.State)
	}

	rec.Approval = approval
	rec.State = StateApproved
	metrics.ApprovalsSigned.WithLabelValues(string(approval.Scheme)).Inc()
	return nil
}

// MarkRejected permanently marks the record unapprovable with a reason
func (c *Cache) MarkRejected(id types.IntentID, reason string) {
	c.markTerminal(id, StateRejected, reason)
}

// MarkExpired permanently marks the record expired
func (c *Cache) MarkExpired(id types.IntentID, reason string) {
	c.markTerminal(id, StateExpired, reason)
}

func (c *Cache) markTerminal(id types.IntentID, state State, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok || rec.State.Terminal() {
		return
	}
	rec.State = state
	rec.Reason = reason
}

// Get returns a snapshot copy of the record, or nil when unknown
func (c *Cache) Get(id types.IntentID) *Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil
	}
	return snapshot(rec)
}

// Approval returns the cached approval for the intent id, or nil
func (c *Cache) Approval(id types.IntentID) *types.ApprovalSignature {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil
	}
	return rec.Approval
}

// Snapshot returns copies of every cached record. Guards are not held
// across the HTTP serialization boundary.
func (c *Cache) Snapshot() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, snapshot(rec))
	}
	return out
}

// Approvals returns every cached approval signature
func (c *Cache) Approvals() []*types.ApprovalSignature {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*types.ApprovalSignature
	for _, rec := range c.records {
		if rec.Approval != nil {
			out = append(out, rec.Approval)
		}
	}
	return out
}

// Len returns the live record count
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// obtain returns the record for the id, creating and enqueueing it for
// retention on first observation. Caller holds c.mu.
func (c *Cache) obtain(id types.IntentID, chainID uint32) *Record {
	rec, ok := c.records[id]
	if ok {
		return rec
	}

	rec = &Record{
		IntentID:      id,
		State:         StateEmpty,
		firstObserved: time.Now().UTC(),
		ownerChain:    chainID,
	}
	c.records[id] = rec
	c.arrival[chainID] = append(c.arrival[chainID], id)
	metrics.CacheRecords.Set(float64(len(c.records)))

	c.evictLocked(chainID)
	return rec
}

// evictLocked enforces the per-chain FIFO bound, removing the oldest
// record atomically including any unused approval. Caller holds c.mu.
func (c *Cache) evictLocked(chainID uint32) {
	queue := c.arrival[chainID]
	for len(queue) > c.capacityPerChain {
		victim := queue[0]
		queue = queue[1:]
		if _, ok := c.records[victim]; ok {
			delete(c.records, victim)
			metrics.CacheEvictions.Inc()
		}
	}
	c.arrival[chainID] = queue
	metrics.CacheRecords.Set(float64(len(c.records)))
}

// advance recomputes the non-terminal state after a sub-field write.
// Caller holds c.mu.
func (c *Cache) advance(rec *Record) {
	if rec.State.Terminal() {
		return
	}
	if rec.InflowEligible() {
		rec.State = StateValidationEligible
		return
	}
	if rec.Intent != nil || rec.Escrow != nil || rec.Fulfillment != nil {
		if rec.State < StatePartiallyObserved {
			rec.State = StatePartiallyObserved
		}
	}
}

// notify signals the correlator without ever blocking an adapter
func (c *Cache) notify(id types.IntentID) {
	select {
	case c.updates <- id:
	default:
	}
}

func snapshot(rec *Record) *Record {
	cp := *rec
	cp.StateName = rec.State.String()
	return &cp
}

func chainLabel(chainID uint32) string {
	return fmt.Sprintf("%d", chainID)
}
