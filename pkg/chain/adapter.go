// Copyright 2025 Int3nts Protocol
//
// Chain Adapter Interface - Multi-Chain Event Ingestion
// Supports Move, EVM, and Solana families
//
// The three families expose one capability set over completely disjoint
// wire formats. Each adapter owns its RPC client, decoders, and polling
// cursor; a dispatch layer picks the right one by chain type. Polling is
// at-least-once: redelivered events are deduped downstream by the cache.

package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/int3nts/trusted-verifier/pkg/types"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

var (
	// ErrUnavailable marks transient transport failures. Pollers back
	// off and retry; the outflow path surfaces it as retryable.
	ErrUnavailable = errors.New("chain unavailable")

	// ErrTransactionNotFound marks an unknown transaction hash
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrMalformedTransaction marks a transaction that decoded but does
	// not match the expected transfer envelope. Not retryable.
	ErrMalformedTransaction = errors.New("malformed transaction")

	// ErrSolverNotRegistered marks a missing solver registry entry
	ErrSolverNotRegistered = errors.New("solver not registered")

	// ErrUnsupported marks a capability the chain family does not carry
	// (the solver registry lives on the hub only)
	ErrUnsupported = errors.New("operation not supported on this chain")
)

// =============================================================================
// PARSED OUTFLOW TRANSFER
// =============================================================================

// Transfer is the family-normalized parse of an outflow fulfillment
// transaction, per the per-family envelope rules
type Transfer struct {
	// Sender is the transaction signer in 32-byte normal form
	Sender types.Address

	// Recipient is the funds destination in 32-byte normal form
	Recipient types.Address

	// TokenAddr is the transferred asset in 32-byte normal form
	TokenAddr types.Address

	// Amount is the transferred amount widened to u128
	Amount *big.Int

	// IntentID is the id carried in calldata, memo, or arguments;
	// nil when the envelope omits it
	IntentID *types.IntentID

	// Confirmed reports chain-level finality: EVM receipt status 1,
	// Solana confirmed without error, Move success == true
	Confirmed bool
}

// =============================================================================
// SOLVER REGISTRY
// =============================================================================

// RegistryEntry is a solver's registered settlement identities keyed by
// its hub address
type RegistryEntry struct {
	HubAddr     types.Address `json:"hub_addr"`
	EVMAddr     types.Address `json:"evm_addr,omitempty"`
	SolanaAddr  types.Address `json:"solana_addr,omitempty"`
	Ed25519PK   []byte        `json:"ed25519_pk,omitempty"`
	HasEVM      bool          `json:"has_evm"`
	HasSolana   bool          `json:"has_solana"`
}

// =============================================================================
// ADAPTER INTERFACE
// =============================================================================

// Adapter is the per-chain capability set. Implementations are safe for
// concurrent use; each maintains its own polling cursor in memory.
type Adapter interface {
	// Family returns the chain family identifier
	Family() types.ChainFamily

	// ChainID returns the configured numeric chain id
	ChainID() uint32

	// Descriptor returns the immutable chain configuration
	Descriptor() *types.ChainDescriptor

	// PollIntentEvents advances the intent cursor and returns newly
	// observed intent events. The Move adapter reads at most max_batch
	// transactions per watched account per call; the number of events
	// returned is not capped.
	PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error)

	// PollEscrowEvents advances the escrow cursor and returns newly
	// observed escrow events
	PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error)

	// PollFulfillmentEvents advances the fulfillment cursor and returns
	// newly observed fulfillment events
	PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error)

	// FetchTransfer retrieves a transaction by hash and parses it into
	// the family's outflow transfer envelope
	FetchTransfer(ctx context.Context, txHash string) (*Transfer, error)

	// LookupSolverRegistryEntry resolves a solver's registered
	// settlement identities. Only the hub adapter supports this.
	LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*RegistryEntry, error)

	// HealthCheck verifies connectivity to the chain
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// DISPATCH
// =============================================================================

// Set holds the configured adapters and dispatches by chain type
type Set struct {
	adapters map[types.ChainFamily]Adapter
	hub      Adapter
}

// NewSet builds a dispatch set. The hub adapter also serves registry
// lookups for every family.
func NewSet(hub Adapter, connected []Adapter) *Set {
	s := &Set{
		adapters: make(map[types.ChainFamily]Adapter),
		hub:      hub,
	}
	s.adapters[hub.Family()] = hub
	for _, a := range connected {
		s.adapters[a.Family()] = a
	}
	return s
}

// Hub returns the hub chain adapter
func (s *Set) Hub() Adapter {
	return s.hub
}

// ByFamily returns the adapter for a chain family, if configured
func (s *Set) ByFamily(family types.ChainFamily) (Adapter, bool) {
	a, ok := s.adapters[family]
	return a, ok
}

// All returns every configured adapter
func (s *Set) All() []Adapter {
	out := make([]Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, a)
	}
	return out
}
