// Copyright 2025 Int3nts Protocol
//
// Cross-Chain Validation
// Two paths over one predicate library: the inflow path fires
// automatically when a record correlates an intent, its escrow, and its
// fulfillment; the outflow path runs synchronously under an HTTP
// request, fetching the claimed fulfillment transaction by hash.
// Predicates are commutative over arrival order; terminal decisions
// never reopen.

package verifier

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/chain"
	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/signer"
	"github.com/int3nts/trusted-verifier/pkg/solver"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// Validator applies the inflow and outflow safety predicates and signs
// approvals for intents that pass
type Validator struct {
	cache    *cache.Cache
	adapters *chain.Set
	registry *solver.Registry
	signer   *signer.Signer
	logger   *log.Logger

	// waitForIntent bounds the outflow path's wait for the hub poller to
	// discover an intent it has not yet cached
	waitForIntent time.Duration

	// now is injected for deterministic expiry tests
	now func() time.Time
}

// Config holds validator construction parameters
type Config struct {
	Cache         *cache.Cache
	Adapters      *chain.Set
	Registry      *solver.Registry
	Signer        *signer.Signer
	WaitForIntent time.Duration
	Logger        *log.Logger
	Now           func() time.Time
}

// New creates a validator
func New(cfg *Config) *Validator {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[VALIDATOR] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	wait := cfg.WaitForIntent
	if wait <= 0 {
		wait = 15 * time.Second
	}
	return &Validator{
		cache:         cfg.Cache,
		adapters:      cfg.Adapters,
		registry:      cfg.Registry,
		signer:        cfg.Signer,
		logger:        logger,
		waitForIntent: wait,
		now:           now,
	}
}

// =============================================================================
// SHARED PREDICATES
// =============================================================================

// safe requires the revocation flag cleared on both sides
func safe(revocable bool) bool {
	return !revocable
}

// notExpired treats expiry exactly at now as expired: strict >
func notExpired(expiryUnixS uint64, now time.Time) bool {
	return expiryUnixS > uint64(now.Unix())
}

// linkedInflow ties an escrow to its intent: same id, and the escrow
// lives on the chain the intent offered from
func linkedInflow(intent *types.IntentEvent, escrow *types.EscrowEvent) bool {
	return intent.IntentID == escrow.IntentID && escrow.ChainID == intent.OfferedChainID
}

// amountSufficient compares the observed side with >=
func amountSufficient(expected, observed *big.Int) bool {
	if expected == nil || observed == nil {
		return false
	}
	return observed.Cmp(expected) >= 0
}

// solverMatches compares the counterparty-side solver identity under
// the family's mapping: Move addresses compare directly; EVM and Solana
// identities resolve through the hub solver registry
func (v *Validator) solverMatches(ctx context.Context, hubSolver, observed types.Address, family types.ChainFamily) *ValidationError {
	if family == types.FamilyMove {
		if hubSolver != observed {
			return failf(ReasonSolverMismatch, "hub solver %s, observed %s", hubSolver.Hex(), observed.Hex())
		}
		return nil
	}

	entry, err := v.registry.Lookup(ctx, hubSolver)
	if err != nil {
		if errors.Is(err, chain.ErrSolverNotRegistered) {
			return failf(ReasonSolverNotRegistered, "solver %s", hubSolver.Hex())
		}
		return failf(ReasonChainUnavailable, "registry lookup: %v", err)
	}

	switch family {
	case types.FamilyEVM:
		if !entry.HasEVM {
			return failf(ReasonSolverNotRegistered, "solver %s has no EVM identity", hubSolver.Hex())
		}
		if entry.EVMAddr != observed {
			return failf(ReasonSolverMismatch, "registered %s, observed %s", entry.EVMAddr.Hex(), observed.Hex())
		}
	case types.FamilySolana:
		if !entry.HasSolana {
			return failf(ReasonSolverNotRegistered, "solver %s has no Solana identity", hubSolver.Hex())
		}
		if entry.SolanaAddr != observed {
			return failf(ReasonSolverMismatch, "registered %s, observed %s", entry.SolanaAddr.Hex(), observed.Hex())
		}
	default:
		return failf(ReasonUnknownChainType, "%s", family)
	}
	return nil
}

// =============================================================================
// INFLOW PATH (AUTOMATIC)
// =============================================================================

// ValidateInflow runs the automatic inflow decision for a record in the
// validation-eligible shape. Failures permanently mark the record; a
// pass signs and stores the approval.
func (v *Validator) ValidateInflow(ctx context.Context, id types.IntentID) {
	rec := v.cache.Get(id)
	if rec == nil || !rec.InflowEligible() {
		return
	}

	if verr := v.checkInflow(ctx, rec); verr != nil {
		if verr.Reason == ReasonChainUnavailable {
			// Transport trouble is not a decision; the next trigger retries
			v.logger.Printf("inflow %s deferred: %v", id.Display(), verr)
			return
		}
		if verr.Reason == ReasonExpired {
			v.cache.MarkExpired(id, string(verr.Reason))
		} else {
			v.cache.MarkRejected(id, string(verr.Reason))
		}
		metrics.ValidationResults.WithLabelValues("inflow", string(verr.Reason)).Inc()
		v.logger.Printf("inflow %s rejected: %v", id.Display(), verr)
		return
	}

	scheme := signer.SchemeForFamily(rec.Escrow.ChainFamily)
	approval, err := v.signer.SignApproval(id, scheme)
	if err != nil {
		// Signing can only fail on corrupt key material
		v.logger.Fatalf("FATAL: signing approval for %s: %v", id.Display(), err)
	}
	if err := v.cache.SetApproval(id, approval); err != nil {
		v.logger.Printf("inflow %s approval not stored: %v", id.Display(), err)
		return
	}
	metrics.ValidationResults.WithLabelValues("inflow", "approved").Inc()
	v.logger.Printf("inflow %s approved (%s)", id.Display(), scheme)
}

// checkInflow applies the inflow predicate sequence
func (v *Validator) checkInflow(ctx context.Context, rec *cache.Record) *ValidationError {
	intent, escrow, fulfillment := rec.Intent, rec.Escrow, rec.Fulfillment

	// 1. Safety flags on both sides
	if !safe(intent.Revocable) {
		return failf(ReasonRevocable, "intent is revocable")
	}
	if !safe(escrow.Revocable) {
		return failf(ReasonRevocable, "escrow is revocable")
	}

	// 2. Linkage, token identity, exact escrow amount
	if !linkedInflow(intent, escrow) {
		return failf(ReasonLinkMismatch, "escrow chain %d, intent offered chain %d", escrow.ChainID, intent.OfferedChainID)
	}
	if escrow.TokenAddr != intent.OfferedMetadata {
		return failf(ReasonTokenMismatch, "escrow token %s, intent offered %s", escrow.TokenAddr.Hex(), intent.OfferedMetadata.Hex())
	}
	if intent.OfferedAmount == nil || escrow.Amount == nil || escrow.Amount.Cmp(intent.OfferedAmount) != 0 {
		return failf(ReasonAmountInsufficient, "escrow amount %v, intent offered %v", escrow.Amount, intent.OfferedAmount)
	}

	// 3. Escrow still live
	if !notExpired(escrow.ExpiryUnixS, v.now()) {
		return failf(ReasonExpired, "escrow expired at %d", escrow.ExpiryUnixS)
	}

	// 4. Fulfillment by the reserved solver, covering the desired side
	if fulfillment.Solver != intent.SolverHubAddr {
		return failf(ReasonSolverMismatch, "fulfillment solver %s, intent solver %s", fulfillment.Solver.Hex(), intent.SolverHubAddr.Hex())
	}
	if !amountSufficient(intent.DesiredAmount, fulfillment.ProvidedAmount) {
		return failf(ReasonAmountInsufficient, "provided %v, desired %v", fulfillment.ProvidedAmount, intent.DesiredAmount)
	}
	if fulfillment.ProvidedMetadata != intent.DesiredMetadata {
		return failf(ReasonTokenMismatch, "provided %s, desired %s", fulfillment.ProvidedMetadata.Hex(), intent.DesiredMetadata.Hex())
	}

	// 5. Escrow reserved for the same solver under the family mapping
	if verr := v.solverMatches(ctx, intent.SolverHubAddr, escrow.ReservedSolver, escrow.ChainFamily); verr != nil {
		return verr
	}

	return nil
}

// =============================================================================
// OUTFLOW PATH (ON-DEMAND)
// =============================================================================

// OutflowRequest is the on-demand validation input
type OutflowRequest struct {
	IntentID  types.IntentID
	ChainType types.ChainFamily
	TxHash    string
}

// OutflowResult is the on-demand validation outcome
type OutflowResult struct {
	Valid    bool
	Reason   Reason
	Detail   string
	Approval *types.ApprovalSignature
}

// ValidateOutflow fetches the claimed fulfillment transaction, applies
// the outflow predicates, and on success signs an approval with the
// scheme of the request's chain family.
// Identical inputs return identical (valid, reason, signature) tuples.
func (v *Validator) ValidateOutflow(ctx context.Context, req *OutflowRequest) *OutflowResult {
	intent, verr := v.awaitIntent(ctx, req.IntentID)
	if verr != nil {
		return outflowFail(verr)
	}

	if intent.Flow != types.FlowOutflow {
		return outflowFail(failf(ReasonFlowMismatch, "intent %s is %s", req.IntentID.Display(), intent.Flow))
	}

	// Idempotence: an already-approved record returns its signature
	if existing := v.cache.Approval(req.IntentID); existing != nil {
		return &OutflowResult{Valid: true, Approval: existing}
	}

	if !safe(intent.Revocable) {
		v.cache.MarkRejected(req.IntentID, string(ReasonRevocable))
		return outflowFail(failf(ReasonRevocable, "intent is revocable"))
	}
	if !notExpired(intent.ExpiryUnixS, v.now()) {
		v.cache.MarkExpired(req.IntentID, string(ReasonExpired))
		return outflowFail(failf(ReasonExpired, "intent expired at %d", intent.ExpiryUnixS))
	}

	adapter, ok := v.adapters.ByFamily(req.ChainType)
	if !ok {
		return outflowFail(failf(ReasonUnknownChainType, "%s not configured", req.ChainType))
	}

	transfer, err := adapter.FetchTransfer(ctx, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrTransactionNotFound):
			return outflowFail(failf(ReasonTransactionUnknown, "%s", req.TxHash))
		case errors.Is(err, chain.ErrMalformedTransaction):
			return outflowFail(failf(ReasonMalformedTransaction, "%v", err))
		default:
			return outflowFail(failf(ReasonChainUnavailable, "%v", err))
		}
	}

	if verr := v.checkOutflow(ctx, intent, transfer, req.ChainType); verr != nil {
		metrics.ValidationResults.WithLabelValues("outflow", string(verr.Reason)).Inc()
		return outflowFail(verr)
	}

	// Scheme follows the settlement family of the connected chain, the
	// same rule the inflow path applies to its escrow
	approval, err := v.signer.SignApproval(req.IntentID, signer.SchemeForFamily(req.ChainType))
	if err != nil {
		v.logger.Fatalf("FATAL: signing approval for %s: %v", req.IntentID.Display(), err)
	}
	if err := v.cache.SetApproval(req.IntentID, approval); err != nil {
		// A racing validation signed first; both signatures are identical
		if existing := v.cache.Approval(req.IntentID); existing != nil {
			approval = existing
		}
	}
	metrics.ValidationResults.WithLabelValues("outflow", "approved").Inc()
	v.logger.Printf("outflow %s approved via %s tx %s", req.IntentID.Display(), req.ChainType, req.TxHash)

	return &OutflowResult{Valid: true, Approval: approval}
}

// checkOutflow applies the outflow predicate sequence to the parsed
// transfer
func (v *Validator) checkOutflow(ctx context.Context, intent *types.IntentEvent, transfer *chain.Transfer, family types.ChainFamily) *ValidationError {
	// Calldata linkage comes first: without the id the transfer proves
	// nothing
	if transfer.IntentID == nil {
		return failf(ReasonIntentIDMissing, "transfer carries no intent id")
	}
	if *transfer.IntentID != intent.IntentID {
		return failf(ReasonLinkMismatch, "calldata id %s, intent %s", transfer.IntentID.Display(), intent.IntentID.Display())
	}

	if transfer.Recipient != intent.RequesterConnected {
		return failf(ReasonRecipientMismatch, "recipient %s, requester %s", transfer.Recipient.Hex(), intent.RequesterConnected.Hex())
	}
	if transfer.TokenAddr != intent.DesiredMetadata {
		return failf(ReasonTokenMismatch, "token %s, desired %s", transfer.TokenAddr.Hex(), intent.DesiredMetadata.Hex())
	}
	if !amountSufficient(intent.DesiredAmount, transfer.Amount) {
		return failf(ReasonAmountInsufficient, "transferred %v, desired %v", transfer.Amount, intent.DesiredAmount)
	}

	if verr := v.solverMatches(ctx, intent.SolverHubAddr, transfer.Sender, family); verr != nil {
		return verr
	}

	if !transfer.Confirmed {
		return failf(ReasonTransactionNotConfirmed, "transaction not finalized")
	}

	return nil
}

// awaitIntent retrieves the intent, waiting a bounded window for the
// hub poller when the id is not cached yet
func (v *Validator) awaitIntent(ctx context.Context, id types.IntentID) (*types.IntentEvent, *ValidationError) {
	deadline := time.NewTimer(v.waitForIntent)
	defer deadline.Stop()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()

	for {
		if rec := v.cache.Get(id); rec != nil && rec.Intent != nil {
			return rec.Intent, nil
		}
		select {
		case <-ctx.Done():
			return nil, failf(ReasonIntentUnknown, "%s", id.Display())
		case <-deadline.C:
			return nil, failf(ReasonIntentUnknown, "%s", id.Display())
		case <-tick.C:
		}
	}
}

func outflowFail(verr *ValidationError) *OutflowResult {
	return &OutflowResult{Valid: false, Reason: verr.Reason, Detail: verr.Detail}
}
