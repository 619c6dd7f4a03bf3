// Copyright 2025 Int3nts Protocol
//
// Solana Chain Adapter
// Discovers escrows by walking the escrow program's signature history
// and reconstructing escrow state from the PDA account derived from
// [ESCROW_SEED, intent_id]. The cursor is the most recent processed
// transaction signature; the adapter pages backwards from the latest
// signature until it reaches the known one, then processes forward.

package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// escrowSeed prefixes every escrow PDA derivation
var escrowSeed = []byte("escrow")

// splTransferCheckedTag is the SPL token program instruction tag for
// transferChecked
const splTransferCheckedTag = 12

// memoIntentPrefix introduces the intent id in the memo body
const memoIntentPrefix = "intent_id=0x"

// escrowAccountSize is the packed escrow state layout:
// intent_id[32] token_mint[32] requester[32] reserved_solver[32]
// verifier_pubkey[32] amount[8] expiry[8] revocable[1] bump[1]
const escrowAccountSize = 32*5 + 8 + 8 + 1 + 1

// SolanaAdapterConfig holds construction parameters for the Solana
// adapter
type SolanaAdapterConfig struct {
	Descriptor     *types.ChainDescriptor
	MaxBatch       int
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// SolanaAdapter implements Adapter for Solana chains
type SolanaAdapter struct {
	desc     *types.ChainDescriptor
	client   *rpc.Client
	program  solana.PublicKey
	maxBatch int
	timeout  time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	lastSig solana.Signature
	// seenEscrows dedupes PDA discovery within the adapter; the cache
	// dedupes across the process
	seenEscrows map[solana.PublicKey]bool
}

// NewSolanaAdapter creates a Solana chain adapter
func NewSolanaAdapter(cfg *SolanaAdapterConfig) (*SolanaAdapter, error) {
	if cfg == nil || cfg.Descriptor == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if cfg.Descriptor.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	program, err := solana.PublicKeyFromBase58(cfg.Descriptor.EscrowProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow program id: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[SOLANA-ADAPTER] ", log.LstdFlags)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SolanaAdapter{
		desc:        cfg.Descriptor,
		client:      rpc.New(cfg.Descriptor.RPCEndpoint),
		program:     program,
		maxBatch:    maxBatch,
		timeout:     timeout,
		logger:      logger,
		seenEscrows: make(map[solana.PublicKey]bool),
	}, nil
}

// Family returns the chain family identifier
func (a *SolanaAdapter) Family() types.ChainFamily {
	return types.FamilySolana
}

// ChainID returns the configured numeric chain id
func (a *SolanaAdapter) ChainID() uint32 {
	return a.desc.ID
}

// Descriptor returns the immutable chain configuration
func (a *SolanaAdapter) Descriptor() *types.ChainDescriptor {
	return a.desc
}

// PollIntentEvents returns no events: intents are created on the hub
func (a *SolanaAdapter) PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error) {
	return nil, nil
}

// PollFulfillmentEvents returns no events: outflow fulfillments on
// Solana are validated on demand by transaction signature
func (a *SolanaAdapter) PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error) {
	return nil, nil
}

// PollEscrowEvents walks new escrow program transactions and
// reconstructs escrow events from the PDA account state
func (a *SolanaAdapter) PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.Lock()
	until := a.lastSig
	a.mu.Unlock()

	limit := a.maxBatch
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}
	if !until.IsZero() {
		opts.Until = until
	}

	var sigs []*rpc.TransactionSignature
	for {
		page, err := a.client.GetSignaturesForAddressWithOpts(callCtx, a.program, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: get signatures: %v", ErrUnavailable, err)
		}
		sigs = append(sigs, page...)
		// Keep paging backwards until the known signature is reached; the
		// first poll reads only the latest page
		if until.IsZero() || len(page) < limit {
			break
		}
		opts.Before = page[len(page)-1].Signature
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	var out []*types.EscrowEvent
	// Signatures arrive newest-first; process forward in chain order
	for i := len(sigs) - 1; i >= 0; i-- {
		entry := sigs[i]
		if entry.Err != nil {
			continue
		}
		events, err := a.scanTransaction(callCtx, entry.Signature)
		if err != nil {
			a.logger.Printf("skipping escrow scan of %s: %v", entry.Signature, err)
			continue
		}
		out = append(out, events...)
	}

	a.mu.Lock()
	a.lastSig = sigs[0].Signature
	a.mu.Unlock()

	return out, nil
}

// scanTransaction inspects a program transaction for escrow PDAs and
// reconstructs their events on first discovery
func (a *SolanaAdapter) scanTransaction(ctx context.Context, sig solana.Signature) ([]*types.EscrowEvent, error) {
	maxVersion := uint64(0)
	result, err := a.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get transaction: %v", ErrUnavailable, err)
	}
	if result == nil || result.Meta == nil || result.Meta.Err != nil {
		return nil, nil
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	var out []*types.EscrowEvent
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(a.program) {
			continue
		}
		if len(inst.Accounts) == 0 {
			continue
		}
		// By convention the escrow PDA is the instruction's first account
		idx := inst.Accounts[0]
		if int(idx) >= len(tx.Message.AccountKeys) {
			continue
		}
		pda := tx.Message.AccountKeys[idx]

		a.mu.Lock()
		seen := a.seenEscrows[pda]
		a.seenEscrows[pda] = true
		a.mu.Unlock()
		if seen {
			continue
		}

		ev, err := a.fetchEscrowState(ctx, pda)
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(a.chainLabel(), "escrow").Inc()
			a.logger.Printf("skipping account %s: %v", pda, err)
			continue
		}
		if ev != nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// fetchEscrowState loads and decodes the escrow PDA account, verifying
// the [ESCROW_SEED, intent_id] derivation
func (a *SolanaAdapter) fetchEscrowState(ctx context.Context, pda solana.PublicKey) (*types.EscrowEvent, error) {
	info, err := a.client.GetAccountInfoWithOpts(ctx, pda, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get account info: %v", ErrUnavailable, err)
	}
	if info == nil || info.Value == nil {
		return nil, nil
	}
	if !info.Value.Owner.Equals(a.program) {
		return nil, nil
	}

	data := info.Value.Data.GetBinary()
	ev, intentID, err := decodeEscrowAccount(data)
	if err != nil {
		return nil, err
	}

	// The PDA must derive from the escrow seed and the stored intent id
	expected, _, err := solana.FindProgramAddress([][]byte{escrowSeed, intentID.Bytes()}, a.program)
	if err != nil {
		return nil, fmt.Errorf("derive pda: %w", err)
	}
	if !expected.Equals(pda) {
		return nil, fmt.Errorf("account %s is not the escrow pda for %s", pda, intentID.Display())
	}

	ev.ChainID = a.desc.ID
	ev.ObservedAt = time.Now().UTC()
	return ev, nil
}

// decodeEscrowAccount unpacks the escrow state layout
func decodeEscrowAccount(data []byte) (*types.EscrowEvent, types.IntentID, error) {
	var id types.IntentID
	if len(data) < escrowAccountSize {
		return nil, id, fmt.Errorf("escrow account data is %d bytes, want %d", len(data), escrowAccountSize)
	}

	copy(id[:], data[0:32])
	token, _ := types.AddressFromBytes(data[32:64])
	requester, _ := types.AddressFromBytes(data[64:96])
	solver, _ := types.AddressFromBytes(data[96:128])
	verifierPK := make([]byte, 32)
	copy(verifierPK, data[128:160])
	amount := binary.LittleEndian.Uint64(data[160:168])
	expiry := binary.LittleEndian.Uint64(data[168:176])
	revocable := data[176] != 0

	return &types.EscrowEvent{
		IntentID:          id,
		ChainFamily:       types.FamilySolana,
		TokenAddr:         token,
		Amount:            types.U128FromUint64(amount),
		Requester:         requester,
		ReservedSolver:    solver,
		VerifierPublicKey: verifierPK,
		ExpiryUnixS:       expiry,
		Revocable:         revocable,
	}, id, nil
}

// FetchTransfer retrieves a transaction by signature and requires it to
// contain exactly one SPL transferChecked instruction. The intent id is
// read from a memo whose body carries it; without such a memo the
// returned IntentID is nil.
func (a *SolanaAdapter) FetchTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature: %v", ErrMalformedTransaction, err)
	}

	maxVersion := uint64(0)
	result, err := a.client.GetTransaction(callCtx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
		}
		return nil, fmt.Errorf("%w: get transaction: %v", ErrUnavailable, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
	}
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrMalformedTransaction, err)
	}

	transfer, err := ParseSPLTransfer(tx)
	if err != nil {
		return nil, err
	}

	// The recipient token account's owner is the payout destination
	if destAccount, ok := transferDestination(tx); ok {
		owner, mint, err := a.fetchTokenAccount(callCtx, destAccount)
		if err != nil {
			return nil, err
		}
		transfer.Recipient = owner
		transfer.TokenAddr = mint
	}

	transfer.Confirmed = result.Meta != nil && result.Meta.Err == nil
	return transfer, nil
}

// ParseSPLTransfer parses the transferChecked + memo envelope out of a
// decoded transaction. The recipient and token fields are resolved by
// the caller from the destination token account.
func ParseSPLTransfer(tx *solana.Transaction) (*Transfer, error) {
	var (
		transferCount int
		transfer      *Transfer
		intentID      *types.IntentID
	)

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return nil, fmt.Errorf("%w: program index out of range", ErrMalformedTransaction)
		}
		program := tx.Message.AccountKeys[inst.ProgramIDIndex]

		switch {
		case program.Equals(solana.TokenProgramID):
			data := []byte(inst.Data)
			if len(data) == 0 || data[0] != splTransferCheckedTag {
				continue
			}
			transferCount++
			if transferCount > 1 {
				return nil, fmt.Errorf("%w: multiple transferChecked instructions", ErrMalformedTransaction)
			}
			if len(data) < 10 {
				return nil, fmt.Errorf("%w: short transferChecked data", ErrMalformedTransaction)
			}
			amount := binary.LittleEndian.Uint64(data[1:9])

			// transferChecked accounts: source, mint, destination, owner
			if len(inst.Accounts) < 4 {
				return nil, fmt.Errorf("%w: transferChecked needs 4 accounts", ErrMalformedTransaction)
			}
			ownerIdx := inst.Accounts[3]
			if int(ownerIdx) >= len(tx.Message.AccountKeys) {
				return nil, fmt.Errorf("%w: owner index out of range", ErrMalformedTransaction)
			}
			sender, _ := types.AddressFromBytes(tx.Message.AccountKeys[ownerIdx].Bytes())

			transfer = &Transfer{
				Sender: sender,
				Amount: types.U128FromUint64(amount),
			}

		case program.Equals(solana.MemoProgramID):
			body := string(inst.Data)
			if !strings.HasPrefix(body, memoIntentPrefix) {
				continue
			}
			hexPart := strings.TrimPrefix(body, memoIntentPrefix)
			if len(hexPart) != 64 {
				return nil, fmt.Errorf("%w: memo intent id must be 64 hex chars", ErrMalformedTransaction)
			}
			raw, err := hex.DecodeString(strings.ToLower(hexPart))
			if err != nil {
				return nil, fmt.Errorf("%w: memo intent id: %v", ErrMalformedTransaction, err)
			}
			id, err := types.IntentIDFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: memo intent id: %v", ErrMalformedTransaction, err)
			}
			intentID = &id
		}
	}

	if transferCount != 1 || transfer == nil {
		return nil, fmt.Errorf("%w: expected exactly one transferChecked instruction", ErrMalformedTransaction)
	}
	transfer.IntentID = intentID
	return transfer, nil
}

// transferDestination extracts the destination token account of the
// single transferChecked instruction
func transferDestination(tx *solana.Transaction) (solana.PublicKey, bool) {
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(solana.TokenProgramID) {
			continue
		}
		data := []byte(inst.Data)
		if len(data) == 0 || data[0] != splTransferCheckedTag {
			continue
		}
		if len(inst.Accounts) < 4 {
			continue
		}
		destIdx := inst.Accounts[2]
		if int(destIdx) >= len(tx.Message.AccountKeys) {
			continue
		}
		return tx.Message.AccountKeys[destIdx], true
	}
	return solana.PublicKey{}, false
}

// fetchTokenAccount resolves an SPL token account to its owner wallet
// and mint
func (a *SolanaAdapter) fetchTokenAccount(ctx context.Context, account solana.PublicKey) (owner, mint types.Address, err error) {
	info, err := a.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return owner, mint, fmt.Errorf("%w: get token account: %v", ErrUnavailable, err)
	}
	if info == nil || info.Value == nil {
		return owner, mint, fmt.Errorf("%w: token account missing", ErrMalformedTransaction)
	}

	// SPL token account layout: mint[0:32] owner[32:64] amount[64:72] …
	data := info.Value.Data.GetBinary()
	if len(data) < 72 {
		return owner, mint, fmt.Errorf("%w: token account data is %d bytes", ErrMalformedTransaction, len(data))
	}
	mint, _ = types.AddressFromBytes(data[0:32])
	owner, _ = types.AddressFromBytes(data[32:64])
	return owner, mint, nil
}

// LookupSolverRegistryEntry is unsupported: the registry lives on the hub
func (a *SolanaAdapter) LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*RegistryEntry, error) {
	return nil, ErrUnsupported
}

// HealthCheck verifies connectivity to the cluster
func (a *SolanaAdapter) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.client.GetSlot(callCtx, rpc.CommitmentConfirmed); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (a *SolanaAdapter) chainLabel() string {
	return fmt.Sprintf("%d", a.desc.ID)
}
