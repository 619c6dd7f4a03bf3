// Copyright 2025 Int3nts Protocol
//
// Move Chain Adapter
// Polls a Move-family fullnode REST API for intent, fulfillment, and
// escrow events on the watched accounts. The cursor is the last
// processed account-transaction index per watched account. Events are
// matched by type-string containment of the known event names.

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// Known event names matched by substring containment of the fully
// qualified event type
const (
	moveIntentEventName        = "LimitOrderEvent"
	moveFulfillmentEventName   = "LimitOrderFulfillmentEvent"
	moveOracleIntentEventName  = "OracleLimitOrderEvent"
	moveEscrowCreatedEventName = "EscrowCreatedEvent"

	// moveTransferFunction is the only entry function accepted as an
	// outflow fulfillment envelope
	moveTransferFunction = "::utils::transfer_with_intent_id"

	// moveRegistryFunction is the solver registry view on the hub
	moveRegistryFunction = "::solver_registry::get_solver"
)

// MoveAdapterConfig holds construction parameters for the Move adapter
type MoveAdapterConfig struct {
	Descriptor     *types.ChainDescriptor
	KnownAccounts  []string
	MaxBatch       int
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// MoveAdapter implements Adapter for Move-family chains
type MoveAdapter struct {
	desc     *types.ChainDescriptor
	accounts []string
	maxBatch int
	client   *http.Client
	logger   *log.Logger

	mu sync.Mutex
	// cursors holds the next account-transaction index per watched account
	cursors map[string]uint64
}

// NewMoveAdapter creates a Move chain adapter
func NewMoveAdapter(cfg *MoveAdapterConfig) (*MoveAdapter, error) {
	if cfg == nil || cfg.Descriptor == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if cfg.Descriptor.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if len(cfg.KnownAccounts) == 0 {
		return nil, fmt.Errorf("at least one watched account is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[MOVE-ADAPTER] ", log.LstdFlags)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &MoveAdapter{
		desc:     cfg.Descriptor,
		accounts: cfg.KnownAccounts,
		maxBatch: maxBatch,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		cursors:  make(map[string]uint64),
	}, nil
}

// Family returns the chain family identifier
func (a *MoveAdapter) Family() types.ChainFamily {
	return types.FamilyMove
}

// ChainID returns the configured numeric chain id
func (a *MoveAdapter) ChainID() uint32 {
	return a.desc.ID
}

// Descriptor returns the immutable chain configuration
func (a *MoveAdapter) Descriptor() *types.ChainDescriptor {
	return a.desc
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// moveTransaction is the fullnode representation of a committed user
// transaction, reduced to the fields the adapter reads
type moveTransaction struct {
	Hash           string          `json:"hash"`
	Sender         string          `json:"sender"`
	SequenceNumber string          `json:"sequence_number"`
	Success        bool            `json:"success"`
	Timestamp      string          `json:"timestamp"`
	Events         []moveEvent     `json:"events"`
	Payload        *movePayload    `json:"payload"`
	VMStatus       string          `json:"vm_status"`
}

type moveEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type movePayload struct {
	Type     string            `json:"type"`
	Function string            `json:"function"`
	Args     []json.RawMessage `json:"arguments"`
}

// moveIntentData is the decoded payload of LimitOrderEvent and
// OracleLimitOrderEvent
type moveIntentData struct {
	IntentID           string `json:"intent_id"`
	Requester          string `json:"requester"`
	Solver             string `json:"solver"`
	OfferedChainID     string `json:"offered_chain_id"`
	OfferedMetadata    string `json:"offered_metadata"`
	OfferedAmount      string `json:"offered_amount"`
	DesiredChainID     string `json:"desired_chain_id"`
	DesiredMetadata    string `json:"desired_metadata"`
	DesiredAmount      string `json:"desired_amount"`
	Expiry             string `json:"expiry"`
	Revocable          bool   `json:"revocable"`
	RequesterConnected string `json:"requester_connected_chain"`
}

// moveFulfillmentData is the decoded payload of LimitOrderFulfillmentEvent
type moveFulfillmentData struct {
	IntentID         string `json:"intent_id"`
	Solver           string `json:"solver"`
	ProvidedAmount   string `json:"provided_amount"`
	ProvidedMetadata string `json:"provided_metadata"`
	Timestamp        string `json:"timestamp"`
}

// moveEscrowData is the decoded payload of EscrowCreatedEvent on a Move
// connected chain
type moveEscrowData struct {
	IntentID          string `json:"intent_id"`
	TokenMetadata     string `json:"token_metadata"`
	Amount            string `json:"amount"`
	Requester         string `json:"requester"`
	ReservedSolver    string `json:"reserved_solver"`
	VerifierPublicKey string `json:"verifier_public_key"`
	Expiry            string `json:"expiry"`
	Revocable         bool   `json:"revocable"`
}

// =============================================================================
// POLLING
// =============================================================================

// PollIntentEvents scans the watched accounts for new intent events
func (a *MoveAdapter) PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error) {
	var out []*types.IntentEvent
	err := a.scan(ctx, "intent", func(tx *moveTransaction) {
		for _, ev := range tx.Events {
			if !strings.Contains(ev.Type, moveIntentEventName) && !strings.Contains(ev.Type, moveOracleIntentEventName) {
				continue
			}
			if strings.Contains(ev.Type, moveFulfillmentEventName) {
				continue
			}
			decoded, err := a.decodeIntent(ev)
			if err != nil {
				metrics.DecodeFailures.WithLabelValues(a.chainLabel(), "intent").Inc()
				a.logger.Printf("skipping malformed intent event in %s: %v", tx.Hash, err)
				continue
			}
			out = append(out, decoded)
		}
	})
	return out, err
}

// PollEscrowEvents scans the watched accounts for new escrow events
func (a *MoveAdapter) PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error) {
	var out []*types.EscrowEvent
	err := a.scan(ctx, "escrow", func(tx *moveTransaction) {
		for _, ev := range tx.Events {
			if !strings.Contains(ev.Type, moveEscrowCreatedEventName) {
				continue
			}
			decoded, err := a.decodeEscrow(ev)
			if err != nil {
				metrics.DecodeFailures.WithLabelValues(a.chainLabel(), "escrow").Inc()
				a.logger.Printf("skipping malformed escrow event in %s: %v", tx.Hash, err)
				continue
			}
			out = append(out, decoded)
		}
	})
	return out, err
}

// PollFulfillmentEvents scans the watched accounts for new fulfillment
// events
func (a *MoveAdapter) PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error) {
	var out []*types.FulfillmentEvent
	err := a.scan(ctx, "fulfillment", func(tx *moveTransaction) {
		for _, ev := range tx.Events {
			if !strings.Contains(ev.Type, moveFulfillmentEventName) {
				continue
			}
			decoded, err := a.decodeFulfillment(ev)
			if err != nil {
				metrics.DecodeFailures.WithLabelValues(a.chainLabel(), "fulfillment").Inc()
				a.logger.Printf("skipping malformed fulfillment event in %s: %v", tx.Hash, err)
				continue
			}
			out = append(out, decoded)
		}
	})
	return out, err
}

// scan walks each watched account forward from its cursor, applying
// visit to every successful transaction, at most maxBatch transactions
// per account per call
func (a *MoveAdapter) scan(ctx context.Context, kind string, visit func(*moveTransaction)) error {
	for _, account := range a.accounts {
		a.mu.Lock()
		start := a.cursors[cursorKey(kind, account)]
		a.mu.Unlock()

		endpoint := fmt.Sprintf("%s/accounts/%s/transactions?start=%d&limit=%d",
			strings.TrimSuffix(a.desc.RPCEndpoint, "/"), url.PathEscape(account), start, a.maxBatch)

		var txs []moveTransaction
		if err := a.getJSON(ctx, endpoint, &txs); err != nil {
			return err
		}

		for i := range txs {
			if txs[i].Success {
				visit(&txs[i])
			}
		}

		if n := len(txs); n > 0 {
			a.mu.Lock()
			a.cursors[cursorKey(kind, account)] = start + uint64(n)
			a.mu.Unlock()
		}
	}
	return nil
}

func cursorKey(kind, account string) string {
	return kind + "/" + account
}

// =============================================================================
// EVENT DECODING
// =============================================================================

func (a *MoveAdapter) decodeIntent(ev moveEvent) (*types.IntentEvent, error) {
	var data moveIntentData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("decode intent data: %w", err)
	}

	id, err := types.ParseIntentID(data.IntentID)
	if err != nil {
		return nil, err
	}
	requester, err := types.ParseAddress(data.Requester)
	if err != nil {
		return nil, fmt.Errorf("requester: %w", err)
	}
	solver, err := types.ParseAddress(data.Solver)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	offeredMeta, err := types.ParseAddress(data.OfferedMetadata)
	if err != nil {
		return nil, fmt.Errorf("offered metadata: %w", err)
	}
	desiredMeta, err := types.ParseAddress(data.DesiredMetadata)
	if err != nil {
		return nil, fmt.Errorf("desired metadata: %w", err)
	}
	offeredAmount, err := parseMoveU64(data.OfferedAmount)
	if err != nil {
		return nil, fmt.Errorf("offered amount: %w", err)
	}
	desiredAmount, err := parseMoveU64(data.DesiredAmount)
	if err != nil {
		return nil, fmt.Errorf("desired amount: %w", err)
	}
	offeredChain, err := parseMoveU64(data.OfferedChainID)
	if err != nil {
		return nil, fmt.Errorf("offered chain id: %w", err)
	}
	desiredChain, err := parseMoveU64(data.DesiredChainID)
	if err != nil {
		return nil, fmt.Errorf("desired chain id: %w", err)
	}
	expiry, err := parseMoveU64(data.Expiry)
	if err != nil {
		return nil, fmt.Errorf("expiry: %w", err)
	}

	// Oracle-gated intents escrow on the connected chain and pay out on
	// the hub; plain limit orders lock on the hub and deliver outbound
	flow := types.FlowOutflow
	if strings.Contains(ev.Type, moveOracleIntentEventName) {
		flow = types.FlowInflow
	}

	intent := &types.IntentEvent{
		IntentID:        id,
		ChainID:         a.desc.ID,
		Requester:       requester,
		SolverHubAddr:   solver,
		OfferedChainID:  uint32(offeredChain.Uint64()),
		OfferedMetadata: offeredMeta,
		OfferedAmount:   offeredAmount,
		DesiredChainID:  uint32(desiredChain.Uint64()),
		DesiredMetadata: desiredMeta,
		DesiredAmount:   desiredAmount,
		ExpiryUnixS:     expiry.Uint64(),
		Flow:            flow,
		Revocable:       data.Revocable,
		ObservedAt:      time.Now().UTC(),
	}
	if data.RequesterConnected != "" {
		rc, err := types.ParseAddress(data.RequesterConnected)
		if err != nil {
			return nil, fmt.Errorf("requester connected-chain address: %w", err)
		}
		intent.RequesterConnected = rc
	}
	return intent, nil
}

func (a *MoveAdapter) decodeEscrow(ev moveEvent) (*types.EscrowEvent, error) {
	var data moveEscrowData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("decode escrow data: %w", err)
	}

	id, err := types.ParseIntentID(data.IntentID)
	if err != nil {
		return nil, err
	}
	token, err := types.ParseAddress(data.TokenMetadata)
	if err != nil {
		return nil, fmt.Errorf("token metadata: %w", err)
	}
	requester, err := types.ParseAddress(data.Requester)
	if err != nil {
		return nil, fmt.Errorf("requester: %w", err)
	}
	solver, err := types.ParseAddress(data.ReservedSolver)
	if err != nil {
		return nil, fmt.Errorf("reserved solver: %w", err)
	}
	amount, err := parseMoveU64(data.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	expiry, err := parseMoveU64(data.Expiry)
	if err != nil {
		return nil, fmt.Errorf("expiry: %w", err)
	}

	var verifierPK []byte
	if data.VerifierPublicKey != "" {
		pk, err := types.ParseAddress(data.VerifierPublicKey)
		if err != nil {
			return nil, fmt.Errorf("verifier public key: %w", err)
		}
		verifierPK = pk.Bytes()
	}

	return &types.EscrowEvent{
		IntentID:          id,
		ChainFamily:       types.FamilyMove,
		ChainID:           a.desc.ID,
		TokenAddr:         token,
		Amount:            amount,
		Requester:         requester,
		ReservedSolver:    solver,
		VerifierPublicKey: verifierPK,
		ExpiryUnixS:       expiry.Uint64(),
		Revocable:         data.Revocable,
		ObservedAt:        time.Now().UTC(),
	}, nil
}

func (a *MoveAdapter) decodeFulfillment(ev moveEvent) (*types.FulfillmentEvent, error) {
	var data moveFulfillmentData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, fmt.Errorf("decode fulfillment data: %w", err)
	}

	id, err := types.ParseIntentID(data.IntentID)
	if err != nil {
		return nil, err
	}
	solver, err := types.ParseAddress(data.Solver)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	amount, err := parseMoveU64(data.ProvidedAmount)
	if err != nil {
		return nil, fmt.Errorf("provided amount: %w", err)
	}
	meta, err := types.ParseAddress(data.ProvidedMetadata)
	if err != nil {
		return nil, fmt.Errorf("provided metadata: %w", err)
	}
	ts, err := parseMoveU64(data.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	return &types.FulfillmentEvent{
		IntentID:         id,
		Solver:           solver,
		ProvidedAmount:   amount,
		ProvidedMetadata: meta,
		TimestampUnixS:   ts.Uint64(),
		ObservedAt:       time.Now().UTC(),
	}, nil
}

// =============================================================================
// OUTFLOW TRANSFER FETCH
// =============================================================================

// FetchTransfer retrieves a transaction by hash and requires it to be a
// call to …::utils::transfer_with_intent_id carrying
// (recipient, metadata, amount, intent_id)
func (a *MoveAdapter) FetchTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	endpoint := fmt.Sprintf("%s/transactions/by_hash/%s",
		strings.TrimSuffix(a.desc.RPCEndpoint, "/"), url.PathEscape(txHash))

	var tx moveTransaction
	if err := a.getJSON(ctx, endpoint, &tx); err != nil {
		return nil, err
	}

	if tx.Payload == nil || !strings.Contains(tx.Payload.Function, moveTransferFunction) {
		return nil, fmt.Errorf("%w: not a transfer_with_intent_id call", ErrMalformedTransaction)
	}
	if len(tx.Payload.Args) != 4 {
		return nil, fmt.Errorf("%w: expected 4 arguments, got %d", ErrMalformedTransaction, len(tx.Payload.Args))
	}

	recipientStr, err := stringArg(tx.Payload.Args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrMalformedTransaction, err)
	}
	metadataStr, err := stringArg(tx.Payload.Args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedTransaction, err)
	}
	amountStr, err := stringArg(tx.Payload.Args[2])
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrMalformedTransaction, err)
	}
	intentStr, err := stringArg(tx.Payload.Args[3])
	if err != nil {
		return nil, fmt.Errorf("%w: intent id: %v", ErrMalformedTransaction, err)
	}

	sender, err := types.ParseAddress(tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrMalformedTransaction, err)
	}
	recipient, err := types.ParseAddress(recipientStr)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrMalformedTransaction, err)
	}
	token, err := types.ParseAddress(metadataStr)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedTransaction, err)
	}
	amount, err := parseMoveU64(amountStr)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrMalformedTransaction, err)
	}
	intentID, err := types.ParseIntentID(intentStr)
	if err != nil {
		return nil, fmt.Errorf("%w: intent id: %v", ErrMalformedTransaction, err)
	}

	return &Transfer{
		Sender:    sender,
		Recipient: recipient,
		TokenAddr: token,
		Amount:    amount,
		IntentID:  &intentID,
		Confirmed: tx.Success,
	}, nil
}

// =============================================================================
// SOLVER REGISTRY
// =============================================================================

// moveRegistryView is the view-function return shape of the solver
// registry entry
type moveRegistryView struct {
	EVMAddress       string `json:"evm_address"`
	SolanaAddress    string `json:"solana_address"`
	Ed25519PublicKey string `json:"ed25519_public_key"`
}

// LookupSolverRegistryEntry resolves a solver's settlement identities
// through the on-chain registry view function
func (a *MoveAdapter) LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*RegistryEntry, error) {
	if a.desc.IntentModuleAddr == "" {
		return nil, ErrUnsupported
	}

	body, err := json.Marshal(map[string]interface{}{
		"function":       a.desc.IntentModuleAddr + moveRegistryFunction,
		"type_arguments": []string{},
		"arguments":      []string{hubAddr.Hex()},
	})
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimSuffix(a.desc.RPCEndpoint, "/") + "/view"
	var result []moveRegistryView
	if err := a.postJSON(ctx, endpoint, body, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSolverNotRegistered, hubAddr.Hex())
	}

	entry := &RegistryEntry{HubAddr: hubAddr}
	view := result[0]
	if view.EVMAddress != "" && !isZeroHex(view.EVMAddress) {
		addr, err := types.ParseAddress(view.EVMAddress)
		if err != nil {
			return nil, fmt.Errorf("registry evm address: %w", err)
		}
		entry.EVMAddr = addr
		entry.HasEVM = true
	}
	if view.SolanaAddress != "" && !isZeroHex(view.SolanaAddress) {
		addr, err := types.ParseAddress(view.SolanaAddress)
		if err != nil {
			return nil, fmt.Errorf("registry solana address: %w", err)
		}
		entry.SolanaAddr = addr
		entry.HasSolana = true
	}
	if view.Ed25519PublicKey != "" && !isZeroHex(view.Ed25519PublicKey) {
		pk, err := types.ParseAddress(view.Ed25519PublicKey)
		if err != nil {
			return nil, fmt.Errorf("registry ed25519 key: %w", err)
		}
		entry.Ed25519PK = pk.Bytes()
	}
	return entry, nil
}

// HealthCheck verifies connectivity to the fullnode
func (a *MoveAdapter) HealthCheck(ctx context.Context) error {
	var info struct {
		ChainID uint32 `json:"chain_id"`
	}
	endpoint := strings.TrimSuffix(a.desc.RPCEndpoint, "/") + "/"
	if err := a.getJSON(ctx, endpoint, &info); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (a *MoveAdapter) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *MoveAdapter) postJSON(ctx context.Context, endpoint string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *MoveAdapter) do(req *http.Request, out interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, req.URL.Path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: fullnode returned %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("fullnode returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode fullnode response: %w", err)
	}
	return nil
}

// stringArg unwraps a JSON string argument
func stringArg(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// parseMoveU64 parses the fullnode's string-encoded u64, widened to the
// uniform u128 form
func parseMoveU64(s string) (*big.Int, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse u64 %q: %w", s, err)
	}
	return types.U128FromUint64(v), nil
}

func isZeroHex(s string) bool {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.Trim(t, "0") == ""
}

func (a *MoveAdapter) chainLabel() string {
	return strconv.FormatUint(uint64(a.desc.ID), 10)
}
