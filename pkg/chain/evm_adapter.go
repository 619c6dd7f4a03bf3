// Copyright 2025 Int3nts Protocol
//
// EVM Chain Adapter
// Watches the escrow contract for EscrowInitialized events and fetches
// outflow fulfillment transactions by hash. The cursor is the block
// number. All 20-byte addresses are zero-padded to the 32-byte normal
// form on ingestion; intent ids are uint256 stored big-endian.

package chain

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/int3nts/trusted-verifier/pkg/metrics"
	"github.com/int3nts/trusted-verifier/pkg/types"
)

// escrowInitializedSig is the escrow creation event signature
const escrowInitializedSig = "EscrowInitialized(uint256,address,address,address,address,uint256,uint256)"

// erc20TransferSelector is the 4-byte selector of transfer(address,uint256)
var erc20TransferSelector = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

// EVMAdapterConfig holds construction parameters for the EVM adapter
type EVMAdapterConfig struct {
	Descriptor     *types.ChainDescriptor
	MaxBatch       int
	RequestTimeout time.Duration
	Logger         *log.Logger
}

// EVMAdapter implements Adapter for EVM chains
type EVMAdapter struct {
	desc           *types.ChainDescriptor
	client         *ethclient.Client
	escrowContract common.Address
	escrowTopic    common.Hash
	chainID        *big.Int
	maxBatch       int
	timeout        time.Duration
	logger         *log.Logger

	mu        sync.Mutex
	lastBlock uint64
}

// NewEVMAdapter creates an EVM chain adapter and verifies the remote
// chain id matches the configuration
func NewEVMAdapter(ctx context.Context, cfg *EVMAdapterConfig) (*EVMAdapter, error) {
	if cfg == nil || cfg.Descriptor == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if cfg.Descriptor.RPCEndpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}
	if !common.IsHexAddress(cfg.Descriptor.EscrowContractAddr) {
		return nil, fmt.Errorf("invalid escrow contract address: %s", cfg.Descriptor.EscrowContractAddr)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[EVM-ADAPTER] ", log.LstdFlags)
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := ethclient.Dial(cfg.Descriptor.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to ethereum: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if cfg.Descriptor.ID != 0 && chainID.Uint64() != uint64(cfg.Descriptor.ID) {
		return nil, fmt.Errorf("chain ID mismatch: configured %d, node reports %s", cfg.Descriptor.ID, chainID)
	}

	return &EVMAdapter{
		desc:           cfg.Descriptor,
		client:         client,
		escrowContract: common.HexToAddress(cfg.Descriptor.EscrowContractAddr),
		escrowTopic:    ethcrypto.Keccak256Hash([]byte(escrowInitializedSig)),
		chainID:        chainID,
		maxBatch:       maxBatch,
		timeout:        timeout,
		logger:         logger,
	}, nil
}

// Family returns the chain family identifier
func (a *EVMAdapter) Family() types.ChainFamily {
	return types.FamilyEVM
}

// ChainID returns the configured numeric chain id
func (a *EVMAdapter) ChainID() uint32 {
	return a.desc.ID
}

// Descriptor returns the immutable chain configuration
func (a *EVMAdapter) Descriptor() *types.ChainDescriptor {
	return a.desc
}

// PollIntentEvents returns no events: intents are created on the hub
func (a *EVMAdapter) PollIntentEvents(ctx context.Context) ([]*types.IntentEvent, error) {
	return nil, nil
}

// PollFulfillmentEvents returns no events: outflow fulfillments on EVM
// are validated on demand by transaction hash
func (a *EVMAdapter) PollFulfillmentEvents(ctx context.Context) ([]*types.FulfillmentEvent, error) {
	return nil, nil
}

// PollEscrowEvents filters the escrow contract's EscrowInitialized logs
// from the block cursor to the current head
func (a *EVMAdapter) PollEscrowEvents(ctx context.Context) ([]*types.EscrowEvent, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	head, err := a.client.BlockNumber(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: get head block: %v", ErrUnavailable, err)
	}

	a.mu.Lock()
	from := a.lastBlock + 1
	if a.lastBlock == 0 {
		// First tick starts at the head; history replay is an operator
		// decision, not a default
		from = head
	}
	a.mu.Unlock()

	if from > head {
		return nil, nil
	}

	logs, err := a.client.FilterLogs(callCtx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{a.escrowContract},
		Topics:    [][]common.Hash{{a.escrowTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: filter logs: %v", ErrUnavailable, err)
	}

	var out []*types.EscrowEvent
	next := head
	for i := range logs {
		if len(out) >= a.maxBatch && logs[i].BlockNumber > from {
			// Resume at this log's block on the next tick; logs of that
			// block already emitted are redelivered and deduped by the cache
			next = logs[i].BlockNumber - 1
			break
		}
		ev, err := a.decodeEscrowLog(&logs[i])
		if err != nil {
			metrics.DecodeFailures.WithLabelValues(a.chainLabel(), "escrow").Inc()
			a.logger.Printf("skipping malformed escrow log %s#%d: %v", logs[i].TxHash.Hex(), logs[i].Index, err)
			continue
		}
		out = append(out, ev)
	}

	a.mu.Lock()
	a.lastBlock = next
	a.mu.Unlock()

	return out, nil
}

// decodeEscrowLog unpacks EscrowInitialized(uint256 intentId,
// address token, address requester, address reservedSolver,
// address verifier, uint256 amount, uint256 expiry). The intent id is
// the single indexed parameter; the remainder is ABI-packed data.
func (a *EVMAdapter) decodeEscrowLog(lg *ethtypes.Log) (*types.EscrowEvent, error) {
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("missing intent id topic")
	}
	if len(lg.Data) != 6*32 {
		return nil, fmt.Errorf("unexpected data length %d", len(lg.Data))
	}

	id, err := types.IntentIDFromBytes(lg.Topics[1].Bytes())
	if err != nil {
		return nil, err
	}

	token, err := types.AddressFromBytes(lg.Data[12:32])
	if err != nil {
		return nil, err
	}
	requester, err := types.AddressFromBytes(lg.Data[44:64])
	if err != nil {
		return nil, err
	}
	solver, err := types.AddressFromBytes(lg.Data[76:96])
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).SetBytes(lg.Data[128:160])
	expiry := new(big.Int).SetBytes(lg.Data[160:192])
	if !expiry.IsUint64() {
		return nil, fmt.Errorf("expiry out of range")
	}

	return &types.EscrowEvent{
		IntentID:       id,
		ChainFamily:    types.FamilyEVM,
		ChainID:        a.desc.ID,
		TokenAddr:      token,
		Amount:         amount,
		Requester:      requester,
		ReservedSolver: solver,
		ExpiryUnixS:    expiry.Uint64(),
		// The EVM escrow contract admits no revocation path before expiry
		Revocable:  false,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// FetchTransfer retrieves a transaction by hash and requires it to be an
// ERC-20 transfer(recipient, amount). The intent id is read from a
// 32-byte calldata suffix; without the suffix the returned IntentID is
// nil.
func (a *EVMAdapter) FetchTransfer(ctx context.Context, txHash string) (*Transfer, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	tx, pending, err := a.client.TransactionByHash(callCtx, hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
		}
		return nil, fmt.Errorf("%w: fetch transaction: %v", ErrUnavailable, err)
	}
	if tx.To() == nil {
		return nil, fmt.Errorf("%w: contract creation is not a transfer", ErrMalformedTransaction)
	}

	parsed, err := ParseERC20TransferCalldata(tx.Data())
	if err != nil {
		return nil, err
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(a.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: recover sender: %v", ErrMalformedTransaction, err)
	}
	parsed.Sender, _ = types.AddressFromBytes(sender.Bytes())
	parsed.TokenAddr, _ = types.AddressFromBytes(tx.To().Bytes())

	if !pending {
		receipt, err := a.client.TransactionReceipt(callCtx, hash)
		if err != nil {
			if err == ethereum.NotFound {
				return parsed, nil
			}
			return nil, fmt.Errorf("%w: fetch receipt: %v", ErrUnavailable, err)
		}
		parsed.Confirmed = receipt.Status == ethtypes.ReceiptStatusSuccessful
	}

	return parsed, nil
}

// ParseERC20TransferCalldata parses transfer(address,uint256) calldata,
// requiring the additional 32-byte intent id suffix when present. The
// sender and token fields are left for the caller to fill.
func ParseERC20TransferCalldata(data []byte) (*Transfer, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], erc20TransferSelector[:]) {
		return nil, fmt.Errorf("%w: not an ERC-20 transfer call", ErrMalformedTransaction)
	}
	body := data[4:]

	switch len(body) {
	case 64, 96:
	default:
		return nil, fmt.Errorf("%w: transfer calldata length %d", ErrMalformedTransaction, len(data))
	}

	// First word: left-padded recipient address
	for _, b := range body[:12] {
		if b != 0 {
			return nil, fmt.Errorf("%w: recipient word has nonzero padding", ErrMalformedTransaction)
		}
	}
	recipient, err := types.AddressFromBytes(body[12:32])
	if err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrMalformedTransaction, err)
	}
	amount := new(big.Int).SetBytes(body[32:64])

	transfer := &Transfer{
		Recipient: recipient,
		Amount:    amount,
	}

	if len(body) == 96 {
		id, err := types.IntentIDFromBytes(body[64:96])
		if err != nil {
			return nil, fmt.Errorf("%w: intent id suffix: %v", ErrMalformedTransaction, err)
		}
		transfer.IntentID = &id
	}

	return transfer, nil
}

// LookupSolverRegistryEntry is unsupported: the registry lives on the hub
func (a *EVMAdapter) LookupSolverRegistryEntry(ctx context.Context, hubAddr types.Address) (*RegistryEntry, error) {
	return nil, ErrUnsupported
}

// HealthCheck verifies connectivity and chain id consistency
func (a *EVMAdapter) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	chainID, err := a.client.ChainID(callCtx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if chainID.Cmp(a.chainID) != 0 {
		return fmt.Errorf("chain ID changed: expected %s, got %s", a.chainID, chainID)
	}
	return nil
}

func (a *EVMAdapter) chainLabel() string {
	return fmt.Sprintf("%d", a.desc.ID)
}
