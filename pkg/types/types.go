// Copyright 2025 Int3nts Protocol
//
// Normalized Cross-Chain Event Model
// Shared types for the trusted verifier: intent ids, normalized
// addresses, chain descriptors, and the three event kinds observed
// on the hub and connected chains.

package types

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// =============================================================================
// CHAIN FAMILY IDENTIFIERS
// =============================================================================

// ChainFamily identifies the blockchain family type
type ChainFamily string

const (
	// FamilyMove for Move-VM chains (the hub and optional connected chains)
	FamilyMove ChainFamily = "mvm"

	// FamilyEVM for Ethereum and EVM-compatible chains
	FamilyEVM ChainFamily = "evm"

	// FamilySolana for Solana and SVM chains
	FamilySolana ChainFamily = "svm"
)

// String returns the string representation of the family
func (f ChainFamily) String() string {
	return string(f)
}

// IsValid checks if the family is a known valid family
func (f ChainFamily) IsValid() bool {
	switch f {
	case FamilyMove, FamilyEVM, FamilySolana:
		return true
	default:
		return false
	}
}

// ParseChainFamily parses a chain family from its wire string
func ParseChainFamily(s string) (ChainFamily, error) {
	f := ChainFamily(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("unknown chain family %q", s)
	}
	return f, nil
}

// =============================================================================
// FLOW DIRECTION
// =============================================================================

// FlowDirection distinguishes the two swap shapes an intent can take
type FlowDirection string

const (
	// FlowInflow escrows funds on the connected chain and pays out on the hub
	FlowInflow FlowDirection = "inflow"

	// FlowOutflow locks funds on the hub and delivers on the connected chain
	FlowOutflow FlowDirection = "outflow"
)

// String returns the string representation of the direction
func (d FlowDirection) String() string {
	return string(d)
}

// =============================================================================
// INTENT ID
// =============================================================================

// IntentID is the canonical 32-byte identifier of a cross-chain intent.
// The canonical form is always the full 32 bytes; leading-zero stripping
// is a display convenience only and never feeds comparisons.
type IntentID [32]byte

// ParseIntentID parses a hex intent id. It accepts input with or without
// a 0x prefix, case-insensitive, and left-pads to 32 bytes. Input longer
// than 32 bytes is rejected.
func ParseIntentID(s string) (IntentID, error) {
	var id IntentID
	b, err := parseHex32(s)
	if err != nil {
		return id, fmt.Errorf("invalid intent id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// IntentIDFromBytes builds an intent id from raw bytes, left-padding
// shorter input. Input longer than 32 bytes is rejected.
func IntentIDFromBytes(b []byte) (IntentID, error) {
	var id IntentID
	if len(b) > 32 {
		return id, fmt.Errorf("intent id too long: %d bytes", len(b))
	}
	copy(id[32-len(b):], b)
	return id, nil
}

// Bytes returns the canonical 32-byte form
func (id IntentID) Bytes() []byte {
	return id[:]
}

// Hex returns the full 0x-prefixed hex form
func (id IntentID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Display returns the hex form with leading zeros stripped, for logs.
// Never used in comparisons.
func (id IntentID) Display() string {
	s := strings.TrimLeft(hex.EncodeToString(id[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// IsZero reports whether the id is all zero bytes
func (id IntentID) IsZero() bool {
	return id == IntentID{}
}

// MarshalJSON renders the id as its full hex form
func (id IntentID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON parses the id from a hex string
func (id *IntentID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseIntentID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// =============================================================================
// NORMALIZED ADDRESS
// =============================================================================

// Address is the 32-byte normal form used for all cross-entity
// comparisons. EVM 20-byte addresses are left-padded with 12 zero bytes;
// Solana keys and Move addresses are 32 bytes already.
type Address [32]byte

// ParseAddress parses a hex address of up to 32 bytes into normal form
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := parseHex32(s)
	if err != nil {
		return a, fmt.Errorf("invalid address: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromBytes builds a normalized address from raw bytes,
// left-padding shorter input (the EVM 20-byte case)
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) > 32 {
		return a, fmt.Errorf("address too long: %d bytes", len(b))
	}
	copy(a[32-len(b):], b)
	return a, nil
}

// Bytes returns the canonical 32-byte form
func (a Address) Bytes() []byte {
	return a[:]
}

// Hex returns the full 0x-prefixed hex form
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// EVMBytes returns the trailing 20 bytes (the EVM address body)
func (a Address) EVMBytes() []byte {
	return a[12:]
}

// IsZero reports whether the address is all zero bytes
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalJSON renders the address as its full hex form
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Hex())
}

// UnmarshalJSON parses the address from a hex string
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// parseHex32 decodes 0x-optional, case-insensitive hex into at most 32
// bytes, left-padded to exactly 32
func parseHex32(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, err
	}
	if len(b) > 32 {
		return nil, fmt.Errorf("hex value is %d bytes, max 32", len(b))
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out, nil
}

// =============================================================================
// AMOUNTS
// =============================================================================

// maxU128 bounds amounts to the cross-chain uniform u128 range
var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// ParseU128 parses a decimal amount string into a non-negative big.Int
// within the u128 range
func ParseU128(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	if v.Cmp(maxU128) > 0 {
		return nil, fmt.Errorf("amount %q exceeds u128", s)
	}
	return v, nil
}

// U128FromUint64 widens a chain-native u64 amount to the uniform form
func U128FromUint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}

// =============================================================================
// CHAIN DESCRIPTOR
// =============================================================================

// ChainDescriptor holds the immutable per-chain configuration the
// adapters are constructed from
type ChainDescriptor struct {
	// ID is the numeric chain identifier used in intent events
	ID uint32 `json:"id"`

	// Family is the chain family type
	Family ChainFamily `json:"family"`

	// RPCEndpoint is the chain's RPC URL
	RPCEndpoint string `json:"rpc_endpoint"`

	// IntentModuleAddr is the Move intent module address (Move only)
	IntentModuleAddr string `json:"intent_module_addr,omitempty"`

	// EscrowContractAddr is the escrow contract address (EVM only)
	EscrowContractAddr string `json:"escrow_contract_addr,omitempty"`

	// EscrowProgramID is the escrow program id (Solana only)
	EscrowProgramID string `json:"escrow_program_id,omitempty"`

	// PollIntervalMs is the polling cadence in milliseconds
	PollIntervalMs int64 `json:"poll_interval_ms"`
}

// PollInterval returns the polling cadence as a duration
func (d *ChainDescriptor) PollInterval() time.Duration {
	if d.PollIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// =============================================================================
// OBSERVED EVENTS
// =============================================================================

// IntentEvent is a hub-side intent creation observation.
// Immutable once created; deduped by (chain id, intent id).
type IntentEvent struct {
	IntentID        IntentID      `json:"intent_id"`
	ChainID         uint32        `json:"chain_id"`
	Requester       Address       `json:"requester"`
	SolverHubAddr   Address       `json:"solver_hub_addr"`
	OfferedChainID  uint32        `json:"offered_chain_id"`
	OfferedMetadata Address       `json:"offered_metadata"`
	OfferedAmount   *big.Int      `json:"offered_amount"`
	DesiredChainID  uint32        `json:"desired_chain_id"`
	DesiredMetadata Address       `json:"desired_metadata"`
	DesiredAmount   *big.Int      `json:"desired_amount"`
	ExpiryUnixS     uint64        `json:"expiry_unix_s"`
	Flow            FlowDirection `json:"flow"`
	Revocable       bool          `json:"revocable"`

	// RequesterConnected is the requester's address on the connected
	// chain, the outflow payout destination
	RequesterConnected Address `json:"requester_connected,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// EscrowEvent is a connected-chain escrow creation observation (inflow)
type EscrowEvent struct {
	IntentID          IntentID    `json:"intent_id"`
	ChainFamily       ChainFamily `json:"chain_family"`
	ChainID           uint32      `json:"chain_id"`
	TokenAddr         Address     `json:"token_addr"`
	Amount            *big.Int    `json:"amount"`
	Requester         Address     `json:"requester"`
	ReservedSolver    Address     `json:"reserved_solver"`
	VerifierPublicKey []byte      `json:"verifier_public_key,omitempty"`
	ExpiryUnixS       uint64      `json:"expiry_unix_s"`
	Revocable         bool        `json:"revocable"`
	ObservedAt        time.Time   `json:"observed_at"`
}

// FulfillmentEvent is a hub-side (inflow) or connected-side (outflow)
// fulfillment observation
type FulfillmentEvent struct {
	IntentID         IntentID  `json:"intent_id"`
	Solver           Address   `json:"solver"`
	ProvidedAmount   *big.Int  `json:"provided_amount"`
	ProvidedMetadata Address   `json:"provided_metadata"`
	TimestampUnixS   uint64    `json:"timestamp_unix_s"`
	ObservedAt       time.Time `json:"observed_at"`
}

// EqualIntentEvent reports bit-identity of two intent events, ignoring
// only the local observation timestamp
func EqualIntentEvent(a, b *IntentEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IntentID == b.IntentID &&
		a.ChainID == b.ChainID &&
		a.Requester == b.Requester &&
		a.SolverHubAddr == b.SolverHubAddr &&
		a.OfferedChainID == b.OfferedChainID &&
		a.OfferedMetadata == b.OfferedMetadata &&
		bigEqual(a.OfferedAmount, b.OfferedAmount) &&
		a.DesiredChainID == b.DesiredChainID &&
		a.DesiredMetadata == b.DesiredMetadata &&
		bigEqual(a.DesiredAmount, b.DesiredAmount) &&
		a.ExpiryUnixS == b.ExpiryUnixS &&
		a.Flow == b.Flow &&
		a.Revocable == b.Revocable &&
		a.RequesterConnected == b.RequesterConnected
}

// EqualEscrowEvent reports bit-identity of two escrow events, ignoring
// only the local observation timestamp
func EqualEscrowEvent(a, b *EscrowEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IntentID == b.IntentID &&
		a.ChainFamily == b.ChainFamily &&
		a.ChainID == b.ChainID &&
		a.TokenAddr == b.TokenAddr &&
		bigEqual(a.Amount, b.Amount) &&
		a.Requester == b.Requester &&
		a.ReservedSolver == b.ReservedSolver &&
		bytes.Equal(a.VerifierPublicKey, b.VerifierPublicKey) &&
		a.ExpiryUnixS == b.ExpiryUnixS &&
		a.Revocable == b.Revocable
}

// EqualFulfillmentEvent reports bit-identity of two fulfillment events,
// ignoring only the local observation timestamp
func EqualFulfillmentEvent(a, b *FulfillmentEvent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IntentID == b.IntentID &&
		a.Solver == b.Solver &&
		bigEqual(a.ProvidedAmount, b.ProvidedAmount) &&
		a.ProvidedMetadata == b.ProvidedMetadata &&
		a.TimestampUnixS == b.TimestampUnixS
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// =============================================================================
// APPROVAL SIGNATURE
// =============================================================================

// SignatureScheme identifies the approval signing scheme
type SignatureScheme string

const (
	// SchemeEd25519 for Move and Solana settlement contracts
	SchemeEd25519 SignatureScheme = "ed25519"

	// SchemeECDSA for EVM settlement contracts (secp256k1, recoverable)
	SchemeECDSA SignatureScheme = "ecdsa"
)

// ApprovalSignature is the oracle's attestation that an intent's
// counterparty pre-conditions were met. Signatures are deterministic:
// identical keys and intent id produce identical bytes.
type ApprovalSignature struct {
	IntentID      IntentID        `json:"intent_id"`
	ApprovalValue uint64          `json:"approval_value"`
	Signature     []byte          `json:"-"`
	Scheme        SignatureScheme `json:"signature_type"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MarshalJSON renders the signature bytes as base64 alongside the
// remaining fields
func (a *ApprovalSignature) MarshalJSON() ([]byte, error) {
	type alias ApprovalSignature
	return json.Marshal(&struct {
		*alias
		SignatureBase64 string `json:"signature_base64"`
	}{
		alias:           (*alias)(a),
		SignatureBase64: base64.StdEncoding.EncodeToString(a.Signature),
	})
}
