// Copyright 2025 Int3nts Protocol
//
// Approval Signer - Dual-Scheme Signing over Intent IDs
//
// One Ed25519 key pair serves Move and Solana settlement contracts; one
// secp256k1 key pair serves EVM settlement. Both schemes sign the same
// abstract message: the 32-byte intent id. Signatures are deterministic
// given identical keys and identical intent id.

package signer

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/int3nts/trusted-verifier/pkg/types"
)

// personalSignPrefix is the EIP-191 envelope for a 32-byte payload
const personalSignPrefix = "\x19Ethereum Signed Message:\n32"

// Signer produces approval signatures for validated intents
type Signer struct {
	ed25519Private ed25519.PrivateKey
	ed25519Public  ed25519.PublicKey

	ecdsaPrivate *ecdsa.PrivateKey
	ecdsaAddress common.Address

	// legacyEnvelope mixes approval_value=1 into the signed message for
	// downstream contracts that still verify the legacy domain
	legacyEnvelope bool
}

// Config holds the signer's key material and domain switches
type Config struct {
	// Ed25519Private is the full 64-byte private key
	Ed25519Private ed25519.PrivateKey

	// ECDSAPrivate is the 32-byte secp256k1 secret
	ECDSAPrivate []byte

	// LegacyApprovalValueEnvelope selects the legacy signing domain
	LegacyApprovalValueEnvelope bool
}

// New creates a signer and runs the ECDSA self-test: a signature over a
// fixed probe message must recover to the key's own address
func New(cfg *Config) (*Signer, error) {
	if len(cfg.Ed25519Private) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d",
			ed25519.PrivateKeySize, len(cfg.Ed25519Private))
	}

	ecdsaKey, err := ethcrypto.ToECDSA(cfg.ECDSAPrivate)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 key: %w", err)
	}

	s := &Signer{
		ed25519Private: cfg.Ed25519Private,
		ed25519Public:  cfg.Ed25519Private.Public().(ed25519.PublicKey),
		ecdsaPrivate:   ecdsaKey,
		ecdsaAddress:   ethcrypto.PubkeyToAddress(ecdsaKey.PublicKey),
		legacyEnvelope: cfg.LegacyApprovalValueEnvelope,
	}

	if err := s.selfTest(); err != nil {
		return nil, fmt.Errorf("signer self-test: %w", err)
	}

	return s, nil
}

// selfTest signs a probe intent id with both schemes and verifies the
// results against the signer's own key material
func (s *Signer) selfTest() error {
	var probe types.IntentID
	probe[31] = 1

	ed, err := s.SignApproval(probe, types.SchemeEd25519)
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.ed25519Public, s.message(probe), ed.Signature) {
		return fmt.Errorf("ed25519 probe signature did not verify")
	}

	ec, err := s.SignApproval(probe, types.SchemeECDSA)
	if err != nil {
		return err
	}
	recovered, err := RecoverECDSAAddress(probe, ec.Signature)
	if err != nil {
		return err
	}
	if recovered != s.ecdsaAddress {
		return fmt.Errorf("ecdsa probe recovered %s, want %s", recovered.Hex(), s.ecdsaAddress.Hex())
	}

	return nil
}

// SignApproval produces an approval signature for the intent id under
// the given scheme. A failure here indicates corrupt key material and is
// treated as fatal by callers.
func (s *Signer) SignApproval(id types.IntentID, scheme types.SignatureScheme) (*types.ApprovalSignature, error) {
	var sig []byte
	switch scheme {
	case types.SchemeEd25519:
		sig = ed25519.Sign(s.ed25519Private, s.message(id))

	case types.SchemeECDSA:
		raw, err := ethcrypto.Sign(s.ecdsaHash(id), s.ecdsaPrivate)
		if err != nil {
			return nil, fmt.Errorf("secp256k1 sign: %w", err)
		}
		// go-ethereum returns v in {0,1}; settlement contracts expect {27,28}
		raw[64] += 27
		sig = raw

	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}

	return &types.ApprovalSignature{
		IntentID:      id,
		ApprovalValue: 1,
		Signature:     sig,
		Scheme:        scheme,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SchemeForFamily selects the signing scheme by settlement chain family
func SchemeForFamily(family types.ChainFamily) types.SignatureScheme {
	if family == types.FamilyEVM {
		return types.SchemeECDSA
	}
	return types.SchemeEd25519
}

// message is the Ed25519 signing domain: the raw 32-byte intent id, or
// the legacy approval_value envelope when configured
func (s *Signer) message(id types.IntentID) []byte {
	if !s.legacyEnvelope {
		return id.Bytes()
	}
	// Legacy domain: u64 approval_value=1 little-endian, tagged by the id
	msg := make([]byte, 0, 40)
	msg = append(msg, 1, 0, 0, 0, 0, 0, 0, 0)
	msg = append(msg, id.Bytes()...)
	return msg
}

// ecdsaHash is the ECDSA signing domain: the EIP-191 personal-sign
// envelope over keccak256(abi.encode(uint256 intent_id))
func (s *Signer) ecdsaHash(id types.IntentID) []byte {
	inner := ethcrypto.Keccak256(id.Bytes())
	return ethcrypto.Keccak256([]byte(personalSignPrefix), inner)
}

// Ed25519PublicKey returns the Ed25519 verification key
func (s *Signer) Ed25519PublicKey() ed25519.PublicKey {
	return s.ed25519Public
}

// Ed25519PublicKeyBase64 returns the verification key in the wire form
// served by /public-key
func (s *Signer) Ed25519PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.ed25519Public)
}

// ECDSAAddress returns the EVM address settlement contracts recover
func (s *Signer) ECDSAAddress() common.Address {
	return s.ecdsaAddress
}

// VerifyEd25519 checks an Ed25519 approval signature against a public
// key and intent id using the default signing domain
func VerifyEd25519(pub ed25519.PublicKey, id types.IntentID, sig []byte) bool {
	return ed25519.Verify(pub, id.Bytes(), sig)
}

// RecoverECDSAAddress recovers the signer address of an ECDSA approval
// signature over the given intent id
func RecoverECDSAAddress(id types.IntentID, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("ecdsa signature must be 65 bytes, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, fmt.Errorf("ecdsa recovery id %d out of range", sig[64])
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	normalized[64] -= 27

	inner := ethcrypto.Keccak256(id.Bytes())
	hash := ethcrypto.Keccak256([]byte(personalSignPrefix), inner)

	pub, err := ethcrypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
