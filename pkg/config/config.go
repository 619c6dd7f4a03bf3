// Copyright 2025 Int3nts Protocol
//
// Verifier Service Configuration
// YAML file sections with environment-variable overrides. Key material
// is checked for internal consistency by Keys at startup; a mismatch between
// a configured public key and the key derived from the private key is
// fatal at startup.

package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/int3nts/trusted-verifier/pkg/types"
)

// MoveChainConfig configures a Move-family chain (the hub, or an
// optional Move connected chain)
type MoveChainConfig struct {
	RPCURL              string   `yaml:"rpc_url"`
	ChainID             uint32   `yaml:"chain_id"`
	IntentModuleAddress string   `yaml:"intent_module_address"`
	EscrowModuleAddress string   `yaml:"escrow_module_address"`
	KnownAccounts       []string `yaml:"known_accounts"`
	PollIntervalMs      int64    `yaml:"poll_interval_ms"`
}

// EVMChainConfig configures an optional EVM connected chain
type EVMChainConfig struct {
	RPCURL                string `yaml:"rpc_url"`
	ChainID               uint32 `yaml:"chain_id"`
	EscrowContractAddress string `yaml:"escrow_contract_address"`
	VerifierAddress       string `yaml:"verifier_address"`
	PollIntervalMs        int64  `yaml:"poll_interval_ms"`
}

// SolanaChainConfig configures an optional Solana connected chain
type SolanaChainConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	ChainID         uint32 `yaml:"chain_id"`
	Cluster         string `yaml:"cluster"`
	EscrowProgramID string `yaml:"escrow_program_id"`
	PollIntervalMs  int64  `yaml:"poll_interval_ms"`
}

// VerifierConfig holds key material and global knobs
type VerifierConfig struct {
	Ed25519PrivateKey string `yaml:"ed25519_private_key"` // base64, 32-byte seed
	Ed25519PublicKey  string `yaml:"ed25519_public_key"`  // base64, 32 bytes
	ECDSAPrivateKey   string `yaml:"ecdsa_private_key"`   // hex, 32 bytes
	PollingIntervalMs int64  `yaml:"polling_interval_ms"`
	RequestTimeoutMs  int64  `yaml:"request_timeout_ms"`

	// SignApprovalValueEnvelope switches the legacy signing domain that
	// mixes approval_value=1 into the signed message. The default domain
	// is the 32-byte intent id alone.
	SignApprovalValueEnvelope bool `yaml:"sign_approval_value_envelope"`
}

// APIConfig holds the HTTP server bind
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the root configuration for the verifier service
type Config struct {
	HubChain       MoveChainConfig    `yaml:"hub_chain"`
	ConnectedChain *MoveChainConfig   `yaml:"connected_chain"`
	EVMChain       *EVMChainConfig    `yaml:"evm_chain"`
	SolanaChain    *SolanaChainConfig `yaml:"solana_chain"`
	Verifier       VerifierConfig     `yaml:"verifier"`
	API            APIConfig          `yaml:"api"`

	// CacheCapacityPerChain bounds per-chain intent retention
	CacheCapacityPerChain int `yaml:"cache_capacity_per_chain"`

	// RegistryTTLMs bounds the solver registry lookup cache
	RegistryTTLMs int64 `yaml:"registry_ttl_ms"`

	// OutflowDeadlineMs is the end-to-end outflow validation deadline
	OutflowDeadlineMs int64 `yaml:"outflow_deadline_ms"`

	// MaxBatch caps events emitted per poll tick
	MaxBatch int `yaml:"max_batch"`

	LogLevel string `yaml:"log_level"`
}

// KeyMaterial is the decoded, self-checked signing material
type KeyMaterial struct {
	Ed25519Private ed25519.PrivateKey
	Ed25519Public  ed25519.PublicKey
	ECDSAPrivate   []byte // 32-byte secp256k1 secret
	ECDSAAddress   common.Address
}

// Load reads configuration from the YAML file at path, then applies
// environment-variable overrides
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3333,
		},
		Verifier: VerifierConfig{
			PollingIntervalMs: 5000,
			RequestTimeoutMs:  10000,
		},
		CacheCapacityPerChain: 10000,
		RegistryTTLMs:         60000,
		OutflowDeadlineMs:     30000,
		MaxBatch:              100,
		LogLevel:              "info",
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.HubChain.RPCURL = getEnv("HUB_RPC_URL", cfg.HubChain.RPCURL)
	cfg.HubChain.IntentModuleAddress = getEnv("HUB_INTENT_MODULE_ADDRESS", cfg.HubChain.IntentModuleAddress)
	cfg.Verifier.Ed25519PrivateKey = getEnv("VERIFIER_ED25519_PRIVATE_KEY", cfg.Verifier.Ed25519PrivateKey)
	cfg.Verifier.Ed25519PublicKey = getEnv("VERIFIER_ED25519_PUBLIC_KEY", cfg.Verifier.Ed25519PublicKey)
	cfg.Verifier.ECDSAPrivateKey = getEnv("VERIFIER_ECDSA_PRIVATE_KEY", cfg.Verifier.ECDSAPrivateKey)
	cfg.API.Host = getEnv("API_HOST", cfg.API.Host)
	cfg.API.Port = getEnvInt("API_PORT", cfg.API.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.EVMChain != nil {
		cfg.EVMChain.RPCURL = getEnv("EVM_RPC_URL", cfg.EVMChain.RPCURL)
	}
	if cfg.SolanaChain != nil {
		cfg.SolanaChain.RPCURL = getEnv("SOLANA_RPC_URL", cfg.SolanaChain.RPCURL)
	}
}

// Validate checks that required configuration is present and internally
// consistent. Key material is only checked for presence here; decoding
// and the public-key self-check run in Keys.
func (c *Config) Validate() error {
	var errs []string

	if c.HubChain.RPCURL == "" {
		errs = append(errs, "hub_chain.rpc_url is required")
	}
	if c.HubChain.IntentModuleAddress == "" {
		errs = append(errs, "hub_chain.intent_module_address is required")
	}
	if len(c.HubChain.KnownAccounts) == 0 {
		errs = append(errs, "hub_chain.known_accounts must list at least one watched account")
	}
	if c.Verifier.Ed25519PrivateKey == "" {
		errs = append(errs, "verifier.ed25519_private_key is required")
	}
	if c.Verifier.ECDSAPrivateKey == "" {
		errs = append(errs, "verifier.ecdsa_private_key is required")
	}
	if c.EVMChain != nil {
		if c.EVMChain.EscrowContractAddress == "" {
			errs = append(errs, "evm_chain.escrow_contract_address is required")
		}
		if !common.IsHexAddress(c.EVMChain.EscrowContractAddress) && c.EVMChain.EscrowContractAddress != "" {
			errs = append(errs, "evm_chain.escrow_contract_address is not a valid address")
		}
	}
	if c.SolanaChain != nil && c.SolanaChain.EscrowProgramID == "" {
		errs = append(errs, "solana_chain.escrow_program_id is required")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, "api.port out of range")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Keys decodes the configured key material and runs the consistency
// self-check: the derived Ed25519 public key must equal the configured
// public key, and the derived EVM address must equal
// evm_chain.verifier_address when an EVM chain is configured.
func (c *Config) Keys() (*KeyMaterial, error) {
	seed, err := base64.StdEncoding.DecodeString(c.Verifier.Ed25519PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	if c.Verifier.Ed25519PublicKey != "" {
		configured, err := base64.StdEncoding.DecodeString(c.Verifier.Ed25519PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 public key: %w", err)
		}
		if !pub.Equal(ed25519.PublicKey(configured)) {
			return nil, fmt.Errorf("ed25519 key mismatch: derived public key %s does not match configured %s",
				base64.StdEncoding.EncodeToString(pub), c.Verifier.Ed25519PublicKey)
		}
	}

	ecdsaHex := strings.TrimPrefix(c.Verifier.ECDSAPrivateKey, "0x")
	ecdsaSecret, err := hex.DecodeString(ecdsaHex)
	if err != nil {
		return nil, fmt.Errorf("decode ecdsa private key: %w", err)
	}
	if len(ecdsaSecret) != 32 {
		return nil, fmt.Errorf("ecdsa private key must be 32 bytes, got %d", len(ecdsaSecret))
	}
	ecdsaKey, err := ethcrypto.ToECDSA(ecdsaSecret)
	if err != nil {
		return nil, fmt.Errorf("parse ecdsa private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(ecdsaKey.PublicKey)

	if c.EVMChain != nil && c.EVMChain.VerifierAddress != "" {
		if !strings.EqualFold(addr.Hex(), c.EVMChain.VerifierAddress) {
			return nil, fmt.Errorf("ecdsa key mismatch: derived address %s does not match configured verifier_address %s",
				addr.Hex(), c.EVMChain.VerifierAddress)
		}
	}

	return &KeyMaterial{
		Ed25519Private: priv,
		Ed25519Public:  pub,
		ECDSAPrivate:   ecdsaSecret,
		ECDSAAddress:   addr,
	}, nil
}

// HubDescriptor builds the hub chain descriptor
func (c *Config) HubDescriptor() *types.ChainDescriptor {
	return &types.ChainDescriptor{
		ID:               c.HubChain.ChainID,
		Family:           types.FamilyMove,
		RPCEndpoint:      c.HubChain.RPCURL,
		IntentModuleAddr: c.HubChain.IntentModuleAddress,
		PollIntervalMs:   c.pollMs(c.HubChain.PollIntervalMs),
	}
}

// ConnectedDescriptors builds descriptors for each configured connected
// chain
func (c *Config) ConnectedDescriptors() []*types.ChainDescriptor {
	var out []*types.ChainDescriptor
	if c.ConnectedChain != nil {
		out = append(out, &types.ChainDescriptor{
			ID:               c.ConnectedChain.ChainID,
			Family:           types.FamilyMove,
			RPCEndpoint:      c.ConnectedChain.RPCURL,
			IntentModuleAddr: c.ConnectedChain.EscrowModuleAddress,
			PollIntervalMs:   c.pollMs(c.ConnectedChain.PollIntervalMs),
		})
	}
	if c.EVMChain != nil {
		out = append(out, &types.ChainDescriptor{
			ID:                 c.EVMChain.ChainID,
			Family:             types.FamilyEVM,
			RPCEndpoint:        c.EVMChain.RPCURL,
			EscrowContractAddr: c.EVMChain.EscrowContractAddress,
			PollIntervalMs:     c.pollMs(c.EVMChain.PollIntervalMs),
		})
	}
	if c.SolanaChain != nil {
		out = append(out, &types.ChainDescriptor{
			ID:              c.SolanaChain.ChainID,
			Family:          types.FamilySolana,
			RPCEndpoint:     c.SolanaChain.RPCURL,
			EscrowProgramID: c.SolanaChain.EscrowProgramID,
			PollIntervalMs:  c.pollMs(c.SolanaChain.PollIntervalMs),
		})
	}
	return out
}

func (c *Config) pollMs(chainMs int64) int64 {
	if chainMs > 0 {
		return chainMs
	}
	return c.Verifier.PollingIntervalMs
}

// RequestTimeout returns the per-RPC-call deadline
func (c *Config) RequestTimeout() time.Duration {
	if c.Verifier.RequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Verifier.RequestTimeoutMs) * time.Millisecond
}

// OutflowDeadline returns the end-to-end outflow validation deadline
func (c *Config) OutflowDeadline() time.Duration {
	if c.OutflowDeadlineMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.OutflowDeadlineMs) * time.Millisecond
}

// RegistryTTL returns the solver registry cache TTL
func (c *Config) RegistryTTL() time.Duration {
	if c.RegistryTTLMs <= 0 {
		return time.Minute
	}
	return time.Duration(c.RegistryTTLMs) * time.Millisecond
}

// ListenAddr returns the HTTP bind address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
