// Copyright 2025 Int3nts Protocol
//
// Configuration Tests

package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// testSeed is a fixed 32-byte Ed25519 seed for deterministic tests
var testSeed = make([]byte, ed25519.SeedSize)

// testECDSAKey is a fixed non-zero secp256k1 secret
const testECDSAKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func init() {
	for i := range testSeed {
		testSeed[i] = byte(i + 1)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "verifier.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseConfig(t *testing.T) string {
	t.Helper()
	priv := ed25519.NewKeyFromSeed(testSeed)
	pub := priv.Public().(ed25519.PublicKey)
	return `
hub_chain:
  rpc_url: http://localhost:8080/v1
  chain_id: 1
  intent_module_address: "0xabc"
  known_accounts: ["0xabc"]
  poll_interval_ms: 1000
verifier:
  ed25519_private_key: "` + base64.StdEncoding.EncodeToString(testSeed) + `"
  ed25519_public_key: "` + base64.StdEncoding.EncodeToString(pub) + `"
  ecdsa_private_key: "` + testECDSAKey + `"
api:
  host: 127.0.0.1
  port: 3333
`
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig(t)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.HubChain.ChainID != 1 {
		t.Errorf("hub chain id = %d", cfg.HubChain.ChainID)
	}
	if cfg.ListenAddr() != "127.0.0.1:3333" {
		t.Errorf("listen addr = %s", cfg.ListenAddr())
	}
	// Defaults survive partial config
	if cfg.CacheCapacityPerChain != 10000 {
		t.Errorf("cache capacity default = %d", cfg.CacheCapacityPerChain)
	}
}

func TestKeys_SelfCheckPasses(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig(t)))
	if err != nil {
		t.Fatal(err)
	}
	keys, err := cfg.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys.Ed25519Private) != ed25519.PrivateKeySize {
		t.Errorf("ed25519 private key size = %d", len(keys.Ed25519Private))
	}

	secret, _ := hex.DecodeString(testECDSAKey)
	ecdsaKey, _ := ethcrypto.ToECDSA(secret)
	want := ethcrypto.PubkeyToAddress(ecdsaKey.PublicKey)
	if keys.ECDSAAddress != want {
		t.Errorf("derived address = %s, want %s", keys.ECDSAAddress.Hex(), want.Hex())
	}
}

func TestKeys_PublicKeyMismatchFatal(t *testing.T) {
	body := strings.Replace(baseConfig(t),
		"ed25519_public_key: ",
		"ed25519_public_key: \"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=\" #", 1)
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Keys(); err == nil {
		t.Fatal("mismatched ed25519 public key accepted")
	}
}

func TestKeys_VerifierAddressMismatchFatal(t *testing.T) {
	body := baseConfig(t) + `
evm_chain:
  rpc_url: http://localhost:8545
  chain_id: 31337
  escrow_contract_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  verifier_address: "0x0000000000000000000000000000000000000001"
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Keys(); err == nil {
		t.Fatal("mismatched verifier_address accepted")
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg, err := Load(writeConfig(t, "api:\n  port: 3333\n"))
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("empty config validated")
	}
	if !strings.Contains(err.Error(), "hub_chain.rpc_url") {
		t.Errorf("missing hub rpc not reported: %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("API_PORT", "4444")
	cfg, err := Load(writeConfig(t, baseConfig(t)))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.Port != 4444 {
		t.Errorf("env override ignored, port = %d", cfg.API.Port)
	}
}
