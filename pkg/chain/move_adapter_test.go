// Copyright 2025 Int3nts Protocol
//
// Move Adapter Tests
// Runs the adapter against a stub fullnode to cover event decoding,
// cursor advancement, the transfer envelope, and the registry view.

package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/int3nts/trusted-verifier/pkg/types"
)

const moduleAddr = "0xc0ffee"

// stubFullnode serves a fixed account transaction list and transaction
// map in the fullnode wire format
type stubFullnode struct {
	transactions []map[string]interface{}
	byHash       map[string]map[string]interface{}
	viewResult   []map[string]interface{}

	requests []string
}

func (s *stubFullnode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.requests = append(s.requests, r.URL.String())
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.Contains(r.URL.Path, "/transactions/by_hash/"):
			hash := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			tx, ok := s.byHash[hash]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(map[string]string{"message": "transaction not found"})
				return
			}
			json.NewEncoder(w).Encode(tx)

		case strings.HasSuffix(r.URL.Path, "/view"):
			json.NewEncoder(w).Encode(s.viewResult)

		case strings.Contains(r.URL.Path, "/accounts/"):
			start := 0
			if v := r.URL.Query().Get("start"); v != "" {
				start, _ = strconv.Atoi(v)
			}
			if start >= len(s.transactions) {
				json.NewEncoder(w).Encode([]interface{}{})
				return
			}
			json.NewEncoder(w).Encode(s.transactions[start:])

		default:
			json.NewEncoder(w).Encode(map[string]uint32{"chain_id": 1})
		}
	}
}

func intentEventJSON(eventName, intentID string) map[string]interface{} {
	return map[string]interface{}{
		"type": fmt.Sprintf("%s::fa_intent::%s", moduleAddr, eventName),
		"data": map[string]interface{}{
			"intent_id":                 intentID,
			"requester":                 "0x10",
			"solver":                    "0xaa",
			"offered_chain_id":          "2",
			"offered_metadata":          "0x20",
			"offered_amount":            "100000000",
			"desired_chain_id":          "1",
			"desired_metadata":          "0x21",
			"desired_amount":            "100000000",
			"expiry":                    "1999999999",
			"revocable":                 false,
			"requester_connected_chain": "0x11",
		},
	}
}

func newMoveTestAdapter(t *testing.T, node *stubFullnode) *MoveAdapter {
	t.Helper()
	srv := httptest.NewServer(node.handler())
	t.Cleanup(srv.Close)

	adapter, err := NewMoveAdapter(&MoveAdapterConfig{
		Descriptor: &types.ChainDescriptor{
			ID:               1,
			Family:           types.FamilyMove,
			RPCEndpoint:      srv.URL,
			IntentModuleAddr: moduleAddr,
			PollIntervalMs:   100,
		},
		KnownAccounts: []string{moduleAddr},
		MaxBatch:      50,
	})
	if err != nil {
		t.Fatal(err)
	}
	return adapter
}

func TestMovePollIntentEvents_DecodeAndFlow(t *testing.T) {
	node := &stubFullnode{
		transactions: []map[string]interface{}{
			{
				"hash":    "0x1",
				"success": true,
				"events": []interface{}{
					intentEventJSON("LimitOrderEvent", "0x01"),
					intentEventJSON("OracleLimitOrderEvent", "0x02"),
				},
			},
			{
				"hash":    "0x2",
				"success": false, // failed transactions are skipped
				"events":  []interface{}{intentEventJSON("LimitOrderEvent", "0x03")},
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	events, err := adapter.PollIntentEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("%d events", len(events))
	}

	// Plain limit orders lock on the hub: outflow. Oracle-gated orders
	// escrow on the connected chain: inflow.
	if events[0].Flow != types.FlowOutflow {
		t.Errorf("LimitOrderEvent flow = %s", events[0].Flow)
	}
	if events[1].Flow != types.FlowInflow {
		t.Errorf("OracleLimitOrderEvent flow = %s", events[1].Flow)
	}
	if events[0].OfferedAmount.Uint64() != 100000000 {
		t.Errorf("offered amount = %s", events[0].OfferedAmount)
	}
	if events[0].ExpiryUnixS != 1999999999 {
		t.Errorf("expiry = %d", events[0].ExpiryUnixS)
	}

	// Cursor advanced: the next poll starts past both transactions
	events, err = adapter.PollIntentEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("replayed %d events after cursor advance", len(events))
	}
}

func TestMovePollFulfillmentEvents(t *testing.T) {
	node := &stubFullnode{
		transactions: []map[string]interface{}{
			{
				"hash":    "0x1",
				"success": true,
				"events": []interface{}{
					map[string]interface{}{
						"type": moduleAddr + "::fa_intent::LimitOrderFulfillmentEvent",
						"data": map[string]interface{}{
							"intent_id":         "0x05",
							"solver":            "0xaa",
							"provided_amount":   "100000000",
							"provided_metadata": "0x21",
							"timestamp":         "1700000000",
						},
					},
				},
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	events, err := adapter.PollFulfillmentEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("%d events", len(events))
	}
	if events[0].ProvidedAmount.Uint64() != 100000000 {
		t.Errorf("provided amount = %s", events[0].ProvidedAmount)
	}
}

func TestMovePollIntentEvents_SkipsMalformed(t *testing.T) {
	bad := intentEventJSON("LimitOrderEvent", "0x01")
	bad["data"].(map[string]interface{})["offered_amount"] = "not-a-number"

	node := &stubFullnode{
		transactions: []map[string]interface{}{
			{
				"hash":    "0x1",
				"success": true,
				"events":  []interface{}{bad, intentEventJSON("LimitOrderEvent", "0x02")},
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	events, err := adapter.PollIntentEvents(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("%d events, want the malformed one skipped", len(events))
	}
	if events[0].IntentID[31] != 0x02 {
		t.Errorf("wrong event survived: %s", events[0].IntentID.Hex())
	}
}

func TestMoveFetchTransfer(t *testing.T) {
	node := &stubFullnode{
		byHash: map[string]map[string]interface{}{
			"0xabc": {
				"hash":    "0xabc",
				"sender":  "0xaa",
				"success": true,
				"payload": map[string]interface{}{
					"type":      "entry_function_payload",
					"function":  "0x1::utils::transfer_with_intent_id",
					"arguments": []interface{}{"0x11", "0x21", "100000000", "0x07"},
				},
			},
			"0xdef": {
				"hash":    "0xdef",
				"sender":  "0xaa",
				"success": true,
				"payload": map[string]interface{}{
					"type":      "entry_function_payload",
					"function":  "0x1::coin::transfer",
					"arguments": []interface{}{"0x11", "100000000"},
				},
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	transfer, err := adapter.FetchTransfer(context.Background(), "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if transfer.Amount.Uint64() != 100000000 {
		t.Errorf("amount = %s", transfer.Amount)
	}
	if transfer.IntentID == nil || (*transfer.IntentID)[31] != 0x07 {
		t.Error("intent id argument not parsed")
	}
	if !transfer.Confirmed {
		t.Error("successful transaction not confirmed")
	}

	// A plain coin transfer is not the envelope
	if _, err := adapter.FetchTransfer(context.Background(), "0xdef"); err == nil {
		t.Error("non-envelope function accepted")
	}

	// Unknown hash maps to the not-found kind
	_, err = adapter.FetchTransfer(context.Background(), "0x404")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown hash error = %v", err)
	}
}

func TestMoveLookupSolverRegistryEntry(t *testing.T) {
	node := &stubFullnode{
		viewResult: []map[string]interface{}{
			{
				"evm_address":        "0x00000000000000000000000000000000000000bb",
				"solana_address":     "0x" + strings.Repeat("00", 31) + "cc",
				"ed25519_public_key": "0x" + strings.Repeat("00", 31) + "dd",
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	var hub types.Address
	hub[31] = 0xAA
	entry, err := adapter.LookupSolverRegistryEntry(context.Background(), hub)
	if err != nil {
		t.Fatal(err)
	}
	if !entry.HasEVM || entry.EVMAddr[31] != 0xBB {
		t.Errorf("evm addr = %s", entry.EVMAddr.Hex())
	}
	if !entry.HasSolana || entry.SolanaAddr[31] != 0xCC {
		t.Errorf("solana addr = %s", entry.SolanaAddr.Hex())
	}
	if len(entry.Ed25519PK) != 32 || entry.Ed25519PK[31] != 0xDD {
		t.Errorf("ed25519 pk = %x", entry.Ed25519PK)
	}
}

func TestMoveLookupSolverRegistry_ZeroIdentitiesOmitted(t *testing.T) {
	node := &stubFullnode{
		viewResult: []map[string]interface{}{
			{
				"evm_address":        "0x0000000000000000000000000000000000000000",
				"solana_address":     "",
				"ed25519_public_key": "",
			},
		},
	}
	adapter := newMoveTestAdapter(t, node)

	var hub types.Address
	entry, err := adapter.LookupSolverRegistryEntry(context.Background(), hub)
	if err != nil {
		t.Fatal(err)
	}
	if entry.HasEVM || entry.HasSolana || entry.Ed25519PK != nil {
		t.Error("zero identities reported as registered")
	}
}
