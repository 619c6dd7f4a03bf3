// Copyright 2025 Int3nts Protocol
//
// Normalized Event Model Tests

package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseIntentID_Forms(t *testing.T) {
	want := "0x00000000000000000000000000000000000000000000000000000000000000ab"

	cases := []string{
		"0xab",
		"ab",
		"0xAB",
		"0x00ab",
		"0x00000000000000000000000000000000000000000000000000000000000000ab",
	}
	for _, in := range cases {
		id, err := ParseIntentID(in)
		if err != nil {
			t.Fatalf("ParseIntentID(%q): %v", in, err)
		}
		if id.Hex() != want {
			t.Errorf("ParseIntentID(%q) = %s, want %s", in, id.Hex(), want)
		}
	}
}

func TestParseIntentID_OddNibbleCount(t *testing.T) {
	id, err := ParseIntentID("0xabc")
	if err != nil {
		t.Fatalf("odd nibble count: %v", err)
	}
	if id[31] != 0xbc || id[30] != 0x0a {
		t.Errorf("odd nibble padding wrong: %s", id.Hex())
	}
}

func TestParseIntentID_Rejects(t *testing.T) {
	for _, in := range []string{"", "0x", "zz", strings.Repeat("ff", 33)} {
		if _, err := ParseIntentID(in); err == nil {
			t.Errorf("ParseIntentID(%q) should fail", in)
		}
	}
}

func TestIntentID_CanonicalFormDistinguishesPaddedIDs(t *testing.T) {
	// Two ids differing only deep inside leading zeros must not collide:
	// the canonical form is the full 32 bytes.
	a, _ := ParseIntentID("0x01")
	b, _ := ParseIntentID("0x0100000000000000000000000000000000000000000000000000000000000000")
	if a == b {
		t.Fatal("distinct padded ids collided")
	}
}

func TestIntentID_Display(t *testing.T) {
	id, _ := ParseIntentID("0x00ab")
	if got := id.Display(); got != "0xab" {
		t.Errorf("Display() = %s, want 0xab", got)
	}
	var zero IntentID
	if got := zero.Display(); got != "0x0" {
		t.Errorf("zero Display() = %s, want 0x0", got)
	}
}

func TestAddressFromBytes_EVMPadding(t *testing.T) {
	evm := make([]byte, 20)
	evm[19] = 0x42
	a, err := AddressFromBytes(evm)
	if err != nil {
		t.Fatalf("AddressFromBytes: %v", err)
	}
	for i := 0; i < 12; i++ {
		if a[i] != 0 {
			t.Fatalf("byte %d not zero-padded", i)
		}
	}
	if a[31] != 0x42 {
		t.Errorf("EVM body misplaced: %s", a.Hex())
	}
	if len(a.EVMBytes()) != 20 || a.EVMBytes()[19] != 0x42 {
		t.Errorf("EVMBytes round trip failed")
	}
}

func TestParseAddress_CaseInsensitive(t *testing.T) {
	lower, err := ParseAddress("0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	upper, err := ParseAddress("0xDEADBEEF")
	if err != nil {
		t.Fatal(err)
	}
	if lower != upper {
		t.Error("case-sensitive address comparison")
	}
}

func TestParseU128(t *testing.T) {
	v, err := ParseU128("100000000")
	if err != nil {
		t.Fatal(err)
	}
	if v.Uint64() != 100000000 {
		t.Errorf("ParseU128 = %s", v)
	}

	// Max u128 accepted, one more rejected
	max := "340282366920938463463374607431768211455"
	if _, err := ParseU128(max); err != nil {
		t.Errorf("max u128 rejected: %v", err)
	}
	if _, err := ParseU128("340282366920938463463374607431768211456"); err == nil {
		t.Error("2^128 accepted")
	}
	if _, err := ParseU128("-1"); err == nil {
		t.Error("negative amount accepted")
	}
}

func TestEqualIntentEvent_IgnoresObservedAt(t *testing.T) {
	id, _ := ParseIntentID("0x01")
	a := &IntentEvent{IntentID: id, ChainID: 1, OfferedAmount: U128FromUint64(5), DesiredAmount: U128FromUint64(7)}
	b := &IntentEvent{IntentID: id, ChainID: 1, OfferedAmount: U128FromUint64(5), DesiredAmount: U128FromUint64(7)}
	b.ObservedAt = a.ObservedAt.Add(1)
	if !EqualIntentEvent(a, b) {
		t.Error("observation timestamp affected equality")
	}
	b.ChainID = 2
	if EqualIntentEvent(a, b) {
		t.Error("distinct events reported equal")
	}
}

func TestApprovalSignature_JSON(t *testing.T) {
	iid, _ := ParseIntentID("0x0f")
	a := &ApprovalSignature{
		IntentID:      iid,
		ApprovalValue: 1,
		Signature:     []byte{0x01, 0x02},
		Scheme:        SchemeEd25519,
	}
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["signature_base64"] != "AQI=" {
		t.Errorf("signature_base64 = %v", decoded["signature_base64"])
	}
	if decoded["signature_type"] != "ed25519" {
		t.Errorf("signature_type = %v", decoded["signature_type"])
	}
}
