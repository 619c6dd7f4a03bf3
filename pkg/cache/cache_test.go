// Copyright 2025 Int3nts Protocol
//
// Event Cache Tests

package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/int3nts/trusted-verifier/pkg/types"
)

func intentID(b byte) types.IntentID {
	var id types.IntentID
	id[31] = b
	return id
}

func intentEvent(id types.IntentID, flow types.FlowDirection) *types.IntentEvent {
	return &types.IntentEvent{
		IntentID:      id,
		ChainID:       1,
		OfferedAmount: types.U128FromUint64(100000000),
		DesiredAmount: types.U128FromUint64(100000000),
		Flow:          flow,
		ExpiryUnixS:   uint64(time.Now().Add(time.Hour).Unix()),
	}
}

func escrowEvent(id types.IntentID) *types.EscrowEvent {
	return &types.EscrowEvent{
		IntentID:    id,
		ChainFamily: types.FamilyMove,
		ChainID:     2,
		Amount:      types.U128FromUint64(100000000),
		ExpiryUnixS: uint64(time.Now().Add(time.Hour).Unix()),
	}
}

func fulfillmentEvent(id types.IntentID) *types.FulfillmentEvent {
	return &types.FulfillmentEvent{
		IntentID:       id,
		ProvidedAmount: types.U128FromUint64(100000000),
	}
}

func TestPutIntent_DedupeIdempotence(t *testing.T) {
	c := New(10)
	id := intentID(1)

	changed, err := c.PutIntent(intentEvent(id, types.FlowInflow))
	if err != nil || !changed {
		t.Fatalf("first put: changed=%v err=%v", changed, err)
	}

	// At-least-once polling redelivers the identical event
	changed, err = c.PutIntent(intentEvent(id, types.FlowInflow))
	if err != nil {
		t.Fatalf("duplicate put errored: %v", err)
	}
	if changed {
		t.Error("bit-identical redelivery reported as a change")
	}
	if c.Len() != 1 {
		t.Errorf("cache has %d records, want 1", c.Len())
	}
}

func TestPutIntent_ConflictRejected(t *testing.T) {
	c := New(10)
	id := intentID(2)

	if _, err := c.PutIntent(intentEvent(id, types.FlowInflow)); err != nil {
		t.Fatal(err)
	}

	conflicting := intentEvent(id, types.FlowInflow)
	conflicting.OfferedAmount = types.U128FromUint64(999)
	if _, err := c.PutIntent(conflicting); err == nil {
		t.Fatal("conflicting rewrite accepted")
	}

	// The original value survives
	rec := c.Get(id)
	if rec.Intent.OfferedAmount.Uint64() != 100000000 {
		t.Error("cached intent was overwritten")
	}
}

func TestStateMachine_InflowEligibility(t *testing.T) {
	c := New(10)
	id := intentID(3)

	c.PutIntent(intentEvent(id, types.FlowInflow))
	if got := c.Get(id).State; got != StatePartiallyObserved {
		t.Fatalf("after intent: state = %s", got)
	}

	c.PutEscrow(escrowEvent(id))
	if got := c.Get(id).State; got != StatePartiallyObserved {
		t.Fatalf("after escrow: state = %s", got)
	}

	c.PutFulfillment(1, fulfillmentEvent(id))
	if got := c.Get(id).State; got != StateValidationEligible {
		t.Fatalf("after fulfillment: state = %s", got)
	}
}

func TestStateMachine_OutflowNeverAutoEligible(t *testing.T) {
	c := New(10)
	id := intentID(4)

	c.PutIntent(intentEvent(id, types.FlowOutflow))
	c.PutEscrow(escrowEvent(id))
	c.PutFulfillment(1, fulfillmentEvent(id))

	if got := c.Get(id).State; got == StateValidationEligible {
		t.Error("outflow record became inflow-eligible")
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	c := New(10)
	id := intentID(5)

	c.PutIntent(intentEvent(id, types.FlowInflow))
	c.MarkRejected(id, "Revocable")

	rec := c.Get(id)
	if rec.State != StateRejected || rec.Reason != "Revocable" {
		t.Fatalf("state = %s, reason = %q", rec.State, rec.Reason)
	}

	// Later observations cannot reopen a terminal record
	c.PutEscrow(escrowEvent(id))
	c.PutFulfillment(1, fulfillmentEvent(id))
	if got := c.Get(id).State; got != StateRejected {
		t.Errorf("terminal state reopened to %s", got)
	}

	c.MarkExpired(id, "Expired")
	if got := c.Get(id).State; got != StateRejected {
		t.Errorf("terminal state transitioned to %s", got)
	}

	if err := c.SetApproval(id, &types.ApprovalSignature{IntentID: id}); err == nil {
		t.Error("approval accepted on rejected record")
	}
}

func TestSetApproval_Idempotent(t *testing.T) {
	c := New(10)
	id := intentID(6)

	c.PutIntent(intentEvent(id, types.FlowInflow))
	approval := &types.ApprovalSignature{IntentID: id, Signature: []byte{1, 2, 3}, Scheme: types.SchemeEd25519}
	if err := c.SetApproval(id, approval); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(id).State; got != StateApproved {
		t.Fatalf("state = %s", got)
	}

	// Second set is a no-op preserving the original bytes
	other := &types.ApprovalSignature{IntentID: id, Signature: []byte{9}, Scheme: types.SchemeEd25519}
	if err := c.SetApproval(id, other); err != nil {
		t.Fatal(err)
	}
	if got := c.Approval(id); got.Signature[0] != 1 {
		t.Error("approval bytes replaced")
	}
}

func TestFIFOEviction_PerChain(t *testing.T) {
	c := New(3)

	for i := 1; i <= 5; i++ {
		ev := intentEvent(intentID(byte(i)), types.FlowInflow)
		if _, err := c.PutIntent(ev); err != nil {
			t.Fatal(err)
		}
	}

	if c.Len() != 3 {
		t.Fatalf("cache has %d records, want 3", c.Len())
	}
	// Oldest-first: 1 and 2 evicted
	if c.Get(intentID(1)) != nil || c.Get(intentID(2)) != nil {
		t.Error("oldest records survived eviction")
	}
	if c.Get(intentID(5)) == nil {
		t.Error("newest record evicted")
	}
}

func TestEviction_RemovesApproval(t *testing.T) {
	c := New(1)
	old := intentID(1)

	c.PutIntent(intentEvent(old, types.FlowInflow))
	c.SetApproval(old, &types.ApprovalSignature{IntentID: old})

	c.PutIntent(intentEvent(intentID(2), types.FlowInflow))
	if c.Approval(old) != nil {
		t.Error("approval survived record eviction")
	}
}

func TestUpdates_SignalPerWrite(t *testing.T) {
	c := New(10)
	id := intentID(7)

	c.PutIntent(intentEvent(id, types.FlowInflow))
	select {
	case got := <-c.Updates():
		if got != id {
			t.Errorf("update for %s, want %s", got.Display(), id.Display())
		}
	default:
		t.Fatal("no update signal after write")
	}

	// Duplicates do not signal
	c.PutIntent(intentEvent(id, types.FlowInflow))
	select {
	case <-c.Updates():
		t.Fatal("duplicate write signaled")
	default:
	}
}

func TestSnapshot_IsolatedFromWrites(t *testing.T) {
	c := New(10)
	for i := 1; i <= 4; i++ {
		c.PutIntent(intentEvent(intentID(byte(i)), types.FlowInflow))
	}
	snap := c.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("snapshot has %d records", len(snap))
	}
	for _, rec := range snap {
		if rec.StateName == "" {
			t.Error("snapshot missing state name")
		}
	}
}

func TestConcurrentWrites_SameIntent(t *testing.T) {
	c := New(100)
	id := intentID(9)

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := c.PutIntent(intentEvent(id, types.FlowInflow))
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent identical put: %v", err)
		}
	}
	if c.Len() != 1 {
		t.Errorf("cache has %d records, want 1", c.Len())
	}
}

func TestChainLabel(t *testing.T) {
	if chainLabel(42) != fmt.Sprintf("%d", 42) {
		t.Error("chain label mismatch")
	}
}
