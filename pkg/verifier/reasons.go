// Copyright 2025 Int3nts Protocol
//
// Validation Failure Reasons
// Machine-readable, deterministic reasons surfaced to HTTP callers and
// stamped on rejected cache records. Predicate failures are never
// retryable; the transport kinds below are.

package verifier

import "fmt"

// Reason is the machine-readable validation failure reason
type Reason string

const (
	ReasonRevocable                Reason = "Revocable"
	ReasonExpired                  Reason = "Expired"
	ReasonLinkMismatch             Reason = "LinkMismatch"
	ReasonAmountInsufficient       Reason = "AmountInsufficient"
	ReasonTokenMismatch            Reason = "TokenMismatch"
	ReasonRecipientMismatch        Reason = "RecipientMismatch"
	ReasonSolverNotRegistered      Reason = "SolverNotRegistered"
	ReasonSolverMismatch           Reason = "SolverMismatch"
	ReasonIntentIDMissing          Reason = "IntentIdMissingInCalldata"
	ReasonTransactionNotConfirmed  Reason = "TransactionNotConfirmed"
	ReasonUnknownChainType         Reason = "UnknownChainType"
	ReasonIntentUnknown            Reason = "IntentUnknown"
	ReasonTransactionUnknown       Reason = "TransactionUnknown"
	ReasonChainUnavailable         Reason = "ChainUnavailable"
	ReasonMalformedTransaction     Reason = "MalformedTransaction"
	ReasonFlowMismatch             Reason = "FlowMismatch"
)

// Retryable reports whether the caller may usefully retry: only
// transport-level failures qualify
func (r Reason) Retryable() bool {
	return r == ReasonChainUnavailable
}

// ValidationError carries a reason plus human-readable detail
type ValidationError struct {
	Reason Reason
	Detail string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func failf(reason Reason, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
