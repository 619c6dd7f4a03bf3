// Copyright 2025 Int3nts Protocol
//
// HTTP Surface
// Thin handlers over the cache plus the synchronous outflow validation
// endpoint. Every response carries the {success, data?, error?}
// envelope. No handler mutates entity state except through the cache's
// sanctioned write paths.

package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/int3nts/trusted-verifier/pkg/cache"
	"github.com/int3nts/trusted-verifier/pkg/poller"
	"github.com/int3nts/trusted-verifier/pkg/signer"
	"github.com/int3nts/trusted-verifier/pkg/types"
	"github.com/int3nts/trusted-verifier/pkg/verifier"
)

// Server wires the verifier's HTTP endpoints
type Server struct {
	cache     *cache.Cache
	pollers   *poller.Group
	signer    *signer.Signer
	validator *verifier.Validator
	logger    *log.Logger

	// outflowDeadline bounds the end-to-end outflow validation request
	outflowDeadline time.Duration

	startTime time.Time
}

// Config holds server construction parameters
type Config struct {
	Cache           *cache.Cache
	Pollers         *poller.Group
	Signer          *signer.Signer
	Validator       *verifier.Validator
	OutflowDeadline time.Duration
	Logger          *log.Logger
}

// New creates the HTTP surface
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	deadline := cfg.OutflowDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &Server{
		cache:           cfg.Cache,
		pollers:         cfg.Pollers,
		signer:          cfg.Signer,
		validator:       cfg.Validator,
		logger:          logger,
		outflowDeadline: deadline,
		startTime:       time.Now().UTC(),
	}
}

// Routes registers every endpoint on a fresh mux
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleHealthDetailed)
	mux.HandleFunc("/public-key", s.handlePublicKey)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/approvals", s.handleApprovals)
	mux.HandleFunc("/approvals/", s.handleApprovalByID)
	mux.HandleFunc("/validate-outflow-fulfillment", s.handleValidateOutflow)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// =============================================================================
// RESPONSE ENVELOPE
// =============================================================================

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

// =============================================================================
// HEALTH
// =============================================================================

// handleHealth reports ok only once every poller has completed at least
// one poll
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.pollers.Ready() {
		writeJSONError(w, "adapters have not completed their first poll", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	detailed := map[string]interface{}{
		"ready":          s.pollers.Ready(),
		"pollers":        s.pollers.Status(),
		"cached_records": s.cache.Len(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}
	status := http.StatusOK
	if !s.pollers.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, detailed)
}

// =============================================================================
// KEY MATERIAL
// =============================================================================

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ed25519_base64":    s.signer.Ed25519PublicKeyBase64(),
		"ecdsa_eth_address": s.signer.ECDSAAddress().Hex(),
	})
}

// =============================================================================
// CACHE QUERIES
// =============================================================================

// handleEvents serves the full cache snapshot as three event arrays
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.cache.Snapshot()
	intents := make([]*types.IntentEvent, 0)
	escrows := make([]*types.EscrowEvent, 0)
	fulfillments := make([]*types.FulfillmentEvent, 0)
	for _, rec := range snap {
		if rec.Intent != nil {
			intents = append(intents, rec.Intent)
		}
		if rec.Escrow != nil {
			escrows = append(escrows, rec.Escrow)
		}
		if rec.Fulfillment != nil {
			fulfillments = append(fulfillments, rec.Fulfillment)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intent_events":      intents,
		"escrow_events":      escrows,
		"fulfillment_events": fulfillments,
	})
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	approvals := s.cache.Approvals()
	if approvals == nil {
		approvals = []*types.ApprovalSignature{}
	}
	writeJSON(w, http.StatusOK, approvals)
}

// handleApprovalByID serves GET /approvals/:intent_id
func (s *Server) handleApprovalByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/approvals/")
	if raw == "" || raw == r.URL.Path {
		writeJSONError(w, "intent id required", http.StatusBadRequest)
		return
	}
	id, err := types.ParseIntentID(raw)
	if err != nil {
		writeJSONError(w, "invalid intent id: must resolve to 32 bytes", http.StatusBadRequest)
		return
	}

	approval := s.cache.Approval(id)
	if approval == nil {
		writeJSONError(w, "no approval for intent id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// =============================================================================
// OUTFLOW VALIDATION
// =============================================================================

// outflowRequestBody is the POST /validate-outflow-fulfillment input
type outflowRequestBody struct {
	IntentID        string `json:"intent_id"`
	ChainType       string `json:"chain_type"`
	TransactionHash string `json:"transaction_hash"`
}

// outflowResponse is the endpoint's data payload
type outflowResponse struct {
	Validation        outflowValidation  `json:"validation"`
	ApprovalSignature *approvalSignature `json:"approval_signature,omitempty"`
}

type outflowValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type approvalSignature struct {
	SignatureBase64 string `json:"signature_base64"`
	SignatureType   string `json:"signature_type"`
}

func (s *Server) handleValidateOutflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body outflowRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := types.ParseIntentID(body.IntentID)
	if err != nil {
		writeJSONError(w, "invalid intent id: must resolve to 32 bytes", http.StatusBadRequest)
		return
	}
	family, err := types.ParseChainFamily(body.ChainType)
	if err != nil {
		writeJSONError(w, "chain_type must be one of mvm, evm, svm", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.TransactionHash) == "" {
		writeJSONError(w, "transaction_hash is required", http.StatusBadRequest)
		return
	}

	reqID := uuid.New()
	s.logger.Printf("outflow validation %s: intent %s via %s tx %s", reqID, id.Display(), family, body.TransactionHash)

	ctx, cancel := context.WithTimeout(r.Context(), s.outflowDeadline)
	defer cancel()

	result := s.validator.ValidateOutflow(ctx, &verifier.OutflowRequest{
		IntentID:  id,
		ChainType: family,
		TxHash:    strings.TrimSpace(body.TransactionHash),
	})

	if ctx.Err() == context.DeadlineExceeded {
		writeJSONError(w, "validation deadline exceeded", http.StatusGatewayTimeout)
		return
	}
	if !result.Valid && result.Reason == verifier.ReasonChainUnavailable {
		writeJSONError(w, "connected chain unavailable, retry later", http.StatusServiceUnavailable)
		return
	}

	resp := outflowResponse{
		Validation: outflowValidation{Valid: result.Valid, Reason: string(result.Reason)},
	}
	if result.Valid && result.Approval != nil {
		resp.ApprovalSignature = &approvalSignature{
			SignatureBase64: encodeBase64(result.Approval.Signature),
			SignatureType:   string(result.Approval.Scheme),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
