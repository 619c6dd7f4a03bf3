// Copyright 2025 Int3nts Protocol
//
// Verifier Metrics
// Prometheus collectors for event ingestion, validation outcomes, and
// cache behavior. Registered on the default registry and served on
// /metrics by the HTTP surface.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts normalized events accepted into the cache
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "events_ingested_total",
		Help:      "Normalized events accepted into the cache",
	}, []string{"chain", "kind"})

	// DuplicateEvents counts at-least-once redeliveries dropped by dedupe
	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "duplicate_events_total",
		Help:      "Redelivered events dropped as bit-identical duplicates",
	}, []string{"chain", "kind"})

	// ConflictingEvents counts rejected non-identical rewrites
	ConflictingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "conflicting_events_total",
		Help:      "Events rejected because a non-identical value was already cached",
	}, []string{"chain", "kind"})

	// PollTicks counts completed poll cycles per chain and event kind
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "poll_ticks_total",
		Help:      "Completed poll cycles",
	}, []string{"chain", "kind", "outcome"})

	// DecodeFailures counts malformed events skipped during ingestion
	DecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "decode_failures_total",
		Help:      "Malformed on-chain events skipped",
	}, []string{"chain", "kind"})

	// ValidationResults counts terminal validation outcomes
	ValidationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "validation_results_total",
		Help:      "Validation outcomes by terminal state and reason",
	}, []string{"flow", "outcome"})

	// ApprovalsSigned counts signatures produced by scheme
	ApprovalsSigned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "approvals_signed_total",
		Help:      "Approval signatures produced",
	}, []string{"scheme"})

	// CacheRecords tracks the live record count
	CacheRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verifier",
		Name:      "cache_records",
		Help:      "Intent records currently cached",
	})

	// CacheEvictions counts FIFO evictions
	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "cache_evictions_total",
		Help:      "Records evicted by per-chain FIFO retention",
	})

	// RegistryLookups counts solver registry resolutions by cache outcome
	RegistryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verifier",
		Name:      "registry_lookups_total",
		Help:      "Solver registry lookups",
	}, []string{"outcome"})
)
