// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package metrics provides Prometheus instrumentation for the data-access
// layer: capability request outcomes, fallback engagements, circuit breaker
// state, and swipe-session mode transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Capability Request Metrics

	CapabilityRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoreel_capability_requests_total",
			Help: "Total capability request attempts by outcome",
		},
		[]string{"capability", "outcome"}, // outcome: "success", "http_error", "network_error", "malformed", "rejected"
	)

	CapabilityCandidateAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoreel_capability_candidate_attempts_total",
			Help: "Per-candidate endpoint attempts within a capability call",
		},
		[]string{"capability"},
	)

	// Fallback Metrics

	FallbackEngagements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoreel_fallback_engagements_total",
			Help: "Times an offline/demo fallback path answered instead of the backend",
		},
		[]string{"component", "reason"}, // reason: "unreachable", "empty_result", "error"
	)

	// Circuit Breaker Metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echoreel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoreel_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Swipe Session Metrics

	SwipeSessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echoreel_swipe_sessions_active",
			Help: "Active swipe sessions by mode",
		},
		[]string{"mode"},
	)

	SwipeModeDegradations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoreel_swipe_mode_degradations_total",
			Help: "Shadow-to-offline swipe session degradations",
		},
	)

	// Auth Metrics

	AuthErrorsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echoreel_auth_errors_detected_total",
			Help: "Responses classified as authentication failures",
		},
	)
)
