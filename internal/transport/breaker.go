// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

package transport

import (
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
)

// capabilityBreaker wraps one capability's candidate walk with a circuit
// breaker so a persistently failing backend stops burning candidate
// attempts. A rejected request surfaces as an ordinary error, which lets
// the service-level offline fallbacks engage exactly as they do for
// candidate exhaustion.
//
// The breaker uses real time for its interval and timeout; tests exercise
// the wrapped client directly rather than waiting out breaker windows.
type capabilityBreaker struct {
	cb   *gobreaker.CircuitBreaker[json.RawMessage]
	name string
}

// newCapabilityBreaker mirrors the standard breaker tuning used for
// upstream API clients: 3 half-open probes, 1 minute measurement window,
// 2 minute open period, trip at a 60% failure rate over at least 10
// requests.
func newCapabilityBreaker(name string) *capabilityBreaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Str("capability", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().
				Str("capability", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &capabilityBreaker{cb: cb, name: name}
}

func (b *capabilityBreaker) execute(fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	return b.cb.Execute(fn)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
