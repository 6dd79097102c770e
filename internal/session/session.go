// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package session owns the process-wide identity: a user id and session
// token pair persisted in a small durable key-value store. Identity is
// lazily initialized with a temporary id until an external auth flow
// completes, and the pair is always written and cleared together.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
)

// Store keys. Two scalar fields are the entire durable footprint.
const (
	keySessionToken = "sessionToken"
	keyUserID       = "userId"
)

// DemoUserID is the fixed placeholder identity used by demo deployments.
// A persisted demo identity found outside demo mode is treated as stale
// and cleared so the user re-authenticates.
const DemoUserID = "demo-user"

// ErrNotInitialized is returned by Credentials when either field is
// absent. Callers must treat it as fatal for the current request only.
var ErrNotInitialized = errors.New("session not initialized")

// Credentials is the user id and session token pair attached to backend
// request bodies.
type Credentials struct {
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
}

// Notifier receives the user-visible side effect when an authentication
// failure is detected. Implementations surface it however the embedding
// application wants (UI toast, log line, ...).
type Notifier interface {
	NotifyAuthError(err error)
}

// Manager mediates all access to the stored identity.
type Manager struct {
	store    Store
	demoMode bool
	notifier Notifier
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDemoMode pins Initialize to the fixed demo identity.
func WithDemoMode(enabled bool) Option {
	return func(m *Manager) { m.demoMode = enabled }
}

// WithNotifier sets the auth-error notification sink.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithClock overrides the time source used to mint temporary ids.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over the given store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize ensures a usable identity exists. A persisted demo identity
// outside demo mode is cleared first; an already-valid session is left
// untouched, so a second call is a no-op. Otherwise a temporary identity
// is minted and persisted: temp-<unix-ms> (or the fixed demo id in demo
// mode) with a token derived from it.
func (m *Manager) Initialize() error {
	token, userID, err := m.read()
	if err != nil {
		return err
	}

	if token != "" && userID == DemoUserID && !m.demoMode {
		logging.Warn().Msg("Found demo-user session, clearing to force re-authentication")
		if err := m.Clear(); err != nil {
			return err
		}
		token, userID = "", ""
	}

	if token != "" && userID != "" {
		logging.Debug().Str("user_id", userID).Msg("Session already initialized")
		return nil
	}

	newID := fmt.Sprintf("temp-%d", m.now().UnixMilli())
	if m.demoMode {
		newID = DemoUserID
	}
	if err := m.writePair(newID, deriveToken(newID)); err != nil {
		return err
	}

	logging.Info().Str("user_id", newID).Msg("Temporary session initialized")
	return nil
}

// Credentials returns the stored pair, or ErrNotInitialized if either
// field is absent.
func (m *Manager) Credentials() (Credentials, error) {
	token, userID, err := m.read()
	if err != nil {
		return Credentials{}, err
	}
	if token == "" || userID == "" {
		return Credentials{}, ErrNotInitialized
	}
	return Credentials{UserID: userID, SessionToken: token}, nil
}

// Update replaces the identity after a successful external auth
// completion. An empty token derives one deterministically from the
// user id.
func (m *Manager) Update(userID, token string) error {
	if token == "" {
		token = deriveToken(userID)
	}
	if err := m.writePair(userID, token); err != nil {
		return err
	}
	logging.Info().Str("user_id", userID).Msg("Session updated")
	return nil
}

// Clear removes both fields. Token is removed first so a partial failure
// can never leave a token without its user id.
func (m *Manager) Clear() error {
	if err := m.store.Remove(keySessionToken); err != nil {
		return err
	}
	if err := m.store.Remove(keyUserID); err != nil {
		return err
	}
	logging.Debug().Msg("Session cleared")
	return nil
}

// HandleAuthError emits the user-visible notification for an auth
// failure. It deliberately does not clear the session: recovery policy
// belongs to the caller.
func (m *Manager) HandleAuthError(err error) {
	metrics.AuthErrorsDetected.Inc()
	logging.Error().Err(err).Msg("Authentication error")
	if m.notifier != nil {
		m.notifier.NotifyAuthError(err)
	}
}

func (m *Manager) read() (token, userID string, err error) {
	token, _, err = m.store.Get(keySessionToken)
	if err != nil {
		return "", "", err
	}
	userID, _, err = m.store.Get(keyUserID)
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// writePair persists both fields, user id first and token second, so the
// initialized state (both present) only appears once the write completed.
// On a partial failure the user id is rolled back best-effort.
func (m *Manager) writePair(userID, token string) error {
	if err := m.store.Set(keyUserID, userID); err != nil {
		return err
	}
	if err := m.store.Set(keySessionToken, token); err != nil {
		_ = m.store.Remove(keyUserID)
		return err
	}
	return nil
}

func deriveToken(userID string) string {
	return "session:" + userID
}

// IsAuthError classifies an error as authentication-related by message
// inspection. This is a heuristic, not a protocol-level check: backend
// shapes vary too much for anything stricter.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403")
}
