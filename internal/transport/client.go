// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package transport implements the resilient request client every backend
// capability is reached through.
//
// A capability (e.g. "get liked tracks") may be reachable via several
// physical path spellings; the backend's route naming is inconsistent, so
// each capability carries an ordered candidate list and the client walks
// it in fixed priority order. A network failure or, depending on the
// capability's retry discipline, an HTTP failure moves on to the next
// candidate; exhausting all candidates surfaces the last error.
//
// Resilience mechanisms:
//   - Per-capability circuit breaker (sony/gobreaker)
//   - Client-side rate limiting (golang.org/x/time/rate)
//   - Session credentials merged into POST bodies unless a call is
//     explicitly exempted (completing an auth handshake must not require
//     a pre-existing session)
//
// Callers relying on deadlines must layer their own via context: beyond
// the per-attempt HTTP timeout there is no intrinsic cancellation here.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
	"github.com/echoreel/echoreel/internal/session"
)

// maxErrorBodySize limits how much of a failure response body is retained
// for error reporting.
const maxErrorBodySize = 64 * 1024

// Discipline selects how a capability treats HTTP failures while walking
// candidates. A 404 plausibly means "wrong path spelling", so it always
// moves on to the next candidate; the disciplines differ on everything
// else.
type Discipline int

const (
	// RetryAllCandidates treats any failure as retry-worthy across
	// candidates.
	RetryAllCandidates Discipline = iota

	// StopOnNon404 treats any non-404 failure as terminal: the path was
	// right, the request genuinely failed.
	StopOnNon404
)

// Capability describes one logical backend operation family.
type Capability struct {
	// Name labels errors, logs, and metrics.
	Name string

	// BasePaths is the ordered candidate spelling list, each starting
	// with "/".
	BasePaths []string

	// Discipline is the HTTP-failure policy while walking candidates.
	Discipline Discipline

	// AttachCredentials merges the session credential pair into POST
	// bodies for this capability.
	AttachCredentials bool
}

// CredentialFunc supplies the session pair merged into request bodies.
type CredentialFunc func() (session.Credentials, error)

// Client is the resilient multi-endpoint request client.
type Client struct {
	origin      string
	http        *http.Client
	caps        map[string]Capability
	breakers    map[string]*capabilityBreaker
	creds       CredentialFunc
	onAuthError func(error)
	limiter     *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each individual candidate attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithCredentials sets the session credential source.
func WithCredentials(fn CredentialFunc) Option {
	return func(c *Client) { c.creds = fn }
}

// WithAuthErrorHook sets the hook invoked the moment a response is
// classified as an authentication failure. Notification and propagation
// are independent: the hook fires and the error still follows the
// capability's discipline.
func WithAuthErrorHook(fn func(error)) Option {
	return func(c *Client) { c.onAuthError = fn }
}

// WithRateLimit enables the client-side limiter. A zero perSecond leaves
// requests unlimited.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// New creates a Client for the given backend origin (no trailing slash).
func New(origin string, opts ...Option) *Client {
	c := &Client{
		origin:   strings.TrimRight(origin, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		caps:     make(map[string]Capability),
		breakers: make(map[string]*capabilityBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a capability. Registering the same name again replaces
// the configuration but keeps the existing breaker state.
func (c *Client) Register(target Capability) {
	c.caps[target.Name] = target
	if _, ok := c.breakers[target.Name]; !ok {
		c.breakers[target.Name] = newCapabilityBreaker(target.Name)
	}
}

// CallOption adjusts a single call.
type CallOption func(*callSettings)

type callSettings struct {
	skipCredentials bool
}

// WithoutCredentials exempts this call from credential merging. Used for
// completing an external auth handshake, which must work before any
// session exists.
func WithoutCredentials() CallOption {
	return func(s *callSettings) { s.skipCredentials = true }
}

// Call issues one capability request and returns the decoded-ready JSON
// body. A 2xx response with an empty body returns (nil, nil), the
// canonical empty result. method is http.MethodGet or http.MethodPost;
// credentials are only ever merged into POST bodies.
func (c *Client) Call(ctx context.Context, capability, method, endpoint string, body map[string]any, opts ...CallOption) (json.RawMessage, error) {
	target, ok := c.caps[capability]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", capability)
	}

	var settings callSettings
	for _, opt := range opts {
		opt(&settings)
	}

	payload, err := c.encodeBody(target, method, body, settings)
	if err != nil {
		return nil, err
	}

	breaker := c.breakers[capability]
	raw, err := breaker.execute(func() (json.RawMessage, error) {
		return c.walkCandidates(ctx, target, method, endpoint, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CapabilityRequests.WithLabelValues(capability, "rejected").Inc()
			logging.Warn().Str("capability", capability).Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		}
		return nil, err
	}
	return raw, nil
}

// encodeBody merges session credentials into the caller's body (caller
// fields win) and marshals once for all candidate attempts. A missing
// session is fatal for the request, not retried across candidates.
func (c *Client) encodeBody(target Capability, method string, body map[string]any, settings callSettings) ([]byte, error) {
	if method != http.MethodPost {
		return nil, nil
	}

	merged := make(map[string]any, len(body)+2)
	if target.AttachCredentials && !settings.skipCredentials && c.creds != nil {
		creds, err := c.creds()
		if err != nil {
			return nil, err
		}
		merged["userId"] = creds.UserID
		merged["sessionToken"] = creds.SessionToken
	}
	for k, v := range body {
		merged[k] = v
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode %s request body: %w", target.Name, err)
	}
	return payload, nil
}

func (c *Client) walkCandidates(ctx context.Context, target Capability, method, endpoint string, payload []byte) (json.RawMessage, error) {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var lastErr error
	for _, base := range target.BasePaths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.CapabilityCandidateAttempts.WithLabelValues(target.Name).Inc()

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		url := c.origin + strings.TrimRight(base, "/") + endpoint
		raw, err, terminal := c.attempt(ctx, target, method, url, endpoint, payload)
		if err == nil {
			metrics.CapabilityRequests.WithLabelValues(target.Name, "success").Inc()
			return raw, nil
		}
		if terminal {
			return nil, err
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("unable to reach %s endpoint %s: %w", target.Name, endpoint, ErrUnreachable)
}

// attempt performs a single HTTP exchange against one candidate base
// path. terminal reports whether the capability's discipline forbids
// moving on to further candidates.
func (c *Client) attempt(ctx context.Context, target Capability, method, url, endpoint string, payload []byte) (raw json.RawMessage, err error, terminal bool) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", target.Name, err), true
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Cannot reach this candidate; record and move on.
		metrics.CapabilityRequests.WithLabelValues(target.Name, "network_error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err(), true
		}
		return nil, fmt.Errorf("unable to reach %s at %s: %w", target.Name, endpoint, err), false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		httpErr := &HTTPError{
			Capability: target.Name,
			Endpoint:   endpoint,
			Status:     resp.StatusCode,
			Body:       string(body),
		}
		metrics.CapabilityRequests.WithLabelValues(target.Name, "http_error").Inc()

		if session.IsAuthError(httpErr) && c.onAuthError != nil {
			c.onAuthError(httpErr)
		}

		if target.Discipline == StopOnNon404 && resp.StatusCode != http.StatusNotFound {
			return nil, httpErr, true
		}
		return nil, httpErr, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response at %s: %w", target.Name, endpoint, err), false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil, false // canonical empty result
	}

	contentType := resp.Header.Get("Content-Type")
	looksJSON := trimmed[0] == '{' || trimmed[0] == '['
	declaredJSON := strings.Contains(contentType, "application/json")

	if !declaredJSON && !looksJSON {
		malformed := &MalformedResponseError{
			Capability:  target.Name,
			Endpoint:    endpoint,
			ContentType: contentType,
			Reason:      fmt.Sprintf("unexpected content type %q", contentType),
		}
		metrics.CapabilityRequests.WithLabelValues(target.Name, "malformed").Inc()
		return nil, malformed, target.Discipline == StopOnNon404
	}

	if !json.Valid(trimmed) {
		malformed := &MalformedResponseError{
			Capability:  target.Name,
			Endpoint:    endpoint,
			ContentType: contentType,
			Reason:      "body declared as JSON but failed to parse",
		}
		metrics.CapabilityRequests.WithLabelValues(target.Name, "malformed").Inc()
		logging.Warn().Str("capability", target.Name).Str("endpoint", endpoint).Msg("Discarding malformed JSON response")
		return nil, malformed, target.Discipline == StopOnNon404
	}

	return json.RawMessage(trimmed), nil, false
}
