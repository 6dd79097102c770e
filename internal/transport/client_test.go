// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/echoreel/echoreel/internal/session"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, opts...), srv
}

func TestCallWalksCandidatesOn404(t *testing.T) {
	t.Parallel()

	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path != "/api/trackscoring/preview" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trackIds":["a"]}`))
	}))
	client.Register(Capability{
		Name:       "TrackScoring",
		BasePaths:  []string{"/api/TrackScoring", "/api/trackscoring", "/api/track-scoring"},
		Discipline: RetryAllCandidates,
	})

	raw, err := client.Call(context.Background(), "TrackScoring", http.MethodPost, "/preview", map[string]any{"userId": "u1"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if string(raw) != `{"trackIds":["a"]}` {
		t.Errorf("raw = %s", raw)
	}

	want := []string{"/api/TrackScoring/preview", "/api/trackscoring/preview"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestCallRetryAllExhaustionReturnsLastError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	client.Register(Capability{
		Name:       "TrackScoring",
		BasePaths:  []string{"/api/TrackScoring", "/api/trackscoring"},
		Discipline: RetryAllCandidates,
	})

	_, err := client.Call(context.Background(), "TrackScoring", http.MethodPost, "/preview", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d", httpErr.Status)
	}
}

func TestCallStopOnNon404IsTerminal(t *testing.T) {
	t.Parallel()

	var hits int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "server broke", http.StatusBadGateway)
	}))
	client.Register(Capability{
		Name:       "PlatformLink",
		BasePaths:  []string{"/api/PlatformLink", "/api/platformlink"},
		Discipline: StopOnNon404,
	})

	_, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/listLinks", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want terminal stop after first candidate", hits)
	}
}

func TestCallStopOnNon404StillWalks404s(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/platformlink/listLinks" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"links":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	client.Register(Capability{
		Name:       "PlatformLink",
		BasePaths:  []string{"/api/PlatformLink", "/api/platformlink"},
		Discipline: StopOnNon404,
	})

	raw, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/listLinks", nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if string(raw) != `{"links":[]}` {
		t.Errorf("raw = %s", raw)
	}
}

func TestCallEmptyBodyIsCanonicalEmpty(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	client.Register(Capability{Name: "SwipeSessions", BasePaths: []string{"/api/SwipeSessions"}})

	raw, err := client.Call(context.Background(), "SwipeSessions", http.MethodPost, "/end", map[string]any{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if raw != nil {
		t.Errorf("raw = %s, want nil canonical empty", raw)
	}
}

func TestCallMalformedJSON(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	client.Register(Capability{Name: "LibraryCache", BasePaths: []string{"/api/LibraryCache"}})

	_, err := client.Call(context.Background(), "LibraryCache", http.MethodPost, "/_getLiked", nil)
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
}

func TestCallUnexpectedContentType(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html>login page</html>`))
	}))
	client.Register(Capability{Name: "LibraryCache", BasePaths: []string{"/api/LibraryCache"}})

	_, err := client.Call(context.Background(), "LibraryCache", http.MethodPost, "/_getLiked", nil)
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
}

func TestCallMergesCredentialsCallerWins(t *testing.T) {
	t.Parallel()

	var got map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}), WithCredentials(func() (session.Credentials, error) {
		return session.Credentials{UserID: "session-user", SessionToken: "session:tok"}, nil
	}))
	client.Register(Capability{
		Name:              "PlatformLink",
		BasePaths:         []string{"/api/PlatformLink"},
		AttachCredentials: true,
	})

	_, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/startAuth",
		map[string]any{"userId": "explicit-user", "platform": "spotify"})
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}

	if got["sessionToken"] != "session:tok" {
		t.Errorf("sessionToken = %v", got["sessionToken"])
	}
	if got["userId"] != "explicit-user" {
		t.Errorf("userId = %v, caller field must win over credentials", got["userId"])
	}
	if got["platform"] != "spotify" {
		t.Errorf("platform = %v", got["platform"])
	}
}

func TestCallWithoutCredentialsExemption(t *testing.T) {
	t.Parallel()

	var got map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}), WithCredentials(func() (session.Credentials, error) {
		return session.Credentials{}, session.ErrNotInitialized
	}))
	client.Register(Capability{
		Name:              "PlatformLink",
		BasePaths:         []string{"/api/PlatformLink"},
		AttachCredentials: true,
	})

	// completeAuth must work before any session exists.
	_, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/completeAuth",
		map[string]any{"state": "st", "code": "c"}, WithoutCredentials())
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if _, present := got["sessionToken"]; present {
		t.Error("sessionToken attached despite exemption")
	}
}

func TestCallMissingSessionIsFatalForRequest(t *testing.T) {
	t.Parallel()

	var hits int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}), WithCredentials(func() (session.Credentials, error) {
		return session.Credentials{}, session.ErrNotInitialized
	}))
	client.Register(Capability{
		Name:              "PlatformLink",
		BasePaths:         []string{"/api/PlatformLink", "/api/platformlink"},
		AttachCredentials: true,
	})

	_, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/listLinks", nil)
	if !errors.Is(err, session.ErrNotInitialized) {
		t.Fatalf("error = %v, want ErrNotInitialized", err)
	}
	if hits != 0 {
		t.Errorf("hits = %d, missing session must not reach the network", hits)
	}
}

func TestCallAuthHookFiresAndErrorStillPropagates(t *testing.T) {
	t.Parallel()

	var hookErr error
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}), WithAuthErrorHook(func(err error) { hookErr = err }))
	client.Register(Capability{
		Name:       "PlatformLink",
		BasePaths:  []string{"/api/PlatformLink"},
		Discipline: StopOnNon404,
	})

	_, err := client.Call(context.Background(), "PlatformLink", http.MethodPost, "/refresh", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if hookErr == nil {
		t.Fatal("auth hook did not fire")
	}
	if !session.IsAuthError(hookErr) {
		t.Errorf("hook error %v not classified as auth error", hookErr)
	}

	// Notification and propagation are independent.
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Errorf("propagated error = %v", err)
	}
}

func TestCallUnknownCapability(t *testing.T) {
	t.Parallel()

	client := New("http://localhost:0")
	if _, err := client.Call(context.Background(), "Nope", http.MethodPost, "/x", nil); err == nil {
		t.Fatal("expected error for unregistered capability")
	}
}
