// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

package scoring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/echoreel/echoreel/internal/transport"
)

func newService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(transport.New(srv.URL), []string{"/api/TrackScoring", "/api/trackscoring"})
}

func TestPreviewNormalizesAndKeepsSource(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"source":"bootstrap","tracks":[{"trackId":"t1","score":12},{"trackId":"t2"}]}`))
	}))

	got, err := svc.Preview(context.Background(), "u1", 50)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if got.Source != "bootstrap" {
		t.Errorf("Source = %q", got.Source)
	}
	if len(got.Items) != 2 || got.Items[0].Score == nil || *got.Items[0].Score != 12 {
		t.Errorf("Items = %+v", got.Items)
	}
}

func TestScorePerItemFailureIsAbsence(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))

	value, err := svc.Score(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("Score() error = %v, per-item failures must be swallowed", err)
	}
	if value != nil {
		t.Errorf("value = %v, want nil", *value)
	}
}

func TestScoreMissingFieldIsAbsence(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	value, err := svc.Score(context.Background(), "u1", "t1")
	if err != nil || value != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", value, err)
	}
}

func TestScoresForTracks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	requested := make(map[string]int)
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			TrackID string `json:"trackId"`
		}
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		requested[payload.TrackID]++
		mu.Unlock()

		if payload.TrackID == "bad" {
			http.Error(w, "broken", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":7}`))
	}))

	ids := []string{"a", "b", "a", "", "bad", "c"}
	got := svc.ScoresForTracks(context.Background(), "u1", ids, 3)

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (bad omitted, duplicates collapsed): %v", len(got), got)
	}
	for _, id := range []string{"a", "b", "c"} {
		if got[id] != 7 {
			t.Errorf("score[%q] = %v, want 7", id, got[id])
		}
	}
	if _, present := got["bad"]; present {
		t.Error("failed track must be absent from result")
	}
	mu.Lock()
	defer mu.Unlock()
	// Each deduplicated id is fetched exactly once. The failing id is
	// retried across both candidate paths, so it counts twice.
	for _, id := range []string{"a", "b", "c"} {
		if requested[id] != 1 {
			t.Errorf("id %q requested %d times, want 1", id, requested[id])
		}
	}
}

func TestScoresForTracksEmptyInput(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no requests expected for empty input")
	}))

	if got := svc.ScoresForTracks(context.Background(), "u1", nil, 0); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestScoresForTracksBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int64
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score":1}`))
	}))

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	svc.ScoresForTracks(context.Background(), "u1", ids, 2)

	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestSnoozeSendsUntil(t *testing.T) {
	t.Parallel()

	var got map[string]any
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		// Unmarshal into a fresh map each request: decoding into a reused
		// map merges keys, which would leak "until" from the prior call.
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		got = payload
		w.WriteHeader(http.StatusOK)
	}))

	until := time.UnixMilli(1700000000000)
	if err := svc.Snooze(context.Background(), "u1", "t1", &until); err != nil {
		t.Fatalf("Snooze() error: %v", err)
	}
	if got["until"] != float64(1700000000000) {
		t.Errorf("until = %v", got["until"])
	}

	if err := svc.Snooze(context.Background(), "u1", "t1", nil); err != nil {
		t.Fatalf("Snooze() error: %v", err)
	}
	if _, present := got["until"]; present {
		t.Error("nil until must be omitted from the payload")
	}
}
