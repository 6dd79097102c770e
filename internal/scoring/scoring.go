// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package scoring talks to the TrackScoring capability: library
// ingestion, staleness previews, weight tuning and per-track scores.
// Batch score fetches run a bounded worker pool; a single track's score
// failing is represented as absence, never as a failed batch.
package scoring

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/echoreel/echoreel/internal/normalize"
	"github.com/echoreel/echoreel/internal/transport"
)

// CapabilityName identifies the backend capability this service consumes.
const CapabilityName = "TrackScoring"

// DefaultConcurrency bounds the batch score worker pool when the caller
// passes a non-positive value.
const DefaultConcurrency = 8

// BootstrapResult reports what a library ingestion seeded.
type BootstrapResult struct {
	Ingested       int  `json:"ingested"`
	EnsuredWeights bool `json:"ensuredWeights"`
}

// Weights are the user's scoring weights.
type Weights struct {
	UserID        string  `json:"userId"`
	LastPlayedW   float64 `json:"lastPlayedW"`
	LikedWhenW    float64 `json:"likedWhenW"`
	TimesSkippedW float64 `json:"timesSkippedW"`
}

// PreviewResult is a normalized staleness preview with its declared
// provenance ("scores", "bootstrap", "empty", or "" when undeclared).
type PreviewResult struct {
	Items  []normalize.PreviewItem
	Source string
}

// Service issues TrackScoring requests through the resilient client.
type Service struct {
	client *transport.Client
}

// New registers the TrackScoring capability on the client and returns
// the service.
func New(client *transport.Client, basePaths []string) *Service {
	client.Register(transport.Capability{
		Name:       CapabilityName,
		BasePaths:  basePaths,
		Discipline: transport.RetryAllCandidates,
	})
	return &Service{client: client}
}

// IngestFromLibrary bootstraps scoring state from LibraryCache. This is
// the first step after syncing a library.
func (s *Service) IngestFromLibrary(ctx context.Context, userID string) (BootstrapResult, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/ingestFromLibraryCache", map[string]any{"userId": userID})
	if err != nil {
		return BootstrapResult{}, err
	}
	var result BootstrapResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return BootstrapResult{}, fmt.Errorf("decode ingest response: %w", err)
		}
	}
	return result, nil
}

// Preview fetches up to size tracks recommended for resurfacing.
func (s *Service) Preview(ctx context.Context, userID string, size int) (PreviewResult, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/preview", map[string]any{
		"userId": userID,
		"size":   size,
	})
	if err != nil {
		return PreviewResult{}, err
	}
	items, source := normalize.Preview(raw)
	return PreviewResult{Items: items, Source: source}, nil
}

// UpdateWeights replaces the user's scoring weights.
func (s *Service) UpdateWeights(ctx context.Context, weights Weights) error {
	_, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/updateWeights", map[string]any{
		"userId":        weights.UserID,
		"lastPlayedW":   weights.LastPlayedW,
		"likedWhenW":    weights.LikedWhenW,
		"timesSkippedW": weights.TimesSkippedW,
	})
	return err
}

// Keep records a keep decision for a track.
func (s *Service) Keep(ctx context.Context, userID, trackID string) error {
	_, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/keep", map[string]any{
		"userId":  userID,
		"trackId": trackID,
	})
	return err
}

// Snooze hides a track from resurfacing, optionally until a given time.
func (s *Service) Snooze(ctx context.Context, userID, trackID string, until *time.Time) error {
	body := map[string]any{
		"userId":  userID,
		"trackId": trackID,
	}
	if until != nil {
		body["until"] = until.UnixMilli()
	}
	_, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/snooze", body)
	return err
}

// Score fetches one track's score. Failures and missing scores both
// return (nil, nil): per-item outcomes are absence, not errors, so a
// batch over many tracks cannot be poisoned by one bad id.
func (s *Service) Score(ctx context.Context, userID, trackID string) (*float64, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/score", map[string]any{
		"userId":  userID,
		"trackId": trackID,
	})
	if err != nil {
		return nil, nil
	}
	var resp struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil
	}
	return resp.Score, nil
}

// ScoresForTracks fetches scores for many tracks with a bounded worker
// pool pulling from a shared cursor. Ids are deduplicated and each is
// fetched exactly once; tracks whose fetch failed are omitted from the
// result map.
func (s *Service) ScoresForTracks(ctx context.Context, userID string, trackIDs []string, concurrency int) map[string]float64 {
	ids := dedupe(trackIDs)
	result := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return result
	}

	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(ids) {
		concurrency = len(ids)
	}

	var (
		cursor atomic.Int64
		mu     sync.Mutex
		wg     sync.WaitGroup
	)
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(ids) || ctx.Err() != nil {
					return
				}
				id := ids[idx]
				value, _ := s.Score(ctx, userID, id)
				if value != nil {
					mu.Lock()
					result[id] = *value
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return result
}

func dedupe(trackIDs []string) []string {
	seen := make(map[string]bool, len(trackIDs))
	ids := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
