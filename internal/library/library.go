// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package library wraps the LibraryCache capability: liked-track listing,
// metadata lookup and library sync. Liked-track reads degrade to the
// embedded demo snapshot when the backend is unreachable or empty;
// metadata reads merge backend records over demo records per id.
package library

import (
	"context"
	"net/http"

	"github.com/echoreel/echoreel/internal/demo"
	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
	"github.com/echoreel/echoreel/internal/normalize"
	"github.com/echoreel/echoreel/internal/transport"
)

// CapabilityName identifies the backend capability this service consumes.
const CapabilityName = "LibraryCache"

// Source tags where a liked-tracks result came from.
type Source string

const (
	SourceAPI         Source = "api"
	SourceOfflineDemo Source = "offline-demo"
)

// LikedTracksResult is the outcome of a liked-tracks fetch with its
// provenance tag.
type LikedTracksResult struct {
	TrackIDs []string
	Source   Source
}

// Snapshot is the payload shape accepted by the sync ingest operation.
type Snapshot struct {
	Tracks []normalize.Track `json:"tracks"`
	Likes  []demo.Like       `json:"likes"`
}

// Service issues LibraryCache requests through the resilient client.
type Service struct {
	client *transport.Client
}

// New registers the LibraryCache capability on the client and returns
// the service. basePaths are the candidate path prefixes in preference
// order.
func New(client *transport.Client, basePaths []string) *Service {
	client.Register(transport.Capability{
		Name:       CapabilityName,
		BasePaths:  basePaths,
		Discipline: transport.RetryAllCandidates,
	})
	return &Service{client: client}
}

// GetLikedTracks fetches the user's liked track ids. The demo snapshot
// serves as fallback both when every candidate fails and when the
// backend answers with an empty list; an empty result tagged api is only
// possible when the demo table is empty too.
func (s *Service) GetLikedTracks(ctx context.Context, userID string) (LikedTracksResult, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/_getLiked", map[string]any{"userId": userID})
	if err != nil {
		fallback := demo.LikedTrackIDs()
		if len(fallback) > 0 {
			metrics.FallbackEngagements.WithLabelValues("library", "transport_failure").Inc()
			logging.Warn().Err(err).Msg("LibraryCache fallback: serving offline liked tracks snapshot")
			return LikedTracksResult{TrackIDs: fallback, Source: SourceOfflineDemo}, nil
		}
		return LikedTracksResult{}, err
	}

	if ids := normalize.TrackIDs(raw); len(ids) > 0 {
		return LikedTracksResult{TrackIDs: ids, Source: SourceAPI}, nil
	}

	if fallback := demo.LikedTrackIDs(); len(fallback) > 0 {
		metrics.FallbackEngagements.WithLabelValues("library", "empty_result").Inc()
		return LikedTracksResult{TrackIDs: fallback, Source: SourceOfflineDemo}, nil
	}
	return LikedTracksResult{TrackIDs: []string{}, Source: SourceAPI}, nil
}

// GetTracks resolves metadata for the requested ids. Backend records win
// per id; requested ids the backend omits are filled from the demo table
// tagged source demo. Ids unknown to both are absent from the result,
// so result ids are always a subset of the request.
func (s *Service) GetTracks(ctx context.Context, trackIDs []string) ([]normalize.Track, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}

	var backend []normalize.Track
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/_getTracks", map[string]any{"trackIds": trackIDs})
	if err != nil {
		metrics.FallbackEngagements.WithLabelValues("library", "transport_failure").Inc()
		logging.Warn().Err(err).Msg("LibraryCache metadata unavailable, merging demo records only")
	} else {
		backend = normalize.Tracks(raw)
	}

	byID := make(map[string]normalize.Track, len(backend))
	for _, track := range backend {
		byID[track.TrackID] = track
	}

	result := make([]normalize.Track, 0, len(trackIDs))
	seen := make(map[string]bool, len(trackIDs))
	for _, id := range trackIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if track, ok := byID[id]; ok {
			result = append(result, track)
			continue
		}
		if meta, ok := demo.MetadataFor(id); ok {
			result = append(result, demoTrack(meta))
		}
	}
	return result, nil
}

// SyncLibrary pushes a full library snapshot to the backend ingest
// operation. There is no offline equivalent; failures surface.
func (s *Service) SyncLibrary(ctx context.Context, snapshot Snapshot) error {
	body := map[string]any{
		"tracks": snapshot.Tracks,
		"likes":  snapshot.Likes,
	}
	_, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/sync", body)
	return err
}

func demoTrack(meta demo.TrackMeta) normalize.Track {
	available := meta.Available
	tempo, energy, valence := meta.Tempo, meta.Energy, meta.Valence
	return normalize.Track{
		TrackID:   meta.TrackID,
		Title:     meta.Title,
		Artist:    meta.Artist,
		Available: &available,
		Tempo:     &tempo,
		Energy:    &energy,
		Valence:   &valence,
		Source:    "demo",
	}
}
