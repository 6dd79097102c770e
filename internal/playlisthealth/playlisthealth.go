// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package playlisthealth runs the snapshot/analyze/report cycle against
// the PlaylistHealth capability. Analysis has no offline equivalent, so
// failures surface to the caller.
package playlisthealth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/echoreel/echoreel/internal/transport"
)

// CapabilityName identifies the backend capability this service consumes.
const CapabilityName = "PlaylistHealth"

// IssueKind classifies a playlist finding.
type IssueKind string

const (
	IssueDuplicate   IssueKind = "Duplicate"
	IssueUnavailable IssueKind = "Unavailable"
	IssueOutlier     IssueKind = "Outlier"
)

// Finding flags one problematic track in an analyzed playlist. Idx is
// the track's position in the snapshot when the backend reports it.
type Finding struct {
	Idx     *int      `json:"idx,omitempty"`
	TrackID string    `json:"trackId"`
	Kind    IssueKind `json:"kind"`
}

// Report is the result of an analysis run.
type Report struct {
	PlaylistID string    `json:"playlistId"`
	SnapshotID string    `json:"snapshotId"`
	Findings   []Finding `json:"findings"`
}

// Service issues PlaylistHealth requests through the resilient client.
type Service struct {
	client *transport.Client
}

// New registers the PlaylistHealth capability on the client and returns
// the service.
func New(client *transport.Client, basePaths []string) *Service {
	client.Register(transport.Capability{
		Name:       CapabilityName,
		BasePaths:  basePaths,
		Discipline: transport.RetryAllCandidates,
	})
	return &Service{client: client}
}

// CreateSnapshot records the playlist's current track order and returns
// the snapshot id to analyze.
func (s *Service) CreateSnapshot(ctx context.Context, playlistID, userID string, trackIDs []string) (string, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/snapshot", map[string]any{
		"playlistId": playlistID,
		"userId":     userID,
		"trackIds":   trackIDs,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		SnapshotID string `json:"snapshotId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode snapshot response: %w", err)
	}
	if resp.SnapshotID == "" {
		return "", fmt.Errorf("snapshot response missing snapshotId")
	}
	return resp.SnapshotID, nil
}

// Analyze starts an analysis of a recorded snapshot and returns the
// report id to poll.
func (s *Service) Analyze(ctx context.Context, playlistID, snapshotID string) (string, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/analyze", map[string]any{
		"playlistId": playlistID,
		"snapshotId": snapshotID,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		ReportID string `json:"reportId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode analyze response: %w", err)
	}
	if resp.ReportID == "" {
		return "", fmt.Errorf("analyze response missing reportId")
	}
	return resp.ReportID, nil
}

// GetReport fetches a finished analysis report.
func (s *Service) GetReport(ctx context.Context, reportID string) (Report, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/getReport", map[string]any{"reportId": reportID})
	if err != nil {
		return Report{}, err
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}
