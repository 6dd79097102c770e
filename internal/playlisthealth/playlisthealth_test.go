// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

package playlisthealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echoreel/echoreel/internal/transport"
)

func newService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(transport.New(srv.URL), []string{"/api/PlaylistHealth", "/api/playlisthealth"})
}

func TestSnapshotAnalyzeReportCycle(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/PlaylistHealth/snapshot":
			_, _ = w.Write([]byte(`{"snapshotId":"snap-1"}`))
		case "/api/PlaylistHealth/analyze":
			_, _ = w.Write([]byte(`{"reportId":"rep-1"}`))
		case "/api/PlaylistHealth/getReport":
			_, _ = w.Write([]byte(`{"playlistId":"pl-1","snapshotId":"snap-1","findings":[
				{"idx":0,"trackId":"t1","kind":"Duplicate"},
				{"trackId":"t2","kind":"Unavailable"},
				{"trackId":"t3","kind":"Outlier"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	snapshotID, err := svc.CreateSnapshot(ctx, "pl-1", "u1", []string{"t1", "t2", "t3"})
	if err != nil {
		t.Fatalf("CreateSnapshot() error: %v", err)
	}
	if snapshotID != "snap-1" {
		t.Errorf("snapshotID = %q", snapshotID)
	}

	reportID, err := svc.Analyze(ctx, "pl-1", snapshotID)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}

	report, err := svc.GetReport(ctx, reportID)
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if len(report.Findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(report.Findings))
	}
	wantKinds := []IssueKind{IssueDuplicate, IssueUnavailable, IssueOutlier}
	for i, finding := range report.Findings {
		if finding.Kind != wantKinds[i] {
			t.Errorf("finding %d kind = %q, want %q", i, finding.Kind, wantKinds[i])
		}
	}
	if report.Findings[0].Idx == nil || *report.Findings[0].Idx != 0 {
		t.Errorf("finding 0 idx = %v", report.Findings[0].Idx)
	}
}

func TestCreateSnapshotMissingID(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	if _, err := svc.CreateSnapshot(context.Background(), "pl-1", "u1", nil); err == nil {
		t.Fatal("expected error for missing snapshotId")
	}
}

func TestAnalyzeWalksCasingVariants(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/playlisthealth/analyze" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reportId":"rep-2"}`))
	}))

	reportID, err := svc.Analyze(context.Background(), "pl-1", "snap-1")
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if reportID != "rep-2" {
		t.Errorf("reportID = %q", reportID)
	}
}

func TestFailuresSurface(t *testing.T) {
	t.Parallel()

	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))

	if _, err := svc.GetReport(context.Background(), "rep-1"); err == nil {
		t.Fatal("expected error, analysis has no offline path")
	}
}
