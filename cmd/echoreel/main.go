// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package main is the entry point for the Echoreel data-access client.
//
// Echoreel is the companion client for a self-hosted music library
// backend: it surfaces liked tracks, resurfaces forgotten ones in a
// time-capsule rail, runs swipe triage sessions and keeps working in a
// degraded offline mode when the backend is unreachable.
//
// # Application Architecture
//
// The client initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Session store: Open the BadgerDB key-value store and initialize the session pair
//  3. Transport: Construct the resilient multi-candidate request client
//  4. Services: Register the backend capabilities (LibraryCache, PlatformLink,
//     PlaylistHealth, SwipeSessions, TrackScoring) and their path spellings
//  5. Smoke flow: Fetch liked tracks and a time-capsule rail, print provenance
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (ECHOREEL_ prefix, "__" for nesting)
//   - Config file (config.yaml, or ECHOREEL_CONFIG_PATH)
//   - Built-in defaults
//
// Common settings:
//   - ECHOREEL_API_ORIGIN: backend origin (default http://localhost:8000)
//   - ECHOREEL_SESSION_STORE_PATH: BadgerDB directory for the session pair
//   - ECHOREEL_DEMO_MODE=true: pin the session to the fixed demo identity
//   - ECHOREEL_SCORING__CONCURRENCY: batch score worker pool size
//
// Every capability read that has a fallback degrades to the embedded
// demo snapshot instead of failing, so the client is usable with no
// backend at all.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/echoreel/echoreel/internal/config"
	"github.com/echoreel/echoreel/internal/library"
	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/platformlink"
	"github.com/echoreel/echoreel/internal/playlisthealth"
	"github.com/echoreel/echoreel/internal/scoring"
	"github.com/echoreel/echoreel/internal/session"
	"github.com/echoreel/echoreel/internal/swipe"
	"github.com/echoreel/echoreel/internal/timecapsule"
	"github.com/echoreel/echoreel/internal/transport"
)

// logNotifier surfaces auth-expiry notifications. The terminal client
// has no UI toast, so the notification side effect is a warning line.
type logNotifier struct{}

func (logNotifier) NotifyAuthError(err error) {
	logging.Warn().Err(err).Msg("Session expired, please re-link your account")
}

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("api_origin", cfg.APIOrigin).
		Bool("demo_mode", cfg.DemoMode).
		Str("session_store", cfg.SessionStorePath).
		Msg("Configuration loaded")

	// Durable session store
	store, err := session.OpenBadgerStore(cfg.SessionStorePath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()

	sessions := session.NewManager(store,
		session.WithDemoMode(cfg.DemoMode),
		session.WithNotifier(logNotifier{}),
	)
	if err := sessions.Initialize(); err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize session")
	}
	creds, err := sessions.Credentials()
	if err != nil {
		logging.Fatal().Err(err).Msg("Session credentials unavailable after initialize")
	}
	logging.Info().Str("user_id", creds.UserID).Msg("Session ready")

	// Resilient request client shared by all capabilities
	clientOpts := []transport.Option{
		transport.WithTimeout(cfg.HTTPTimeout),
		transport.WithCredentials(sessions.Credentials),
		transport.WithAuthErrorHook(sessions.HandleAuthError),
	}
	if cfg.RatePerSecond > 0 {
		clientOpts = append(clientOpts, transport.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst))
	}
	client := transport.New(cfg.APIOrigin, clientOpts...)

	libSvc := library.New(client, cfg.Endpoints.LibraryCache)
	platformlink.New(client, cfg.Endpoints.PlatformLink)
	playlisthealth.New(client, cfg.Endpoints.PlaylistHealth)
	scoreSvc := scoring.New(client, cfg.Endpoints.TrackScoring)
	swipeMgr := swipe.NewManager(client, cfg.Endpoints.SwipeSessions)
	capsule := timecapsule.NewLoader(scoreSvc, libSvc,
		timecapsule.WithOversample(cfg.Scoring.OversampleSize))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, creds.UserID, libSvc, capsule, swipeMgr); err != nil {
		logging.Error().Err(err).Msg("Smoke flow failed")
		os.Exit(1)
	}
}

// run exercises the read paths end to end: liked tracks, a time-capsule
// rail and a short swipe session, printing each result's provenance.
func run(ctx context.Context, userID string, libSvc *library.Service, capsule *timecapsule.Loader, swipeMgr *swipe.Manager) error {
	liked, err := libSvc.GetLikedTracks(ctx, userID)
	if err != nil {
		return fmt.Errorf("liked tracks: %w", err)
	}
	fmt.Printf("Liked tracks: %d (source: %s)\n", len(liked.TrackIDs), liked.Source)

	rail, err := capsule.Load(ctx, userID, 12)
	if err != nil {
		return fmt.Errorf("time capsule: %w", err)
	}
	fmt.Printf("Time capsule: %d tracks (source: %s)\n", len(rail.Tracks), rail.Source)
	for _, track := range rail.Tracks {
		fmt.Printf("  %3d%%  %s — %s (%s)\n",
			track.StalenessPercent, track.Title, track.Artist, track.LastPlayedRelative)
	}

	sess, err := swipeMgr.Start(ctx, swipe.StartParams{UserID: userID, QueueTracks: liked.TrackIDs})
	if err != nil {
		return fmt.Errorf("swipe start: %w", err)
	}
	fmt.Printf("Swipe session %s (mode: %s)\n", sess.SessionID, sess.Mode)

	for range 3 {
		trackID, err := swipeMgr.Next(ctx, sess.SessionID)
		if err != nil {
			return fmt.Errorf("swipe next: %w", err)
		}
		if trackID == swipe.NoMoreTracks {
			fmt.Println("  queue exhausted")
			break
		}
		if _, err := swipeMgr.DecideKeep(ctx, sess.SessionID, trackID); err != nil {
			return fmt.Errorf("swipe decide: %w", err)
		}
		fmt.Printf("  kept %s\n", trackID)
	}
	if mode, ok := swipeMgr.Mode(sess.SessionID); ok {
		fmt.Printf("Swipe session mode after triage: %s\n", mode)
	}
	return swipeMgr.End(ctx, sess.SessionID)
}
