// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package platformlink drives the external account linking flow against
// the PlatformLink capability: OAuth start/completion, link listing,
// token refresh, revocation and platform-initiated library sync. These
// operations have no offline equivalent, so every failure surfaces.
package platformlink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/echoreel/echoreel/internal/normalize"
	"github.com/echoreel/echoreel/internal/transport"
)

// CapabilityName identifies the backend capability this service consumes.
const CapabilityName = "PlatformLink"

// AuthStartParams are the inputs for opening an authorization flow.
type AuthStartParams struct {
	UserID      string   `json:"userId"`
	Platform    string   `json:"platform"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirectUri"`
}

// AuthStart is the backend's handle on a pending authorization flow.
type AuthStart struct {
	AuthorizeURL string `json:"authorizeUrl"`
	State        string `json:"state"`
	ExpiresAt    *int64 `json:"expiresAt,omitempty"`
}

// SyncResult reports what a platform-initiated library sync ingested.
type SyncResult struct {
	Synced bool `json:"synced"`
	Counts struct {
		Tracks    int `json:"tracks"`
		Likes     int `json:"likes"`
		Plays     int `json:"plays"`
		Playlists int `json:"playlists"`
	} `json:"counts"`
}

// Service issues PlatformLink requests through the resilient client.
// A candidate answering with a non-404 error is authoritative for this
// capability: a 500 from one casing variant will not succeed on another.
type Service struct {
	client *transport.Client
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the expiration clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New registers the PlatformLink capability on the client and returns
// the service.
func New(client *transport.Client, basePaths []string, opts ...Option) *Service {
	client.Register(transport.Capability{
		Name:              CapabilityName,
		BasePaths:         basePaths,
		Discipline:        transport.StopOnNon404,
		AttachCredentials: true,
	})
	s := &Service{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartAuth opens an authorization flow and returns the URL the user
// must visit plus the state token binding the eventual completion.
func (s *Service) StartAuth(ctx context.Context, params AuthStartParams) (AuthStart, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/startAuth", map[string]any{
		"userId":      params.UserID,
		"platform":    params.Platform,
		"scopes":      params.Scopes,
		"redirectUri": params.RedirectURI,
	})
	if err != nil {
		return AuthStart{}, err
	}
	var start AuthStart
	if err := json.Unmarshal(raw, &start); err != nil {
		return AuthStart{}, fmt.Errorf("decode startAuth response: %w", err)
	}
	if start.AuthorizeURL == "" || start.State == "" {
		return AuthStart{}, fmt.Errorf("startAuth response missing authorizeUrl or state")
	}
	return start, nil
}

// CompleteAuth exchanges the OAuth code for a link handle. The request
// is credential-exempt: completion runs before a real session exists.
func (s *Service) CompleteAuth(ctx context.Context, state, code string) (normalize.LinkHandle, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/completeAuth",
		map[string]any{"state": state, "code": code}, transport.WithoutCredentials())
	if err != nil {
		return normalize.LinkHandle{}, err
	}
	return normalize.AuthLink(raw)
}

// ListLinks returns the user's platform links.
func (s *Service) ListLinks(ctx context.Context, userID string) ([]normalize.LinkHandle, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/listLinks", map[string]any{"userId": userID})
	if err != nil {
		return nil, err
	}
	return normalize.LinkHandles(raw), nil
}

// Refresh renews a link's token and returns the new expiration, or nil
// when the backend did not report one.
func (s *Service) Refresh(ctx context.Context, linkID string) (*int64, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/refresh", map[string]any{"linkId": linkID})
	if err != nil {
		return nil, err
	}
	return normalize.Expiration(raw), nil
}

// Revoke removes a platform link.
func (s *Service) Revoke(ctx context.Context, linkID string) error {
	_, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/revoke", map[string]any{"linkId": linkID})
	return err
}

// EnsureLink finds the user's link for a platform, refreshing it first
// when its token has expired. Links without a platform tag are assumed
// to match; with no match at all the first link is used.
func (s *Service) EnsureLink(ctx context.Context, userID, platform string) (normalize.LinkHandle, error) {
	links, err := s.ListLinks(ctx, userID)
	if err != nil {
		return normalize.LinkHandle{}, err
	}
	if len(links) == 0 {
		return normalize.LinkHandle{}, fmt.Errorf("no linked %s account found for user %s", platform, userID)
	}

	match := links[0]
	for _, link := range links {
		if link.Platform == "" || link.Platform == platform {
			match = link
			break
		}
	}

	nowMs := s.now().UnixMilli()
	if match.TokenExpiration != nil && *match.TokenExpiration <= nowMs {
		newExpiration, err := s.Refresh(ctx, match.LinkID)
		if err != nil {
			return normalize.LinkHandle{}, err
		}
		if newExpiration != nil {
			match.TokenExpiration = newExpiration
		}
	}
	return match, nil
}

// SyncLibraryFromSpotify asks the backend to pull the user's Spotify
// library into LibraryCache.
func (s *Service) SyncLibraryFromSpotify(ctx context.Context, userID string) (SyncResult, error) {
	raw, err := s.client.Call(ctx, CapabilityName, http.MethodPost, "/syncLibraryFromSpotify", map[string]any{"userId": userID})
	if err != nil {
		return SyncResult{}, err
	}
	var result SyncResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return SyncResult{}, fmt.Errorf("decode sync response: %w", err)
		}
	}
	return result, nil
}
