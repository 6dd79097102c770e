// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package normalize flattens the payload shapes the backend capabilities
// are known to emit into canonical records. Capability handlers have
// shipped several envelope variants over time (bare arrays, {items},
// {tracks}, {trackIds}, {entries}) and several field spellings; each
// normalizer accepts all of them and silently drops entries it cannot
// make sense of, favoring partial results over total failure.
package normalize

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Track is the canonical track metadata record. Numeric audio features
// are nullable; absent means the backend did not report them. Source is
// "api" for backend records and "demo" for fallback records.
type Track struct {
	TrackID   string   `json:"trackId"`
	Title     string   `json:"title"`
	Artist    string   `json:"artist"`
	Available *bool    `json:"available,omitempty"`
	Tempo     *float64 `json:"tempo,omitempty"`
	Energy    *float64 `json:"energy,omitempty"`
	Valence   *float64 `json:"valence,omitempty"`
	Album     *string  `json:"album,omitempty"`
	Source    string   `json:"source"`
}

// PreviewItem is one normalized entry of a scoring preview response.
// Timestamps are epoch numbers that may be seconds or milliseconds;
// callers normalize units. LastPlayedAt is never backfilled from
// AddedAt here — the backend owns the max(lastPlayedAt, likedAt) logic.
type PreviewItem struct {
	TrackID      string
	Score        *float64
	LastPlayedAt *float64
	AddedAt      *float64
}

// LinkHandle is a normalized platform-link record.
type LinkHandle struct {
	LinkID          string
	UserID          string
	Platform        string
	TokenExpiration *int64
	Scopes          []string
}

// envelope covers every container shape a capability response has been
// observed to use. Exactly one field is populated per response.
type envelope struct {
	TrackIDs []json.RawMessage `json:"trackIds"`
	Tracks   []json.RawMessage `json:"tracks"`
	Items    []json.RawMessage `json:"items"`
	Entries  []json.RawMessage `json:"entries"`
	Links    []json.RawMessage `json:"links"`
	Source   string            `json:"source"`
}

// elements unwraps a payload into its entry list: a bare JSON array is
// used as-is, otherwise the first populated envelope field wins in
// trackIds, tracks, items, entries, links order.
func elements(raw json.RawMessage) ([]json.RawMessage, string) {
	if len(raw) == 0 {
		return nil, ""
	}

	var bare []json.RawMessage
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare, ""
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ""
	}
	for _, list := range [][]json.RawMessage{env.TrackIDs, env.Tracks, env.Items, env.Entries, env.Links} {
		if list != nil {
			return list, env.Source
		}
	}
	return nil, env.Source
}

// idEntry tolerates both spellings of a track identifier and the grouped
// {trackIds} shape some handlers return per entry.
type idEntry struct {
	TrackID  string   `json:"trackId"`
	ID       string   `json:"id"`
	TrackIDs []string `json:"trackIds"`
}

// TrackIDs flattens any known liked-tracks payload shape to a plain id
// sequence. Malformed entries are dropped.
func TrackIDs(raw json.RawMessage) []string {
	entries, _ := elements(raw)
	var ids []string
	for _, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				ids = append(ids, s)
			}
			continue
		}
		var obj idEntry
		if err := json.Unmarshal(entry, &obj); err != nil {
			continue
		}
		switch {
		case len(obj.TrackIDs) > 0:
			ids = append(ids, obj.TrackIDs...)
		case obj.TrackID != "":
			ids = append(ids, obj.TrackID)
		case obj.ID != "":
			ids = append(ids, obj.ID)
		}
	}
	return ids
}

// trackWire carries every observed spelling of the metadata fields.
// First-present wins: tempo over bpm over tempoBpm.
type trackWire struct {
	TrackID   string   `json:"trackId"`
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Name      string   `json:"name"`
	Artist    string   `json:"artist"`
	Available *bool    `json:"available"`
	Tempo     *float64 `json:"tempo"`
	BPM       *float64 `json:"bpm"`
	TempoBPM  *float64 `json:"tempoBpm"`
	Energy    *float64 `json:"energy"`
	Valence   *float64 `json:"valence"`
	Album     *string  `json:"album"`
}

func firstFloat(candidates ...*float64) *float64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func firstString(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

// Tracks decodes a metadata payload into canonical api-sourced records.
// Entries without a resolvable track id are dropped.
func Tracks(raw json.RawMessage) []Track {
	entries, _ := elements(raw)
	var tracks []Track
	for _, entry := range entries {
		var wire trackWire
		if err := json.Unmarshal(entry, &wire); err != nil {
			continue
		}
		id := firstString(wire.TrackID, wire.ID)
		if id == "" {
			continue
		}
		tracks = append(tracks, Track{
			TrackID:   id,
			Title:     firstString(wire.Title, wire.Name),
			Artist:    wire.Artist,
			Available: wire.Available,
			Tempo:     firstFloat(wire.Tempo, wire.BPM, wire.TempoBPM),
			Energy:    wire.Energy,
			Valence:   wire.Valence,
			Album:     wire.Album,
			Source:    "api",
		})
	}
	return tracks
}

// previewWire carries the score and timestamp spellings seen across
// scoring deployments. lastPlayedAt deliberately has no addedAt synonym.
type previewWire struct {
	TrackID       string   `json:"trackId"`
	ID            string   `json:"id"`
	Score         *float64 `json:"score"`
	Staleness     *float64 `json:"staleness"`
	Value         *float64 `json:"value"`
	Weight        *float64 `json:"weight"`
	LastPlayedAt  *float64 `json:"lastPlayedAt"`
	LastPlayedAt2 *float64 `json:"last_played_at"`
	LastTouchedAt *float64 `json:"lastTouchedAt"`
	LastTouched   *float64 `json:"lastTouched"`
	LastSeenAt    *float64 `json:"last_seen_at"`
	AddedAt       *float64 `json:"addedAt"`
	AddedAt2      *float64 `json:"added_at"`
}

// Preview normalizes a scoring preview payload. source is the response's
// declared provenance ("scores", "bootstrap", "empty") or "" when absent.
func Preview(raw json.RawMessage) ([]PreviewItem, string) {
	entries, source := elements(raw)
	var items []PreviewItem
	for _, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				items = append(items, PreviewItem{TrackID: s})
			}
			continue
		}
		var wire previewWire
		if err := json.Unmarshal(entry, &wire); err != nil {
			continue
		}
		id := firstString(wire.TrackID, wire.ID)
		if id == "" {
			continue
		}
		items = append(items, PreviewItem{
			TrackID:      id,
			Score:        firstFloat(wire.Score, wire.Staleness, wire.Value, wire.Weight),
			LastPlayedAt: firstFloat(wire.LastPlayedAt, wire.LastPlayedAt2, wire.LastTouchedAt, wire.LastTouched, wire.LastSeenAt),
			AddedAt:      firstFloat(wire.AddedAt, wire.AddedAt2),
		})
	}
	return items, source
}

type linkWire struct {
	LinkID           string   `json:"linkId"`
	ID               string   `json:"id"`
	Platform         string   `json:"platform"`
	TokenExpiration  *int64   `json:"tokenExpiration"`
	Expiration       *int64   `json:"expiration"`
	TokenExpiration2 *int64   `json:"token_expiration"`
	Scopes           []string `json:"scopes"`
}

func firstInt(candidates ...*int64) *int64 {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

// LinkHandles normalizes a listLinks payload: a {links} envelope or a
// bare array; bare string entries become handles with only a LinkID.
func LinkHandles(raw json.RawMessage) []LinkHandle {
	entries, _ := elements(raw)
	var links []LinkHandle
	for _, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			if s != "" {
				links = append(links, LinkHandle{LinkID: s})
			}
			continue
		}
		var wire linkWire
		if err := json.Unmarshal(entry, &wire); err != nil {
			continue
		}
		id := firstString(wire.LinkID, wire.ID)
		if id == "" {
			continue
		}
		links = append(links, LinkHandle{
			LinkID:          id,
			Platform:        wire.Platform,
			TokenExpiration: firstInt(wire.TokenExpiration, wire.Expiration, wire.TokenExpiration2),
			Scopes:          wire.Scopes,
		})
	}
	return links
}

// authLinkWire covers completeAuth responses, which additionally nest
// the link under {link:{id}} and spell the owner three ways.
type authLinkWire struct {
	LinkID string `json:"linkId"`
	ID     string `json:"id"`
	Link   *struct {
		ID string `json:"id"`
	} `json:"link"`
	UserID string `json:"userId"`
	User   *struct {
		ID string `json:"id"`
	} `json:"user"`
	OwnerID         string   `json:"ownerId"`
	Platform        string   `json:"platform"`
	TokenExpiration *int64   `json:"tokenExpiration"`
	NewExpiration   *int64   `json:"newExpiration"`
	Scopes          []string `json:"scopes"`
}

// AuthLink normalizes a completeAuth response. A missing link id is an
// error: without it the caller cannot refresh or revoke the link later.
func AuthLink(raw json.RawMessage) (LinkHandle, error) {
	var wire authLinkWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return LinkHandle{}, fmt.Errorf("decode auth completion: %w", err)
	}
	id := firstString(wire.LinkID, wire.ID)
	if id == "" && wire.Link != nil {
		id = wire.Link.ID
	}
	if id == "" {
		return LinkHandle{}, fmt.Errorf("auth completion did not return a linkId")
	}
	userID := wire.UserID
	if userID == "" && wire.User != nil {
		userID = wire.User.ID
	}
	if userID == "" {
		userID = wire.OwnerID
	}
	return LinkHandle{
		LinkID:          id,
		UserID:          userID,
		Platform:        wire.Platform,
		TokenExpiration: firstInt(wire.TokenExpiration, wire.NewExpiration),
		Scopes:          wire.Scopes,
	}, nil
}

// Expiration pulls a refresh response's new expiration, tolerating both
// spellings. Returns nil when the response carried neither.
func Expiration(raw json.RawMessage) *int64 {
	var wire struct {
		NewExpiration   *int64 `json:"newExpiration"`
		TokenExpiration *int64 `json:"tokenExpiration"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}
	return firstInt(wire.NewExpiration, wire.TokenExpiration)
}
