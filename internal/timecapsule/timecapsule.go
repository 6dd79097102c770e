// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package timecapsule builds the "tracks you forgot about" rail. It
// oversamples a scoring preview for variety, enriches each entry with
// metadata, derives a staleness percentage and shuffles the result —
// a deliberately randomized order so the rail never becomes a static
// top-N. When the scoring capability is down or empty it rebuilds the
// rail from the oldest likes of the embedded snapshot.
package timecapsule

import (
	"context"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/echoreel/echoreel/internal/demo"
	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
	"github.com/echoreel/echoreel/internal/normalize"
	"github.com/echoreel/echoreel/internal/scoring"
)

// Source tags where a time-capsule result came from.
type Source string

const (
	SourceAPIScores     Source = "api-scores"
	SourceAPIBootstrap  Source = "api-bootstrap"
	SourceAPIUnknown    Source = "api-unknown"
	SourceSnapshot      Source = "snapshot"
	SourceSnapshotEmpty Source = "snapshot-empty"
	SourceSnapshotError Source = "snapshot-error"
)

// DefaultOversample is how many preview items to request regardless of
// display size; the surplus feeds the shuffle.
const DefaultOversample = 500

// Track is one display-ready time-capsule entry.
type Track struct {
	TrackID            string
	Title              string
	Artist             string
	StalenessPercent   int
	LastPlayedRelative string
	LastPlayedAbsolute string
}

// Result is a loaded rail with its provenance tag.
type Result struct {
	Tracks []Track
	Source Source
}

// Previewer is the slice of the scoring service the loader needs.
type Previewer interface {
	Preview(ctx context.Context, userID string, size int) (scoring.PreviewResult, error)
}

// MetadataLookup resolves track ids to metadata records.
type MetadataLookup interface {
	GetTracks(ctx context.Context, trackIDs []string) ([]normalize.Track, error)
}

// Loader assembles time-capsule rails.
type Loader struct {
	scoring    Previewer
	library    MetadataLookup
	oversample int
	now        func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithClock overrides the staleness clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// WithOversample overrides the preview fetch size.
func WithOversample(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.oversample = n
		}
	}
}

// NewLoader returns a Loader drawing previews from scoring and metadata
// from library.
func NewLoader(previews Previewer, library MetadataLookup, opts ...Option) *Loader {
	l := &Loader{
		scoring:    previews,
		library:    library,
		oversample: DefaultOversample,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// intermediate is an enriched preview entry before staleness and
// display formatting.
type intermediate struct {
	trackID      string
	title        string
	artist       string
	lastPlayedMs *int64
	scoreHint    *float64
}

// Load builds a rail of size tracks for the user. The preview is
// oversampled, enriched, scored, fully shuffled and truncated; total
// scoring failure or an empty preview falls back to the snapshot's
// oldest likes through the same pipeline.
func (l *Loader) Load(ctx context.Context, userID string, size int) (Result, error) {
	preview, err := l.scoring.Preview(ctx, userID, l.oversample)
	if err != nil {
		metrics.FallbackEngagements.WithLabelValues("timecapsule", "transport_failure").Inc()
		logging.Warn().Err(err).Msg("Falling back to snapshot time capsule data")
		return l.fallback(ctx, size, SourceSnapshotError), nil
	}

	if len(preview.Items) > 0 {
		tracks := l.finalize(l.build(ctx, preview.Items))
		if len(tracks) > size {
			tracks = tracks[:size]
		}
		if len(tracks) > 0 {
			return Result{Tracks: tracks, Source: mapPreviewSource(preview.Source)}, nil
		}
	}

	metrics.FallbackEngagements.WithLabelValues("timecapsule", "empty_result").Inc()
	logging.Info().Str("source", preview.Source).
		Msg("Scoring preview returned no tracks, using snapshot fallback")
	if preview.Source == "empty" {
		return l.fallback(ctx, size, SourceSnapshotEmpty), nil
	}
	return l.fallback(ctx, size, SourceSnapshot), nil
}

// fallback rebuilds the rail from the snapshot's oldest-addedAt likes,
// treating the like time as the last play.
func (l *Loader) fallback(ctx context.Context, size int, source Source) Result {
	likes := demo.OldestLikes(size)
	items := make([]normalize.PreviewItem, len(likes))
	for i, like := range likes {
		addedAt := float64(like.AddedAt)
		items[i] = normalize.PreviewItem{TrackID: like.TrackID, LastPlayedAt: &addedAt}
	}
	tracks := l.finalize(l.build(ctx, items))
	if len(tracks) > size {
		tracks = tracks[:size]
	}
	return Result{Tracks: tracks, Source: source}
}

// build enriches preview entries: backend metadata first, then the demo
// snapshot, then the raw id. Metadata being unavailable degrades the
// titles, never the rail.
func (l *Loader) build(ctx context.Context, items []normalize.PreviewItem) []intermediate {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.TrackID
	}

	byID := make(map[string]normalize.Track)
	if l.library != nil {
		tracks, err := l.library.GetTracks(ctx, ids)
		if err != nil {
			logging.Warn().Err(err).Msg("Track metadata unavailable, continuing with snapshot fallbacks")
		}
		for _, track := range tracks {
			byID[track.TrackID] = track
		}
	}

	out := make([]intermediate, 0, len(items))
	for _, item := range items {
		entry := intermediate{
			trackID:      item.TrackID,
			title:        item.TrackID,
			artist:       "Unknown artist",
			lastPlayedMs: toMilliseconds(item.LastPlayedAt),
			scoreHint:    item.Score,
		}
		if meta, ok := byID[item.TrackID]; ok {
			if meta.Title != "" {
				entry.title = meta.Title
			}
			if meta.Artist != "" {
				entry.artist = meta.Artist
			}
		} else if meta, ok := demo.MetadataFor(item.TrackID); ok {
			entry.title = meta.Title
			entry.artist = meta.Artist
		}
		out = append(out, entry)
	}
	return out
}

// finalize derives staleness and display strings, then shuffles.
func (l *Loader) finalize(items []intermediate) []Track {
	now := l.now()
	tracks := make([]Track, len(items))
	for i, item := range items {
		relative, absolute := "No recent plays", "—"
		if item.lastPlayedMs != nil {
			played := time.UnixMilli(*item.lastPlayedMs)
			relative = formatRelative(now, played)
			absolute = played.Format("Jan 2, 2006")
		}
		tracks[i] = Track{
			TrackID:            item.trackID,
			Title:              item.title,
			Artist:             item.artist,
			StalenessPercent:   staleness(now, item, i),
			LastPlayedRelative: relative,
			LastPlayedAbsolute: absolute,
		}
	}
	rand.Shuffle(len(tracks), func(i, j int) {
		tracks[i], tracks[j] = tracks[j], tracks[i]
	})
	return tracks
}

// staleness derives the 0-100 staleness percentage: a backend score is
// used verbatim, else a piecewise age curve over the last play, else a
// rank default that decays down the preview order.
func staleness(now time.Time, item intermediate, index int) int {
	var value int
	switch {
	case item.scoreHint != nil:
		value = int(math.Round(*item.scoreHint))
	case item.lastPlayedMs != nil:
		ageMs := float64(now.UnixMilli() - *item.lastPlayedMs)
		if ageMs < 0 {
			ageMs = 0
		}
		ageYears := ageMs / (365 * 24 * float64(time.Hour/time.Millisecond))
		switch {
		case ageYears < 1:
			value = int(math.Min(30, math.Round(ageYears*30)))
		case ageYears < 2:
			value = 30 + int(math.Round((ageYears-1)*20))
		case ageYears < 3:
			value = 50 + int(math.Round((ageYears-2)*20))
		case ageYears < 5:
			value = 70 + int(math.Round((ageYears-3)*10))
		default:
			value = 90 + int(math.Min(10, math.Round((ageYears-5)*2)))
		}
	default:
		value = 70 - index*3
	}
	return clamp(value, 0, 100)
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// toMilliseconds normalizes an epoch timestamp that may be seconds or
// milliseconds. Anything above 1e12 is already milliseconds.
func toMilliseconds(timestamp *float64) *int64 {
	if timestamp == nil || math.IsNaN(*timestamp) {
		return nil
	}
	ms := *timestamp
	if ms <= 1_000_000_000_000 {
		ms *= 1000
	}
	v := int64(ms)
	return &v
}

// formatRelative renders a past instant the way people talk about it.
func formatRelative(now, then time.Time) string {
	seconds := int64(math.Round(now.Sub(then).Seconds()))
	if seconds < 0 {
		seconds = 0
	}
	if seconds < 45 {
		return "moments ago"
	}
	minutes := int64(math.Round(float64(seconds) / 60))
	if minutes < 60 {
		return plural(minutes, "minute")
	}
	hours := int64(math.Round(float64(minutes) / 60))
	if hours < 24 {
		return plural(hours, "hour")
	}
	days := int64(math.Round(float64(hours) / 24))
	if days < 30 {
		return plural(days, "day")
	}
	months := int64(math.Round(float64(days) / 30))
	if months < 18 {
		return plural(months, "month")
	}
	years := int64(math.Round(float64(days) / 365))
	return plural(years, "year")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return strconv.FormatInt(n, 10) + " " + unit + "s ago"
}

func mapPreviewSource(source string) Source {
	switch source {
	case "scores":
		return SourceAPIScores
	case "bootstrap":
		return SourceAPIBootstrap
	default:
		return SourceAPIUnknown
	}
}
