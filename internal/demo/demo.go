// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package demo holds the embedded offline/demo snapshot of liked tracks
// and their metadata. It answers read-only lookups when the backend is
// unreachable or returns an empty result set; it is never mutated at
// runtime.
package demo

import (
	"sort"
	"sync"

	"github.com/goccy/go-json"

	_ "embed"
)

//go:embed seed.json
var seedData []byte

// TrackMeta is a demo metadata record for a single track.
type TrackMeta struct {
	TrackID   string  `json:"trackId"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Available bool    `json:"available"`
	Tempo     float64 `json:"tempo"`
	Energy    float64 `json:"energy"`
	Valence   float64 `json:"valence"`
}

// Like is a demo liked-track entry. AddedAt is epoch seconds; entries are
// stored in the insertion order of the backend structure they were
// snapshotted from.
type Like struct {
	TrackID string `json:"trackId"`
	AddedAt int64  `json:"addedAt"`
}

type snapshot struct {
	Tracks []TrackMeta `json:"tracks"`
	Likes  []Like      `json:"likes"`
}

var (
	loadOnce sync.Once
	seed     snapshot
	byID     map[string]TrackMeta
)

// load parses the embedded seed exactly once per process. The seed is a
// build-time asset, so a parse failure is a programming error and panics.
func load() {
	loadOnce.Do(func() {
		if err := json.Unmarshal(seedData, &seed); err != nil {
			panic("demo: embedded seed is not valid JSON: " + err.Error())
		}
		byID = make(map[string]TrackMeta, len(seed.Tracks))
		for _, t := range seed.Tracks {
			byID[t.TrackID] = t
		}
	})
}

// LikedTrackIDs returns the snapshot's liked track ids in insertion order.
// The returned slice is a copy and safe to mutate.
func LikedTrackIDs() []string {
	load()
	ids := make([]string, len(seed.Likes))
	for i, like := range seed.Likes {
		ids[i] = like.TrackID
	}
	return ids
}

// MetadataFor returns the demo metadata for a track id, if present.
func MetadataFor(trackID string) (TrackMeta, bool) {
	load()
	meta, ok := byID[trackID]
	return meta, ok
}

// LikeFor returns the demo like entry for a track id, if present.
func LikeFor(trackID string) (Like, bool) {
	load()
	for _, like := range seed.Likes {
		if like.TrackID == trackID {
			return like, true
		}
	}
	return Like{}, false
}

// OldestLikes returns up to n like entries ordered oldest-addedAt first.
// Used by the time-capsule fallback when the scoring capability is down.
func OldestLikes(n int) []Like {
	load()
	likes := make([]Like, len(seed.Likes))
	copy(likes, seed.Likes)
	sort.Slice(likes, func(i, j int) bool { return likes[i].AddedAt < likes[j].AddedAt })
	if n < len(likes) {
		likes = likes[:n]
	}
	return likes
}
