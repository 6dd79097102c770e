// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

// Package swipe runs swipe sessions against the SwipeSessions capability
// with a per-session local mirror so a session survives the backend
// going away mid-flight. A session is online (no mirror, every call
// proxies), shadow (backend calls happen, mirror kept in parallel) or
// offline (mirror is authoritative). Degradation is one-way: a backend
// failure in shadow moves the session to offline and it never promotes
// back.
package swipe

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/echoreel/echoreel/internal/demo"
	"github.com/echoreel/echoreel/internal/logging"
	"github.com/echoreel/echoreel/internal/metrics"
	"github.com/echoreel/echoreel/internal/transport"
)

// CapabilityName identifies the backend capability this manager consumes.
const CapabilityName = "SwipeSessions"

// NoMoreTracks is the sentinel id returned by Next once an offline
// queue is exhausted. It is returned repeatedly and never throws.
const NoMoreTracks = "__no_more_tracks__"

// Mode is a session's degradation state.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeShadow  Mode = "shadow"
	ModeOffline Mode = "offline"
)

// Action classifies a recorded decision.
type Action string

const (
	ActionKeep          Action = "keep"
	ActionSnooze        Action = "snooze"
	ActionAddToPlaylist Action = "addToPlaylist"
)

// Decision is one entry of a session's local decision log.
type Decision struct {
	DecisionID string
	TrackID    string
	Action     Action
	Note       string
}

// StartParams are the inputs for starting a session. QueueTracks seeds
// the local mirror; when empty the demo liked tracks are used instead.
type StartParams struct {
	UserID      string
	QueueTracks []string
	Size        int
}

// Session is the handle returned by Start.
type Session struct {
	SessionID string
	Mode      Mode
}

type mirror struct {
	mode      Mode
	queue     []string
	queued    map[string]bool
	cursor    int
	decisions []Decision
}

// Manager owns the per-session mirrors and proxies operations to the
// backend according to each session's mode.
type Manager struct {
	client *transport.Client

	mu       sync.Mutex
	sessions map[string]*mirror
}

// NewManager registers the SwipeSessions capability on the client and
// returns the manager.
func NewManager(client *transport.Client, basePaths []string) *Manager {
	client.Register(transport.Capability{
		Name:       CapabilityName,
		BasePaths:  basePaths,
		Discipline: transport.RetryAllCandidates,
	})
	return &Manager{client: client, sessions: make(map[string]*mirror)}
}

// Start opens a session. A backend start plus a usable local queue
// yields shadow; a backend start with no local queue yields online; a
// failed backend start with a local queue yields a fully offline
// session with a locally minted id. With neither, the failure surfaces.
func (m *Manager) Start(ctx context.Context, params StartParams) (Session, error) {
	localQueue := params.QueueTracks
	if len(localQueue) == 0 {
		localQueue = demo.LikedTrackIDs()
	}

	body := map[string]any{"userId": params.UserID}
	if len(params.QueueTracks) > 0 {
		body["queueTracks"] = params.QueueTracks
	}
	if params.Size > 0 {
		body["size"] = params.Size
	}

	raw, err := m.client.Call(ctx, CapabilityName, http.MethodPost, "/start", body)
	if err != nil {
		if len(localQueue) == 0 {
			return Session{}, err
		}
		sessionID := "offline-" + uuid.NewString()
		m.put(sessionID, newMirror(ModeOffline, localQueue))
		metrics.SwipeSessionsActive.WithLabelValues(string(ModeOffline)).Inc()
		logging.Warn().Err(err).Str("session_id", sessionID).
			Msg("SwipeSessions unreachable, starting offline session")
		return Session{SessionID: sessionID, Mode: ModeOffline}, nil
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.SessionID == "" {
		return Session{}, fmt.Errorf("start response missing sessionId")
	}

	mode := ModeOnline
	entry := newMirror(ModeOnline, nil)
	if len(localQueue) > 0 {
		mode = ModeShadow
		entry = newMirror(ModeShadow, localQueue)
	}
	m.put(resp.SessionID, entry)
	metrics.SwipeSessionsActive.WithLabelValues(string(mode)).Inc()
	return Session{SessionID: resp.SessionID, Mode: mode}, nil
}

// Next returns the next track to swipe. In shadow, a backend id the
// mirror has not seen is appended to the local queue so forward
// progress survives a later degradation. An exhausted offline queue
// returns NoMoreTracks without advancing the cursor past the queue.
func (m *Manager) Next(ctx context.Context, sessionID string) (string, error) {
	entry, err := m.get(sessionID)
	if err != nil {
		return "", err
	}

	if m.modeOf(entry) == ModeOffline {
		return m.offlineNext(entry), nil
	}

	raw, err := m.client.Call(ctx, CapabilityName, http.MethodPost, "/next", map[string]any{"sessionId": sessionID})
	if err != nil {
		if m.degrade(sessionID, entry, err) {
			return m.offlineNext(entry), nil
		}
		return "", err
	}

	var resp struct {
		TrackID string `json:"trackId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.TrackID == "" {
		if m.degrade(sessionID, entry, fmt.Errorf("next response missing trackId")) {
			return m.offlineNext(entry), nil
		}
		return "", fmt.Errorf("next response missing trackId")
	}

	m.mu.Lock()
	if entry.mode == ModeShadow {
		if !entry.queued[resp.TrackID] {
			entry.queue = append(entry.queue, resp.TrackID)
			entry.queued[resp.TrackID] = true
		}
		if entry.cursor < len(entry.queue) {
			entry.cursor++
		}
	}
	m.mu.Unlock()
	return resp.TrackID, nil
}

// DecideKeep records a keep decision for the current track.
func (m *Manager) DecideKeep(ctx context.Context, sessionID, trackID string) (string, error) {
	return m.decide(ctx, sessionID, "/decideKeep", trackID, ActionKeep, "", nil)
}

// DecideSnooze records a snooze decision lasting until untilAt.
func (m *Manager) DecideSnooze(ctx context.Context, sessionID, trackID string, untilAt time.Time) (string, error) {
	extra := map[string]any{"untilAt": untilAt.UnixMilli()}
	note := "until " + untilAt.UTC().Format(time.RFC3339)
	return m.decide(ctx, sessionID, "/decideSnooze", trackID, ActionSnooze, note, extra)
}

// DecideAddToPlaylist records an add-to-playlist decision.
func (m *Manager) DecideAddToPlaylist(ctx context.Context, sessionID, trackID, playlistID string) (string, error) {
	extra := map[string]any{"playlistId": playlistID}
	return m.decide(ctx, sessionID, "/decideAddToPlaylist", trackID, ActionAddToPlaylist, playlistID, extra)
}

func (m *Manager) decide(ctx context.Context, sessionID, endpoint, trackID string, action Action, note string, extra map[string]any) (string, error) {
	entry, err := m.get(sessionID)
	if err != nil {
		return "", err
	}

	if m.modeOf(entry) == ModeOffline {
		return m.recordLocal(entry, trackID, action, note), nil
	}

	body := map[string]any{"sessionId": sessionID, "trackId": trackID}
	for k, v := range extra {
		body[k] = v
	}
	raw, err := m.client.Call(ctx, CapabilityName, http.MethodPost, endpoint, body)
	if err != nil {
		if m.degrade(sessionID, entry, err) {
			return m.recordLocal(entry, trackID, action, note), nil
		}
		return "", err
	}

	var resp struct {
		DecisionID string `json:"decisionId"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &resp)
	}
	decisionID := resp.DecisionID
	if decisionID == "" {
		decisionID = uuid.NewString()
	}

	m.mu.Lock()
	if entry.mode == ModeShadow {
		entry.decisions = append([]Decision{{DecisionID: decisionID, TrackID: trackID, Action: action, Note: note}}, entry.decisions...)
	}
	m.mu.Unlock()
	return decisionID, nil
}

// End finishes a session. The local mirror entry is cleared in every
// mode; only an online session propagates a backend end failure.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	entry, err := m.get(sessionID)
	if err != nil {
		return err
	}
	mode := m.modeOf(entry)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	metrics.SwipeSessionsActive.WithLabelValues(string(mode)).Dec()

	if mode == ModeOffline {
		return nil
	}
	if _, err := m.client.Call(ctx, CapabilityName, http.MethodPost, "/end", map[string]any{"sessionId": sessionID}); err != nil {
		if mode == ModeShadow {
			logging.Warn().Err(err).Str("session_id", sessionID).Msg("Backend end failed for shadow session")
			return nil
		}
		return err
	}
	return nil
}

// Mode reports a live session's degradation state.
func (m *Manager) Mode(sessionID string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	return entry.mode, true
}

// Decisions returns a copy of a session's local decision log, newest
// first. Online sessions keep no log.
func (m *Manager) Decisions(sessionID string) []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Decision, len(entry.decisions))
	copy(out, entry.decisions)
	return out
}

func newMirror(mode Mode, queue []string) *mirror {
	entry := &mirror{mode: mode, queued: make(map[string]bool, len(queue))}
	for _, id := range queue {
		if id == "" || entry.queued[id] {
			continue
		}
		entry.queue = append(entry.queue, id)
		entry.queued[id] = true
	}
	return entry
}

func (m *Manager) put(sessionID string, entry *mirror) {
	m.mu.Lock()
	m.sessions[sessionID] = entry
	m.mu.Unlock()
}

func (m *Manager) get(sessionID string) (*mirror, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown swipe session %q", sessionID)
	}
	return entry, nil
}

func (m *Manager) modeOf(entry *mirror) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return entry.mode
}

// degrade moves a shadow session to offline. Online sessions have no
// mirror to answer from, so they report false and the caller propagates.
func (m *Manager) degrade(sessionID string, entry *mirror, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.mode != ModeShadow {
		return entry.mode == ModeOffline
	}
	entry.mode = ModeOffline
	metrics.SwipeModeDegradations.Inc()
	metrics.SwipeSessionsActive.WithLabelValues(string(ModeShadow)).Dec()
	metrics.SwipeSessionsActive.WithLabelValues(string(ModeOffline)).Inc()
	logging.Warn().Err(cause).Str("session_id", sessionID).
		Msg("Swipe session degraded to offline mode")
	return true
}

// offlineNext pops the local queue. The cursor never moves past the
// queue length, so the sentinel repeats indefinitely.
func (m *Manager) offlineNext(entry *mirror) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.cursor >= len(entry.queue) {
		return NoMoreTracks
	}
	id := entry.queue[entry.cursor]
	entry.cursor++
	return id
}

// recordLocal mints an offline decision with a local uuid id.
func (m *Manager) recordLocal(entry *mirror, trackID string, action Action, note string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	decisionID := uuid.NewString()
	entry.decisions = append([]Decision{{DecisionID: decisionID, TrackID: trackID, Action: action, Note: note}}, entry.decisions...)
	return decisionID
}
