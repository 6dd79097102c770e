// Echoreel - Music Library Companion
// Copyright 2026 Echoreel Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/echoreel/echoreel

package transport

import (
	"errors"
	"fmt"
)

// ErrUnreachable reports that no candidate endpoint for a capability
// produced a response at all.
var ErrUnreachable = errors.New("no capability endpoint responded")

// HTTPError is a non-2xx response from a candidate endpoint. The status
// code appears in the message so the session package's substring-based
// auth classifier can see it.
type HTTPError struct {
	Capability string
	Endpoint   string
	Status     int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s request failed (%d) at %s", e.Capability, e.Status, e.Endpoint)
}

// MalformedResponseError is a 2xx response whose body claimed or looked
// like JSON but failed to parse, or carried an unexpected content type.
type MalformedResponseError struct {
	Capability  string
	Endpoint    string
	ContentType string
	Reason      string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s response at %s is malformed: %s", e.Capability, e.Endpoint, e.Reason)
}
