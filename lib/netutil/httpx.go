// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small I/O helpers shared by the session
// backends and the bridge.
//
// ReadResponse bounds HTTP response body reads at MaxResponseSize so a
// misbehaving homeserver cannot exhaust memory; Truncate shortens
// unexpected bodies for error messages. IsExpectedCloseError classifies
// errors that mean "the other side went away" rather than a fault.
package netutil

import (
	"io"
	"unicode/utf8"
)

// MaxResponseSize bounds JSON API response reads: 64 MB. A /sync
// response after a long absence is the largest body the bridge reads.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// Truncate returns data as a string of at most limit bytes, cut on a
// UTF-8 boundary and marked with "..." when shortened.
func Truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut]) + "..."
}
