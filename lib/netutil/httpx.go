// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response-body readers.
//
// ReadResponse, DecodeResponse, and ErrorBody cap reads at
// MaxResponseSize so a misbehaving homeserver cannot exhaust memory.
// They are for JSON API responses (the Matrix client-server API) — not
// for media downloads, which stream through io.ReadCloser handles and
// are consumed incrementally by the renderer.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response-body reads: 64 MB. A /sync
// response for a busy account is the largest legitimate payload and is
// still orders of magnitude below this; the limit only exists to stop
// a pathological response from exhausting memory.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll on HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (bounded) and decodes
// it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body for diagnostic messages.
// Read errors are silently ignored — a partial or empty body is still
// useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}
