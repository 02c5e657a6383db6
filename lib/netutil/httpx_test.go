// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestDecodeResponse(t *testing.T) {
	var payload struct {
		EventID string `json:"event_id"`
	}
	if err := DecodeResponse(strings.NewReader(`{"event_id":"$ev1"}`), &payload); err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if payload.EventID != "$ev1" {
		t.Errorf("event_id = %q", payload.EventID)
	}

	if err := DecodeResponse(strings.NewReader("not json"), &payload); err == nil {
		t.Error("DecodeResponse accepted malformed JSON")
	}
}

func TestErrorBody(t *testing.T) {
	if got := ErrorBody(strings.NewReader("boom")); got != "boom" {
		t.Errorf("ErrorBody = %q", got)
	}
}
