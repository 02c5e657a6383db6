// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"testing"
	"time"

	"github.com/abekugithub/matrix/lib/clock"
	"github.com/abekugithub/matrix/lib/ref"
)

func TestEchoSuppressExactlyOnce(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 10*time.Second)
	eventID := ref.MustParseEventID("$send1:local")

	reconciler.Record(eventID)
	if !reconciler.ShouldSuppress(eventID) {
		t.Fatal("first echo should be suppressed")
	}
	if reconciler.ShouldSuppress(eventID) {
		t.Fatal("second delivery of the same event must not be suppressed")
	}
}

func TestEchoUnknownEventNotSuppressed(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 10*time.Second)

	if reconciler.ShouldSuppress(ref.MustParseEventID("$other1:local")) {
		t.Fatal("event never recorded must not be suppressed")
	}
}

func TestEchoExpiry(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 10*time.Second)
	eventID := ref.MustParseEventID("$late1:local")

	reconciler.Record(eventID)
	clk.Advance(11 * time.Second)

	// Late echo: the window elapsed, so the duplicate renders. This is
	// the accepted trade-off of the time-boxed heuristic.
	if reconciler.ShouldSuppress(eventID) {
		t.Fatal("echo after the expiry window must not be suppressed")
	}
}

func TestEchoWithinWindowBoundary(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 10*time.Second)
	eventID := ref.MustParseEventID("$edge1:local")

	reconciler.Record(eventID)
	clk.Advance(10 * time.Second)
	if !reconciler.ShouldSuppress(eventID) {
		t.Fatal("echo exactly at the deadline should still be suppressed")
	}
}

func TestEchoExpireTrimsStaleEntries(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 10*time.Second)

	reconciler.Record(ref.MustParseEventID("$old1:local"))
	clk.Advance(5 * time.Second)
	reconciler.Record(ref.MustParseEventID("$new1:local"))
	clk.Advance(6 * time.Second)

	reconciler.Expire()
	if got := reconciler.PendingCount(); got != 1 {
		t.Fatalf("pending count = %d, want 1", got)
	}
	if !reconciler.ShouldSuppress(ref.MustParseEventID("$new1:local")) {
		t.Fatal("unexpired registration should survive Expire")
	}
}

func TestEchoDefaultExpiry(t *testing.T) {
	clk := clock.Fake(time.Unix(1700000000, 0))
	reconciler := NewEchoReconciler(clk, 0)
	eventID := ref.MustParseEventID("$default1:local")

	reconciler.Record(eventID)
	clk.Advance(DefaultEchoExpiry - time.Second)
	if !reconciler.ShouldSuppress(eventID) {
		t.Fatal("echo inside the default window should be suppressed")
	}
}
