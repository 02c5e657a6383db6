// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"sync"
	"time"

	"github.com/abekugithub/matrix/lib/clock"
	"github.com/abekugithub/matrix/lib/ref"
)

// DefaultEchoExpiry bounds how long a pending send is remembered. A
// sync echo normally arrives within a second or two; an echo later
// than this renders as a duplicate, a deliberate trade-off against
// suppressing an unrelated event forever.
const DefaultEchoExpiry = 10 * time.Second

// EchoReconciler tracks locally originated sends so the sync echo of
// each one is suppressed from timeline insertion exactly once. The
// zero value is not usable; construct with NewEchoReconciler.
//
// Safe for concurrent use: sends complete while sync events are being
// dispatched.
type EchoReconciler struct {
	clk    clock.Clock
	expiry time.Duration

	mu      sync.Mutex
	pending map[ref.EventID]time.Time // event ID -> suppression deadline
}

// NewEchoReconciler creates a reconciler whose registrations live for
// expiry. Zero expiry uses DefaultEchoExpiry.
func NewEchoReconciler(clk clock.Clock, expiry time.Duration) *EchoReconciler {
	if expiry <= 0 {
		expiry = DefaultEchoExpiry
	}
	return &EchoReconciler{
		clk:     clk,
		expiry:  expiry,
		pending: make(map[ref.EventID]time.Time),
	}
}

// Record registers a just-sent event ID for suppression. Call it with
// the event ID returned by the send before the sync echo can arrive.
func (r *EchoReconciler) Record(eventID ref.EventID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[eventID] = r.clk.Now().Add(r.expiry)
}

// ShouldSuppress reports whether an inbound event is the echo of a
// recorded send. A match consumes the registration, so the same event
// ID is suppressed at most once. Expired registrations never match.
func (r *EchoReconciler) ShouldSuppress(eventID ref.EventID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline, ok := r.pending[eventID]
	if !ok {
		return false
	}
	delete(r.pending, eventID)
	return !r.clk.Now().After(deadline)
}

// Expire drops all registrations whose window has elapsed. Lazy
// expiry in ShouldSuppress already keeps correctness; this trims
// memory for sends whose echo never arrived.
func (r *EchoReconciler) Expire() {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for eventID, deadline := range r.pending {
		if now.After(deadline) {
			delete(r.pending, eventID)
		}
	}
}

// PendingCount returns the number of live registrations.
func (r *EchoReconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
