// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// decryptState is the per-event decryption lifecycle. The only
// transitions are Encrypted→Decrypted, Encrypted→Failed, and
// Failed→Decrypted: once cleartext is obtained it is retained.
type decryptState int

const (
	stateFailed decryptState = iota + 1
	stateDecrypted
)

// DecryptionRetrier drives decryption recovery for one conversation:
// it decrypts inbound encrypted events, requests missing key material
// on failure (once per event), and decides whether a later
// decryption-success notification should replace a rendered error
// node.
//
// Safe for concurrent use: decryption-success notifications arrive on
// the protocol client's callback goroutine while sync events are
// being processed.
type DecryptionRetrier struct {
	decryptor messaging.Decryptor
	logger    *slog.Logger

	mu        sync.Mutex
	states    map[ref.EventID]decryptState
	requested map[ref.EventID]bool // key request already issued
}

// NewDecryptionRetrier constructs a retrier around the crypto
// collaborator. A nil logger uses slog.Default.
func NewDecryptionRetrier(decryptor messaging.Decryptor, logger *slog.Logger) *DecryptionRetrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecryptionRetrier{
		decryptor: decryptor,
		logger:    logger,
		states:    make(map[ref.EventID]decryptState),
		requested: make(map[ref.EventID]bool),
	}
}

// Decrypt attempts to decrypt an m.room.encrypted event. On success
// the plaintext event is returned and the event is marked Decrypted.
// On failure the original event is returned with the error; the first
// failure for an event issues a best-effort key request through the
// crypto collaborator.
func (r *DecryptionRetrier) Decrypt(ctx context.Context, event messaging.Event) (messaging.Event, error) {
	plaintext, err := r.decryptor.DecryptEvent(ctx, event)
	if err == nil {
		r.mu.Lock()
		r.states[event.EventID] = stateDecrypted
		r.mu.Unlock()
		return plaintext, nil
	}

	r.mu.Lock()
	if r.states[event.EventID] != stateDecrypted {
		r.states[event.EventID] = stateFailed
	}
	alreadyRequested := r.requested[event.EventID]
	r.requested[event.EventID] = true
	r.mu.Unlock()

	if !alreadyRequested && errors.Is(err, messaging.ErrUndecryptable) {
		if requestErr := r.decryptor.RequestRoomKey(ctx, event); requestErr != nil {
			// Best-effort: a failed key request only delays recovery.
			r.logger.Warn("key request failed",
				"event_id", event.EventID,
				"error", requestErr,
			)
		}
	}
	return event, err
}

// NotifyDecrypted handles the out-of-band decryption-success
// notification for an event. It reports whether the caller should
// replace a previously rendered error node: true only for the first
// notification after a recorded failure. Notifications for events
// already decrypted (or never seen) are no-ops.
func (r *DecryptionRetrier) NotifyDecrypted(eventID ref.EventID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[eventID] != stateFailed {
		return false
	}
	r.states[eventID] = stateDecrypted
	return true
}

// Retry re-attempts decryption of a failed event, for a user-facing
// retry affordance. Idempotent: retrying an already-decrypted event
// does nothing and reports replace=false. A still-failing retry
// re-issues the key request.
func (r *DecryptionRetrier) Retry(ctx context.Context, event messaging.Event) (plaintext messaging.Event, replace bool, err error) {
	r.mu.Lock()
	if r.states[event.EventID] == stateDecrypted {
		r.mu.Unlock()
		return event, false, nil
	}
	r.mu.Unlock()

	decrypted, err := r.decryptor.DecryptEvent(ctx, event)
	if err == nil {
		r.mu.Lock()
		r.states[event.EventID] = stateDecrypted
		r.mu.Unlock()
		return decrypted, true, nil
	}

	if errors.Is(err, messaging.ErrUndecryptable) {
		if requestErr := r.decryptor.RequestRoomKey(ctx, event); requestErr != nil {
			r.logger.Warn("key request failed on retry",
				"event_id", event.EventID,
				"error", requestErr,
			)
		}
	}
	return event, false, err
}
