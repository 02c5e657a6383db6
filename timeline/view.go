// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abekugithub/matrix/lib/clock"
	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// Renderer is the rendering surface's half of the timeline contract.
// Live events arrive from the view's Run goroutine; Insert and
// Prepend are also called from whichever goroutine invokes Send or
// LoadOlder, so implementations must tolerate concurrent calls (a TUI
// that funnels into its own update loop already does).
//
// Reactions, edits, and redactions are never inserted as standalone
// entries — they arrive through their dedicated methods and the
// renderer absorbs them into the target node.
type Renderer interface {
	// Insert appends a live message to the bottom of the timeline.
	Insert(message Message)

	// Prepend inserts older history above the current window, in
	// oldest-to-newest order, preserving the scroll anchor.
	Prepend(messages []Message)

	// Replace swaps a rendered node in place, keyed by event ID. Used
	// when a decryption failure later resolves.
	Replace(eventID ref.EventID, message Message)

	// Remove deletes a rendered node, keyed by event ID.
	Remove(eventID ref.EventID)

	// ApplyReaction aggregates a reaction onto its target node.
	ApplyReaction(target ref.EventID, sender ref.UserID, key string)

	// ApplyEdit splices replacement content into the target node.
	ApplyEdit(target ref.EventID, edit EditPayload)
}

// CallHandler consumes call signaling events from the conversation
// stream. Implemented by voip.Manager.
type CallHandler interface {
	HandleEvent(ctx context.Context, event messaging.Event)
}

// ViewConfig assembles a ConversationView.
type ViewConfig struct {
	Session  *messaging.Session
	Stream   *messaging.Stream
	Renderer Renderer

	// Decryptor is required for encrypted conversations and may be
	// nil otherwise.
	Decryptor messaging.Decryptor

	// Calls receives m.call.* events in stream order. Optional; the
	// events still render as call entries in the timeline either way.
	Calls CallHandler

	// Encrypted selects the encrypted send path.
	Encrypted bool

	// Clock defaults to the real clock.
	Clock clock.Clock

	// EchoExpiry bounds pending-send registrations; zero uses
	// DefaultEchoExpiry.
	EchoExpiry time.Duration

	// PageSize for history loads; zero uses the paginator default.
	PageSize int

	Logger *slog.Logger
}

// ConversationView owns one conversation's orchestration state: the
// echo reconciler, the decryption retrier, and the paginator all live
// here, created when the conversation opens and discarded when it
// closes. Inbound events route through echo suppression, decryption,
// and classification before reaching the Renderer.
//
// All renderer dispatch happens on the Run goroutine. Send, LoadOlder,
// RetryDecryption, and NotifyDecrypted are safe to call concurrently
// with Run.
type ConversationView struct {
	session   *messaging.Session
	stream    *messaging.Stream
	renderer  Renderer
	decryptor messaging.Decryptor
	calls     CallHandler
	encrypted bool
	logger    *slog.Logger

	room      RoomContext
	echoes    *EchoReconciler
	retrier   *DecryptionRetrier
	paginator *Paginator

	// failed carries events whose decryption failed, keyed by event
	// ID, so a later success notification can re-classify them.
	// Guarded by failedMu: Run and the caller-facing methods touch it
	// from different goroutines.
	failedMu sync.Mutex
	failed   map[ref.EventID]messaging.Event

	// notifications funnels decryption-success callbacks onto the Run
	// goroutine.
	notifications chan messaging.Event

	// pendingRelations buffers history-page reactions, edits, and
	// redactions whose targets sit deeper in history than anything
	// loaded yet, keyed by target. Guarded by relationsMu.
	relationsMu      sync.Mutex
	pendingRelations map[ref.EventID][]Message
}

// NewConversationView wires up a view over an open event stream.
func NewConversationView(config ViewConfig) (*ConversationView, error) {
	if config.Session == nil || config.Stream == nil || config.Renderer == nil {
		return nil, fmt.Errorf("timeline: Session, Stream, and Renderer are required")
	}
	if config.Encrypted && config.Decryptor == nil {
		return nil, fmt.Errorf("timeline: an encrypted conversation requires a Decryptor")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	view := &ConversationView{
		session:   config.Session,
		stream:    config.Stream,
		renderer:  config.Renderer,
		decryptor: config.Decryptor,
		calls:     config.Calls,
		encrypted: config.Encrypted,
		logger:    logger,
		room:      RoomContext{LocalUser: config.Session.UserID()},
		echoes:    NewEchoReconciler(clk, config.EchoExpiry),
		retrier:   NewDecryptionRetrier(config.Decryptor, logger),
		paginator: NewPaginator(config.Session, config.Stream.RoomID(),
			config.Stream.PrevBatch(), config.PageSize, logger),
		failed:           make(map[ref.EventID]messaging.Event),
		notifications:    make(chan messaging.Event, 16),
		pendingRelations: make(map[ref.EventID][]Message),
	}
	return view, nil
}

// Run dispatches stream events to the renderer until the stream
// closes or ctx is cancelled. Failures local to a single event are
// logged and never abort processing of sibling events.
func (v *ConversationView) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-v.stream.Events():
			if !ok {
				if err := v.stream.Err(); err != nil {
					return fmt.Errorf("timeline: event stream failed: %w", err)
				}
				return nil
			}
			v.handleEvent(ctx, event)
		case plaintext := <-v.notifications:
			v.handleDecrypted(plaintext)
		}
	}
}

// handleEvent routes one inbound event: echo suppression, decryption,
// classification, renderer dispatch.
func (v *ConversationView) handleEvent(ctx context.Context, event messaging.Event) {
	if event.EventID.IsZero() {
		return
	}
	if v.echoes.ShouldSuppress(event.EventID) {
		// The optimistic local copy is already rendered; the echo
		// still counts as materialized for pagination dedup.
		v.paginator.Mark(event.EventID)
		return
	}
	if v.paginator.Seen(event.EventID) {
		return
	}

	if event.Type == messaging.TypeRoomEncrypted && v.decryptor != nil {
		decrypted, err := v.retrier.Decrypt(ctx, event)
		if err != nil {
			v.rememberFailed(event)
			v.logger.Debug("event failed to decrypt",
				"event_id", event.EventID,
				"error", err,
			)
		} else {
			event = decrypted
			// The plaintext keeps the encrypted wrapper's identity.
			if event.EventID.IsZero() {
				return
			}
		}
	}

	switch event.Type {
	case messaging.TypeCallInvite, messaging.TypeCallAnswer,
		messaging.TypeCallCandidates, messaging.TypeCallHangup:
		if v.calls != nil {
			v.calls.HandleEvent(ctx, event)
		}
	}

	message, ok := Classify(event, v.room)
	if !ok {
		return
	}
	v.dispatch(message)
}

// dispatch hands one classified message to the renderer.
func (v *ConversationView) dispatch(message Message) {
	switch message.Kind {
	case KindReaction:
		v.renderer.ApplyReaction(message.Reaction.TargetID, message.Sender, message.Reaction.Key)
	case KindEdit:
		v.renderer.ApplyEdit(message.Edit.TargetID, *message.Edit)
	case KindRedaction:
		v.renderer.Remove(message.Redaction.TargetID)
	default:
		// Mark before inserting: the sync echo and the optimistic
		// local copy of a send can race here, and only whichever marks
		// the ID first may render it.
		if !v.paginator.Mark(message.EventID) {
			return
		}
		v.renderer.Insert(message)
	}
}

// handleDecrypted re-classifies an event whose decryption succeeded
// after it was rendered as an error node, and replaces that node in
// place.
func (v *ConversationView) handleDecrypted(plaintext messaging.Event) {
	if !v.retrier.NotifyDecrypted(plaintext.EventID) {
		return
	}
	v.forgetFailed(plaintext.EventID)
	message, ok := Classify(plaintext, v.room)
	if !ok {
		return
	}
	v.renderer.Replace(plaintext.EventID, message)
}

func (v *ConversationView) rememberFailed(event messaging.Event) {
	v.failedMu.Lock()
	v.failed[event.EventID] = event
	v.failedMu.Unlock()
}

func (v *ConversationView) forgetFailed(eventID ref.EventID) {
	v.failedMu.Lock()
	delete(v.failed, eventID)
	v.failedMu.Unlock()
}

// NotifyDecrypted is the entry point for the crypto collaborator's
// decryption-success callback. plaintext is the decrypted event,
// carrying the same event ID as the failed one. Safe to call from any
// goroutine; the replacement happens on the Run goroutine.
func (v *ConversationView) NotifyDecrypted(plaintext messaging.Event) {
	select {
	case v.notifications <- plaintext:
	default:
		// A full queue means Run is gone or far behind; the next
		// manual retry will recover the event.
		v.logger.Warn("dropping decryption notification", "event_id", plaintext.EventID)
	}
}

// RetryDecryption re-attempts decryption of a failed event, for the
// retry affordance on error nodes. Idempotent: retrying an event that
// has since decrypted is a no-op.
func (v *ConversationView) RetryDecryption(ctx context.Context, eventID ref.EventID) error {
	v.failedMu.Lock()
	event, ok := v.failed[eventID]
	v.failedMu.Unlock()
	if !ok {
		return nil
	}
	plaintext, replace, err := v.retrier.Retry(ctx, event)
	if err != nil {
		return fmt.Errorf("timeline: decryption retry: %w", err)
	}
	if replace {
		v.NotifyDecrypted(plaintext)
	}
	return nil
}

// Send submits message content, rendering an optimistic local echo
// immediately. In an encrypted conversation an unknown-device failure
// is recovered automatically: the reported devices are acknowledged
// (trust-on-first-use) and the send retried exactly once; a second
// failure propagates.
func (v *ConversationView) Send(ctx context.Context, content messaging.MessageContent) (ref.EventID, error) {
	eventID, err := v.sendOnce(ctx, content)
	if err != nil {
		var unknownDevices *messaging.UnknownDevicesError
		if !errors.As(err, &unknownDevices) || v.decryptor == nil {
			return ref.EventID{}, err
		}
		if ackErr := v.decryptor.AcknowledgeDevices(ctx, unknownDevices.Devices); ackErr != nil {
			return ref.EventID{}, fmt.Errorf("timeline: device acknowledgment: %w", ackErr)
		}
		v.logger.Info("acknowledged unknown devices, retrying send",
			"devices", len(unknownDevices.Devices),
		)
		eventID, err = v.sendOnce(ctx, content)
		if err != nil {
			return ref.EventID{}, err
		}
	}

	v.echoes.Record(eventID)
	v.dispatch(v.localEcho(eventID, content))
	return eventID, nil
}

func (v *ConversationView) sendOnce(ctx context.Context, content messaging.MessageContent) (ref.EventID, error) {
	roomID := v.stream.RoomID()
	if !v.encrypted {
		return v.session.SendMessage(ctx, roomID, content)
	}
	ciphertext, err := v.decryptor.EncryptEvent(ctx, roomID, messaging.TypeRoomMessage, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("timeline: message encryption: %w", err)
	}
	return v.session.SendEvent(ctx, roomID, messaging.TypeRoomEncrypted, json.RawMessage(ciphertext))
}

// localEcho classifies the just-sent content as if it had arrived
// from the server, so the optimistic copy renders identically to a
// real event.
func (v *ConversationView) localEcho(eventID ref.EventID, content messaging.MessageContent) Message {
	encoded, _ := json.Marshal(content)
	message, _ := Classify(messaging.Event{
		EventID:        eventID,
		Type:           messaging.TypeRoomMessage,
		Sender:         v.room.LocalUser,
		OriginServerTS: time.Now().UnixMilli(),
		Content:        encoded,
	}, v.room)
	return message
}

// LoadOlder fetches, classifies, and prepends the next page of
// history, oldest to newest. It reports whether more history may
// remain. A call while a load is in flight returns ErrLoadInFlight
// unwrapped so the trigger can ignore it.
func (v *ConversationView) LoadOlder(ctx context.Context) (bool, error) {
	events, more, err := v.paginator.LoadOlder(ctx)
	if err != nil {
		return more, err
	}
	if len(events) == 0 {
		return more, nil
	}

	messages := make([]Message, 0, len(events))
	var relations []Message
	for _, event := range events {
		if event.Type == messaging.TypeRoomEncrypted && v.decryptor != nil {
			decrypted, decryptErr := v.retrier.Decrypt(ctx, event)
			if decryptErr == nil {
				event = decrypted
			} else {
				v.rememberFailed(event)
			}
		}
		message, ok := Classify(event, v.room)
		if !ok {
			continue
		}
		switch message.Kind {
		case KindReaction, KindEdit, KindRedaction:
			relations = append(relations, message)
			continue
		}
		messages = append(messages, message)
	}
	if len(messages) > 0 {
		v.renderer.Prepend(messages)
	}
	// Relations buffered from earlier pages resolve against the nodes
	// just materialized; this page's own relations resolve against
	// anything loaded so far, or wait for a deeper page.
	for _, message := range messages {
		v.flushRelations(message.EventID)
	}
	for _, relation := range relations {
		v.applyRelation(relation)
	}
	return more, nil
}

// relationTarget returns the event a relation message applies to.
func relationTarget(message Message) ref.EventID {
	switch message.Kind {
	case KindReaction:
		return message.Reaction.TargetID
	case KindEdit:
		return message.Edit.TargetID
	case KindRedaction:
		return message.Redaction.TargetID
	}
	return ref.EventID{}
}

// applyRelation dispatches a history-page relation when its target is
// materialized, and buffers it for a deeper page otherwise.
func (v *ConversationView) applyRelation(message Message) {
	target := relationTarget(message)
	if target.IsZero() {
		return
	}
	if !v.paginator.Seen(target) {
		v.relationsMu.Lock()
		v.pendingRelations[target] = append(v.pendingRelations[target], message)
		v.relationsMu.Unlock()
		return
	}
	switch message.Kind {
	case KindReaction:
		v.renderer.ApplyReaction(target, message.Sender, message.Reaction.Key)
	case KindEdit:
		v.renderer.ApplyEdit(target, *message.Edit)
	case KindRedaction:
		v.renderer.Remove(target)
	}
}

// flushRelations applies relations that were waiting for eventID to
// materialize.
func (v *ConversationView) flushRelations(eventID ref.EventID) {
	v.relationsMu.Lock()
	waiting := v.pendingRelations[eventID]
	delete(v.pendingRelations, eventID)
	v.relationsMu.Unlock()
	for _, message := range waiting {
		v.applyRelation(message)
	}
}

// CanLoadMore reports whether the conversation may have more history.
// Sticky false once the homeserver reports the start of history.
func (v *ConversationView) CanLoadMore() bool {
	return v.paginator.CanLoadMore()
}

// RoomID returns the conversation's room.
func (v *ConversationView) RoomID() ref.RoomID {
	return v.stream.RoomID()
}
