// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/abekugithub/matrix/lib/ref"
)

// SyncFilter configures what events a Stream receives from /sync. The
// streamed room is always included automatically — callers never need
// to specify the room ID in the filter.
//
// A nil *SyncFilter means "all events from the room" (state and
// timeline). This is the common case for a conversation stream.
type SyncFilter struct {
	// TimelineTypes restricts timeline events to these Matrix event types
	// (e.g., "m.room.message"). An empty slice means all timeline types.
	TimelineTypes []string

	// TimelineLimit caps the number of timeline events per /sync response.
	// Zero means no explicit limit (server default).
	TimelineLimit int

	// ExcludeState suppresses state events from the /sync response.
	ExcludeState bool
}

// buildInlineFilter constructs the inline JSON filter string for /sync.
// The filter always scopes to the given room, and always excludes
// presence and account data — a conversation stream has no use for
// either.
func buildInlineFilter(roomID ref.RoomID, filter *SyncFilter) string {
	roomFilter := map[string]any{
		"rooms": []string{roomID.String()},
	}

	if filter != nil {
		if len(filter.TimelineTypes) > 0 {
			timeline := map[string]any{"types": filter.TimelineTypes}
			if filter.TimelineLimit > 0 {
				timeline["limit"] = filter.TimelineLimit
			}
			roomFilter["timeline"] = timeline
		} else if filter.TimelineLimit > 0 {
			roomFilter["timeline"] = map[string]any{"limit": filter.TimelineLimit}
		}

		if filter.ExcludeState {
			roomFilter["state"] = map[string]any{"types": []string{}}
		}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}

// maxSyncRetries is the number of consecutive /sync failures allowed
// before the stream shuts down with an error. Each retry uses a
// 1-second server-side timeout so the HTTP round-trip itself provides
// backoff.
const maxSyncRetries = 5

// longPollTimeout is the server-side long-poll hold time in
// milliseconds for normal /sync calls. The server holds the connection
// for up to this duration, returning immediately when new events
// arrive. 30 seconds matches the Matrix client-server spec
// recommendation.
const longPollTimeout = 30000

// retryTimeout is the server-side timeout in milliseconds used after
// a /sync error. Short so the retry completes quickly and the next
// attempt can proceed.
const retryTimeout = 1000

// Stream delivers a single room's events from the Matrix /sync stream
// in server order, over a channel. Open one with OpenStream; read from
// Events until it closes; then check Err for why.
//
// All waiting uses /sync long-polling: the server holds the connection
// until new events arrive, then returns immediately. There is no
// client-side polling interval.
type Stream struct {
	session *Session
	roomID  ref.RoomID
	filter  string // inline JSON /sync filter

	events    chan Event
	prevBatch string // pagination anchor from the initial sync

	mu  sync.Mutex
	err error
}

// OpenStream captures the current /sync position for a room and starts
// a goroutine delivering all subsequent events on the returned
// Stream's channel. Timeline events from the initial sync are
// delivered first, so a fresh conversation is never empty.
//
// The stream runs until ctx is cancelled or /sync fails
// maxSyncRetries consecutive times; either way the events channel is
// closed and Err reports the cause (nil for plain cancellation).
func OpenStream(ctx context.Context, session *Session, roomID ref.RoomID, filter *SyncFilter) (*Stream, error) {
	if roomID.IsZero() {
		return nil, fmt.Errorf("messaging: OpenStream requires a non-zero room ID")
	}
	inlineFilter := buildInlineFilter(roomID, filter)
	response, err := session.Sync(ctx, SyncOptions{
		SetTimeout: true,
		Timeout:    0,
		Filter:     inlineFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: initial sync for stream: %w", err)
	}

	stream := &Stream{
		session: session,
		roomID:  roomID,
		filter:  inlineFilter,
		events:  make(chan Event, 64),
	}

	var initial []Event
	if joined, ok := response.Rooms.Join[roomID]; ok {
		stream.prevBatch = joined.Timeline.PrevBatch
		initial = append(initial, joined.State.Events...)
		initial = append(initial, joined.Timeline.Events...)
	}

	go stream.run(ctx, initial, response.NextBatch)
	return stream, nil
}

// Events returns the channel of room events in server order. The
// channel is closed when the stream stops; call Err afterwards.
func (s *Stream) Events() <-chan Event { return s.events }

// PrevBatch returns the pagination token pointing backward from the
// stream's starting position. Hand it to RoomMessages to load history
// older than the live window.
func (s *Stream) PrevBatch() string { return s.prevBatch }

// RoomID returns the room being streamed.
func (s *Stream) RoomID() ref.RoomID { return s.roomID }

// Err returns the error that stopped the stream, or nil if it was
// stopped by context cancellation. Only meaningful after the events
// channel has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) run(ctx context.Context, initial []Event, nextBatch string) {
	defer close(s.events)

	logger := s.session.client.logger

	for _, event := range initial {
		// Sync responses omit room_id (it is implied by the section);
		// stamp it so consumers see self-contained events.
		event.RoomID = s.roomID
		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}

	var syncRetries int
	for {
		if ctx.Err() != nil {
			return
		}

		// On retry after a sync error, use a short server-side
		// timeout so the HTTP round-trip itself provides backoff.
		syncTimeout := longPollTimeout
		if syncRetries > 0 {
			syncTimeout = retryTimeout
		}
		response, err := s.session.Sync(ctx, SyncOptions{
			Since:      nextBatch,
			SetTimeout: true,
			Timeout:    syncTimeout,
			Filter:     s.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			syncRetries++
			// TCP-level errors (connection reset, EOF) often indicate
			// a poisoned connection in Go's HTTP pool. Drop idle
			// connections so the next attempt opens a fresh socket.
			s.session.CloseIdleConnections()
			if syncRetries > maxSyncRetries {
				s.fail(fmt.Errorf("messaging: sync failed %d consecutive times streaming room %s: %w",
					syncRetries, s.roomID, err))
				return
			}
			logger.Debug("stream sync error, retrying",
				"room_id", s.roomID,
				"attempt", syncRetries,
				"max_attempts", maxSyncRetries,
				"error", err,
			)
			continue
		}
		syncRetries = 0
		nextBatch = response.NextBatch

		joined, ok := response.Rooms.Join[s.roomID]
		if !ok {
			// The server returned because some other room had
			// activity; the filter keeps its events out of the
			// response. Nothing to deliver.
			continue
		}

		// State events precede timeline events, matching the
		// delivery order from the server.
		for _, event := range joined.State.Events {
			event.RoomID = s.roomID
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
		for _, event := range joined.Timeline.Events {
			event.RoomID = s.roomID
			select {
			case s.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}
