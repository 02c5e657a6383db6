// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// ErrLoadInFlight is returned by LoadOlder when a previous load for
// the same conversation has not completed. The rejected call performs
// no network activity; the in-flight load proceeds unaffected.
var ErrLoadInFlight = errors.New("timeline: history load already in flight")

// Paginator manages backward history loading for one conversation.
// Each page is fetched from the homeserver, deduplicated against the
// event IDs already materialized in the view, and returned oldest to
// newest.
//
// canLoadMore is sticky: once the homeserver reports the start of
// history, no further requests are issued for the life of this
// Paginator.
type Paginator struct {
	session  *messaging.Session
	roomID   ref.RoomID
	pageSize int
	logger   *slog.Logger

	mu          sync.Mutex
	from        string // continuation token for the next backward page
	inFlight    bool
	canLoadMore bool
	seen        map[ref.EventID]struct{}
}

// NewPaginator creates a paginator starting from the given pagination
// token (the prev_batch of the initial sync window). An empty start
// token paginates from the present. Zero pageSize defaults to 30.
func NewPaginator(session *messaging.Session, roomID ref.RoomID, startToken string, pageSize int, logger *slog.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		session:     session,
		roomID:      roomID,
		pageSize:    pageSize,
		logger:      logger,
		from:        startToken,
		canLoadMore: true,
		seen:        make(map[ref.EventID]struct{}),
	}
}

// Mark records an event ID as materialized in the visible window, so
// a later page overlapping it is deduplicated. It reports whether the
// ID was newly marked; false means another path already materialized
// the event. The view marks before every insert so two racing paths
// for the same ID result in exactly one rendered node.
func (p *Paginator) Mark(eventID ref.EventID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[eventID]; ok {
		return false
	}
	p.seen[eventID] = struct{}{}
	return true
}

// Seen reports whether an event ID is already materialized.
func (p *Paginator) Seen(eventID ref.EventID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[eventID]
	return ok
}

// CanLoadMore reports whether older history may remain.
func (p *Paginator) CanLoadMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canLoadMore
}

// LoadOlder fetches the next page of history. Results are filtered
// against already-materialized event IDs and returned oldest to
// newest. The second return value mirrors CanLoadMore after the
// fetch.
//
// Single-flight: a call while another is in flight is rejected with
// ErrLoadInFlight, not queued. A call after history is exhausted
// returns (nil, false, nil) without network activity.
func (p *Paginator) LoadOlder(ctx context.Context) ([]messaging.Event, bool, error) {
	p.mu.Lock()
	if !p.canLoadMore {
		p.mu.Unlock()
		return nil, false, nil
	}
	if p.inFlight {
		p.mu.Unlock()
		return nil, true, ErrLoadInFlight
	}
	p.inFlight = true
	from := p.from
	p.mu.Unlock()

	response, err := p.session.RoomMessages(ctx, p.roomID, messaging.RoomMessagesOptions{
		From:      from,
		Direction: "b",
		Limit:     p.pageSize,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	if err != nil {
		return nil, p.canLoadMore, fmt.Errorf("timeline: history load: %w", err)
	}

	p.from = response.End
	// The homeserver omits the end token at the start of history. An
	// empty page with a token still means "keep going" — the server
	// may have skipped a range of filtered events.
	if response.End == "" {
		p.canLoadMore = false
	}

	// A backward page arrives newest first. Reverse while
	// deduplicating so the caller prepends in oldest-to-newest order.
	fresh := make([]messaging.Event, 0, len(response.Chunk))
	for i := len(response.Chunk) - 1; i >= 0; i-- {
		event := response.Chunk[i]
		if _, duplicate := p.seen[event.EventID]; duplicate {
			continue
		}
		p.seen[event.EventID] = struct{}{}
		fresh = append(fresh, event)
	}

	p.logger.Debug("loaded older history",
		"room_id", p.roomID,
		"fetched", len(response.Chunk),
		"fresh", len(fresh),
		"can_load_more", p.canLoadMore,
	)
	return fresh, p.canLoadMore, nil
}
