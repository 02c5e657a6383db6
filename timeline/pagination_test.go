// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

func newTimelineSession(t *testing.T, handler http.Handler) *messaging.Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client.SessionFromToken(testLocal, "test-token")
}

func writeMessagesPage(t *testing.T, writer http.ResponseWriter, end string, events ...messaging.Event) {
	t.Helper()
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(messaging.RoomMessagesResponse{
		Start: "start",
		End:   end,
		Chunk: events,
	}); err != nil {
		t.Fatalf("failed to encode page: %v", err)
	}
}

func textEvent(t *testing.T, id, body string) messaging.Event {
	t.Helper()
	return makeEvent(t, id, messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: body})
}

func TestLoadOlderOrdersOldestToNewest(t *testing.T) {
	session := newTimelineSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Query().Get("dir") != "b" {
			t.Errorf("unexpected direction: %s", request.URL.Query().Get("dir"))
		}
		// dir=b pages arrive newest first.
		writeMessagesPage(t, writer, "t2",
			textEvent(t, "$newer:local", "second"),
			textEvent(t, "$older:local", "first"),
		)
	}))
	paginator := NewPaginator(session, ref.MustParseRoomID("!room1:local"), "t1", 30, nil)

	events, more, err := paginator.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder failed: %v", err)
	}
	if !more {
		t.Error("end token present, canLoadMore should stay true")
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID.String() != "$older:local" || events[1].EventID.String() != "$newer:local" {
		t.Errorf("page not reversed to oldest-first: %v, %v", events[0].EventID, events[1].EventID)
	}
}

func TestLoadOlderDedup(t *testing.T) {
	session := newTimelineSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writeMessagesPage(t, writer, "t2",
			textEvent(t, "$live1:local", "already visible"),
			textEvent(t, "$hist1:local", "genuinely old"),
		)
	}))
	paginator := NewPaginator(session, ref.MustParseRoomID("!room1:local"), "t1", 30, nil)
	paginator.Mark(ref.MustParseEventID("$live1:local"))

	events, _, err := paginator.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 fresh event, got %d", len(events))
	}
	if events[0].EventID.String() != "$hist1:local" {
		t.Errorf("unexpected surviving event: %s", events[0].EventID)
	}

	// A second overlapping page never re-materializes either event.
	events, _, err = paginator.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("second LoadOlder failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("overlapping page produced %d duplicates", len(events))
	}
}

func TestLoadOlderSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var requests sync.WaitGroup
	requests.Add(1)
	var firstRequest sync.Once
	session := newTimelineSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		firstRequest.Do(requests.Done)
		<-release
		writeMessagesPage(t, writer, "t2", textEvent(t, "$slow1:local", "slow"))
	}))
	paginator := NewPaginator(session, ref.MustParseRoomID("!room1:local"), "t1", 30, nil)

	firstDone := make(chan error, 1)
	go func() {
		_, _, err := paginator.LoadOlder(context.Background())
		firstDone <- err
	}()
	requests.Wait() // first request has reached the server

	// Second call while the first is in flight: rejected immediately,
	// no network activity.
	_, _, err := paginator.LoadOlder(context.Background())
	if !errors.Is(err, ErrLoadInFlight) {
		t.Fatalf("expected ErrLoadInFlight, got: %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first LoadOlder failed: %v", err)
	}

	// The guard clears once the first completes.
	if _, _, err := paginator.LoadOlder(context.Background()); err != nil {
		t.Fatalf("LoadOlder after completion failed: %v", err)
	}
}

func TestLoadOlderStickyExhaustion(t *testing.T) {
	var calls int
	session := newTimelineSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls++
		// No end token: start of history.
		writeMessagesPage(t, writer, "", textEvent(t, "$first1:local", "the very first"))
	}))
	paginator := NewPaginator(session, ref.MustParseRoomID("!room1:local"), "t1", 30, nil)

	events, more, err := paginator.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder failed: %v", err)
	}
	if len(events) != 1 || more {
		t.Fatalf("expected final page with canLoadMore=false, got %d events, more=%v", len(events), more)
	}
	if paginator.CanLoadMore() {
		t.Fatal("CanLoadMore should be false after exhaustion")
	}

	// Sticky: further calls never hit the network.
	events, more, err = paginator.LoadOlder(context.Background())
	if err != nil || len(events) != 0 || more {
		t.Fatalf("post-exhaustion LoadOlder should be a silent no-op, got %d events, more=%v, err=%v",
			len(events), more, err)
	}
	if calls != 1 {
		t.Fatalf("server calls = %d, want 1", calls)
	}
}

func TestLoadOlderErrorClearsGuard(t *testing.T) {
	var calls int
	session := newTimelineSession(t, http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			writer.WriteHeader(http.StatusInternalServerError)
			writer.Write([]byte(`{"errcode":"M_UNKNOWN","error":"boom"}`))
			return
		}
		writeMessagesPage(t, writer, "t2", textEvent(t, "$ok1:local", "recovered"))
	}))
	paginator := NewPaginator(session, ref.MustParseRoomID("!room1:local"), "t1", 30, nil)

	if _, _, err := paginator.LoadOlder(context.Background()); err == nil {
		t.Fatal("expected error from server failure")
	}
	events, _, err := paginator.LoadOlder(context.Background())
	if err != nil {
		t.Fatalf("LoadOlder after failure should work: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after recovery, got %d", len(events))
	}
}
