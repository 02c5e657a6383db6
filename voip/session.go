// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package voip

import (
	"context"
	"log/slog"
	"sync"

	"github.com/abekugithub/matrix/lib/clock"
	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// State is a call session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateInviting
	StateRinging
	StateConnecting
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateRinging:
		return "ringing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Hangup reasons carried on m.call.hangup and surfaced through
// Session.EndReason.
const (
	ReasonUserHangup    = "user_hangup"
	ReasonUserBusy      = "user_busy"
	ReasonInviteTimeout = "invite_timeout"
	ReasonMediaFailure  = "media_failure"
	ReasonICEFailed     = "ice_failed"
)

// Transport negotiates the peer connection for a single call. The
// pion implementation lives in webrtc.go; tests substitute a fake.
type Transport interface {
	// Offer attaches the local tracks and produces a complete SDP
	// offer (ICE gathering finished).
	Offer(ctx context.Context, tracks []LocalTrack) (string, error)

	// Answer attaches the local tracks, applies the remote offer, and
	// produces a complete SDP answer.
	Answer(ctx context.Context, tracks []LocalTrack, offerSDP string) (string, error)

	// AcceptAnswer applies the remote answer to an offered connection.
	AcceptAnswer(sdp string) error

	// AddRemoteCandidates applies trickled remote ICE candidates.
	AddRemoteCandidates(candidates []messaging.ICECandidate) error

	Close() error
}

// TransportEvents carries the callbacks a Transport fires as the peer
// connection progresses.
type TransportEvents struct {
	// OnRemoteTrack fires once, when the first remote media track
	// attaches.
	OnRemoteTrack func()

	// OnFailure fires when the connection fails after establishment
	// began.
	OnFailure func(error)
}

// TransportFactory builds the Transport for one call.
type TransportFactory func(ctx context.Context, events TransportEvents) (Transport, error)

// Session is one call's signaling lifecycle. Sessions are created and
// driven by the Manager; callers observe them through the accessor
// methods.
type Session struct {
	callID  string
	roomID  ref.RoomID
	isVideo bool
	logger  *slog.Logger

	// onEnded is the Manager's cleanup hook, invoked exactly once.
	onEnded func(*Session)

	mu        sync.Mutex
	state     State
	endReason string
	transport Transport
	tracks    []LocalTrack

	// remoteOffer holds an incoming invite's SDP until the call is
	// answered.
	remoteOffer string

	// pendingCandidates buffers trickled candidates that arrive
	// before the transport exists (incoming calls before answering).
	pendingCandidates []messaging.ICECandidate

	// timer bounds how long an unanswered invite stays alive.
	timer *clock.Timer
}

// CallID identifies the call in m.call.* signaling events.
func (s *Session) CallID() string { return s.callID }

// RoomID is the conversation the call belongs to.
func (s *Session) RoomID() ref.RoomID { return s.roomID }

// IsVideo reports whether the call carries video.
func (s *Session) IsVideo() bool { return s.isVideo }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EndReason returns the hangup reason once the session has ended, and
// "" before that.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// end moves the session to Ended and releases every media handle,
// regardless of the state it was in. Idempotent: only the first call
// records the reason and runs teardown.
func (s *Session) end(reason string) {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.state = StateEnded
	s.endReason = reason
	transport := s.transport
	tracks := s.tracks
	timer := s.timer
	s.transport = nil
	s.tracks = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Warn("closing call transport failed",
				"call_id", s.callID,
				"error", err,
			)
		}
	}
	for _, track := range tracks {
		if err := track.Close(); err != nil {
			s.logger.Warn("releasing capture track failed",
				"call_id", s.callID,
				"error", err,
			)
		}
	}

	s.logger.Info("call ended",
		"call_id", s.callID,
		"room_id", s.roomID,
		"reason", reason,
	)
	if s.onEnded != nil {
		s.onEnded(s)
	}
}

// transitionTo moves the session to next if it is currently in one of
// the allowed states. Reports whether the transition happened.
func (s *Session) transitionTo(next State, allowed ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range allowed {
		if s.state == state {
			s.state = next
			return true
		}
	}
	return false
}

// handleRemoteTrack drives Connecting to Connected on the first
// remote media track.
func (s *Session) handleRemoteTrack() {
	if s.transitionTo(StateConnected, StateConnecting) {
		s.logger.Info("call connected", "call_id", s.callID)
	}
}
