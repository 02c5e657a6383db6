// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package voip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abekugithub/matrix/lib/clock"
	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// defaultInviteLifetime bounds how long an unanswered invite stays
// valid, matching the protocol's recommended lifetime.
const defaultInviteLifetime = 60 * time.Second

// callVersion is the m.call.* signaling version this client speaks.
const callVersion = 1

// EventSender is the slice of the messaging session the manager needs
// for call signaling.
type EventSender interface {
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (ref.EventID, error)
}

// ManagerConfig assembles a call Manager.
type ManagerConfig struct {
	Signaling EventSender
	Devices   Devices
	Transport TransportFactory

	// LocalUser filters out the manager's own signaling echoes.
	LocalUser ref.UserID

	// Notify is the call-UI notification callback, invoked with
	// (inCall, isVideo) whenever a call starts or ends. Optional.
	Notify func(inCall, isVideo bool)

	// InviteLifetime bounds unanswered invites; zero uses the
	// protocol default.
	InviteLifetime time.Duration

	// Clock defaults to the real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Manager owns the process-wide single active call session. Incoming
// and outgoing call signaling both route through it; an invite that
// arrives while a call is active is rejected busy without mutating
// the active session.
type Manager struct {
	signaling      EventSender
	devices        Devices
	transport      TransportFactory
	localUser      ref.UserID
	notify         func(inCall, isVideo bool)
	inviteLifetime time.Duration
	clk            clock.Clock
	logger         *slog.Logger

	mu     sync.Mutex
	active *Session
}

// NewManager wires up a call manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.Signaling == nil || config.Devices == nil || config.Transport == nil {
		return nil, fmt.Errorf("voip: Signaling, Devices, and Transport are required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lifetime := config.InviteLifetime
	if lifetime <= 0 {
		lifetime = defaultInviteLifetime
	}
	return &Manager{
		signaling:      config.Signaling,
		devices:        config.Devices,
		transport:      config.Transport,
		localUser:      config.LocalUser,
		notify:         config.Notify,
		inviteLifetime: lifetime,
		clk:            clk,
		logger:         logger,
	}, nil
}

// Active returns the current call session, or nil when no call is in
// progress.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// reserve installs session as the active call if none is in progress.
func (m *Manager) reserve(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return ErrCallInProgress
	}
	m.active = session
	return nil
}

// release clears the active slot if session still occupies it.
func (m *Manager) release(session *Session) {
	m.mu.Lock()
	if m.active == session {
		m.active = nil
	}
	m.mu.Unlock()
}

// sessionEnded is the Session teardown hook: clear the active slot
// and tell the call UI the call is over.
func (m *Manager) sessionEnded(session *Session) {
	m.release(session)
	if m.notify != nil {
		m.notify(false, session.isVideo)
	}
}

func (m *Manager) newSession(roomID ref.RoomID, callID string, video bool) *Session {
	return &Session{
		callID:  callID,
		roomID:  roomID,
		isVideo: video,
		logger:  m.logger,
		onEnded: m.sessionEnded,
	}
}

// StartCall places an outgoing call in the given room. Local media is
// acquired first; an acquisition failure aborts the call before any
// signaling and leaves no session behind.
func (m *Manager) StartCall(ctx context.Context, roomID ref.RoomID, video bool) (*Session, error) {
	if roomID.IsZero() {
		return nil, fmt.Errorf("voip: room ID must not be zero")
	}
	session := m.newSession(roomID, uuid.NewString(), video)
	if err := m.reserve(session); err != nil {
		return nil, err
	}

	tracks, err := m.devices.Acquire(ctx, video)
	if err != nil {
		m.release(session)
		return nil, fmt.Errorf("voip: media acquisition: %w", err)
	}
	session.mu.Lock()
	session.tracks = tracks
	session.mu.Unlock()

	transport, err := m.transport(ctx, TransportEvents{
		OnRemoteTrack: session.handleRemoteTrack,
		OnFailure:     func(cause error) { m.transportFailed(session, cause) },
	})
	if err != nil {
		session.end(ReasonMediaFailure)
		return nil, fmt.Errorf("voip: creating call transport: %w", err)
	}
	session.mu.Lock()
	session.transport = transport
	session.mu.Unlock()

	offerSDP, err := transport.Offer(ctx, tracks)
	if err != nil {
		session.end(ReasonMediaFailure)
		return nil, fmt.Errorf("voip: building call offer: %w", err)
	}

	_, err = m.signaling.SendEvent(ctx, roomID, messaging.TypeCallInvite, messaging.CallInviteContent{
		CallID:   session.callID,
		Version:  callVersion,
		Lifetime: m.inviteLifetime.Milliseconds(),
		Offer:    messaging.SessionDescription{Type: "offer", SDP: offerSDP},
	})
	if err != nil {
		session.end(ReasonMediaFailure)
		return nil, fmt.Errorf("voip: sending call invite: %w", err)
	}

	session.mu.Lock()
	if session.state == StateEnded {
		// The peer rejected before the invite send returned; teardown
		// already ran and no timer may be armed for the dead session.
		reason := session.endReason
		session.mu.Unlock()
		return nil, fmt.Errorf("voip: call %s ended during setup: %s", session.callID, reason)
	}
	session.state = StateInviting
	session.timer = m.clk.AfterFunc(m.inviteLifetime, func() {
		m.expireInvite(session)
	})
	session.mu.Unlock()

	m.logger.Info("call invite sent",
		"call_id", session.callID,
		"room_id", roomID,
		"video", video,
	)
	if m.notify != nil {
		m.notify(true, video)
	}
	return session, nil
}

// expireInvite ends a call whose invite went unanswered.
func (m *Manager) expireInvite(session *Session) {
	if session.State() != StateInviting && session.State() != StateRinging {
		return
	}
	m.sendHangup(context.Background(), session, ReasonInviteTimeout)
	session.end(ReasonInviteTimeout)
}

// transportFailed tears down a call whose peer connection failed.
func (m *Manager) transportFailed(session *Session, cause error) {
	if session.State() == StateEnded {
		return
	}
	m.logger.Warn("call transport failed",
		"call_id", session.callID,
		"error", cause,
	)
	m.sendHangup(context.Background(), session, ReasonICEFailed)
	session.end(ReasonICEFailed)
}

// Hangup ends the active call and signals the peer.
func (m *Manager) Hangup(ctx context.Context) error {
	session := m.Active()
	if session == nil {
		return nil
	}
	m.sendHangup(ctx, session, ReasonUserHangup)
	session.end(ReasonUserHangup)
	return nil
}

func (m *Manager) sendHangup(ctx context.Context, session *Session, reason string) {
	_, err := m.signaling.SendEvent(ctx, session.roomID, messaging.TypeCallHangup, messaging.CallHangupContent{
		CallID:  session.callID,
		Version: callVersion,
		Reason:  reason,
	})
	if err != nil {
		m.logger.Warn("sending hangup failed",
			"call_id", session.callID,
			"error", err,
		)
	}
}

// Answer accepts the active incoming call: the transport is built,
// the stored remote offer applied, and the SDP answer published.
func (m *Manager) Answer(ctx context.Context) error {
	session := m.Active()
	if session == nil || session.State() != StateRinging {
		return fmt.Errorf("voip: no ringing call to answer")
	}

	transport, err := m.transport(ctx, TransportEvents{
		OnRemoteTrack: session.handleRemoteTrack,
		OnFailure:     func(cause error) { m.transportFailed(session, cause) },
	})
	if err != nil {
		m.sendHangup(ctx, session, ReasonMediaFailure)
		session.end(ReasonMediaFailure)
		return fmt.Errorf("voip: creating call transport: %w", err)
	}

	session.mu.Lock()
	session.transport = transport
	offer := session.remoteOffer
	tracks := session.tracks
	buffered := session.pendingCandidates
	session.pendingCandidates = nil
	session.mu.Unlock()

	answerSDP, err := transport.Answer(ctx, tracks, offer)
	if err != nil {
		m.sendHangup(ctx, session, ReasonMediaFailure)
		session.end(ReasonMediaFailure)
		return fmt.Errorf("voip: building call answer: %w", err)
	}
	if len(buffered) > 0 {
		if err := transport.AddRemoteCandidates(buffered); err != nil {
			m.logger.Warn("applying buffered candidates failed",
				"call_id", session.callID,
				"error", err,
			)
		}
	}

	_, err = m.signaling.SendEvent(ctx, session.roomID, messaging.TypeCallAnswer, messaging.CallAnswerContent{
		CallID:  session.callID,
		Version: callVersion,
		Answer:  messaging.SessionDescription{Type: "answer", SDP: answerSDP},
	})
	if err != nil {
		session.end(ReasonMediaFailure)
		return fmt.Errorf("voip: sending call answer: %w", err)
	}

	if !session.transitionTo(StateConnecting, StateRinging) {
		return fmt.Errorf("voip: call no longer ringing")
	}
	session.mu.Lock()
	if session.timer != nil {
		session.timer.Stop()
		session.timer = nil
	}
	session.mu.Unlock()
	m.logger.Info("call answered", "call_id", session.callID)
	return nil
}

// HandleEvent routes one m.call.* timeline event. Non-call events and
// the manager's own signaling echoes are ignored. Failures are logged
// and never propagate: a malformed call event must not disturb the
// rest of the event stream.
func (m *Manager) HandleEvent(ctx context.Context, event messaging.Event) {
	if event.Sender == m.localUser {
		return
	}
	switch event.Type {
	case messaging.TypeCallInvite:
		m.handleInvite(ctx, event)
	case messaging.TypeCallAnswer:
		m.handleAnswer(event)
	case messaging.TypeCallCandidates:
		m.handleCandidates(event)
	case messaging.TypeCallHangup:
		m.handleHangup(event)
	}
}

func (m *Manager) handleInvite(ctx context.Context, event messaging.Event) {
	var content messaging.CallInviteContent
	if err := json.Unmarshal(event.Content, &content); err != nil || content.CallID == "" {
		m.logger.Warn("ignoring malformed call invite", "event_id", event.EventID)
		return
	}
	video := strings.Contains(content.Offer.SDP, "m=video")

	session := m.newSession(event.RoomID, content.CallID, video)
	if err := m.reserve(session); err != nil {
		// Busy: reject the new call without touching the active one.
		m.logger.Info("rejecting call while another is active",
			"call_id", content.CallID,
		)
		_, sendErr := m.signaling.SendEvent(ctx, event.RoomID, messaging.TypeCallHangup, messaging.CallHangupContent{
			CallID:  content.CallID,
			Version: callVersion,
			Reason:  ReasonUserBusy,
		})
		if sendErr != nil {
			m.logger.Warn("sending busy rejection failed",
				"call_id", content.CallID,
				"error", sendErr,
			)
		}
		return
	}

	// Ringing acquires capture up front so answering is immediate and
	// device failures surface before the user commits.
	tracks, err := m.devices.Acquire(ctx, video)
	if err != nil {
		m.logger.Warn("media acquisition for incoming call failed",
			"call_id", content.CallID,
			"error", err,
		)
		m.sendHangup(ctx, session, ReasonMediaFailure)
		session.end(ReasonMediaFailure)
		return
	}

	lifetime := m.inviteLifetime
	if content.Lifetime > 0 {
		lifetime = time.Duration(content.Lifetime) * time.Millisecond
	}
	session.mu.Lock()
	if session.state == StateEnded {
		// The caller hung up while capture was being acquired. The
		// teardown saw no tracks, so release these here.
		session.mu.Unlock()
		for _, track := range tracks {
			if err := track.Close(); err != nil {
				m.logger.Warn("releasing capture track failed",
					"call_id", content.CallID,
					"error", err,
				)
			}
		}
		return
	}
	session.state = StateRinging
	session.tracks = tracks
	session.remoteOffer = content.Offer.SDP
	session.timer = m.clk.AfterFunc(lifetime, func() {
		m.expireInvite(session)
	})
	session.mu.Unlock()

	m.logger.Info("incoming call ringing",
		"call_id", content.CallID,
		"room_id", event.RoomID,
		"video", video,
	)
	if m.notify != nil {
		m.notify(true, video)
	}
}

func (m *Manager) handleAnswer(event messaging.Event) {
	var content messaging.CallAnswerContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		m.logger.Warn("ignoring malformed call answer", "event_id", event.EventID)
		return
	}
	session := m.activeFor(content.CallID)
	if session == nil || session.State() != StateInviting {
		return
	}

	session.mu.Lock()
	transport := session.transport
	timer := session.timer
	session.timer = nil
	session.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	if err := transport.AcceptAnswer(content.Answer.SDP); err != nil {
		m.logger.Warn("applying call answer failed",
			"call_id", content.CallID,
			"error", err,
		)
		m.sendHangup(context.Background(), session, ReasonICEFailed)
		session.end(ReasonICEFailed)
		return
	}
	session.transitionTo(StateConnecting, StateInviting)
	m.logger.Info("call answer received", "call_id", content.CallID)
}

func (m *Manager) handleCandidates(event messaging.Event) {
	var content messaging.CallCandidatesContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		m.logger.Warn("ignoring malformed call candidates", "event_id", event.EventID)
		return
	}
	session := m.activeFor(content.CallID)
	if session == nil {
		return
	}

	session.mu.Lock()
	transport := session.transport
	if transport == nil {
		// Not answered yet; apply once the transport exists.
		session.pendingCandidates = append(session.pendingCandidates, content.Candidates...)
		session.mu.Unlock()
		return
	}
	session.mu.Unlock()

	if err := transport.AddRemoteCandidates(content.Candidates); err != nil {
		m.logger.Warn("applying remote candidates failed",
			"call_id", content.CallID,
			"error", err,
		)
	}
}

func (m *Manager) handleHangup(event messaging.Event) {
	var content messaging.CallHangupContent
	if err := json.Unmarshal(event.Content, &content); err != nil {
		m.logger.Warn("ignoring malformed call hangup", "event_id", event.EventID)
		return
	}
	session := m.activeFor(content.CallID)
	if session == nil {
		return
	}
	reason := content.Reason
	if reason == "" {
		reason = ReasonUserHangup
	}
	session.end(reason)
}

// activeFor returns the active session if it matches callID.
func (m *Manager) activeFor(callID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.callID != callID {
		return nil
	}
	return m.active
}
