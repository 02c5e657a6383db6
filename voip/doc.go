// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package voip drives voice and video call signaling over the room
// event stream.
//
// A call is one Session moving through a fixed lifecycle: Idle,
// Inviting (outgoing) or Ringing (incoming), Connecting once SDP has
// been exchanged, Connected when the first remote media track
// attaches, and Ended. Ended is reachable from every non-Idle state,
// and reaching it releases all local and remote media handles
// unconditionally.
//
// The Manager enforces the process-wide concurrency rule: at most one
// Session is active at a time. An invite arriving while a call is
// active is answered with a busy hangup without touching the active
// session.
//
// Signaling travels as m.call.* timeline events through the messaging
// session. The peer transport is pion/webrtc with vanilla ICE: all
// candidates are gathered before the SDP is published, so each
// direction of the handshake needs exactly one event.
package voip
