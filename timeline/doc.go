// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline turns the raw per-room event stream from the
// messaging package into a consistent, de-duplicated, incrementally
// paginated message timeline.
//
// The pieces compose around ConversationView, which owns one
// conversation's lifecycle: events flow through echo suppression
// (EchoReconciler), decryption recovery (DecryptionRetrier), and
// classification (Classify) before being dispatched to a Renderer.
// Paginator loads older history through the same classifier, and
// Resolver turns media references into byte streams on demand.
//
// Nothing in this package persists state; durability belongs to the
// homeserver and the crypto collaborator.
package timeline
