// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API surface that
// the conversation layer consumes.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport; Login and SessionFromToken return authenticated
// [Session] values. Session covers the operations the timeline and
// call layers need: idempotent event sends (PUT with a transaction
// ID), backward pagination via /messages, incremental sync with
// long-polling, alias resolution, media upload, both media download
// endpoint variants (the authenticated client endpoint and the legacy
// media endpoint), thumbnails, and TURN credential retrieval.
//
// [Stream] turns the /sync long-poll into an ordered per-room event
// feed: events for the watched room are delivered on a channel in
// server order, which is the ordering guarantee the timeline layer
// builds on.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, ...) and HTTP status.
// Request URLs are built by string concatenation rather than url.URL
// to avoid double-encoding of path segments.
//
// Encryption lives behind the [Decryptor] interface: event decryption,
// key requests, authenticated attachment fetch, and unknown-device
// acknowledgment are all provided by the external crypto collaborator.
// This package defines the boundary only.
package messaging
