// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: user IDs, room IDs, room aliases, event IDs, and server
// names.
//
// Identifiers arrive from the homeserver (sync responses, pagination
// chunks, send acknowledgments) and from user input (the peer to open
// a conversation with). They are parsed into these types at the
// boundary and passed through as validated values — no code past the
// boundary handles a raw identifier string.
//
// All constructors validate their inputs and return errors for
// malformed identifiers. Once constructed, a ref is immutable. The
// zero value of every type is "unset"; use IsZero to check. JSON
// marshaling uses the canonical Matrix form via encoding.TextMarshaler,
// so deserializing a sync response validates every identifier in it.
package ref
