// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"time"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// Kind tags the variant of a Message. Exactly one payload field on
// Message is non-nil, and it corresponds to the Kind.
type Kind string

const (
	KindText      Kind = "text"
	KindMedia     Kind = "media"
	KindReaction  Kind = "reaction"
	KindEdit      Kind = "edit"
	KindLocation  Kind = "location"
	KindCall      Kind = "call"
	KindSystem    Kind = "system"
	KindRedaction Kind = "redaction"
	KindError     Kind = "error"
	KindUnknown   Kind = "unknown"
)

// Message is the unit of renderable content: a classified room event.
// EventID is unique within a conversation's materialized set. Apart
// from decryption state changing underneath it, classifying the same
// event always yields an identical Message.
type Message struct {
	EventID   ref.EventID
	Kind      Kind
	Sender    ref.UserID
	Timestamp time.Time
	IsOwn     bool

	Text      *TextPayload
	Media     *MediaPayload
	Reaction  *ReactionPayload
	Edit      *EditPayload
	Location  *LocationPayload
	Call      *CallPayload
	System    *SystemPayload
	Redaction *RedactionPayload
	Error     *ErrorPayload
	Unknown   *UnknownPayload
}

// TextPayload carries text, notice, and emote messages. FormattedBody,
// when present, is passed through verbatim — sanitizing it for display
// is the renderer's job.
type TextPayload struct {
	MsgType       string // m.text, m.notice, or m.emote
	Body          string
	Format        string
	FormattedBody string
}

// MediaReference locates media content: either a plaintext mxc:// URL
// or an encrypted attachment descriptor. Exactly one of the two is
// set.
type MediaReference struct {
	URL  string
	File *messaging.EncryptedFile
}

// Encrypted reports whether the reference carries an encrypted
// attachment descriptor.
func (r MediaReference) Encrypted() bool { return r.File != nil }

// IsZero reports whether the reference locates nothing.
func (r MediaReference) IsZero() bool { return r.URL == "" && r.File == nil }

// Locator returns the mxc:// URL for the underlying content,
// regardless of encryption.
func (r MediaReference) Locator() string {
	if r.File != nil {
		return r.File.URL
	}
	return r.URL
}

// MediaPayload carries image, video, audio, and file messages.
type MediaPayload struct {
	Source    MediaReference
	Thumbnail MediaReference // zero when the sender attached none
	Filename  string
	MIMEType  string
	Size      int64
	MsgType   string // m.image, m.video, m.audio, or m.file
}

// ReactionPayload references the message a reaction applies to. Never
// rendered as a standalone timeline entry.
type ReactionPayload struct {
	TargetID ref.EventID
	Key      string
}

// EditPayload carries a replacement for an earlier message. The
// renderer splices the new body into the existing node; an edit is
// never inserted as a new message.
type EditPayload struct {
	TargetID     ref.EventID
	NewBody      string
	NewFormatted string
	NewMsgType   string
}

// LocationPayload carries a shared location.
type LocationPayload struct {
	GeoURI string
	Label  string
}

// CallPayload marks a call-lifecycle event in the timeline. The voip
// package consumes the underlying events; the timeline only records
// that a call happened.
type CallPayload struct {
	Subtype string // "invite", "answer", "candidates", "hangup"
	CallID  string
	Reason  string // hangup reason, when present
}

// SystemPayload carries room state changes worth showing inline.
type SystemPayload struct {
	Subtype    string // "membership", "name", "topic", "avatar"
	Affected   ref.UserID
	Membership string // for "membership"
	Value      string // new name, topic, or avatar URL
}

// RedactionPayload instructs the renderer to remove the target
// message.
type RedactionPayload struct {
	TargetID ref.EventID
	Reason   string
}

// ErrorPayload stands in for a message that could not be materialized,
// most commonly a decryption failure awaiting key material.
type ErrorPayload struct {
	Reason              string
	IsDecryptionFailure bool
}

// UnknownPayload preserves the raw type of an event the classifier
// does not recognize, for diagnostic display.
type UnknownPayload struct {
	RawType ref.EventType
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%s from %s)", m.Kind, m.EventID, m.Sender)
}
