// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"encoding/json"
	"time"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// RoomContext is the conversation snapshot classification depends on.
// It never changes mid-classification; callers rebuild it when room
// state changes.
type RoomContext struct {
	LocalUser ref.UserID
}

// Classify maps a raw room event to a typed Message. It is pure: no
// side effects, no errors. Unrecognized event shapes degrade to
// KindUnknown rather than failing, and malformed content of a known
// type does the same. The second return value is false for ephemeral
// event types (typing, receipts) that produce no timeline entry at
// all.
func Classify(event messaging.Event, room RoomContext) (Message, bool) {
	message := Message{
		EventID:   event.EventID,
		Sender:    event.Sender,
		Timestamp: time.UnixMilli(event.OriginServerTS),
		IsOwn:     event.Sender == room.LocalUser,
	}

	switch event.Type {
	case "m.typing", "m.receipt", "m.presence":
		// Ephemeral events carry no timeline content. Dropped, not
		// rendered as unknown.
		return Message{}, false

	case messaging.TypeRoomMessage:
		classifyRoomMessage(&message, event.Content)

	case messaging.TypeRoomEncrypted:
		// Still ciphertext when it reaches the classifier: decryption
		// already failed upstream. Render a recoverable error node.
		message.Kind = KindError
		message.Error = &ErrorPayload{
			Reason:              "unable to decrypt: waiting for keys",
			IsDecryptionFailure: true,
		}

	case messaging.TypeReaction:
		var content messaging.ReactionContent
		if err := json.Unmarshal(event.Content, &content); err != nil ||
			content.RelatesTo == nil ||
			content.RelatesTo.RelType != messaging.RelAnnotation ||
			content.RelatesTo.EventID.IsZero() {
			degrade(&message, event.Type)
			break
		}
		message.Kind = KindReaction
		message.Reaction = &ReactionPayload{
			TargetID: content.RelatesTo.EventID,
			Key:      content.RelatesTo.Key,
		}

	case messaging.TypeRedaction:
		var content messaging.RedactionContent
		_ = json.Unmarshal(event.Content, &content)
		// Room v11 carries the target in content; older rooms use the
		// event-level redacts field.
		target := content.Redacts
		if target.IsZero() {
			target = event.Redacts
		}
		if target.IsZero() {
			degrade(&message, event.Type)
			break
		}
		message.Kind = KindRedaction
		message.Redaction = &RedactionPayload{
			TargetID: target,
			Reason:   content.Reason,
		}

	case messaging.TypeRoomMember:
		var content messaging.MemberContent
		if err := json.Unmarshal(event.Content, &content); err != nil || event.StateKey == nil {
			degrade(&message, event.Type)
			break
		}
		affected, err := ref.ParseUserID(*event.StateKey)
		if err != nil {
			degrade(&message, event.Type)
			break
		}
		message.Kind = KindSystem
		message.System = &SystemPayload{
			Subtype:    "membership",
			Affected:   affected,
			Membership: content.Membership,
			Value:      content.DisplayName,
		}

	case messaging.TypeRoomName:
		classifyStateValue(&message, event, "name", func(c messaging.NameContent) string { return c.Name })

	case messaging.TypeRoomTopic:
		classifyStateValue(&message, event, "topic", func(c messaging.TopicContent) string { return c.Topic })

	case messaging.TypeRoomAvatar:
		classifyStateValue(&message, event, "avatar", func(c messaging.AvatarContent) string { return c.URL })

	case messaging.TypeCallInvite, messaging.TypeCallAnswer,
		messaging.TypeCallCandidates, messaging.TypeCallHangup:
		classifyCall(&message, event)

	default:
		degrade(&message, event.Type)
	}

	return message, true
}

// classifyRoomMessage dispatches on msgtype. Edits (m.replace
// relations) take precedence over the msgtype of the wrapper event.
func classifyRoomMessage(message *Message, raw json.RawMessage) {
	var content messaging.MessageContent
	if err := json.Unmarshal(raw, &content); err != nil {
		degrade(message, messaging.TypeRoomMessage)
		return
	}

	if content.RelatesTo != nil && content.RelatesTo.RelType == messaging.RelReplace {
		if content.RelatesTo.EventID.IsZero() || content.NewContent == nil {
			degrade(message, messaging.TypeRoomMessage)
			return
		}
		message.Kind = KindEdit
		message.Edit = &EditPayload{
			TargetID:     content.RelatesTo.EventID,
			NewBody:      content.NewContent.Body,
			NewFormatted: content.NewContent.FormattedBody,
			NewMsgType:   content.NewContent.MsgType,
		}
		return
	}

	switch content.MsgType {
	case messaging.MsgText, messaging.MsgNotice, messaging.MsgEmote:
		message.Kind = KindText
		message.Text = &TextPayload{
			MsgType:       content.MsgType,
			Body:          content.Body,
			Format:        content.Format,
			FormattedBody: content.FormattedBody,
		}

	case messaging.MsgImage, messaging.MsgVideo, messaging.MsgAudio, messaging.MsgFile:
		source := MediaReference{URL: content.URL, File: content.File}
		if source.IsZero() || (source.URL != "" && source.File != nil) {
			// The locator must be exactly one of plaintext or
			// encrypted.
			degrade(message, messaging.TypeRoomMessage)
			return
		}
		payload := &MediaPayload{
			Source:   source,
			Filename: content.Body,
			MsgType:  content.MsgType,
		}
		if content.Info != nil {
			payload.MIMEType = content.Info.MimeType
			payload.Size = content.Info.Size
			payload.Thumbnail = MediaReference{
				URL:  content.Info.ThumbnailURL,
				File: content.Info.ThumbnailFile,
			}
		}
		message.Kind = KindMedia
		message.Media = payload

	case messaging.MsgLocation:
		if content.GeoURI == "" {
			degrade(message, messaging.TypeRoomMessage)
			return
		}
		message.Kind = KindLocation
		message.Location = &LocationPayload{
			GeoURI: content.GeoURI,
			Label:  content.Body,
		}

	default:
		degrade(message, messaging.TypeRoomMessage)
	}
}

func classifyCall(message *Message, event messaging.Event) {
	var common struct {
		CallID string `json:"call_id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(event.Content, &common); err != nil || common.CallID == "" {
		degrade(message, event.Type)
		return
	}
	var subtype string
	switch event.Type {
	case messaging.TypeCallInvite:
		subtype = "invite"
	case messaging.TypeCallAnswer:
		subtype = "answer"
	case messaging.TypeCallCandidates:
		subtype = "candidates"
	case messaging.TypeCallHangup:
		subtype = "hangup"
	}
	message.Kind = KindCall
	message.Call = &CallPayload{
		Subtype: subtype,
		CallID:  common.CallID,
		Reason:  common.Reason,
	}
}

// classifyStateValue handles the single-value state events (room name,
// topic, avatar).
func classifyStateValue[T any](message *Message, event messaging.Event, subtype string, value func(T) string) {
	var content T
	if err := json.Unmarshal(event.Content, &content); err != nil {
		degrade(message, event.Type)
		return
	}
	message.Kind = KindSystem
	message.System = &SystemPayload{
		Subtype: subtype,
		Value:   value(content),
	}
}

func degrade(message *Message, rawType ref.EventType) {
	message.Kind = KindUnknown
	message.Unknown = &UnknownPayload{RawType: rawType}
	message.Text = nil
	message.Media = nil
	message.Reaction = nil
	message.Edit = nil
	message.Location = nil
	message.Call = nil
	message.System = nil
	message.Redaction = nil
	message.Error = nil
}
