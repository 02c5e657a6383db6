// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

var (
	testLocal = ref.MustParseUserID("@bob:local")
	testPeer  = ref.MustParseUserID("@alice:local")
	testRoom  = RoomContext{LocalUser: testLocal}
)

func makeEvent(t *testing.T, id string, eventType ref.EventType, sender ref.UserID, content any) messaging.Event {
	t.Helper()
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("failed to marshal content: %v", err)
	}
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           eventType,
		Sender:         sender,
		OriginServerTS: 1700000000000,
		Content:        raw,
	}
}

func TestClassifyText(t *testing.T) {
	event := makeEvent(t, "$text1:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: "hi"})

	message, ok := Classify(event, testRoom)
	if !ok {
		t.Fatal("text event should classify")
	}
	if message.Kind != KindText {
		t.Fatalf("kind = %s, want %s", message.Kind, KindText)
	}
	if message.Text.Body != "hi" {
		t.Errorf("body = %q, want %q", message.Text.Body, "hi")
	}
	if message.Sender != testPeer {
		t.Errorf("sender = %s, want %s", message.Sender, testPeer)
	}
	if message.IsOwn {
		t.Error("message from peer should not be own")
	}
}

func TestClassifyOwnMessage(t *testing.T) {
	event := makeEvent(t, "$own1:local", messaging.TypeRoomMessage, testLocal,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: "mine"})

	message, _ := Classify(event, testRoom)
	if !message.IsOwn {
		t.Error("message from local user should be own")
	}
}

func TestClassifyFormattedBodyCarriedVerbatim(t *testing.T) {
	formatted := `<b>bold</b><script>alert(1)</script>`
	event := makeEvent(t, "$fmt1:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{
			MsgType:       messaging.MsgText,
			Body:          "bold",
			Format:        "org.matrix.custom.html",
			FormattedBody: formatted,
		})

	message, _ := Classify(event, testRoom)
	// Sanitizing is the renderer's job; the classifier must not touch
	// the markup.
	if message.Text.FormattedBody != formatted {
		t.Errorf("formatted body altered: %q", message.Text.FormattedBody)
	}
}

func TestClassifyMedia(t *testing.T) {
	t.Run("plaintext image", func(t *testing.T) {
		event := makeEvent(t, "$img1:local", messaging.TypeRoomMessage, testPeer,
			messaging.MessageContent{
				MsgType: messaging.MsgImage,
				Body:    "cat.png",
				URL:     "mxc://local/cat",
				Info: &messaging.MessageInfo{
					MimeType:     "image/png",
					Size:         2048,
					ThumbnailURL: "mxc://local/cat-thumb",
				},
			})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindMedia {
			t.Fatalf("kind = %s, want %s", message.Kind, KindMedia)
		}
		media := message.Media
		if media.Source.Encrypted() {
			t.Error("plaintext source reported as encrypted")
		}
		if media.Source.URL != "mxc://local/cat" {
			t.Errorf("unexpected source URL: %s", media.Source.URL)
		}
		if media.Filename != "cat.png" || media.MIMEType != "image/png" || media.Size != 2048 {
			t.Errorf("unexpected metadata: %+v", media)
		}
		if media.Thumbnail.IsZero() {
			t.Error("thumbnail reference dropped")
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		event := makeEvent(t, "$file1:local", messaging.TypeRoomMessage, testPeer,
			messaging.MessageContent{
				MsgType: messaging.MsgFile,
				Body:    "secrets.pdf",
				File:    &messaging.EncryptedFile{URL: "mxc://local/enc", IV: "iv", V: "v2"},
			})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindMedia {
			t.Fatalf("kind = %s, want %s", message.Kind, KindMedia)
		}
		if !message.Media.Source.Encrypted() {
			t.Error("encrypted source not reported as encrypted")
		}
		if message.Media.Source.Locator() != "mxc://local/enc" {
			t.Errorf("unexpected locator: %s", message.Media.Source.Locator())
		}
	})

	t.Run("both locators present degrades", func(t *testing.T) {
		event := makeEvent(t, "$bad1:local", messaging.TypeRoomMessage, testPeer,
			messaging.MessageContent{
				MsgType: messaging.MsgImage,
				Body:    "odd.png",
				URL:     "mxc://local/a",
				File:    &messaging.EncryptedFile{URL: "mxc://local/b"},
			})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindUnknown {
			t.Errorf("kind = %s, want %s", message.Kind, KindUnknown)
		}
	})

	t.Run("no locator degrades", func(t *testing.T) {
		event := makeEvent(t, "$bad2:local", messaging.TypeRoomMessage, testPeer,
			messaging.MessageContent{MsgType: messaging.MsgImage, Body: "ghost.png"})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindUnknown {
			t.Errorf("kind = %s, want %s", message.Kind, KindUnknown)
		}
	})
}

func TestClassifyEdit(t *testing.T) {
	event := makeEvent(t, "$edit1:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{
			MsgType: messaging.MsgText,
			Body:    "* fixed",
			RelatesTo: &messaging.RelatesTo{
				RelType: messaging.RelReplace,
				EventID: ref.MustParseEventID("$orig1:local"),
			},
			NewContent: &messaging.NewContent{MsgType: messaging.MsgText, Body: "fixed"},
		})

	message, _ := Classify(event, testRoom)
	if message.Kind != KindEdit {
		t.Fatalf("kind = %s, want %s", message.Kind, KindEdit)
	}
	if message.Edit.TargetID.String() != "$orig1:local" {
		t.Errorf("unexpected target: %s", message.Edit.TargetID)
	}
	if message.Edit.NewBody != "fixed" {
		t.Errorf("unexpected new body: %q", message.Edit.NewBody)
	}
}

func TestClassifyReaction(t *testing.T) {
	event := makeEvent(t, "$react1:local", messaging.TypeReaction, testPeer,
		messaging.ReactionContent{
			RelatesTo: &messaging.RelatesTo{
				RelType: messaging.RelAnnotation,
				EventID: ref.MustParseEventID("$target1:local"),
				Key:     "👍",
			},
		})

	message, _ := Classify(event, testRoom)
	if message.Kind != KindReaction {
		t.Fatalf("kind = %s, want %s", message.Kind, KindReaction)
	}
	if message.Reaction.Key != "👍" {
		t.Errorf("unexpected key: %q", message.Reaction.Key)
	}
	if message.Reaction.TargetID.String() != "$target1:local" {
		t.Errorf("unexpected target: %s", message.Reaction.TargetID)
	}
}

func TestClassifyLocation(t *testing.T) {
	event := makeEvent(t, "$loc1:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{
			MsgType: messaging.MsgLocation,
			Body:    "Big Ben",
			GeoURI:  "geo:51.5007,-0.1246",
		})

	message, _ := Classify(event, testRoom)
	if message.Kind != KindLocation {
		t.Fatalf("kind = %s, want %s", message.Kind, KindLocation)
	}
	if message.Location.GeoURI != "geo:51.5007,-0.1246" || message.Location.Label != "Big Ben" {
		t.Errorf("unexpected location payload: %+v", message.Location)
	}
}

func TestClassifyRedaction(t *testing.T) {
	t.Run("event-level redacts", func(t *testing.T) {
		event := makeEvent(t, "$red1:local", messaging.TypeRedaction, testPeer,
			map[string]string{"reason": "spam"})
		event.Redacts = ref.MustParseEventID("$victim1:local")

		message, _ := Classify(event, testRoom)
		if message.Kind != KindRedaction {
			t.Fatalf("kind = %s, want %s", message.Kind, KindRedaction)
		}
		if message.Redaction.TargetID.String() != "$victim1:local" {
			t.Errorf("unexpected target: %s", message.Redaction.TargetID)
		}
		if message.Redaction.Reason != "spam" {
			t.Errorf("unexpected reason: %q", message.Redaction.Reason)
		}
	})

	t.Run("content-level redacts", func(t *testing.T) {
		event := makeEvent(t, "$red2:local", messaging.TypeRedaction, testPeer,
			map[string]string{"redacts": "$victim2:local"})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindRedaction {
			t.Fatalf("kind = %s, want %s", message.Kind, KindRedaction)
		}
		if message.Redaction.TargetID.String() != "$victim2:local" {
			t.Errorf("unexpected target: %s", message.Redaction.TargetID)
		}
	})

	t.Run("no target degrades", func(t *testing.T) {
		event := makeEvent(t, "$red3:local", messaging.TypeRedaction, testPeer, map[string]string{})
		message, _ := Classify(event, testRoom)
		if message.Kind != KindUnknown {
			t.Errorf("kind = %s, want %s", message.Kind, KindUnknown)
		}
	})
}

func TestClassifySystem(t *testing.T) {
	t.Run("membership", func(t *testing.T) {
		stateKey := testPeer.String()
		event := makeEvent(t, "$mem1:local", messaging.TypeRoomMember, testPeer,
			messaging.MemberContent{Membership: "join", DisplayName: "Alice"})
		event.StateKey = &stateKey

		message, _ := Classify(event, testRoom)
		if message.Kind != KindSystem {
			t.Fatalf("kind = %s, want %s", message.Kind, KindSystem)
		}
		if message.System.Subtype != "membership" || message.System.Membership != "join" {
			t.Errorf("unexpected system payload: %+v", message.System)
		}
		if message.System.Affected != testPeer {
			t.Errorf("unexpected affected user: %s", message.System.Affected)
		}
	})

	t.Run("room name", func(t *testing.T) {
		event := makeEvent(t, "$name1:local", messaging.TypeRoomName, testPeer,
			messaging.NameContent{Name: "Our Chat"})

		message, _ := Classify(event, testRoom)
		if message.Kind != KindSystem || message.System.Subtype != "name" || message.System.Value != "Our Chat" {
			t.Errorf("unexpected message: %+v", message.System)
		}
	})
}

func TestClassifyCall(t *testing.T) {
	event := makeEvent(t, "$call1:local", messaging.TypeCallHangup, testPeer,
		map[string]any{"call_id": "c1", "version": 1, "reason": "user_hangup"})

	message, _ := Classify(event, testRoom)
	if message.Kind != KindCall {
		t.Fatalf("kind = %s, want %s", message.Kind, KindCall)
	}
	if message.Call.Subtype != "hangup" || message.Call.CallID != "c1" || message.Call.Reason != "user_hangup" {
		t.Errorf("unexpected call payload: %+v", message.Call)
	}
}

func TestClassifyEncryptedYieldsDecryptionError(t *testing.T) {
	event := makeEvent(t, "$enc1:local", messaging.TypeRoomEncrypted, testPeer,
		map[string]string{"algorithm": "m.megolm.v1.aes-sha2", "ciphertext": "xxx"})

	message, _ := Classify(event, testRoom)
	if message.Kind != KindError {
		t.Fatalf("kind = %s, want %s", message.Kind, KindError)
	}
	if !message.Error.IsDecryptionFailure {
		t.Error("encrypted event should yield a decryption failure")
	}
}

func TestClassifyEphemeralDropped(t *testing.T) {
	for _, eventType := range []ref.EventType{"m.typing", "m.receipt", "m.presence"} {
		event := makeEvent(t, "$eph1:local", eventType, testPeer, map[string]any{})
		if _, ok := Classify(event, testRoom); ok {
			t.Errorf("%s should be dropped, not classified", eventType)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	t.Run("unrecognized type", func(t *testing.T) {
		event := makeEvent(t, "$odd1:local", "com.example.custom", testPeer, map[string]any{"x": 1})
		message, ok := Classify(event, testRoom)
		if !ok {
			t.Fatal("unknown events still produce a message")
		}
		if message.Kind != KindUnknown {
			t.Fatalf("kind = %s, want %s", message.Kind, KindUnknown)
		}
		if message.Unknown.RawType != "com.example.custom" {
			t.Errorf("raw type not preserved: %s", message.Unknown.RawType)
		}
	})

	t.Run("malformed content degrades, never errors", func(t *testing.T) {
		event := messaging.Event{
			EventID: ref.MustParseEventID("$mal1:local"),
			Type:    messaging.TypeRoomMessage,
			Sender:  testPeer,
			Content: json.RawMessage(`{not json`),
		}
		message, _ := Classify(event, testRoom)
		if message.Kind != KindUnknown {
			t.Errorf("kind = %s, want %s", message.Kind, KindUnknown)
		}
	})
}

func TestClassifyIdempotent(t *testing.T) {
	events := []messaging.Event{
		makeEvent(t, "$i1:local", messaging.TypeRoomMessage, testPeer,
			messaging.MessageContent{MsgType: messaging.MsgText, Body: "same"}),
		makeEvent(t, "$i2:local", messaging.TypeReaction, testPeer,
			messaging.ReactionContent{RelatesTo: &messaging.RelatesTo{
				RelType: messaging.RelAnnotation,
				EventID: ref.MustParseEventID("$i1:local"),
				Key:     "x",
			}}),
		makeEvent(t, "$i3:local", "com.example.custom", testPeer, map[string]any{}),
	}
	for _, event := range events {
		first, _ := Classify(event, testRoom)
		second, _ := Classify(event, testRoom)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("classification of %s not idempotent:\n first: %+v\nsecond: %+v",
				event.EventID, first, second)
		}
	}
}
