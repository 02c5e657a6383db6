// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/abekugithub/matrix/lib/ref"
)

// ErrUndecryptable reports that an encrypted event could not be
// decrypted with the keys currently held. The usual cause is a missing
// megolm session key; callers recover by requesting the key via
// RequestRoomKey and retrying once it arrives.
var ErrUndecryptable = errors.New("messaging: unable to decrypt event")

// Decryptor is the end-to-end encryption collaborator. Implementations
// own the olm/megolm machinery; this package and its consumers only
// need the operations below.
//
// All methods must be safe for concurrent use.
type Decryptor interface {
	// DecryptEvent decrypts an m.room.encrypted event and returns the
	// plaintext event it carried. Returns an error wrapping
	// ErrUndecryptable when the session key is missing.
	DecryptEvent(ctx context.Context, event Event) (Event, error)

	// RequestRoomKey asks other devices for the megolm session needed
	// to decrypt the given event. Delivery is asynchronous: success
	// here means the request was sent, not that the key arrived.
	RequestRoomKey(ctx context.Context, event Event) error

	// EncryptEvent encrypts plaintext content for a room, returning
	// m.room.encrypted content ready to send. Returns an
	// *UnknownDevicesError when the room contains devices the user has
	// not yet acknowledged.
	EncryptEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content any) (json.RawMessage, error)

	// AcknowledgeDevices marks the listed devices as known, so that
	// subsequent EncryptEvent calls include them. This is
	// trust-on-first-use: acknowledgement is not verification.
	AcknowledgeDevices(ctx context.Context, devices []DeviceTrustEntry) error

	// DecryptAttachment decrypts attachment bytes using the
	// EncryptedFile descriptor from the message content, verifying the
	// ciphertext hash before returning plaintext.
	DecryptAttachment(ciphertext []byte, file *EncryptedFile) ([]byte, error)
}
