// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// fakeDecryptor is a scriptable crypto collaborator. Events whose ID
// appears in plaintexts decrypt to the mapped event; everything else
// fails as undecryptable.
type fakeDecryptor struct {
	mu          sync.Mutex
	plaintexts  map[ref.EventID]messaging.Event
	keyRequests []ref.EventID
	acked       [][]messaging.DeviceTrustEntry

	// failSendsWithUnknownDevices makes EncryptEvent fail until
	// AcknowledgeDevices is called, then succeed.
	failSendsWithUnknownDevices []messaging.DeviceTrustEntry
	// persistentUnknownDevices keeps the failure armed across
	// acknowledgment, as if the peer kept adding devices.
	persistentUnknownDevices bool
	encryptCalls             int
}

func newFakeDecryptor() *fakeDecryptor {
	return &fakeDecryptor{plaintexts: make(map[ref.EventID]messaging.Event)}
}

// learn makes future decryption of eventID succeed, yielding plaintext.
func (d *fakeDecryptor) learn(eventID ref.EventID, plaintext messaging.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plaintexts[eventID] = plaintext
}

func (d *fakeDecryptor) DecryptEvent(_ context.Context, event messaging.Event) (messaging.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if plaintext, ok := d.plaintexts[event.EventID]; ok {
		return plaintext, nil
	}
	return messaging.Event{}, fmt.Errorf("no session for %s: %w", event.EventID, messaging.ErrUndecryptable)
}

func (d *fakeDecryptor) RequestRoomKey(_ context.Context, event messaging.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyRequests = append(d.keyRequests, event.EventID)
	return nil
}

func (d *fakeDecryptor) EncryptEvent(_ context.Context, _ ref.RoomID, _ ref.EventType, content any) (json.RawMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.encryptCalls++
	if len(d.failSendsWithUnknownDevices) > 0 {
		return nil, &messaging.UnknownDevicesError{Devices: d.failSendsWithUnknownDevices}
	}
	encoded, err := json.Marshal(map[string]any{
		"algorithm":  "m.megolm.v1.aes-sha2",
		"ciphertext": "opaque",
	})
	_ = content
	return encoded, err
}

func (d *fakeDecryptor) AcknowledgeDevices(_ context.Context, devices []messaging.DeviceTrustEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = append(d.acked, devices)
	if !d.persistentUnknownDevices {
		d.failSendsWithUnknownDevices = nil
	}
	return nil
}

func (d *fakeDecryptor) DecryptAttachment(ciphertext []byte, _ *messaging.EncryptedFile) ([]byte, error) {
	plaintext := append([]byte("decrypted:"), ciphertext...)
	return plaintext, nil
}

func (d *fakeDecryptor) keyRequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keyRequests)
}

func encryptedEvent(t *testing.T, id string) messaging.Event {
	t.Helper()
	return makeEvent(t, id, messaging.TypeRoomEncrypted, testPeer,
		map[string]string{"algorithm": "m.megolm.v1.aes-sha2", "ciphertext": "xxx"})
}

func TestDecryptFailureRequestsKeyOnce(t *testing.T) {
	decryptor := newFakeDecryptor()
	retrier := NewDecryptionRetrier(decryptor, nil)
	event := encryptedEvent(t, "$enc1:local")

	if _, err := retrier.Decrypt(context.Background(), event); err == nil {
		t.Fatal("expected decryption failure")
	}
	if decryptor.keyRequestCount() != 1 {
		t.Fatalf("key requests = %d, want 1", decryptor.keyRequestCount())
	}

	// A second delivery of the same undecryptable event must not spam
	// key requests.
	if _, err := retrier.Decrypt(context.Background(), event); err == nil {
		t.Fatal("expected decryption failure")
	}
	if decryptor.keyRequestCount() != 1 {
		t.Fatalf("key requests after second failure = %d, want 1", decryptor.keyRequestCount())
	}
}

func TestDecryptSuccess(t *testing.T) {
	decryptor := newFakeDecryptor()
	retrier := NewDecryptionRetrier(decryptor, nil)
	event := encryptedEvent(t, "$enc2:local")
	plaintext := makeEvent(t, "$enc2:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: "revealed"})
	decryptor.learn(event.EventID, plaintext)

	decrypted, err := retrier.Decrypt(context.Background(), event)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted.Type != messaging.TypeRoomMessage {
		t.Errorf("unexpected decrypted type: %s", decrypted.Type)
	}
	if decryptor.keyRequestCount() != 0 {
		t.Errorf("successful decryption should not request keys")
	}
}

func TestNotifyDecryptedTransitions(t *testing.T) {
	decryptor := newFakeDecryptor()
	retrier := NewDecryptionRetrier(decryptor, nil)
	event := encryptedEvent(t, "$enc3:local")

	if retrier.NotifyDecrypted(event.EventID) {
		t.Fatal("notification for an event never seen should not replace")
	}

	retrier.Decrypt(context.Background(), event)
	if !retrier.NotifyDecrypted(event.EventID) {
		t.Fatal("first notification after failure should replace")
	}
	// Failed→Decrypted happened; a duplicate notification is a no-op,
	// and there is no Decrypted→Failed transition.
	if retrier.NotifyDecrypted(event.EventID) {
		t.Fatal("duplicate notification should not replace again")
	}
}

func TestRetryIdempotentOnceDecrypted(t *testing.T) {
	decryptor := newFakeDecryptor()
	retrier := NewDecryptionRetrier(decryptor, nil)
	event := encryptedEvent(t, "$enc4:local")
	plaintext := makeEvent(t, "$enc4:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: "ok"})
	decryptor.learn(event.EventID, plaintext)

	if _, err := retrier.Decrypt(context.Background(), event); err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	_, replace, err := retrier.Retry(context.Background(), event)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if replace {
		t.Fatal("retry of an already-decrypted event must be a no-op")
	}
	if decryptor.keyRequestCount() != 0 {
		t.Errorf("idempotent retry must not issue key requests")
	}
}

func TestRetryRecovers(t *testing.T) {
	decryptor := newFakeDecryptor()
	retrier := NewDecryptionRetrier(decryptor, nil)
	event := encryptedEvent(t, "$enc5:local")

	retrier.Decrypt(context.Background(), event)

	// Retry while the key is still missing: fails, re-requests.
	if _, replace, err := retrier.Retry(context.Background(), event); err == nil || replace {
		t.Fatal("retry without the key should fail without replacing")
	}
	if decryptor.keyRequestCount() != 2 {
		t.Fatalf("key requests = %d, want 2 (initial + manual retry)", decryptor.keyRequestCount())
	}

	// The key arrives; retry now succeeds and replaces.
	plaintext := makeEvent(t, "$enc5:local", messaging.TypeRoomMessage, testPeer,
		messaging.MessageContent{MsgType: messaging.MsgText, Body: "finally"})
	decryptor.learn(event.EventID, plaintext)

	decrypted, replace, err := retrier.Retry(context.Background(), event)
	if err != nil {
		t.Fatalf("Retry failed after key arrival: %v", err)
	}
	if !replace {
		t.Fatal("successful retry should replace the error node")
	}
	if decrypted.Type != messaging.TypeRoomMessage {
		t.Errorf("unexpected decrypted type: %s", decrypted.Type)
	}
}
