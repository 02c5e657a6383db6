// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/abekugithub/matrix/lib/ref"
)

// Matrix event types this layer dispatches on.
const (
	TypeRoomMessage    ref.EventType = "m.room.message"
	TypeRoomEncrypted  ref.EventType = "m.room.encrypted"
	TypeReaction       ref.EventType = "m.reaction"
	TypeRedaction      ref.EventType = "m.room.redaction"
	TypeRoomMember     ref.EventType = "m.room.member"
	TypeRoomName       ref.EventType = "m.room.name"
	TypeRoomTopic      ref.EventType = "m.room.topic"
	TypeRoomAvatar     ref.EventType = "m.room.avatar"
	TypeCallInvite     ref.EventType = "m.call.invite"
	TypeCallAnswer     ref.EventType = "m.call.answer"
	TypeCallCandidates ref.EventType = "m.call.candidates"
	TypeCallHangup     ref.EventType = "m.call.hangup"
)

// Message subtypes (the msgtype field of m.room.message content).
const (
	MsgText     = "m.text"
	MsgNotice   = "m.notice"
	MsgEmote    = "m.emote"
	MsgImage    = "m.image"
	MsgVideo    = "m.video"
	MsgAudio    = "m.audio"
	MsgFile     = "m.file"
	MsgLocation = "m.location"
)

// Relation types carried in m.relates_to.
const (
	RelReplace    = "m.replace"
	RelAnnotation = "m.annotation"
)

// Event is a Matrix event as delivered by /sync or /messages. Content
// stays raw JSON — the classifier unmarshals it into the typed content
// struct matching the event type.
type Event struct {
	EventID        ref.EventID     `json:"event_id"`
	Type           ref.EventType   `json:"type"`
	Sender         ref.UserID      `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         ref.RoomID      `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Redacts        ref.EventID     `json:"redacts,omitempty"`
	Unsigned       *EventUnsigned  `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// MessageContent is the content of an m.room.message event, covering
// every msgtype this client renders. Fields not applicable to a given
// msgtype stay zero.
type MessageContent struct {
	MsgType       string         `json:"msgtype"`
	Body          string         `json:"body"`
	Format        string         `json:"format,omitempty"`
	FormattedBody string         `json:"formatted_body,omitempty"`
	URL           string         `json:"url,omitempty"`  // mxc:// locator for unencrypted media
	File          *EncryptedFile `json:"file,omitempty"` // encrypted payload descriptor
	Info          *MessageInfo   `json:"info,omitempty"`
	GeoURI        string         `json:"geo_uri,omitempty"`
	RelatesTo     *RelatesTo     `json:"m.relates_to,omitempty"`
	NewContent    *NewContent    `json:"m.new_content,omitempty"`
}

// NewContent is the replacement content carried by an edit
// (rel_type m.replace).
type NewContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// MessageInfo carries media metadata declared by the sender.
type MessageInfo struct {
	MimeType      string         `json:"mimetype,omitempty"`
	Size          int64          `json:"size,omitempty"`
	Width         int            `json:"w,omitempty"`
	Height        int            `json:"h,omitempty"`
	DurationMS    int64          `json:"duration,omitempty"`
	ThumbnailURL  string         `json:"thumbnail_url,omitempty"`
	ThumbnailFile *EncryptedFile `json:"thumbnail_file,omitempty"`
}

// EncryptedFile is the descriptor for an encrypted attachment: the
// ciphertext locator plus the key material the crypto collaborator
// needs for authenticated decryption. Opaque to this layer beyond the
// URL.
type EncryptedFile struct {
	URL    string            `json:"url"`
	Key    JSONWebKey        `json:"key"`
	IV     string            `json:"iv"`
	Hashes map[string]string `json:"hashes"`
	V      string            `json:"v"`
}

// JSONWebKey is the JWK carried inside an EncryptedFile.
type JSONWebKey struct {
	KeyType   string   `json:"kty"`
	KeyOps    []string `json:"key_ops"`
	Algorithm string   `json:"alg"`
	Key       string   `json:"k"`
	Ext       bool     `json:"ext"`
}

// RelatesTo expresses relationships between events: m.replace for
// edits, m.annotation for reactions.
type RelatesTo struct {
	RelType string      `json:"rel_type,omitempty"`
	EventID ref.EventID `json:"event_id,omitempty"`
	Key     string      `json:"key,omitempty"` // reaction key for m.annotation
}

// ReactionContent is the content of an m.reaction event.
type ReactionContent struct {
	RelatesTo *RelatesTo `json:"m.relates_to"`
}

// RedactionContent is the content of an m.room.redaction event in
// room v11+; older rooms carry the target in the event-level redacts
// field instead.
type RedactionContent struct {
	Redacts ref.EventID `json:"redacts,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// MemberContent is the content of an m.room.member state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// NameContent is the content of an m.room.name state event.
type NameContent struct {
	Name string `json:"name"`
}

// TopicContent is the content of an m.room.topic state event.
type TopicContent struct {
	Topic string `json:"topic"`
}

// AvatarContent is the content of an m.room.avatar state event.
type AvatarContent struct {
	URL string `json:"url"`
}

// SessionDescription is an SDP offer or answer in call signaling.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// CallInviteContent is the content of an m.call.invite event.
type CallInviteContent struct {
	CallID   string             `json:"call_id"`
	Version  int                `json:"version"`
	Lifetime int64              `json:"lifetime,omitempty"` // milliseconds the invite stays valid
	Offer    SessionDescription `json:"offer"`
}

// CallAnswerContent is the content of an m.call.answer event.
type CallAnswerContent struct {
	CallID  string             `json:"call_id"`
	Version int                `json:"version"`
	Answer  SessionDescription `json:"answer"`
}

// CallCandidatesContent is the content of an m.call.candidates event.
type CallCandidatesContent struct {
	CallID     string         `json:"call_id"`
	Version    int            `json:"version"`
	Candidates []ICECandidate `json:"candidates"`
}

// ICECandidate is a trickled ICE candidate in call signaling.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

// CallHangupContent is the content of an m.call.hangup event.
type CallHangupContent struct {
	CallID  string `json:"call_id"`
	Version int    `json:"version"`
	Reason  string `json:"reason,omitempty"` // e.g. "user_hangup", "invite_timeout", "user_busy"
}

// NewTextMessage creates plain m.text content.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: MsgText, Body: body}
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	DeviceID                 string `json:"device_id,omitempty"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// CreateRoomRequest holds parameters for creating a direct-message room.
type CreateRoomRequest struct {
	Preset   string   `json:"preset,omitempty"` // "trusted_private_chat" for DMs
	Invite   []string `json:"invite,omitempty"`
	IsDirect bool     `json:"is_direct,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// SendEventResponse is returned by SendMessage and SendEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// UploadResponse is returned by UploadMedia.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// RoomMessagesOptions controls backward pagination.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward) or "f" (forward); defaults to "b"
	Limit     int    // max events; 0 uses the server default
}

// RoomMessagesResponse is returned by RoomMessages. An absent End
// token means the server has no further history in that direction.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end,omitempty"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from the previous sync; empty for initial
	Timeout    int    // long-poll hold in milliseconds
	SetTimeout bool   // send the timeout parameter even when zero
	Filter     string // inline JSON filter
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data by membership state.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom contains sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a departed room.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// RoomMember is a member of a room, flattened from the /members chunk.
type RoomMember struct {
	UserID      ref.UserID
	DisplayName string
	Membership  string
	AvatarURL   string
}

// TURNCredentialsResponse is returned by the voip/turnServer endpoint:
// time-limited credentials for TURN relay access during calls.
type TURNCredentialsResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	TTL      int      `json:"ttl"`
}
