// Copyright 2026 The Abeku Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/abekugithub/matrix/lib/ref"
	"github.com/abekugithub/matrix/messaging"
)

// RoomDisplayName picks a header name for a direct-message room: the
// room's own name if set, otherwise the peer's display name, the
// peer's localpart, and finally the room ID.
func RoomDisplayName(roomName string, roomID ref.RoomID, members []messaging.RoomMember, localUser ref.UserID) string {
	if roomName != "" {
		return roomName
	}
	for _, member := range members {
		if member.UserID == localUser {
			continue
		}
		if member.Membership != "join" && member.Membership != "invite" {
			continue
		}
		if member.DisplayName != "" {
			return member.DisplayName
		}
		return member.UserID.Localpart()
	}
	return roomID.String()
}
