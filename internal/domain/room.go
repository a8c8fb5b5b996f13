package domain

import (
	"fmt"
	"strings"
)

// RoomKind is the access class of a room. It mirrors the stream mode the
// room hosts: public broadcast, paid group show, or one-on-one private show.
type RoomKind string

const (
	RoomPublic  RoomKind = "public"
	RoomGroup   RoomKind = "group"
	RoomPrivate RoomKind = "private"
)

// Role is the part an identity plays inside a room.
type Role string

const (
	RoleModel  Role = "model"  // the performer who owns the room
	RoleMember Role = "member" // a paying / subscribed viewer
	RoleGuest  Role = "guest"  // an unpaid viewer in a public room
)

// Member is the structured per-identity record stored in the registry for
// each room. It replaces the ad hoc "role,timestamp" string values the
// platform used to keep in the connection store.
type Member struct {
	Role     Role  `json:"role"`
	JoinedAt int64 `json:"joined_at"` // epoch millis
}

// RoomID derives the cluster-wide room key from the room kind and the
// durable conversation it maps to. Every process must compute the same
// key for the same conversation, so the derivation is purely syntactic.
func RoomID(kind RoomKind, conversationID string) string {
	return fmt.Sprintf("%s:%s", kind, conversationID)
}

// ParseRoomID splits a room key back into its kind and conversation ID.
func ParseRoomID(roomID string) (RoomKind, string, error) {
	kind, conversationID, ok := strings.Cut(roomID, ":")
	if !ok || conversationID == "" {
		return "", "", fmt.Errorf("malformed room id %q", roomID)
	}
	switch RoomKind(kind) {
	case RoomPublic, RoomGroup, RoomPrivate:
		return RoomKind(kind), conversationID, nil
	}
	return "", "", fmt.Errorf("unknown room kind in room id %q", roomID)
}
