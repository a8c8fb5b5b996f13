package bus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

// Channel naming for the coordination layer.
const (
	channelRoomPrefix     = "live:room:"
	channelIdentityPrefix = "live:identity:"

	// ChannelStream carries stream lifecycle events for all performers.
	ChannelStream = "live:stream"

	// ChannelDisconnects carries raw socket-close events from the gateways.
	// Not client-invocable; consumed by the disconnect reconciler on every
	// process so any process can reconcile any identity.
	ChannelDisconnects = "live:gateway:disconnects"
)

// RoomChannel returns the channel scoped to one room.
func RoomChannel(roomID string) string {
	return channelRoomPrefix + roomID
}

// RoomChannelPattern matches every room channel.
func RoomChannelPattern() string {
	return channelRoomPrefix + "*"
}

// RoomFromChannel extracts the room ID from a room channel name.
func RoomFromChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, channelRoomPrefix)
}

// IdentityChannel returns the channel scoped to one identity; events on it
// are delivered only to that identity's sockets, across processes.
func IdentityChannel(identityID string) string {
	return channelIdentityPrefix + identityID
}

// IdentityChannelPattern matches every identity channel.
func IdentityChannelPattern() string {
	return channelIdentityPrefix + "*"
}

// IdentityFromChannel extracts the identity ID from an identity channel name.
func IdentityFromChannel(channel string) (string, bool) {
	return strings.CutPrefix(channel, channelIdentityPrefix)
}

// Event names.
const (
	EventMemberJoined  = "member_joined"
	EventMemberLeft    = "member_left"
	EventStreamStarted = "stream_started"
	EventStreamEnded   = "stream_ended"
	EventDisconnected  = "disconnected"
)

// ChatRelayEvent returns the pass-through event name for chat lines of a
// conversation. The name carries the conversation so legacy clients can
// keep their per-conversation listeners.
func ChatRelayEvent(conversationID string) string {
	return fmt.Sprintf("message_created_conversation_%s", conversationID)
}

// Typed payloads, decoded at the subscription boundary.

// MemberJoinedPayload announces a new room member.
type MemberJoinedPayload struct {
	RoomID     string      `json:"room_id"`
	IdentityID string      `json:"identity_id"`
	Role       domain.Role `json:"role"`
}

// MemberLeftPayload announces a departed room member.
type MemberLeftPayload struct {
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
}

// StreamStartedPayload announces a performer going live in some mode.
type StreamStartedPayload struct {
	PerformerID string              `json:"performer_id"`
	RoomID      string              `json:"room_id"`
	Status      domain.StreamStatus `json:"status"`
}

// StreamEndedPayload announces the end of a stream session.
type StreamEndedPayload struct {
	PerformerID    string `json:"performer_id"`
	RoomID         string `json:"room_id,omitempty"`
	DurationMillis int64  `json:"duration_millis"`
}

// DisconnectedPayload is emitted by a gateway when a socket closes,
// including abnormal closure.
type DisconnectedPayload struct {
	Identity domain.Identity `json:"identity"`
	ConnID   string          `json:"conn_id"`
}

// RelayPayload carries a pass-through chat line.
type RelayPayload struct {
	RoomID   string          `json:"room_id"`
	SenderID string          `json:"sender_id"`
	Content  json.RawMessage `json:"content"`
}
