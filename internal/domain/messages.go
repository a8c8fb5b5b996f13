package domain

import "encoding/json"

// WebSocket message types from client.
const (
	MsgTypeJoinRoom   = "join_room"
	MsgTypeLeaveRoom  = "leave_room"
	MsgTypeGoLive     = "go_live"
	MsgTypeStopStream = "stop_stream"
	MsgTypeChat       = "chat"
	MsgTypePing       = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeJoined        = "joined"
	MsgTypeLeft          = "left"
	MsgTypeMemberJoined  = "member_joined"
	MsgTypeMemberLeft    = "member_left"
	MsgTypeStreamStarted = "stream_started"
	MsgTypeStreamEnded   = "stream_ended"
	MsgTypeDirect        = "direct"
	MsgTypeError         = "error"
	MsgTypePong          = "pong"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// JoinRoomMessage is sent by a client to join a conversation room.
type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMessage is sent by a client to leave a room.
type LeaveRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// GoLiveMessage is sent by a performer to start a public broadcast.
type GoLiveMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// StopStreamMessage is sent by a performer to end the current stream mode.
type StopStreamMessage struct {
	Type string `json:"type"`
}

// ChatMessage is a chat line relayed verbatim to the other members of a
// conversation room. The coordination layer does not persist it.
type ChatMessage struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	Content json.RawMessage `json:"content"`
}

// Server -> Client messages

// MemberSnapshot is one entry of a room membership snapshot.
type MemberSnapshot struct {
	IdentityID string `json:"identity_id"`
	Role       Role   `json:"role"`
}

// JoinedMessage confirms a join and carries the current member snapshot so
// the client knows who else is present.
type JoinedMessage struct {
	Type           string           `json:"type"`
	RoomID         string           `json:"room_id"`
	Members        []MemberSnapshot `json:"members"`
	AlreadyPresent bool             `json:"already_present"`
}

// LeftMessage confirms a leave.
type LeftMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// MemberJoinedMessage tells room members someone arrived.
type MemberJoinedMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
	Role       Role   `json:"role"`
}

// MemberLeftMessage tells room members someone departed.
type MemberLeftMessage struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	IdentityID string `json:"identity_id"`
}

// StreamStartedMessage tells room members the performer went live.
type StreamStartedMessage struct {
	Type        string       `json:"type"`
	RoomID      string       `json:"room_id"`
	PerformerID string       `json:"performer_id"`
	Status      StreamStatus `json:"status"`
}

// StreamEndedMessage tells room members the stream is over.
type StreamEndedMessage struct {
	Type           string `json:"type"`
	RoomID         string `json:"room_id"`
	PerformerID    string `json:"performer_id"`
	DurationMillis int64  `json:"duration_millis"`
}

// DirectMessage wraps an identity-scoped event for delivery to every
// socket of one identity.
type DirectMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ChatRelayMessage is a relayed chat line as delivered to room members.
type ChatRelayMessage struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id"`
	SenderID string          `json:"sender_id"`
	Content  json.RawMessage `json:"content"`
}

// ErrorMessage is sent when an action fails. Code is one of the coarse
// wire codes; internal error kinds never cross this boundary.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}
