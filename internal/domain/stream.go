package domain

// StreamStatus is the broadcasting mode of a performer.
type StreamStatus string

const (
	StreamOffline StreamStatus = "offline"
	StreamPublic  StreamStatus = "public"
	StreamGroup   StreamStatus = "group"
	StreamPrivate StreamStatus = "private"
)

// StatusForRoom maps a room kind to the stream mode it hosts.
func StatusForRoom(kind RoomKind) StreamStatus {
	switch kind {
	case RoomGroup:
		return StreamGroup
	case RoomPrivate:
		return StreamPrivate
	default:
		return StreamPublic
	}
}

// StreamSession is the authoritative broadcasting state for one performer.
// Exactly one session exists per performer at any time; it is keyed on the
// performer ID in the shared registry and mutated only by the stream state
// machine.
//
// Invariant: IsBroadcasting == true implies Status != StreamOffline.
type StreamSession struct {
	PerformerID    string       `json:"performer_id"`
	Status         StreamStatus `json:"status"`
	IsBroadcasting bool         `json:"is_broadcasting"`
	RoomID         string       `json:"room_id,omitempty"`
	StartedAt      int64        `json:"started_at,omitempty"` // epoch millis
	ViewerCount    int          `json:"viewer_count"`
}

// OfflineSession returns the initial session for a performer.
func OfflineSession(performerID string) *StreamSession {
	return &StreamSession{
		PerformerID: performerID,
		Status:      StreamOffline,
	}
}

// Valid reports whether the session satisfies the broadcasting invariant.
func (s *StreamSession) Valid() bool {
	return !s.IsBroadcasting || s.Status != StreamOffline
}
