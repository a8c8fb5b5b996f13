package log

const headerRequestID = "X-Request-ID"

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Coordination
	FieldProcessID   = "process_id"
	FieldRoomID      = "room_id"
	FieldIdentityID  = "identity_id"
	FieldPerformerID = "performer_id"
	FieldConnID      = "conn_id"
	FieldChannel     = "channel"
	FieldEvent       = "event"

	// Service
	FieldService = "service"
)
