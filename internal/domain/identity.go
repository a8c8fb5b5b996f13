package domain

// IdentityKind distinguishes the two classes of connected users.
type IdentityKind string

const (
	KindPerformer IdentityKind = "performer"
	KindViewer    IdentityKind = "viewer"
)

// Identity describes a connected user. It is ephemeral: it exists only
// while at least one socket for the user is open and is never persisted
// outside the presence registry.
type Identity struct {
	ID        string       `json:"id"`
	Kind      IdentityKind `json:"kind"`
	ProcessID string       `json:"process_id"`
}

// IsPerformer reports whether the identity belongs to a performer account.
func (i Identity) IsPerformer() bool {
	return i.Kind == KindPerformer
}

// PresenceEntry records one live socket connection. An identity with
// several open tabs has one entry per tab, so "is online anywhere" is a
// set-cardinality question, never a scalar flag.
type PresenceEntry struct {
	IdentityID  string `json:"identity_id"`
	ConnID      string `json:"conn_id"`
	ProcessID   string `json:"process_id"`
	ConnectedAt int64  `json:"connected_at"` // epoch millis
}
