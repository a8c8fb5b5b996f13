// Package registry tracks which identities are connected where. It is the
// only authoritative record of room membership and socket presence; every
// process in the cluster reads and writes the same backing store, so the
// membership a process observes never diverges from reality for longer
// than one reconnection cycle.
package registry

import (
	"context"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

// Store is the presence registry contract. All mutating operations are
// idempotent: adding an existing member overwrites role and timestamp,
// removing an absent one is a no-op. Implementations must keep the reverse
// index (identity -> rooms) in step with every membership change.
type Store interface {
	// AddConnection registers an identity as a member of a room and
	// reports whether it was already present.
	AddConnection(ctx context.Context, roomID, identityID string, m domain.Member) (alreadyPresent bool, err error)

	// RemoveConnection removes an identity from a room and reports whether
	// anything was actually removed. Rooms vanish implicitly when their
	// last member leaves.
	RemoveConnection(ctx context.Context, roomID, identityID string) (removed bool, err error)

	// ListMembers returns the room's membership, one entry per identity
	// regardless of how many tabs the identity has open.
	ListMembers(ctx context.Context, roomID string) (map[string]domain.Role, error)

	// GetConnectionMeta returns the member record, or nil when absent.
	GetConnectionMeta(ctx context.Context, roomID, identityID string) (*domain.Member, error)

	// RecordPresence stores one live-socket entry for an identity.
	RecordPresence(ctx context.Context, entry domain.PresenceEntry) error

	// ClearPresence removes one socket entry and returns it, or nil when
	// it was already gone (duplicate disconnect delivery).
	ClearPresence(ctx context.Context, identityID, connID string) (*domain.PresenceEntry, error)

	// IsOnline reports whether at least one presence entry exists anywhere
	// in the cluster for the identity.
	IsOnline(ctx context.Context, identityID string) (bool, error)

	// RoomsForIdentity returns every room the identity is currently a
	// member of, from the reverse index.
	RoomsForIdentity(ctx context.Context, identityID string) ([]string, error)

	// TrackedIdentities returns every identity present in the reverse
	// index, i.e. a member of at least one room anywhere in the cluster.
	TrackedIdentities(ctx context.Context) ([]string, error)

	// SaveStreamSession persists the authoritative stream session. An
	// offline session clears the live marker.
	SaveStreamSession(ctx context.Context, s *domain.StreamSession) error

	// LoadStreamSession returns the session for a performer, or a fresh
	// offline session when none is stored.
	LoadStreamSession(ctx context.Context, performerID string) (*domain.StreamSession, error)

	// LiveStreams returns the performer IDs currently broadcasting.
	LiveStreams(ctx context.Context) ([]string, error)

	Close() error
}
