// Package collab declares the narrow interfaces through which the
// coordination layer talks to the rest of the platform. The CRUD backend
// owns the implementations; this package keeps the core testable and free
// of storage concerns.
package collab

import (
	"context"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
)

// PaywallCheck answers whether a viewer has paid for access to a
// performer's gated rooms.
type PaywallCheck interface {
	CanJoinPrivate(ctx context.Context, performerID, viewerID string) (bool, error)
	CanJoinGroup(ctx context.Context, performerID, viewerID string) (bool, error)
}

// PerformerStore receives stream-status side effects for the durable
// performer record.
type PerformerStore interface {
	SetStreamingStatus(ctx context.Context, performerID string, status domain.StreamStatus) error
	SetLiveFlag(ctx context.Context, performerID string, live bool) error
	RecordStreamTime(ctx context.Context, performerID string, millis int64) error
}

// ViewerStore accumulates watched time for billing.
type ViewerStore interface {
	RecordViewTime(ctx context.Context, viewerID string, millis int64) error
}

// Conversation is the durable record a room maps onto.
type Conversation struct {
	ID          string
	RoomKind    domain.RoomKind
	PerformerID string
	Recipients  []string
}

// ConversationDirectory resolves conversation metadata.
type ConversationDirectory interface {
	Find(ctx context.Context, conversationID string) (*Conversation, error)
}
