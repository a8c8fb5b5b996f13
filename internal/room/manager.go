// Package room owns the lifecycle of conversation rooms: join, leave,
// membership snapshots, and room- or identity-scoped broadcast. Rooms are
// runtime coordination state only; they are created implicitly on first
// join and vanish when the last member leaves.
package room

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/collab"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/locks"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// JoinResult is returned to the gateway so the joining client learns who
// else is present.
type JoinResult struct {
	Members        []domain.MemberSnapshot
	Role           domain.Role
	AlreadyPresent bool
}

// Manager coordinates room membership. Mutations for the same room are
// serialized through a per-room lock; unrelated rooms stay independent.
// No membership is cached across requests: reads always hit the registry,
// deduplicated with singleflight when many sockets ask at once.
type Manager struct {
	store         registry.Store
	bus           bus.Bus
	streams       *stream.Machine
	paywall       collab.PaywallCheck
	conversations collab.ConversationDirectory
	viewers       collab.ViewerStore
	locks         *locks.Keyed
	sf            singleflight.Group
}

// NewManager creates a room session manager.
func NewManager(
	store registry.Store,
	b bus.Bus,
	streams *stream.Machine,
	paywall collab.PaywallCheck,
	conversations collab.ConversationDirectory,
	viewers collab.ViewerStore,
) *Manager {
	return &Manager{
		store:         store,
		bus:           b,
		streams:       streams,
		paywall:       paywall,
		conversations: conversations,
		viewers:       viewers,
		locks:         locks.NewKeyed(),
	}
}

// Join admits an identity into a room. The paywall and stream-state checks
// run before any side effect; an unauthorized join changes nothing and
// publishes nothing. A second tab of the same identity succeeds with
// AlreadyPresent set and no duplicate member_joined event.
func (m *Manager) Join(ctx context.Context, roomID string, id domain.Identity) (*JoinResult, error) {
	kind, conversationID, err := domain.ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}

	conv, err := m.conversations.Find(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation lookup: %w", err)
	}

	role, err := m.authorize(ctx, kind, conv, id)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	// A join into a gated room is what moves the performer's session out
	// of offline. A conflicting mode rejects the join before any state
	// changes hands.
	if kind == domain.RoomGroup || kind == domain.RoomPrivate {
		if _, err := m.streams.EnterRoomMode(ctx, conv.PerformerID, roomID, kind); err != nil {
			return nil, err
		}
	}

	already, err := m.store.AddConnection(ctx, roomID, id.ID, domain.Member{
		Role:     role,
		JoinedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	if !already {
		if role != domain.RoleModel {
			m.countViewer(ctx, conv.PerformerID, roomID, +1)
		}
		m.publishRoomEvent(ctx, roomID, bus.EventMemberJoined, bus.MemberJoinedPayload{
			RoomID:     roomID,
			IdentityID: id.ID,
			Role:       role,
		})
	}

	members, err := m.snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}

	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).
		Str(pkglog.FieldIdentityID, id.ID).Str("role", string(role)).
		Bool("already_present", already).Msg("identity joined room")

	return &JoinResult{Members: members, Role: role, AlreadyPresent: already}, nil
}

// Leave removes an identity from a room. Leaving a room one is not in is a
// no-op, not an error; the warning log is the only trace. When the room's
// performer leaves a gated room the stream session reverts to offline.
func (m *Manager) Leave(ctx context.Context, roomID string, id domain.Identity) ([]domain.MemberSnapshot, error) {
	kind, conversationID, err := domain.ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	meta, err := m.store.GetConnectionMeta(ctx, roomID, id.ID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		pkglog.L().Warn().Str(pkglog.FieldRoomID, roomID).
			Str(pkglog.FieldIdentityID, id.ID).
			Msg("leave for identity not in room, ignoring")
		return m.snapshot(ctx, roomID)
	}

	removed, err := m.store.RemoveConnection(ctx, roomID, id.ID)
	if err != nil {
		return nil, err
	}

	if removed {
		m.publishRoomEvent(ctx, roomID, bus.EventMemberLeft, bus.MemberLeftPayload{
			RoomID:     roomID,
			IdentityID: id.ID,
		})

		if conv, err := m.conversations.Find(ctx, conversationID); err == nil {
			m.settleDeparture(ctx, kind, roomID, conv.PerformerID, id.ID, meta)
		} else {
			pkglog.L().Warn().Str(pkglog.FieldRoomID, roomID).Err(err).
				Msg("conversation lookup failed on leave, skipping stream side effects")
		}

		pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).
			Str(pkglog.FieldIdentityID, id.ID).Msg("identity left room")
	}

	return m.snapshot(ctx, roomID)
}

// Members returns the current membership snapshot. Concurrent callers for
// the same room share one registry read.
func (m *Manager) Members(ctx context.Context, roomID string) ([]domain.MemberSnapshot, error) {
	v, err, _ := m.sf.Do(roomID, func() (interface{}, error) {
		return m.snapshot(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.MemberSnapshot), nil
}

// BroadcastToRoom fans a named event out to every process with at least
// one socket joined to the room.
func (m *Manager) BroadcastToRoom(ctx context.Context, roomID, name string, payload interface{}) error {
	e, err := bus.NewEvent(bus.RoomChannel(roomID), name, payload)
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, e)
}

// BroadcastToIdentity delivers a named event only to sockets belonging to
// one identity, across processes.
func (m *Manager) BroadcastToIdentity(ctx context.Context, identityID, name string, payload interface{}) error {
	e, err := bus.NewEvent(bus.IdentityChannel(identityID), name, payload)
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, e)
}

// authorize decides the joiner's role, running the paywall check for gated
// rooms. It performs no side effects.
func (m *Manager) authorize(ctx context.Context, kind domain.RoomKind, conv *collab.Conversation, id domain.Identity) (domain.Role, error) {
	if id.ID == conv.PerformerID {
		return domain.RoleModel, nil
	}

	switch kind {
	case domain.RoomPrivate:
		ok, err := m.paywall.CanJoinPrivate(ctx, conv.PerformerID, id.ID)
		if err != nil {
			return "", fmt.Errorf("paywall check: %w", err)
		}
		if !ok {
			return "", domain.ErrUnauthorizedJoin
		}
		return domain.RoleMember, nil
	case domain.RoomGroup:
		ok, err := m.paywall.CanJoinGroup(ctx, conv.PerformerID, id.ID)
		if err != nil {
			return "", fmt.Errorf("paywall check: %w", err)
		}
		if !ok {
			return "", domain.ErrUnauthorizedJoin
		}
		return domain.RoleMember, nil
	default:
		return domain.RoleGuest, nil
	}
}

// settleDeparture applies the stream side effects of a member leaving:
// watched time for viewers, offline transition when the performer leaves
// a gated room.
func (m *Manager) settleDeparture(ctx context.Context, kind domain.RoomKind, roomID, performerID, identityID string, meta *domain.Member) {
	if meta.Role == domain.RoleModel {
		if kind == domain.RoomGroup || kind == domain.RoomPrivate {
			if _, err := m.streams.Stop(ctx, performerID, stream.ReasonRoomClosed); err != nil {
				pkglog.L().Error().Str(pkglog.FieldPerformerID, performerID).Err(err).
					Msg("failed to stop stream after performer left room")
			}
		}
		return
	}

	session, err := m.streams.Session(ctx, performerID)
	if err != nil {
		pkglog.L().Warn().Str(pkglog.FieldPerformerID, performerID).Err(err).
			Msg("session lookup failed on departure")
		return
	}
	if session.Status == domain.StreamOffline || session.RoomID != roomID {
		return
	}

	from := meta.JoinedAt
	if session.StartedAt > from {
		from = session.StartedAt
	}
	watched := time.Now().UnixMilli() - from
	if watched < 0 {
		watched = 0
	}
	if err := m.viewers.RecordViewTime(ctx, identityID, watched); err != nil {
		pkglog.L().Error().Str(pkglog.FieldIdentityID, identityID).Err(err).
			Msg("failed to record view time")
	}
	m.countViewer(ctx, performerID, roomID, -1)
}

// countViewer adjusts the live viewer count when the room hosts an active
// stream session.
func (m *Manager) countViewer(ctx context.Context, performerID, roomID string, delta int) {
	session, err := m.streams.Session(ctx, performerID)
	if err != nil || session.Status == domain.StreamOffline || session.RoomID != roomID {
		return
	}
	if err := m.streams.AdjustViewers(ctx, performerID, delta); err != nil {
		pkglog.L().Warn().Str(pkglog.FieldPerformerID, performerID).Err(err).
			Msg("failed to adjust viewer count")
	}
}

func (m *Manager) publishRoomEvent(ctx context.Context, roomID, name string, payload interface{}) {
	e, err := bus.NewEvent(bus.RoomChannel(roomID), name, payload)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, e); err != nil {
		pkglog.L().Error().Str(pkglog.FieldRoomID, roomID).
			Str(pkglog.FieldEvent, name).Err(err).
			Msg("failed to publish room event")
	}
}

func (m *Manager) snapshot(ctx context.Context, roomID string) ([]domain.MemberSnapshot, error) {
	members, err := m.store.ListMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MemberSnapshot, 0, len(members))
	for id, role := range members {
		out = append(out, domain.MemberSnapshot{IdentityID: id, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}
