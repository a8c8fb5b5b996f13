// Package stream owns the per-performer broadcasting state machine.
// States: offline, public, group, private. Every transition for a given
// performer is serialized through a per-performer lock, so two
// near-simultaneous go-live and stop calls can never leave the
// broadcasting flag inconsistent with the status.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/collab"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/locks"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// Stop reasons recorded in logs and the ended event.
const (
	ReasonManual       = "manual"
	ReasonDisconnect   = "disconnect"
	ReasonRoomClosed   = "room_closed"
	ReasonPresenceLost = "presence_expired"
)

// Machine drives stream sessions. Sessions live in the shared registry,
// so any process can run a transition for any performer; the per-key lock
// serializes transitions within a process and the registry write is the
// cluster-wide commit point.
type Machine struct {
	store      registry.Store
	bus        bus.Bus
	performers collab.PerformerStore
	viewers    collab.ViewerStore
	locks      *locks.Keyed
}

// NewMachine creates a stream state machine.
func NewMachine(store registry.Store, b bus.Bus, performers collab.PerformerStore, viewers collab.ViewerStore) *Machine {
	return &Machine{
		store:      store,
		bus:        b,
		performers: performers,
		viewers:    viewers,
		locks:      locks.NewKeyed(),
	}
}

// Session returns the current session for a performer.
func (m *Machine) Session(ctx context.Context, performerID string) (*domain.StreamSession, error) {
	return m.store.LoadStreamSession(ctx, performerID)
}

// GoLive transitions offline -> public. Going live while already public is
// idempotent; while in group or private mode it is a conflict the performer
// must resolve by stopping the current mode first.
func (m *Machine) GoLive(ctx context.Context, performerID, roomID string) (*domain.StreamSession, error) {
	unlock := m.locks.Lock(performerID)
	defer unlock()

	session, err := m.store.LoadStreamSession(ctx, performerID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case domain.StreamPublic:
		return session, nil
	case domain.StreamGroup, domain.StreamPrivate:
		return nil, fmt.Errorf("go_live while %s: %w", session.Status, domain.ErrConflictingStreamState)
	}

	session.Status = domain.StreamPublic
	session.IsBroadcasting = true
	session.RoomID = roomID
	session.StartedAt = time.Now().UnixMilli()
	session.ViewerCount = 0

	if err := m.store.SaveStreamSession(ctx, session); err != nil {
		return nil, err
	}

	m.persistStatus(ctx, performerID, domain.StreamPublic, true)
	m.publishStarted(ctx, session)

	pkglog.L().Info().Str(pkglog.FieldPerformerID, performerID).
		Str(pkglog.FieldRoomID, roomID).Msg("performer went live")
	return session, nil
}

// EnterRoomMode transitions offline -> group|private when someone joins
// the corresponding conversation room. Re-entering the current mode is a
// no-op; entering while another mode is running is a conflict.
func (m *Machine) EnterRoomMode(ctx context.Context, performerID, roomID string, kind domain.RoomKind) (*domain.StreamSession, error) {
	target := domain.StatusForRoom(kind)
	if target == domain.StreamPublic {
		return nil, fmt.Errorf("room kind %s does not map to a gated stream mode", kind)
	}

	unlock := m.locks.Lock(performerID)
	defer unlock()

	session, err := m.store.LoadStreamSession(ctx, performerID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case target:
		return session, nil
	case domain.StreamOffline:
	default:
		return nil, fmt.Errorf("enter %s while %s: %w", target, session.Status, domain.ErrConflictingStreamState)
	}

	session.Status = target
	session.IsBroadcasting = true
	session.RoomID = roomID
	session.StartedAt = time.Now().UnixMilli()
	session.ViewerCount = 0

	if err := m.store.SaveStreamSession(ctx, session); err != nil {
		return nil, err
	}

	m.persistStatus(ctx, performerID, target, true)
	m.publishStarted(ctx, session)

	pkglog.L().Info().Str(pkglog.FieldPerformerID, performerID).
		Str(pkglog.FieldRoomID, roomID).Str("mode", string(target)).
		Msg("stream session entered room mode")
	return session, nil
}

// Stop transitions any live mode -> offline and records the elapsed stream
// time. Stopping an offline session is a no-op, which makes duplicate
// disconnect deliveries harmless.
func (m *Machine) Stop(ctx context.Context, performerID, reason string) (*domain.StreamSession, error) {
	unlock := m.locks.Lock(performerID)
	defer unlock()

	session, err := m.store.LoadStreamSession(ctx, performerID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StreamOffline {
		return session, nil
	}

	elapsed := time.Now().UnixMilli() - session.StartedAt
	if elapsed < 0 {
		elapsed = 0
	}
	roomID := session.RoomID

	// Viewers still in the room get their watched time credited here;
	// viewers who left earlier were settled on departure.
	m.settleViewers(ctx, session)

	session.Status = domain.StreamOffline
	session.IsBroadcasting = false
	session.RoomID = ""
	session.StartedAt = 0
	session.ViewerCount = 0

	if err := m.store.SaveStreamSession(ctx, session); err != nil {
		return nil, err
	}

	m.persistStatus(ctx, performerID, domain.StreamOffline, false)
	if err := m.performers.RecordStreamTime(ctx, performerID, elapsed); err != nil {
		pkglog.L().Error().Str(pkglog.FieldPerformerID, performerID).Err(err).
			Msg("failed to record stream time")
	}

	if e, err := bus.NewEvent(bus.ChannelStream, bus.EventStreamEnded, bus.StreamEndedPayload{
		PerformerID:    performerID,
		RoomID:         roomID,
		DurationMillis: elapsed,
	}); err == nil {
		if err := m.bus.Publish(ctx, e); err != nil {
			pkglog.L().Error().Str(pkglog.FieldPerformerID, performerID).Err(err).
				Msg("failed to publish stream_ended")
		}
	}

	pkglog.L().Info().Str(pkglog.FieldPerformerID, performerID).
		Str("reason", reason).Int64("duration_ms", elapsed).Msg("stream ended")
	return session, nil
}

// AdjustViewers changes the viewer count of a live session. No-op when the
// performer is offline.
func (m *Machine) AdjustViewers(ctx context.Context, performerID string, delta int) error {
	unlock := m.locks.Lock(performerID)
	defer unlock()

	session, err := m.store.LoadStreamSession(ctx, performerID)
	if err != nil {
		return err
	}
	if session.Status == domain.StreamOffline {
		return nil
	}

	session.ViewerCount += delta
	if session.ViewerCount < 0 {
		session.ViewerCount = 0
	}
	return m.store.SaveStreamSession(ctx, session)
}

// settleViewers records watched time for every non-model member of the
// session's room. Watched time counts from the later of the member's join
// and the session start, so a viewer who sat in the room before the
// performer went live is not over-credited.
func (m *Machine) settleViewers(ctx context.Context, session *domain.StreamSession) {
	if session.RoomID == "" {
		return
	}
	members, err := m.store.ListMembers(ctx, session.RoomID)
	if err != nil {
		pkglog.L().Warn().Str(pkglog.FieldRoomID, session.RoomID).Err(err).
			Msg("failed to list members for view time settlement")
		return
	}

	now := time.Now().UnixMilli()
	for identityID, role := range members {
		if role == domain.RoleModel {
			continue
		}
		meta, err := m.store.GetConnectionMeta(ctx, session.RoomID, identityID)
		if err != nil || meta == nil {
			continue
		}
		from := meta.JoinedAt
		if session.StartedAt > from {
			from = session.StartedAt
		}
		watched := now - from
		if watched < 0 {
			watched = 0
		}
		if err := m.viewers.RecordViewTime(ctx, identityID, watched); err != nil {
			pkglog.L().Error().Str(pkglog.FieldIdentityID, identityID).Err(err).
				Msg("failed to record view time")
		}
	}
}

// persistStatus pushes the durable side effects to the performer record.
// Failures are logged, not propagated: the registry holds the authoritative
// state and the CRUD backend catches up on the next transition.
func (m *Machine) persistStatus(ctx context.Context, performerID string, status domain.StreamStatus, live bool) {
	if err := m.performers.SetStreamingStatus(ctx, performerID, status); err != nil {
		pkglog.L().Error().Str(pkglog.FieldPerformerID, performerID).Err(err).
			Msg("failed to persist streaming status")
	}
	if err := m.performers.SetLiveFlag(ctx, performerID, live); err != nil {
		pkglog.L().Error().Str(pkglog.FieldPerformerID, performerID).Err(err).
			Msg("failed to persist live flag")
	}
}

func (m *Machine) publishStarted(ctx context.Context, session *domain.StreamSession) {
	e, err := bus.NewEvent(bus.ChannelStream, bus.EventStreamStarted, bus.StreamStartedPayload{
		PerformerID: session.PerformerID,
		RoomID:      session.RoomID,
		Status:      session.Status,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, e); err != nil {
		pkglog.L().Error().Str(pkglog.FieldPerformerID, session.PerformerID).Err(err).
			Msg("failed to publish stream_started")
	}
}
