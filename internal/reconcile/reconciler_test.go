package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/collab"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/room"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
)

type stubPlatform struct {
	conversations map[string]*collab.Conversation
}

func (s *stubPlatform) Find(_ context.Context, conversationID string) (*collab.Conversation, error) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, collab.ErrConversationNotFound
	}
	return conv, nil
}

func (s *stubPlatform) CanJoinPrivate(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (s *stubPlatform) CanJoinGroup(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (s *stubPlatform) SetStreamingStatus(_ context.Context, _ string, _ domain.StreamStatus) error {
	return nil
}

func (s *stubPlatform) SetLiveFlag(_ context.Context, _ string, _ bool) error { return nil }

func (s *stubPlatform) RecordStreamTime(_ context.Context, _ string, _ int64) error { return nil }

func (s *stubPlatform) RecordViewTime(_ context.Context, _ string, _ int64) error { return nil }

type fixture struct {
	store      registry.Store
	bus        *bus.MemoryBus
	streams    *stream.Machine
	rooms      *room.Manager
	reconciler *Reconciler
}

func newFixture(conversations map[string]*collab.Conversation) *fixture {
	platform := &stubPlatform{conversations: conversations}
	store := registry.NewMemoryStore()
	b := bus.NewMemoryBus()
	streams := stream.NewMachine(store, b, platform, platform)
	rooms := room.NewManager(store, b, streams, platform, platform, platform)
	return &fixture{
		store:      store,
		bus:        b,
		streams:    streams,
		rooms:      rooms,
		reconciler: New(store, b, rooms, streams, time.Minute),
	}
}

func connect(t *testing.T, f *fixture, id domain.Identity, connID string) {
	t.Helper()
	err := f.store.RecordPresence(context.Background(), domain.PresenceEntry{
		IdentityID: id.ID,
		ConnID:     connID,
		ProcessID:  "p1",
	})
	if err != nil {
		t.Fatalf("record presence: %v", err)
	}
}

func TestLastTabDisconnectLeavesRoomsAndEndsStream(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPrivate, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPrivate, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	perf := domain.Identity{ID: "perf-1", Kind: domain.KindPerformer}

	connect(t, f, perf, "conn-a")
	if _, err := f.rooms.Join(ctx, roomID, perf); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.reconciler.Settle(ctx, perf, "conn-a"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	members, err := f.store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty room after disconnect, got %v", members)
	}

	session, err := f.streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamOffline {
		t.Fatalf("performer disconnect must end the stream, got %q", session.Status)
	}

	online, err := f.store.IsOnline(ctx, "perf-1")
	if err != nil {
		t.Fatalf("is online: %v", err)
	}
	if online {
		t.Fatal("expected offline after last tab closed")
	}
}

func TestDisconnectWithRemainingTabKeepsMemberships(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	v := domain.Identity{ID: "viewer-1", Kind: domain.KindViewer}

	connect(t, f, v, "conn-a")
	connect(t, f, v, "conn-b")
	if _, err := f.rooms.Join(ctx, roomID, v); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.reconciler.Settle(ctx, v, "conn-a"); err != nil {
		t.Fatalf("settle: %v", err)
	}

	members, err := f.store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("membership must survive while another tab is open, got %v", members)
	}
}

func TestDuplicateDisconnectDeliveryIsHarmless(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	v := domain.Identity{ID: "viewer-1", Kind: domain.KindViewer}

	connect(t, f, v, "conn-a")
	if _, err := f.rooms.Join(ctx, roomID, v); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.reconciler.Settle(ctx, v, "conn-a"); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if err := f.reconciler.Settle(ctx, v, "conn-a"); err != nil {
		t.Fatalf("duplicate settle must be a no-op: %v", err)
	}
}

func TestSweepCleansGhostMembershipAndStream(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPrivate, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPrivate, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	perf := domain.Identity{ID: "perf-1", Kind: domain.KindPerformer}

	// The performer joined but its presence entry has expired: the hosting
	// process died before publishing a disconnect event.
	if _, err := f.rooms.Join(ctx, roomID, perf); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.reconciler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	members, err := f.store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("sweep must remove ghost members, got %v", members)
	}
	session, err := f.streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamOffline {
		t.Fatalf("sweep must end the ghost stream, got %q", session.Status)
	}
}

func TestSweepSkipsOnlineIdentities(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	v := domain.Identity{ID: "viewer-1", Kind: domain.KindViewer}

	connect(t, f, v, "conn-a")
	if _, err := f.rooms.Join(ctx, roomID, v); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := f.reconciler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	members, err := f.store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("sweep must leave live identities alone, got %v", members)
	}
}

func TestSweepEndsGhostSessionWithoutRoomMembership(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	// A public broadcast does not require the performer to be a room
	// member; the session alone marks the ghost.
	if _, err := f.streams.GoLive(ctx, "perf-1", "public:conv-1"); err != nil {
		t.Fatalf("go live: %v", err)
	}

	if err := f.reconciler.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	session, err := f.streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamOffline {
		t.Fatalf("offline performer's session must be swept, got %q", session.Status)
	}
}

func TestReconcilerConsumesDisconnectEvents(t *testing.T) {
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")
	f := newFixture(map[string]*collab.Conversation{
		"conv-1": {ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1"},
	})
	ctx := context.Background()
	v := domain.Identity{ID: "viewer-1", Kind: domain.KindViewer}

	if err := f.reconciler.Start(ctx); err != nil {
		t.Fatalf("start reconciler: %v", err)
	}
	defer f.reconciler.Stop()

	connect(t, f, v, "conn-a")
	if _, err := f.rooms.Join(ctx, roomID, v); err != nil {
		t.Fatalf("join: %v", err)
	}

	e, err := bus.NewEvent(bus.ChannelDisconnects, bus.EventDisconnected, bus.DisconnectedPayload{
		Identity: v,
		ConnID:   "conn-a",
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	// MemoryBus delivery is synchronous, so the cleanup has run by the
	// time Publish returns.
	if err := f.bus.Publish(ctx, e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	members, err := f.store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty room after disconnect event, got %v", members)
	}
}
