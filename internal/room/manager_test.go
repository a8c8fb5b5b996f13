package room

import (
	"context"
	"errors"
	"testing"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/collab"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
)

type fakePlatform struct {
	conversations map[string]*collab.Conversation
	privateOK     map[string]bool // viewerID -> entitled
	groupOK       map[string]bool
	viewTime      map[string]int64
	viewCalls     map[string]int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		conversations: make(map[string]*collab.Conversation),
		privateOK:     make(map[string]bool),
		groupOK:       make(map[string]bool),
		viewTime:      make(map[string]int64),
		viewCalls:     make(map[string]int),
	}
}

func (f *fakePlatform) Find(_ context.Context, conversationID string) (*collab.Conversation, error) {
	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, collab.ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakePlatform) CanJoinPrivate(_ context.Context, _, viewerID string) (bool, error) {
	return f.privateOK[viewerID], nil
}

func (f *fakePlatform) CanJoinGroup(_ context.Context, _, viewerID string) (bool, error) {
	return f.groupOK[viewerID], nil
}

func (f *fakePlatform) SetStreamingStatus(_ context.Context, _ string, _ domain.StreamStatus) error {
	return nil
}

func (f *fakePlatform) SetLiveFlag(_ context.Context, _ string, _ bool) error { return nil }

func (f *fakePlatform) RecordStreamTime(_ context.Context, _ string, _ int64) error { return nil }

func (f *fakePlatform) RecordViewTime(_ context.Context, viewerID string, millis int64) error {
	f.viewTime[viewerID] += millis
	f.viewCalls[viewerID]++
	return nil
}

func performer(id string) domain.Identity {
	return domain.Identity{ID: id, Kind: domain.KindPerformer}
}

func viewer(id string) domain.Identity {
	return domain.Identity{ID: id, Kind: domain.KindViewer}
}

func newTestManager(platform *fakePlatform) (*Manager, *stream.Machine, registry.Store, *bus.MemoryBus) {
	store := registry.NewMemoryStore()
	b := bus.NewMemoryBus()
	streams := stream.NewMachine(store, b, platform, platform)
	m := NewManager(store, b, streams, platform, platform, platform)
	return m, streams, store, b
}

func TestJoinPublicRoomAssignsRoles(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1",
	}
	m, _, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")

	result, err := m.Join(ctx, roomID, performer("perf-1"))
	if err != nil {
		t.Fatalf("performer join: %v", err)
	}
	if result.Role != domain.RoleModel {
		t.Fatalf("performer must join as model, got %q", result.Role)
	}

	result, err = m.Join(ctx, roomID, viewer("viewer-1"))
	if err != nil {
		t.Fatalf("viewer join: %v", err)
	}
	if result.Role != domain.RoleGuest {
		t.Fatalf("unpaid viewer in public room must be guest, got %q", result.Role)
	}
	if len(result.Members) != 2 {
		t.Fatalf("expected 2 members in snapshot, got %v", result.Members)
	}
}

func TestJoinIsIdempotentAcrossTabs(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1",
	}
	m, _, _, b := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")

	joinedEvents := 0
	b.SubscribePattern(ctx, bus.RoomChannelPattern(), func(_ context.Context, e *bus.Event) {
		if e.Name == bus.EventMemberJoined {
			joinedEvents++
		}
	})

	first, err := m.Join(ctx, roomID, viewer("viewer-1"))
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if first.AlreadyPresent {
		t.Fatal("first join must not report already present")
	}

	second, err := m.Join(ctx, roomID, viewer("viewer-1"))
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !second.AlreadyPresent {
		t.Fatal("second tab join must report already present")
	}
	if len(second.Members) != 1 {
		t.Fatalf("identity must appear once, got %v", second.Members)
	}
	if joinedEvents != 1 {
		t.Fatalf("expected one member_joined event, got %d", joinedEvents)
	}
}

func TestUnauthorizedJoinHasNoSideEffects(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPrivate, PerformerID: "perf-1",
	}
	m, streams, store, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPrivate, "conv-1")

	_, err := m.Join(ctx, roomID, viewer("freeloader"))
	if !errors.Is(err, domain.ErrUnauthorizedJoin) {
		t.Fatalf("expected unauthorized join, got %v", err)
	}

	members, err := store.ListMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("rejected join must leave the room empty, got %v", members)
	}
	session, err := streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamOffline {
		t.Fatalf("rejected join must not start a stream, got %q", session.Status)
	}
}

func TestJoinGatedRoomStartsStreamMode(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomGroup, PerformerID: "perf-1",
	}
	platform.groupOK["viewer-1"] = true
	m, streams, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomGroup, "conv-1")

	result, err := m.Join(ctx, roomID, viewer("viewer-1"))
	if err != nil {
		t.Fatalf("entitled viewer join: %v", err)
	}
	if result.Role != domain.RoleMember {
		t.Fatalf("entitled viewer must be member, got %q", result.Role)
	}

	session, err := streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamGroup {
		t.Fatalf("join must move session to group, got %q", session.Status)
	}
	if session.ViewerCount != 1 {
		t.Fatalf("expected viewer count 1, got %d", session.ViewerCount)
	}
}

func TestJoinGatedRoomConflictsWithOtherMode(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPrivate, PerformerID: "perf-1",
	}
	platform.privateOK["viewer-1"] = true
	m, streams, _, _ := newTestManager(platform)
	ctx := context.Background()

	if _, err := streams.GoLive(ctx, "perf-1", "public:conv-9"); err != nil {
		t.Fatalf("go live: %v", err)
	}

	_, err := m.Join(ctx, domain.RoomID(domain.RoomPrivate, "conv-1"), viewer("viewer-1"))
	if !errors.Is(err, domain.ErrConflictingStreamState) {
		t.Fatalf("expected stream conflict, got %v", err)
	}
}

func TestLeaveAbsentRoomIsNoOp(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1",
	}
	m, _, _, b := newTestManager(platform)
	ctx := context.Background()

	leftEvents := 0
	b.SubscribePattern(ctx, bus.RoomChannelPattern(), func(_ context.Context, e *bus.Event) {
		if e.Name == bus.EventMemberLeft {
			leftEvents++
		}
	})

	members, err := m.Leave(ctx, domain.RoomID(domain.RoomPublic, "conv-1"), viewer("stranger"))
	if err != nil {
		t.Fatalf("leave absent room must not fail: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty snapshot, got %v", members)
	}
	if leftEvents != 0 {
		t.Fatal("absent leave must not publish member_left")
	}
}

func TestPerformerLeavingGatedRoomEndsStream(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPrivate, PerformerID: "perf-1",
	}
	platform.privateOK["viewer-1"] = true
	m, streams, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPrivate, "conv-1")

	if _, err := m.Join(ctx, roomID, performer("perf-1")); err != nil {
		t.Fatalf("performer join: %v", err)
	}
	if _, err := m.Join(ctx, roomID, viewer("viewer-1")); err != nil {
		t.Fatalf("viewer join: %v", err)
	}

	if _, err := m.Leave(ctx, roomID, performer("perf-1")); err != nil {
		t.Fatalf("performer leave: %v", err)
	}

	session, err := streams.Session(ctx, "perf-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.Status != domain.StreamOffline {
		t.Fatalf("performer leaving a private room must end the stream, got %q", session.Status)
	}
}

func TestViewerLeaveRecordsWatchedTime(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomGroup, PerformerID: "perf-1",
	}
	platform.groupOK["viewer-1"] = true
	m, _, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomGroup, "conv-1")

	if _, err := m.Join(ctx, roomID, viewer("viewer-1")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := m.Leave(ctx, roomID, viewer("viewer-1")); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if _, ok := platform.viewTime["viewer-1"]; !ok {
		t.Fatal("expected watched time recorded for departing viewer")
	}
}

func TestViewerTimeRecordedWhenStreamEndsFirst(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomGroup, PerformerID: "perf-1",
	}
	platform.groupOK["viewer-1"] = true
	m, streams, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomGroup, "conv-1")

	if _, err := m.Join(ctx, roomID, viewer("viewer-1")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := streams.Stop(ctx, "perf-1", stream.ReasonManual); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if platform.viewCalls["viewer-1"] != 1 {
		t.Fatalf("viewer watched the whole session, expected one view time record, got %d", platform.viewCalls["viewer-1"])
	}

	// Leaving after the session ended must not credit the viewer twice.
	if _, err := m.Leave(ctx, roomID, viewer("viewer-1")); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if platform.viewCalls["viewer-1"] != 1 {
		t.Fatalf("leave after stream end must not record again, got %d records", platform.viewCalls["viewer-1"])
	}
}

func TestBroadcastToRoomPublishesOnRoomChannel(t *testing.T) {
	platform := newFakePlatform()
	m, _, _, b := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")

	var got []*bus.Event
	b.SubscribePattern(ctx, bus.RoomChannelPattern(), func(_ context.Context, e *bus.Event) {
		got = append(got, e)
	})

	payload := map[string]string{"note": "back in five"}
	if err := m.BroadcastToRoom(ctx, roomID, "announcement", payload); err != nil {
		t.Fatalf("broadcast to room: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got[0].Channel != bus.RoomChannel(roomID) || got[0].Name != "announcement" {
		t.Fatalf("unexpected event %q on %q", got[0].Name, got[0].Channel)
	}
	var decoded map[string]string
	if err := got[0].Decode(&decoded); err != nil || decoded["note"] != "back in five" {
		t.Fatalf("payload did not survive the round trip: %v %v", decoded, err)
	}
}

func TestBroadcastToIdentityTargetsOneIdentity(t *testing.T) {
	platform := newFakePlatform()
	m, _, _, b := newTestManager(platform)
	ctx := context.Background()

	events := make(map[string]int)
	b.Subscribe(ctx, bus.IdentityChannel("viewer-1"), func(_ context.Context, e *bus.Event) {
		events["viewer-1"]++
	})
	b.Subscribe(ctx, bus.IdentityChannel("viewer-2"), func(_ context.Context, e *bus.Event) {
		events["viewer-2"]++
	})

	if err := m.BroadcastToIdentity(ctx, "viewer-1", "tip_received", map[string]int{"amount": 5}); err != nil {
		t.Fatalf("broadcast to identity: %v", err)
	}

	if events["viewer-1"] != 1 {
		t.Fatalf("expected one event for viewer-1, got %d", events["viewer-1"])
	}
	if events["viewer-2"] != 0 {
		t.Fatal("identity broadcast must not reach other identities")
	}
}

func TestMembersSnapshotIsSorted(t *testing.T) {
	platform := newFakePlatform()
	platform.conversations["conv-1"] = &collab.Conversation{
		ID: "conv-1", RoomKind: domain.RoomPublic, PerformerID: "perf-1",
	}
	m, _, _, _ := newTestManager(platform)
	ctx := context.Background()
	roomID := domain.RoomID(domain.RoomPublic, "conv-1")

	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := m.Join(ctx, roomID, viewer(id)); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	members, err := m.Members(ctx, roomID)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %v", len(want), members)
	}
	for i, id := range want {
		if members[i].IdentityID != id {
			t.Fatalf("expected sorted order %v, got %v", want, members)
		}
	}
}
