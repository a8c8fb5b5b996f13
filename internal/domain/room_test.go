package domain

import "testing"

func TestRoomIDRoundTrip(t *testing.T) {
	roomID := RoomID(RoomGroup, "conv-42")
	if roomID != "group:conv-42" {
		t.Fatalf("expected group:conv-42, got %q", roomID)
	}

	kind, conversationID, err := ParseRoomID(roomID)
	if err != nil {
		t.Fatalf("parse room id: %v", err)
	}
	if kind != RoomGroup {
		t.Fatalf("expected kind group, got %q", kind)
	}
	if conversationID != "conv-42" {
		t.Fatalf("expected conversation conv-42, got %q", conversationID)
	}
}

func TestParseRoomIDRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		roomID string
	}{
		{name: "empty", roomID: ""},
		{name: "no separator", roomID: "publicconv-1"},
		{name: "empty conversation", roomID: "public:"},
		{name: "unknown kind", roomID: "vip:conv-1"},
		{name: "kind only", roomID: "private"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseRoomID(tt.roomID); err == nil {
				t.Fatalf("expected error for %q", tt.roomID)
			}
		})
	}
}

func TestParseRoomIDKeepsColonsInConversationID(t *testing.T) {
	kind, conversationID, err := ParseRoomID("private:conv:with:colons")
	if err != nil {
		t.Fatalf("parse room id: %v", err)
	}
	if kind != RoomPrivate {
		t.Fatalf("expected kind private, got %q", kind)
	}
	if conversationID != "conv:with:colons" {
		t.Fatalf("expected conversation to keep colons, got %q", conversationID)
	}
}

func TestStatusForRoom(t *testing.T) {
	tests := []struct {
		kind RoomKind
		want StreamStatus
	}{
		{RoomPublic, StreamPublic},
		{RoomGroup, StreamGroup},
		{RoomPrivate, StreamPrivate},
	}

	for _, tt := range tests {
		if got := StatusForRoom(tt.kind); got != tt.want {
			t.Fatalf("StatusForRoom(%q) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
