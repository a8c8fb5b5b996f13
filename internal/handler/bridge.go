package handler

import (
	"context"
	"strings"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/hub"
	"github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// Bridge forwards bus events to the local hub. Every gateway process runs
// one; together with the bus this is what makes a join on one process
// visible to sockets on another.
type Bridge struct {
	bus  bus.Subscriber
	hub  *hub.Hub
	subs []bus.Subscription
}

func NewBridge(b bus.Subscriber, h *hub.Hub) *Bridge {
	return &Bridge{bus: b, hub: h}
}

// Start registers the bridge's subscriptions: every room channel, every
// identity channel, and the shared stream channel.
func (b *Bridge) Start(ctx context.Context) error {
	subs := []struct {
		pattern bool
		name    string
		h       bus.Handler
	}{
		{true, bus.RoomChannelPattern(), b.onRoomEvent},
		{true, bus.IdentityChannelPattern(), b.onIdentityEvent},
		{false, bus.ChannelStream, b.onStreamEvent},
	}
	for _, s := range subs {
		var sub bus.Subscription
		var err error
		if s.pattern {
			sub, err = b.bus.SubscribePattern(ctx, s.name, s.h)
		} else {
			sub, err = b.bus.Subscribe(ctx, s.name, s.h)
		}
		if err != nil {
			b.Stop()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	return nil
}

// Stop tears down all bridge subscriptions.
func (b *Bridge) Stop() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

func (b *Bridge) onRoomEvent(_ context.Context, e *bus.Event) {
	roomID, ok := bus.RoomFromChannel(e.Channel)
	if !ok {
		return
	}
	if b.hub.RoomClientCount(roomID) == 0 {
		return
	}

	switch {
	case e.Name == bus.EventMemberJoined:
		var p bus.MemberJoinedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		b.hub.BroadcastToRoom(roomID, &domain.MemberJoinedMessage{
			Type:       domain.MsgTypeMemberJoined,
			RoomID:     roomID,
			IdentityID: p.IdentityID,
			Role:       p.Role,
		}, "")

	case e.Name == bus.EventMemberLeft:
		var p bus.MemberLeftPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		b.hub.BroadcastToRoom(roomID, &domain.MemberLeftMessage{
			Type:       domain.MsgTypeMemberLeft,
			RoomID:     roomID,
			IdentityID: p.IdentityID,
		}, "")

	case strings.HasPrefix(e.Name, "message_created_conversation_"):
		var p bus.RelayPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		b.hub.BroadcastToRoom(roomID, &domain.ChatRelayMessage{
			Type:     domain.MsgTypeChat,
			RoomID:   roomID,
			SenderID: p.SenderID,
			Content:  p.Content,
		}, "")

	default:
		log.L().Debug().Str(log.FieldChannel, e.Channel).
			Str(log.FieldEvent, e.Name).Msg("unhandled room event")
	}
}

// onIdentityEvent delivers identity-scoped events to that identity's
// local sockets, wrapped in the typed direct envelope.
func (b *Bridge) onIdentityEvent(_ context.Context, e *bus.Event) {
	identityID, ok := bus.IdentityFromChannel(e.Channel)
	if !ok {
		return
	}
	b.hub.BroadcastToIdentity(identityID, &domain.DirectMessage{
		Type:    domain.MsgTypeDirect,
		Event:   e.Name,
		Payload: e.Payload,
	})
}

func (b *Bridge) onStreamEvent(_ context.Context, e *bus.Event) {
	switch e.Name {
	case bus.EventStreamStarted:
		var p bus.StreamStartedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		if p.RoomID == "" || b.hub.RoomClientCount(p.RoomID) == 0 {
			return
		}
		b.hub.BroadcastToRoom(p.RoomID, &domain.StreamStartedMessage{
			Type:        domain.MsgTypeStreamStarted,
			RoomID:      p.RoomID,
			PerformerID: p.PerformerID,
			Status:      p.Status,
		}, "")

	case bus.EventStreamEnded:
		var p bus.StreamEndedPayload
		if err := e.Decode(&p); err != nil {
			return
		}
		if p.RoomID == "" || b.hub.RoomClientCount(p.RoomID) == 0 {
			return
		}
		b.hub.BroadcastToRoom(p.RoomID, &domain.StreamEndedMessage{
			Type:           domain.MsgTypeStreamEnded,
			RoomID:         p.RoomID,
			PerformerID:    p.PerformerID,
			DurationMillis: p.DurationMillis,
		}, "")
	}
}
