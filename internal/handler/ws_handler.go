// Package handler holds the gateway surface: the WebSocket endpoint
// clients speak to and the small HTTP read API. Everything authoritative
// happens in the room manager, the stream machine and the registry; the
// handlers translate between sockets and those components.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/auth"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/bus"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/config"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/hub"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/registry"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/room"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/stream"
	"github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub       *hub.Hub
	rooms     *room.Manager
	streams   *stream.Machine
	store     registry.Store
	bus       bus.Publisher
	resolver  auth.Resolver
	wsCfg     config.WebSocketConfig
	processID string
}

func NewWSHandler(
	h *hub.Hub,
	rooms *room.Manager,
	streams *stream.Machine,
	store registry.Store,
	b bus.Publisher,
	resolver auth.Resolver,
	wsCfg config.WebSocketConfig,
	processID string,
) *WSHandler {
	return &WSHandler{
		hub:       h,
		rooms:     rooms,
		streams:   streams,
		store:     store,
		bus:       b,
		resolver:  resolver,
		wsCfg:     wsCfg,
		processID: processID,
	}
}

// HandleWebSocket authenticates the request, upgrades it and wires the
// socket into the hub. Authentication happens before the upgrade so an
// invalid token costs a plain 401, not a socket.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	identity, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity.ProcessID = h.processID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), identity, h.hub, conn, h.wsCfg)

	entry := domain.PresenceEntry{
		IdentityID:  identity.ID,
		ConnID:      client.ConnID,
		ProcessID:   h.processID,
		ConnectedAt: time.Now().UnixMilli(),
	}
	if err := h.store.RecordPresence(r.Context(), entry); err != nil {
		log.L().Error().Str(log.FieldIdentityID, identity.ID).Err(err).
			Msg("failed to record presence")
		conn.Close()
		return
	}

	// Each pong re-records the entry, refreshing the presence TTL; the
	// TTL only fires for processes that died without a disconnect event.
	client.OnPong = func() {
		if err := h.store.RecordPresence(context.Background(), entry); err != nil {
			log.L().Warn().Str(log.FieldConnID, client.ConnID).Err(err).
				Msg("failed to refresh presence")
		}
	}

	h.hub.Register(client)

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		h.onDisconnect(client)
	}()
}

// onDisconnect runs after the read loop exits for any reason, including
// abnormal closure. The gateway only announces the loss; the reconciler
// owns the cleanup.
func (h *WSHandler) onDisconnect(client *hub.Client) {
	ctx := context.Background()
	e, err := bus.NewEvent(bus.ChannelDisconnects, bus.EventDisconnected, bus.DisconnectedPayload{
		Identity: client.Identity,
		ConnID:   client.ConnID,
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, e); err != nil {
		log.L().Error().Str(log.FieldConnID, client.ConnID).Err(err).
			Msg("failed to publish disconnect event")
	}
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.RoomID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid join_room message"))
			return
		}
		h.handleJoin(ctx, client, msg.RoomID)

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.RoomID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid leave_room message"))
			return
		}
		h.handleLeave(ctx, client, msg.RoomID)

	case domain.MsgTypeGoLive:
		var msg domain.GoLiveMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.RoomID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid go_live message"))
			return
		}
		h.handleGoLive(ctx, client, msg.RoomID)

	case domain.MsgTypeStopStream:
		h.handleStopStream(ctx, client)

	case domain.MsgTypeChat:
		var msg domain.ChatMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.RoomID == "" {
			client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid chat message"))
			return
		}
		h.handleChat(ctx, client, &msg)

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

func (h *WSHandler) handleJoin(ctx context.Context, client *hub.Client, roomID string) {
	result, err := h.rooms.Join(ctx, roomID, client.Identity)
	if err != nil {
		h.sendError(client, err)
		return
	}

	h.hub.JoinRoom(client, roomID)
	client.TrackRoom(roomID)

	client.SendMessage(&domain.JoinedMessage{
		Type:           domain.MsgTypeJoined,
		RoomID:         roomID,
		Members:        result.Members,
		AlreadyPresent: result.AlreadyPresent,
	})
}

func (h *WSHandler) handleLeave(ctx context.Context, client *hub.Client, roomID string) {
	h.hub.LeaveRoom(client, roomID)
	client.UntrackRoom(roomID)

	if _, err := h.rooms.Leave(ctx, roomID, client.Identity); err != nil {
		h.sendError(client, err)
		return
	}

	client.SendMessage(&domain.LeftMessage{Type: domain.MsgTypeLeft, RoomID: roomID})
}

func (h *WSHandler) handleGoLive(ctx context.Context, client *hub.Client, roomID string) {
	if !client.Identity.IsPerformer() {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Only performers can go live"))
		return
	}
	if _, err := h.streams.GoLive(ctx, client.Identity.ID, roomID); err != nil {
		h.sendError(client, err)
	}
	// The stream_started event reaches the room, performer included,
	// through the bus bridge.
}

func (h *WSHandler) handleStopStream(ctx context.Context, client *hub.Client) {
	if !client.Identity.IsPerformer() {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Only performers can stop a stream"))
		return
	}
	if _, err := h.streams.Stop(ctx, client.Identity.ID, stream.ReasonManual); err != nil {
		h.sendError(client, err)
	}
}

// handleChat relays a chat line to the room without persisting it. Only
// current members may send.
func (h *WSHandler) handleChat(ctx context.Context, client *hub.Client, msg *domain.ChatMessage) {
	meta, err := h.store.GetConnectionMeta(ctx, msg.RoomID, client.Identity.ID)
	if err != nil {
		h.sendError(client, err)
		return
	}
	if meta == nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeUnauthorized, "Not a member of this room"))
		return
	}

	_, conversationID, err := domain.ParseRoomID(msg.RoomID)
	if err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid room id"))
		return
	}

	err = h.rooms.BroadcastToRoom(ctx, msg.RoomID, bus.ChatRelayEvent(conversationID), bus.RelayPayload{
		RoomID:   msg.RoomID,
		SenderID: client.Identity.ID,
		Content:  msg.Content,
	})
	if err != nil {
		h.sendError(client, err)
	}
}

// sendError translates an internal error into its coarse wire code and a
// fixed message. The underlying error goes to the log, never to the client.
func (h *WSHandler) sendError(client *hub.Client, err error) {
	code := domain.ErrorCode(err)
	log.L().Debug().Str(log.FieldConnID, client.ConnID).Str("code", code).Err(err).
		Msg("client action failed")
	client.SendMessage(domain.NewErrorMessage(code, domain.ErrorText(code)))
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}
