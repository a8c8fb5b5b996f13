// Package hub routes messages to the WebSocket clients attached to this
// process. It knows nothing about authorization or cluster-wide state;
// the registry is authoritative, the hub only delivers locally.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/config"
	"github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

type Hub struct {
	clients    map[string]*Client            // connID -> client
	rooms      map[string]map[string]*Client // roomID -> connID -> client
	identities map[string]map[string]*Client // identityID -> connID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound
	config     config.WebSocketConfig
	mu         sync.RWMutex
}

type outbound struct {
	RoomID     string
	IdentityID string
	Message    []byte
	Exclude    string // connID to skip
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		identities: make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		config:     cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			if _, ok := h.identities[client.Identity.ID]; !ok {
				h.identities[client.Identity.ID] = make(map[string]*Client)
			}
			h.identities[client.Identity.ID][client.ConnID] = client
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldConnID, client.ConnID).
				Str(log.FieldIdentityID, client.Identity.ID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ConnID]; ok {
				for roomID, members := range h.rooms {
					delete(members, client.ConnID)
					if len(members) == 0 {
						delete(h.rooms, roomID)
					}
				}
				if conns, ok := h.identities[client.Identity.ID]; ok {
					delete(conns, client.ConnID)
					if len(conns) == 0 {
						delete(h.identities, client.Identity.ID)
					}
				}
				delete(h.clients, client.ConnID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().Str(log.FieldConnID, client.ConnID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets map[string]*Client
	if msg.RoomID != "" {
		targets = h.rooms[msg.RoomID]
	} else {
		targets = h.identities[msg.IdentityID]
	}
	for connID, client := range targets {
		if connID == msg.Exclude {
			continue
		}
		select {
		case client.Send <- msg.Message:
		default:
			// Slow consumer; drop the socket rather than block the hub.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom attaches a local socket to a room's delivery set.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ConnID] = client
}

// LeaveRoom detaches a local socket from a room's delivery set.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ConnID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// BroadcastToRoom sends a message to every local socket in a room,
// optionally skipping one connection.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &outbound{RoomID: roomID, Message: data, Exclude: exclude}
	return nil
}

// BroadcastToIdentity sends a message to every local socket of one
// identity, across all its tabs.
func (h *Hub) BroadcastToIdentity(identityID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.broadcast <- &outbound{IdentityID: identityID, Message: data}
	return nil
}

// RoomClientCount returns the number of local sockets in a room.
func (h *Hub) RoomClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
