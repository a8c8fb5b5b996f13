package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boyrevue/api.boyvue.com-sub001/internal/config"
	"github.com/boyrevue/api.boyvue.com-sub001/internal/domain"
	"github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// Client is one authenticated WebSocket connection. An identity with
// several tabs open has one Client per tab.
type Client struct {
	ConnID   string
	Identity domain.Identity
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	config   config.WebSocketConfig

	// OnPong runs on every pong from the peer, after the read deadline
	// is extended. Set before ReadPump starts.
	OnPong func()

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewClient(connID string, id domain.Identity, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	return &Client{
		ConnID:   connID,
		Identity: id,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		config:   cfg,
		rooms:    make(map[string]struct{}),
	}
}

// TrackRoom remembers a room this socket joined, for the local delivery
// set only.
func (c *Client) TrackRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

// UntrackRoom forgets a room this socket left.
func (c *Client) UntrackRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Rooms returns the rooms this socket is currently tracking.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		if c.OnPong != nil {
			c.OnPong()
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Debug().Str(log.FieldConnID, c.ConnID).Err(err).Msg("websocket read error")
			}
			break
		}
		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage marshals and queues a message for this socket. A full send
// buffer drops the message; the read loop owns connection teardown.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.Send <- data:
	default:
	}
	return nil
}
