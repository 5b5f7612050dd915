package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Client wraps one chat connection. Writes are serialized by a
// per-client mutex so the hub and the session's own goroutine can both
// send safely.
type Client struct {
	SessionID string
	DeviceID  string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(sessionID, deviceID string, conn *websocket.Conn) *Client {
	return &Client{SessionID: sessionID, DeviceID: deviceID, conn: conn}
}

// Send writes one JSON frame with a bounded deadline.
func (c *Client) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(payload)
}

// Kick sends a final frame (best effort) and closes the connection,
// which unblocks the session's read loop.
func (c *Client) Kick(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(payload)
	_ = c.conn.Close()
}

// Hub tracks active chat connections keyed by session id and fans
// frames out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds a connection for the given session.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.SessionID] = c
	h.mu.Unlock()
}

// Unregister removes the session's connection.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	delete(h.clients, sessionID)
	h.mu.Unlock()
}

// Broadcast sends the payload to every connected session. Failed
// connections are closed; their read loops clean up the registration.
func (h *Hub) Broadcast(payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if err := c.Send(payload); err != nil {
			c.mu.Lock()
			_ = c.conn.Close()
			c.mu.Unlock()
		}
	}
}

// KickDevice sends a final frame to every connection of the device and
// closes them. Used for ban propagation.
func (h *Hub) KickDevice(deviceID string, payload any) {
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.clients {
		if c.DeviceID == deviceID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Kick(payload)
	}
}
