package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 8 * 1024
	sendQueueSize  = 64
)

// Client represents one WebSocket connection owned by an authenticated
// user. A user may have any number of concurrent clients (multi-device).
type Client struct {
	id     string
	user   *models.User
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, user *models.User) *Client {
	id := ulid.Make().String()
	return &Client{
		id:   id,
		user: user,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		logger: h.logger.With().
			Str("conn_id", id).
			Str("user_id", user.ID.String()).
			Str("username", user.Username).
			Logger(),
	}
}

// deliver queues an encoded event for the write pump without blocking.
// It returns false when the client is closed or its queue is full; the
// caller treats that as a disconnect.
func (c *Client) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// markClosed flips the closed flag and closes the send channel exactly
// once. Callers must go through Hub.dropClient, which serializes this with
// presence removal.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.dropClient(c, "read loop ended")
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.sendEvent(errorEvent("bad_request", "invalid JSON frame"))
			continue
		}
		c.hub.handleCommand(c, &cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent delivers an event to this client only. A full queue drops the
// client rather than stalling the caller.
func (c *Client) sendEvent(ev *Event) {
	if !c.deliver(ev.encode()) {
		c.hub.dropClient(c, "send queue full")
	}
}
