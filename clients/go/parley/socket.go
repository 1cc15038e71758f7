package parley

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Event is a server-to-client frame on the live connection.
type Event struct {
	Type      string    `json:"type"`
	Room      string    `json:"room,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	MessageID int64     `json:"message_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Online    *bool     `json:"online,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Socket is a live connection to the chat gateway.
type Socket struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
}

// Connect opens the WebSocket gateway using the client's saved token.
func (c *Client) Connect() (*Socket, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("not logged in")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = "token=" + url.QueryEscape(c.Token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Events returns the channel of incoming events. It is closed when the
// connection drops.
func (s *Socket) Events() <-chan Event {
	return s.events
}

func (s *Socket) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Socket) send(cmd interface{}) error {
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(cmd)
}

// Join subscribes to a room. The server replies with a history event.
func (s *Socket) Join(room string) error {
	return s.send(map[string]string{"type": "join", "room": room})
}

// Leave unsubscribes from a room.
func (s *Socket) Leave(room string) error {
	return s.send(map[string]string{"type": "leave", "room": room})
}

// Send publishes a text message to a joined room.
func (s *Socket) Send(room, content string) error {
	return s.send(map[string]string{
		"type":         "send",
		"room":         room,
		"content":      content,
		"content_type": "text",
	})
}

// Retract asks the server to retract a message.
func (s *Socket) Retract(messageID int64) error {
	return s.send(map[string]interface{}{"type": "retract", "message_id": messageID})
}

// Typing broadcasts a typing notification to a joined room.
func (s *Socket) Typing(room string) error {
	return s.send(map[string]string{"type": "typing", "room": room})
}

// Close shuts the connection down.
func (s *Socket) Close() error {
	close(s.done)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
