package hub

import (
	"encoding/json"

	"github.com/eldtechnologies/parley/internal/models"
)

// EventType tags a server-to-client event.
type EventType string

const (
	EventHistory   EventType = "history"
	EventMessage   EventType = "message"
	EventRetracted EventType = "retracted"
	EventPresence  EventType = "presence"
	EventTyping    EventType = "typing"
	EventError     EventType = "error"
)

// Event is the tagged union delivered to clients. Deciding what happened
// and putting it on the wire are separate steps: handlers build Events,
// per-connection send queues carry the encoded bytes.
type Event struct {
	Type      EventType         `json:"type"`
	Room      string            `json:"room,omitempty"`
	Message   *models.Message   `json:"message,omitempty"`
	Messages  []models.Message  `json:"messages,omitempty"`
	MessageID int64             `json:"message_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Online    *bool             `json:"online,omitempty"`
	Code      string            `json:"code,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (e *Event) encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		// Event fields are all marshalable types; this cannot fail at runtime.
		panic(err)
	}
	return data
}

func historyEvent(room string, messages []models.Message) *Event {
	if messages == nil {
		messages = []models.Message{}
	}
	return &Event{Type: EventHistory, Room: room, Messages: messages}
}

func messageEvent(msg *models.Message) *Event {
	return &Event{Type: EventMessage, Room: msg.Room, Message: msg}
}

func retractedEvent(room string, messageID int64) *Event {
	return &Event{Type: EventRetracted, Room: room, MessageID: messageID}
}

func presenceEvent(room, userID, username string, online bool) *Event {
	return &Event{Type: EventPresence, Room: room, UserID: userID, Username: username, Online: &online}
}

func typingEvent(room, userID, username string) *Event {
	return &Event{Type: EventTyping, Room: room, UserID: userID, Username: username}
}

func errorEvent(code, message string) *Event {
	return &Event{Type: EventError, Code: code, Error: message}
}

// Command types accepted from clients.
const (
	CmdJoin    = "join"
	CmdLeave   = "leave"
	CmdSend    = "send"
	CmdRetract = "retract"
	CmdTyping  = "typing"
)

// Command is a client-to-server request frame.
type Command struct {
	Type        string `json:"type"`
	Room        string `json:"room,omitempty"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	MessageID   int64  `json:"message_id,omitempty"`
}
