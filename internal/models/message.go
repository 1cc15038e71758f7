package models

// Content types understood by clients. ContentTypeText carries the message
// body inline; other types carry a reference (URL) to the payload.
const (
	ContentTypeText  = "text"
	ContentTypeVoice = "voice"
)

// Tombstone replaces the content of a retracted message on every read path.
const Tombstone = "[message retracted]"

// Message represents a chat message in a room. IDs are assigned by the
// store and are strictly increasing across all rooms.
type Message struct {
	ID              int64  `json:"id"`
	Room            string `json:"room"`
	SenderID        string `json:"sender_id"`
	SenderName      string `json:"sender_name"`
	Content         string `json:"content"`
	ContentType     string `json:"content_type"`
	CreatedAt       int64  `json:"created_at"` // Unix ms
	RetractDeadline int64  `json:"retract_deadline,omitempty"`
	Retracted       bool   `json:"retracted"`
}

// ApplyTombstone replaces the content of a retracted message. Read paths
// call this before handing the message to any client.
func (m *Message) ApplyTombstone() {
	if m.Retracted {
		m.Content = Tombstone
	}
}
