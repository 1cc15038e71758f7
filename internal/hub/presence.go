package hub

import (
	"sync"

	"github.com/google/uuid"
)

// Tracker owns the presence maps: which connections a user has, which
// connections occupy a room, and which rooms a connection joined. All
// access goes through its methods; nothing else touches the maps. Presence
// is derived purely from connection lifecycle calls, so "who appears
// online" can never drift from "who is connected".
type Tracker struct {
	mu        sync.Mutex
	userConns map[uuid.UUID]map[*Client]struct{}
	roomConns map[string]map[*Client]struct{}
	connRooms map[*Client]map[string]struct{}
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		userConns: make(map[uuid.UUID]map[*Client]struct{}),
		roomConns: make(map[string]map[*Client]struct{}),
		connRooms: make(map[*Client]map[string]struct{}),
	}
}

// Register adds a connection to its user's connection set and reports
// whether the user just came online (first connection).
func (t *Tracker) Register(c *Client) (online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns, ok := t.userConns[c.user.ID]
	if !ok {
		conns = make(map[*Client]struct{})
		t.userConns[c.user.ID] = conns
	}
	conns[c] = struct{}{}
	t.connRooms[c] = make(map[string]struct{})
	return len(conns) == 1
}

// Join adds a connection to a room. Idempotent. Reports whether this made
// the user newly present in the room (no other connection of the same user
// was there before).
func (t *Tracker) Join(c *Client, room string) (first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.connRooms[c]
	if !ok {
		// Connection already disconnected.
		return false
	}
	if _, joined := rooms[room]; joined {
		return false
	}

	first = !t.userInRoomLocked(c.user.ID, room)

	conns, ok := t.roomConns[room]
	if !ok {
		conns = make(map[*Client]struct{})
		t.roomConns[room] = conns
	}
	conns[c] = struct{}{}
	rooms[room] = struct{}{}
	return first
}

// Leave removes a connection from a room. Reports whether the user has no
// remaining connection in that room.
func (t *Tracker) Leave(c *Client, room string) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveLocked(c, room)
}

func (t *Tracker) leaveLocked(c *Client, room string) (last bool) {
	rooms, ok := t.connRooms[c]
	if !ok {
		return false
	}
	if _, joined := rooms[room]; !joined {
		return false
	}
	delete(rooms, room)

	if conns, ok := t.roomConns[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(t.roomConns, room)
		}
	}
	return !t.userInRoomLocked(c.user.ID, room)
}

// Disconnect removes a connection from every room and from the user map.
// It returns the rooms the user is no longer present in, and whether the
// user went offline (last connection gone).
func (t *Tracker) Disconnect(c *Client) (left []string, offline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.connRooms[c]
	if !ok {
		return nil, false
	}
	for room := range rooms {
		if t.leaveLocked(c, room) {
			left = append(left, room)
		}
	}
	delete(t.connRooms, c)

	if conns, ok := t.userConns[c.user.ID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(t.userConns, c.user.ID)
			offline = true
		}
	}
	return left, offline
}

func (t *Tracker) userInRoomLocked(userID uuid.UUID, room string) bool {
	for conn := range t.roomConns[room] {
		if conn.user.ID == userID {
			return true
		}
	}
	return false
}

// RoomClients returns a snapshot of the connections joined to a room.
func (t *Tracker) RoomClients(room string) []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := t.roomConns[room]
	clients := make([]*Client, 0, len(conns))
	for c := range conns {
		clients = append(clients, c)
	}
	return clients
}

// InRoom reports whether the connection currently has the room joined.
func (t *Tracker) InRoom(c *Client, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rooms, ok := t.connRooms[c]
	if !ok {
		return false
	}
	_, joined := rooms[room]
	return joined
}

// UserOnline reports whether the user has at least one open connection.
func (t *Tracker) UserOnline(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.userConns[userID]) > 0
}

// Counts returns the number of open connections and distinct online users.
func (t *Tracker) Counts() (connections, users int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, conns := range t.userConns {
		connections += len(conns)
	}
	return connections, len(t.userConns)
}

// UserClients returns a snapshot of the user's open connections.
func (t *Tracker) UserClients(userID uuid.UUID) []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	clients := make([]*Client, 0, len(t.userConns[userID]))
	for c := range t.userConns[userID] {
		clients = append(clients, c)
	}
	return clients
}

// AllClients returns a snapshot of every registered connection.
func (t *Tracker) AllClients() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	clients := make([]*Client, 0, len(t.connRooms))
	for c := range t.connRooms {
		clients = append(clients, c)
	}
	return clients
}
