package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

type testServer struct {
	hub    *Hub
	store  *store.MemoryStore
	tokens *auth.Tokens
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.NewMemoryStore(time.Minute)
	tokens := auth.NewTokens("test-secret", time.Hour)
	h := New(zerolog.Nop(), st, tokens, auth.Policy{AdminBypassWindow: true}, 50)

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		h.Shutdown(time.Second)
	})
	return &testServer{hub: h, store: st, tokens: tokens, srv: srv}
}

func (ts *testServer) createUser(t *testing.T, username, role string) *models.User {
	t.Helper()
	user, err := ts.store.CreateUser(context.Background(), username, username, "hash", role)
	if err != nil {
		t.Fatal(err)
	}
	return user
}

func (ts *testServer) dial(t *testing.T, user *models.User) *websocket.Conn {
	t.Helper()
	token, err := ts.tokens.Issue(user)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendCommand(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}
}

// readUntil reads frames until an event of the wanted type arrives,
// skipping interleaved presence and typing noise.
func readUntil(t *testing.T, conn *websocket.Conn, want EventType) *Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s event: %v", want, err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type == want {
			return &ev
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, room string) *Event {
	t.Helper()
	sendCommand(t, conn, Command{Type: CmdJoin, Room: room})
	// The history reply confirms the join is fully processed.
	return readUntil(t, conn, EventHistory)
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("dial without token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %v", resp)
	}

	if _, resp, err := websocket.DefaultDialer.Dial(url+"/?token=garbage", nil); err == nil {
		t.Fatal("dial with garbage token should fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %v", resp)
	}
}

func TestBannedUserCannotReconnect(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)

	// A normal session, then a ban lands and the connection is dropped.
	conn := ts.dial(t, alice)
	join(t, conn, "general")

	if err := ts.store.SetUserBanned(context.Background(), alice.ID, true); err != nil {
		t.Fatal(err)
	}
	if dropped := ts.hub.DisconnectUser(alice.ID, "account banned"); dropped != 1 {
		t.Fatalf("expected 1 dropped connection, got %d", dropped)
	}

	// The still-valid token must not get the banned account back on.
	token, err := ts.tokens.Issue(alice)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?token=" + token
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("banned user's re-dial should be refused")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake for banned account, got %v", resp)
	}

	if ts.hub.Tracker().UserOnline(alice.ID) {
		t.Fatal("banned user must not appear online")
	}
}

func TestJoinReplaysHistory(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		if _, err := ts.store.AppendMessage(ctx, "general", alice, content, models.ContentTypeText); err != nil {
			t.Fatal(err)
		}
	}

	conn := ts.dial(t, alice)
	ev := join(t, conn, "general")

	if ev.Room != "general" {
		t.Fatalf("expected room general, got %q", ev.Room)
	}
	if len(ev.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ev.Messages))
	}
	for i := 1; i < len(ev.Messages); i++ {
		if ev.Messages[i].ID <= ev.Messages[i-1].ID {
			t.Fatal("history must be in ascending id order")
		}
	}
	if ev.Messages[0].Content != "one" {
		t.Fatalf("expected oldest message first, got %q", ev.Messages[0].Content)
	}
}

func TestSendFanOut(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	alicePhone := ts.dial(t, alice) // second device, same user
	bobConn := ts.dial(t, bob)
	join(t, aliceConn, "general")
	join(t, alicePhone, "general")
	join(t, bobConn, "general")

	sendCommand(t, aliceConn, Command{Type: CmdSend, Room: "general", Content: "hello bob"})

	for _, conn := range []*websocket.Conn{aliceConn, alicePhone, bobConn} {
		ev := readUntil(t, conn, EventMessage)
		if ev.Message == nil {
			t.Fatal("message event missing payload")
		}
		if ev.Message.Content != "hello bob" {
			t.Fatalf("expected content %q, got %q", "hello bob", ev.Message.Content)
		}
		if ev.Message.SenderID != alice.ID.String() {
			t.Fatalf("wrong sender %q", ev.Message.SenderID)
		}
	}

	// A second message carries a higher id for every observer.
	sendCommand(t, bobConn, Command{Type: CmdSend, Room: "general", Content: "hi alice"})
	first := readUntil(t, aliceConn, EventMessage)
	if first.Message.Content != "hi alice" {
		t.Fatalf("expected second message, got %q", first.Message.Content)
	}
}

func TestJoinSeesEachMessageExactlyOnce(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	join(t, aliceConn, "general")

	// Keep a send stream running while bob joins mid-flight.
	streamErr := make(chan error, 1)
	go func() {
		for i := 0; i < 30; i++ {
			if err := aliceConn.WriteJSON(Command{Type: CmdSend, Room: "general", Content: "tick"}); err != nil {
				streamErr <- err
				return
			}
		}
		streamErr <- aliceConn.WriteJSON(Command{Type: CmdSend, Room: "general", Content: "done"})
	}()

	bobConn := ts.dial(t, bob)
	history := join(t, bobConn, "general")

	seen := make(map[int64]bool)
	var last int64
	for _, msg := range history.Messages {
		seen[msg.ID] = true
		last = msg.ID
	}

	// Every message lands exactly once: in the history snapshot or live,
	// and the live stream picks up right where the snapshot ended.
	for {
		ev := readUntil(t, bobConn, EventMessage)
		if seen[ev.Message.ID] {
			t.Fatalf("message %d delivered both in history and live", ev.Message.ID)
		}
		if ev.Message.ID <= last {
			t.Fatalf("live message %d not after %d", ev.Message.ID, last)
		}
		last = ev.Message.ID
		if ev.Message.Content == "done" {
			break
		}
	}

	if err := <-streamErr; err != nil {
		t.Fatal(err)
	}
}

func TestRetractBroadcastAndTombstone(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	bobConn := ts.dial(t, bob)
	join(t, aliceConn, "general")
	join(t, bobConn, "general")

	sendCommand(t, aliceConn, Command{Type: CmdSend, Room: "general", Content: "oops"})
	msg := readUntil(t, aliceConn, EventMessage).Message
	readUntil(t, bobConn, EventMessage)

	sendCommand(t, aliceConn, Command{Type: CmdRetract, MessageID: msg.ID})

	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		ev := readUntil(t, conn, EventRetracted)
		if ev.MessageID != msg.ID {
			t.Fatalf("expected retraction of %d, got %d", msg.ID, ev.MessageID)
		}
		if ev.Message != nil {
			t.Fatal("retracted event must not echo content")
		}
	}

	// A late joiner sees the tombstone, never the original content.
	carol := ts.createUser(t, "carol", auth.RoleUser)
	carolConn := ts.dial(t, carol)
	history := join(t, carolConn, "general")
	if len(history.Messages) != 1 {
		t.Fatalf("expected 1 message in history, got %d", len(history.Messages))
	}
	if history.Messages[0].Content != models.Tombstone {
		t.Fatalf("expected tombstone, got %q", history.Messages[0].Content)
	}
}

func TestRetractDeniedForNonOwner(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	bobConn := ts.dial(t, bob)
	join(t, aliceConn, "general")
	join(t, bobConn, "general")

	sendCommand(t, aliceConn, Command{Type: CmdSend, Room: "general", Content: "mine"})
	msg := readUntil(t, bobConn, EventMessage).Message

	sendCommand(t, bobConn, Command{Type: CmdRetract, MessageID: msg.ID})
	ev := readUntil(t, bobConn, EventError)
	if ev.Code != "not_owner_or_admin" {
		t.Fatalf("expected not_owner_or_admin, got %q", ev.Code)
	}
}

func TestAdminRetractsOtherUsersMessage(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	admin := ts.createUser(t, "mod", auth.RoleAdmin)

	aliceConn := ts.dial(t, alice)
	adminConn := ts.dial(t, admin)
	join(t, aliceConn, "general")
	join(t, adminConn, "general")

	sendCommand(t, aliceConn, Command{Type: CmdSend, Room: "general", Content: "spam"})
	msg := readUntil(t, adminConn, EventMessage).Message

	sendCommand(t, adminConn, Command{Type: CmdRetract, MessageID: msg.ID})
	ev := readUntil(t, aliceConn, EventRetracted)
	if ev.MessageID != msg.ID {
		t.Fatalf("expected retraction of %d, got %d", msg.ID, ev.MessageID)
	}
}

func TestLockedSenderDenied(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)

	conn := ts.dial(t, alice)
	join(t, conn, "general")

	// The lock lands mid-session and applies to the very next send.
	if err := ts.store.SetUserLocked(context.Background(), alice.ID, true); err != nil {
		t.Fatal(err)
	}

	sendCommand(t, conn, Command{Type: CmdSend, Room: "general", Content: "still here?"})
	ev := readUntil(t, conn, EventError)
	if ev.Code != "locked" {
		t.Fatalf("expected locked denial, got %q", ev.Code)
	}

	history, err := ts.store.RoomHistory(context.Background(), "general", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Fatal("denied send must not be stored")
	}
}

func TestPresenceEvents(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	join(t, aliceConn, "general")

	bobConn := ts.dial(t, bob)
	join(t, bobConn, "general")

	ev := readUntil(t, aliceConn, EventPresence)
	if ev.UserID != bob.ID.String() {
		t.Fatalf("expected presence for bob, got %q", ev.Username)
	}
	if ev.Online == nil || !*ev.Online {
		t.Fatal("expected online presence")
	}

	bobConn.Close()
	ev = readUntil(t, aliceConn, EventPresence)
	if ev.UserID != bob.ID.String() || ev.Online == nil || *ev.Online {
		t.Fatal("expected offline presence for bob")
	}
}

func TestTypingBroadcastExcludesSender(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	bob := ts.createUser(t, "bob", auth.RoleUser)

	aliceConn := ts.dial(t, alice)
	bobConn := ts.dial(t, bob)
	join(t, aliceConn, "general")
	join(t, bobConn, "general")

	sendCommand(t, aliceConn, Command{Type: CmdTyping, Room: "general"})
	ev := readUntil(t, bobConn, EventTyping)
	if ev.UserID != alice.ID.String() {
		t.Fatalf("expected typing from alice, got %q", ev.Username)
	}
}

func TestBadCommands(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice", auth.RoleUser)
	conn := ts.dial(t, alice)

	sendCommand(t, conn, Command{Type: "dance"})
	if ev := readUntil(t, conn, EventError); ev.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q", ev.Code)
	}

	sendCommand(t, conn, Command{Type: CmdJoin, Room: "no spaces allowed"})
	if ev := readUntil(t, conn, EventError); ev.Code != "bad_request" {
		t.Fatalf("expected bad_request for invalid room, got %q", ev.Code)
	}

	sendCommand(t, conn, Command{Type: CmdSend, Room: "general", Content: "   "})
	if ev := readUntil(t, conn, EventError); ev.Code != "bad_request" {
		t.Fatalf("expected bad_request for empty content, got %q", ev.Code)
	}

	sendCommand(t, conn, Command{Type: CmdRetract, MessageID: 404})
	if ev := readUntil(t, conn, EventError); ev.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", ev.Code)
	}
}
