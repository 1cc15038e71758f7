// Package hub implements the real-time gateway: authenticated WebSocket
// connections, room join/leave with history replay, message fan-out,
// retraction broadcast, and typing/presence events.
package hub

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
	"github.com/eldtechnologies/parley/internal/store"
)

// Room name validation: alphanumeric, hyphens, underscores, 1-50 chars.
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

const maxContentBytes = 4096

// storeTimeout bounds every store call made on behalf of one frame.
const storeTimeout = 5 * time.Second

// Hub coordinates all live connections. Presence lives in the Tracker;
// the hub itself only holds the publish mutex that keeps store mutations
// and their fan-out in the same order for every observer in a room.
type Hub struct {
	logger       zerolog.Logger
	store        store.Store
	tokens       *auth.Tokens
	policy       auth.Policy
	tracker      *Tracker
	historyLimit int

	publishMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a hub backed by the given store and token validator.
func New(logger zerolog.Logger, st store.Store, tokens *auth.Tokens, policy auth.Policy, historyLimit int) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:       logger.With().Str("component", "hub").Logger(),
		store:        st,
		tokens:       tokens,
		policy:       policy,
		tracker:      NewTracker(),
		historyLimit: historyLimit,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Tracker exposes the presence tracker for health and admin surfaces.
func (h *Hub) Tracker() *Tracker {
	return h.tracker
}

func (h *Hub) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(h.ctx, storeTimeout)
}

// register adds an authenticated connection and starts its pumps.
func (h *Hub) register(c *Client) {
	h.tracker.Register(c)

	conns, users := h.tracker.Counts()
	metrics.WSConnections.Set(float64(conns))
	metrics.UsersOnline.Set(float64(users))

	c.logger.Info().Int("connections", conns).Msg("client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

// dropClient runs the disconnect path exactly once for a connection,
// whatever triggered it: clean close, read error, timeout, or a send
// queue that filled up.
func (h *Hub) dropClient(c *Client, reason string) {
	c.once.Do(func() {
		left, offline := h.tracker.Disconnect(c)
		c.markClosed()
		c.conn.Close()

		for _, room := range left {
			h.broadcastRoom(room, presenceEvent(room, c.user.ID.String(), c.user.DisplayName, false))
		}

		conns, users := h.tracker.Counts()
		metrics.WSConnections.Set(float64(conns))
		metrics.UsersOnline.Set(float64(users))
		if reason == "send queue full" {
			metrics.SlowConsumersDropped.Inc()
		}

		c.logger.Info().
			Str("reason", reason).
			Bool("offline", offline).
			Int("connections", conns).
			Msg("client disconnected")
	})
}

// broadcastRoom delivers an event to every connection joined to a room.
// Slow consumers are dropped after the sweep rather than stalling it.
func (h *Hub) broadcastRoom(room string, ev *Event) {
	h.broadcastRoomExcept(room, nil, ev)
}

func (h *Hub) broadcastRoomExcept(room string, except *Client, ev *Event) {
	data := ev.encode()

	var stalled []*Client
	for _, c := range h.tracker.RoomClients(room) {
		if c == except {
			continue
		}
		if !c.deliver(data) {
			stalled = append(stalled, c)
		}
	}
	for _, c := range stalled {
		h.dropClient(c, "send queue full")
	}
}

// handleCommand dispatches one client frame. Every failure surfaces as a
// private error event to the requester; nothing here takes down the room.
func (h *Hub) handleCommand(c *Client, cmd *Command) {
	switch cmd.Type {
	case CmdJoin:
		h.handleJoin(c, cmd.Room)
	case CmdLeave:
		h.handleLeave(c, cmd.Room)
	case CmdSend:
		h.handleSend(c, cmd)
	case CmdRetract:
		h.handleRetract(c, cmd.MessageID)
	case CmdTyping:
		h.handleTyping(c, cmd.Room)
	default:
		c.sendEvent(errorEvent("bad_request", "unknown command type"))
	}
}

func (h *Hub) handleJoin(c *Client, room string) {
	if !roomNameRegex.MatchString(room) {
		c.sendEvent(errorEvent("bad_request", "invalid room name"))
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()

	// Join, snapshot, and enqueue the replay under the publish mutex: the
	// history snapshot ends exactly where live fan-out begins, so a
	// concurrent append reaches this connection either in the history
	// event or as a live message event, never both.
	h.publishMu.Lock()
	if first := h.tracker.Join(c, room); first {
		h.broadcastRoom(room, presenceEvent(room, c.user.ID.String(), c.user.DisplayName, true))
	}
	messages, err := h.store.RoomHistory(ctx, room, h.historyLimit, 0)
	if err == nil {
		c.sendEvent(historyEvent(room, messages))
	}
	h.publishMu.Unlock()

	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("history replay failed")
		c.sendEvent(errorEvent("store_unavailable", "failed to load history"))
	}
}

func (h *Hub) handleLeave(c *Client, room string) {
	if last := h.tracker.Leave(c, room); last {
		h.broadcastRoom(room, presenceEvent(room, c.user.ID.String(), c.user.DisplayName, false))
	}
}

func (h *Hub) handleSend(c *Client, cmd *Command) {
	if !roomNameRegex.MatchString(cmd.Room) {
		c.sendEvent(errorEvent("bad_request", "invalid room name"))
		return
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		c.sendEvent(errorEvent("bad_request", "content is required"))
		return
	}
	if len(content) > maxContentBytes {
		c.sendEvent(errorEvent("bad_request", "content too long"))
		return
	}
	contentType := cmd.ContentType
	if contentType == "" {
		contentType = models.ContentTypeText
	}

	// Account status is read fresh for every send; a lock or ban applies
	// to the very next message.
	sender, err := h.freshUser(c)
	if err != nil {
		c.sendEvent(errorEvent("store_unavailable", "failed to verify account"))
		return
	}
	if sender == nil {
		c.sendEvent(errorEvent("auth_failed", "account no longer exists"))
		return
	}
	if err := h.policy.CanSend(sender); err != nil {
		c.sendEvent(denialEvent(err))
		return
	}

	// Append and fan-out under the publish mutex so every connection in
	// the room observes events in store order.
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	ctx, cancel := h.opCtx()
	defer cancel()
	msg, err := h.store.AppendMessage(ctx, cmd.Room, sender, content, contentType)
	if err != nil {
		h.logger.Error().Err(err).Str("room", cmd.Room).Msg("message append failed")
		c.sendEvent(errorEvent("store_unavailable", "failed to store message"))
		return
	}

	h.broadcastRoom(cmd.Room, messageEvent(msg))
	metrics.MessagesSent.WithLabelValues(contentType).Inc()
}

func (h *Hub) handleRetract(c *Client, messageID int64) {
	ctx, cancel := h.opCtx()
	defer cancel()

	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		c.sendEvent(errorEvent("store_unavailable", "failed to load message"))
		return
	}
	if msg == nil {
		c.sendEvent(errorEvent("not_found", "message not found"))
		return
	}

	actor, err := h.freshUser(c)
	if err != nil {
		c.sendEvent(errorEvent("store_unavailable", "failed to verify account"))
		return
	}
	if actor == nil {
		c.sendEvent(errorEvent("auth_failed", "account no longer exists"))
		return
	}
	if err := h.policy.CanRetract(actor, msg, time.Now()); err != nil {
		c.sendEvent(denialEvent(err))
		return
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if err := h.store.RetractMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.sendEvent(errorEvent("not_found", "message not found"))
			return
		}
		h.logger.Error().Err(err).Int64("message_id", messageID).Msg("retract failed")
		c.sendEvent(errorEvent("store_unavailable", "failed to retract message"))
		return
	}

	// Identifier only; the content is never echoed back out. Connections
	// that joined after the original message simply ignore unknown ids.
	h.broadcastRoom(msg.Room, retractedEvent(msg.Room, messageID))
	metrics.Retractions.Inc()

	h.logger.Info().
		Int64("message_id", messageID).
		Str("room", msg.Room).
		Str("actor", actor.ID.String()).
		Bool("moderator", actor.ID.String() != msg.SenderID).
		Msg("message retracted")
}

func (h *Hub) handleTyping(c *Client, room string) {
	if !h.tracker.InRoom(c, room) {
		return
	}
	h.broadcastRoomExcept(room, c, typingEvent(room, c.user.ID.String(), c.user.DisplayName))
}

// freshUser reloads the connection's user row from the directory.
func (h *Hub) freshUser(c *Client) (*models.User, error) {
	ctx, cancel := h.opCtx()
	defer cancel()
	return h.store.GetUserByID(ctx, c.user.ID)
}

func denialEvent(err error) *Event {
	var d *auth.Denial
	if errors.As(err, &d) {
		return errorEvent(d.Code, d.Message)
	}
	return errorEvent("forbidden", "not allowed")
}

// DisconnectUser closes every open connection for the user. Called by the
// moderation surface when an account is banned.
func (h *Hub) DisconnectUser(userID uuid.UUID, reason string) int {
	clients := h.tracker.UserClients(userID)
	for _, c := range clients {
		h.dropClient(c, reason)
	}
	return len(clients)
}

// Shutdown closes every connection and waits for the pumps to finish,
// up to the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	for _, c := range h.tracker.AllClients() {
		h.dropClient(c, "server shutdown")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
