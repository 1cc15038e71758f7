package hub

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/parley/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth gates the connection; browser clients connect from
	// anywhere, same as the REST surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS authenticates the handshake and upgrades it to a WebSocket
// connection. A missing or invalid token rejects the connection before the
// upgrade; the client must reconnect with a fresh token.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := handshakeToken(r)
	if token == "" {
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
		return
	}

	identity, err := h.tokens.Validate(token)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}

	ctx, cancel := h.opCtx()
	defer cancel()
	user, err := h.store.GetUserByID(ctx, identity.UserID)
	if err != nil {
		http.Error(w, `{"error":"directory lookup failed"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		http.Error(w, `{"error":"unknown account"}`, http.StatusUnauthorized)
		return
	}
	// A valid token does not outlive a ban; the fresh row decides.
	if user.Banned {
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		http.Error(w, `{"error":"account is banned"}`, http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.register(newClient(h, conn, user))
}

// handshakeToken extracts the credential from the query string or the
// Authorization header.
func handshakeToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
