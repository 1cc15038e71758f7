package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/hub"
	"github.com/eldtechnologies/parley/internal/store"
)

// Username validation: alphanumeric, hyphens, underscores, 3-32 chars.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// Room name validation: alphanumeric, hyphens, underscores, 1-50 chars.
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.Store
	redis  *store.RedisStore
	tokens *auth.Tokens
	policy auth.Policy
	hub    *hub.Hub
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(st store.Store, redis *store.RedisStore, tokens *auth.Tokens, policy auth.Policy, h *hub.Hub, logger zerolog.Logger) *Handler {
	return &Handler{store: st, redis: redis, tokens: tokens, policy: policy, hub: h, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits display names to 100 characters, removing
// control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 100 {
		name = name[:100]
	}

	return name
}
