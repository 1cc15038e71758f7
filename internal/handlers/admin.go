package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/auth"
	"github.com/eldtechnologies/parley/internal/metrics"
	"github.com/eldtechnologies/parley/internal/models"
)

// targetUser resolves the {id} path parameter and checks that the acting
// admin outranks the target. Returns nil after writing the error response.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) (*models.User, *models.User) {
	actor := middleware.GetUserFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, nil
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return nil, nil
	}

	target, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, nil
	}
	if target == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return nil, nil
	}

	if err := h.policy.CanModerate(actor, target.Role); err != nil {
		h.denial(w, err)
		return nil, nil
	}
	return actor, target
}

// denial maps a policy denial to a 403 with its wire code.
func (h *Handler) denial(w http.ResponseWriter, err error) {
	if d, ok := err.(*auth.Denial); ok {
		h.JSON(w, http.StatusForbidden, map[string]string{"error": d.Message, "code": d.Code})
		return
	}
	h.Error(w, http.StatusForbidden, "not allowed")
}

// LockUser sets or clears the lock flag on an account. A locked account
// keeps its sessions but every send is refused from the next message on.
func (h *Handler) LockUser(w http.ResponseWriter, r *http.Request) {
	actor, target := h.targetUser(w, r)
	if target == nil {
		return
	}

	var req struct {
		Locked bool `json:"locked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.store.SetUserLocked(r.Context(), target.ID, req.Locked); err != nil {
		h.Error(w, http.StatusInternalServerError, "update failed")
		return
	}

	action := "lock"
	if !req.Locked {
		action = "unlock"
	}
	metrics.ModerationActions.WithLabelValues(action).Inc()
	h.logger.Info().
		Str("event", "moderation").
		Str("action", action).
		Str("actor", actor.Username).
		Str("target", target.Username).
		Msg("account lock changed")

	h.JSON(w, http.StatusOK, map[string]interface{}{"id": target.ID.String(), "locked": req.Locked})
}

// BanUser sets or clears the ban flag. Banning also drops the target's
// live connections; a banned account cannot log back in.
func (h *Handler) BanUser(w http.ResponseWriter, r *http.Request) {
	actor, target := h.targetUser(w, r)
	if target == nil {
		return
	}

	var req struct {
		Banned bool `json:"banned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.store.SetUserBanned(r.Context(), target.ID, req.Banned); err != nil {
		h.Error(w, http.StatusInternalServerError, "update failed")
		return
	}

	dropped := 0
	if req.Banned && h.hub != nil {
		dropped = h.hub.DisconnectUser(target.ID, "account banned")
	}

	action := "ban"
	if !req.Banned {
		action = "unban"
	}
	metrics.ModerationActions.WithLabelValues(action).Inc()
	h.logger.Info().
		Str("event", "moderation").
		Str("action", action).
		Str("actor", actor.Username).
		Str("target", target.Username).
		Int("connections_dropped", dropped).
		Msg("account ban changed")

	h.JSON(w, http.StatusOK, map[string]interface{}{"id": target.ID.String(), "banned": req.Banned})
}

// SetRole changes an account's role.
func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetUserFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	target, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if target == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.policy.CanGrantRole(actor, target.Role, req.Role); err != nil {
		h.denial(w, err)
		return
	}

	if err := h.store.SetUserRole(r.Context(), target.ID, req.Role); err != nil {
		h.Error(w, http.StatusInternalServerError, "update failed")
		return
	}

	metrics.ModerationActions.WithLabelValues("role_change").Inc()
	h.logger.Info().
		Str("event", "moderation").
		Str("action", "role_change").
		Str("actor", actor.Username).
		Str("target", target.Username).
		Str("role", req.Role).
		Msg("account role changed")

	h.JSON(w, http.StatusOK, map[string]interface{}{"id": target.ID.String(), "role": req.Role})
}

// ListUsersResponse represents a page of the user directory.
type ListUsersResponse struct {
	Users  []UserInfo `json:"users"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// ListUsers returns a page of accounts for the moderation console.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}

	users, total, err := h.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, UserInfo{
			ID:          u.ID.String(),
			Username:    u.Username,
			DisplayName: u.DisplayName,
			Role:        u.Role,
			Locked:      u.Locked,
			Banned:      u.Banned,
		})
	}

	h.JSON(w, http.StatusOK, ListUsersResponse{Users: infos, Total: total, Limit: limit, Offset: offset})
}
