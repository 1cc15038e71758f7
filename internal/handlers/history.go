package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/parley/internal/models"
)

const maxHistoryLimit = 200

// HistoryResponse represents a page of room history.
type HistoryResponse struct {
	Room     string           `json:"room"`
	Messages []models.Message `json:"messages"`
}

// History returns room messages in ascending ID order. The optional
// `before` cursor pages backwards: pass the lowest ID of the previous
// page to fetch the page preceding it. Retracted messages appear with
// tombstoned content so clients converge on the same transcript.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if !roomNameRegex.MatchString(room) {
		h.Error(w, http.StatusBadRequest, "invalid room name")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var beforeID int64
	if s := r.URL.Query().Get("before"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 1 {
			h.Error(w, http.StatusBadRequest, "invalid before cursor")
			return
		}
		beforeID = n
	}

	messages, err := h.store.RoomHistory(r.Context(), room, limit, beforeID)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room).Msg("history query failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, HistoryResponse{Room: room, Messages: messages})
}
