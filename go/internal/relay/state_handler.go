package relay

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// StateHandler serves the cached room states over HTTP
type StateHandler struct {
	cache *RoomStateCache
}

// NewStateHandler creates a new state handler
func NewStateHandler(cache *RoomStateCache) *StateHandler {
	return &StateHandler{cache: cache}
}

// HandleRoomState returns the last timer state of a room
func (h *StateHandler) HandleRoomState(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	st, ok := h.cache.Get(room)
	if !ok {
		writeError(w, http.StatusNotFound, "no state for room")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleRooms lists every room with cached state
func (h *StateHandler) HandleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.cache.List()})
}

// RegisterStateRoutes registers state API routes
func (h *StateHandler) RegisterStateRoutes(r chi.Router) {
	r.Get("/api/rooms", h.HandleRooms)
	r.Get("/api/rooms/{room}/state", h.HandleRoomState)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
