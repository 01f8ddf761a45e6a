package relay

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// KeyHeader carries the relay key on the upgrade request. The key query
// parameter is accepted as well.
const KeyHeader = "X-Relay-Key"

// WebSocketHandler handles websocket upgrade requests for rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	key               string
}

// NewWebSocketHandler creates a new websocket handler. An empty key accepts
// every connection.
func NewWebSocketHandler(cm *ConnectionManager, key string) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		key:               key,
	}
}

func (h *WebSocketHandler) authorized(r *http.Request) bool {
	if h.key == "" {
		return true
	}
	got := r.Header.Get(KeyHeader)
	if got == "" {
		got = r.URL.Query().Get("key")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.key)) == 1
}

// HandleRoomConnection handles websocket connections for a room
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		log.Warn().Str("remote", r.RemoteAddr).Msg("rejected relay connection with bad key")
		http.Error(w, "invalid relay key", http.StatusUnauthorized)
		return
	}

	room := r.URL.Query().Get("room")
	if room == "" {
		http.Error(w, "room is required", http.StatusBadRequest)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, room); err != nil {
		// The upgrader has already written the response
		log.Error().
			Err(err).
			Str("room", room).
			Msg("failed to upgrade websocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// RegisterRoutes registers websocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/rooms", h.HandleRoomConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}
