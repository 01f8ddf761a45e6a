package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// ConnectionManager manages websocket connections grouped by room
type ConnectionManager struct {
	// Connection pools organized by sanitized room
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// instanceID prefixes connection origins so frames coming back through
	// JetStream can be matched to the connection that sent them.
	instanceID string

	broadcastCh chan BroadcastMessage

	// inbound handles frames read from clients; set by the service.
	inbound func(ctx context.Context, frame events.Frame)

	// joined is called with a new connection before its pumps start.
	joined func(conn *Connection)
}

// Connection represents a websocket connection to a window
type Connection struct {
	ID      string
	Room    string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	limiter *rate.Limiter

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for websocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	// Inbound frames per second allowed per connection, with burst.
	RateLimit   rate.Limit
	RateBurst   int
	CheckOrigin func(r *http.Request) bool
}

// BroadcastMessage is a frame to fan out to a room
type BroadcastMessage struct {
	Room  string
	Frame events.Frame
}

// DefaultConnectionConfig returns default websocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // snapshots carry the full stage list
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		RateLimit:       20,
		RateBurst:       40,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager
func NewConnectionManager(config ConnectionConfig, instanceID string) *ConnectionManager {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		instanceID:  instanceID,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Origin is the identifier stamped on frames published by this connection.
func (c *Connection) Origin() string {
	return c.Manager.instanceID + "/" + c.ID
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to a websocket in room
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, room string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.NewString(),
		Room:        events.SanitizeRoom(room),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		limiter:     rate.NewLimiter(cm.config.RateLimit, cm.config.RateBurst),
		ConnectedAt: now,
		LastPing:    now,
	}

	cm.registerConnection(connection)
	if cm.joined != nil {
		cm.joined(connection)
	}

	go connection.writePump()
	go connection.readPump(r.Context())

	log.Info().
		Str("connection_id", connection.ID).
		Str("room", connection.Room).
		Msg("websocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.Room] == nil {
		cm.roomConnections[conn.Room] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.Room][conn] = true
	ConnectionsActive.Inc()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Int("total_connections", len(cm.roomConnections[conn.Room])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.roomConnections[conn.Room]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			ConnectionsActive.Dec()

			if len(connections) == 0 {
				delete(cm.roomConnections, conn.Room)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("room", conn.Room).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToRoom queues a frame for every connection in room except the
// one named by frame.Origin.
func (cm *ConnectionManager) BroadcastToRoom(room string, frame events.Frame) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Room: events.SanitizeRoom(room), Frame: frame}:
	default:
		FramesDropped.WithLabelValues(dropBufferFull).Inc()
		log.Warn().Str("room", room).Msg("broadcast channel full, dropping frame")
	}
}

// SendTo queues a frame for one connection.
func (cm *ConnectionManager) SendTo(conn *Connection, frame events.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame")
		return
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.roomConnections[conn.Room][conn] {
		return
	}
	select {
	case conn.Send <- data:
	default:
		FramesDropped.WithLabelValues(dropBufferFull).Inc()
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data, err := json.Marshal(message.Frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	// Send channels are only closed under the write lock
	var slow []*Connection
	sent := 0
	cm.mu.RLock()
	for conn := range cm.roomConnections[message.Room] {
		if message.Frame.Origin != "" && conn.Origin() == message.Frame.Origin {
			continue
		}
		select {
		case conn.Send <- data:
			sent++
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		FramesDropped.WithLabelValues(dropBufferFull).Inc()
		log.Warn().
			Str("connection_id", conn.ID).
			Str("room", conn.Room).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
	FramesRelayed.WithLabelValues(string(message.Frame.Event)).Inc()

	log.Debug().
		Str("event", string(message.Frame.Event)).
		Str("room", message.Room).
		Int("connections", sent).
		Msg("frame broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, conns := range cm.roomConnections {
		for conn := range conns {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// ConnectionStats summarises open connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{RoomConnections: make(map[string]int)}
	for room, connections := range cm.roomConnections {
		stats.TotalConnections += len(connections)
		stats.RoomConnections[room] = len(connections)
	}
	stats.ActiveRooms = len(cm.roomConnections)
	return stats
}

// writePump sends queued frames and pings to the websocket
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads frames from the websocket until it closes
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.handleClientMessage(context.WithoutCancel(ctx), message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage validates a frame from the client and hands it on
func (c *Connection) handleClientMessage(ctx context.Context, message []byte) {
	if !c.limiter.Allow() {
		FramesDropped.WithLabelValues(dropRateLimited).Inc()
		log.Debug().Str("connection_id", c.ID).Msg("inbound frame rate limited")
		return
	}

	var frame events.Frame
	if err := json.Unmarshal(message, &frame); err != nil || !frame.Valid() {
		FramesDropped.WithLabelValues(dropMalformed).Inc()
		log.Debug().
			Str("connection_id", c.ID).
			Msg("dropping malformed client frame")
		return
	}

	frame.Room = c.Room
	frame.Origin = c.Origin()
	if c.Manager.inbound != nil {
		c.Manager.inbound(ctx, frame)
	}
}
