package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// Service is the room relay: websocket fan-out with an optional JetStream
// backbone for running several instances
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	cache             *RoomStateCache
	publisher         Publisher
	eventConsumer     *EventConsumer
	config            Config
}

// Config holds configuration for the relay service
type Config struct {
	ConnectionConfig ConnectionConfig
	// Key every client must present. Empty disables the check.
	Key        string
	InstanceID string
	// JetStream enables multi-instance fan-out when non-nil
	JetStream *JetStreamConfig
	// Rooms without a timer state for this long are evicted from the cache
	StateTTL time.Duration
}

// DefaultConfig returns default configuration for a single relay instance
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		StateTTL:         12 * time.Hour,
	}
}

// NewService creates a new relay service
func NewService(ctx context.Context, config Config) (*Service, error) {
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}

	s := &Service{
		cache:  NewRoomStateCache(),
		config: config,
	}
	s.connectionManager = NewConnectionManager(config.ConnectionConfig, config.InstanceID)
	s.connectionManager.inbound = s.handleInbound
	s.connectionManager.joined = s.replayState
	s.wsHandler = NewWebSocketHandler(s.connectionManager, config.Key)
	s.stateHandler = NewStateHandler(s.cache)

	if config.JetStream == nil {
		s.publisher = NewLocalPublisher(s.deliver)
		return s, nil
	}

	jsConfig := *config.JetStream
	if jsConfig.ConsumerName == "" {
		jsConfig.ConsumerName = "relay-" + config.InstanceID
	}

	publisher, err := NewJetStreamPublisher(ctx, jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	consumer, err := NewEventConsumer(ctx, jsConfig, s.deliver)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}
	s.publisher = publisher
	s.eventConsumer = consumer
	return s, nil
}

// Start runs the relay until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Str("instance", s.config.InstanceID).
		Bool("jetstream", s.eventConsumer != nil).
		Msg("starting relay service")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.connectionManager.Start(ctx)
		return nil
	})
	if s.eventConsumer != nil {
		g.Go(func() error {
			return s.eventConsumer.Start(ctx)
		})
	}
	if s.config.StateTTL > 0 {
		g.Go(func() error {
			s.evictLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("relay service shutting down")
	if stopErr := s.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// Stop releases the NATS connections, if any
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	if err := s.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	log.Info().Msg("relay service stopped")
	return nil
}

// RegisterRoutes registers the websocket, state and metrics routes
func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
	s.stateHandler.RegisterStateRoutes(r)
	r.Handle("/metrics", promhttp.Handler())
	log.Info().Msg("relay routes registered")
}

// Stats returns statistics about open connections
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// State exposes the room state cache
func (s *Service) State() *RoomStateCache {
	return s.cache
}

func (s *Service) handleInbound(ctx context.Context, frame events.Frame) {
	if err := s.publisher.Publish(ctx, frame); err != nil {
		FramesDropped.WithLabelValues(dropPublishError).Inc()
		log.Error().
			Err(err).
			Str("room", frame.Room).
			Str("event", string(frame.Event)).
			Msg("failed to publish frame")
	}
}

// deliver is the single fan-in point for frames headed to local connections
func (s *Service) deliver(frame events.Frame) {
	s.cache.Observe(frame)
	s.connectionManager.BroadcastToRoom(frame.Room, frame)
}

func (s *Service) replayState(conn *Connection) {
	frame, ok := s.cache.Frame(conn.Room)
	if !ok {
		return
	}
	s.connectionManager.SendTo(conn, frame)
	log.Debug().
		Str("connection_id", conn.ID).
		Str("room", conn.Room).
		Msg("replayed cached timer state")
}

func (s *Service) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cache.Evict(time.Now().Add(-s.config.StateTTL)); n > 0 {
				log.Debug().Int("rooms", n).Msg("evicted stale room states")
			}
		}
	}
}
