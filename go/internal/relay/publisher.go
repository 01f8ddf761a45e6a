package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// Publisher hands a validated client frame to whatever fans it out
type Publisher interface {
	Publish(ctx context.Context, frame events.Frame) error
	Close() error
}

// LocalPublisher delivers frames in-process. Used when the relay runs as a
// single instance without NATS.
type LocalPublisher struct {
	deliver func(frame events.Frame)
}

// NewLocalPublisher creates a publisher that calls deliver for every frame
func NewLocalPublisher(deliver func(frame events.Frame)) *LocalPublisher {
	return &LocalPublisher{deliver: deliver}
}

func (p *LocalPublisher) Publish(_ context.Context, frame events.Frame) error {
	p.deliver(frame)
	return nil
}

func (p *LocalPublisher) Close() error { return nil }

// JetStreamConfig holds configuration for the JetStream backbone shared by
// the publisher and the consumer
type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectFilter string
	// ConsumerName must be unique per relay instance so every instance sees
	// every frame.
	ConsumerName  string
	MaxAge        time.Duration
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultJetStreamConfig returns default JetStream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    events.StreamName,
		SubjectFilter: events.SubjectFilter,
		MaxAge:        time.Hour,
		MaxDeliver:    3,
		AckWait:       10 * time.Second,
		MaxAckPending: 500,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

func connectJetStream(config JetStreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.Name("directorio-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// JetStreamPublisher publishes frames to directorio.rooms.<room>.<kind>
type JetStreamPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewJetStreamPublisher connects to NATS and makes sure the room stream exists
func NewJetStreamPublisher(ctx context.Context, config JetStreamConfig) (*JetStreamPublisher, error) {
	nc, js, err := connectJetStream(config)
	if err != nil {
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        config.StreamName,
		Description: "Directorio room frames",
		Subjects:    []string{config.SubjectFilter},
		Retention:   jetstream.LimitsPolicy,
		// Only the latest frame per room channel is worth replaying
		MaxMsgsPerSubject: 1,
		MaxAge:            config.MaxAge,
		Storage:           jetstream.MemoryStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", config.StreamName, err)
	}

	log.Info().
		Str("stream", config.StreamName).
		Str("subjects", config.SubjectFilter).
		Msg("JetStream stream ready")

	return &JetStreamPublisher{nc: nc, js: js}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, frame events.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	subject := events.Subject(frame.Room, frame.Event)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
