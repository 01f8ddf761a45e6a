package windowsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// NATSRelayConfig configures a direct NATS relay client.
type NATSRelayConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	// JoinTimeout bounds the subscription flush in Join when the caller's
	// context has no deadline.
	JoinTimeout time.Duration
}

func DefaultNATSRelayConfig() NATSRelayConfig {
	return NATSRelayConfig{
		URL:           nats.DefaultURL,
		Name:          "directorio-window",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		JoinTimeout:   5 * time.Second,
	}
}

// NATSRelay publishes room frames straight onto NATS subjects.
type NATSRelay struct {
	cfg NATSRelayConfig
	nc  *nats.Conn

	mu    sync.Mutex
	sub   *nats.Subscription
	room  string
	hooks RelayHooks
}

var _ Relay = (*NATSRelay)(nil)

// DialNATSRelay connects to NATS. The client reconnects on its own; a joined
// room hears about each drop through Lost and each recovery through Restored.
func DialNATSRelay(cfg NATSRelayConfig) (*NATSRelay, error) {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 5 * time.Second
	}
	r := &NATSRelay{cfg: cfg}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			if err != nil {
				r.reportLost(fmt.Errorf("nats disconnected: %w", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			r.reportRestored()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	r.nc = nc
	return r, nil
}

func (r *NATSRelay) Name() string { return "nats-relay" }

func (r *NATSRelay) reportLost(err error) {
	r.mu.Lock()
	lost := r.hooks.Lost
	r.mu.Unlock()
	if lost != nil {
		lost(err)
	}
}

// reportRestored runs after nats.go has resent the subscriptions.
func (r *NATSRelay) reportRestored() {
	r.mu.Lock()
	restored := r.hooks.Restored
	if r.sub == nil {
		restored = nil
	}
	r.mu.Unlock()
	if restored != nil {
		restored()
	}
}

func (r *NATSRelay) Join(ctx context.Context, room string, hooks RelayHooks) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JoinTimeout)
		defer cancel()
	}

	sub, err := r.nc.Subscribe(events.RoomSubjects(room), func(m *nats.Msg) {
		var f events.Frame
		if err := json.Unmarshal(m.Data, &f); err != nil {
			log.Debug().Err(err).Str("subject", m.Subject).Msg("dropping malformed relay frame")
			return
		}
		if _, kind, ok := events.ParseSubject(m.Subject); ok {
			f.Event = kind
		}
		msg, ok, err := fromFrame(f)
		if err != nil || !ok {
			return
		}
		hooks.Deliver(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", room, err)
	}
	if err := r.nc.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}

	r.mu.Lock()
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.sub = sub
	r.room = room
	r.hooks = hooks
	r.mu.Unlock()

	log.Info().Str("room", room).Str("subject", sub.Subject).Msg("joined NATS room")
	return nil
}

func (r *NATSRelay) Publish(ctx context.Context, msg Message) error {
	f, err := toFrame(msg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == "" {
		return ErrRelayNotJoined
	}
	f.Room = events.SanitizeRoom(room)

	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := r.nc.Publish(events.Subject(room, f.Event), b); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

func (r *NATSRelay) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = RelayHooks{}
	r.room = ""
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}

func (r *NATSRelay) Close() error {
	err := r.Leave()
	r.nc.Close()
	return err
}
