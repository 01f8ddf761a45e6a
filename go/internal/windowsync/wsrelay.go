package windowsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// RelayKeyHeader carries the relay application key.
const RelayKeyHeader = "X-Relay-Key"

var ErrRelayNotJoined = errors.New("relay not joined")

// WSRelayConfig configures a websocket relay client.
type WSRelayConfig struct {
	URL          string // e.g. ws://localhost:8081/ws/rooms
	Key          string
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// WSRelay talks to the relay service over a websocket.
type WSRelay struct {
	cfg WSRelayConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

var _ Relay = (*WSRelay)(nil)

func NewWSRelay(cfg WSRelayConfig) *WSRelay {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &WSRelay{cfg: cfg}
}

func (r *WSRelay) Name() string { return "ws-relay" }

func (r *WSRelay) Join(ctx context.Context, room string, hooks RelayHooks) error {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(RelayKeyHeader, r.cfg.Key)

	conn, resp, err := r.cfg.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("dial relay: %w", err)
	}

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = conn
	r.closing = false
	r.mu.Unlock()

	go r.readLoop(conn, hooks)

	log.Info().Str("room", room).Str("url", r.cfg.URL).Msg("joined relay room")
	return nil
}

func (r *WSRelay) readLoop(conn *websocket.Conn, hooks RelayHooks) {
	for {
		var f events.Frame
		if err := conn.ReadJSON(&f); err != nil {
			r.mu.Lock()
			expected := r.closing || r.conn != conn
			r.mu.Unlock()
			if !expected && hooks.Lost != nil {
				hooks.Lost(fmt.Errorf("relay read: %w", err))
			}
			return
		}

		msg, ok, err := fromFrame(f)
		if err != nil {
			log.Debug().Err(err).Str("event", string(f.Event)).Msg("dropping malformed relay frame")
			continue
		}
		if !ok {
			continue
		}
		hooks.Deliver(msg)
	}
}

func (r *WSRelay) Publish(ctx context.Context, msg Message) error {
	f, err := toFrame(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ErrRelayNotJoined
	}
	deadline := time.Now().Add(r.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	r.conn.SetWriteDeadline(deadline)
	if err := r.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

func (r *WSRelay) Close() error {
	return r.Leave()
}

func (r *WSRelay) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	r.closing = true
	r.conn.SetWriteDeadline(time.Now().Add(time.Second))
	r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := r.conn.Close()
	r.conn = nil
	return err
}
