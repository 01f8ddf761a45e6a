package windowsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/timer"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultMaxMissedPongs    = 3
	DefaultEventLogSize      = 50

	relayPublishTimeout = 5 * time.Second
)

var (
	ErrPeerSilent    = errors.New("no pong received from any peer")
	ErrSessionClosed = errors.New("sync session closed")
)

// Config configures a Session. MaxMissedPongs of zero disables the
// liveness check.
type Config struct {
	WindowID          string
	Clock             clockwork.Clock
	HeartbeatInterval time.Duration
	MaxMissedPongs    int
	EventLogSize      int
	Transports        []TransportFactory
	Relay             Relay
}

func DefaultConfig() Config {
	return Config{
		Clock:             clockwork.NewRealClock(),
		HeartbeatInterval: DefaultHeartbeatInterval,
		MaxMissedPongs:    DefaultMaxMissedPongs,
		EventLogSize:      DefaultEventLogSize,
	}
}

// ConnectionState is what a window shows in its connection badge.
type ConnectionState struct {
	Connected         bool
	Connecting        bool
	Transport         string
	Relay             string
	LastError         error
	LastConnected     time.Time
	Latency           time.Duration
	ReconnectAttempts int
	MissedPongs       int
}

// LogEntry is one line of the diagnostic event log.
type LogEntry struct {
	At     time.Time
	Kind   string
	Detail string
}

// Session is one window's sync endpoint: it owns transport selection, room
// scoping, the heartbeat and callback dispatch.
type Session struct {
	cfg   Config
	clock clockwork.Clock
	id    string

	mu           sync.Mutex
	room         string
	primary      bool
	transport    Transport
	relayJoined  bool
	gen          uint64
	seq          uint64
	state        ConnectionState
	awaitingPong bool
	closed       bool
	events       []LogEntry

	msgSubs  []func(Message)
	connSubs []func(ConnectionState)
	errSubs  []func(error)

	hbStop chan struct{}
	hbDone chan struct{}
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MaxMissedPongs < 0 {
		cfg.MaxMissedPongs = 0
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = DefaultEventLogSize
	}
	if cfg.WindowID == "" {
		cfg.WindowID = uuid.NewString()
	}
	return &Session{cfg: cfg, clock: cfg.Clock, id: cfg.WindowID}
}

// WindowID is the identifier stamped on every message this session sends.
func (s *Session) WindowID() string { return s.id }

// SetRoomScope binds sends and receives to a room. A joined relay is moved
// to the new room.
func (s *Session) SetRoomScope(room string) {
	s.mu.Lock()
	if s.room == room {
		s.mu.Unlock()
		return
	}
	s.room = room
	joined := s.relayJoined
	gen := s.gen
	s.mu.Unlock()
	s.record("room", room)

	if joined && s.cfg.Relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		defer cancel()
		s.cfg.Relay.Leave()
		if err := s.joinRelay(ctx, gen, room); err != nil {
			s.mu.Lock()
			s.relayJoined = false
			s.mu.Unlock()
			s.fail(err)
		}
	}
}

// Room returns the current room scope.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// SetRole records whether this window runs the authoritative countdown.
func (s *Session) SetRole(primary bool) {
	s.mu.Lock()
	s.primary = primary
	s.mu.Unlock()
}

func (s *Session) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary
}

// OnMessage registers a handler for accepted inbound messages. Handlers run
// in registration order; a panic in one does not stop the rest.
func (s *Session) OnMessage(fn func(Message)) {
	s.mu.Lock()
	s.msgSubs = append(s.msgSubs, fn)
	s.mu.Unlock()
}

func (s *Session) OnConnectionChange(fn func(ConnectionState)) {
	s.mu.Lock()
	s.connSubs = append(s.connSubs, fn)
	s.mu.Unlock()
}

func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.errSubs = append(s.errSubs, fn)
	s.mu.Unlock()
}

// State returns a copy of the connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the recent diagnostic log, oldest first.
func (s *Session) Events() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.events))
	copy(out, s.events)
	return out
}

// Start selects a transport and joins the relay if one is configured. It
// returns an error only when nothing could be connected; the window then
// runs unsynchronized.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	room := s.room
	old := s.transport
	s.transport = nil
	s.state.Connecting = true
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.emitConnection()

	var errs []error
	t, err := SelectTransport(s.cfg.Transports...)
	if err != nil {
		errs = append(errs, err)
	} else {
		name := t.Name()
		t.Listen(func(msg Message) { s.receive(gen, name, msg) })
	}

	relayOK := false
	if s.cfg.Relay != nil {
		if err := s.joinRelay(ctx, gen, room); err != nil {
			errs = append(errs, err)
		} else {
			relayOK = true
		}
	}

	startErr := errors.Join(errs...)

	s.mu.Lock()
	s.transport = t
	s.relayJoined = relayOK
	s.state.Connecting = false
	s.state.Connected = t != nil || relayOK
	s.state.Transport = ""
	if t != nil {
		s.state.Transport = t.Name()
	}
	s.state.Relay = ""
	if relayOK {
		s.state.Relay = s.cfg.Relay.Name()
	}
	s.state.LastError = startErr
	if s.state.Connected {
		s.state.LastConnected = s.clock.Now()
	}
	connected := s.state.Connected
	s.mu.Unlock()

	s.record("connect", fmt.Sprintf("transport=%q relay=%v", s.State().Transport, relayOK))
	s.emitConnection()
	if startErr != nil {
		s.emitError(startErr)
	}
	if !connected {
		return startErr
	}
	return nil
}

func (s *Session) joinRelay(ctx context.Context, gen uint64, room string) error {
	err := s.cfg.Relay.Join(ctx, room, RelayHooks{
		Deliver:  func(msg Message) { s.receive(gen, s.cfg.Relay.Name(), msg) },
		Lost:     func(err error) { s.relayLost(gen, err) },
		Restored: func() { s.relayRestored(gen) },
	})
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

func (s *Session) relayLost(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}
	s.relayJoined = false
	s.state.Relay = ""
	s.state.Connected = s.transport != nil
	s.state.LastError = err
	s.mu.Unlock()

	s.record("relay-lost", err.Error())
	s.emitConnection()
	s.emitError(err)
}

// relayRestored marks a relay that recovered without a Reconnect as joined
// again.
func (s *Session) relayRestored(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.closed || s.relayJoined {
		s.mu.Unlock()
		return
	}
	s.relayJoined = true
	s.state.Relay = s.cfg.Relay.Name()
	s.state.Connected = true
	s.state.LastError = nil
	s.state.LastConnected = s.clock.Now()
	s.mu.Unlock()

	s.record("relay-restored", s.cfg.Relay.Name())
	s.emitConnection()
}

// Reconnect tears down the transport and relay link and starts again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	t := s.transport
	joined := s.relayJoined
	s.transport = nil
	s.relayJoined = false
	s.awaitingPong = false
	s.state.MissedPongs = 0
	s.state.ReconnectAttempts++
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if joined {
		s.cfg.Relay.Leave()
	}
	s.record("reconnect", "")
	return s.Start(ctx)
}

// Send stamps and dispatches a payload on every available path.
func (s *Session) Send(p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", p.MessageType(), err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.seq++
	msg := Message{
		Type:        p.MessageType(),
		Data:        data,
		Timestamp:   s.clock.Now().UnixMilli(),
		Source:      SourceTag,
		DirectoryID: s.room,
		WindowID:    s.id,
		Seq:         s.seq,
	}
	t := s.transport
	joined := s.relayJoined
	s.mu.Unlock()

	if t == nil && !joined {
		return ErrNoTransport
	}

	var errs []error
	if t != nil {
		if err := t.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	if joined {
		ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
		err := s.cfg.Relay.Publish(ctx, msg)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.cfg.Relay.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// RequestSync asks the authoritative window for a snapshot.
func (s *Session) RequestSync() (string, error) {
	id := uuid.NewString()
	s.record("sync-request", id)
	return id, s.Send(SyncRequest{RequestID: id})
}

// RespondToSync answers a SyncRequest with the current snapshot.
func (s *Session) RespondToSync(requestID string, snap timer.Snapshot) error {
	return s.Send(SyncResponse{Snapshot: snap, RequestID: requestID})
}

// StartHeartbeat pings peers every heartbeat interval until StopHeartbeat.
func (s *Session) StartHeartbeat() {
	s.mu.Lock()
	if s.hbStop != nil || s.closed {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.hbStop, s.hbDone = stop, done
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				s.beat()
			}
		}
	}()
}

// StopHeartbeat stops pinging and waits for the loop to exit.
func (s *Session) StopHeartbeat() {
	s.mu.Lock()
	stop, done := s.hbStop, s.hbDone
	s.hbStop, s.hbDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Session) beat() {
	s.mu.Lock()
	if s.closed || (s.transport == nil && !s.relayJoined) {
		s.mu.Unlock()
		return
	}
	silent := false
	if s.awaitingPong && s.cfg.MaxMissedPongs > 0 {
		s.state.MissedPongs++
		if s.state.MissedPongs >= s.cfg.MaxMissedPongs && s.state.Connected {
			s.state.Connected = false
			s.state.LastError = ErrPeerSilent
			silent = true
		}
	}
	s.awaitingPong = true
	s.mu.Unlock()

	if silent {
		log.Warn().Str("window_id", s.id).Msg("peers stopped answering heartbeat")
		s.record("silent", ErrPeerSilent.Error())
		s.emitConnection()
		s.emitError(ErrPeerSilent)
	}

	if err := s.Send(Ping{ID: uuid.NewString(), SentAt: s.clock.Now().UnixMilli()}); err != nil {
		log.Debug().Err(err).Msg("heartbeat ping failed")
	}
}

func (s *Session) pong(p Pong) {
	now := s.clock.Now()
	s.mu.Lock()
	s.awaitingPong = false
	s.state.MissedPongs = 0
	s.state.Latency = now.Sub(time.UnixMilli(p.SentAt))
	if s.state.Latency < 0 {
		s.state.Latency = 0
	}
	revived := false
	if !s.state.Connected && errors.Is(s.state.LastError, ErrPeerSilent) {
		s.state.Connected = true
		s.state.LastError = nil
		s.state.LastConnected = now
		revived = true
	}
	s.mu.Unlock()

	if revived {
		s.record("connect", "peer answered heartbeat")
	}
	s.emitConnection()
}

// receive filters and dispatches one inbound message.
func (s *Session) receive(gen uint64, via string, msg Message) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	room := s.room
	s.mu.Unlock()

	if msg.Source != SourceTag || msg.WindowID == s.id {
		return
	}
	if msg.DirectoryID != "" && msg.DirectoryID != room {
		return
	}

	switch msg.Type {
	case TypePing:
		p, err := Decode(msg)
		if err != nil {
			return
		}
		ping := p.(Ping)
		if err := s.Send(Pong{ID: ping.ID, SentAt: ping.SentAt, To: msg.WindowID}); err != nil {
			log.Debug().Err(err).Msg("failed to answer ping")
		}
	case TypePong:
		p, err := Decode(msg)
		if err != nil {
			return
		}
		if pong := p.(Pong); pong.To == s.id {
			s.pong(pong)
		}
	}

	log.Trace().Str("via", via).Str("type", string(msg.Type)).Str("from", msg.WindowID).Msg("sync message")
	s.dispatch(msg)
}

func (s *Session) dispatch(msg Message) {
	s.mu.Lock()
	subs := append([]func(Message){}, s.msgSubs...)
	s.mu.Unlock()
	for _, fn := range subs {
		s.safely("message", func() { fn(msg) })
	}
}

func (s *Session) emitConnection() {
	s.mu.Lock()
	subs := append([]func(ConnectionState){}, s.connSubs...)
	state := s.state
	s.mu.Unlock()
	for _, fn := range subs {
		s.safely("connection", func() { fn(state) })
	}
}

func (s *Session) emitError(err error) {
	s.mu.Lock()
	subs := append([]func(error){}, s.errSubs...)
	s.mu.Unlock()
	for _, fn := range subs {
		s.safely("error", func() { fn(err) })
	}
}

func (s *Session) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("callback", kind).Msg("sync callback panicked")
			s.record("panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state.LastError = err
	s.mu.Unlock()
	s.record("error", err.Error())
	s.emitError(err)
}

func (s *Session) record(kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, LogEntry{At: s.clock.Now(), Kind: kind, Detail: detail})
	if over := len(s.events) - s.cfg.EventLogSize; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
}

// Close stops the heartbeat and releases the transport. The relay is left
// for its owner to close.
func (s *Session) Close() error {
	s.StopHeartbeat()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	joined := s.relayJoined
	s.transport = nil
	s.relayJoined = false
	s.state.Connected = false
	s.mu.Unlock()

	var errs []error
	if t != nil {
		errs = append(errs, t.Close())
	}
	if joined {
		errs = append(errs, s.cfg.Relay.Leave())
	}
	return errors.Join(errs...)
}
