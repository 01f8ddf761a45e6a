// Package window runs one timer view: a countdown machine reconciled with
// the other windows of the same room through a sync session.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/sharedstate"
	"github.com/directorio/directorio/go/internal/timer"
	"github.com/directorio/directorio/go/internal/windowsync"
)

const tickInterval = time.Second

// Config describes one window.
type Config struct {
	Room    string
	Primary bool
	Stages  []timer.Stage
	Timer   timer.Config
	Clock   clockwork.Clock

	// LongPress defaults to timer.LongPressThreshold.
	LongPress time.Duration

	// Cache mirrors the last timer values; nil disables caching.
	Cache sharedstate.Port
}

// Window owns a timer machine and the session that keeps it in sync.
// The primary window runs the authoritative countdown; followers apply its
// snapshots and forward their actions to it.
type Window struct {
	cfg     Config
	clock   clockwork.Clock
	machine *timer.Machine
	session *windowsync.Session
	fresh   *windowsync.Freshness
	press   *timer.PressTracker

	mu        sync.Mutex
	primary   bool
	listeners []func(timer.Snapshot)
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(session *windowsync.Session, cfg Config) *Window {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	w := &Window{
		cfg:     cfg,
		clock:   cfg.Clock,
		machine: timer.NewMachine(cfg.Stages, cfg.Timer),
		session: session,
		fresh:   windowsync.NewFreshness(),
		primary: cfg.Primary,
	}
	w.press = timer.NewPressTracker(cfg.Clock, cfg.LongPress,
		func() { w.do(windowsync.Control{Action: windowsync.ActionToggle}) },
		func() { w.do(windowsync.Control{Action: windowsync.ActionReset}) },
	)
	return w
}

// Start restores cached state, connects the session and begins ticking.
// A session that cannot connect leaves the window running on its own.
func (w *Window) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return errors.New("window already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	primary := w.primary
	w.mu.Unlock()

	w.restore()

	w.session.SetRoomScope(w.cfg.Room)
	w.session.SetRole(primary)
	w.session.OnMessage(w.handle)
	if err := w.session.Start(ctx); err != nil {
		log.Warn().Err(err).Str("room", w.cfg.Room).Msg("running without sync")
	}
	w.session.StartHeartbeat()

	if primary {
		w.broadcast(func(s timer.Snapshot) windowsync.Payload { return windowsync.Init{Snapshot: s} })
	} else if _, err := w.session.RequestSync(); err != nil {
		log.Debug().Err(err).Msg("sync request not sent")
	}

	go w.run(ctx)
	return nil
}

// Reconnect rebuilds the session's transport and relay link, then resyncs:
// a primary re-announces its state and a follower asks for it.
func (w *Window) Reconnect(ctx context.Context) error {
	if err := w.session.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if w.IsPrimary() {
		w.broadcast(func(s timer.Snapshot) windowsync.Payload { return windowsync.Init{Snapshot: s} })
	} else if _, err := w.session.RequestSync(); err != nil {
		log.Debug().Err(err).Msg("sync request not sent")
	}
	return nil
}

// Close stops the countdown loop and the session.
func (w *Window) Close() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	w.press.Cancel()
	return w.session.Close()
}

func (w *Window) run(ctx context.Context) {
	defer close(w.done)
	ticker := w.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.tick()
		}
	}
}

// tick advances the local countdown. Followers keep this running as a
// fallback between snapshots.
func (w *Window) tick() {
	ev := w.machine.Tick()
	if ev == timer.EventNone {
		return
	}
	switch ev {
	case timer.EventStageAdvanced:
		log.Info().Str("room", w.cfg.Room).Int("stage_index", w.machine.StageIndex()).Msg("stage complete")
	case timer.EventFinished:
		log.Info().Str("room", w.cfg.Room).Msg("all stages finished")
	}
	w.changed(w.IsPrimary())
}

// IsPrimary reports whether this window owns the countdown.
func (w *Window) IsPrimary() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.primary
}

// SetPrimary hands the countdown to or from this window.
func (w *Window) SetPrimary(primary bool) {
	w.mu.Lock()
	w.primary = primary
	w.mu.Unlock()
	w.session.SetRole(primary)
	if primary {
		w.broadcast(func(s timer.Snapshot) windowsync.Payload { return windowsync.Tick{Snapshot: s} })
	}
}

// OnChange registers a listener called with every new snapshot.
func (w *Window) OnChange(fn func(timer.Snapshot)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Window) Snapshot() timer.Snapshot     { return w.machine.Snapshot() }
func (w *Window) Status() timer.Status         { return w.machine.Status() }
func (w *Window) Background() string           { return w.machine.Background() }
func (w *Window) Session() *windowsync.Session { return w.session }

// User actions.
func (w *Window) Toggle()   { w.do(windowsync.Control{Action: windowsync.ActionToggle}) }
func (w *Window) Reset()    { w.do(windowsync.Control{Action: windowsync.ActionReset}) }
func (w *Window) Next()     { w.do(windowsync.Control{Action: windowsync.ActionNext}) }
func (w *Window) Previous() { w.do(windowsync.Control{Action: windowsync.ActionPrevious}) }

func (w *Window) Adjust(delta int) {
	w.do(windowsync.Control{Action: windowsync.ActionAdjust, Delta: delta})
}

// Press and Release drive the play/pause control: a short click toggles and
// a long hold resets.
func (w *Window) Press()   { w.press.Press() }
func (w *Window) Release() { w.press.Release() }

// SetStages replaces the stage list, for example after an edit.
func (w *Window) SetStages(stages []timer.Stage) {
	w.machine.SetStages(stages)
	w.changed(w.IsPrimary())
}

// do runs an action locally on the primary, or forwards it to the primary
// from a follower. A follower with no way to reach anyone acts locally.
func (w *Window) do(c windowsync.Control) {
	if !w.IsPrimary() {
		err := w.session.Send(c)
		if err == nil {
			return
		}
		if !errors.Is(err, windowsync.ErrNoTransport) {
			log.Warn().Err(err).Str("action", string(c.Action)).Msg("failed to forward control")
			return
		}
	}
	if w.apply(c) {
		w.changed(w.IsPrimary())
	}
}

func (w *Window) apply(c windowsync.Control) bool {
	switch c.Action {
	case windowsync.ActionToggle:
		return w.machine.Toggle()
	case windowsync.ActionStart:
		return w.machine.Start()
	case windowsync.ActionPause:
		return w.machine.Pause()
	case windowsync.ActionReset:
		return w.machine.Reset()
	case windowsync.ActionNext:
		return w.machine.Next()
	case windowsync.ActionPrevious:
		return w.machine.Previous()
	case windowsync.ActionAdjust:
		return w.machine.Adjust(c.Delta)
	default:
		return false
	}
}

// handle reconciles one inbound sync message.
func (w *Window) handle(msg windowsync.Message) {
	p, err := windowsync.Decode(msg)
	if err != nil {
		if errors.Is(err, windowsync.ErrUnknownAction) {
			log.Debug().Err(err).Msg("ignoring control")
			return
		}
		log.Warn().Err(err).Str("type", string(msg.Type)).Msg("dropping malformed sync message")
		return
	}
	primary := w.IsPrimary()

	switch v := p.(type) {
	case windowsync.Init, windowsync.Tick, windowsync.SyncResponse:
		if primary || !w.fresh.Accept(msg) {
			return
		}
		snap, _ := windowsync.SnapshotOf(v)
		if w.machine.Apply(snap) {
			w.changed(false)
		}

	case windowsync.Control:
		if !primary {
			return
		}
		if w.apply(v) {
			w.changed(true)
		}

	case windowsync.SyncRequest:
		if !primary {
			return
		}
		if err := w.session.RespondToSync(v.RequestID, w.machine.Snapshot()); err != nil {
			log.Warn().Err(err).Msg("failed to answer sync request")
		}

	case windowsync.Ping, windowsync.Pong:
	}
}

// changed mirrors the new state into the cache, notifies listeners and, on
// the primary, broadcasts it.
func (w *Window) changed(broadcast bool) {
	snap := w.machine.Snapshot()
	w.persist()

	if broadcast {
		w.broadcast(func(s timer.Snapshot) windowsync.Payload { return windowsync.Tick{Snapshot: s} })
	}

	w.mu.Lock()
	listeners := append([]func(timer.Snapshot){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (w *Window) broadcast(build func(timer.Snapshot) windowsync.Payload) {
	if err := w.session.Send(build(w.machine.Snapshot())); err != nil && !errors.Is(err, windowsync.ErrNoTransport) {
		log.Debug().Err(err).Msg("broadcast failed")
	}
}

// Cache keys, scoped by room.
const (
	keyTimeLeft   = "timeLeft"
	keyStageIndex = "stageIndex"
	keyIsRunning  = "isRunning"
	keyHasStarted = "hasStarted"
)

func (w *Window) cacheKey(name string) string {
	return fmt.Sprintf("directorio:%s:%s", w.cfg.Room, name)
}

func (w *Window) persist() {
	if w.cfg.Cache == nil {
		return
	}
	v := w.machine.Cache()
	for name, value := range map[string]string{
		keyTimeLeft:   v.TimeLeft,
		keyStageIndex: v.StageIndex,
		keyIsRunning:  v.IsRunning,
		keyHasStarted: v.HasStarted,
	} {
		if err := w.cfg.Cache.Write(w.cacheKey(name), value); err != nil {
			log.Debug().Err(err).Str("key", name).Msg("failed to cache timer value")
		}
	}
}

func (w *Window) restore() {
	if w.cfg.Cache == nil {
		return
	}
	read := func(name string) string {
		v, _, err := w.cfg.Cache.Read(w.cacheKey(name))
		if err != nil {
			log.Debug().Err(err).Str("key", name).Msg("failed to read cached timer value")
		}
		return v
	}
	w.machine.Restore(timer.CachedValues{
		TimeLeft:   read(keyTimeLeft),
		StageIndex: read(keyStageIndex),
		IsRunning:  read(keyIsRunning),
		HasStarted: read(keyHasStarted),
	})
}
