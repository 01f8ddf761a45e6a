package window

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/directorio/directorio/go/internal/sharedstate"
	"github.com/directorio/directorio/go/internal/timer"
	"github.com/directorio/directorio/go/internal/windowsync"
)

const waitTimeout = 2 * time.Second

func stages(minutes ...int) []timer.Stage {
	out := make([]timer.Stage, len(minutes))
	for i, m := range minutes {
		out[i] = timer.Stage{Title: "stage", DurationSec: m * 60}
	}
	return out
}

type harness struct {
	hub   *windowsync.Hub
	clock *clockwork.FakeClock
	store *sharedstate.Memory
}

func newHarness() *harness {
	return &harness{
		hub:   windowsync.NewHub(),
		clock: clockwork.NewFakeClock(),
		store: sharedstate.NewMemory(),
	}
}

func (h *harness) open(t *testing.T, primary bool, st []timer.Stage, factories ...windowsync.TransportFactory) *Window {
	t.Helper()
	if factories == nil {
		factories = []windowsync.TransportFactory{windowsync.BroadcastFactory(h.hub, "directorio")}
	}
	cfg := windowsync.DefaultConfig()
	cfg.Clock = h.clock
	cfg.Transports = factories
	session := windowsync.NewSession(cfg)

	view := h.store.View()
	w := New(session, Config{
		Room:    "meeting-1",
		Primary: primary,
		Stages:  st,
		Clock:   h.clock,
		Cache:   view,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		view.Close()
	})
	return w
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitBlockers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", n, err)
	}
}

func changes(w *Window) <-chan timer.Snapshot {
	ch := make(chan timer.Snapshot, 64)
	w.OnChange(func(s timer.Snapshot) { ch <- s })
	return ch
}

func nextChange(t *testing.T, ch <-chan timer.Snapshot) timer.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for change")
		return timer.Snapshot{}
	}
}

func sameView(a, b timer.Snapshot) bool {
	return a.CurrentTimeLeft == b.CurrentTimeLeft &&
		a.CurrentStageIndex == b.CurrentStageIndex &&
		a.IsRunning == b.IsRunning
}

func TestWindow_PrimaryPauseReachesFollower(t *testing.T) {
	h := newHarness()
	a := h.open(t, true, stages(5, 10, 3))
	b := h.open(t, false, nil)

	eventually(t, func() bool { return len(b.Snapshot().Stages) == 3 }, "follower to receive stages")

	a.Toggle()
	eventually(t, func() bool { return b.Snapshot().IsRunning }, "follower to see running")

	a.Toggle()
	eventually(t, func() bool { return !b.Snapshot().IsRunning }, "follower to see pause")
	if b.Status() != timer.StatusPaused {
		t.Fatalf("follower status = %s", b.Status())
	}
}

func TestWindow_SyncRoundTrip(t *testing.T) {
	h := newHarness()
	a := h.open(t, true, stages(5, 10))
	ticks := changes(a)

	a.Toggle()
	nextChange(t, ticks)
	waitBlockers(t, h.clock, 2)
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		nextChange(t, ticks)
	}
	want := a.Snapshot()
	if want.CurrentTimeLeft != 297 {
		t.Fatalf("primary remaining = %d, want 297", want.CurrentTimeLeft)
	}

	b := h.open(t, false, nil)
	eventually(t, func() bool { return sameView(b.Snapshot(), want) }, "follower to match primary")
}

func TestWindow_FollowerForwardsControls(t *testing.T) {
	h := newHarness()
	a := h.open(t, true, stages(5, 10, 3))
	b := h.open(t, false, nil)
	eventually(t, func() bool { return len(b.Snapshot().Stages) == 3 }, "follower to receive stages")

	b.Next()
	eventually(t, func() bool { return a.Snapshot().CurrentStageIndex == 1 }, "primary to advance")
	eventually(t, func() bool { return b.Snapshot().CurrentStageIndex == 1 }, "follower to follow")
	if got := b.Snapshot().CurrentTimeLeft; got != 600 {
		t.Fatalf("follower remaining = %d, want 600", got)
	}

	b.Adjust(-30)
	eventually(t, func() bool { return a.Snapshot().CurrentTimeLeft == 570 }, "primary to adjust")
}

func TestWindow_ReconnectResyncs(t *testing.T) {
	h := newHarness()
	a := h.open(t, true, stages(5, 10, 3))
	b := h.open(t, false, nil)
	eventually(t, func() bool { return len(b.Snapshot().Stages) == 3 }, "follower to receive stages")

	a.Next()
	eventually(t, func() bool { return b.Snapshot().CurrentStageIndex == 1 }, "follower to follow")

	if err := b.Reconnect(context.Background()); err != nil {
		t.Fatalf("follower Reconnect: %v", err)
	}
	if st := b.Session().State(); !st.Connected || st.ReconnectAttempts != 1 {
		t.Fatalf("follower state = %+v", st)
	}
	if err := a.Reconnect(context.Background()); err != nil {
		t.Fatalf("primary Reconnect: %v", err)
	}

	a.Next()
	eventually(t, func() bool { return b.Snapshot().CurrentStageIndex == 2 }, "follower to follow after reconnect")
	b.Adjust(-30)
	eventually(t, func() bool { return a.Snapshot().CurrentTimeLeft == 150 }, "primary to take follower control")
}

func TestWindow_LongPressResetsEverywhere(t *testing.T) {
	h := newHarness()
	a := h.open(t, true, stages(5))
	b := h.open(t, false, nil)
	a.Toggle()
	eventually(t, func() bool { return b.Snapshot().IsRunning }, "follower to see running")

	before := h.clock.Now()
	b.Press()
	eventually(t, func() bool {
		h.clock.Advance(100 * time.Millisecond)
		return a.Status() == timer.StatusIdle
	}, "long press to reset primary")
	b.Release()

	if h.clock.Since(before) < timer.LongPressThreshold {
		t.Fatal("reset fired before the long-press threshold")
	}
	eventually(t, func() bool {
		s := b.Snapshot()
		return !s.IsRunning && !s.HasStarted && s.CurrentTimeLeft == 0
	}, "follower to see reset")
}

func TestWindow_DegradedFollowerActsLocally(t *testing.T) {
	h := newHarness()
	w := h.open(t, false, stages(2), windowsync.BroadcastFactory(nil, "none"))

	if st := w.Session().State(); st.Connected {
		t.Fatalf("state = %+v, want disconnected", st)
	}
	w.Toggle()
	if w.Status() != timer.StatusRunning {
		t.Fatalf("status = %s, want running", w.Status())
	}
}

func TestWindow_RestoresFromCache(t *testing.T) {
	h := newHarness()
	seed := h.store.View()
	defer seed.Close()
	seed.Write("directorio:meeting-1:timeLeft", "abc")
	seed.Write("directorio:meeting-1:stageIndex", "1")
	seed.Write("directorio:meeting-1:hasStarted", "true")

	w := h.open(t, true, stages(5, 10), windowsync.BroadcastFactory(nil, "none"))
	s := w.Snapshot()
	if s.CurrentStageIndex != 1 || s.CurrentTimeLeft != 600 || !s.HasStarted {
		t.Fatalf("restored %+v", s)
	}

	w.Adjust(-30)
	v, ok, _ := seed.Read("directorio:meeting-1:timeLeft")
	if !ok || v != "570" {
		t.Fatalf("cached timeLeft = %q %v, want 570", v, ok)
	}
}

func TestWindow_FollowerDropsStaleSnapshots(t *testing.T) {
	h := newHarness()
	b := h.open(t, false, stages(5))

	raw := h.hub.Open("directorio")
	defer raw.Close()

	send := func(seq uint64, left int) {
		data := mustJSON(t, windowsync.Tick{Snapshot: timer.Snapshot{CurrentTimeLeft: left, HasStarted: true}})
		raw.Send(windowsync.Message{
			Type:        windowsync.TypeTick,
			Data:        data,
			Source:      windowsync.SourceTag,
			DirectoryID: "meeting-1",
			WindowID:    "primary",
			Seq:         seq,
		})
	}
	send(5, 100)
	eventually(t, func() bool { return b.Snapshot().CurrentTimeLeft == 100 }, "fresh snapshot")
	send(4, 200)
	send(6, 99)
	eventually(t, func() bool { return b.Snapshot().CurrentTimeLeft == 99 }, "newer snapshot")
}
