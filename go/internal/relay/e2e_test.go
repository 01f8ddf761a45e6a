package relay

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/directorio/directorio/go/internal/timer"
	"github.com/directorio/directorio/go/internal/windowsync"
)

func newRelaySession(t *testing.T, url, room string) *windowsync.Session {
	t.Helper()
	cfg := windowsync.DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.Relay = windowsync.NewWSRelay(windowsync.WSRelayConfig{URL: url, Key: testKey})
	s := windowsync.NewSession(cfg)
	s.SetRoomScope(room)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRelay_SessionsSyncAcrossDevices(t *testing.T) {
	svc, srv := newTestRelay(t, nil)
	url := wsURL(srv, "")

	primary := newRelaySession(t, url, "board-7")
	follower := newRelaySession(t, url, "board-7")
	waitConnections(t, svc, "board-7", 2)

	got := make(chan windowsync.Message, 8)
	follower.OnMessage(func(m windowsync.Message) { got <- m })
	controls := make(chan windowsync.Message, 8)
	primary.OnMessage(func(m windowsync.Message) {
		if m.Type == windowsync.TypeControl {
			controls <- m
		}
	})

	snap := timer.Snapshot{
		CurrentTimeLeft:   42,
		IsRunning:         true,
		CurrentStageIndex: 0,
		HasStarted:        true,
		Stages:            []timer.Stage{{Title: "Opening", DurationSec: 60}},
	}
	if err := primary.Send(windowsync.Tick{Snapshot: snap}); err != nil {
		t.Fatalf("Send tick: %v", err)
	}

	select {
	case m := <-got:
		p, err := windowsync.Decode(m)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		s, ok := windowsync.SnapshotOf(p)
		if !ok || s.CurrentTimeLeft != 42 || !s.IsRunning || len(s.Stages) != 1 {
			t.Fatalf("snapshot = %+v", s)
		}
		if m.WindowID != primary.WindowID() || m.Seq == 0 {
			t.Fatalf("envelope = %+v", m)
		}
	case <-time.After(waitTimeout):
		t.Fatal("follower did not receive tick")
	}

	if err := follower.Send(windowsync.Control{Action: windowsync.ActionAdjust, Delta: -30}); err != nil {
		t.Fatalf("Send control: %v", err)
	}
	select {
	case m := <-controls:
		p, err := windowsync.Decode(m)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		c := p.(windowsync.Control)
		if c.Action != windowsync.ActionAdjust || c.Delta != -30 {
			t.Fatalf("control = %+v", c)
		}
	case <-time.After(waitTimeout):
		t.Fatal("primary did not receive control")
	}

	if st, ok := svc.State().Get("board-7"); !ok || st.State.CurrentTimeLeft != 42 {
		t.Fatalf("cached state = %+v, %v", st, ok)
	}
}
