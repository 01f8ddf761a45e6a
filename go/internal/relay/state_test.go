package relay

import (
	"testing"
	"time"

	"github.com/directorio/directorio/go/internal/relay/events"
)

func TestRoomStateCache(t *testing.T) {
	c := NewRoomStateCache()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Observe(mustFrameRoom(t, events.KindCommand, "b", events.CommandEnvelope{Action: "toggle"}))
	if _, ok := c.Get("b"); ok {
		t.Fatal("command frame was cached")
	}

	c.Observe(mustFrameRoom(t, events.KindTimerState, "b", events.TimerStateEnvelope{CurrentTimeLeft: 10}))
	now = now.Add(time.Hour)
	c.Observe(mustFrameRoom(t, events.KindTimerState, "a", events.TimerStateEnvelope{CurrentTimeLeft: 20, IsRunning: true}))
	c.Observe(events.Frame{Event: events.KindTimerState, Room: "c", Data: []byte(`"nope"`)})

	list := c.List()
	if len(list) != 2 || list[0].Room != "a" || list[1].Room != "b" {
		t.Fatalf("List = %+v", list)
	}
	if !list[0].IsRunning || list[0].TimeLeftSec != 20 {
		t.Fatalf("room a = %+v", list[0])
	}

	f, ok := c.Frame("b")
	if !ok || f.Origin != "" {
		t.Fatalf("Frame = %+v, %v", f, ok)
	}

	if n := c.Evict(now.Add(-time.Minute)); n != 1 {
		t.Fatalf("Evict = %d, want 1", n)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("room b survived eviction")
	}
}

func mustFrameRoom(t *testing.T, kind events.Kind, room string, payload any) events.Frame {
	t.Helper()
	f, err := events.NewFrame(kind, room, payload)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	f.Origin = "elsewhere"
	return f
}
