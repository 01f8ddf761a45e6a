package windowsync

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"

	"github.com/directorio/directorio/go/internal/timer"
)

func runNATSServer(t *testing.T, port int) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = port
	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv
}

func natsPort(srv *server.Server) int {
	return srv.Addr().(*net.TCPAddr).Port
}

func dialTestNATSRelay(t *testing.T, url string) *NATSRelay {
	t.Helper()
	cfg := DefaultNATSRelayConfig()
	cfg.URL = url
	cfg.ReconnectWait = 50 * time.Millisecond
	r, err := DialNATSRelay(cfg)
	if err != nil {
		t.Fatalf("DialNATSRelay: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func newNATSSession(t *testing.T, relay Relay, room string) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	cfg.Relay = relay
	s := NewSession(cfg)
	s.SetRoomScope(room)
	// No deadline on purpose: windows start sessions with a cancel-only context.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ticksSeen counts inbound ticks without blocking delivery.
func ticksSeen(s *Session) *atomic.Int64 {
	var n atomic.Int64
	s.OnMessage(func(m Message) {
		if m.Type == TypeTick {
			n.Add(1)
		}
	})
	return &n
}

func TestNATSRelay_JoinWithoutDeadline(t *testing.T) {
	srv := runNATSServer(t, -1)
	a := newNATSSession(t, dialTestNATSRelay(t, srv.ClientURL()), "meeting-1")
	b := newNATSSession(t, dialTestNATSRelay(t, srv.ClientURL()), "meeting-1")
	other := newNATSSession(t, dialTestNATSRelay(t, srv.ClientURL()), "meeting-2")

	if st := a.State(); !st.Connected || st.Relay != "nats-relay" {
		t.Fatalf("state = %+v", st)
	}

	got := collect(b, TypeTick, TypeControl)
	elsewhere := collect(other)

	snap := timer.Snapshot{CurrentTimeLeft: 42, IsRunning: true}
	if err := a.Send(Tick{Snapshot: snap}); err != nil {
		t.Fatalf("Send tick: %v", err)
	}
	m := receiveMsg(t, got)
	p, err := Decode(m)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s, _ := SnapshotOf(p); s.CurrentTimeLeft != 42 || m.WindowID != a.WindowID() {
		t.Fatalf("tick = %+v", m)
	}

	if err := b.Send(Control{Action: ActionAdjust, Delta: -30}); err != nil {
		t.Fatalf("Send control: %v", err)
	}
	expectNoMsg(t, got)
	expectNoMsg(t, elsewhere)
}

func TestNATSRelay_LeaveAndRejoin(t *testing.T) {
	srv := runNATSServer(t, -1)
	r := dialTestNATSRelay(t, srv.ClientURL())
	got := make(chan Message, 4)
	hooks := RelayHooks{Deliver: func(m Message) { got <- m }}

	if err := r.Join(context.Background(), "meeting-1", hooks); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := r.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	data, _ := json.Marshal(Control{Action: ActionNext})
	next := Message{Type: TypeControl, Data: data, Source: SourceTag, WindowID: "w", Seq: 1}
	if err := r.Publish(context.Background(), next); !errors.Is(err, ErrRelayNotJoined) {
		t.Fatalf("Publish after Leave = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := r.Join(ctx, "meeting-2", hooks); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	peer := newNATSSession(t, dialTestNATSRelay(t, srv.ClientURL()), "meeting-2")
	if err := peer.Send(Control{Action: ActionNext}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m := receiveMsg(t, got); m.Type != TypeControl || m.DirectoryID != "meeting-2" {
		t.Fatalf("message = %+v", m)
	}
}

func TestNATSRelay_RecoversAfterServerRestart(t *testing.T) {
	first := natstest.DefaultTestOptions
	first.Port = -1
	srv := natstest.RunServer(&first)
	t.Cleanup(srv.Shutdown)
	port := natsPort(srv)
	url := srv.ClientURL()

	a := newNATSSession(t, dialTestNATSRelay(t, url), "meeting-1")
	b := newNATSSession(t, dialTestNATSRelay(t, url), "meeting-1")
	seen := ticksSeen(b)

	if err := a.Send(Tick{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	eventually(t, func() bool { return seen.Load() == 1 }, "tick before restart")

	srv.Shutdown()
	eventually(t, func() bool { return a.State().Relay == "" }, "relay loss")
	if st := a.State(); st.Connected || st.LastError == nil {
		t.Fatalf("state while down = %+v", st)
	}
	if err := a.Send(Tick{}); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("Send while down = %v", err)
	}

	runNATSServer(t, port)
	eventually(t, func() bool {
		return a.State().Relay == "nats-relay" && b.State().Relay == "nats-relay"
	}, "relay restore")
	if st := a.State(); !st.Connected || st.LastError != nil {
		t.Fatalf("state after restore = %+v", st)
	}

	// b's resent subscription may reach the server after a's first publish.
	before := seen.Load()
	eventually(t, func() bool {
		if err := a.Send(Tick{}); err != nil {
			t.Fatalf("Send after restore: %v", err)
		}
		return seen.Load() > before
	}, "tick after restart")

	var restored bool
	for _, e := range a.Events() {
		if e.Kind == "relay-restored" {
			restored = true
		}
	}
	if !restored {
		t.Fatal("restore not recorded in event log")
	}
}
