package windowsync

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const waitTimeout = 2 * time.Second

func receiveMsg(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectNoMsg(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitBlockers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d clock waiters: %v", n, err)
	}
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

func newHubSession(t *testing.T, hub *Hub, clock clockwork.Clock, room string) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clock
	cfg.Transports = []TransportFactory{BroadcastFactory(hub, "directorio")}
	s := NewSession(cfg)
	s.SetRoomScope(room)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func collect(s *Session, types ...MessageType) <-chan Message {
	ch := make(chan Message, 32)
	s.OnMessage(func(m Message) {
		if len(types) == 0 {
			ch <- m
			return
		}
		for _, typ := range types {
			if m.Type == typ {
				ch <- m
				return
			}
		}
	})
	return ch
}
