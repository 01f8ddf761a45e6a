package relay

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/directorio/directorio/go/internal/relay/events"
	"github.com/directorio/directorio/go/internal/timer"
)

func TestRelay_FansOutWithinRoom(t *testing.T) {
	svc, srv := newTestRelay(t, nil)

	a := dial(t, srv, "meeting 1")
	b := dial(t, srv, "meeting 1")
	other := dial(t, srv, "meeting-2")
	waitConnections(t, svc, "meeting 1", 2)
	waitConnections(t, svc, "meeting-2", 1)

	sent := mustFrame(t, events.KindCommand, events.CommandEnvelope{Action: "next", Source: "directorio-timer"})
	if err := a.WriteJSON(sent); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readFrame(t, b)
	if got.Event != events.KindCommand || got.Room != "meeting_1" || got.Origin == "" {
		t.Fatalf("frame = %+v", got)
	}
	cmd, err := got.Command()
	if err != nil || cmd.Action != "next" {
		t.Fatalf("command = %+v, %v", cmd, err)
	}

	expectNoFrame(t, a)
	expectNoFrame(t, other)
}

func TestRelay_RejectsBadKey(t *testing.T) {
	_, srv := newTestRelay(t, nil)

	tests := []struct {
		name   string
		url    string
		header http.Header
		want   int
	}{
		{"missing key", wsURL(srv, "r"), nil, http.StatusUnauthorized},
		{"wrong key", wsURL(srv, "r"), http.Header{KeyHeader: {"nope"}}, http.StatusUnauthorized},
		{"missing room", wsURL(srv, ""), http.Header{KeyHeader: {testKey}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tt.url, tt.header)
			if err == nil {
				conn.Close()
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("response = %+v, want status %d", resp, tt.want)
			}
		})
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "r")+"&key="+testKey, nil)
	if err != nil {
		t.Fatalf("dial with query key: %v", err)
	}
	conn.Close()
}

func TestRelay_ReplaysStateToLateJoiner(t *testing.T) {
	svc, srv := newTestRelay(t, nil)

	a := dial(t, srv, "stage")
	waitConnections(t, svc, "stage", 1)

	state := events.TimerStateEnvelope{
		CurrentTimeLeft:   297,
		IsRunning:         true,
		CurrentStageIndex: 1,
		Stages:            []timer.Stage{{Title: "Intro", DurationSec: 60}, {Title: "Talk", DurationSec: 300}},
		Seq:               4,
	}
	if err := a.WriteJSON(mustFrame(t, events.KindTimerState, state)); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, func() bool {
		_, ok := svc.State().Get("stage")
		return ok
	}, "cached state")

	b := dial(t, srv, "stage")
	got := readFrame(t, b)
	if got.Event != events.KindTimerState || got.Origin != "" {
		t.Fatalf("replayed frame = %+v", got)
	}
	env, err := got.TimerState()
	if err != nil || env.CurrentTimeLeft != 297 || env.CurrentStageIndex != 1 || len(env.Stages) != 2 {
		t.Fatalf("replayed state = %+v, %v", env, err)
	}

	resp, body := get(t, srv, "/api/rooms/stage/state")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", resp.StatusCode)
	}
	var rs RoomState
	if err := json.Unmarshal([]byte(body), &rs); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if rs.Room != "stage" || rs.State.CurrentTimeLeft != 297 || !rs.State.IsRunning {
		t.Fatalf("state = %+v", rs)
	}

	resp, _ = get(t, srv, "/api/rooms/unknown/state")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room status = %d", resp.StatusCode)
	}

	_, body = get(t, srv, "/api/rooms")
	if !strings.Contains(body, `"room":"stage"`) {
		t.Fatalf("rooms = %s", body)
	}
}

func TestRelay_DropsMalformedAndRateLimited(t *testing.T) {
	svc, srv := newTestRelay(t, func(c *Config) {
		c.ConnectionConfig.RateLimit = rate.Limit(0)
		c.ConnectionConfig.RateBurst = 2
	})

	a := dial(t, srv, "r")
	b := dial(t, srv, "r")
	waitConnections(t, svc, "r", 2)

	malformed := testutil.ToFloat64(FramesDropped.WithLabelValues(dropMalformed))
	limited := testutil.ToFloat64(FramesDropped.WithLabelValues(dropRateLimited))

	if err := a.WriteJSON(map[string]string{"event": "bogus"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, action := range []string{"toggle", "reset"} {
		if err := a.WriteJSON(mustFrame(t, events.KindCommand, events.CommandEnvelope{Action: action})); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got := readFrame(t, b)
	if cmd, _ := got.Command(); cmd.Action != "toggle" {
		t.Fatalf("first frame = %+v", cmd)
	}
	expectNoFrame(t, b)

	if d := testutil.ToFloat64(FramesDropped.WithLabelValues(dropMalformed)) - malformed; d != 1 {
		t.Errorf("malformed drops = %v, want 1", d)
	}
	if d := testutil.ToFloat64(FramesDropped.WithLabelValues(dropRateLimited)) - limited; d != 1 {
		t.Errorf("rate limited drops = %v, want 1", d)
	}
}

func TestRelay_Metrics(t *testing.T) {
	svc, srv := newTestRelay(t, nil)
	dial(t, srv, "m")
	waitConnections(t, svc, "m", 1)

	resp, body := get(t, srv, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "directorio_relay_connections_active") {
		t.Fatal("connections gauge missing from /metrics")
	}

	_, body = get(t, srv, "/ws/stats")
	var stats ConnectionStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalConnections != 1 || stats.RoomConnections["m"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
