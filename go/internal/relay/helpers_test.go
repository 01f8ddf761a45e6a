package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/directorio/directorio/go/internal/relay/events"
)

const (
	testKey     = "s3cret"
	waitTimeout = 2 * time.Second
)

func newTestRelay(t *testing.T, mutate func(*Config)) (*Service, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Key = testKey
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(ctx, cfg)
	if err != nil {
		cancel()
		t.Fatalf("NewService: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Start(ctx)
	}()

	r := chi.NewRouter()
	svc.RegisterRoutes(r)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return svc, srv
}

func wsURL(srv *httptest.Server, room string) string {
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws/rooms"
	if room != "" {
		u.RawQuery = url.Values{"room": {room}}.Encode()
	}
	return u.String()
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(KeyHeader, testKey)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, room), header)
	if err != nil {
		t.Fatalf("dial %s: %v", room, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	var f events.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// expectNoFrame leaves conn unusable for further reads.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var f events.Frame
	if err := conn.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func waitConnections(t *testing.T, svc *Service, room string, n int) {
	t.Helper()
	eventually(t, func() bool {
		return svc.Stats().RoomConnections[events.SanitizeRoom(room)] == n
	}, "room connections")
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

func mustFrame(t *testing.T, kind events.Kind, payload any) events.Frame {
	t.Helper()
	f, err := events.NewFrame(kind, "", payload)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, string(body)
}
