package ws

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		hub.Add(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesObserver(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Broadcast([]byte(`{"status":"completed"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != `{"status":"completed"}` {
		t.Errorf("payload = %q", msg)
	}
}

func TestConcurrentBroadcastsDoNotInterleave(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := newTestServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	// Bus subscriptions each deliver on their own goroutine, so broadcasts
	// race; every frame must still arrive whole.
	const writers, perWriter = 3, 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("writer-%d-payload", n))
			for j := 0; j < perWriter; j++ {
				hub.Broadcast(payload)
			}
		}(i)
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < writers*perWriter; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}
		if !strings.HasPrefix(string(msg), "writer-") || !strings.HasSuffix(string(msg), "-payload") {
			t.Fatalf("frame %d corrupted: %q", i, msg)
		}
	}
}

func TestClientCountTracksDisconnects(t *testing.T) {
	hub := NewHub(discardLogger())
	srv := newTestServer(t, hub)

	a := dial(t, srv)
	dial(t, srv)
	waitForClients(t, hub, 2)

	a.Close()
	waitForClients(t, hub, 1)
}
