package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func newFeedServer(t *testing.T, snapshot string) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(func() []byte { return []byte(snapshot) })
	e := echo.New()
	e.GET("/feed", h.Handle)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return h, srv
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(msg)
}

func TestHandleGreetsWithSnapshot(t *testing.T) {
	_, srv := newFeedServer(t, `[{"sessionId":"s1"}]`)
	conn := dialFeed(t, srv)

	if got := readText(t, conn); got != `[{"sessionId":"s1"}]` {
		t.Errorf("greeting = %s", got)
	}
}

func TestBroadcastFansOut(t *testing.T) {
	h, srv := newFeedServer(t, "[]")
	a := dialFeed(t, srv)
	b := dialFeed(t, srv)
	readText(t, a)
	readText(t, b)

	h.Broadcast([]byte(`[{"sessionId":"s2"}]`))
	for _, conn := range []*websocket.Conn{a, b} {
		if got := readText(t, conn); got != `[{"sessionId":"s2"}]` {
			t.Errorf("broadcast = %s", got)
		}
	}
}

func TestFetchAnswersWithSnapshot(t *testing.T) {
	_, srv := newFeedServer(t, `["current"]`)
	conn := dialFeed(t, srv)
	readText(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("fetch")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readText(t, conn); got != `["current"]` {
		t.Errorf("fetch reply = %s", got)
	}
}

// wsPair upgrades one raw connection so a test can hold the server side
// without the hub's loops running against it.
func wsPair(t *testing.T) (server, peer *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	server = <-accepted
	t.Cleanup(func() { _ = server.Close() })
	return server, peer
}

func TestBroadcastDisconnectsSlowClient(t *testing.T) {
	h := NewHub(func() []byte { return []byte("[]") })
	serverConn, peer := wsPair(t)

	cl := &client{conn: serverConn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	// Nothing drains the channel, so the buffer fills and the overflow
	// broadcast shuts the connection.
	for i := 0; i <= clientBuffer; i++ {
		h.Broadcast([]byte("tick"))
	}

	// A fetch answer racing the disconnect must not hit a closed channel.
	select {
	case cl.send <- h.snapshot():
	default:
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := peer.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(cl)
	h.drop(cl)
	h.mu.Lock()
	left := len(h.clients)
	h.mu.Unlock()
	if left != 0 {
		t.Errorf("clients after drop = %d, want 0", left)
	}
}
