// Package ws broadcasts the session list to connected clients.  The hub
// subscribes to the registry's state-changed signal and pushes the full
// list JSON on every mutation; clients may also request the current list
// explicitly with a "fetch" text message.
package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeTimeout = 5 * time.Second
	// clientBuffer bounds per-client queued broadcasts; slow clients are
	// dropped rather than allowed to stall the publisher.
	clientBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client is served from another origin in every deployment
	// this server has; auth happens via the bearer token, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients and fans session-list updates out to them.
type Hub struct {
	// snapshot returns the current session list JSON, used to greet new
	// connections and to answer fetch requests.
	snapshot func() []byte

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns a Hub that serves snapshots from the given provider.
func NewHub(snapshot func() []byte) *Hub {
	return &Hub{snapshot: snapshot, clients: make(map[*client]struct{})}
}

// Broadcast queues the list JSON to every connected client.  It is the
// registry-subscriber entry point and must not block, so clients whose
// buffers are full are disconnected.
func (h *Hub) Broadcast(list []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- list:
		default:
			// The read loop owns removal and channel close; shutting the
			// connection makes it exit.  Sends elsewhere stay safe because
			// the channel is never closed from here.
			_ = c.conn.Close()
		}
	}
}

// Handle upgrades the request and serves the client until it disconnects.
// The current list is pushed immediately on connect.
func (h *Hub) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(cl)
	cl.send <- h.snapshot()

	h.readLoop(cl)
	return nil
}

// writeLoop is the single writer for one client; gorilla connections do
// not allow concurrent writes.
func (h *Hub) writeLoop(cl *client) {
	for msg := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
	_ = cl.conn.Close()
}

func (h *Hub) readLoop(cl *client) {
	defer h.drop(cl)
	for {
		kind, msg, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage && string(msg) == "fetch" {
			select {
			case cl.send <- h.snapshot():
			default:
			}
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
	log.Printf("ws: client disconnected")
}
