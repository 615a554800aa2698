package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/glimmer/internal/light"
)

const (
	// clientBuffer is how many frames may queue for a slow viewer before
	// frames are dropped for it.
	clientBuffer = 8
	writeTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type frameClient struct {
	conn *websocket.Conn
	send chan []byte
}

// FrameHub broadcasts rendered frames to websocket viewers. Each frame is a
// binary message of r, g, b bytes per light.
type FrameHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*frameClient]struct{}
	closed  bool
}

// NewFrameHub creates an empty hub.
func NewFrameHub(logger *slog.Logger) *FrameHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameHub{
		logger:  logger.With("component", "frames"),
		clients: make(map[*frameClient]struct{}),
	}
}

// Publish queues frame for every viewer. It never blocks; viewers that fall
// behind miss frames.
func (h *FrameHub) Publish(frame light.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	msg := make([]byte, 0, len(frame)*3)
	for _, p := range frame {
		msg = append(msg, p.R, p.G, p.B)
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// Clients returns the number of connected viewers.
func (h *FrameHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *FrameHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &frameClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.add(c) {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.write(c)
	}()

	// Viewers send nothing; reading notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	<-done
}

func (h *FrameHub) add(c *frameClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("frame viewer connected", "remote", c.conn.RemoteAddr().String())
	return true
}

func (h *FrameHub) remove(c *frameClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *FrameHub) write(c *frameClient) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
}

// Close disconnects every viewer and refuses new ones.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
