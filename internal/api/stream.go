package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gyaneshwarpardhi/hawatch/internal/metrics"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
)

const (
	maxStreamClients = 100
	streamBuffer     = 256
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
)

type streamClient struct {
	conn   *websocket.Conn
	target string // empty = all targets
	mu     sync.Mutex
}

func (c *streamClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Stream fans engine notifications out to websocket clients. Notifications
// are queued without blocking the emitting engine and dropped when the
// queue is full.
type Stream struct {
	upgrader websocket.Upgrader
	events   chan notify.Notification

	clientsMu sync.RWMutex
	clients   map[*streamClient]struct{}

	cancel    func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream subscribes to bus and starts the broadcast goroutine.
func NewStream(bus *notify.Bus) *Stream {
	s := &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		events:  make(chan notify.Notification, streamBuffer),
		clients: make(map[*streamClient]struct{}),
		done:    make(chan struct{}),
	}
	s.cancel = bus.OnAny(s.enqueue)
	go s.broadcast()
	return s
}

// Close unsubscribes from the bus and disconnects every client.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		s.clientsMu.Lock()
		defer s.clientsMu.Unlock()
		for c := range s.clients {
			_ = c.conn.Close()
			delete(s.clients, c)
		}
		metrics.StreamClients.Set(0)
	})
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Stream) enqueue(_ context.Context, n notify.Notification) {
	if s.Clients() == 0 {
		return
	}
	select {
	case s.events <- n:
	default:
		slog.Debug("stream queue full, notification dropped", "name", n.Name, "target", n.Target)
	}
}

func (s *Stream) broadcast() {
	for {
		select {
		case n := <-s.events:
			s.send(n)
		case <-s.done:
			return
		}
	}
}

func (s *Stream) send(n notify.Notification) {
	s.clientsMu.RLock()
	if len(s.clients) == 0 {
		s.clientsMu.RUnlock()
		return
	}
	clients := make([]*streamClient, 0, len(s.clients))
	for c := range s.clients {
		if c.target == "" || c.target == n.Target {
			clients = append(clients, c)
		}
	}
	s.clientsMu.RUnlock()

	data, err := json.Marshal(n)
	if err != nil {
		slog.Warn("stream: encode notification", "name", n.Name, "err", err)
		return
	}
	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			s.remove(c)
		}
	}
}

func (s *Stream) remove(c *streamClient) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; ok {
		_ = c.conn.Close()
		delete(s.clients, c)
		metrics.StreamClients.Set(float64(len(s.clients)))
	}
}

// GET /v1/stream?target=name: websocket notification stream.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Clients() >= maxStreamClients {
		writeError(w, http.StatusServiceUnavailable, "maximum stream clients reached")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("stream: upgrade failed", "err", err)
		return
	}
	c := &streamClient{conn: conn, target: r.URL.Query().Get("target")}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	metrics.StreamClients.Set(float64(len(s.clients)))
	s.clientsMu.Unlock()
	defer s.remove(c)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Reads only detect disconnects; client messages are ignored.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("stream: read error", "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		case <-s.done:
			return
		}
	}
}
