package ws

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/pkg/json"
	"github.com/nmxmxh/collision-readback/pkg/metrics"
)

const (
	// DefaultSendBuffer is the number of messages queued per client.
	DefaultSendBuffer = 16
	// DefaultWriteTimeout bounds a single frame write to one client.
	DefaultWriteTimeout = 5 * time.Second
)

var (
	// ErrSendQueueFull is returned by Send when the client is not keeping up.
	ErrSendQueueFull = errors.New("websocket send queue full")
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("websocket client closed")
)

// Message is the envelope written to every client.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client represents a WebSocket client connection. Send must not block.
type Client interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSendBuffer sets the per-client outgoing queue length.
func WithSendBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sendBuffer = n
		}
	}
}

// WithWriteTimeout sets the write deadline applied to every frame.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// Manager tracks connected clients and broadcasts to all of them. It is an
// http.Handler; each request is upgraded and registered until the peer
// disconnects. Every client has its own buffered send queue drained by a
// writer goroutine, so a slow peer only loses its own messages.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]Client // clientID -> client
	upgrader websocket.Upgrader
	log      *zap.Logger

	sendBuffer   int
	writeTimeout time.Duration
	dropped      atomic.Uint64
}

// NewManager creates a new WebSocket manager.
func NewManager(log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		clients:      make(map[string]Client),
		log:          log,
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.upgrader = websocket.Upgrader{CheckOrigin: m.checkOrigin}
	return m
}

// ServeHTTP upgrades the connection and blocks until the client goes away.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, m.sendBuffer)}
	m.add(c)
	defer m.Disconnect(c.id)

	go c.writePump(m.writeTimeout, func(err error) {
		m.log.Warn("WebSocket write failed", zap.String("client_id", c.id), zap.Error(err))
		m.Disconnect(c.id)
	})

	// Drain reads so close frames are processed; the stream is write-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *Manager) add(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID()] = c
	m.log.Debug("WebSocket client connected", zap.String("client_id", c.ID()))
}

// Disconnect removes a WebSocket connection.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[clientID]; ok {
		_ = c.Close()
		delete(m.clients, clientID)
		m.log.Debug("WebSocket client disconnected", zap.String("client_id", clientID))
	}
}

// Len returns the number of connected clients.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Dropped returns the number of messages discarded for slow or closed clients.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Broadcast queues a message for every client and never waits on the network.
// A client whose queue is full misses the message. Only encoding errors are
// returned.
func (m *Manager) Broadcast(eventType string, payload interface{}) error {
	data, err := json.Marshal(Message{Type: eventType, Payload: payload})
	if err != nil {
		return err
	}

	m.mu.RLock()
	clients := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(data); err != nil {
			m.dropped.Inc()
			metrics.SinkEvents.WithLabelValues("ws", "dropped").Inc()
			m.log.Warn("Dropping frame for slow client",
				zap.String("client_id", c.ID()),
				zap.Error(err))
		}
	}
	return nil
}

// Close disconnects every client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		_ = c.Close()
		delete(m.clients, id)
	}
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // Allow non-browser clients
	}

	allowedOrigins := os.Getenv("WS_ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "localhost,127.0.0.1"
	}

	originHost := origin
	if i := strings.Index(originHost, "://"); i >= 0 {
		originHost = originHost[i+3:]
	}
	if i := strings.Index(originHost, ":"); i >= 0 {
		originHost = originHost[:i]
	}

	for _, allowed := range strings.Split(allowedOrigins, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == originHost {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(originHost, allowed[1:]) {
			return true
		}
	}

	m.log.Warn("Rejected WebSocket connection",
		zap.String("origin", origin),
		zap.String("allowed_origins", allowedOrigins))
	return false
}

// client implements the Client interface.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte // buffered outgoing queue
	mu     sync.Mutex  // guards send and closed
	closed bool
}

func (c *client) ID() string { return c.id }

// Send queues one text frame without blocking.
func (c *client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops the writer and closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.send)
	return c.conn.Close()
}

// writePump is the only writer on conn. It exits when the queue is closed or
// a write fails.
func (c *client) writePump(timeout time.Duration, onError func(error)) {
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			onError(err)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			onError(err)
			return
		}
	}
}
