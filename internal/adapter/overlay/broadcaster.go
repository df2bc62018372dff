package overlay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
)

const (
	transportSSE       = "sse"
	transportWebSocket = "websocket"

	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	sseKeepAlive      = 15 * time.Second
	messageBufferSize = 16
	maxClientMessage  = 512
)

type client struct {
	id        uuid.UUID
	transport string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Broadcaster keeps the connected overlay pages. Each client has a bounded
// send buffer; a client whose buffer is full is disconnected instead of
// slowing down the others.
type Broadcaster struct {
	clock    clockwork.Clock
	metrics  *metrics.OverlayMetrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[uuid.UUID]*client
}

func NewBroadcaster(clock clockwork.Clock, checkOrigin func(r *http.Request) bool, overlayMetrics *metrics.OverlayMetrics) *Broadcaster {
	return &Broadcaster{
		clock:   clock,
		metrics: overlayMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[uuid.UUID]*client),
	}
}

// Broadcast queues sse for every SSE client and ws for every WebSocket
// client. It never blocks and returns the number of clients reached.
func (b *Broadcaster) Broadcast(sse, ws []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	reached := 0
	for id, c := range b.clients {
		msg := sse
		if c.transport == transportWebSocket {
			msg = ws
		}

		select {
		case c.send <- msg:
			reached++
			if b.metrics != nil {
				b.metrics.Pushed.Inc()
			}
		default:
			delete(b.clients, id)
			c.close()
			if b.metrics != nil {
				b.metrics.Clients.WithLabelValues(c.transport).Dec()
				b.metrics.Evicted.Inc()
			}
			slog.Warn("Overlay client too slow, disconnecting", "client_id", id.String(), "transport", c.transport)
		}
	}
	return reached
}

// ClientCount returns the number of connected overlay clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// CloseAll disconnects every client. Pages reconnect on their own.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[uuid.UUID]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
		if b.metrics != nil {
			b.metrics.Clients.WithLabelValues(c.transport).Dec()
		}
	}
	if len(clients) > 0 {
		slog.Info("Overlay clients disconnected", "count", len(clients))
	}
}

func (b *Broadcaster) add(transport string) *client {
	c := &client{
		id:        uuid.New(),
		transport: transport,
		send:      make(chan []byte, messageBufferSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[c.id] = c
	count := len(b.clients)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Clients.WithLabelValues(transport).Inc()
	}
	slog.Info("Overlay client connected", "client_id", c.id.String(), "transport", transport, "clients", count)
	return c
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c.id]
	delete(b.clients, c.id)
	b.mu.Unlock()

	c.close()
	if ok {
		if b.metrics != nil {
			b.metrics.Clients.WithLabelValues(c.transport).Dec()
		}
		slog.Info("Overlay client disconnected", "client_id", c.id.String(), "transport", c.transport)
	}
}

// ServeSSE streams events to an EventSource until the request ends or the
// client is disconnected.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	flusher.Flush()

	c := b.add(transportSSE)
	defer b.remove(c)

	ticker := b.clock.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.Chan():
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-c.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ServeWS upgrades the request and pushes events as JSON text frames.
// Incoming messages are read and discarded to keep the pong handler running.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Overlay WebSocket upgrade failed", "error", err)
		return
	}

	c := b.add(transportWebSocket)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		b.writeLoop(conn, c)
	}()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(b.clock.Now().Add(pongDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(b.clock.Now().Add(pongDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	b.remove(c)
	<-writerDone
}

func (b *Broadcaster) writeLoop(conn *websocket.Conn, c *client) {
	defer func() { _ = conn.Close() }()

	ticker := b.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = conn.SetWriteDeadline(b.clock.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			_ = conn.SetWriteDeadline(b.clock.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = conn.SetWriteDeadline(b.clock.Now().Add(writeDeadline))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
			return
		}
	}
}
