package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

const DefaultQueueCapacity = 16

// ErrClosed is returned by Publish after Close, and by Pull once the handle
// is deregistered or the hub is closed.
var ErrClosed = errors.New("hub closed")

// Hub fans DonationEvents out to a dynamic set of consumer handles. Each
// handle has its own bounded queue with drop-oldest backpressure, so a stuck
// consumer never blocks Publish or its siblings.
type Hub struct {
	capacity int
	metrics  *metrics.HubMetrics

	mu      sync.Mutex
	handles map[uuid.UUID]*Handle
	closed  bool
}

func New(capacity int, hubMetrics *metrics.HubMetrics) *Hub {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Hub{
		capacity: capacity,
		metrics:  hubMetrics,
		handles:  make(map[uuid.UUID]*Handle),
	}
}

// Register attaches a new consumer. After Close the returned handle is
// already disconnected, so its first Pull reports ErrClosed.
func (h *Hub) Register() *Handle {
	handle := newHandle(h.capacity)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		handle.close()
		return handle
	}

	h.handles[handle.id] = handle
	if h.metrics != nil {
		h.metrics.Consumers.Set(float64(len(h.handles)))
	}
	slog.Debug("Consumer registered", "consumer_id", handle.id.String(), "consumers", len(h.handles))
	return handle
}

// Deregister detaches handle and drops whatever it had not pulled yet.
func (h *Hub) Deregister(handle *Handle) {
	h.mu.Lock()
	if _, ok := h.handles[handle.id]; ok {
		delete(h.handles, handle.id)
		if h.metrics != nil {
			h.metrics.Consumers.Set(float64(len(h.handles)))
		}
	}
	remaining := len(h.handles)
	h.mu.Unlock()

	handle.close()
	slog.Debug("Consumer deregistered", "consumer_id", handle.id.String(), "consumers", remaining)
}

// Publish enqueues ev on every registered handle. The registry lock is held
// for the whole fan-out so concurrent publishers cannot interleave within a
// consumer's queue.
func (h *Hub) Publish(ev domain.DonationEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	for id, handle := range h.handles {
		if handle.enqueue(ev) {
			if h.metrics != nil {
				h.metrics.Dropped.Inc()
			}
			slog.Debug("Consumer queue full, dropped oldest event", "consumer_id", id.String(), "sequence", ev.Sequence)
		}
	}
	if h.metrics != nil {
		h.metrics.Published.Inc()
	}
	return nil
}

// Pull blocks until an event is available for handle. It returns ErrClosed
// when the handle is deregistered or the hub is closed, and ctx.Err() when
// ctx ends first.
func (h *Hub) Pull(ctx context.Context, handle *Handle) (domain.DonationEvent, error) {
	for {
		ev, ok, closed := handle.dequeue()
		if ok {
			return ev, nil
		}
		if closed {
			return domain.DonationEvent{}, ErrClosed
		}

		select {
		case <-handle.notify:
		case <-handle.done:
		case <-ctx.Done():
			return domain.DonationEvent{}, ctx.Err()
		}
	}
}

// Close rejects further publishes and releases every blocked Pull.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	handles := h.handles
	h.handles = make(map[uuid.UUID]*Handle)
	if h.metrics != nil {
		h.metrics.Consumers.Set(0)
	}
	h.mu.Unlock()

	for _, handle := range handles {
		handle.close()
	}
	slog.Info("Hub closed", "consumers", len(handles))
}

// Len returns the number of registered consumers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
