package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

// Handle is one consumer's attachment to the Hub. The Hub owns its queue;
// consumers only pull through Hub.Pull.
type Handle struct {
	id uuid.UUID

	mu      sync.Mutex
	ring    []domain.DonationEvent
	head    int
	size    int
	closed  bool
	dropped uint64

	notify chan struct{}
	done   chan struct{}
}

func newHandle(capacity int) *Handle {
	return &Handle{
		id:     uuid.New(),
		ring:   make([]domain.DonationEvent, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() uuid.UUID {
	return h.id
}

// Connected reports whether the handle is still registered.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed
}

// Dropped returns how many events were discarded because the queue was full.
func (h *Handle) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Len returns the number of queued events.
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// enqueue appends ev, evicting the oldest queued event when full.
// It never blocks.
func (h *Handle) enqueue(ev domain.DonationEvent) (evicted bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	if h.size == len(h.ring) {
		h.ring[h.head] = domain.DonationEvent{}
		h.head = (h.head + 1) % len(h.ring)
		h.size--
		h.dropped++
		evicted = true
	}
	h.ring[(h.head+h.size)%len(h.ring)] = ev
	h.size++
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (h *Handle) dequeue() (ev domain.DonationEvent, ok bool, closed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return domain.DonationEvent{}, false, true
	}
	if h.size == 0 {
		return domain.DonationEvent{}, false, false
	}
	ev = h.ring[h.head]
	h.ring[h.head] = domain.DonationEvent{}
	h.head = (h.head + 1) % len(h.ring)
	h.size--
	return ev, true, false
}

func (h *Handle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	clear(h.ring)
	h.head, h.size = 0, 0
	close(h.done)
}
