package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

type wsMessage struct {
	Event    string `json:"event"`
	Message  string `json:"message"`
	Amount   int64  `json:"amount"`
	Total    int64  `json:"total"`
	Sequence uint64 `json:"sequence"`
}

// Sink renders donation events for the overlay clients of a Broadcaster.
type Sink struct {
	broadcaster *Broadcaster
	gifPath     string

	mu     sync.Mutex
	gifURI string
}

func NewSink(broadcaster *Broadcaster, gifPath string) *Sink {
	return &Sink{broadcaster: broadcaster, gifPath: gifPath}
}

func (s *Sink) Name() string {
	return "overlay"
}

// Connect loads the GIF on first use. A missing or invalid file keeps the
// sink disconnected until it can be read.
func (s *Sink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gifURI != "" {
		return nil
	}
	gif, err := LoadGIF(s.gifPath)
	if err != nil {
		return err
	}
	s.gifURI = DataURI(gif)
	return nil
}

// Deliver pushes the event to every connected page. No clients is not an error.
func (s *Sink) Deliver(ctx context.Context, ev domain.DonationEvent) error {
	s.mu.Lock()
	uri := s.gifURI
	s.mu.Unlock()

	ws, err := json.Marshal(wsMessage{
		Event:    ev.Kind(),
		Message:  ev.Message(),
		Amount:   ev.Amount,
		Total:    ev.TotalAfter,
		Sequence: ev.Sequence,
	})
	if err != nil {
		return fmt.Errorf("failed to encode overlay message: %w", err)
	}
	sse := fmt.Appendf(nil, "id: %d\ndata: %s\n\n", ev.Sequence, uri)

	reached := s.broadcaster.Broadcast(sse, ws)
	slog.DebugContext(ctx, "Overlay notified", "clients", reached)
	return nil
}

// Close disconnects all overlay clients.
func (s *Sink) Close() error {
	s.broadcaster.CloseAll()
	return nil
}
