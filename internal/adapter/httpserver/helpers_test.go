package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/app"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/config"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockPipeline struct {
	mu       sync.Mutex
	triggers []app.Trigger

	triggerFn func(ctx context.Context, t app.Trigger) (app.TriggerResult, error)
	status    app.Status
}

func (m *mockPipeline) Trigger(ctx context.Context, t app.Trigger) (app.TriggerResult, error) {
	m.mu.Lock()
	m.triggers = append(m.triggers, t)
	m.mu.Unlock()

	if m.triggerFn != nil {
		return m.triggerFn(ctx, t)
	}
	return app.TriggerResult{}, errors.New("not implemented")
}

func (m *mockPipeline) Status() app.Status {
	return m.status
}

func (m *mockPipeline) Triggers() []app.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]app.Trigger(nil), m.triggers...)
}

// publishing answers every trigger with an event on top of a running total.
func publishing(start int64) *mockPipeline {
	total := start
	return &mockPipeline{
		triggerFn: func(_ context.Context, t app.Trigger) (app.TriggerResult, error) {
			next := total + t.Amount
			if t.Signal() {
				next = total + 1
			}
			if t.Total > 0 {
				next = t.Total
			}
			if next <= total {
				return app.TriggerResult{}, nil
			}
			ev := domain.DonationEvent{
				Class:      domain.ClassDonation,
				Amount:     next - total,
				TotalAfter: next,
				OccurredAt: time.Date(2025, 12, 14, 18, 0, 0, 0, time.UTC),
				Sequence:   1,
			}
			total = next
			return app.TriggerResult{Event: ev, Published: true}, nil
		},
	}
}

type mockStreams struct{}

func (mockStreams) ServeSSE(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, ": connected\n\n")
}

func (mockStreams) ServeWS(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "upgrade required", http.StatusUpgradeRequired)
}

type mockHistory struct {
	events    []domain.DonationEvent
	err       error
	lastLimit int
}

func (m *mockHistory) Recent(_ context.Context, limit int) ([]domain.DonationEvent, error) {
	m.lastLimit = limit
	return m.events, m.err
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		SprintThreshold:        200,
		OverlayDisplayDuration: 10 * time.Second,
		TriggerRateLimit:       100,
		TriggerBurst:           100,
	}
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if deps.Pipeline == nil {
		deps.Pipeline = &mockPipeline{}
	}
	if deps.Streams == nil {
		deps.Streams = mockStreams{}
	}

	srv, err := NewServer(cfg, deps)
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
