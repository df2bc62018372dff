package detect

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

// Sampler polls a TotalSource once per call. Failures never escape as errors:
// they produce an invalid sample and are logged once per failure streak.
// A Sampler is driven by a single goroutine.
type Sampler struct {
	source domain.TotalSource
	clock  clockwork.Clock

	failures    int
	streakStart time.Time
}

func NewSampler(source domain.TotalSource, clock clockwork.Clock) *Sampler {
	return &Sampler{source: source, clock: clock}
}

func (s *Sampler) Sample(ctx context.Context) domain.Sample {
	now := s.clock.Now()

	text, err := s.source.CurrentText(ctx)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = domain.ErrTotalUnavailable
	}
	if err != nil {
		s.recordFailure(ctx, now, err)
		return domain.Sample{ObservedAt: now}
	}

	s.recordSuccess(ctx, now)
	return domain.Sample{Text: text, ObservedAt: now, Valid: true}
}

// Failing reports whether the last poll failed.
func (s *Sampler) Failing() bool {
	return s.failures > 0
}

func (s *Sampler) recordFailure(ctx context.Context, now time.Time, err error) {
	s.failures++
	if s.failures == 1 {
		s.streakStart = now
		slog.WarnContext(ctx, "Donation total unavailable", "error", err)
		return
	}
	slog.DebugContext(ctx, "Donation total still unavailable", "failures", s.failures, "error", err)
}

func (s *Sampler) recordSuccess(ctx context.Context, now time.Time) {
	if s.failures == 0 {
		return
	}
	slog.InfoContext(ctx, "Donation total available again", "failed_polls", s.failures, "outage", now.Sub(s.streakStart))
	s.failures = 0
}
