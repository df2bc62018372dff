package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/detect"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/correlation"
)

const (
	sourcePoll    = "poll"
	sourceTrigger = "trigger"

	// MaxTriggerValue bounds trigger amounts and totals.
	MaxTriggerValue int64 = 1_000_000_000_000

	DefaultSignalAmount int64 = 1
)

// SampleSource produces one observation of the donation total per call.
type SampleSource interface {
	Sample(ctx context.Context) domain.Sample
}

// EventPublisher receives classified events. *hub.Hub implements it.
type EventPublisher interface {
	Publish(ev domain.DonationEvent) error
}

// Trigger is a manually injected donation. Amount is relative to the last
// known total, Total is absolute. At most one may be set; a Trigger with
// neither is a signal that a donation happened.
//
// While the monitor polls, a trigger is published against the last polled
// total but never becomes the baseline, and a signal polls immediately.
type Trigger struct {
	Amount int64 `json:"amount"`
	Total  int64 `json:"total"`
}

// Signal reports whether the trigger carries no amount or total.
func (t Trigger) Signal() bool {
	return t.Amount == 0 && t.Total == 0
}

// TriggerResult reports what a trigger produced. Published is false when the
// resulting total made no forward progress.
type TriggerResult struct {
	Event     domain.DonationEvent
	Published bool
}

type triggerCommand struct {
	trigger Trigger
	reply   chan triggerReply
}

type triggerReply struct {
	result TriggerResult
	err    error
}

// MonitorConfig configures a Monitor. SignalAmount is the amount published
// for a signal trigger when the monitor does not poll.
type MonitorConfig struct {
	Interval     time.Duration
	Seed         int64
	SignalAmount int64
}

// Monitor is the single owner of the previous total. Polls and triggers are
// serialized through its Run loop, so classification never races.
type Monitor struct {
	sampler    SampleSource
	classifier *detect.Classifier
	publisher  EventPublisher
	store      domain.StateStore
	clock      clockwork.Clock
	interval   time.Duration
	signal     int64
	metrics    *metrics.MonitorMetrics

	// owned by the Run goroutine
	previous int64

	commands chan triggerCommand
	done     chan struct{}

	lastTotal atomic.Int64
	lastPoll  atomic.Int64 // unix nanos, 0 until the first poll
}

// NewMonitor creates a monitor seeded with cfg.Seed. A nil sampler disables
// polling; the monitor then only serves triggers.
func NewMonitor(
	sampler SampleSource,
	classifier *detect.Classifier,
	publisher EventPublisher,
	store domain.StateStore,
	clock clockwork.Clock,
	cfg MonitorConfig,
	monitorMetrics *metrics.MonitorMetrics,
) *Monitor {
	if cfg.SignalAmount <= 0 {
		cfg.SignalAmount = DefaultSignalAmount
	}
	m := &Monitor{
		sampler:    sampler,
		classifier: classifier,
		publisher:  publisher,
		store:      store,
		clock:      clock,
		interval:   cfg.Interval,
		signal:     cfg.SignalAmount,
		metrics:    monitorMetrics,
		previous:   cfg.Seed,
		commands:   make(chan triggerCommand),
		done:       make(chan struct{}),
	}
	m.lastTotal.Store(cfg.Seed)
	if m.metrics != nil {
		m.metrics.LastTotal.Set(float64(cfg.Seed))
	}
	return m
}

// Run polls immediately and then once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.done)

	var tick <-chan time.Time
	if m.sampler != nil {
		ticker := m.clock.NewTicker(m.interval)
		defer ticker.Stop()
		tick = ticker.Chan()

		m.poll(ctx)
	}

	slog.Info("Monitor started", "interval", m.interval, "polling", m.sampler != nil, "total", m.previous)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Monitor stopped", "total", m.previous)
			return nil
		case <-tick:
			m.poll(ctx)
		case cmd := <-m.commands:
			result, err := m.applyTrigger(ctx, cmd.trigger)
			cmd.reply <- triggerReply{result: result, err: err}
		}
	}
}

// Trigger injects a synthetic sample into the Run loop and waits for the
// outcome. It returns domain.ErrMonitorStopped once Run has exited.
func (m *Monitor) Trigger(ctx context.Context, t Trigger) (TriggerResult, error) {
	if err := validateTrigger(t); err != nil {
		return TriggerResult{}, err
	}

	cmd := triggerCommand{trigger: t, reply: make(chan triggerReply, 1)}
	select {
	case m.commands <- cmd:
	case <-m.done:
		return TriggerResult{}, domain.ErrMonitorStopped
	case <-ctx.Done():
		return TriggerResult{}, ctx.Err()
	}

	select {
	case reply := <-cmd.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return TriggerResult{}, ctx.Err()
	}
}

// LastTotal is the last distributed total, or the seed.
func (m *Monitor) LastTotal() int64 {
	return m.lastTotal.Load()
}

// LastPoll is the time of the most recent poll, zero before the first one.
func (m *Monitor) LastPoll() time.Time {
	ns := m.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Ready reports whether the monitor has completed its first poll, or does
// not poll at all.
func (m *Monitor) Ready() bool {
	return m.sampler == nil || m.lastPoll.Load() != 0
}

func (m *Monitor) poll(ctx context.Context) (domain.DonationEvent, bool) {
	pollCtx := correlation.WithID(ctx, correlation.NewID())

	sample := m.sampler.Sample(pollCtx)
	m.lastPoll.Store(m.clock.Now().UnixNano())

	if m.metrics != nil {
		result := "valid"
		if !sample.Valid {
			result = "invalid"
		}
		m.metrics.Polls.WithLabelValues(result).Inc()
	}

	return m.process(pollCtx, sample, sourcePoll)
}

func (m *Monitor) applyTrigger(ctx context.Context, t Trigger) (TriggerResult, error) {
	triggerCtx := correlation.WithAttrs(ctx, slog.String("source", sourceTrigger))

	if t.Signal() && m.sampler != nil {
		ev, published := m.poll(triggerCtx)
		return TriggerResult{Event: ev, Published: published}, nil
	}

	target, err := m.triggerTarget(t)
	if err != nil {
		return TriggerResult{}, err
	}
	sample := domain.Sample{
		Text:       strconv.FormatInt(target, 10),
		ObservedAt: m.clock.Now(),
		Valid:      true,
	}

	if m.sampler != nil {
		ev, published := m.publish(triggerCtx, sample, sourceTrigger)
		return TriggerResult{Event: ev, Published: published}, nil
	}
	ev, published := m.process(triggerCtx, sample, sourceTrigger)
	return TriggerResult{Event: ev, Published: published}, nil
}

func (m *Monitor) triggerTarget(t Trigger) (int64, error) {
	if t.Total > 0 {
		return t.Total, nil
	}
	amount := t.Amount
	if t.Signal() {
		amount = m.signal
	}
	if amount > math.MaxInt64-m.previous {
		return 0, fmt.Errorf("%w: amount %d overflows the total %d", domain.ErrInvalidTrigger, amount, m.previous)
	}
	return m.previous + amount, nil
}

// process publishes the event for sample and only then advances and
// persists the total.
func (m *Monitor) process(ctx context.Context, sample domain.Sample, source string) (domain.DonationEvent, bool) {
	ev, ok := m.publish(ctx, sample, source)
	if !ok {
		return domain.DonationEvent{}, false
	}

	m.previous = ev.TotalAfter
	m.lastTotal.Store(ev.TotalAfter)
	if m.metrics != nil {
		m.metrics.LastTotal.Set(float64(ev.TotalAfter))
	}

	if err := m.store.Save(ctx, ev.TotalAfter); err != nil {
		if m.metrics != nil {
			m.metrics.PersistFails.Inc()
		}
		slog.ErrorContext(ctx, "Failed to persist donation total", "total", ev.TotalAfter, "error", err)
	}

	return ev, true
}

// publish classifies sample against the previous total and hands the event
// to the hub. It leaves the previous total untouched.
func (m *Monitor) publish(ctx context.Context, sample domain.Sample, source string) (domain.DonationEvent, bool) {
	ev, ok, err := m.classifier.Classify(m.previous, sample)
	if err != nil {
		m.recordSampleError(ctx, sample, err)
		return domain.DonationEvent{}, false
	}
	if !ok {
		return domain.DonationEvent{}, false
	}

	if err := m.publisher.Publish(ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish donation event", "sequence", ev.Sequence, "error", err)
		return domain.DonationEvent{}, false
	}

	if m.metrics != nil {
		m.metrics.Events.WithLabelValues(ev.Class.String(), source).Inc()
	}
	slog.InfoContext(ctx, "Donation detected",
		"class", ev.Class.String(),
		"amount", ev.Amount,
		"total", ev.TotalAfter,
		"sequence", ev.Sequence,
		"source", source)

	return ev, true
}

func (m *Monitor) recordSampleError(ctx context.Context, sample domain.Sample, err error) {
	reason := "malformed"
	if errors.Is(err, domain.ErrTotalDecreased) {
		reason = "decreased"
		slog.WarnContext(ctx, "Donation total went backwards, ignoring sample", "previous", m.previous, "text", sample.Text, "error", err)
	} else {
		slog.WarnContext(ctx, "Discarding malformed sample", "text", sample.Text, "error", err)
	}
	if m.metrics != nil {
		m.metrics.SampleErrors.WithLabelValues(reason).Inc()
	}
}

func validateTrigger(t Trigger) error {
	switch {
	case t.Amount < 0 || t.Total < 0:
		return fmt.Errorf("%w: values must be positive", domain.ErrInvalidTrigger)
	case t.Amount > 0 && t.Total > 0:
		return fmt.Errorf("%w: set either amount or total, not both", domain.ErrInvalidTrigger)
	case t.Amount > MaxTriggerValue || t.Total > MaxTriggerValue:
		return fmt.Errorf("%w: values must not exceed %d", domain.ErrInvalidTrigger, MaxTriggerValue)
	}
	return nil
}
