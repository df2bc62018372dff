package app

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/adapter/metrics"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/hub"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/correlation"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
)

const DefaultAttemptTimeout = 30 * time.Second

var errConnectionLost = errors.New("connection lost")

// Sink is a downstream consumer of donation events. Close must be safe to
// call on a sink that never connected or is already closed.
type Sink interface {
	Name() string
	Connect(ctx context.Context) error
	Deliver(ctx context.Context, ev domain.DonationEvent) error
	Close() error
}

// ConnectionWatcher is implemented by sinks whose connection can fail while
// no event is in flight. Done is closed once the current connection is lost.
type ConnectionWatcher interface {
	Done() <-chan struct{}
}

// EventSource hands out consumer handles. *hub.Hub implements it.
type EventSource interface {
	Register() *hub.Handle
	Deregister(h *hub.Handle)
	Pull(ctx context.Context, h *hub.Handle) (domain.DonationEvent, error)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDelivering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDelivering:
		return "delivering"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type ForwarderConfig struct {
	AttemptTimeout time.Duration
	Backoff        retry.BackoffPolicy
}

// Forwarder drains one hub handle into one sink. Failures only affect this
// forwarder: the event in flight is dropped, the sink is closed, and the
// forwarder reconnects after a backoff wait while the hub keeps queueing.
type Forwarder struct {
	sink    Sink
	source  EventSource
	clock   clockwork.Clock
	cfg     ForwarderConfig
	metrics *metrics.ForwarderMetrics

	state      atomic.Int32
	registered chan struct{}
}

func NewForwarder(sink Sink, source EventSource, clock clockwork.Clock, cfg ForwarderConfig, forwarderMetrics *metrics.ForwarderMetrics) *Forwarder {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = retry.DefaultBackoff()
	}
	f := &Forwarder{
		sink:       sink,
		source:     source,
		clock:      clock,
		cfg:        cfg,
		metrics:    forwarderMetrics,
		registered: make(chan struct{}),
	}
	f.setState(StateDisconnected)
	return f
}

func (f *Forwarder) Name() string {
	return f.sink.Name()
}

func (f *Forwarder) State() State {
	return State(f.state.Load())
}

// Registered is closed once Run has attached to the event source.
func (f *Forwarder) Registered() <-chan struct{} {
	return f.registered
}

// Run drives the sink until ctx is cancelled or the event source closes.
func (f *Forwarder) Run(ctx context.Context) error {
	name := f.sink.Name()
	handle := f.source.Register()
	close(f.registered)

	defer func() {
		f.source.Deregister(handle)
		f.closeSink()
		f.setState(StateStopped)
		slog.Info("Adapter stopped", "adapter", name)
	}()

	b := retry.NewBackoff(f.cfg.Backoff)
	connected := false

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !connected {
			f.setState(StateConnecting)
			if err := f.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if f.metrics != nil {
					f.metrics.Reconnects.WithLabelValues(name).Inc()
				}
				if !f.disconnect(ctx, b, "Adapter connect failed", err) {
					return nil
				}
				continue
			}
			b.Reset()
			connected = true
			f.setState(StateConnected)
			slog.Info("Adapter connected", "adapter", name)
		}

		ev, lost, err := f.pull(ctx, handle)
		if lost {
			connected = false
			if f.metrics != nil {
				f.metrics.Reconnects.WithLabelValues(name).Inc()
			}
			if !f.disconnect(ctx, b, "Adapter connection lost while idle", errConnectionLost) {
				return nil
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, hub.ErrClosed) && ctx.Err() == nil {
				slog.Warn("Adapter pull failed", "adapter", name, "error", err)
			}
			return nil
		}

		f.setState(StateDelivering)
		if err := f.deliver(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.recordDelivery("error")
			connected = false
			if !f.disconnect(ctx, b, "Adapter delivery failed, dropping event", err, "sequence", ev.Sequence) {
				return nil
			}
			continue
		}

		f.recordDelivery("ok")
		f.setState(StateConnected)
	}
}

// pull waits for the next event. For a ConnectionWatcher sink the wait also
// ends when the connection drops; lost is then true and no event is taken
// from the queue.
func (f *Forwarder) pull(ctx context.Context, handle *hub.Handle) (ev domain.DonationEvent, lost bool, err error) {
	watcher, ok := f.sink.(ConnectionWatcher)
	if !ok {
		ev, err = f.source.Pull(ctx, handle)
		return ev, false, err
	}

	connDone := watcher.Done()
	select {
	case <-connDone:
		return domain.DonationEvent{}, true, nil
	default:
	}

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-connDone:
			cancel()
		case <-pullCtx.Done():
		}
	}()

	ev, err = f.source.Pull(pullCtx, handle)
	if err != nil && ctx.Err() == nil && pullCtx.Err() != nil {
		return domain.DonationEvent{}, true, nil
	}
	return ev, false, err
}

func (f *Forwarder) connect(ctx context.Context) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()
	return f.sink.Connect(attemptCtx)
}

func (f *Forwarder) deliver(ctx context.Context, ev domain.DonationEvent) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()
	attemptCtx = correlation.WithAttrs(attemptCtx, slog.String("adapter", f.sink.Name()), slog.Uint64("sequence", ev.Sequence))

	if err := f.sink.Deliver(attemptCtx, ev); err != nil {
		return err
	}
	slog.DebugContext(attemptCtx, "Event delivered", "class", ev.Class.String())
	return nil
}

// disconnect closes the sink and waits out the next backoff delay. It
// returns false when ctx ended during the wait.
func (f *Forwarder) disconnect(ctx context.Context, b *retry.Backoff, msg string, err error, attrs ...any) bool {
	f.closeSink()
	f.setState(StateDisconnected)

	delay := b.Next()
	args := append([]any{"adapter", f.sink.Name(), "error", err, "retry_in", delay}, attrs...)
	slog.Warn(msg, args...)

	return retry.Sleep(ctx, f.clock, delay) == nil
}

func (f *Forwarder) closeSink() {
	if err := f.sink.Close(); err != nil {
		slog.Debug("Adapter close failed", "adapter", f.sink.Name(), "error", err)
	}
}

func (f *Forwarder) setState(s State) {
	prev := State(f.state.Swap(int32(s)))
	if f.metrics != nil {
		f.metrics.State.WithLabelValues(f.sink.Name()).Set(float64(s))
	}
	if prev != s {
		slog.Debug("Adapter state changed", "adapter", f.sink.Name(), "from", prev.String(), "to", s.String())
	}
}

func (f *Forwarder) recordDelivery(result string) {
	if f.metrics != nil {
		f.metrics.Deliveries.WithLabelValues(f.sink.Name(), result).Inc()
	}
}
