package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

// scriptedSampler replays texts in order; "" is an invalid sample. The last
// entry repeats once the script is exhausted.
type scriptedSampler struct {
	mu    sync.Mutex
	texts []string
	calls int
}

func (s *scriptedSampler) Sample(_ context.Context) domain.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.texts[min(s.calls, len(s.texts)-1)]
	s.calls++
	return domain.Sample{Text: text, Valid: text != ""}
}

func (s *scriptedSampler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DonationEvent
	err    error
}

func (p *recordingPublisher) Publish(ev domain.DonationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) published() []domain.DonationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.DonationEvent, len(p.events))
	copy(out, p.events)
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	saved []int64
	err   error
}

func (s *memoryStore) Load(_ context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return 0, false, nil
	}
	return s.saved[len(s.saved)-1], true, nil
}

func (s *memoryStore) Save(_ context.Context, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, total)
	return nil
}

func (s *memoryStore) totals() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.saved))
	copy(out, s.saved)
	return out
}

// fakeSink fails Connect with each queued error in turn and Deliver for
// every sequence listed in failSeq.
type fakeSink struct {
	name string

	mu          sync.Mutex
	connectErrs []error
	failSeq     map[uint64]bool
	alwaysFail  bool
	delivered   []domain.DonationEvent
	connects    int
	closes      int
}

var errSinkDown = errors.New("sink down")

func newFakeSink(name string) *fakeSink {
	return &fakeSink{name: name, failSeq: map[uint64]bool{}}
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Connect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.alwaysFail {
		return errSinkDown
	}
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSink) Deliver(_ context.Context, ev domain.DonationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSeq[ev.Sequence] {
		return errSinkDown
	}
	s.delivered = append(s.delivered, ev)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) deliveredSequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.delivered))
	for _, ev := range s.delivered {
		out = append(out, ev.Sequence)
	}
	return out
}

func (s *fakeSink) counts() (connects, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects, s.closes
}

func runInBackground(t *testing.T, run func(ctx context.Context) error) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

// watchingSink is a fakeSink whose connection the test can drop while the
// forwarder is idle.
type watchingSink struct {
	*fakeSink

	connMu sync.Mutex
	conn   chan struct{}
}

func newWatchingSink(name string) *watchingSink {
	return &watchingSink{fakeSink: newFakeSink(name)}
}

func (s *watchingSink) Connect(ctx context.Context) error {
	if err := s.fakeSink.Connect(ctx); err != nil {
		return err
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn = make(chan struct{})
	return nil
}

func (s *watchingSink) Deliver(ctx context.Context, ev domain.DonationEvent) error {
	select {
	case <-s.Done():
		return errSinkDown
	default:
	}
	return s.fakeSink.Deliver(ctx, ev)
}

func (s *watchingSink) Done() <-chan struct{} {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *watchingSink) drop() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	close(s.conn)
}
