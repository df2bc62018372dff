package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/platform/retry"
)

var fixedBackoff = retry.BackoffPolicy{
	Initial:    time.Second,
	Max:        8 * time.Second,
	Multiplier: 2,
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func neverRetry(error) retry.Action  { return retry.Stop }

// advanceUntilDone keeps moving the fake clock forward until op has returned.
func advanceUntilDone(clock *clockwork.FakeClock, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
			clock.Advance(time.Second)
		}
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := retry.NewBackoff(fixedBackoff)

	want := []time.Duration{1, 2, 4, 8, 8, 8}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("delay %d: expected %v, got %v", i, w*time.Second, got)
		}
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("expected reset to initial delay, got %v", got)
	}
}

func TestDefaultBackoff_StaysWithinBounds(t *testing.T) {
	b := retry.NewBackoff(retry.DefaultBackoff())

	first := b.Next()
	if first < time.Second || first > 3*time.Second {
		t.Fatalf("initial delay %v outside [1s, 3s]", first)
	}
	for i := 0; i < 20; i++ {
		if d := b.Next(); d > 60*time.Second {
			t.Fatalf("delay %v exceeds cap", d)
		}
	}
}

func TestSleep_ReturnsWhenClockAdvances(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- retry.Sleep(ctx, clock, 30*time.Second) }()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(30 * time.Second)

	if err := <-errCh; err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Sleep(ctx, clockwork.NewFakeClock(), time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := retry.Policy{MaxAttempts: 3, Backoff: fixedBackoff}

	var delays []time.Duration
	p.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	calls := 0
	done := make(chan struct{})
	var val int
	var err error
	go func() {
		defer close(done)
		val, err = retry.Do(context.Background(), clock, p, alwaysRetry, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
	}()
	advanceUntilDone(clock, done)

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if val != 42 || calls != 3 {
		t.Fatalf("expected 42 after 3 calls, got %d after %d", val, calls)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestDo_StopIsPermanent(t *testing.T) {
	sentinel := errors.New("bad credentials")
	calls := 0

	_, err := retry.Do(context.Background(), clockwork.NewFakeClock(), retry.Policy{MaxAttempts: 5, Backoff: fixedBackoff}, neverRetry, func() (struct{}, error) {
		calls++
		return struct{}{}, sentinel
	})

	var permanent *retry.PermanentError
	if !errors.As(err, &permanent) {
		t.Fatalf("expected PermanentError, got %v", err)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = retry.Do(context.Background(), clock, retry.Policy{MaxAttempts: 2, Backoff: fixedBackoff}, alwaysRetry, func() (struct{}, error) {
			return struct{}{}, errors.New("transient")
		})
	}()
	advanceUntilDone(clock, done)

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}

func TestDo_RejectsZeroAttempts(t *testing.T) {
	_, err := retry.Do(context.Background(), clockwork.NewFakeClock(), retry.Policy{}, alwaysRetry, func() (struct{}, error) {
		return struct{}{}, nil
	})
	if err == nil {
		t.Fatal("expected error for zero MaxAttempts")
	}
}
