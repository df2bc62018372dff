package app

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/detect"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_TriggerReachesEverySink(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hub.New(16, nil)
	a := newFakeSink("overlay")
	b := newFakeSink("chat")
	monitor := NewMonitor(nil, detect.NewClassifier(0), h, &memoryStore{}, clock, MonitorConfig{Interval: testInterval, Seed: 100}, nil)
	p := NewPipeline(monitor,
		h,
		NewForwarder(a, h, clock, ForwarderConfig{}, nil),
		NewForwarder(b, h, clock, ForwarderConfig{}, nil),
	)

	cancel, done := runInBackground(t, p.Run)

	require.Eventually(t, func() bool { return h.Len() == 2 }, time.Second, 5*time.Millisecond)
	res, err := p.Trigger(context.Background(), Trigger{Amount: 250})
	require.NoError(t, err)
	require.True(t, res.Published)

	for _, sink := range []*fakeSink{a, b} {
		sink := sink
		require.Eventually(t, func() bool { return len(sink.deliveredSequences()) == 1 }, time.Second, 5*time.Millisecond)
	}

	status := p.Status()
	assert.Equal(t, int64(350), status.LastTotal)
	assert.Equal(t, 2, status.Consumers)
	assert.Len(t, status.Adapters, 2)
	assert.True(t, p.Ready())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}

	status = p.Status()
	assert.True(t, status.HubClosed)
	for _, a := range status.Adapters {
		assert.Equal(t, "stopped", a.State)
	}
	assert.False(t, p.Ready())
}

func TestPipeline_FailingSinkIsIsolated(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := hub.New(64, nil)
	good := newFakeSink("overlay")
	bad := newFakeSink("lights")
	bad.alwaysFail = true
	monitor := NewMonitor(nil, detect.NewClassifier(0), h, &memoryStore{}, clock, MonitorConfig{Interval: testInterval}, nil)
	badForwarder := NewForwarder(bad, h, clock, ForwarderConfig{}, nil)
	p := NewPipeline(monitor, h, NewForwarder(good, h, clock, ForwarderConfig{}, nil), badForwarder)

	runInBackground(t, p.Run)
	require.Eventually(t, func() bool { return h.Len() == 2 }, time.Second, 5*time.Millisecond)

	const n = 40
	start := time.Now()
	for i := 1; i <= n; i++ {
		res, err := p.Trigger(context.Background(), Trigger{Amount: 10})
		require.NoError(t, err)
		require.True(t, res.Published)
	}
	assert.Less(t, time.Since(start), 2*time.Second, "publishing must not wait on the failing sink")

	require.Eventually(t, func() bool { return len(good.deliveredSequences()) == n }, 2*time.Second, 5*time.Millisecond)
	seqs := good.deliveredSequences()
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}

	assert.Equal(t, StateDisconnected, badForwarder.State())
	assert.Empty(t, bad.deliveredSequences())
}
