package sync

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProber returns a scripted reachability state.
type fakeProber struct {
	reachable atomic.Bool
	probes    atomic.Int32
}

func (p *fakeProber) Reachable(context.Context) bool {
	p.probes.Add(1)

	return p.reachable.Load()
}

// countingKicker counts drain triggers.
type countingKicker struct {
	kicks atomic.Int32
}

func (k *countingKicker) Kick() { k.kicks.Add(1) }

// sleepRecorder replaces the settle sleep and records requested durations.
type sleepRecorder struct {
	mu        stdsync.Mutex
	durations []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations = append(s.durations, d)

	return nil
}

func (s *sleepRecorder) slept() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]time.Duration, len(s.durations))
	copy(out, s.durations)

	return out
}

func newTestMonitor(p Prober, k Kicker) (*Monitor, *sleepRecorder) {
	m := NewMonitor(MonitorConfig{
		Prober:      p,
		Worker:      k,
		Logger:      testLogger(),
		SettleDelay: 2 * time.Second,
	})

	rec := &sleepRecorder{}
	m.sleepFunc = rec.sleep

	return m, rec
}

func TestHandleProbe_RecoveryTriggersOneDrain(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	prober.reachable.Store(true)

	kicker := &countingKicker{}
	m, rec := newTestMonitor(prober, kicker)

	ctx := context.Background()

	// Starts offline: the first reachable observation settles, re-verifies,
	// and triggers exactly one drain.
	m.handleProbe(ctx, true)

	assert.Equal(t, int32(1), kicker.kicks.Load())
	assert.True(t, m.Online())

	slept := rec.slept()
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])

	// Re-verification consumed one probe.
	assert.Equal(t, int32(1), prober.probes.Load())
}

func TestHandleProbe_LatchSuppressesRedundantKicks(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	prober.reachable.Store(true)

	kicker := &countingKicker{}
	m, _ := newTestMonitor(prober, kicker)

	ctx := context.Background()

	m.handleProbe(ctx, true)
	m.handleProbe(ctx, true)
	m.handleProbe(ctx, true)

	assert.Equal(t, int32(1), kicker.kicks.Load(),
		"staying online must not re-trigger drains")
}

func TestHandleProbe_LossRearmsLatch(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	prober.reachable.Store(true)

	kicker := &countingKicker{}
	m, _ := newTestMonitor(prober, kicker)

	ctx := context.Background()

	m.handleProbe(ctx, true)
	require.True(t, m.Online())

	m.handleProbe(ctx, false)
	assert.False(t, m.Online())

	// Second recovery triggers a second drain.
	m.handleProbe(ctx, true)
	assert.Equal(t, int32(2), kicker.kicks.Load())
}

func TestHandleProbe_FlappingLinkStaysOffline(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	kicker := &countingKicker{}
	m, _ := newTestMonitor(prober, kicker)

	ctx := context.Background()

	// The link reports up once but is down again at re-verification.
	prober.reachable.Store(false)
	m.handleProbe(ctx, true)

	assert.False(t, m.Online(), "re-verification failure keeps the monitor offline")
	assert.Zero(t, kicker.kicks.Load())
}

func TestRun_ProbesImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	prober.reachable.Store(true)

	kicker := &countingKicker{}

	m := NewMonitor(MonitorConfig{
		Prober:       prober,
		Worker:       kicker,
		Logger:       testLogger(),
		PollInterval: time.Hour,
	})
	m.sleepFunc = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// The first probe happens before the first tick.
	require.Eventually(t, func() bool {
		return kicker.kicks.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
}

func TestResyncLoop_KicksOnlyWhileOnline(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{}
	prober.reachable.Store(true)

	kicker := &countingKicker{}

	m := NewMonitor(MonitorConfig{
		Prober:         prober,
		Worker:         kicker,
		Logger:         testLogger(),
		PollInterval:   time.Hour,
		ResyncInterval: 20 * time.Millisecond,
	})
	m.sleepFunc = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = m.Run(ctx) }()

	// Initial recovery kick plus at least one periodic re-sync.
	require.Eventually(t, func() bool {
		return kicker.kicks.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	m := NewMonitor(MonitorConfig{Prober: &fakeProber{}, Worker: &countingKicker{}})

	assert.Equal(t, defaultPollInterval, m.poll)
	assert.Equal(t, defaultSettleDelay, m.settle)
	assert.Equal(t, defaultResyncInterval, m.resync)
	assert.False(t, m.Online(), "a fresh monitor assumes offline until proven otherwise")
}
