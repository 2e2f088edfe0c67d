package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayconnect/internal/eventbus"
	logx "stayconnect/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, clock *fakeClock, bus eventbus.Bus) *Service {
	t.Helper()
	if bus == nil {
		bus = eventbus.New()
	}
	s := New(Config{Timezone: "UTC", RetryDelay: 5 * time.Minute, RetryMax: 3}, logx.Nop(), bus, WithClock(clock.Now))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

// tickAndWait runs one scan and waits for the dispatched actions.
func tickAndWait(t *testing.T, s *Service) int {
	t.Helper()
	n, skipped := s.Tick(context.Background())
	require.False(t, skipped)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	return n
}

func flakyJob(id, schedule string, failures int, calls *atomic.Int32) Job {
	return Job{
		ID:         id,
		Name:       id,
		Schedule:   schedule,
		Enabled:    true,
		MaxRetries: 3,
		Run: func(ctx context.Context) error {
			if int(calls.Add(1)) <= failures {
				return errors.New("upstream unavailable")
			}
			return nil
		},
	}
}

func TestRegisterComputesNextRun(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 13, 5)}
	s := newTestService(t, clock, nil)
	require.NoError(t, s.Register(Job{ID: "releases", Schedule: "0 */6 * * *", Enabled: true, Run: func(context.Context) error { return nil }}))

	st, err := s.Get("releases")
	require.NoError(t, err)
	assert.Equal(t, "releases", st.Name)
	assert.Equal(t, at(10, 18, 0), st.NextRun)
	assert.True(t, st.LastRun.IsZero())
	assert.Equal(t, 3, st.MaxRetries)
	assert.Equal(t, StateEnabled, st.State())
	assert.Equal(t, "every 6 hours", st.Recurrence)
}

func TestRegisterValidates(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	err := s.Register(Job{Schedule: "0 2 * * *", Run: func(context.Context) error { return nil }})
	assert.True(t, errors.Is(err, ErrInvalidJob))
	err = s.Register(Job{ID: "x", Schedule: "0 2 * * *"})
	assert.True(t, errors.Is(err, ErrInvalidJob))
}

func TestMutualExclusion(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := newTestService(t, clock, nil)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var inFlight, maxInFlight, calls atomic.Int32
	require.NoError(t, s.Register(Job{
		ID:       "slow",
		Schedule: "0 2 * * *",
		Enabled:  true,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			started <- struct{}{}
			<-release
			inFlight.Add(-1)
			return nil
		},
	}))

	require.NoError(t, s.TriggerAsync("slow"))
	<-started

	err := s.Trigger(context.Background(), "slow")
	assert.True(t, errors.Is(err, ErrJobAlreadyRunning), "got %v", err)
	assert.True(t, errors.Is(s.TriggerAsync("slow"), ErrJobAlreadyRunning))

	// Due by schedule, but still running: the scan must not pick it up.
	clock.Set(at(10, 2, 30))
	n, skipped := s.Tick(context.Background())
	assert.False(t, skipped)
	assert.Zero(t, n)

	st, err := s.Get("slow")
	require.NoError(t, err)
	assert.True(t, st.IsRunning)
	assert.Equal(t, StateRunning, st.State())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
	st, _ = s.Get("slow")
	assert.False(t, st.IsRunning)
}

func TestRetryThenDisable(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	disabledEvents, unsub := bus.Subscribe(8, EventJobDisabled)
	defer unsub()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := newTestService(t, clock, bus)
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 100, &calls)))

	clock.Set(at(10, 2, 0))
	require.Equal(t, 1, tickAndWait(t, s))
	st, _ := s.Get("J")
	assert.Equal(t, 1, st.RetryCount)
	assert.True(t, st.Enabled)
	assert.Equal(t, at(10, 2, 5), st.NextRun)
	assert.Equal(t, "upstream unavailable", st.LastError)

	clock.Set(at(10, 2, 5))
	require.Equal(t, 1, tickAndWait(t, s))
	clock.Set(at(10, 2, 10))
	require.Equal(t, 1, tickAndWait(t, s))

	st, _ = s.Get("J")
	assert.False(t, st.Enabled)
	assert.Equal(t, 3, st.RetryCount)
	assert.Equal(t, StateDisabled, st.State())
	assert.Equal(t, at(11, 2, 0), st.NextRun)

	// A fourth due time comes and goes without an attempt.
	clock.Set(at(11, 3, 0))
	assert.Zero(t, tickAndWait(t, s))
	assert.Equal(t, int32(3), calls.Load())

	require.Len(t, disabledEvents, 1)
	ev := (<-disabledEvents).Data.(JobEvent)
	assert.Equal(t, "J", ev.JobID)
	assert.Equal(t, 3, ev.RetryCount)

	// Re-enabling does not reset the counter.
	require.NoError(t, s.SetEnabled("J", true))
	st, _ = s.Get("J")
	assert.True(t, st.Enabled)
	assert.Equal(t, 3, st.RetryCount)
}

func TestSuccessResetsRetryCount(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := newTestService(t, clock, nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 2, &calls)))

	for _, step := range []time.Time{at(10, 2, 0), at(10, 2, 5)} {
		clock.Set(step)
		require.Equal(t, 1, tickAndWait(t, s))
	}
	st, _ := s.Get("J")
	require.Equal(t, 2, st.RetryCount)

	require.NoError(t, s.Trigger(context.Background(), "J"))
	st, _ = s.Get("J")
	assert.Zero(t, st.RetryCount)
	assert.True(t, st.Enabled)
	assert.Empty(t, st.LastError)
	assert.Equal(t, at(11, 2, 0), st.NextRun)
}

func TestScanSkippedWhileAnotherScanRuns(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := newTestService(t, clock, nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 0, &calls)))
	clock.Set(at(10, 2, 1))

	s.scanning.Store(true)
	n, skipped := s.Tick(context.Background())
	assert.True(t, skipped)
	assert.Zero(t, n)
	st, _ := s.Get("J")
	assert.True(t, st.LastRun.IsZero())
	assert.Zero(t, calls.Load())

	s.scanning.Store(false)
	assert.Equal(t, 1, tickAndWait(t, s))
	assert.Equal(t, int32(1), calls.Load())
}

func TestConcurrentTicksRunJobOnce(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := newTestService(t, clock, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{
		ID: "J", Schedule: "0 2 * * *", Enabled: true,
		Run: func(ctx context.Context) error {
			calls.Add(1)
			<-release
			return nil
		},
	}))
	clock.Set(at(10, 2, 0))

	var wg sync.WaitGroup
	var dispatched atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := s.Tick(context.Background())
			dispatched.Add(int32(n))
		}()
	}
	wg.Wait()
	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, int32(1), dispatched.Load())
	assert.Equal(t, int32(1), calls.Load())
}

// J1 fails twice then succeeds across three consecutive due times.
func TestRetryScenario(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 0, 30)}
	s := newTestService(t, clock, nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J1", "0 2 * * *", 2, &calls)))

	for i := 0; i < 3; i++ {
		st, _ := s.Get("J1")
		clock.Set(st.NextRun.Add(time.Second))
		require.Equal(t, 1, tickAndWait(t, s))
	}

	st, err := s.Get("J1")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Zero(t, st.RetryCount)
	assert.False(t, st.IsRunning)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(3), st.Runs)
	assert.Equal(t, at(11, 2, 0), st.NextRun)
}

func TestTriggerUnknownJob(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	assert.True(t, errors.Is(s.Trigger(context.Background(), "nope"), ErrJobNotFound))
	assert.True(t, errors.Is(s.TriggerAsync("nope"), ErrJobNotFound))
	assert.True(t, errors.Is(s.SetEnabled("nope", true), ErrJobNotFound))
	_, err := s.Get("nope")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestTriggerIgnoresEnabledFlag(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	var calls atomic.Int32
	j := flakyJob("J", "0 2 * * *", 0, &calls)
	j.Enabled = false
	require.NoError(t, s.Register(j))

	require.NoError(t, s.Trigger(context.Background(), "J"))
	assert.Equal(t, int32(1), calls.Load())
	st, _ := s.Get("J")
	assert.False(t, st.Enabled)
	assert.Equal(t, at(10, 0, 0), st.LastRun)
}

func TestPanicCountsAsFailure(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	require.NoError(t, s.Register(Job{
		ID: "P", Schedule: "0 2 * * *", Enabled: true,
		Run: func(context.Context) error { panic("nil map") },
	}))

	err := s.Trigger(context.Background(), "P")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	st, _ := s.Get("P")
	assert.Equal(t, 1, st.RetryCount)
	assert.False(t, st.IsRunning)
}

func TestReRegisterKeepsRunningFlag(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Register(Job{
		ID: "J", Schedule: "0 2 * * *", Enabled: true,
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	require.NoError(t, s.TriggerAsync("J"))
	<-started

	require.NoError(t, s.Register(Job{ID: "J", Name: "Renamed", Schedule: "0 */6 * * *", Enabled: true, Run: func(context.Context) error { return nil }}))
	st, _ := s.Get("J")
	assert.True(t, st.IsRunning)
	assert.Equal(t, "Renamed", st.Name)
	require.Len(t, s.List(), 1)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	st, _ = s.Get("J")
	assert.False(t, st.IsRunning)
	assert.Equal(t, at(10, 6, 0), st.NextRun)
}

func TestListIsOrderedCopy(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeClock{t: at(10, 0, 0)}, nil)
	noop := func(context.Context) error { return nil }
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Register(Job{ID: id, Schedule: "0 2 * * *", Enabled: true, Run: noop}))
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})

	list[0].Enabled = false
	list[0].RetryCount = 99
	st, _ := s.Get("b")
	assert.True(t, st.Enabled)
	assert.Zero(t, st.RetryCount)
}

func TestHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 0, 0)}
	s := newTestService(t, clock, nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 1, &calls)))

	_ = s.Trigger(context.Background(), "J")
	clock.Advance(time.Minute)
	require.NoError(t, s.Trigger(context.Background(), "J"))

	h := s.History(10)
	require.Len(t, h, 2)
	assert.Empty(t, h[0].Error)
	assert.Equal(t, "upstream unavailable", h[1].Error)
	assert.Equal(t, TriggerManual, h[0].Trigger)
	assert.Len(t, s.History(1), 1)
}

func TestStartStopIdempotentAndTicks(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := New(Config{Timezone: "UTC", Tick: 10 * time.Millisecond}, logx.Nop(), nil, WithClock(clock.Now))
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 0, &calls)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)
	assert.True(t, s.Running())

	clock.Set(at(10, 2, 0))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	s.Stop(stopCtx)
	assert.False(t, s.Running())
	require.NoError(t, s.Close(stopCtx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestApplyChangesTickPeriod(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: at(10, 1, 0)}
	s := New(Config{Timezone: "UTC", Tick: time.Hour}, logx.Nop(), nil, WithClock(clock.Now))
	var calls atomic.Int32
	require.NoError(t, s.Register(flakyJob("J", "0 2 * * *", 0, &calls)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer func() { _ = s.Close(context.Background()) }()

	clock.Set(at(10, 2, 0))
	s.Apply(Config{Timezone: "UTC", Tick: 10 * time.Millisecond})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, s.Config().Tick)
	assert.Equal(t, DefaultRetryDelay, s.Config().RetryDelay)
}
