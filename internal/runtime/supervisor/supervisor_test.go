package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("boom") })

	err := s.Wait(waitCtx(t, time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom")
	assert.NotEmpty(t, errors.GetAllDetails(err))
	assert.Equal(t, 1, s.Panics())
	assert.Empty(t, s.Active())
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fail", func(ctx context.Context) error { return errors.New("bad") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	err := s.Wait(waitCtx(t, time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail: bad")
}

func TestCanceledIsCleanExit(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("quiet", func(ctx context.Context) error { return errors.Wrap(context.Canceled, "shutting down") })
	require.NoError(t, s.Wait(waitCtx(t, time.Second)))
	assert.NoError(t, s.Context().Err())
}

func TestActiveNamesRunningGoroutines(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("queue.loop", func(ctx context.Context) { <-release })
	s.Go0("config.watch", func(ctx context.Context) { <-release })
	s.Go0("config.watch", func(ctx context.Context) { <-release })

	assert.Equal(t, []string{"config.watch", "queue.loop"}, s.Active())

	err := s.Wait(waitCtx(t, 20*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, s.Wait(waitCtx(t, time.Second)))
	assert.Empty(t, s.Active())
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t, 2*time.Second)))
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("serve", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("listener exploded")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t, 2*time.Second))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener exploded")
	assert.Equal(t, 1, s.Panics())
	assert.NoError(t, s.Context().Err())
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, s.Stop(waitCtx(t, time.Second)))
}
