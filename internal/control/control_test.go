package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayconnect/internal/eventbus"
	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

type fakeRecords struct {
	mu     sync.Mutex
	audits []storage.AuditEntry
	runs   []storage.JobRun
}

func (f *fakeRecords) RecentJobRuns(_ context.Context, jobID string, limit int) ([]storage.JobRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.JobRun
	for _, r := range f.runs {
		if jobID == "" || r.JobID == jobID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRecords) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	f.audits = append(f.audits, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeRecords) auditLog() []storage.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.AuditEntry(nil), f.audits...)
}

type fixture struct {
	queue   *scheduler.Service
	rec     *fakeRecords
	client  *Client
	release chan struct{}
	started chan struct{}
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	q := scheduler.New(scheduler.Config{Timezone: "UTC", RetryMax: 3}, logx.Nop(), eventbus.New())
	f := &fixture{queue: q, rec: &fakeRecords{}, release: make(chan struct{}), started: make(chan struct{}, 1)}

	require.NoError(t, q.Register(scheduler.Job{ID: "ok", Name: "Always fine", Schedule: "0 */6 * * *", Enabled: true,
		Run: func(ctx context.Context) error { return nil }}))
	require.NoError(t, q.Register(scheduler.Job{ID: "fail", Name: "Always broken", Schedule: "0 2 * * *", Enabled: true,
		Run: func(ctx context.Context) error { return errors.New("upstream said no") }}))
	require.NoError(t, q.Register(scheduler.Job{ID: "slow", Name: "Blocks", Schedule: "0 2 * * *", Enabled: true,
		Run: func(ctx context.Context) error {
			f.started <- struct{}{}
			<-f.release
			return nil
		}}))

	svc := NewService(q, f.rec, logx.Nop())
	srv := NewServer(Config{Enabled: true, Token: token}, svc, logx.Nop())
	hs := httptest.NewServer(srv.Handler())
	f.client = NewClient(hs.URL, token, hs.Client())

	t.Cleanup(func() {
		select {
		case <-f.release:
		default:
			close(f.release)
		}
		hs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
	return f
}

func TestStatus(t *testing.T) {
	f := newFixture(t, "")
	st, err := f.client.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.TotalJobs)
	assert.Equal(t, 3, st.EnabledJobs)
	assert.Zero(t, st.DisabledJobs)
	assert.Zero(t, st.RunningJobs)
	require.Len(t, st.Jobs, 3)
	assert.Equal(t, "ok", st.Jobs[0].ID)
	assert.Equal(t, "enabled", st.Jobs[0].Status)
	assert.Equal(t, "every 6 hours", st.Jobs[0].Recurrence)
	assert.Nil(t, st.Jobs[0].LastRun)
	assert.Equal(t, 3, st.Jobs[0].MaxRetries)
}

func TestStatusRendersNullLastRun(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop(), nil), nil, logx.Nop())
	q := svc.q.(*scheduler.Service)
	require.NoError(t, q.Register(scheduler.Job{ID: "a", Schedule: "0 2 * * *", Enabled: true, Run: func(context.Context) error { return nil }}))

	rec := httptest.NewRecorder()
	NewServer(Config{}, svc, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"lastRun":null`)
	assert.Contains(t, rec.Body.String(), `"status":"enabled"`)
}

func TestTriggerWait(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	res, err := f.client.Trigger(ctx, "ok", true)
	require.NoError(t, err)
	assert.True(t, res.Waited)
	assert.Empty(t, res.Error)

	res, err = f.client.Trigger(ctx, "fail", true)
	require.NoError(t, err)
	assert.Contains(t, res.Error, "upstream said no")

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.NotNil(t, st.Jobs[0].LastRun)
	assert.Equal(t, 1, st.Jobs[1].RetryCount)
	assert.Contains(t, st.Jobs[1].LastError, "upstream said no")

	audits := f.rec.auditLog()
	require.Len(t, audits, 2)
	assert.Equal(t, "trigger", audits[0].Action)
	assert.Equal(t, "cli", audits[0].Actor)
	assert.True(t, audits[0].OK)
}

func TestTriggerUnknownJob(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.client.Trigger(context.Background(), "nope", false)
	require.ErrorIs(t, err, scheduler.ErrJobNotFound)

	audits := f.rec.auditLog()
	require.Len(t, audits, 1)
	assert.False(t, audits[0].OK)
}

func TestTriggerWhileRunning(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.client.Trigger(ctx, "slow", false)
	require.NoError(t, err)
	<-f.started

	_, err = f.client.Trigger(ctx, "slow", true)
	require.ErrorIs(t, err, scheduler.ErrJobAlreadyRunning)

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.RunningJobs)
	assert.Equal(t, "running", st.Jobs[2].Status)

	close(f.release)
	require.Eventually(t, func() bool {
		st, err := f.client.Status(ctx)
		return err == nil && st.RunningJobs == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToggleAndHealth(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	h, err := f.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Queue.Healthy)

	for _, id := range []string{"ok", "fail", "slow"} {
		require.NoError(t, f.client.SetEnabled(ctx, id, false))
	}
	h, err = f.client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.Queue.Healthy)
	assert.Zero(t, h.Queue.EnabledJobs)

	require.ErrorIs(t, f.client.SetEnabled(ctx, "nope", true), scheduler.ErrJobNotFound)
	require.NoError(t, f.client.SetEnabled(ctx, "ok", true))

	st, err := f.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.EnabledJobs)
	assert.Equal(t, 2, st.DisabledJobs)
}

func TestBadRequests(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}, logx.Nop(), nil), nil, logx.Nop())
	h := NewServer(Config{}, svc, logx.Nop()).Handler()

	cases := []struct {
		path, body string
	}{
		{"/queue/trigger", `{}`},
		{"/queue/trigger", `not json`},
		{"/queue/toggle", `{"jobId":"a"}`},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, tc.path+" "+tc.body)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/trigger", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "s3cret")
	ctx := context.Background()

	_, err := f.client.Status(ctx)
	require.NoError(t, err)

	anon := NewClient(f.client.base, "", nil)
	_, err = anon.Status(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)

	wrong := NewClient(f.client.base, "nope", nil)
	_, err = wrong.Status(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)

	resp, err := http.Get(f.client.base + "/queue/health?token=s3cret")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.client.base + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(b))
}

func TestRuns(t *testing.T) {
	t.Run("from records", func(t *testing.T) {
		f := newFixture(t, "")
		f.rec.runs = []storage.JobRun{
			{JobID: "fail", Trigger: "schedule", Duration: 2 * time.Second, Error: "x"},
			{JobID: "ok", Trigger: "manual"},
		}
		runs, err := f.client.Runs(context.Background(), "fail", 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, int64(2000), runs[0].DurationMS)
	})

	t.Run("from history", func(t *testing.T) {
		q := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop(), nil)
		t.Cleanup(func() { _ = q.Close(context.Background()) })
		require.NoError(t, q.Register(scheduler.Job{ID: "a", Enabled: true, Run: func(context.Context) error { return nil }}))
		require.NoError(t, q.Register(scheduler.Job{ID: "b", Enabled: true, Run: func(context.Context) error { return nil }}))
		svc := NewService(q, nil, logx.Nop())
		ctx := context.Background()
		for _, id := range []string{"a", "b", "a"} {
			_, err := svc.Trigger(ctx, id, true)
			require.NoError(t, err)
		}
		runs, err := svc.Runs(ctx, "a", 0)
		require.NoError(t, err)
		assert.Len(t, runs, 2)
		runs, err = svc.Runs(ctx, "", 1)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "a", runs[0].JobID)
		assert.Equal(t, "manual", runs[0].Trigger)
	})
}

func TestServerLifecycle(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}, logx.Nop(), nil), nil, logx.Nop())

	insecure := NewServer(Config{Enabled: true, Addr: "0.0.0.0:0"}, svc, logx.Nop())
	require.Error(t, insecure.Start(context.Background()))

	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, svc, logx.Nop())
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Start(context.Background()))
	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	h, err := NewClient(srv.Addr(), "", nil).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srv.Stop(ctx)
	assert.Empty(t, srv.Addr())

	// Disabled config stops nothing and starts nothing.
	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: false}))
	assert.Empty(t, srv.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:3334"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":3334"))
	assert.False(t, isLoopbackAddr("0.0.0.0:3334"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func TestPprofMount(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}, logx.Nop(), nil), nil, logx.Nop())

	rec := httptest.NewRecorder()
	NewServer(Config{}, svc, logx.Nop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h := NewServer(Config{Pprof: true, Token: "s3cret"}, svc, logx.Nop()).Handler()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}

func TestNeedsRestart(t *testing.T) {
	base := Config{Enabled: true, Addr: "127.0.0.1:0"}
	assert.False(t, needsRestart(base, base))
	withPprof := base
	withPprof.Pprof = true
	assert.True(t, needsRestart(base, withPprof))
}

func TestPresentedToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/queue/status?token=q", nil)
	assert.Equal(t, "q", presentedToken(r))

	r.Header.Set("Authorization", "bearer  h ")
	assert.Equal(t, "h", presentedToken(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "q", presentedToken(r))

	r.Header.Set("X-Api-Key", "k")
	assert.Equal(t, "k", presentedToken(r))

	r = httptest.NewRequest(http.MethodGet, "/queue/status?api_key=a", nil)
	assert.Equal(t, "a", presentedToken(r))
}

func TestAuthAcceptsAPIKey(t *testing.T) {
	f := newFixture(t, "s3cret")

	req, err := http.NewRequest(http.MethodGet, f.client.base+"/queue/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-Api-Key", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.client.base + "/queue/status?api_key=wrong")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReconfigureRebinds(t *testing.T) {
	svc := NewService(scheduler.New(scheduler.Config{}, logx.Nop(), nil), nil, logx.Nop())
	srv := NewServer(Config{}, svc, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer srv.Stop(ctx)

	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	first := srv.Addr()
	require.NotEmpty(t, first)

	// Same listener settings keep the bound socket.
	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}))
	assert.Equal(t, first, srv.Addr())

	require.NoError(t, srv.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}))
	_, err := NewClient(srv.Addr(), "", nil).Status(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	st, err := NewClient(srv.Addr(), "s3cret", nil).Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalJobs)
}
