package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/agent-recall/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu  sync.Mutex
	got map[string]bool
}

func (s *recordingSink) SetHealth(target string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = make(map[string]bool)
	}
	s.got[target] = up
}

func testClient(t *testing.T) *http.Client {
	t.Helper()
	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr}
}

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckAcceptedStatuses(t *testing.T) {
	for _, code := range []int{200, 301, 302, 401, 403, 404, 405} {
		srv := statusServer(t, code)
		p := NewProber(config.HealthConfig{
			Timeout: time.Second,
			Targets: []config.Target{{Name: "svc", URL: srv.URL}},
		}, WithHTTPClient(testClient(t)))
		res := p.Check(context.Background())
		require.Len(t, res, 1)
		assert.True(t, res[0].Up, "status %d", code)
		assert.Equal(t, code, res[0].Status)
	}
	assert.Equal(t, []int{200, 301, 302, 401, 403, 404, 405}, AcceptedStatuses())
}

func TestCheckRejectsServerErrors(t *testing.T) {
	srv := statusServer(t, http.StatusInternalServerError)
	p := NewProber(config.HealthConfig{
		Timeout: time.Second,
		Targets: []config.Target{{Name: "svc", URL: srv.URL}},
	}, WithHTTPClient(testClient(t)))
	res := p.Check(context.Background())
	assert.False(t, res[0].Up)
	assert.Contains(t, res[0].Err, "500")
	assert.False(t, AllUp(res))
}

func TestCheckTimeoutsAreIndependent(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(slow.Close)
	t.Cleanup(func() { close(release) })
	fast := statusServer(t, http.StatusOK)

	sink := &recordingSink{}
	p := NewProber(config.HealthConfig{
		Timeout: 100 * time.Millisecond,
		Targets: []config.Target{
			{Name: "slow", URL: slow.URL},
			{Name: "fast", URL: fast.URL},
		},
	}, WithHTTPClient(testClient(t)), WithSink(sink))

	start := time.Now()
	res := p.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, res, 2)
	assert.Equal(t, "slow", res[0].Name)
	assert.False(t, res[0].Up)
	assert.NotEmpty(t, res[0].Err)
	assert.Equal(t, "fast", res[1].Name)
	assert.True(t, res[1].Up)

	assert.Equal(t, map[string]bool{"slow": false, "fast": true}, sink.got)
}

func TestCheckUnreachable(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	p := NewProber(config.HealthConfig{
		Timeout: time.Second,
		Targets: []config.Target{{Name: "gone", URL: url}},
	}, WithHTTPClient(testClient(t)))
	res := p.Check(context.Background())
	assert.False(t, res[0].Up)
	assert.Zero(t, res[0].Status)
}

func TestCheckBadURL(t *testing.T) {
	p := NewProber(config.HealthConfig{
		Timeout: time.Second,
		Targets: []config.Target{{Name: "bad", URL: "://nope"}},
	}, WithHTTPClient(testClient(t)))
	res := p.Check(context.Background())
	assert.False(t, res[0].Up)
	assert.Contains(t, res[0].Err, "create health request")
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	require.NoError(t, s.AddJob("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	}))
	next, ok := s.Next("tick")
	assert.True(t, ok)
	assert.True(t, next.IsZero(), "no schedule before Start")

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestSchedulerRejectsBadSpecs(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Stop()
	assert.Error(t, s.AddJob("bad", "not a spec", func(context.Context) error { return nil }))

	require.NoError(t, s.AddJob("prune", "@daily", func(context.Context) error { return nil }))
	assert.Error(t, s.AddJob("prune", "@hourly", func(context.Context) error { return nil }), "duplicate name")

	_, ok := s.Next("missing")
	assert.False(t, ok)
}

func TestSchedulerStopCancelsJobs(t *testing.T) {
	s := NewScheduler(nil)
	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, s.AddJob("long", "@every 1s", func(ctx context.Context) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}))
	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
}

func TestSchedulerProbe(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	sink := &recordingSink{}
	p := NewProber(config.HealthConfig{
		Timeout: time.Second,
		Targets: []config.Target{{Name: "ollama", URL: srv.URL}},
	}, WithHTTPClient(testClient(t)), WithSink(sink))

	s := NewScheduler(nil)
	require.NoError(t, s.AddProbe(time.Second, p))
	s.Start()
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.got["ollama"]
	}, 3*time.Second, 20*time.Millisecond)
	s.Stop()
}
