package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"data-gateway/middleware/gateway/domain"
	"data-gateway/middleware/gateway/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, time.June, 23, 10, 15, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// upstreamStub responde com a sequência configurada e conta as chamadas.
type upstreamStub struct {
	calls atomic.Int64
	fn    func(ctx context.Context, n int64) ([]byte, error)
}

func (u *upstreamStub) Call(ctx context.Context) ([]byte, error) {
	n := u.calls.Add(1)
	return u.fn(ctx, n)
}

func okStub(body string) *upstreamStub {
	return &upstreamStub{fn: func(context.Context, int64) ([]byte, error) { return []byte(body), nil }}
}

func failStub(code int) *upstreamStub {
	return &upstreamStub{fn: func(context.Context, int64) ([]byte, error) {
		return nil, &domain.UpstreamError{Provider: "fx", Status: code}
	}}
}

type harness struct {
	clock *testClock
	cache *infra.MemoryCache
	stats *infra.MemoryStatsStore
	logs  *bytes.Buffer
	orch  *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newTestClock()
	logs := &bytes.Buffer{}
	h := &harness{
		clock: clock,
		cache: infra.NewMemoryCache(infra.WithCacheClock(clock.Now), infra.WithStaleFor(time.Hour)),
		stats: infra.NewMemoryStatsStore(infra.WithTrackKeys(true)),
		logs:  logs,
	}
	h.orch = &Orchestrator{
		Admission: Service{Limiter: infra.NewFixedWindowLimiter(infra.WithClock(clock.Now))},
		Cache:     h.cache,
		Retry:     RetryExecutor{Sleep: noSleep},
		Stats:     h.stats,
		Logger:    slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		now:       clock.Now,
	}
	return h
}

func fxRequest(call Upstream) Request {
	return Request{
		Identifier: "ip-1",
		Route:      "fx",
		Provider:   "fx",
		RatePolicy: domain.RateLimitPolicy{Name: "per-minute", MaxRequests: 3, Window: time.Minute},
		CacheKey:   domain.CacheKey("fx", map[string]string{"base": "USD"}),
		TTL:        30 * time.Second,
		Retry:      RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 4 * time.Second},
		Call:       call,
		Fallback:   []byte(`{"demo":true}`),
	}
}

func TestOrchestrator_FreshThenCachedThenRateLimited(t *testing.T) {
	h := newHarness(t)
	up := okStub(`{"EUR":0.92}`)
	req := fxRequest(up.Call)
	ctx := context.Background()

	res := h.orch.Fetch(ctx, req)
	require.Equal(t, OutcomeFresh, res.Outcome)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, res.Attempts)
	assert.JSONEq(t, `{"EUR":0.92}`, string(res.Value))

	for i := 0; i < 2; i++ {
		res = h.orch.Fetch(ctx, req)
		require.Equal(t, OutcomeFresh, res.Outcome)
		assert.True(t, res.Cached)
		assert.Zero(t, res.Attempts)
		assert.JSONEq(t, `{"EUR":0.92}`, string(res.Value))
	}
	assert.EqualValues(t, 1, up.calls.Load(), "cached reads must not reach the provider")

	h.clock.Advance(time.Second)
	res = h.orch.Fetch(ctx, req)
	require.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, 59, res.Decision.RetryAfterSeconds())
	assert.Equal(t, domain.KindAdmissionDenied, domain.KindOf(res.Err))
	assert.EqualValues(t, 1, up.calls.Load())

	snap, err := h.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{"fresh": 3, "rate_limited": 1}, snap.Total)
	assert.Equal(t, domain.Counters{"fx": 1}, snap.Attempts)
}

func TestOrchestrator_StaleFallbackAfterTransientFailures(t *testing.T) {
	h := newHarness(t)
	up := &upstreamStub{fn: func(_ context.Context, n int64) ([]byte, error) {
		if n == 1 {
			return []byte(`{"EUR":0.90}`), nil
		}
		return nil, &domain.UpstreamError{Provider: "fx", Status: http.StatusServiceUnavailable}
	}}
	req := fxRequest(up.Call)

	require.Equal(t, OutcomeFresh, h.orch.Fetch(context.Background(), req).Outcome)

	h.clock.Advance(31 * time.Second)
	res := h.orch.Fetch(context.Background(), req)

	require.Equal(t, OutcomeDegraded, res.Outcome)
	assert.True(t, res.Cached)
	assert.True(t, res.Stale)
	assert.Equal(t, 3, res.Attempts)
	assert.JSONEq(t, `{"EUR":0.90}`, string(res.Value))
	assert.EqualValues(t, 4, up.calls.Load())
	assert.Contains(t, h.logs.String(), "serving stale data")
}

func TestOrchestrator_FailureWithoutCache(t *testing.T) {
	tt := []struct {
		desc     string
		code     int
		wantKind domain.ErrorKind
		attempts int
	}{
		{desc: "transient failures exhaust retries", code: http.StatusBadGateway, wantKind: domain.KindExhausted, attempts: 3},
		{desc: "client error is permanent", code: http.StatusNotFound, wantKind: domain.KindPermanent, attempts: 1},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			h := newHarness(t)
			up := failStub(ts.code)

			res := h.orch.Fetch(context.Background(), fxRequest(up.Call))

			require.Equal(t, OutcomeFailed, res.Outcome)
			assert.Nil(t, res.Value)
			assert.Equal(t, ts.wantKind, domain.KindOf(res.Err))
			assert.Equal(t, ts.attempts, res.Attempts)

			var upErr *domain.UpstreamError
			require.ErrorAs(t, res.Err, &upErr, "cause keeps the last provider failure")
			assert.Equal(t, ts.code, upErr.Status)
		})
	}
}

func TestOrchestrator_DemoWhenProviderNotConfigured(t *testing.T) {
	h := newHarness(t)

	res := h.orch.Fetch(context.Background(), fxRequest(nil))
	require.Equal(t, OutcomeDemo, res.Outcome)
	assert.Zero(t, res.Attempts)
	assert.JSONEq(t, `{"demo":true}`, string(res.Value))

	up := &upstreamStub{fn: func(context.Context, int64) ([]byte, error) {
		return nil, &domain.UpstreamError{Provider: "fx", Err: domain.ErrNotConfigured}
	}}
	res = h.orch.Fetch(context.Background(), fxRequest(up.Call))
	require.Equal(t, OutcomeDemo, res.Outcome)
	assert.EqualValues(t, 1, up.calls.Load(), "not configured is never retried")
}

func TestOrchestrator_Timeout(t *testing.T) {
	hang := func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, &domain.UpstreamError{Provider: "fx", Err: ctx.Err()}
	}

	t.Run("without cache fails with timeout kind", func(t *testing.T) {
		h := newHarness(t)
		h.orch.Timeout = 20 * time.Millisecond

		res := h.orch.Fetch(context.Background(), fxRequest(hang))
		require.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, domain.KindTimeout, domain.KindOf(res.Err))
	})

	t.Run("with stale entry degrades", func(t *testing.T) {
		h := newHarness(t)
		h.orch.Timeout = 20 * time.Millisecond
		req := fxRequest(hang)

		require.NoError(t, h.cache.Set(context.Background(), req.CacheKey, []byte(`{"old":1}`), time.Second))
		h.clock.Advance(time.Minute)

		res := h.orch.Fetch(context.Background(), req)
		require.Equal(t, OutcomeDegraded, res.Outcome)
		assert.JSONEq(t, `{"old":1}`, string(res.Value))
	})
}

func TestOrchestrator_CoalescesConcurrentMisses(t *testing.T) {
	h := newHarness(t)
	h.orch.Admission = Service{}
	h.orch.Coalesce = true

	release := make(chan struct{})
	up := &upstreamStub{fn: func(context.Context, int64) ([]byte, error) {
		<-release
		return []byte(`{"shared":true}`), nil
	}}
	req := fxRequest(up.Call)

	const n = 10
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.orch.Fetch(context.Background(), req)
		}(i)
	}

	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, up.calls.Load())
	attempts := 0
	for _, r := range results {
		assert.Equal(t, OutcomeFresh, r.Outcome)
		assert.JSONEq(t, `{"shared":true}`, string(r.Value))
		attempts += r.Attempts
	}
	assert.Equal(t, 1, attempts, "only the caller that ran the call counts attempts")

	snap, err := h.stats.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{"fx": 1}, snap.Attempts)
	assert.EqualValues(t, n, snap.Total["fresh"])
}

func TestOrchestrator_AbandonedCallerDoesNotCancelSharedCall(t *testing.T) {
	h := newHarness(t)
	h.orch.Admission = Service{}
	h.orch.Coalesce = true

	release := make(chan struct{})
	up := &upstreamStub{fn: func(ctx context.Context, _ int64) ([]byte, error) {
		select {
		case <-release:
			return []byte(`{"v":1}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	req := fxRequest(up.Call)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Result, 1)
	go func() { first <- h.orch.Fetch(ctx, req) }()
	require.Eventually(t, func() bool { return up.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan Result, 1)
	go func() { second <- h.orch.Fetch(context.Background(), req) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.Equal(t, OutcomeFailed, (<-first).Outcome)

	close(release)
	res := <-second
	assert.Equal(t, OutcomeFresh, res.Outcome)
	assert.EqualValues(t, 1, up.calls.Load())
}

type countingThrottle struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingThrottle) Wait(_ context.Context, provider string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[provider]++
	return nil
}

func TestOrchestrator_ThrottlesEveryAttempt(t *testing.T) {
	h := newHarness(t)
	th := &countingThrottle{}
	h.orch.Throttle = th

	h.orch.Fetch(context.Background(), fxRequest(failStub(http.StatusInternalServerError).Call))
	assert.Equal(t, 3, th.calls["fx"])
}

func TestOrchestrator_ProviderQuotaKeepsUpstreamCause(t *testing.T) {
	h := newHarness(t)
	th := infra.NewProviderThrottle()
	th.SetLimit("fx", 0.1, 1)
	h.orch.Throttle = th
	h.orch.Timeout = 200 * time.Millisecond
	up := failStub(http.StatusServiceUnavailable)

	res := h.orch.Fetch(context.Background(), fxRequest(up.Call))

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.KindExhausted, domain.KindOf(res.Err))
	var upErr *domain.UpstreamError
	require.ErrorAs(t, res.Err, &upErr)
	assert.Equal(t, http.StatusServiceUnavailable, upErr.Status)
	assert.EqualValues(t, 1, up.calls.Load())
	assert.Equal(t, 1, res.Attempts)
}

func TestOrchestrator_ProviderQuotaBeforeAnyCallIsTimeout(t *testing.T) {
	h := newHarness(t)
	th := infra.NewProviderThrottle()
	th.SetLimit("fx", 0.1, 1)
	require.NoError(t, th.Wait(context.Background(), "fx"))
	h.orch.Throttle = th
	h.orch.Timeout = 200 * time.Millisecond
	up := okStub(`{}`)

	res := h.orch.Fetch(context.Background(), fxRequest(up.Call))

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(res.Err))
	assert.Zero(t, up.calls.Load())
	assert.Zero(t, res.Attempts)
}

type trackingPool struct {
	inUse atomic.Int64
	seen  atomic.Int64
}

func (p *trackingPool) Acquire(context.Context) (func(), bool) {
	p.inUse.Add(1)
	return func() { p.inUse.Add(-1) }, true
}

func TestOrchestrator_BackoffDoesNotHoldSlot(t *testing.T) {
	h := newHarness(t)
	pool := &trackingPool{}
	h.orch.Slots = ConcurrencyService{Pool: pool}
	h.orch.Retry = RetryExecutor{Sleep: func(ctx context.Context, _ time.Duration) error {
		pool.seen.Add(pool.inUse.Load())
		return ctx.Err()
	}}

	h.orch.Fetch(context.Background(), fxRequest(failStub(http.StatusBadGateway).Call))

	assert.Zero(t, pool.seen.Load(), "no slot is held while backing off")
	assert.Zero(t, pool.inUse.Load())
}

func TestOrchestrator_SaturatedSlotsFail(t *testing.T) {
	h := newHarness(t)
	h.orch.Slots = ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 5 * time.Millisecond}
	up := okStub(`{}`)

	res := h.orch.Fetch(context.Background(), fxRequest(up.Call))

	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrSaturated)
	assert.Zero(t, up.calls.Load())
}

type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errCacheDown }
func (brokenCache) GetStale(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error { return errCacheDown }

func TestOrchestrator_CacheErrorsAreMisses(t *testing.T) {
	h := newHarness(t)
	h.orch.Cache = brokenCache{}
	up := okStub(`{"ok":true}`)

	res := h.orch.Fetch(context.Background(), fxRequest(up.Call))
	require.Equal(t, OutcomeFresh, res.Outcome)
	assert.Contains(t, h.logs.String(), "cache read failed")
	assert.Contains(t, h.logs.String(), "cache write failed")
}
