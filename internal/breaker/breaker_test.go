package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentRouter/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnStateChange(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) transitions() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, [2]State{ev.From, ev.To})
	}
	return out
}

func testConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             time.Second,
		ResetTimeout:        60 * time.Second,
		MonitoringWindow:    60 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

var errBoom = errors.New("boom")

func fail(context.Context) (any, error)    { return nil, errBoom }
func succeed(context.Context) (any, error) { return "ok", nil }

func newTestBreaker(t *testing.T, clock Clock, obs ...Observer) *Breaker {
	t.Helper()
	b, err := New(testConfig("llm"), WithClock(clock), WithObserver(obs...))
	require.NoError(t, err)
	return b
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))

	mutators := map[string]func(*Config){
		"name":               func(c *Config) { c.Name = "" },
		"failure threshold":  func(c *Config) { c.FailureThreshold = 0 },
		"success threshold":  func(c *Config) { c.SuccessThreshold = 0 },
		"timeout":            func(c *Config) { c.Timeout = 0 },
		"reset timeout":      func(c *Config) { c.ResetTimeout = -time.Second },
		"monitoring window":  func(c *Config) { c.MonitoringWindow = 0 },
		"half open attempts": func(c *Config) { c.HalfOpenMaxAttempts = 0 },
	}
	for name, mutate := range mutators {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig("rag")
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, xerrors.HasCode(err, xerrors.CodeConfiguration))
		})
	}
	assert.NoError(t, testConfig("rag").Validate())
}

func TestTripsAfterThreshold(t *testing.T) {
	rec := &recorder{}
	b := newTestBreaker(t, newFakeClock(), rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Execute(ctx, fail, nil)
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, xerrors.CodeDownstreamFailure, xerrors.CodeOf(err))
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, [][2]State{{StateClosed, StateOpen}}, rec.transitions())

	var invoked bool
	_, err := b.Execute(ctx, func(context.Context) (any, error) {
		invoked = true
		return nil, nil
	}, nil)
	require.ErrorIs(t, err, ErrOpen)
	assert.False(t, invoked, "operation must not run while open")
	assert.True(t, xerrors.RetryableError(err))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	ctx := context.Background()

	_, _ = b.Execute(ctx, fail, nil)
	_, _ = b.Execute(ctx, fail, nil)
	_, err := b.Execute(ctx, succeed, nil)
	require.NoError(t, err)
	_, _ = b.Execute(ctx, fail, nil)
	_, _ = b.Execute(ctx, fail, nil)

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 2, st.FailureCount)
}

func TestRecoveryAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	b := newTestBreaker(t, clock, rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, fail, nil)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(59 * time.Second)
	calls := 0
	counting := func(context.Context) (any, error) {
		calls++
		return "ok", nil
	}
	_, err := b.Execute(ctx, counting, nil)
	require.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)

	clock.Advance(2 * time.Second)
	out, err := b.Execute(ctx, counting, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.Equal(t, 1, b.Status().SuccessCount)

	_, err = b.Execute(ctx, counting, nil)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, rec.transitions())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	rec := &recorder{}
	b := newTestBreaker(t, clock, rec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(ctx, fail, nil)
	}
	clock.Advance(61 * time.Second)

	_, err := b.Execute(ctx, succeed, nil)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(ctx, fail, nil)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())

	// the reset timeout restarts from the probe failure
	clock.Advance(30 * time.Second)
	_, err = b.Execute(ctx, succeed, nil)
	assert.ErrorIs(t, err, ErrOpen)

	got := rec.transitions()
	require.Len(t, got, 3)
	assert.Equal(t, [2]State{StateHalfOpen, StateOpen}, got[2])
}

func TestFallbackSubstitutionStillCountsFailure(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	ctx := context.Background()

	var seen error
	fallback := func(_ context.Context, cause error) (any, error) {
		seen = cause
		return "cached answer", nil
	}
	out, err := b.Execute(ctx, fail, fallback)
	require.NoError(t, err)
	assert.Equal(t, "cached answer", out)
	assert.ErrorIs(t, seen, errBoom)
	assert.Equal(t, 1, b.Status().FailureCount)

	_, _ = b.Execute(ctx, fail, fallback)
	_, _ = b.Execute(ctx, fail, fallback)
	require.Equal(t, StateOpen, b.State())

	out, err = b.Execute(ctx, succeed, fallback)
	require.NoError(t, err)
	assert.Equal(t, "cached answer", out)
	assert.True(t, xerrors.HasCode(seen, xerrors.CodeBreakerOpen))
}

func TestFallbackFailureKeepsCause(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	_, err := b.Execute(context.Background(), fail, func(context.Context, error) (any, error) {
		return nil, errors.New("cache miss")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "cache miss")
	assert.Equal(t, xerrors.CodeDownstreamFailure, xerrors.CodeOf(err))
}

func TestTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig("tool")
	cfg.Timeout = 20 * time.Millisecond
	b, err := New(cfg)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	_, err = b.Execute(context.Background(), func(context.Context) (any, error) {
		<-release // ignores its context
		return "late", nil
	}, nil)
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeTimeout))
	assert.True(t, xerrors.HasCode(err, xerrors.CodeDownstreamFailure))
	assert.Equal(t, 1, b.Status().FailureCount)
}

func TestCallerDeadlineCountsAsFailure(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, b.Status().FailureCount)
}

func TestCallerCancellationIsNeutral(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()
	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, func(context.Context, error) (any, error) {
		t.Error("fallback must not run for a cancelled caller")
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.Status().FailureCount)
}

func TestPanickingOperationIsAFailure(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	_, err := b.Execute(context.Background(), func(context.Context) (any, error) {
		panic("kaboom")
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, b.Status().FailureCount)
}

func TestObserverPanicIsIsolated(t *testing.T) {
	rec := &recorder{}
	b := newTestBreaker(t, newFakeClock(),
		ObserverFunc(func(Event) { panic("observer bug") }),
		rec,
	)
	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), fail, nil)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Len(t, rec.transitions(), 1)
}

func TestResetForcesClosed(t *testing.T) {
	rec := &recorder{}
	b := newTestBreaker(t, newFakeClock(), rec)
	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), fail, nil)
	}
	b.Reset()

	st := b.Status()
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.FailureCount)
	assert.Zero(t, st.SuccessCount)

	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	assert.Equal(t, StateOpen, last.From)
	assert.Equal(t, "manual reset", last.Reason)

	b.Reset()
	assert.Len(t, rec.transitions(), 2, "resetting a closed breaker emits nothing")
}

func TestUnsubscribe(t *testing.T) {
	rec := &recorder{}
	b := newTestBreaker(t, newFakeClock())
	unsubscribe := b.Subscribe(rec)
	unsubscribe()
	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), fail, nil)
	}
	assert.Empty(t, rec.transitions())
}

func TestUnsubscribeObserverFunc(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	var kept, dropped atomic.Int32
	b.Subscribe(ObserverFunc(func(Event) { kept.Add(1) }))
	unsubscribe := b.Subscribe(ObserverFunc(func(Event) { dropped.Add(1) }))

	require.NotPanics(t, unsubscribe)
	require.NotPanics(t, unsubscribe, "second call is a no-op")
	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), fail, nil)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, int32(1), kept.Load())
	assert.Zero(t, dropped.Load())
}

func TestEventsFollowTransitionOrderUnderConcurrency(t *testing.T) {
	cfg := testConfig("rag")
	cfg.FailureThreshold = 1
	cfg.SuccessThreshold = 1
	cfg.ResetTimeout = time.Nanosecond
	rec := &recorder{}
	b, err := New(cfg, WithObserver(rec))
	require.NoError(t, err)

	var n atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if n.Add(1)%3 == 0 {
					_, _ = b.Execute(context.Background(), fail, nil)
				} else {
					_, _ = b.Execute(context.Background(), succeed, nil)
				}
			}
		}()
	}
	wg.Wait()

	got := rec.transitions()
	require.NotEmpty(t, got)
	prev := StateClosed
	for i, tr := range got {
		require.Equal(t, prev, tr[0], "event %d starts where the previous one ended", i)
		require.NotEqual(t, [2]State{StateClosed, StateHalfOpen}, tr)
		require.NotEqual(t, [2]State{StateOpen, StateClosed}, tr)
		prev = tr[1]
	}
	assert.Equal(t, b.State(), prev)
}

func TestRunTyped(t *testing.T) {
	b := newTestBreaker(t, newFakeClock())
	n, err := Run(context.Background(), b, func(context.Context) (int, error) { return 42, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s, err := Run(context.Background(), b,
		func(context.Context) (string, error) { return "", errBoom },
		func(context.Context, error) (string, error) { return "degraded", nil })
	require.NoError(t, err)
	assert.Equal(t, "degraded", s)
}

func TestSet(t *testing.T) {
	s, err := NewSet([]Config{testConfig("llm"), testConfig("rag"), testConfig("tool"), testConfig("tool:ecg-reader")})
	require.NoError(t, err)
	require.NoError(t, s.Require("llm", "rag", "tool"))
	assert.Error(t, s.Require("search"))

	b, ok := s.Resolve("tool:ecg-reader", "tool")
	require.True(t, ok)
	assert.Equal(t, "tool:ecg-reader", b.Name())
	b, ok = s.Resolve("tool:calculator", "tool")
	require.True(t, ok)
	assert.Equal(t, "tool", b.Name())

	assert.Equal(t, []string{"llm", "rag", "tool", "tool:ecg-reader"}, s.Names())
	assert.Len(t, s.Statuses(), 4)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(s.Reset("missing")))
	assert.NoError(t, s.Reset("llm"))

	_, err = NewSet([]Config{testConfig("llm"), testConfig("llm")})
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}

func TestStateText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("half_open")))
	assert.Equal(t, StateHalfOpen, s)
	text, err := StateOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "OPEN", string(text))
	assert.Error(t, s.UnmarshalText([]byte("ajar")))
}
