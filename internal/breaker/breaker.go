package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	xerrors "AgentRouter/internal/errors"
	"AgentRouter/pkg/logger"
)

// ErrOpen matches, via errors.Is, every short-circuit error.
var ErrOpen = xerrors.New(xerrors.CodeBreakerOpen, "")

// Operation is a guarded downstream call.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a degraded result after a failure or short-circuit.
// cause is the error that would otherwise be returned.
type Fallback func(ctx context.Context, cause error) (any, error)

// Breaker guards calls to one downstream service.
type Breaker struct {
	cfg    Config
	clock  Clock
	logger *slog.Logger

	mu             sync.Mutex
	state          State
	failureCount   int
	successCount   int
	lastFailure    time.Time
	lastTransition time.Time
	pending        []Event

	emitMu    sync.Mutex
	obsMu     sync.RWMutex
	observers []subscription
	nextSub   uint64
}

// subscription pairs an observer with the id its unsubscribe func removes.
// Observers are not compared, so func and map-holding observers are fine.
type subscription struct {
	id uint64
	o  Observer
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(b *Breaker) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithObserver registers observers at construction.
func WithObserver(obs ...Observer) Option {
	return func(b *Breaker) {
		for _, o := range obs {
			if o != nil {
				b.addObserver(o)
			}
		}
	}
}

// New validates cfg and returns a CLOSED breaker.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{
		cfg:    cfg,
		clock:  systemClock{},
		logger: logger.Named("breaker").With("breaker", cfg.Name),
		state:  StateClosed,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.lastTransition = b.clock.Now()
	return b, nil
}

// Name returns the configured breaker name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Config returns the breaker configuration.
func (b *Breaker) Config() Config { return b.cfg }

// State returns the current state without attempting the OPEN to HALF_OPEN
// move; that only happens when a call is attempted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot of counters and state.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:           b.cfg.Name,
		State:          b.state,
		FailureCount:   b.failureCount,
		SuccessCount:   b.successCount,
		LastFailure:    b.lastFailure,
		LastTransition: b.lastTransition,
		Config:         b.cfg,
	}
}

// Subscribe adds an observer and returns a function removing it.
func (b *Breaker) Subscribe(o Observer) (unsubscribe func()) {
	if o == nil {
		return func() {}
	}
	b.obsMu.Lock()
	id := b.addObserver(o)
	b.obsMu.Unlock()
	return func() {
		b.obsMu.Lock()
		defer b.obsMu.Unlock()
		b.observers = slices.DeleteFunc(b.observers, func(s subscription) bool { return s.id == id })
	}
}

// addObserver must be called with obsMu held or before the breaker is shared.
func (b *Breaker) addObserver(o Observer) uint64 {
	b.nextSub++
	b.observers = append(b.observers, subscription{id: b.nextSub, o: o})
	return b.nextSub
}

// Reset forces the breaker CLOSED with all counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.failureCount = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
	if from != StateClosed {
		b.transitionLocked(StateClosed, "manual reset")
	}
	b.mu.Unlock()
	b.flush()
}

// Execute runs op under the breaker. On success its result is returned. On
// failure or short-circuit the fallback result is returned when fallback is
// non-nil, otherwise the error. Failures are recorded before the fallback
// runs. Execute never retries.
//
// Each attempt is bounded by the configured timeout and by any deadline on
// ctx; an attempt that outlives either counts as a failure even if op
// ignores its context. Cancellation of ctx by the caller is neither a
// success nor a failure.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (any, error) {
	span := trace.SpanFromContext(ctx)
	if err := b.acquire(); err != nil {
		span.AddEvent("breaker.short_circuit", trace.WithAttributes(attribute.String("breaker", b.cfg.Name)))
		return b.fallback(ctx, fallback, err)
	}

	result, err := b.invoke(ctx, op)
	if err == nil {
		b.onSuccess()
		return result, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, err
	}

	b.onFailure(err)
	span.AddEvent("breaker.failure", trace.WithAttributes(
		attribute.String("breaker", b.cfg.Name),
		attribute.String("code", string(xerrors.CodeOf(err))),
	))
	return b.fallback(ctx, fallback, b.wrapFailure(err))
}

// Run is a typed wrapper around Execute.
func Run[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	var fb Fallback
	if fallback != nil {
		fb = func(ctx context.Context, cause error) (any, error) {
			return fallback(ctx, cause)
		}
	}
	out, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, fb)

	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok && out != nil {
		return zero, fmt.Errorf("breaker %s: unexpected result type %T", b.cfg.Name, out)
	}
	return typed, nil
}

// acquire admits or rejects one attempt. The reset timeout check and the
// OPEN to HALF_OPEN move happen under the same lock.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}
	elapsed := b.clock.Now().Sub(b.lastFailure)
	if elapsed >= b.cfg.ResetTimeout {
		b.successCount = 0
		b.transitionLocked(StateHalfOpen, fmt.Sprintf("reset timeout %s elapsed", b.cfg.ResetTimeout))
		b.mu.Unlock()
		b.flush()
		return nil
	}
	retryIn := b.cfg.ResetTimeout - elapsed
	b.mu.Unlock()
	return xerrors.New(xerrors.CodeBreakerOpen,
		fmt.Sprintf("circuit breaker %s is open", b.cfg.Name),
		xerrors.WithMetadata("breaker", b.cfg.Name),
		xerrors.WithMetadata("retry_in", retryIn.Round(time.Millisecond).String()))
}

type outcome struct {
	value any
	err   error
}

func (b *Breaker) invoke(ctx context.Context, op Operation) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(callCtx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-callCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, xerrors.Wrap(xerrors.CodeTimeout, callCtx.Err(),
			fmt.Sprintf("%s call exceeded its deadline", b.cfg.Name))
	}
}

func (b *Breaker) wrapFailure(err error) error {
	if xerrors.HasCode(err, xerrors.CodeDownstreamFailure) {
		return err
	}
	return xerrors.Wrap(xerrors.CodeDownstreamFailure, err,
		fmt.Sprintf("%s call failed", b.cfg.Name),
		xerrors.WithMetadata("breaker", b.cfg.Name))
}

func (b *Breaker) fallback(ctx context.Context, fallback Fallback, cause error) (result any, err error) {
	if fallback == nil {
		return nil, cause
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("fallback panicked", "panic", r)
			result, err = nil, fmt.Errorf("%w (fallback panicked: %v)", cause, r)
		}
	}()
	v, ferr := fallback(ctx, cause)
	if ferr != nil {
		return nil, fmt.Errorf("%w (fallback failed: %w)", cause, ferr)
	}
	return v, nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.failureCount = 0
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed, fmt.Sprintf("%d consecutive probe successes", b.successCount))
			b.successCount = 0
		}
	}
	b.mu.Unlock()
	b.flush()
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	b.lastFailure = b.clock.Now()
	b.failureCount++
	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen, fmt.Sprintf("failure threshold %d reached: %v", b.cfg.FailureThreshold, err))
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen, fmt.Sprintf("probe failed: %v", err))
	}
	b.mu.Unlock()
	b.flush()
}

// transitionLocked must be called with mu held. The event is queued and
// delivered by flush after the lock is released.
func (b *Breaker) transitionLocked(to State, reason string) {
	ev := Event{
		Breaker:      b.cfg.Name,
		From:         b.state,
		To:           to,
		At:           b.clock.Now(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		Reason:       reason,
	}
	b.state = to
	b.lastTransition = ev.At
	b.pending = append(b.pending, ev)
}

// flush delivers queued events in order. Only one goroutine delivers at a
// time; a goroutine that finds delivery in progress leaves its events to
// the active deliverer, which re-checks the queue before giving up.
func (b *Breaker) flush() {
	for {
		if !b.emitMu.TryLock() {
			return
		}
		for {
			ev, ok := b.nextEvent()
			if !ok {
				break
			}
			b.notify(ev)
		}
		b.emitMu.Unlock()

		b.mu.Lock()
		more := len(b.pending) > 0
		b.mu.Unlock()
		if !more {
			return
		}
	}
}

func (b *Breaker) nextEvent() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return Event{}, false
	}
	ev := b.pending[0]
	b.pending = b.pending[1:]
	return ev, true
}

func (b *Breaker) notify(ev Event) {
	b.logger.Info("breaker state changed",
		"from", ev.From.String(),
		"to", ev.To.String(),
		"failures", ev.FailureCount,
		"successes", ev.SuccessCount,
		"reason", ev.Reason,
	)

	b.obsMu.RLock()
	observers := slices.Clone(b.observers)
	b.obsMu.RUnlock()
	for _, s := range observers {
		b.safeNotify(s.o, ev)
	}
}

func (b *Breaker) safeNotify(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("breaker observer panicked", "panic", r, "to", ev.To.String())
		}
	}()
	o.OnStateChange(ev)
}
