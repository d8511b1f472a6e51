/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package task

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/panteparak/credential-cache/pkg/logger"
	"github.com/panteparak/credential-cache/pkg/metrics"
	"github.com/panteparak/credential-cache/pkg/retry"
	"github.com/panteparak/credential-cache/shared/events"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

const tracerName = "github.com/panteparak/credential-cache/pkg/task"

// Task owns one cached credential: it fetches it with retries, registers it
// with a shared cache manager, and refetches it when the cache reports expiry.
//
// At most one fetch runs per task at a time. Invalidate calls that arrive while
// a fetch is running wait for that fetch instead of starting another.
type Task[C any] struct {
	name      string
	key       string
	store     Store
	fetcher   Fetcher
	retry     retry.Policy
	events    events.Publisher
	tracer    trace.Tracer
	limiter   *rate.Limiter
	confidant Confidant[C]
	base      logr.Logger
	log       logr.Logger

	// done is closed by Destroy and stops pending expiry retries.
	done chan struct{}

	mu    sync.Mutex
	state State
	value string
	gen   uint64
	// flight is the singleflight key of the running fetch, empty when idle.
	flight   string
	flightFn func() (interface{}, error)
	group    singleflight.Group
}

// New creates a PENDING task that caches the result of fetcher in store.
func New[C any](confidant Confidant[C], store Store, fetcher Fetcher, opts Options) *Task[C] {
	opts = opts.WithDefaults()

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	base := confidant.Logger
	if base.GetSink() == nil {
		base = logr.Discard()
	}
	base = base.WithName("task")

	return &Task[C]{
		name:      opts.Name,
		key:       opts.Key,
		store:     store,
		fetcher:   fetcher,
		retry:     opts.Retry,
		events:    opts.Events,
		tracer:    tp.Tracer(tracerName),
		limiter:   opts.RefreshLimiter,
		confidant: confidant,
		base:      base,
		log:       logger.WithCacheKey(logger.WithTask(base, opts.Name), opts.Key),
		state:     StatePending,
		done:      make(chan struct{}),
	}
}

// Name returns the task name.
func (t *Task[C]) Name() string {
	return t.name
}

// Key returns the cache key the task owns.
func (t *Task[C]) Key() string {
	return t.key
}

// Context returns the shared context value the task was created with.
func (t *Task[C]) Context() C {
	return t.confidant.Context
}

// State returns the current lifecycle state.
func (t *Task[C]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Initialize returns the cached credential, or fetches and caches it.
//
// It is legal only once per task: a second call while the first is running or
// after it succeeded fails with an IllegalStateError, as does any call after
// Destroy. A failed Initialize leaves the task PENDING, so it may be retried.
// Cancelling ctx stops the wait, not the fetch.
func (t *Task[C]) Initialize(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state != StatePending || t.flight != "" {
		state := t.stateLabelLocked()
		t.mu.Unlock()
		return "", infraerrors.NewIllegalStateError(t.name, state, logger.OpInitialize)
	}

	if v, ok := t.store.Get(t.key); ok {
		t.state = StateReady
		t.value = v
		t.mu.Unlock()

		t.log.V(1).Info("initialized from cache", logger.KeyToken, logger.Shorten(v))
		return v, nil
	}

	ch := t.startLocked(ctx, events.MethodInitialize)
	t.mu.Unlock()

	return t.wait(ctx, ch)
}

// Invalidate drops the cached credential and waits for a fresh one.
//
// If a fetch is already running, Invalidate waits for its result instead of
// starting a second one. On failure the task returns to the state it was in
// before and no credential stays cached. Cancelling ctx stops the wait, not
// the fetch.
func (t *Task[C]) Invalidate(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return "", infraerrors.NewIllegalStateError(t.name, StateDestroyed.String(), logger.OpInvalidate)
	}

	if t.flight != "" {
		ch := t.group.DoChan(t.flight, t.flightFn)
		t.mu.Unlock()

		metrics.IncrementInvalidationCoalesced(t.name)
		t.log.V(1).Info("fetch already in progress, waiting for it")
		return t.wait(ctx, ch)
	}

	ch := t.startLocked(ctx, events.MethodInvalidate)
	t.mu.Unlock()

	return t.wait(ctx, ch)
}

// Get returns the last committed credential without fetching. While UPDATING
// this is the previous credential.
func (t *Task[C]) Get() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateDestroyed:
		return "", infraerrors.NewIllegalStateError(t.name, StateDestroyed.String(), logger.OpGet)
	case StatePending:
		return "", infraerrors.NewNotFoundError(t.name, t.key)
	}
	return t.value, nil
}

// Destroy removes the task's cache entry and moves it to DESTROYED. A fetch
// still running completes, but its result is discarded. Calling Destroy again
// is a no-op.
func (t *Task[C]) Destroy(ctx context.Context) {
	t.mu.Lock()
	if t.state == StateDestroyed {
		t.mu.Unlock()
		return
	}
	prev := t.state
	t.state = StateDestroyed
	t.value = ""
	t.store.Remove(t.key)
	close(t.done)
	t.mu.Unlock()

	logger.NewOperationLogger(t.base, t.name, logger.OpDestroy).WithCacheKey(t.key).
		Info("destroyed", logger.KeyState, prev.String())
	t.publish(ctx, events.NewCredentialDestroyed(t.info()))
}

// startLocked begins a fetch under a new singleflight key. Caller must hold t.mu.
func (t *Task[C]) startLocked(ctx context.Context, method string) <-chan singleflight.Result {
	prev := t.state
	if method == events.MethodInvalidate {
		t.state = StateUpdating
		t.store.Remove(t.key)
	}

	t.gen++
	t.flight = strconv.FormatUint(t.gen, 10)

	detached := context.WithoutCancel(ctx)
	t.flightFn = func() (interface{}, error) {
		return t.refresh(detached, method, prev)
	}
	return t.group.DoChan(t.flight, t.flightFn)
}

func (t *Task[C]) wait(ctx context.Context, ch <-chan singleflight.Result) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refresh runs the retried fetch and commits its outcome. On failure the task
// goes back to prev and the cache entry is removed.
func (t *Task[C]) refresh(ctx context.Context, method string, prev State) (string, error) {
	op := logger.NewOperationLogger(t.base, t.name, method).WithCacheKey(t.key)

	ctx, span := t.tracer.Start(ctx, "task.fetch", trace.WithAttributes(
		attribute.String("task.name", t.name),
		attribute.String("task.method", method),
	))
	defer span.End()

	attempts := 0
	policy := t.retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		op.WithRetryCount(attempt).V(1).Info("fetch attempt failed, retrying",
			logger.KeyError, err.Error(), "delay", delay.String())
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	op.LogFetchStart()
	value, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		attempts++
		metrics.IncrementTaskFetchAttempt(t.name)
		return t.fetcher.Fetch(ctx)
	})
	span.SetAttributes(attribute.Int("task.attempts", attempts))

	t.mu.Lock()
	t.flight = ""
	t.flightFn = nil

	if t.state == StateDestroyed {
		t.mu.Unlock()
		op.V(1).Info("task destroyed during fetch, discarding result")
		span.SetStatus(codes.Error, "task destroyed")
		return "", infraerrors.NewIllegalStateError(t.name, StateDestroyed.String(), method)
	}

	if err == nil {
		err = t.store.Set(t.key, value, t.onExpiry)
	}
	if err != nil {
		t.store.Remove(t.key)
		t.state = prev
		t.mu.Unlock()

		metrics.IncrementTaskFetch(t.name, false)
		op.LogFetchError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.publish(ctx, events.NewCredentialRefreshFailed(t.info(), method, err.Error(), attempts))
		return "", err
	}

	t.state = StateReady
	t.value = value
	t.mu.Unlock()

	metrics.IncrementTaskFetch(t.name, true)
	op.LogFetchSuccess(value)
	op.InfoWithDuration("credential refreshed", logger.KeyState, StateReady.String())
	span.SetStatus(codes.Ok, "")
	t.publish(ctx, events.NewCredentialRefreshed(t.info(), method, attempts))
	return value, nil
}

// onExpiry is registered with the store. It may run synchronously inside
// store.Set while t.mu is held, so the refresh happens on its own goroutine.
func (t *Task[C]) onExpiry(string) {
	go t.expire()
}

// expire refreshes an expired credential. A failed refresh leaves no cache
// entry and so no timer, so it is retried with the task's backoff until it
// succeeds, another caller refreshes the credential, or the task is destroyed.
func (t *Task[C]) expire() {
	op := logger.NewOperationLogger(t.base, t.name, logger.OpExpire).WithCacheKey(t.key)
	if t.State() == StateDestroyed {
		op.V(1).Info("expiry after destroy, ignoring")
		return
	}

	ctx := context.Background()
	op.V(1).Info("credential expired, refreshing")
	t.publish(ctx, events.NewCredentialExpired(t.info()))

	policy := t.retry.WithDefaults()
	for round := 0; ; round++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				op.Error(err, "refresh rate limiter rejected expiry")
				return
			}
		}

		_, err := t.Invalidate(ctx)
		if err == nil {
			return
		}
		if infraerrors.IsIllegalStateError(err) {
			op.V(1).Info("expiry-driven refresh skipped", logger.KeyError, err.Error())
			return
		}

		delay := policy.Backoff(round)
		if delay <= 0 {
			delay = retry.InitialRetryDelay
		}
		op.WithRetryCount(round+1).ErrorWithDuration(err, "expiry-driven refresh failed, will retry", "delay", delay.String())

		select {
		case <-t.done:
			return
		case <-policy.Clock.After(delay):
		}

		if _, ok := t.store.Get(t.key); ok {
			op.V(1).Info("credential refreshed elsewhere, stopping expiry retries")
			return
		}
	}
}

func (t *Task[C]) publish(ctx context.Context, e events.Event) {
	if t.events == nil {
		return
	}
	if err := t.events.Publish(ctx, e); err != nil {
		t.log.V(1).Info("event handler failed", "type", e.Type(), logger.KeyError, err.Error())
	}
}

func (t *Task[C]) info() events.CredentialInfo {
	return events.CredentialInfo{Task: t.name, CacheKey: t.key}
}

// stateLabelLocked describes the state for error messages. Caller must hold t.mu.
func (t *Task[C]) stateLabelLocked() string {
	if t.flight != "" && t.state == StatePending {
		return "PENDING (initialize in progress)"
	}
	return t.state.String()
}
