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
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/metrics"
	"github.com/panteparak/credential-cache/pkg/retry"
	"github.com/panteparak/credential-cache/shared/events"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

var epoch = time.Unix(1_700_000_000, 0)

// env stands in for the shared context an owner hands to its tasks.
type env struct {
	region string
}

// countingFetcher returns "value-N" on the Nth call, or err when set.
// When gate is non-nil every call blocks until the gate is closed.
type countingFetcher struct {
	calls atomic.Int32
	gate  chan struct{}

	mu  sync.Mutex
	err error
}

func (f *countingFetcher) Fetch(ctx context.Context) (string, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("value-%d", n), nil
}

func (f *countingFetcher) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *countingFetcher) count() int32 {
	return f.calls.Load()
}

func newTestStore() (*cache.Manager, *testingclock.FakeClock) {
	fakeClock := testingclock.NewFakeClock(epoch)
	return cache.NewManager(cache.FixedTTL(time.Minute), cache.WithClock(fakeClock), cache.WithName("task-test")), fakeClock
}

func newTestTask(t *testing.T, store Store, fetcher Fetcher, opts Options) *Task[env] {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "test-" + strings.ReplaceAll(t.Name(), "/", "-")
	}
	return New(Confidant[env]{Logger: logr.Discard(), Context: env{region: "eu-west-1"}}, store, fetcher, opts)
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StatePending, "PENDING"},
		{StateReady, "READY"},
		{StateUpdating, "UPDATING"},
		{StateDestroyed, "DESTROYED"},
		{State(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewTask(t *testing.T) {
	store, _ := newTestStore()
	task := New(Confidant[env]{Context: env{region: "us-east-1"}}, store, &countingFetcher{}, Options{Name: "db"})

	if task.State() != StatePending {
		t.Errorf("State() = %v, want PENDING", task.State())
	}
	if task.Name() != "db" || task.Key() != "db" {
		t.Errorf("Name() = %q, Key() = %q, want both %q", task.Name(), task.Key(), "db")
	}
	if task.Context().region != "us-east-1" {
		t.Errorf("Context() = %+v", task.Context())
	}
	if _, err := task.Get(); !infraerrors.IsNotFoundError(err) {
		t.Errorf("Get() before Initialize error = %v, want NotFoundError", err)
	}
}

func TestInitialize(t *testing.T) {
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "secret/db"})

	got, err := task.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got != "value-1" {
		t.Errorf("Initialize() = %q, want %q", got, "value-1")
	}
	if task.State() != StateReady {
		t.Errorf("State() = %v, want READY", task.State())
	}
	if v, ok := store.Get("secret/db"); !ok || v != "value-1" {
		t.Errorf("store.Get() = %q, %v, want cached value", v, ok)
	}
	if v, _ := task.Get(); v != "value-1" {
		t.Errorf("Get() = %q, want %q", v, "value-1")
	}
	if !fakeClock.HasWaiters() {
		t.Error("Initialize() should register an expiry timer")
	}
}

func TestInitializeCacheHit(t *testing.T) {
	store, _ := newTestStore()
	_ = store.Set("secret/db", "cached", nil)
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "secret/db"})

	got, err := task.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got != "cached" {
		t.Errorf("Initialize() = %q, want %q", got, "cached")
	}
	if fetcher.count() != 0 {
		t.Errorf("cache hit must not fetch, got %d calls", fetcher.count())
	}
	if task.State() != StateReady {
		t.Errorf("State() = %v, want READY", task.State())
	}
}

func TestInitializeTwiceIsIllegal(t *testing.T) {
	store, _ := newTestStore()
	task := newTestTask(t, store, &countingFetcher{}, Options{})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	_, err := task.Initialize(context.Background())
	if !infraerrors.IsIllegalStateError(err) {
		t.Errorf("second Initialize() error = %v, want IllegalStateError", err)
	}
}

func TestInitializeWhileInFlightIsIllegal(t *testing.T) {
	g := NewWithT(t)
	store, _ := newTestStore()
	fetcher := &countingFetcher{gate: make(chan struct{})}
	task := newTestTask(t, store, fetcher, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := task.Initialize(context.Background())
		done <- err
	}()
	g.Eventually(fetcher.count).Should(Equal(int32(1)))

	_, err := task.Initialize(context.Background())
	g.Expect(infraerrors.IsIllegalStateError(err)).To(BeTrue(), "got %v", err)

	close(fetcher.gate)
	g.Eventually(done).Should(Receive(BeNil()))
	g.Expect(fetcher.count()).To(Equal(int32(1)))
}

func TestInitializeFailure(t *testing.T) {
	store, _ := newTestStore()
	fetchErr := errors.New("connection refused")
	fetcher := &countingFetcher{}
	fetcher.failWith(fetchErr)

	failures := 0
	task := newTestTask(t, store, fetcher, Options{
		Key: "secret/db",
		Retry: retry.Policy{
			Attempts:  3,
			OnFailure: func(error, int) { failures++ },
		},
	})

	_, err := task.Initialize(context.Background())
	if err != fetchErr {
		t.Fatalf("Initialize() error = %v, want the unwrapped fetch error", err)
	}
	if fetcher.count() != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.count())
	}
	if failures != 1 {
		t.Errorf("OnFailure calls = %d, want 1", failures)
	}
	if store.Has("secret/db") {
		t.Error("failed fetch must not leave a cache entry")
	}
	if task.State() != StatePending {
		t.Errorf("State() = %v, want PENDING", task.State())
	}

	// A failed Initialize may be retried.
	fetcher.failWith(nil)
	got, err := task.Initialize(context.Background())
	if err != nil {
		t.Fatalf("retried Initialize() error = %v", err)
	}
	if got != "value-4" {
		t.Errorf("retried Initialize() = %q, want %q", got, "value-4")
	}
}

func TestInvalidate(t *testing.T) {
	store, _ := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "k"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	got, err := task.Invalidate(context.Background())
	if err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if got != "value-2" {
		t.Errorf("Invalidate() = %q, want %q", got, "value-2")
	}
	if v, _ := store.Get("k"); v != "value-2" {
		t.Errorf("store holds %q, want %q", v, "value-2")
	}
	if task.State() != StateReady {
		t.Errorf("State() = %v, want READY", task.State())
	}
}

func TestInvalidateFailureRevertsState(t *testing.T) {
	store, _ := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "k", Retry: retry.Policy{Attempts: 2}})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	fetchErr := errors.New("issuer unavailable")
	fetcher.failWith(fetchErr)

	if _, err := task.Invalidate(context.Background()); err != fetchErr {
		t.Fatalf("Invalidate() error = %v, want %v", err, fetchErr)
	}
	if task.State() != StateReady {
		t.Errorf("State() = %v, want READY after failed invalidate", task.State())
	}
	if store.Has("k") {
		t.Error("failed invalidate must not leave a cache entry")
	}
	if v, _ := task.Get(); v != "value-1" {
		t.Errorf("Get() = %q, want the last committed value", v)
	}
}

func TestInvalidateCoalesces(t *testing.T) {
	g := NewWithT(t)
	store, _ := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Name: "coalesce-test"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	coalesced := metrics.InvalidationsCoalescedTotal.WithLabelValues("coalesce-test")
	before := testutil.ToFloat64(coalesced)

	fetcher.gate = make(chan struct{})
	results := make(chan string, 2)
	invalidate := func() {
		v, err := task.Invalidate(context.Background())
		if err != nil {
			v = "error: " + err.Error()
		}
		results <- v
	}

	go invalidate()
	g.Eventually(fetcher.count).Should(Equal(int32(2)))
	g.Expect(task.State()).To(Equal(StateUpdating))

	// Get returns the previous value while the refresh is running.
	v, err := task.Get()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("value-1"))

	go invalidate()
	g.Eventually(func() float64 { return testutil.ToFloat64(coalesced) }).Should(Equal(before + 1))
	g.Consistently(fetcher.count, 100*time.Millisecond).Should(Equal(int32(2)))

	close(fetcher.gate)

	var first, second string
	g.Eventually(results).Should(Receive(&first))
	g.Eventually(results).Should(Receive(&second))
	g.Expect(first).To(Equal("value-2"))
	g.Expect(second).To(Equal("value-2"))
	g.Expect(fetcher.count()).To(Equal(int32(2)))
	g.Expect(task.State()).To(Equal(StateReady))
}

func TestDestroy(t *testing.T) {
	store, fakeClock := newTestStore()
	task := newTestTask(t, store, &countingFetcher{}, Options{Key: "k"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	task.Destroy(context.Background())
	task.Destroy(context.Background())

	if task.State() != StateDestroyed {
		t.Errorf("State() = %v, want DESTROYED", task.State())
	}
	if store.Has("k") {
		t.Error("Destroy() must remove the cache entry")
	}
	if fakeClock.HasWaiters() {
		t.Error("Destroy() must cancel the expiry timer")
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"Initialize", func() error { _, err := task.Initialize(context.Background()); return err }},
		{"Invalidate", func() error { _, err := task.Invalidate(context.Background()); return err }},
		{"Get", func() error { _, err := task.Get(); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !infraerrors.IsIllegalStateError(err) {
				t.Errorf("%s() after Destroy error = %v, want IllegalStateError", tt.name, err)
			}
		})
	}
}

func TestDestroyWithoutEntry(t *testing.T) {
	store, _ := newTestStore()
	task := newTestTask(t, store, &countingFetcher{}, Options{})

	task.Destroy(context.Background())

	if task.State() != StateDestroyed {
		t.Errorf("State() = %v, want DESTROYED", task.State())
	}
}

func TestDestroyDuringFetchDiscardsResult(t *testing.T) {
	g := NewWithT(t)
	store, _ := newTestStore()
	fetcher := &countingFetcher{gate: make(chan struct{})}
	task := newTestTask(t, store, fetcher, Options{Key: "k"})

	done := make(chan error, 1)
	go func() {
		_, err := task.Initialize(context.Background())
		done <- err
	}()
	g.Eventually(fetcher.count).Should(Equal(int32(1)))

	task.Destroy(context.Background())
	close(fetcher.gate)

	var err error
	g.Eventually(done).Should(Receive(&err))
	g.Expect(infraerrors.IsIllegalStateError(err)).To(BeTrue(), "got %v", err)
	g.Expect(store.Has("k")).To(BeFalse())
	g.Expect(task.State()).To(Equal(StateDestroyed))
}

func TestInitializeContextCancelled(t *testing.T) {
	g := NewWithT(t)
	store, _ := newTestStore()
	fetcher := &countingFetcher{gate: make(chan struct{})}
	task := newTestTask(t, store, fetcher, Options{Key: "k"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := task.Initialize(ctx)
		done <- err
	}()
	g.Eventually(fetcher.count).Should(Equal(int32(1)))

	cancel()
	var err error
	g.Eventually(done).Should(Receive(&err))
	g.Expect(err).To(MatchError(context.Canceled))

	// The fetch itself still completes and is committed.
	close(fetcher.gate)
	g.Eventually(task.State).Should(Equal(StateReady))
	g.Expect(store.Has("k")).To(BeTrue())
}

func TestExpiryTriggersRefresh(t *testing.T) {
	g := NewWithT(t)
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "k"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	fakeClock.Step(time.Minute)

	g.Eventually(fetcher.count).Should(Equal(int32(2)))
	g.Eventually(func() string { v, _ := store.Get("k"); return v }).Should(Equal("value-2"))
	g.Eventually(task.State).Should(Equal(StateReady))
	g.Eventually(fakeClock.HasWaiters).Should(BeTrue())
}

func TestExpiryRefreshRetriedAfterFailure(t *testing.T) {
	g := NewWithT(t)
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{
		Key:   "k",
		Retry: retry.Policy{Attempts: 1, MinDelay: 10 * time.Second, Clock: fakeClock},
	})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	fetcher.failWith(infraerrors.NewTransientError("upstream unavailable", nil))
	fakeClock.Step(time.Minute)

	g.Eventually(fetcher.count).Should(Equal(int32(2)))
	g.Eventually(fakeClock.HasWaiters).Should(BeTrue(), "expected a retry to be scheduled")
	g.Expect(store.Has("k")).To(BeFalse())
	g.Expect(task.State()).To(Equal(StateReady))

	fetcher.failWith(nil)
	fakeClock.Step(10 * time.Second)

	g.Eventually(fetcher.count).Should(Equal(int32(3)))
	g.Eventually(func() string { v, _ := store.Get("k"); return v }).Should(Equal("value-3"))
	g.Expect(task.Get()).To(Equal("value-3"))

	// The fresh entry arms the next expiry as usual.
	fakeClock.Step(time.Minute)
	g.Eventually(fetcher.count).Should(Equal(int32(4)))
}

func TestExpiryRetryStopsOnDestroy(t *testing.T) {
	g := NewWithT(t)
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{
		Key:   "k",
		Retry: retry.Policy{Attempts: 1, MinDelay: 10 * time.Second, Clock: fakeClock},
	})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	fetcher.failWith(errors.New("denied"))
	fakeClock.Step(time.Minute)
	g.Eventually(fetcher.count).Should(Equal(int32(2)))
	g.Eventually(fakeClock.HasWaiters).Should(BeTrue())

	task.Destroy(context.Background())
	fetcher.failWith(nil)
	fakeClock.Step(time.Hour)

	g.Consistently(fetcher.count, 100*time.Millisecond).Should(Equal(int32(2)))
	g.Expect(store.Has("k")).To(BeFalse())
}

func TestExpiryRetryStopsWhenRefreshedElsewhere(t *testing.T) {
	g := NewWithT(t)
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{
		Key:   "k",
		Retry: retry.Policy{Attempts: 1, MinDelay: 10 * time.Second, Clock: fakeClock},
	})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	fetcher.failWith(errors.New("denied"))
	fakeClock.Step(time.Minute)
	g.Eventually(fetcher.count).Should(Equal(int32(2)))
	g.Eventually(fakeClock.HasWaiters).Should(BeTrue())

	fetcher.failWith(nil)
	v, err := task.Invalidate(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(v).To(Equal("value-3"))

	// Wakes the pending retry, which finds a fresh entry and stands down.
	fakeClock.Step(10 * time.Second)
	g.Consistently(fetcher.count, 100*time.Millisecond).Should(Equal(int32(3)))
}

func TestExpiryAfterDestroyIsNoop(t *testing.T) {
	g := NewWithT(t)
	store, fakeClock := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "k"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	task.Destroy(context.Background())

	// A notification that raced with Destroy must not resurrect the task.
	task.expire()
	fakeClock.Step(time.Hour)

	g.Consistently(fetcher.count, 100*time.Millisecond).Should(Equal(int32(1)))
	g.Expect(task.State()).To(Equal(StateDestroyed))
	g.Expect(store.Has("k")).To(BeFalse())
}

func TestEvents(t *testing.T) {
	store, _ := newTestStore()
	bus := events.NewEventBus(logr.Discard())

	var mu sync.Mutex
	var seen []string
	record := func(kind string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, kind)
	}
	events.Subscribe[events.CredentialRefreshed](bus, func(_ context.Context, e events.CredentialRefreshed) error {
		record(e.Type() + ":" + e.Method)
		return nil
	})
	events.Subscribe[events.CredentialRefreshFailed](bus, func(_ context.Context, e events.CredentialRefreshFailed) error {
		record(e.Type() + ":" + e.Method)
		return nil
	})
	events.Subscribe[events.CredentialDestroyed](bus, func(_ context.Context, e events.CredentialDestroyed) error {
		record(e.Type())
		return nil
	})

	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Key: "k", Events: bus})

	_, _ = task.Initialize(context.Background())
	fetcher.failWith(errors.New("denied"))
	_, _ = task.Invalidate(context.Background())
	task.Destroy(context.Background())

	mu.Lock()
	defer mu.Unlock()
	want := []string{
		"credential.refreshed:initialize",
		"credential.refresh_failed:invalidate",
		"credential.destroyed",
	}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", seen, want)
	}
}

func TestFetchSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	store, _ := newTestStore()
	fetcher := &countingFetcher{}
	task := newTestTask(t, store, fetcher, Options{Name: "traced", TracerProvider: tp})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "task.fetch" {
		t.Errorf("span name = %q, want %q", spans[0].Name(), "task.fetch")
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if attrs["task.name"].AsString() != "traced" {
		t.Errorf("task.name = %q", attrs["task.name"].AsString())
	}
	if attrs["task.method"].AsString() != events.MethodInitialize {
		t.Errorf("task.method = %q", attrs["task.method"].AsString())
	}
	if attrs["task.attempts"].AsInt64() != 1 {
		t.Errorf("task.attempts = %d, want 1", attrs["task.attempts"].AsInt64())
	}
}

func TestCredentialNotLogged(t *testing.T) {
	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, prefix+" "+args)
	}, funcr.Options{Verbosity: 1})

	store, _ := newTestStore()
	secret := "s3cr3t-database-password-value"
	task := New(Confidant[env]{Logger: log}, store, FetchFunc(func(context.Context) (string, error) {
		return secret, nil
	}), Options{Name: "logged"})

	if _, err := task.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if len(lines) == 0 {
		t.Fatal("expected debug log output")
	}
	for _, line := range lines {
		if strings.Contains(line, secret) {
			t.Errorf("credential leaked into log line: %s", line)
		}
	}
}
