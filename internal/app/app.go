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

// Package app wires the configured credentials into cache managers and tasks
// and keeps them fresh until shutdown.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/panteparak/credential-cache/internal/config"
	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/jwtcache"
	"github.com/panteparak/credential-cache/pkg/logger"
	"github.com/panteparak/credential-cache/pkg/retry"
	awssrc "github.com/panteparak/credential-cache/pkg/source/aws"
	"github.com/panteparak/credential-cache/pkg/task"
	"github.com/panteparak/credential-cache/shared/events"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// Scope is the context every credential task carries.
type Scope struct {
	Credential string
	Kind       config.Kind
}

// App owns the cache managers and one task per configured credential.
type App struct {
	cfg *config.Config
	log logr.Logger

	clock          clock.WithDelayedExecution
	tracerProvider trace.TracerProvider
	secretsManager awssrc.SecretsManagerAPI
	clientset      kubernetes.Interface
	gcpOptions     []option.ClientOption

	bus     *events.EventBus
	tokens  *jwtcache.Manager
	secrets *cache.Manager
	tasks   map[string]*task.Task[Scope]
	cancels []func()
}

// Option configures an App.
type Option func(*App)

// WithClock sets the clock the cache managers and retries run on.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(a *App) {
		a.clock = c
	}
}

// WithTracerProvider sets the provider for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) {
		a.tracerProvider = tp
	}
}

// WithSecretsManager replaces the AWS Secrets Manager client.
func WithSecretsManager(api awssrc.SecretsManagerAPI) Option {
	return func(a *App) {
		a.secretsManager = api
	}
}

// WithKubernetesClient replaces the Kubernetes clientset.
func WithKubernetesClient(clientset kubernetes.Interface) Option {
	return func(a *App) {
		a.clientset = clientset
	}
}

// WithGCPClientOptions adds options to the IAM Credentials client.
func WithGCPClientOptions(opts ...option.ClientOption) Option {
	return func(a *App) {
		a.gcpOptions = append(a.gcpOptions, opts...)
	}
}

// New builds the managers and a PENDING task for every configured credential.
// Nothing is fetched until Run.
func New(ctx context.Context, cfg *config.Config, log logr.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		log:   log.WithName("app"),
		clock: clock.RealClock{},
		tasks: make(map[string]*task.Task[Scope]),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.bus = events.NewEventBus(log)
	a.tokens = jwtcache.NewManager(cfg.Margin, jwtcache.DecodeExpiry,
		cache.WithClock(a.clock), cache.WithLogger(log), cache.WithName("tokens"))
	a.secrets = cache.NewManager(cache.FixedTTL(cfg.RefetchInterval),
		cache.WithClock(a.clock), cache.WithLogger(log), cache.WithName("secrets"))

	src := &sources{app: a}
	for _, cred := range cfg.Credentials {
		t, err := a.newTask(ctx, src, cred)
		if err != nil {
			return nil, fmt.Errorf("credential %q: %w", cred.Name, err)
		}
		a.tasks[cred.Name] = t
	}

	return a, nil
}

func (a *App) newTask(ctx context.Context, src *sources, cred config.CredentialConfig) (*task.Task[Scope], error) {
	opts := task.Options{
		Name:           cred.Name,
		Retry:          a.retryPolicy(cred.Name),
		Events:         a.bus,
		TracerProvider: a.tracerProvider,
		RefreshLimiter: a.cfg.RefreshLimit.Limiter(),
	}
	confidant := task.Confidant[Scope]{
		Logger:  a.log,
		Context: Scope{Credential: cred.Name, Kind: cred.Kind},
	}

	switch {
	case cred.Kind == config.KindAWSSecret:
		secrets, err := src.awsSecrets(ctx)
		if err != nil {
			return nil, err
		}
		return task.Secret[Scope](a.secrets, secrets, cred.SecretID, opts)(confidant), nil

	case cred.Kind == config.KindVaultSecret:
		fetcher, err := src.vaultSecret(cred)
		if err != nil {
			return nil, err
		}
		opts.Key = jwtcache.Join(vaultKeyPrefix, cred.Mount, cred.Path, cred.Field)
		return task.Make[Scope](a.secrets, fetcher, opts)(confidant), nil

	case cred.Kind.IsToken():
		jwtSrc, err := src.tokenSource(ctx, cred)
		if err != nil {
			return nil, err
		}
		return task.JWT[Scope](a.tokens, jwtSrc, opts)(confidant), nil
	}
	return nil, fmt.Errorf("unsupported kind %q", cred.Kind)
}

const vaultKeyPrefix = "vault"

func (a *App) retryPolicy(name string) retry.Policy {
	p := a.cfg.Retry.Policy()
	p.Clock = a.clock
	log := logger.WithTask(a.log, name).WithValues(logger.KeyOperation, logger.OpFetch)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.V(1).Info("fetch failed, retrying", logger.KeyRetryCount, attempt, logger.KeyError, err.Error(), "delay", delay.String())
	}
	return p
}

// Run initializes every credential, then keeps them refreshed until ctx is
// done. All tasks are destroyed before Run returns. An initialization failure
// stops Run with that error.
func (a *App) Run(ctx context.Context) error {
	a.subscribe()

	start := time.Now()
	if err := a.initialize(ctx); err != nil {
		a.shutdown()
		return err
	}
	logger.WithDuration(a.log, time.Since(start)).Info("credentials initialized", "count", len(a.tasks))

	if a.cfg.StatusInterval > 0 {
		go wait.UntilWithContext(ctx, func(context.Context) { a.logStatus() }, a.cfg.StatusInterval)
	}

	<-ctx.Done()
	a.shutdown()
	return nil
}

func (a *App) initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range a.Names() {
		t := a.tasks[name]
		g.Go(func() error {
			if _, err := t.Initialize(gctx); err != nil {
				return fmt.Errorf("credential %q: %w", t.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) shutdown() {
	ctx := context.Background()
	for _, t := range a.tasks {
		t.Destroy(ctx)
	}
	a.tokens.Clear()
	a.secrets.Clear()
	a.log.Info("credentials destroyed")

	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
}

// subscribe logs lifecycle events from the bus until shutdown.
func (a *App) subscribe() {
	log := a.log.WithName("events")
	a.cancels = append(a.cancels,
		events.Subscribe[events.CredentialRefreshed](a.bus, func(_ context.Context, e events.CredentialRefreshed) error {
			log.Info("credential refreshed", logger.KeyTask, e.Task, "method", e.Method, "attempts", e.Attempts)
			return nil
		}),
		events.Subscribe[events.CredentialRefreshFailed](a.bus, func(_ context.Context, e events.CredentialRefreshFailed) error {
			log.Info("credential refresh failed", logger.KeyTask, e.Task, "method", e.Method,
				"attempts", e.Attempts, logger.KeyError, e.Error)
			return nil
		}),
		events.Subscribe[events.CredentialExpired](a.bus, func(_ context.Context, e events.CredentialExpired) error {
			log.V(1).Info("credential expired", logger.KeyTask, e.Task)
			return nil
		}),
		events.Subscribe[events.CredentialDestroyed](a.bus, func(_ context.Context, e events.CredentialDestroyed) error {
			log.V(1).Info("credential destroyed", logger.KeyTask, e.Task)
			return nil
		}),
	)
}

func (a *App) logStatus() {
	states := make(map[string]string, len(a.tasks))
	for name, t := range a.tasks {
		states[name] = t.State().String()
	}
	a.log.Info("cache status", "tokens", a.tokens.Len(), "secrets", a.secrets.Len(), "tasks", states)
}

// Names returns the configured credential names in sorted order.
func (a *App) Names() []string {
	names := make([]string, 0, len(a.tasks))
	for name := range a.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the current value of the named credential.
func (a *App) Get(name string) (string, error) {
	t, ok := a.tasks[name]
	if !ok {
		return "", infraerrors.NewNotFoundError("credcache", name)
	}
	return t.Get()
}

// State returns the lifecycle state of the named credential.
func (a *App) State(name string) (task.State, bool) {
	t, ok := a.tasks[name]
	if !ok {
		return 0, false
	}
	return t.State(), true
}

// Bus returns the event bus tasks publish to.
func (a *App) Bus() *events.EventBus {
	return a.bus
}
