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

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/retry"
	"github.com/panteparak/credential-cache/shared/events"
)

// State is the lifecycle state of a Task.
type State int

const (
	// StatePending means no credential has been committed yet
	StatePending State = iota
	// StateReady means the task holds a committed credential
	StateReady
	// StateUpdating means an invalidation is refetching the credential
	StateUpdating
	// StateDestroyed is terminal; every operation fails afterwards
	StateDestroyed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateUpdating:
		return "UPDATING"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Confidant is what the owning context hands to each task it creates:
// a logger and a shared, caller-defined context value.
type Confidant[C any] struct {
	Logger  logr.Logger
	Context C
}

// Fetcher obtains a fresh credential from an external source.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context) (string, error)

// Fetch calls f(ctx).
func (f FetchFunc) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// KeyedFetcher obtains the credential stored under a key, such as a secret
// store path or ARN.
type KeyedFetcher interface {
	Fetch(ctx context.Context, key string) (string, error)
}

// KeyedFetchFunc adapts a function to the KeyedFetcher interface.
type KeyedFetchFunc func(ctx context.Context, key string) (string, error)

// Fetch calls f(ctx, key).
func (f KeyedFetchFunc) Fetch(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// BindKey turns a KeyedFetcher into a Fetcher for a single key.
func BindKey(f KeyedFetcher, key string) Fetcher {
	return FetchFunc(func(ctx context.Context) (string, error) {
		return f.Fetch(ctx, key)
	})
}

// Store is the part of a cache manager a task needs. Both *cache.Manager and
// *jwtcache.Manager satisfy it.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string, onExpiry cache.ExpiryFunc) error
	Remove(key string)
}

// Options configures a Task.
type Options struct {
	// Name identifies the task in logs, metrics, spans and events
	Name string

	// Key is the cache key the task owns. Defaults to Name.
	Key string

	// Retry is applied to every fetch. The zero value makes one attempt.
	Retry retry.Policy

	// Events receives lifecycle events. Optional.
	Events events.Publisher

	// TracerProvider creates fetch spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// RefreshLimiter throttles expiry-driven refreshes. Optional.
	RefreshLimiter *rate.Limiter
}

// WithDefaults returns a copy with unset fields filled in.
func (o Options) WithDefaults() Options {
	if o.Name == "" {
		o.Name = "task"
	}
	if o.Key == "" {
		o.Key = o.Name
	}
	return o
}
