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

// Package logger provides structured logging utilities for credential lifecycle management.
// It defines standard log fields and helper functions for consistent logging across
// caches, tasks and credential sources.
package logger

import (
	"time"

	"github.com/go-logr/logr"
)

// Standard log field keys for consistent structured logging.
// Using consistent keys makes log aggregation and querying much easier.
const (
	// KeyTask identifies the task managing a credential
	KeyTask = "task"

	// KeyCache identifies the cache manager instance
	KeyCache = "cache"

	// KeyCacheKey identifies the cache entry
	KeyCacheKey = "cacheKey"

	// KeyState records a task lifecycle state
	KeyState = "state"

	// KeySource identifies the external credential source
	KeySource = "source"

	// KeyOperation identifies the operation being performed (initialize, invalidate, destroy)
	KeyOperation = "operation"

	// KeyDuration records the time taken for an operation
	KeyDuration = "duration"

	// KeyTTL records a computed time-to-live
	KeyTTL = "ttl"

	// KeyExpiresAt records when a credential expires
	KeyExpiresAt = "expiresAt"

	// KeyError includes error details
	KeyError = "error"

	// KeyRetryCount tracks retry attempts
	KeyRetryCount = "retryCount"

	// KeyToken carries a shortened credential value
	KeyToken = "token"
)

// Operation types for logging
const (
	OpInitialize = "initialize"
	OpInvalidate = "invalidate"
	OpDestroy    = "destroy"
	OpGet        = "get"
	OpFetch      = "fetch"
	OpExpire     = "expire"
)

// OperationLogger wraps a logr.Logger with additional context for a single task operation.
type OperationLogger struct {
	logr.Logger
	startTime time.Time
}

// NewOperationLogger creates a logger scoped to one operation on a task.
// This should be called at the beginning of Initialize/Invalidate.
func NewOperationLogger(l logr.Logger, task, op string) *OperationLogger {
	return &OperationLogger{
		Logger:    l.WithValues(KeyTask, task, KeyOperation, op),
		startTime: time.Now(),
	}
}

// WithCacheKey returns a new logger with the cache key added.
func (o *OperationLogger) WithCacheKey(key string) *OperationLogger {
	return &OperationLogger{
		Logger:    o.Logger.WithValues(KeyCacheKey, key),
		startTime: o.startTime,
	}
}

// WithRetryCount returns a new logger with retry count added.
func (o *OperationLogger) WithRetryCount(count int) *OperationLogger {
	return &OperationLogger{
		Logger:    o.Logger.WithValues(KeyRetryCount, count),
		startTime: o.startTime,
	}
}

// Duration returns the elapsed time since the logger was created.
func (o *OperationLogger) Duration() time.Duration {
	return time.Since(o.startTime)
}

// InfoWithDuration logs an info message with the elapsed duration.
func (o *OperationLogger) InfoWithDuration(msg string, keysAndValues ...interface{}) {
	o.Info(msg, append(keysAndValues, KeyDuration, o.Duration().String())...)
}

// ErrorWithDuration logs an error with the elapsed duration.
func (o *OperationLogger) ErrorWithDuration(err error, msg string, keysAndValues ...interface{}) {
	o.Error(err, msg, append(keysAndValues, KeyDuration, o.Duration().String())...)
}

// V returns a logger at the specified verbosity level.
func (o *OperationLogger) V(level int) *OperationLogger {
	return &OperationLogger{
		Logger:    o.Logger.V(level),
		startTime: o.startTime,
	}
}

// LogFetchStart logs the start of an outbound fetch.
func (o *OperationLogger) LogFetchStart() {
	o.V(1).Info("fetching credential")
}

// LogFetchSuccess logs a received credential without exposing it.
func (o *OperationLogger) LogFetchSuccess(value string) {
	o.V(1).Info("credential received", KeyToken, Shorten(value), KeyDuration, o.Duration().String())
}

// LogFetchError logs a fetch that exhausted its retry budget.
func (o *OperationLogger) LogFetchError(err error) {
	o.ErrorWithDuration(err, "credential fetch failed")
}

// WithTask adds task context to an existing logger.
func WithTask(l logr.Logger, name string) logr.Logger {
	return l.WithValues(KeyTask, name)
}

// WithCacheKey adds cache key context to an existing logger.
func WithCacheKey(l logr.Logger, key string) logr.Logger {
	return l.WithValues(KeyCacheKey, key)
}

// WithDuration adds duration context to an existing logger.
func WithDuration(l logr.Logger, d time.Duration) logr.Logger {
	return l.WithValues(KeyDuration, d.String())
}
