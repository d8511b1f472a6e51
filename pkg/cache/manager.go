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

package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/panteparak/credential-cache/pkg/logger"
	"github.com/panteparak/credential-cache/pkg/metrics"
)

// ExpiryFunc is called once when the value cached under key expires.
type ExpiryFunc func(key string)

// entry is a cached value and its pending expiry timer, if any.
type entry struct {
	value string
	timer clock.Timer
}

// Manager is a thread-safe keyed cache with per-entry expiry notification.
type Manager struct {
	name   string
	policy TTLPolicy
	clock  clock.WithDelayedExecution
	log    logr.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used to compute TTLs and arm timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// NewManager creates a Manager whose entry lifetimes come from policy.
// A nil policy falls back to FixedTTL(DefaultRefetchInterval).
func NewManager(policy TTLPolicy, opts ...Option) *Manager {
	if policy == nil {
		policy = FixedTTL(DefaultRefetchInterval)
	}

	m := &Manager{
		name:    "default",
		policy:  policy,
		clock:   clock.RealClock{},
		log:     logr.Discard(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithName("ttl-cache").WithValues(logger.KeyCache, m.name)

	return m
}

// Name returns the manager name.
func (m *Manager) Name() string {
	return m.name
}

// Clock returns the clock the manager schedules on.
func (m *Manager) Clock() clock.WithDelayedExecution {
	return m.clock
}

// Get returns the value cached under key.
func (m *Manager) Get(key string) (string, bool) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()

	metrics.IncrementCacheLookup(m.name, ok)
	if !ok {
		return "", false
	}
	return e.value, true
}

// Has checks if a value is cached under key.
func (m *Manager) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	return ok
}

// Set caches value under key, replacing any previous entry and stopping its timer.
//
// When onExpiry is non-nil the policy computes a TTL and a timer is armed to call
// onExpiry once. A TTL of zero or less calls onExpiry synchronously before Set
// returns, with the value still cached. If the policy fails, the error is returned
// and the cache is left untouched.
func (m *Manager) Set(key, value string, onExpiry ExpiryFunc) error {
	var ttl time.Duration
	if onExpiry != nil {
		var err error
		ttl, err = m.policy.TTL(value, m.clock.Now())
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.stopLocked(key)

	e := &entry{value: value}
	m.entries[key] = e

	immediate := onExpiry != nil && ttl <= 0
	if onExpiry != nil && !immediate {
		e.timer = m.clock.AfterFunc(ttl, func() {
			m.expire(key, e, onExpiry)
		})
	}
	size := len(m.entries)
	m.mu.Unlock()

	metrics.SetCacheEntries(m.name, size)

	if immediate {
		m.log.V(1).Info("value already expired, notifying immediately", logger.KeyCacheKey, key)
		metrics.IncrementExpiryNotification(m.name, true)
		onExpiry(key)
		return nil
	}

	if onExpiry != nil {
		m.log.V(1).Info("scheduled expiry", logger.KeyCacheKey, key, logger.KeyTTL, ttl.String())
	}
	return nil
}

// expire runs on the timer goroutine. It only notifies if e is still the live
// entry for key and its timer has not been stopped in the meantime.
func (m *Manager) expire(key string, e *entry, onExpiry ExpiryFunc) {
	m.mu.Lock()
	current, ok := m.entries[key]
	if !ok || current != e || e.timer == nil {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	m.mu.Unlock()

	m.log.V(1).Info("value expired", logger.KeyCacheKey, key)
	metrics.IncrementExpiryNotification(m.name, false)
	onExpiry(key)
}

// Remove stops any pending timer and deletes the entry. Safe to call for absent keys.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	_, existed := m.entries[key]
	m.stopLocked(key)
	delete(m.entries, key)
	size := len(m.entries)
	m.mu.Unlock()

	if existed {
		metrics.SetCacheEntries(m.name, size)
		m.log.V(1).Info("removed", logger.KeyCacheKey, key)
	}
}

// Clear stops every pending timer and empties the cache.
func (m *Manager) Clear() {
	m.mu.Lock()
	for key := range m.entries {
		m.stopLocked(key)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	metrics.SetCacheEntries(m.name, 0)
	m.log.V(1).Info("cleared")
}

// Keys returns the cached keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// stopLocked cancels the pending timer for key. Caller must hold m.mu.
func (m *Manager) stopLocked(key string) {
	if e, ok := m.entries[key]; ok && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
