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

// Package jwtcache specializes the TTL cache for tokens that carry their own
// expiry. Each entry lives until its exp claim minus a configured margin.
package jwtcache

import (
	"errors"
	"time"

	"github.com/panteparak/credential-cache/pkg/cache"
	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// Manager is a cache.Manager whose TTLs are derived from token expiry.
//
// The expiry notification fires at exp - margin. When that instant is already
// at or before now (remaining lifetime <= margin), the notification fires
// synchronously inside Set.
type Manager struct {
	*cache.Manager

	margin time.Duration
	decode ExpiryDecoder
}

// NewManager creates a Manager that notifies margin before each token expires.
// A nil decode uses DecodeExpiry.
func NewManager(margin time.Duration, decode ExpiryDecoder, opts ...cache.Option) *Manager {
	if decode == nil {
		decode = DecodeExpiry
	}
	m := &Manager{
		margin: margin,
		decode: decode,
	}
	opts = append([]cache.Option{cache.WithName("jwt")}, opts...)
	m.Manager = cache.NewManager(cache.TTLFunc(m.ttl), opts...)
	return m
}

// Margin returns the configured lead time.
func (m *Manager) Margin() time.Duration {
	return m.margin
}

// Store caches token for the endpoint, principal and credential tuple.
func (m *Manager) Store(endpoint, principal, credential, token string, onExpiry cache.ExpiryFunc) error {
	return m.Set(Key(endpoint, principal, credential), token, onExpiry)
}

// Lookup returns the token cached for the endpoint, principal and credential tuple.
func (m *Manager) Lookup(endpoint, principal, credential string) (string, bool) {
	return m.Get(Key(endpoint, principal, credential))
}

// Forget drops the token cached for the tuple and cancels its expiry timer.
func (m *Manager) Forget(endpoint, principal, credential string) {
	m.Remove(Key(endpoint, principal, credential))
}

// IsExpired reports whether token's expiry is at or before the manager's now.
func (m *Manager) IsExpired(token string) bool {
	exp, err := m.decode(token)
	if err != nil {
		return true
	}
	return !exp.After(m.Clock().Now())
}

func (m *Manager) ttl(token string, now time.Time) (time.Duration, error) {
	exp, err := m.decode(token)
	if err != nil {
		var decodeErr *infraerrors.DecodeError
		if errors.As(err, &decodeErr) {
			return 0, err
		}
		return 0, infraerrors.NewDecodeError("cannot read token expiry", err)
	}
	return exp.Sub(now) - m.margin, nil
}
