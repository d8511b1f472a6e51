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

// Package cache provides a keyed in-memory credential cache that notifies a
// callback exactly once when a cached value is considered expired.
//
// # Overview
//
// A Manager holds the latest value per key together with at most one pending
// expiry timer. The time-to-live of each value is computed by a TTLPolicy:
//
//   - FixedTTL: every value lives for the same duration (secret refetch interval)
//   - TTLFunc: any function of the value, e.g. decoding a token's own expiry
//
// # Timer Invariants
//
// Overwriting or removing a key always stops the key's pending timer before the
// entry is replaced. A timer that already fired concurrently with the replacement
// is detected when it reacquires the lock and is dropped, so an obsolete value
// never produces a notification.
//
// A computed TTL of zero or less is never armed as a timer; the callback runs
// synchronously inside Set instead.
//
// # Usage
//
//	secrets := cache.NewManager(cache.FixedTTL(5*time.Minute), cache.WithName("secrets"))
//	_ = secrets.Set("db-password", value, func(key string) {
//	    // refetch
//	})
//	v, ok := secrets.Get("db-password")
//	secrets.Remove("db-password") // idempotent
package cache
