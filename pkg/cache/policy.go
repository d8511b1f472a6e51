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

import "time"

// DefaultRefetchInterval is how long a secret without embedded expiry stays cached.
const DefaultRefetchInterval = 5 * time.Minute

// TTLPolicy computes how long a cached value stays fresh, relative to now.
// A result of zero or less means the value is already expired.
type TTLPolicy interface {
	TTL(value string, now time.Time) (time.Duration, error)
}

// TTLFunc adapts a function to the TTLPolicy interface.
type TTLFunc func(value string, now time.Time) (time.Duration, error)

// TTL calls f(value, now).
func (f TTLFunc) TTL(value string, now time.Time) (time.Duration, error) {
	return f(value, now)
}

// FixedTTL gives every value the same lifetime.
type FixedTTL time.Duration

// TTL returns the fixed duration; it never fails.
func (f FixedTTL) TTL(string, time.Time) (time.Duration, error) {
	return time.Duration(f), nil
}
