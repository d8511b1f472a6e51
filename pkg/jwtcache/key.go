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

package jwtcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key builds the cache key for a token issued by endpoint to principal using
// credential. Each field is length-prefixed so no two distinct tuples collide,
// and the credential is stored only as a SHA-256 digest.
func Key(endpoint, principal, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return Join(endpoint, principal, hex.EncodeToString(sum[:]))
}

// Join combines parts into a single key. The result is deterministic and
// order-sensitive: Join("a", "b") != Join("b", "a") and Join("ab", "") != Join("a", "b").
func Join(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
