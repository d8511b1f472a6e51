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
	"time"

	"github.com/golang-jwt/jwt/v5"

	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

// ExpiryDecoder extracts the expiry instant embedded in a token.
type ExpiryDecoder func(token string) (time.Time, error)

// DecodeExpiry reads the exp claim of a compact JWT without verifying its
// signature. The cache only needs the lifetime; verification belongs to
// whoever consumes the token.
func DecodeExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, infraerrors.NewDecodeError("malformed token", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, infraerrors.NewDecodeError("token has no exp claim", nil)
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether token's expiry is at or before now.
// A token whose expiry cannot be decoded is treated as expired.
func IsExpired(token string, now time.Time) bool {
	exp, err := DecodeExpiry(token)
	if err != nil {
		return true
	}
	return !exp.After(now)
}
