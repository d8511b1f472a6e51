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
	"github.com/panteparak/credential-cache/pkg/cache"
	"github.com/panteparak/credential-cache/pkg/jwtcache"
)

// Maker builds a task from the confidant its owner hands out.
type Maker[C any] func(Confidant[C]) *Task[C]

// Make returns a Maker for tasks that cache fetcher's result in store.
func Make[C any](store Store, fetcher Fetcher, opts Options) Maker[C] {
	return func(c Confidant[C]) *Task[C] {
		return New(c, store, fetcher, opts)
	}
}

// JWTSource describes a token issued by Endpoint to Principal in exchange for
// Credential. Issuer performs the exchange.
type JWTSource struct {
	Endpoint   string
	Principal  string
	Credential string
	Issuer     Fetcher
}

// JWT returns a Maker for a token task. The token is cached in store under
// jwtcache.Key(Endpoint, Principal, Credential) and refreshed ahead of its exp claim.
func JWT[C any](store *jwtcache.Manager, src JWTSource, opts Options) Maker[C] {
	if opts.Name == "" {
		opts.Name = "jwt"
	}
	opts.Key = jwtcache.Key(src.Endpoint, src.Principal, src.Credential)
	return Make[C](tokenSlot{tokens: store, src: src}, src.Issuer, opts)
}

// tokenSlot is the single entry of a jwtcache.Manager a token task owns,
// addressed by its source tuple rather than a precomputed key.
type tokenSlot struct {
	tokens *jwtcache.Manager
	src    JWTSource
}

func (s tokenSlot) Get(string) (string, bool) {
	return s.tokens.Lookup(s.src.Endpoint, s.src.Principal, s.src.Credential)
}

func (s tokenSlot) Set(_, token string, onExpiry cache.ExpiryFunc) error {
	return s.tokens.Store(s.src.Endpoint, s.src.Principal, s.src.Credential, token, onExpiry)
}

func (s tokenSlot) Remove(string) {
	s.tokens.Forget(s.src.Endpoint, s.src.Principal, s.src.Credential)
}

// Secret returns a Maker for a task that caches the secret stored under key
// and refetches it every time store's TTL policy says it expired.
func Secret[C any](store *cache.Manager, source KeyedFetcher, key string, opts Options) Maker[C] {
	if opts.Name == "" {
		opts.Name = "secret:" + key
	}
	opts.Key = key
	return Make[C](store, BindKey(source, key), opts)
}
