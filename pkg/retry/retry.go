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

// Package retry runs a fallible operation a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"k8s.io/utils/clock"

	infraerrors "github.com/panteparak/credential-cache/shared/infrastructure/errors"
)

const (
	// InitialRetryDelay is the delay before the second attempt in DefaultPolicy
	InitialRetryDelay = 1 * time.Second

	// MaxRetryDelay is the maximum delay between attempts
	MaxRetryDelay = 30 * time.Second

	// BackoffMultiplier is the factor by which the delay increases
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum random jitter as a fraction of the delay
	JitterFactor = 0.1

	// DefaultAttempts is the attempt budget of DefaultPolicy
	DefaultAttempts = 3
)

// Policy configures Do. The zero value makes exactly one attempt.
type Policy struct {
	// Attempts is the total number of calls, including the first (minimum 1)
	Attempts int

	// MinDelay is the delay before the second attempt
	MinDelay time.Duration

	// MaxDelay caps the delay between attempts
	MaxDelay time.Duration

	// Factor is the factor by which the delay increases
	Factor float64

	// Jitter is the maximum random jitter as a fraction of the delay
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to errors.IsRetryable from shared/infrastructure/errors.
	Retryable func(error) bool

	// OnRetry is called after each failed attempt that will be retried
	OnRetry func(attempt int, err error, delay time.Duration)

	// OnFailure is called once when the operation finally fails
	OnFailure func(err error, attempts int)

	// Clock schedules the waits between attempts
	Clock clock.Clock
}

// DefaultPolicy returns the retry policy used by the CLI when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: DefaultAttempts,
		MinDelay: InitialRetryDelay,
		MaxDelay: MaxRetryDelay,
		Factor:   BackoffMultiplier,
		Jitter:   JitterFactor,
	}
}

// WithDefaults fills unset fields without adding retries.
func (p Policy) WithDefaults() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Factor <= 0 {
		p.Factor = BackoffMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = MaxRetryDelay
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.Retryable == nil {
		p.Retryable = infraerrors.IsRetryable
	}
	if p.Clock == nil {
		p.Clock = clock.RealClock{}
	}
	return p
}

// Backoff calculates the delay after the given zero-based retry count.
func (p Policy) Backoff(retryCount int) time.Duration {
	if p.MinDelay <= 0 {
		return 0
	}
	if retryCount <= 0 {
		return p.MinDelay
	}

	delay := float64(p.MinDelay) * math.Pow(p.Factor, float64(retryCount))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*rand.Float64() - 1) // between -Jitter and +Jitter
	}

	if delay < float64(p.MinDelay) {
		delay = float64(p.MinDelay)
	}

	return time.Duration(delay)
}

// Do calls fn until it succeeds, the attempt budget is spent, or fn returns an
// error the policy does not retry. The final error is returned as fn produced
// it. If ctx is cancelled while waiting between attempts, ctx.Err() is returned.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	p = p.WithDefaults()

	var zero T
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		if attempt >= p.Attempts || !p.Retryable(err) {
			if p.OnFailure != nil {
				p.OnFailure(err, attempt)
			}
			return zero, err
		}

		delay := p.Backoff(attempt - 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-p.Clock.After(delay):
		}
	}
}
