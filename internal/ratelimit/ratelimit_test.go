// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/ratelimit"
)

var errRateLimited = errors.New("rate limited")
var errOther = errors.New("boom")

func isRateLimited(err error) bool { return errors.Is(err, errRateLimited) }

func TestRetrySucceedsAfterRateLimitedAttempts(t *testing.T) {
	cfg := ratelimit.Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2.0, Jitter: 0}
	attempts := 0
	start := time.Now()
	err := ratelimit.Retry(context.Background(), cfg, isRateLimited, func() error {
		attempts++
		if attempts <= 2 {
			return errRateLimited
		}
		return nil
	})
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	require.LessOrEqual(t, elapsed, 300*time.Millisecond)
}

func TestRetrySurfacesNonRateLimitedImmediately(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	attempts := 0
	err := ratelimit.Retry(context.Background(), cfg, isRateLimited, func() error {
		attempts++
		return errOther
	})
	require.ErrorIs(t, err, errOther)
	require.Equal(t, 1, attempts)
}

func TestRetryCancellationDuringBackoff(t *testing.T) {
	cfg := ratelimit.Config{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 1, Jitter: 0}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := ratelimit.Retry(ctx, cfg, isRateLimited, func() error { return errRateLimited })
	require.ErrorIs(t, err, ratelimit.ErrCancelled)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := ratelimit.NewCircuitBreaker(ratelimit.BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 50 * time.Millisecond})
	require.Error(t, cb.Execute(func() error { return errOther }))
	require.Error(t, cb.Execute(func() error { return errOther }))
	require.Equal(t, ratelimit.StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	require.Error(t, err) // still within timeout, rejected outright

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, ratelimit.StateClosed, cb.State())
}

func TestManagerIsolatesBreakersByKey(t *testing.T) {
	m := ratelimit.NewManager(ratelimit.BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	a := m.Get("anthropic/claude")
	b := m.Get("openai/gpt")
	require.NotSame(t, a, b)
	require.Same(t, a, m.Get("anthropic/claude"))
}
