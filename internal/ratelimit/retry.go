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
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config parameterizes Retry.
type Config struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64 // fraction in [0,1]; sleep is scaled by (1 ± Jitter)
}

// DefaultConfig returns sane defaults used elsewhere in this codebase
// (5 retries, 500ms initial, 30s cap, x2 multiplier, 10% jitter).
func DefaultConfig() Config {
	return Config{
		MaxRetries:        5,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// ErrCancelled is returned by Retry when ctx is cancelled while sleeping
// between attempts; callers are expected to translate this into whatever
// terminal "cancelled" state their caller understands (execsm.Cancelled).
var ErrCancelled = errors.New("ratelimit: cancelled during backoff")

// Classifier tells Retry whether an error is the narrow, expected
// rate-limited case (retry with backoff) or anything else (surface
// immediately).
type Classifier func(error) bool

// Retry invokes op up to cfg.MaxRetries+1 times. If op returns an error for
// which isRateLimited reports true, Retry sleeps
// min(MaxBackoff, InitialBackoff * BackoffMultiplier^attempt) jittered by
// ±Jitter, then retries. Any other error is returned immediately. If ctx is
// cancelled while sleeping, Retry returns ErrCancelled rather than the
// underlying error.
func Retry(ctx context.Context, cfg Config, isRateLimited Classifier, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRateLimited(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			return lastErr
		}

		delay := backoffDelay(cfg, attempt)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ErrCancelled
		}
	}
	return lastErr
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	base := float64(cfg.InitialBackoff)
	for i := 0; i < attempt; i++ {
		base *= cfg.BackoffMultiplier
	}
	delay := time.Duration(base)
	if delay > cfg.MaxBackoff {
		delay = cfg.MaxBackoff
	}
	if cfg.Jitter <= 0 {
		return delay
	}
	// Uniform in [delay*(1-jitter), delay*(1+jitter)].
	span := float64(delay) * cfg.Jitter
	offset := (rand.Float64()*2 - 1) * span
	jittered := time.Duration(float64(delay) + offset)
	if jittered < 0 {
		return 0
	}
	return jittered
}
