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

// Package ratelimit layers the rate-limit retry envelope underneath a
// per-(provider, model) CircuitBreaker: the breaker short-circuits calls
// outright once consecutive transient/permanent failures accumulate, while
// Retry handles the narrower, expected RateLimited case with backoff.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/log"
)

// CircuitState is one of the breaker's three states.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	OnStateChange    func(from, to CircuitState)
}

// DefaultBreakerConfig returns sane defaults for BreakerConfig.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker prevents cascading failures against one (provider, model)
// pair by rejecting calls outright once FailureThreshold consecutive
// failures accumulate, retrying with exponential backoff via a half-open
// probe state.
type CircuitBreaker struct {
	mu               sync.RWMutex
	state            CircuitState
	failureCount     int
	successCount     int
	consecutiveOpens int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	config           BreakerConfig
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{state: StateClosed, config: config, lastStateChange: time.Now()}
}

// Execute runs operation, consulting and updating the breaker's state.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := operation()
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailureTime
	cb.mu.RUnlock()

	switch state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		timeout := cb.calculateTimeout()
		if time.Since(lastFailure) >= timeout {
			cb.setState(StateHalfOpen)
			return nil
		}
		remaining := timeout - time.Since(lastFailure)
		return fmt.Errorf("circuit breaker open: too many consecutive failures (%d), retry after %v",
			cb.config.FailureThreshold, remaining)
	default:
		return fmt.Errorf("unknown circuit breaker state: %v", state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.consecutiveOpens = 0
			cb.setStateLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.consecutiveOpens++
			cb.setStateLocked(StateOpen)
			log.Warn("circuit breaker opened",
				zap.Int("consecutive_failures", cb.failureCount),
				zap.Duration("backoff", cb.calculateTimeoutLocked()))
		}
	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(newState)
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, newState)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed, bypassing the timeout.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	old := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.consecutiveOpens = 0
	cb.lastStateChange = time.Now()
	if cb.config.OnStateChange != nil && old != StateClosed {
		cb.config.OnStateChange(old, StateClosed)
	}
}

func (cb *CircuitBreaker) calculateTimeout() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.calculateTimeoutLocked()
}

// calculateTimeoutLocked doubles the base timeout per consecutive open,
// capped at 60s.
func (cb *CircuitBreaker) calculateTimeoutLocked() time.Duration {
	if cb.consecutiveOpens <= 0 {
		return cb.config.Timeout
	}
	delay := cb.config.Timeout * (1 << uint(cb.consecutiveOpens-1))
	const maxDelay = 60 * time.Second
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Manager holds one CircuitBreaker per key (typically "provider/model").
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewManager constructs a Manager using config for every breaker it creates.
func NewManager(config BreakerConfig) *Manager {
	return &Manager{breakers: make(map[string]*CircuitBreaker), config: config}
}

// Get returns the breaker for key, creating one on first use.
func (m *Manager) Get(key string) *CircuitBreaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b = NewCircuitBreaker(m.config)
	m.breakers[key] = b
	return b
}
