package carrier

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the state of one operation's circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks failure/success for one carrier operation so a
// run of failures stops hammering an already-unhealthy carrier endpoint.
type CircuitBreaker struct {
	mu               sync.RWMutex
	operation        string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	totalRequests    int
	totalFailures    int
}

// NewCircuitBreaker creates a circuit breaker for a specific carrier
// operation (e.g. "get_rate").
func NewCircuitBreaker(operation string) *CircuitBreaker {
	return &CircuitBreaker{
		operation:        operation,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            CircuitClosed,
	}
}

// ShouldAttempt reports whether a call should proceed given the current
// circuit state.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		return time.Since(cb.lastFailureTime) > cb.recoveryTimeout
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call and closes the circuit if it
// was probing recovery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.totalRequests++
	cb.failureCount = 0

	if cb.state == CircuitHalfOpen || cb.state == CircuitOpen {
		cb.state = CircuitClosed
		slog.Info("carrier circuit closed", slog.String("operation", cb.operation))
	}
}

// RecordFailure records a failed call and opens the circuit once
// consecutive failures reach the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.totalFailures++
	cb.totalRequests++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("carrier circuit opened",
			slog.String("operation", cb.operation),
			slog.Int("failure_count", cb.failureCount))
	} else if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state, transitioning Open to
// HalfOpen if the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) > cb.recoveryTimeout {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}

// CircuitBreakerManager owns one CircuitBreaker per carrier operation.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager constructs an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

// GetBreaker returns (creating if necessary) the breaker for operation.
func (m *CircuitBreakerManager) GetBreaker(operation string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[operation]; ok {
		return b
	}
	b := NewCircuitBreaker(operation)
	m.breakers[operation] = b
	return b
}

// HealthyOperations returns the names of operations whose circuit is not
// currently open.
func (m *CircuitBreakerManager) HealthyOperations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for op, b := range m.breakers {
		if b.State() != CircuitOpen {
			out = append(out, op)
		}
	}
	return out
}

// Snapshot returns the current state of every operation's breaker, for a
// metrics poller to export without reaching into the manager's internals.
func (m *CircuitBreakerManager) Snapshot() map[string]CircuitState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CircuitState, len(m.breakers))
	for op, b := range m.breakers {
		out[op] = b.State()
	}
	return out
}
