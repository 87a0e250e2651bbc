package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aimerfeng/BioLink/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for circuit breakers
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed through while half-open
	MaxRequests uint32
	// Interval is the cyclic period of the closed state after which counts reset
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold uint32
}

// DefaultBreakerConfig returns default circuit breaker configuration
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerState represents the state of a circuit breaker
type BreakerState string

const (
	BreakerStateClosed   BreakerState = "closed"
	BreakerStateOpen     BreakerState = "open"
	BreakerStateHalfOpen BreakerState = "half-open"
)

// BreakerStatus contains status information about a circuit breaker
type BreakerStatus struct {
	Name         string       `json:"name"`
	State        BreakerState `json:"state"`
	Requests     uint32       `json:"requests"`
	TotalSuccess uint32       `json:"total_success"`
	TotalFailure uint32       `json:"total_failure"`
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerManager hands out one circuit breaker per Redis-backed dependency
type BreakerManager struct {
	breakers map[string]*gobreaker.CircuitBreaker
	config   *BreakerConfig
	mu       sync.RWMutex
}

// NewBreakerManager creates a new circuit breaker manager
func NewBreakerManager(config *BreakerConfig) *BreakerManager {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
	}
}

// Breaker returns or creates the circuit breaker for name
func (m *BreakerManager) Breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("redis-%s", name),
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.FailureThreshold
		},
		OnStateChange: func(breaker string, from gobreaker.State, to gobreaker.State) {
			monitoring.SetCircuitBreakerState(breaker, stateToGauge(to))
			log.Info().
				Str("circuit_breaker", breaker).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up says nothing about Redis health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	m.breakers[name] = cb
	return cb
}

// Execute runs fn under the named breaker
func (m *BreakerManager) Execute(ctx context.Context, name string, fn func() (any, error)) (any, error) {
	cb := m.Breaker(name)

	result, err := cb.Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// Status returns the status of a circuit breaker, or nil if it was never used
func (m *BreakerManager) Status(name string) *BreakerStatus {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	counts := cb.Counts()
	return &BreakerStatus{
		Name:         name,
		State:        BreakerState(stateToString(cb.State())),
		Requests:     counts.Requests,
		TotalSuccess: counts.TotalSuccesses,
		TotalFailure: counts.TotalFailures,
	}
}

// AllStatus returns the status of every breaker
func (m *BreakerManager) AllStatus() []*BreakerStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	statuses := make([]*BreakerStatus, 0, len(names))
	for _, name := range names {
		if s := m.Status(name); s != nil {
			statuses = append(statuses, s)
		}
	}
	return statuses
}

// IsOpen checks if the named breaker is open
func (m *BreakerManager) IsOpen(name string) bool {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	return exists && cb.State() == gobreaker.StateOpen
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return string(BreakerStateClosed)
	case gobreaker.StateOpen:
		return string(BreakerStateOpen)
	case gobreaker.StateHalfOpen:
		return string(BreakerStateHalfOpen)
	default:
		return "unknown"
	}
}

func stateToGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
