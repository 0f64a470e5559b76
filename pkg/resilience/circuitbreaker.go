// Package resilience guards calls to the remote statistics backend: a
// circuit breaker that stops calling a failing backend, retry with jittered
// backoff for connection setup, and deadline-bounded calls. Failures are
// reported with the service's error sentinels so callers can map them.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// ErrCircuitOpen is returned without calling the backend while the breaker
// is open. It matches apperrors.ErrUnavailable.
var ErrCircuitOpen = fmt.Errorf("circuit breaker open: %w", apperrors.ErrUnavailable)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before a probe.
	ResetTimeout time.Duration
	// HalfOpenProbes is the number of concurrent probe calls allowed.
	HalfOpenProbes int
	// IsFailure decides which errors count against the backend. The default
	// ignores cancellation by the caller.
	IsFailure func(error) bool
	// OnStateChange is called under the breaker lock after every transition.
	OnStateChange func(name string, to State)
}

// Counts is a snapshot of the breaker's bookkeeping.
type Counts struct {
	ConsecutiveFailures int
	TotalFailures       int64
	Rejected            int64
}

type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	openedAt time.Time
	probes   int
	counts   Counts
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.WithComponent("circuit-breaker").With("name", name),
	}
}

// Execute runs fn unless the breaker is open, then records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			cb.counts.Rejected++
			return fmt.Errorf("%s: %w (probe in %v)", cb.name, ErrCircuitOpen, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
		cb.probes = 1
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			cb.counts.Rejected++
			return fmt.Errorf("%s: %w (probe in flight)", cb.name, ErrCircuitOpen)
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probes--
	}
	if err == nil || !cb.cfg.IsFailure(err) {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && err == nil {
			cb.transition(StateClosed)
		}
		return
	}
	cb.counts.ConsecutiveFailures++
	cb.counts.TotalFailures++
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		if cb.state != StateOpen {
			cb.logger.Warn("backend failing, circuit opened",
				"consecutive_failures", cb.counts.ConsecutiveFailures,
				"error", err,
			)
		}
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// Reset closes the breaker and clears its failure streak.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.ConsecutiveFailures = 0
	cb.probes = 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	cb.logger.Info("circuit state changed", "from", cb.state.String(), "to", to.String())
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
