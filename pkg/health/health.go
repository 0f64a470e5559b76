// Package health runs the dependency checks of the rewrite service in parallel
// and serves liveness and readiness probes. A degraded statistics backend
// still leaves the service ready, since rewrites fall back to statistics-free
// weights; only a down component fails readiness.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     string                     `json:"uptime"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	started time.Time
	logger  *slog.Logger
}

// NewChecker returns a Checker whose individual checks are each bounded by
// timeout.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]Check),
		timeout: timeout,
		started: time.Now(),
		logger:  logger.WithComponent("health"),
	}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The report carries the worst
// component status; a check that overruns its timeout counts as down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		components = make(map[string]ComponentHealth, len(checks))
	)
	for name, check := range checks {
		wg.Go(func() {
			result := c.runOne(ctx, check)
			mu.Lock()
			components[name] = result
			mu.Unlock()
		})
	}
	wg.Wait()

	overall := StatusUp
	for name, comp := range components {
		if comp.Status == StatusUp {
			continue
		}
		c.logger.Warn("health check not up", "check", name, "status", comp.Status, "message", comp.Message)
		if comp.Status.rank() > overall.rank() {
			overall = comp.Status
		}
	}
	return Report{
		Status:     overall,
		Components: components,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Timestamp:  time.Now().UTC(),
	}
}

func (c *Checker) runOne(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() { done <- check(ctx) }()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: "check timed out"}
	}
	result.Latency = time.Since(start).Round(time.Millisecond).String()
	return result
}

// LiveHandler answers liveness probes; it never consults dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes with the full report, failing only
// when some component is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// PingCheck reports down when ping fails. critical=false downgrades a failure
// to degraded, for dependencies the service can run without.
func PingCheck(ping func(ctx context.Context) error, critical bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			status := StatusDown
			if !critical {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// BreakerCheck reports degraded while the breaker is not closed.
func BreakerCheck(state func() string) Check {
	return func(context.Context) ComponentHealth {
		if s := state(); s != "closed" {
			return ComponentHealth{Status: StatusDegraded, Message: "circuit breaker " + s}
		}
		return ComponentHealth{Status: StatusUp}
	}
}
