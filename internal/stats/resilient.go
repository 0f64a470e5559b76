package stats

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/resilience"
)

// Resilient bounds each provider call with a timeout and stops calling a
// failing backend once its circuit breaker opens.
type Resilient struct {
	next    Provider
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

func NewResilient(next Provider, breaker *resilience.CircuitBreaker, timeout time.Duration) *Resilient {
	return &Resilient{next: next, breaker: breaker, timeout: timeout}
}

func (r *Resilient) NodeStatistics(ctx context.Context, n *query.Node) (Stats, error) {
	return r.GroupNodeStatistics(ctx, n, "")
}

func (r *Resilient) GroupNodeStatistics(ctx context.Context, n *query.Node, group string) (Stats, error) {
	var s Stats
	err := r.breaker.Execute(func() error {
		var err error
		s, err = resilience.Call(ctx, r.timeout, "node statistics", func(ctx context.Context) (Stats, error) {
			return Fetch(ctx, r.next, n, group)
		})
		return err
	})
	return s, err
}

func (r *Resilient) State() resilience.State {
	return r.breaker.State()
}
