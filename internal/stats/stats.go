// Package stats defines the statistics provider boundary the rewriter uses to
// obtain frequency and document counts for candidate expressions, the
// per-rewrite memoization layer in front of it, and the concrete backends.
package stats

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

// Stats are the collection statistics of one expression.
type Stats struct {
	Frequency     int64 `json:"frequency"`
	DocumentCount int64 `json:"document_count"`
}

// Provider answers statistics queries against the default collection.
type Provider interface {
	NodeStatistics(ctx context.Context, n *query.Node) (Stats, error)
}

// GroupProvider can additionally answer against a named alternate collection.
type GroupProvider interface {
	Provider
	GroupNodeStatistics(ctx context.Context, n *query.Node, group string) (Stats, error)
}

// Fetch queries group when it is non-empty and p supports groups, otherwise
// the default collection.
func Fetch(ctx context.Context, p Provider, n *query.Node, group string) (Stats, error) {
	if group != "" {
		if gp, ok := p.(GroupProvider); ok {
			return gp.GroupNodeStatistics(ctx, n, group)
		}
	}
	return p.NodeStatistics(ctx, n)
}

// Key is the cache signature of an expression within a group.
func Key(n *query.Node, group string) string {
	return n.String() + "-" + group
}
