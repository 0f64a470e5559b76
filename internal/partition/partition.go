// Package partition decides which index partition a statistics leaf is
// drawn from when the feature itself does not force one.
package partition

import (
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

// Resolver annotates term leaves with a partition. The query-level partition
// wins over the configured default; a partition the backend does not
// advertise is ignored.
type Resolver struct {
	defaultPart string
	available   map[string]struct{}
	logger      *slog.Logger
}

// NewResolver accepts any partition when available is empty.
func NewResolver(defaultPart string, available []string) *Resolver {
	r := &Resolver{
		defaultPart: defaultPart,
		logger:      slog.Default().With("component", "partition-resolver"),
	}
	if len(available) > 0 {
		r.available = make(map[string]struct{}, len(available))
		for _, p := range available {
			r.available[p] = struct{}{}
		}
	}
	return r
}

// Assign returns n annotated with the resolved partition, or n itself when
// it is not a term leaf, already carries a partition, or none applies.
func (r *Resolver) Assign(n *query.Node, queryPart string) *query.Node {
	if !n.IsLeaf() {
		return n
	}
	if _, ok := n.Param(query.PartKey); ok {
		return n
	}
	part := queryPart
	if part == "" {
		part = r.defaultPart
	}
	if part == "" {
		return n
	}
	if r.available != nil {
		if _, ok := r.available[part]; !ok {
			r.logger.Debug("partition not available, leaving node unscoped", "part", part, "node", n.String())
			return n
		}
	}
	assigned := n.Clone()
	assigned.SetParam(query.PartKey, part)
	return assigned
}
