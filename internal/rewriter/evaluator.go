package rewriter

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stats"
)

// Candidate is an n-gram of adjacent query terms being weighted.
type Candidate struct {
	Terms []string

	expr *query.Node
}

func NewCandidate(terms ...string) *Candidate {
	return &Candidate{Terms: terms}
}

func (c *Candidate) Arity() feature.Arity {
	return feature.Arity(len(c.Terms))
}

func (c *Candidate) String() string {
	return strings.Join(c.Terms, ", ")
}

// PartitionResolver annotates a statistics leaf with its index partition.
type PartitionResolver interface {
	Assign(n *query.Node, queryPart string) *query.Node
}

// Evaluator computes feature values for the candidates of one rewrite. It
// owns the statistics cache of that rewrite and must not outlive it.
type Evaluator struct {
	cache     *stats.Cache
	parts     PartitionResolver
	params    Params
	overrides *query.Node
	verbose   bool
	logger    *slog.Logger
}

// Lambda resolves the weight of f: the rewritten node's own parameter first,
// then the query parameters, then the feature default.
func (e *Evaluator) Lambda(f *feature.Definition) float64 {
	if e.overrides != nil {
		if v, ok := e.overrides.FloatParam(f.Name); ok {
			return v
		}
	}
	if v, ok := e.params.Lambdas[f.Name]; ok {
		return v
	}
	return f.DefaultLambda
}

// Evaluate returns the raw value of f for c, or false when the feature is
// disabled (lambda 0) or its statistic is missing or zero.
func (e *Evaluator) Evaluate(ctx context.Context, f *feature.Definition, c *Candidate) (float64, bool) {
	if e.Lambda(f) == 0.0 {
		return 0, false
	}
	switch f.Type {
	case feature.Const:
		return 1.0, true
	case feature.LogTermFrequency:
		s, ok := e.statistics(ctx, f, e.withPart(e.expression(c), f.Part))
		return logOf(s.Frequency, ok)
	case feature.LogDocumentFrequency:
		s, ok := e.statistics(ctx, f, e.withPart(e.expression(c), f.Part))
		return logOf(s.DocumentCount, ok)
	case feature.LogNGramTermFrequency:
		node := e.expression(c)
		if c.Arity() > feature.Unigram {
			node = query.NGram(c.Terms...)
		}
		s, ok := e.statistics(ctx, f, e.withPart(node, f.Part))
		return logOf(s.Frequency, ok)
	case feature.External:
		if f.Table == nil {
			return 0, false
		}
		v, ok := f.Table.Lookup(c.Terms...)
		return logOf(v, ok)
	}
	return 0, false
}

// expression builds, once per candidate, the statistics expression: a counts
// leaf for a single term, an ordered window of width 1 otherwise.
func (e *Evaluator) expression(c *Candidate) *query.Node {
	if c.expr != nil {
		return c.expr
	}
	if len(c.Terms) == 1 {
		c.expr = e.parts.Assign(query.Counts(c.Terms[0]), e.params.Part)
		return c.expr
	}
	leaves := make([]*query.Node, len(c.Terms))
	for i, term := range c.Terms {
		leaves[i] = e.parts.Assign(query.Extents(term), e.params.Part)
	}
	c.expr = query.Window(query.OpOrdered, 1, leaves...)
	return c.expr
}

// withPart forces part onto every leaf of n, copying n when it changes.
func (e *Evaluator) withPart(n *query.Node, part string) *query.Node {
	if part == "" {
		return n
	}
	forced := n.Clone()
	if forced.IsLeaf() {
		forced.SetParam(query.PartKey, part)
		return forced
	}
	for _, child := range forced.Children {
		child.SetParam(query.PartKey, part)
	}
	return forced
}

func (e *Evaluator) statistics(ctx context.Context, f *feature.Definition, n *query.Node) (stats.Stats, bool) {
	s, err := e.cache.Lookup(ctx, n, f.Group)
	if err != nil {
		if e.verbose {
			e.logger.Info("statistics unavailable, feature skipped",
				"feature", f.Name,
				"node", n.String(),
				"group", f.Group,
				"error", err,
			)
		}
		return stats.Stats{}, false
	}
	return s, true
}

func logOf(v int64, ok bool) (float64, bool) {
	if !ok || v <= 0 {
		return 0, false
	}
	return math.Log(float64(v)), true
}
