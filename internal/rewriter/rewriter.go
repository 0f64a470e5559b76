// Package rewriter turns a #rwsdm operator over plain query terms into a
// weighted sequential dependency model: a #combine of unigram leaves and
// ordered/unordered windows over adjacent bigrams and trigrams, each weighted
// by a linear combination of features.
package rewriter

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stats"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/tracing"
)

// Window widths of the generated proximity operators.
const (
	OrderedWidth          = 1
	BigramUnorderedWidth  = 8
	TrigramUnorderedWidth = 12
)

// State is a phase of a single operator rewrite.
type State int

const (
	Validating State = iota
	BuildingUnigrams
	BuildingBigrams
	BuildingTrigrams
	Assembled
	Rejected
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case BuildingUnigrams:
		return "building_unigrams"
	case BuildingBigrams:
		return "building_bigrams"
	case BuildingTrigrams:
		return "building_trigrams"
	case Assembled:
		return "assembled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Params are the query-level settings of one rewrite: feature lambdas keyed
// by feature name and the partition requested for term statistics.
type Params struct {
	Lambdas map[string]float64
	Part    string
}

// Observer receives one report per rewritten operator.
type Observer interface {
	ObserveRewrite(outcome string, children, cacheHits, cacheMisses int, elapsed time.Duration)
}

type Options struct {
	Verbose bool
	Norm    bool
}

// Rewriter is safe for concurrent use; each call to Rewrite gets its own
// statistics cache.
type Rewriter struct {
	features *feature.Set
	provider stats.Provider
	parts    PartitionResolver
	opts     Options
	observer Observer
}

type Option func(*Rewriter)

func WithPartitionResolver(r PartitionResolver) Option {
	return func(rw *Rewriter) { rw.parts = r }
}

func WithObserver(o Observer) Option {
	return func(rw *Rewriter) { rw.observer = o }
}

func New(features *feature.Set, provider stats.Provider, opts Options, options ...Option) *Rewriter {
	rw := &Rewriter{
		features: features,
		provider: provider,
		parts:    unscoped{},
		opts:     opts,
	}
	for _, o := range options {
		o(rw)
	}
	return rw
}

func (rw *Rewriter) Features() *feature.Set {
	return rw.features
}

// Rewrite replaces every #rwsdm operator in root, bottom-up, and returns the
// rewritten tree. Other operators are kept as they are. root itself is left
// untouched, also when a later operator is rejected.
func (rw *Rewriter) Rewrite(ctx context.Context, root *query.Node, params Params) (*query.Node, error) {
	return query.Transform(root.Clone(), func(n *query.Node) (*query.Node, error) {
		if n.Operator != query.OpRWSDM {
			return n, nil
		}
		return rw.rewriteOperator(ctx, n, params)
	})
}

func (rw *Rewriter) rewriteOperator(ctx context.Context, original *query.Node, params Params) (*query.Node, error) {
	start := time.Now()
	ctx, span := tracing.StartChildSpan(ctx, "rwsdm.operator")
	defer span.End()
	log := logger.FromContext(ctx).With("component", "rwsdm")
	state := Validating
	enter := func(s State) {
		log.Debug("rwsdm transition", "from", state.String(), "to", s.String())
		state = s
	}
	for i, child := range original.Children {
		if child.Operator != query.OpText {
			enter(Rejected)
			span.SetAttr("rejected_child", i)
			rw.observe(state, 0, nil, start)
			return nil, apperrors.Newf(apperrors.ErrMalformedQuery, original.Operator,
				"operator requires text-only children: child %d is %s", i, child.String())
		}
	}

	ev := &Evaluator{
		cache:     stats.NewCache(rw.provider),
		parts:     rw.parts,
		params:    params,
		overrides: original,
		verbose:   rw.opts.Verbose,
		logger:    log,
	}
	terms := make([]string, len(original.Children))
	for i, child := range original.Children {
		terms[i] = child.Default()
	}

	var children []*query.Node
	var weights []float64
	emit := func(n *query.Node, w float64) {
		children = append(children, n)
		weights = append(weights, w)
	}

	enter(BuildingUnigrams)
	for i, child := range original.Children {
		emit(child.Clone(), ev.Aggregate(ctx, rw.features.Unigrams, NewCandidate(terms[i])))
	}

	enter(BuildingBigrams)
	if len(rw.features.Bigrams) > 0 {
		rw.buildWindows(ctx, ev, terms, feature.Bigram, BigramUnorderedWidth, emit)
	}

	enter(BuildingTrigrams)
	if len(rw.features.Trigrams) > 0 {
		rw.buildWindows(ctx, ev, terms, feature.Trigram, TrigramUnorderedWidth, emit)
	}

	enter(Assembled)
	out := query.Combine(children, weights, rw.opts.Norm)
	out.Position = original.Position
	if rw.opts.Verbose {
		log.Info("rewritten operator", "expression", out.PrettyString())
	}
	rw.observe(state, len(children), ev.cache, start)
	span.SetAttr("children", len(children))
	span.SetAttr("stats_lookups", ev.cache.Misses())
	return out, nil
}

// buildWindows emits, for every run of arity adjacent terms, an ordered and
// an unordered window sharing one weight.
func (rw *Rewriter) buildWindows(ctx context.Context, ev *Evaluator, terms []string, arity feature.Arity, unorderedWidth int, emit func(*query.Node, float64)) {
	features := rw.features.For(arity)
	n := int(arity)
	for i := 0; i+n <= len(terms); i++ {
		gram := terms[i : i+n]
		w := ev.Aggregate(ctx, features, NewCandidate(gram...))
		emit(query.Window(query.OpOD, OrderedWidth, extentsOf(gram)...), w)
		emit(query.Window(query.OpUW, unorderedWidth, extentsOf(gram)...), w)
	}
}

func (rw *Rewriter) observe(state State, children int, cache *stats.Cache, start time.Time) {
	if rw.observer == nil {
		return
	}
	hits, misses := 0, 0
	if cache != nil {
		hits, misses = cache.Hits(), cache.Misses()
	}
	rw.observer.ObserveRewrite(state.String(), children, hits, misses, time.Since(start))
}

func extentsOf(terms []string) []*query.Node {
	leaves := make([]*query.Node, len(terms))
	for i, t := range terms {
		leaves[i] = query.Extents(t)
	}
	return leaves
}

type unscoped struct{}

func (unscoped) Assign(n *query.Node, _ string) *query.Node { return n }
