package rewriter

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/external"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/partition"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stats"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stem"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

// stubProvider serves fixed statistics keyed by canonical expression and
// records every call.
type stubProvider struct {
	mu        sync.Mutex
	values    map[string]stats.Stats
	err       error
	calls     []string
	groupCall []string
}

func newStub() *stubProvider {
	return &stubProvider{values: make(map[string]stats.Stats)}
}

func (s *stubProvider) set(expr string, st stats.Stats) *stubProvider {
	s.values[expr] = st
	return s
}

func (s *stubProvider) NodeStatistics(_ context.Context, n *query.Node) (stats.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n.String())
	if s.err != nil {
		return stats.Stats{}, s.err
	}
	return s.values[n.String()], nil
}

type groupStub struct {
	*stubProvider
}

func (g groupStub) GroupNodeStatistics(_ context.Context, n *query.Node, group string) (stats.Stats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.groupCall = append(g.groupCall, group+":"+n.String())
	return g.values[group+":"+n.String()], nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func lambda(v float64) *float64 { return &v }
func flag(v bool) *bool         { return &v }

func mustSet(t *testing.T, records []config.FeatureConfig, registry *external.Registry) *feature.Set {
	t.Helper()
	set, err := feature.NewSet(records, registry)
	require.NoError(t, err)
	return set
}

func rewriteTerms(t *testing.T, rw *Rewriter, params Params, terms ...string) *query.Node {
	t.Helper()
	out, err := rw.Rewrite(context.Background(), query.FromTerms(terms), params)
	require.NoError(t, err)
	require.Equal(t, query.OpCombine, out.Operator)
	return out
}

func weights(t *testing.T, n *query.Node) []float64 {
	t.Helper()
	ws := make([]float64, len(n.Children))
	for i := range n.Children {
		w, ok := n.Weight(i)
		require.True(t, ok, "missing weight %d", i)
		ws[i] = w
	}
	return ws
}

func TestDefaultFeaturesClimateChange(t *testing.T) {
	provider := newStub()
	rw := New(feature.Defaults(), provider, Options{})

	out := rewriteTerms(t, rw, Params{}, "climate", "change")

	require.Len(t, out.Children, 4)
	assert.Equal(t, "#text:climate()", out.Children[0].String())
	assert.Equal(t, "#text:change()", out.Children[1].String())
	assert.Equal(t, "#od:1(#extents:climate() #extents:change())", out.Children[2].String())
	assert.Equal(t, "#uw:8(#extents:climate() #extents:change())", out.Children[3].String())

	ws := weights(t, out)
	assert.InDelta(t, 0.8, ws[0], 1e-9)
	assert.InDelta(t, 0.8, ws[1], 1e-9)
	assert.InDelta(t, 0.1, ws[2], 1e-9)
	assert.InDelta(t, 0.1, ws[3], 1e-9)

	norm, ok := out.Param(query.NormKey)
	require.True(t, ok)
	assert.Equal(t, "false", norm)
	assert.Zero(t, provider.callCount(), "zero-lambda features never reach the provider")
}

func TestChildCounts(t *testing.T) {
	unigramOnly := mustSet(t, []config.FeatureConfig{{Name: "c", Type: "const"}}, nil)
	withBigrams := mustSet(t, []config.FeatureConfig{
		{Name: "c1", Type: "const"},
		{Name: "c2", Type: "const", Lambda: lambda(0.3), Unigram: flag(false)},
	}, nil)
	withTrigrams := mustSet(t, []config.FeatureConfig{
		{Name: "c1", Type: "const"},
		{Name: "c2", Type: "const", Lambda: lambda(0.3), Unigram: flag(false)},
		{Name: "c3", Type: "const", Lambda: lambda(0.2), Unigram: flag(false), Bigram: flag(false)},
	}, nil)

	for n := 1; n <= 6; n++ {
		terms := make([]string, n)
		for i := range terms {
			terms[i] = string(rune('a' + i))
		}

		out := rewriteTerms(t, New(unigramOnly, newStub(), Options{}), Params{}, terms...)
		assert.Len(t, out.Children, n)
		for _, c := range out.Children {
			assert.Equal(t, query.OpText, c.Operator)
		}

		out = rewriteTerms(t, New(withBigrams, newStub(), Options{}), Params{}, terms...)
		assert.Len(t, out.Children, n+2*max(n-1, 0))
		ws := weights(t, out)
		for i := n; i < len(ws); i += 2 {
			assert.Equal(t, ws[i], ws[i+1])
			assert.Equal(t, query.OpOD, out.Children[i].Operator)
			assert.Equal(t, query.OpUW, out.Children[i+1].Operator)
			assert.Equal(t, "8", out.Children[i+1].Default())
		}

		out = rewriteTerms(t, New(withTrigrams, newStub(), Options{}), Params{}, terms...)
		assert.Len(t, out.Children, n+2*max(n-1, 0)+2*max(n-2, 0))
		ws = weights(t, out)
		start := n + 2*max(n-1, 0)
		for i := start; i < len(ws); i += 2 {
			assert.InDelta(t, 0.2, ws[i], 1e-9)
			assert.Equal(t, ws[i], ws[i+1])
			assert.Len(t, out.Children[i].Children, 3)
			assert.Equal(t, "12", out.Children[i+1].Default())
		}
	}
}

func TestZeroLambdaSkipsLookups(t *testing.T) {
	provider := newStub().set("#counts:a()", stats.Stats{Frequency: 10, DocumentCount: 5})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "tf", Type: "logtf", Lambda: lambda(0)},
		{Name: "df", Type: "logdf", Lambda: lambda(0.5)},
	}, nil)
	rw := New(set, provider, Options{})

	out := rewriteTerms(t, rw, Params{Lambdas: map[string]float64{"df": 0}}, "a")
	assert.Zero(t, provider.callCount())
	w, _ := out.Weight(0)
	assert.Zero(t, w)

	node := query.FromTerms([]string{"a"})
	node.SetParam("tf", "0")
	_, err := rw.Rewrite(context.Background(), node, Params{Lambdas: map[string]float64{"tf": 2, "df": 0}})
	require.NoError(t, err)
	assert.Zero(t, provider.callCount(), "a node override of zero also short-circuits")
}

func TestSharedExpressionFetchedOnce(t *testing.T) {
	provider := newStub().set("#counts:a()", stats.Stats{Frequency: 20, DocumentCount: 4})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "tf", Type: "logtf", Lambda: lambda(1)},
		{Name: "df", Type: "logdf", Lambda: lambda(2)},
		{Name: "ngram", Type: "logngramtf", Lambda: lambda(0.5)},
	}, nil)
	rw := New(set, provider, Options{})

	out := rewriteTerms(t, rw, Params{}, "a")

	assert.Equal(t, 1, provider.callCount())
	w, _ := out.Weight(0)
	assert.InDelta(t, math.Log(20)+2*math.Log(4)+0.5*math.Log(20), w, 1e-9)
}

func TestBigramStatisticsExpressions(t *testing.T) {
	provider := newStub().
		set("#ordered:1(#extents:new() #extents:york())", stats.Stats{Frequency: 30, DocumentCount: 12}).
		set("#counts:new~york()", stats.Stats{Frequency: 7}).
		set("#ordered:1(#extents:new:part=title() #extents:york:part=title())", stats.Stats{Frequency: 3})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "tf", Type: "logtf", Unigram: flag(false)},
		{Name: "df", Type: "logdf", Unigram: flag(false)},
		{Name: "ng", Type: "logngramtf", Unigram: flag(false)},
		{Name: "title", Type: "logtf", Part: "title", Unigram: flag(false)},
	}, nil)
	rw := New(set, provider, Options{})

	out := rewriteTerms(t, rw, Params{}, "new", "york")

	expected := math.Log(30) + math.Log(12) + math.Log(7) + math.Log(3)
	ws := weights(t, out)
	require.Len(t, ws, 4)
	assert.InDelta(t, expected, ws[2], 1e-9)
	assert.InDelta(t, expected, ws[3], 1e-9)
	assert.Len(t, provider.calls, 3)
}

func TestLambdaPrecedence(t *testing.T) {
	set := mustSet(t, []config.FeatureConfig{{Name: "c", Type: "const", Lambda: lambda(0.8)}}, nil)
	rw := New(set, newStub(), Options{})

	out := rewriteTerms(t, rw, Params{}, "a")
	w, _ := out.Weight(0)
	assert.InDelta(t, 0.8, w, 1e-9)

	out = rewriteTerms(t, rw, Params{Lambdas: map[string]float64{"c": 0.5}}, "a")
	w, _ = out.Weight(0)
	assert.InDelta(t, 0.5, w, 1e-9)

	node, err := query.Parse("#rwsdm:c=0.25(a)")
	require.NoError(t, err)
	out, err = rw.Rewrite(context.Background(), node, Params{Lambdas: map[string]float64{"c": 0.5}})
	require.NoError(t, err)
	w, _ = out.Weight(0)
	assert.InDelta(t, 0.25, w, 1e-9)
}

func TestMissingStatisticsExcluded(t *testing.T) {
	provider := newStub().set("#counts:known()", stats.Stats{Frequency: 100, DocumentCount: 0})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "c", Type: "const", Lambda: lambda(0.5)},
		{Name: "tf", Type: "logtf", Lambda: lambda(1)},
		{Name: "df", Type: "logdf", Lambda: lambda(1)},
	}, nil)
	rw := New(set, provider, Options{Verbose: true})

	out := rewriteTerms(t, rw, Params{}, "known", "unknown")
	ws := weights(t, out)
	assert.InDelta(t, 0.5+math.Log(100), ws[0], 1e-9)
	assert.InDelta(t, 0.5, ws[1], 1e-9)
	for _, w := range ws {
		assert.False(t, math.IsInf(w, 0) || math.IsNaN(w))
	}
}

func TestProviderErrorsDegrade(t *testing.T) {
	provider := newStub()
	provider.err = errors.New("index offline")
	set := mustSet(t, []config.FeatureConfig{
		{Name: "c", Type: "const", Lambda: lambda(0.5)},
		{Name: "tf", Type: "logtf"},
		{Name: "df", Type: "logdf"},
	}, nil)
	rw := New(set, provider, Options{Verbose: true})

	out := rewriteTerms(t, rw, Params{}, "a")
	w, _ := out.Weight(0)
	assert.InDelta(t, 0.5, w, 1e-9)
	assert.Equal(t, 1, provider.callCount())
}

func TestGroupRouting(t *testing.T) {
	base := newStub().set("#counts:a()", stats.Stats{Frequency: 2})
	base.values["wiki:#counts:a()"] = stats.Stats{Frequency: 50}
	set := mustSet(t, []config.FeatureConfig{
		{Name: "tf", Type: "logtf"},
		{Name: "wiki-tf", Type: "logtf", Group: "wiki"},
	}, nil)

	out := rewriteTerms(t, New(set, groupStub{base}, Options{}), Params{}, "a")
	w, _ := out.Weight(0)
	assert.InDelta(t, math.Log(2)+math.Log(50), w, 1e-9)
	assert.Equal(t, []string{"wiki:#counts:a()"}, base.groupCall)

	plain := newStub().set("#counts:a()", stats.Stats{Frequency: 2})
	out = rewriteTerms(t, New(set, plain, Options{}), Params{}, "a")
	w, _ = out.Weight(0)
	assert.InDelta(t, 2*math.Log(2), w, 1e-9, "without group support both features read the default")
	assert.Equal(t, 2, plain.callCount(), "group is part of the cache key")
}

func TestPartitionResolution(t *testing.T) {
	provider := newStub().
		set("#counts:a:part=postings()", stats.Stats{Frequency: 9}).
		set("#counts:a:part=title()", stats.Stats{Frequency: 3})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "tf", Type: "logtf"},
		{Name: "title", Type: "logtf", Part: "title"},
	}, nil)
	rw := New(set, provider, Options{},
		WithPartitionResolver(partition.NewResolver("postings", []string{"postings", "title"})))

	out := rewriteTerms(t, rw, Params{}, "a")
	w, _ := out.Weight(0)
	assert.InDelta(t, math.Log(9)+math.Log(3), w, 1e-9)
}

func writeValues(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ngrams.tsv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExternalFeature(t *testing.T) {
	path := writeValues(t, "new york\t50\nbad line\n")
	registry := external.NewRegistry(stem.Identity{})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "c", Type: "const", Lambda: lambda(0)},
		{Name: "ext", Type: "external", Lambda: lambda(0.3), Unigram: flag(false), Path: path},
	}, registry)
	rw := New(set, newStub(), Options{})

	out := rewriteTerms(t, rw, Params{}, "new", "york")
	ws := weights(t, out)
	assert.InDelta(t, 0.3*math.Log(50), ws[2], 1e-9)
	assert.InDelta(t, 0.3*math.Log(50), ws[3], 1e-9)

	out = rewriteTerms(t, rw, Params{}, "old", "york")
	ws = weights(t, out)
	assert.Zero(t, ws[2])
	assert.Zero(t, ws[3])
}

func TestExternalTablesSharedAcrossConcurrentConstruction(t *testing.T) {
	path := writeValues(t, "new york\t50\n")
	registry := external.NewRegistry(stem.Identity{})
	records := []config.FeatureConfig{
		{Name: "ext", Type: "external", Unigram: flag(false), Path: path},
	}

	const workers = 8
	results := make([]float64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			set, err := feature.NewSet(records, registry)
			if !assert.NoError(t, err) {
				return
			}
			out, err := New(set, newStub(), Options{}).Rewrite(context.Background(), query.FromTerms([]string{"new", "york"}), Params{})
			if !assert.NoError(t, err) {
				return
			}
			results[idx], _ = out.Weight(2)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), registry.Loads())
	for _, w := range results {
		assert.InDelta(t, math.Log(50), w, 1e-9)
	}
}

func TestRejectsNonTextChildren(t *testing.T) {
	node, err := query.Parse("#rwsdm(a #od:1(b c))")
	require.NoError(t, err)
	rec := &recordingObserver{}
	rw := New(feature.Defaults(), newStub(), Options{}, WithObserver(rec))

	out, err := rw.Rewrite(context.Background(), node, Params{})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperrors.ErrMalformedQuery)
	assert.Contains(t, err.Error(), "text-only children")
	assert.Contains(t, err.Error(), "child 1")
	assert.Equal(t, []string{"rejected"}, rec.outcomes)
}

func TestRewriteLeavesInputUntouched(t *testing.T) {
	rw := New(feature.Defaults(), newStub(), Options{})

	rejected, err := query.Parse("#combine(#rwsdm(a b) #rwsdm(#od:1(x y)))")
	require.NoError(t, err)
	before := rejected.String()
	_, err = rw.Rewrite(context.Background(), rejected, Params{})
	require.ErrorIs(t, err, apperrors.ErrMalformedQuery)
	assert.Equal(t, before, rejected.String())
	assert.Equal(t, query.OpRWSDM, rejected.Children[0].Operator)

	accepted, err := query.Parse("#combine(#rwsdm(a b) #text:c())")
	require.NoError(t, err)
	before = accepted.String()
	out, err := rw.Rewrite(context.Background(), accepted, Params{})
	require.NoError(t, err)
	assert.Equal(t, before, accepted.String())
	assert.Equal(t, query.OpCombine, out.Children[0].Operator)
}

func TestTermWithParameterSyntaxHasOwnStatistics(t *testing.T) {
	provider := newStub().
		set("#counts:x:part=title()", stats.Stats{Frequency: 100}).
		set(`#counts:x\:part\=title()`, stats.Stats{Frequency: 5})
	set := mustSet(t, []config.FeatureConfig{{Name: "tf", Type: "logtf", Lambda: lambda(1)}}, nil)
	rw := New(set, provider, Options{})

	out := rewriteTerms(t, rw, Params{}, "x:part=title")

	w, ok := out.Weight(0)
	require.True(t, ok)
	assert.InDelta(t, math.Log(5), w, 1e-9)
	assert.Equal(t, []string{`#counts:x\:part\=title()`}, provider.calls)
	assert.Equal(t, "x:part=title", out.Children[0].Default())
}

func TestNGramTokenKeepsJoinerInsideTerm(t *testing.T) {
	provider := newStub().
		set("#counts:a~b~c()", stats.Stats{Frequency: 100}).
		set(`#counts:a\\~b~c()`, stats.Stats{Frequency: 4})
	set := mustSet(t, []config.FeatureConfig{
		{Name: "ng", Type: "logngramtf", Lambda: lambda(1), Unigram: flag(false)},
	}, nil)
	rw := New(set, provider, Options{})

	out := rewriteTerms(t, rw, Params{}, "a~b", "c")

	ws := weights(t, out)
	require.Len(t, ws, 4)
	assert.InDelta(t, math.Log(4), ws[2], 1e-9)
	assert.Contains(t, provider.calls, `#counts:a\\~b~c()`)
	assert.NotContains(t, provider.calls, "#counts:a~b~c()")
}

func TestRewritesNestedOperators(t *testing.T) {
	node, err := query.Parse("#combine(#rwsdm(a b) #text:c())")
	require.NoError(t, err)
	position := node.Children[0].Position
	rec := &recordingObserver{}
	rw := New(feature.Defaults(), newStub(), Options{Norm: true}, WithObserver(rec))

	out, err := rw.Rewrite(context.Background(), node, Params{})
	require.NoError(t, err)
	require.Len(t, out.Children, 2)
	inner := out.Children[0]
	assert.Equal(t, query.OpCombine, inner.Operator)
	assert.Len(t, inner.Children, 4)
	norm, _ := inner.Param(query.NormKey)
	assert.Equal(t, "true", norm)
	assert.Equal(t, position, inner.Position)
	assert.NotZero(t, position)
	assert.Equal(t, "#text:c()", out.Children[1].String())
	assert.Equal(t, []string{"assembled"}, rec.outcomes)
}

func TestEmptyOperator(t *testing.T) {
	out, err := New(feature.Defaults(), newStub(), Options{}).Rewrite(context.Background(), query.New(query.OpRWSDM), Params{})
	require.NoError(t, err)
	assert.Empty(t, out.Children)
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveRewrite(outcome string, children, hits, misses int, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}
