package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/rewriter"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/metrics"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func lambda(v float64) *float64 { return &v }
func flag(v bool) *bool         { return &v }

func TestBuildStaticWithExternalFeature(t *testing.T) {
	statsPath := writeFile(t, "stats.tsv", "#counts:climate()\t\t40\t10\n")
	tablePath := writeFile(t, "ngrams.tsv", "climat chang\t25\n")

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Stats.StaticPath = statsPath
	cfg.Rewriter.Features = []config.FeatureConfig{
		{Name: "tf", Type: "logtf", Lambda: lambda(1)},
		{Name: "ext", Type: "external", Lambda: lambda(0.5), Unigram: flag(false), Path: tablePath},
	}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	a, err := Build(context.Background(), cfg, WithMetrics(m))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.StatsCache)
	assert.Nil(t, a.Store)

	out, err := a.Rewriter.Rewrite(context.Background(), query.FromTerms([]string{"climate", "change"}), rewriter.Params{})
	require.NoError(t, err)
	require.Len(t, out.Children, 4)

	w, _ := out.Weight(0)
	assert.InDelta(t, math.Log(40), w, 1e-9)
	w, _ = out.Weight(2)
	assert.InDelta(t, 0.5*math.Log(25), w, 1e-9, "external keys are stemmed with the configured stemmer")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RewritesTotal.WithLabelValues("assembled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalTableLoads.WithLabelValues(tablePath)))

	checker := health.NewChecker(0)
	a.RegisterChecks(checker)
	assert.Equal(t, health.StatusUp, checker.Run(context.Background()).Status)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown stemmer", func(c *config.Config) { c.Rewriter.Stemmer = "krovetz" }},
		{"unknown backend", func(c *config.Config) { c.Stats.Backend = "lucene" }},
		{"missing static file", func(c *config.Config) { c.Stats.StaticPath = "/nonexistent/stats.tsv" }},
		{"bad feature", func(c *config.Config) {
			c.Rewriter.Features = []config.FeatureConfig{{Name: "x", Type: "bm25"}}
		}},
		{"missing external table", func(c *config.Config) {
			c.Rewriter.Features = []config.FeatureConfig{{Name: "x", Type: "external", Path: "/nonexistent/t.tsv"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)
			tt.mutate(cfg)

			a, err := Build(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, a)
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
		})
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	calls := 0
	a := &App{closers: []func() error{func() error { calls++; return nil }}}
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, calls)
}
