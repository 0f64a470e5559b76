// Package handler serves the rewrite API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/audit"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/feature"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/rewriter"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/tracing"
)

// Rewriter is satisfied by *rewriter.Rewriter.
type Rewriter interface {
	Rewrite(ctx context.Context, root *query.Node, params rewriter.Params) (*query.Node, error)
	Features() *feature.Set
}

// Tracker is satisfied by *audit.Collector.
type Tracker interface {
	Track(event audit.RewriteEvent)
}

// StatsCache is the shared statistics cache, when one is configured.
type StatsCache interface {
	Invalidate(ctx context.Context) (int64, error)
	CacheStats() (hits, misses int64)
}

type Handler struct {
	rewriter Rewriter
	tracker  Tracker
	cache    StatsCache
	logger   *slog.Logger
}

type Option func(*Handler)

func WithTracker(t Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

func WithStatsCache(c StatsCache) Option {
	return func(h *Handler) { h.cache = c }
}

func New(rw Rewriter, opts ...Option) *Handler {
	h := &Handler{
		rewriter: rw,
		logger:   logger.WithComponent("rewrite-handler"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the API routes on mux.
//
//	GET    /api/v1/rewrite        rewrite ?q=, other params are lambdas
//	POST   /api/v1/rewrite        rewrite a JSON RewriteRequest
//	GET    /api/v1/features       configured features per arity
//	GET    /api/v1/stats/cache    shared statistics cache counters
//	DELETE /api/v1/stats/cache    flush the shared statistics cache
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/rewrite", h.RewriteQuery)
	mux.HandleFunc("POST /api/v1/rewrite", h.RewriteJSON)
	mux.HandleFunc("GET /api/v1/features", h.Features)
	mux.HandleFunc("GET /api/v1/stats/cache", h.CacheStats)
	mux.HandleFunc("DELETE /api/v1/stats/cache", h.CacheInvalidate)
}

// RewriteRequest is the POST body. Terms, when present, take precedence over
// Query.
type RewriteRequest struct {
	Query  string             `json:"query"`
	Terms  []string           `json:"terms"`
	Params map[string]float64 `json:"params"`
	Part   string             `json:"part"`
}

type WeightedChild struct {
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
}

type RewriteResponse struct {
	Input   string          `json:"input"`
	Output  string          `json:"output"`
	Weights []WeightedChild `json:"weights"`
}

func (h *Handler) RewriteQuery(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := values.Get("q")
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	params := rewriter.Params{Part: values.Get("part")}
	for key := range values {
		if key == "q" || key == "part" {
			continue
		}
		lambda, err := strconv.ParseFloat(values.Get(key), 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "lambda for "+key+" must be a number")
			return
		}
		if params.Lambdas == nil {
			params.Lambdas = make(map[string]float64)
		}
		params.Lambdas[key] = lambda
	}
	root, err := query.Parse(q)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.serve(w, r, root, params)
}

func (h *Handler) RewriteJSON(w http.ResponseWriter, r *http.Request) {
	var req RewriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var root *query.Node
	if len(req.Terms) > 0 {
		if err := query.ValidateTerms(req.Terms); err != nil {
			h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
			return
		}
		root = query.FromTerms(req.Terms)
	} else {
		var err error
		if root, err = query.Parse(req.Query); err != nil {
			h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
			return
		}
	}
	h.serve(w, r, root, rewriter.Params{Lambdas: req.Params, Part: req.Part})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, root *query.Node, params rewriter.Params) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "rewrite", logger.RequestID(r.Context()))
	log := logger.FromContext(ctx)
	input := root.String()

	out, err := h.rewriter.Rewrite(ctx, root, params)
	span.End()
	span.Log(ctx, log)
	event := audit.RewriteEvent{
		RequestID: logger.RequestID(ctx),
		Input:     input,
		Lambdas:   params.Lambdas,
		Part:      params.Part,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		log.Warn("rewrite rejected", "input", input, "error", err)
		event.Error = err.Error()
		h.track(event)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	resp := RewriteResponse{
		Input:   input,
		Output:  out.String(),
		Weights: weightsOf(out),
	}
	event.Output = resp.Output
	event.Children = len(out.Children)
	h.track(event)

	log.Info("rewrite completed",
		"input", input,
		"children", len(out.Children),
		"latency_ms", event.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) track(event audit.RewriteEvent) {
	if h.tracker != nil {
		h.tracker.Track(event)
	}
}

// weightsOf lists the weighted children of a #combine root.
func weightsOf(n *query.Node) []WeightedChild {
	out := []WeightedChild{}
	if n.Operator != query.OpCombine {
		return out
	}
	for i, child := range n.Children {
		weight, _ := n.Weight(i)
		out = append(out, WeightedChild{Expression: child.String(), Weight: weight})
	}
	return out
}

type featureView struct {
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Lambda float64 `json:"lambda"`
	Group  string  `json:"group,omitempty"`
	Part   string  `json:"part,omitempty"`
	Path   string  `json:"path,omitempty"`
}

func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	set := h.rewriter.Features()
	h.writeJSON(w, http.StatusOK, map[string][]featureView{
		"unigram": viewsOf(set.Unigrams),
		"bigram":  viewsOf(set.Bigrams),
		"trigram": viewsOf(set.Trigrams),
	})
}

func viewsOf(defs []*feature.Definition) []featureView {
	out := make([]featureView, 0, len(defs))
	for _, d := range defs {
		out = append(out, featureView{
			Name:   d.Name,
			Type:   d.Type.String(),
			Lambda: d.DefaultLambda,
			Group:  d.Group,
			Part:   d.Part,
			Path:   d.Path,
		})
	}
	return out
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.CacheStats()
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"hits":   hits,
		"misses": misses,
		"total":  hits + misses,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "shared statistics cache is disabled")
		return
	}
	removed, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("statistics cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "removed": removed})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
