package external

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stem"
)

// LoadObserver is notified after each table is read from its source.
type LoadObserver func(path string, entries, warnings int, elapsed time.Duration)

// Registry loads each value table at most once and shares it for the
// lifetime of the registry. Concurrent first requests for the same path wait
// on a single load.
type Registry struct {
	stemmer  stem.Stemmer
	open     func(path string) (io.ReadCloser, error)
	observer LoadObserver
	tables   sync.Map
	group    singleflight.Group
	loads    atomic.Int64
	logger   *slog.Logger
}

type Option func(*Registry)

// WithOpener replaces os.Open as the source of table data.
func WithOpener(open func(path string) (io.ReadCloser, error)) Option {
	return func(r *Registry) { r.open = open }
}

func WithObserver(observer LoadObserver) Option {
	return func(r *Registry) { r.observer = observer }
}

func NewRegistry(stemmer stem.Stemmer, opts ...Option) *Registry {
	r := &Registry{
		stemmer: stemmer,
		open: func(path string) (io.ReadCloser, error) {
			return os.Open(path)
		},
		logger: slog.Default().With("component", "external-values"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the table for path, reading it on first use. Read failures are
// not cached, so a later call retries.
func (r *Registry) Load(path string) (*Table, error) {
	if t, ok := r.tables.Load(path); ok {
		return t.(*Table), nil
	}
	val, err, _ := r.group.Do(path, func() (interface{}, error) {
		if t, ok := r.tables.Load(path); ok {
			return t, nil
		}
		t, err := r.read(path)
		if err != nil {
			return nil, err
		}
		r.tables.Store(path, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*Table), nil
}

func (r *Registry) read(path string) (*Table, error) {
	start := time.Now()
	r.loads.Add(1)
	r.logger.Info("start reading values", "path", path)
	f, err := r.open(path)
	if err != nil {
		return nil, fmt.Errorf("opening value table %s: %w", path, err)
	}
	defer f.Close()
	t, err := Parse(f, path, r.stemmer)
	if err != nil {
		return nil, err
	}
	for _, w := range t.Warnings() {
		r.logger.Warn("skipping malformed line", "path", w.Path, "line", w.Line, "error", w.Reason)
	}
	elapsed := time.Since(start)
	r.logger.Info("finished reading values",
		"path", path,
		"entries", t.Len(),
		"skipped", len(t.Warnings()),
		"elapsed", elapsed,
	)
	if r.observer != nil {
		r.observer(path, t.Len(), len(t.Warnings()), elapsed)
	}
	return t, nil
}

// Loads returns how many times a table was read from its source.
func (r *Registry) Loads() int64 {
	return r.loads.Load()
}

// Paths lists the paths currently loaded.
func (r *Registry) Paths() []string {
	var paths []string
	r.tables.Range(func(k, _ any) bool {
		paths = append(paths, k.(string))
		return true
	})
	return paths
}
