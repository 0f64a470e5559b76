package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/query"
)

// Entry is one row of precomputed statistics.
type Entry struct {
	Expression string
	Group      string
	Stats      Stats
}

// Static serves statistics from an in-memory table. Expressions are stored
// in canonical form, so parameter order in the source does not matter.
type Static struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewStatic() *Static {
	return &Static{entries: make(map[string]Entry)}
}

func (s *Static) Set(n *query.Node, group string, st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[Key(n, group)] = Entry{Expression: n.String(), Group: group, Stats: st}
}

func (s *Static) NodeStatistics(ctx context.Context, n *query.Node) (Stats, error) {
	return s.GroupNodeStatistics(ctx, n, "")
}

func (s *Static) GroupNodeStatistics(_ context.Context, n *query.Node, group string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[Key(n, group)].Stats, nil
}

func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns every stored row.
func (s *Static) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// LoadStatic reads "expression<TAB>group<TAB>frequency<TAB>documentCount"
// rows. Lines starting with '#!' or blank lines are ignored; any malformed
// row fails the load.
func LoadStatic(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening statistics file: %w", err)
	}
	defer f.Close()
	return ReadStatic(f)
}

func ReadStatic(r io.Reader) (*Static, error) {
	s := NewStatic()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#!") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: expected 4 tab-separated fields, got %d", lineNo, len(fields))
		}
		n, err := query.Parse(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		freq, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: frequency: %w", lineNo, err)
		}
		docs, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: document count: %w", lineNo, err)
		}
		s.Set(n, fields[1], Stats{Frequency: freq, DocumentCount: docs})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading statistics: %w", err)
	}
	return s, nil
}
