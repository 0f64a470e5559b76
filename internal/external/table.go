// Package external holds the externally supplied n-gram scores used by
// external features. Tables are parsed from tab-separated files and shared,
// read-only, by every feature that names the same path.
package external

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/stem"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

const maxLineSize = 1 << 20

// LoadWarning describes a line skipped while parsing a value file.
type LoadWarning struct {
	Path   string
	Line   int
	Reason string
}

func (w *LoadWarning) Error() string {
	return fmt.Sprintf("%s:%d: %s", w.Path, w.Line, w.Reason)
}

func (w *LoadWarning) Unwrap() error {
	return apperrors.ErrLoadWarning
}

// Table maps a stemmed n-gram to its score. It is immutable once built.
type Table struct {
	path     string
	values   map[string]int64
	stemmer  stem.Stemmer
	warnings []*LoadWarning
}

// Parse reads "gram1 gram2 ...<TAB>value" lines. Malformed lines are skipped
// and reported through Warnings; only read failures abort the parse.
func Parse(r io.Reader, path string, stemmer stem.Stemmer) (*Table, error) {
	if stemmer == nil {
		stemmer = stem.Identity{}
	}
	t := &Table{
		path:    path,
		values:  make(map[string]int64),
		stemmer: stemmer,
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		grams, rawValue, ok := strings.Cut(line, "\t")
		if !ok {
			t.warn(lineNo, "missing tab separator")
			continue
		}
		if valueField, _, extra := strings.Cut(rawValue, "\t"); extra {
			rawValue = valueField
		}
		value, err := strconv.ParseInt(strings.TrimSpace(rawValue), 10, 64)
		if err != nil {
			t.warn(lineNo, fmt.Sprintf("value %q is not an integer", rawValue))
			continue
		}
		if value < 0 {
			t.warn(lineNo, fmt.Sprintf("value %d is negative", value))
			continue
		}
		key := gramKey(strings.Split(grams, " "))
		if key == "" {
			t.warn(lineNo, "empty n-gram")
			continue
		}
		t.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return t, nil
}

func (t *Table) warn(line int, reason string) {
	t.warnings = append(t.warnings, &LoadWarning{Path: t.path, Line: line, Reason: reason})
}

// Lookup stems terms and returns the stored value for the resulting n-gram.
func (t *Table) Lookup(terms ...string) (int64, bool) {
	v, ok := t.values[gramKey(stem.All(t.stemmer, terms))]
	return v, ok
}

func (t *Table) Len() int {
	return len(t.values)
}

func (t *Table) Path() string {
	return t.path
}

func (t *Table) Warnings() []*LoadWarning {
	return t.warnings
}

// gramKey joins grams with single spaces, dropping trailing empty grams the
// way a whitespace split of the source line would.
func gramKey(grams []string) string {
	for len(grams) > 0 && grams[len(grams)-1] == "" {
		grams = grams[:len(grams)-1]
	}
	return strings.Join(grams, " ")
}
