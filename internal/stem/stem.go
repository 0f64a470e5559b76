// Package stem provides the stemmers used to normalise n-grams before they are
// probed in an external value table.
package stem

import (
	"fmt"
	"strings"

	porterstemmer "github.com/blevesearch/go-porterstemmer"

	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

// Stemmer maps a token to its stem. Implementations must be deterministic and
// safe for concurrent use.
type Stemmer interface {
	Stem(token string) string
}

// Func adapts a plain function to the Stemmer interface.
type Func func(string) string

func (f Func) Stem(token string) string { return f(token) }

// Porter is the Porter (1980) stemmer.
type Porter struct{}

func (Porter) Stem(token string) string {
	return porterstemmer.StemString(strings.ToLower(token))
}

// Identity leaves tokens untouched.
type Identity struct{}

func (Identity) Stem(token string) string { return token }

// ByName resolves the stemmer named in configuration. An empty name selects
// Porter.
func ByName(name string) (Stemmer, error) {
	switch strings.ToLower(name) {
	case "", "porter":
		return Porter{}, nil
	case "suffix":
		return Suffix{}, nil
	case "none", "identity":
		return Identity{}, nil
	default:
		return nil, apperrors.New(apperrors.ErrConfiguration, "stem",
			fmt.Sprintf("unknown stemmer %q", name))
	}
}

// All stems every token with s.
func All(s Stemmer, tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = s.Stem(t)
	}
	return out
}
