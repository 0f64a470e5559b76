package feature

import (
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/external"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
)

// Set holds the features for each arity in configuration order. A definition
// flagged for several arities appears in each of their lists.
type Set struct {
	Unigrams []*Definition
	Bigrams  []*Definition
	Trigrams []*Definition
}

// NewSet builds the feature set from configuration records. A nil slice
// selects Defaults; an empty, non-nil slice yields an empty set.
func NewSet(records []config.FeatureConfig, registry *external.Registry) (*Set, error) {
	if records == nil {
		return Defaults(), nil
	}
	s := &Set{}
	for _, rec := range records {
		d, err := FromConfig(rec, registry)
		if err != nil {
			return nil, err
		}
		s.Add(d)
	}
	return s, nil
}

// Add appends d to every arity list it applies to.
func (s *Set) Add(d *Definition) {
	if d.Unigram {
		s.Unigrams = append(s.Unigrams, d)
	}
	if d.Bigram {
		s.Bigrams = append(s.Bigrams, d)
	}
	if d.Trigram {
		s.Trigrams = append(s.Trigrams, d)
	}
}

// For returns the feature list for arity a.
func (s *Set) For(a Arity) []*Definition {
	switch a {
	case Unigram:
		return s.Unigrams
	case Bigram:
		return s.Bigrams
	case Trigram:
		return s.Trigrams
	}
	return nil
}

// Defaults returns the built-in feature set: a constant, log term frequency
// and log document frequency feature for unigrams and for bigrams, all drawn
// from the default statistics source.
func Defaults() *Set {
	return &Set{
		Unigrams: []*Definition{
			builtin("1-const", Const, 0.8, Unigram),
			builtin("1-lntf", LogTermFrequency, 0.0, Unigram),
			builtin("1-lndf", LogDocumentFrequency, 0.0, Unigram),
		},
		Bigrams: []*Definition{
			builtin("2-const", Const, 0.1, Bigram),
			builtin("2-lntf", LogTermFrequency, 0.0, Bigram),
			builtin("2-lndf", LogDocumentFrequency, 0.0, Bigram),
		},
	}
}

func builtin(name string, t Type, lambda float64, a Arity) *Definition {
	return &Definition{
		Name:          name,
		Type:          t,
		DefaultLambda: lambda,
		Unigram:       a == Unigram,
		Bigram:        a == Bigram,
		Trigram:       a == Trigram,
	}
}
