// Package feature describes the scoring features whose weighted sum gives each
// candidate n-gram its weight in the rewritten expression.
package feature

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/internal/external"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

// Type is the closed set of feature kinds.
type Type int

const (
	Const Type = iota
	LogTermFrequency
	LogDocumentFrequency
	LogNGramTermFrequency
	External
)

var typeNames = map[Type]string{
	Const:                 "const",
	LogTermFrequency:      "logtf",
	LogDocumentFrequency:  "logdf",
	LogNGramTermFrequency: "logngramtf",
	External:              "external",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType resolves a configuration type name, case-insensitively.
func ParseType(name string) (Type, error) {
	lower := strings.ToLower(name)
	for t, n := range typeNames {
		if n == lower {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown feature type %q", name)
}

// Arity is the length of a candidate n-gram.
type Arity int

const (
	Unigram Arity = 1
	Bigram  Arity = 2
	Trigram Arity = 3
)

// Definition is one configured feature. Table is set only for External
// features and is shared with every other definition naming the same path.
type Definition struct {
	Name          string
	Type          Type
	DefaultLambda float64
	Group         string
	Part          string
	Unigram       bool
	Bigram        bool
	Trigram       bool
	Path          string
	Table         *external.Table
}

// AppliesTo reports whether the definition is evaluated for candidates of
// the given arity.
func (d *Definition) AppliesTo(a Arity) bool {
	switch a {
	case Unigram:
		return d.Unigram
	case Bigram:
		return d.Bigram
	case Trigram:
		return d.Trigram
	}
	return false
}

// FromConfig builds a definition from a configuration record. External tables
// are obtained through registry so each path is read at most once.
func FromConfig(fc config.FeatureConfig, registry *external.Registry) (*Definition, error) {
	if fc.Name == "" {
		return nil, apperrors.New(apperrors.ErrConfiguration, "feature", "feature name is required")
	}
	typeName := fc.Type
	if typeName == "" {
		typeName = "logtf"
	}
	t, err := ParseType(typeName)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrConfiguration, "feature", "%s: %v", fc.Name, err)
	}
	d := &Definition{
		Name:          fc.Name,
		Type:          t,
		DefaultLambda: 1.0,
		Group:         fc.Group,
		Part:          fc.Part,
		Path:          fc.Path,
	}
	if fc.Lambda != nil {
		d.DefaultLambda = *fc.Lambda
	}
	d.Unigram = boolOr(fc.Unigram, true)
	d.Bigram = boolOr(fc.Bigram, !d.Unigram)
	d.Trigram = boolOr(fc.Trigram, !d.Unigram && !d.Bigram)

	if t == External {
		if fc.Path == "" {
			return nil, apperrors.Newf(apperrors.ErrConfiguration, "feature", "%s: external feature requires a path", fc.Name)
		}
		if registry == nil {
			return nil, apperrors.Newf(apperrors.ErrConfiguration, "feature", "%s: no external value registry", fc.Name)
		}
		table, err := registry.Load(fc.Path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfiguration, "feature", "%s: %v", fc.Name, err)
		}
		d.Table = table
	}
	return d, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
