package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

// Terms lower-cases text and splits it on non-alphanumeric boundaries.
func Terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FromTerms wraps terms in a #rwsdm operator with one #text child per term.
func FromTerms(terms []string) *Node {
	root := New(OpRWSDM)
	for i, term := range terms {
		child := Text(term)
		child.Position = i
		root.Children = append(root.Children, child)
	}
	return root
}

// ValidateTerms rejects terms that are empty or carry whitespace, operator
// syntax or the n-gram joiner. Such terms would only match statistics under
// their escaped form, which no index produces.
func ValidateTerms(terms []string) error {
	if len(terms) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "validate_terms", "no terms")
	}
	for i, term := range terms {
		if term == "" {
			return apperrors.Newf(apperrors.ErrInvalidInput, "validate_terms", "term %d is empty", i)
		}
		if strings.ContainsFunc(term, func(r rune) bool { return reserved(r) || strings.ContainsRune(NGramJoiner, r) }) {
			return apperrors.Newf(apperrors.ErrInvalidInput, "validate_terms",
				"term %d %q contains a reserved character", i, term)
		}
	}
	return nil
}

// Parse accepts either structured syntax (anything starting with '#') or free
// text, which becomes a #rwsdm operator over its terms.
func Parse(input string) (*Node, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, "parse", "empty query")
	}
	if !strings.HasPrefix(input, "#") {
		terms := Terms(input)
		if len(terms) == 0 {
			return nil, apperrors.New(apperrors.ErrInvalidInput, "parse", "query has no terms")
		}
		return FromTerms(terms), nil
	}
	p := &parser{src: input}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected trailing input %q", p.src[p.pos:])
	}
	return n, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrMalformedQuery, "parse",
		"offset %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// node := '#' operator (':' param)* '(' node* ')' | word
func (p *parser) node() (*Node, error) {
	p.skipSpace()
	start := p.pos
	if p.peek() != '#' {
		word := p.scan(func(r rune) bool { return r == '(' || r == ')' || unicode.IsSpace(r) })
		if word == "" {
			return nil, p.errorf("expected term or operator")
		}
		n := Text(unescape(word))
		n.Position = start
		return n, nil
	}
	p.pos++
	op := p.scan(func(r rune) bool { return r == ':' || r == '(' || unicode.IsSpace(r) })
	if op == "" {
		return nil, p.errorf("missing operator name")
	}
	n := New(op)
	n.Position = start
	for p.peek() == ':' {
		p.pos++
		raw := p.scan(func(r rune) bool { return r == ':' || r == '(' || unicode.IsSpace(r) })
		if key, value, ok := cutParam(raw); ok {
			n.SetParam(unescape(key), unescape(value))
		} else {
			n.SetParam(DefaultKey, unescape(raw))
		}
	}
	if p.peek() != '(' {
		return nil, p.errorf("expected '(' after #%s", op)
	}
	p.pos++
	for {
		p.skipSpace()
		switch p.peek() {
		case 0:
			return nil, p.errorf("unterminated #%s", op)
		case ')':
			p.pos++
			return n, nil
		}
		child, err := p.node()
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
}

// scan consumes input up to the first unescaped rune matching stop. The
// returned text still carries its escapes.
func (p *parser) scan(stop func(rune) bool) string {
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if r == '\\' && p.pos+size < len(p.src) {
			_, next := utf8.DecodeRuneInString(p.src[p.pos+size:])
			p.pos += size + next
			continue
		}
		if stop(r) {
			break
		}
		p.pos += size
	}
	return p.src[start:p.pos]
}

// cutParam splits raw around its first unescaped '='.
func cutParam(raw string) (key, value string, ok bool) {
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '\\':
			i++
		case '=':
			return raw[:i], raw[i+1:], true
		}
	}
	return raw, "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
