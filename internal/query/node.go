// Package query implements the host expression tree consumed and produced by
// the rewriter: typed nodes with named parameters, a canonical text form used
// both for display and as a statistics cache signature, and a small parser
// for that text form.
package query

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Operators the rewriter reads or builds.
const (
	OpText      = "text"
	OpExtents   = "extents"
	OpCounts    = "counts"
	OpOrdered   = "ordered"
	OpOD        = "od"
	OpUW        = "uw"
	OpCombine   = "combine"
	OpRWSDM     = "rwsdm"
	DefaultKey  = "default"
	PartKey     = "part"
	NormKey     = "norm"
	NGramJoiner = "~"
)

// Node is one operator in an expression tree. Params holds the node's named
// parameters; the unnamed parameter lives under DefaultKey.
type Node struct {
	Operator string
	Params   map[string]string
	Children []*Node
	Position int
}

func New(operator string, children ...*Node) *Node {
	return &Node{Operator: operator, Children: children}
}

// Leaf returns a childless node whose default parameter is term.
func Leaf(operator, term string) *Node {
	n := New(operator)
	n.SetParam(DefaultKey, term)
	return n
}

func Text(term string) *Node {
	return Leaf(OpText, term)
}

func Extents(term string) *Node {
	return Leaf(OpExtents, term)
}

func Counts(term string) *Node {
	return NGram(term)
}

// NGram builds the #counts leaf for an atomic n-gram token: the terms joined
// by NGramJoiner. Backslashes and joiners inside a term are escaped so a term
// containing the joiner never shares a token with a longer n-gram.
func NGram(terms ...string) *Node {
	escaped := make([]string, len(terms))
	for i, term := range terms {
		escaped[i] = ngramEscaper.Replace(term)
	}
	return Leaf(OpCounts, strings.Join(escaped, NGramJoiner))
}

var ngramEscaper = strings.NewReplacer(`\`, `\\`, NGramJoiner, `\`+NGramJoiner)

// Window builds a proximity operator such as #od:1 or #uw:8 over children.
func Window(operator string, width int, children ...*Node) *Node {
	n := New(operator, children...)
	n.SetParam(DefaultKey, strconv.Itoa(width))
	return n
}

// Combine builds a weighted combination node. Weights are stored under the
// child indexes "0".."n-1".
func Combine(children []*Node, weights []float64, norm bool) *Node {
	n := New(OpCombine, children...)
	for i, w := range weights {
		n.SetParam(strconv.Itoa(i), strconv.FormatFloat(w, 'g', -1, 64))
	}
	n.SetParam(NormKey, strconv.FormatBool(norm))
	return n
}

func (n *Node) Default() string {
	return n.Params[DefaultKey]
}

func (n *Node) SetParam(key, value string) {
	if n.Params == nil {
		n.Params = make(map[string]string)
	}
	n.Params[key] = value
}

func (n *Node) Param(key string) (string, bool) {
	v, ok := n.Params[key]
	return v, ok
}

// FloatParam returns the named parameter parsed as a float. Unparseable
// values are reported as absent.
func (n *Node) FloatParam(key string) (float64, bool) {
	v, ok := n.Params[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Weight returns the weight stored for child i of a combine node.
func (n *Node) Weight(i int) (float64, bool) {
	return n.FloatParam(strconv.Itoa(i))
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Operator: n.Operator,
		Position: n.Position,
	}
	if n.Params != nil {
		c.Params = make(map[string]string, len(n.Params))
		for k, v := range n.Params {
			c.Params[k] = v
		}
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// String renders the canonical form #op:default:key=value( children ).
// Parameter order is deterministic so the result can key caches. Reserved
// characters inside parameters are backslash-escaped.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	sb.WriteByte('#')
	sb.WriteString(n.Operator)
	if v, ok := n.Params[DefaultKey]; ok {
		sb.WriteByte(':')
		writeEscaped(sb, v)
	}
	for _, k := range n.paramKeys() {
		sb.WriteByte(':')
		writeEscaped(sb, k)
		sb.WriteByte('=')
		writeEscaped(sb, n.Params[k])
	}
	sb.WriteByte('(')
	for i, child := range n.Children {
		if i > 0 {
			sb.WriteByte(' ')
		}
		child.write(sb)
	}
	sb.WriteByte(')')
}

func writeEscaped(sb *strings.Builder, s string) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if reserved(r) {
			sb.WriteByte('\\')
		}
		sb.WriteString(s[i : i+size])
		i += size
	}
}

func reserved(r rune) bool {
	switch r {
	case '\\', ':', '=', '(', ')', '#':
		return true
	}
	return unicode.IsSpace(r)
}

// PrettyString renders the tree one node per line, indented by depth.
func (n *Node) PrettyString() string {
	var sb strings.Builder
	n.writePretty(&sb, 0)
	return sb.String()
}

func (n *Node) writePretty(sb *strings.Builder, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	if n.IsLeaf() {
		n.write(sb)
		sb.WriteByte('\n')
		return
	}
	head := &Node{Operator: n.Operator, Params: n.Params}
	s := head.String()
	sb.WriteString(s[:len(s)-1])
	sb.WriteByte('\n')
	for _, child := range n.Children {
		child.writePretty(sb, depth+1)
	}
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(")\n")
}

// paramKeys orders named parameters with numeric keys first in numeric
// order, then the rest alphabetically.
func (n *Node) paramKeys() []string {
	keys := make([]string, 0, len(n.Params))
	for k := range n.Params {
		if k != DefaultKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, errI := strconv.Atoi(keys[i])
		nj, errJ := strconv.Atoi(keys[j])
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// Transform rewrites the tree bottom-up: children are transformed first, then
// fn is applied to the node carrying the transformed children. Child slots of
// n are replaced as they are rewritten, so callers that must keep the input
// intact on error transform a Clone.
func Transform(n *Node, fn func(*Node) (*Node, error)) (*Node, error) {
	for i, child := range n.Children {
		rewritten, err := Transform(child, fn)
		if err != nil {
			return nil, err
		}
		n.Children[i] = rewritten
	}
	return fn(n)
}
