package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/errors"
)

func TestTerms(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Climate Change", []string{"climate", "change"}},
		{"  new-york, city!  ", []string{"new", "york", "city"}},
		{"route 66", []string{"route", "66"}},
		{"...", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Terms(tt.input))
		})
	}
}

func TestStringIsCanonical(t *testing.T) {
	n := Combine([]*Node{Text("a"), Window(OpUW, 8, Extents("a"), Extents("b"))}, []float64{0.8, 0.1}, false)
	assert.Equal(t, "#combine:0=0.8:1=0.1:norm=false(#text:a() #uw:8(#extents:a() #extents:b()))", n.String())

	wide := New(OpCombine)
	for _, k := range []string{"10", "2", "zeta", "alpha"} {
		wide.SetParam(k, "x")
	}
	assert.Equal(t, "#combine:2=x:10=x:alpha=x:zeta=x()", wide.String())
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"free text", "Climate change", "#rwsdm(#text:climate() #text:change())"},
		{"bare words", "#rwsdm(new york)", "#rwsdm(#text:new() #text:york())"},
		{"named params", "#rwsdm:1-const=0.5:norm=true(a)", "#rwsdm:1-const=0.5:norm=true(#text:a())"},
		{"default param", "#od:1(#extents:a() #extents:b())", "#od:1(#extents:a() #extents:b())"},
		{"nested", "#combine( #rwsdm(a b)  #text:c() )", "#combine(#rwsdm(#text:a() #text:b()) #text:c())"},
		{"empty operator", "#rwsdm()", "#rwsdm()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	in := "#combine:0=0.8:1=0.1:norm=false(#text:a() #uw:8(#extents:a:part=title() #extents:b()))"
	n, err := Parse(in)
	require.NoError(t, err)
	assert.Equal(t, in, n.String())
}

func TestStringEscapesReservedCharacters(t *testing.T) {
	scoped := Text("x")
	scoped.SetParam(PartKey, "title")
	tests := []struct {
		name string
		node *Node
		want string
	}{
		{"parameter syntax in term", Text("x:part=title"), `#text:x\:part\=title()`},
		{"scoped term", scoped, "#text:x:part=title()"},
		{"whitespace", Text("new york"), `#text:new\ york()`},
		{"parentheses", Extents("a(b)"), `#extents:a\(b\)()`},
		{"backslash", Text(`a\b`), `#text:a\\b()`},
		{"named value", func() *Node { n := Counts("a"); n.SetParam(PartKey, "x y"); return n }(), `#counts:a:part=x\ y()`},
	}
	seen := make(map[string]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.node.String()
			assert.Equal(t, tt.want, got)
			if other, dup := seen[got]; dup {
				t.Errorf("%q renders the same as %q", tt.name, other)
			}
			seen[got] = tt.name

			back, err := Parse(got)
			require.NoError(t, err)
			assert.Equal(t, got, back.String())
			assert.Equal(t, tt.node.Params, back.Params)
		})
	}
}

func TestParseEscapedBareWord(t *testing.T) {
	n, err := Parse(`#rwsdm(x\:part\=title y)`)
	require.NoError(t, err)
	require.Len(t, n.Children, 2)
	assert.Equal(t, "x:part=title", n.Children[0].Default())
	assert.Equal(t, "y", n.Children[1].Default())
}

func TestNGramTokens(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		want  string
	}{
		{"unigram", []string{"climate"}, "#counts:climate()"},
		{"bigram", []string{"new", "york"}, "#counts:new~york()"},
		{"trigram", []string{"new", "york", "city"}, "#counts:new~york~city()"},
		{"joiner inside a unigram", []string{"new~york"}, `#counts:new\\~york()`},
		{"joiner inside a bigram term", []string{"a~b", "c"}, `#counts:a\\~b~c()`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NGram(tt.terms...).String())
		})
	}
	assert.NotEqual(t, NGram("a~b", "c").String(), NGram("a", "b~c").String())
	assert.Equal(t, NGram("x").String(), Counts("x").String())
}

func TestValidateTerms(t *testing.T) {
	require.NoError(t, ValidateTerms([]string{"new", "york", "66", "café"}))

	tests := []struct {
		name  string
		terms []string
	}{
		{"none", nil},
		{"empty term", []string{"a", ""}},
		{"parameter syntax", []string{"x:part=title"}},
		{"operator", []string{"#od"}},
		{"parentheses", []string{"a)"}},
		{"whitespace", []string{"new york"}},
		{"ngram joiner", []string{"new~york"}},
		{"backslash", []string{`a\b`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTerms(tt.terms)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		sentinel error
	}{
		{"empty", "   ", apperrors.ErrInvalidInput},
		{"no terms", "?!", apperrors.ErrInvalidInput},
		{"unterminated", "#rwsdm(a b", apperrors.ErrMalformedQuery},
		{"missing paren", "#rwsdm a", apperrors.ErrMalformedQuery},
		{"missing operator", "#(a)", apperrors.ErrMalformedQuery},
		{"trailing input", "#rwsdm(a) b", apperrors.ErrMalformedQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestFromTermsPositions(t *testing.T) {
	n := FromTerms([]string{"a", "b", "c"})
	require.Len(t, n.Children, 3)
	for i, c := range n.Children {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, OpText, c.Operator)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Window(OpOD, 1, Extents("a"), Extents("b"))
	c := orig.Clone()
	c.Children[0].SetParam(PartKey, "title")
	c.SetParam(DefaultKey, "4")

	assert.Equal(t, "#od:1(#extents:a() #extents:b())", orig.String())
	assert.Equal(t, "#od:4(#extents:a:part=title() #extents:b())", c.String())
	assert.Nil(t, (*Node)(nil).Clone())
}

func TestFloatParamAndWeight(t *testing.T) {
	n := Combine([]*Node{Text("a")}, []float64{0.25}, true)
	w, ok := n.Weight(0)
	require.True(t, ok)
	assert.Equal(t, 0.25, w)

	_, ok = n.Weight(1)
	assert.False(t, ok)

	n.SetParam("x", "abc")
	_, ok = n.FloatParam("x")
	assert.False(t, ok)
}

func TestTransformBottomUp(t *testing.T) {
	n, err := Parse("#a(#b(#c()) #d())")
	require.NoError(t, err)

	var order []string
	out, err := Transform(n, func(n *Node) (*Node, error) {
		order = append(order, n.Operator)
		if n.Operator == "c" {
			return Text("replaced"), nil
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "d", "a"}, order)
	assert.Equal(t, "#a(#b(#text:replaced()) #d())", out.String())
}

func TestTransformStopsOnError(t *testing.T) {
	n, err := Parse("#a(#b() #c())")
	require.NoError(t, err)
	boom := errors.New("boom")

	visited := 0
	_, err = Transform(n, func(n *Node) (*Node, error) {
		visited++
		if n.Operator == "b" {
			return nil, boom
		}
		return n, nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, visited)
}

func TestTransformOnCloneKeepsInput(t *testing.T) {
	n, err := Parse("#a(#b() #c())")
	require.NoError(t, err)
	before := n.String()

	_, err = Transform(n.Clone(), func(n *Node) (*Node, error) {
		switch n.Operator {
		case "b":
			return Text("replaced"), nil
		case "c":
			return nil, errors.New("boom")
		}
		return n, nil
	})
	require.Error(t, err)
	assert.Equal(t, before, n.String())
}

func TestPrettyString(t *testing.T) {
	n := Combine([]*Node{Text("a"), Window(OpOD, 1, Extents("a"), Extents("b"))}, []float64{1, 2}, false)
	lines := strings.Split(strings.TrimRight(n.PrettyString(), "\n"), "\n")
	assert.Equal(t, []string{
		"#combine:0=1:1=2:norm=false(",
		"  #text:a()",
		"  #od:1(",
		"    #extents:a()",
		"    #extents:b()",
		"  )",
		")",
	}, lines)
}
