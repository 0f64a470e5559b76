package stem

import "strings"

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

// Rules are tried in order; the first suffix that matches and leaves a stem of
// at least minLen characters wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// Suffix is a light, rule-based suffix stripper. It is cheaper and less
// aggressive than Porter and suits tables built with the same rules.
type Suffix struct{}

func (Suffix) Stem(token string) string {
	word := strings.ToLower(token)
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(stemmed) >= rule.minLen {
				return stemmed
			}
		}
	}
	return word
}
