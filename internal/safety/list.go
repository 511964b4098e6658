package safety

import "net/url"

// PatternPair is one raw (from, to) entry before compilation.
type PatternPair struct {
	From string
	To   string
}

// Rule holds the compiled matchers of one allow or block directive: a
// navigation from a page matching From to a page matching To. Both sides
// compiled successfully or the rule does not exist.
type Rule struct {
	from *PatternMatcher
	to   *PatternMatcher
}

// String renders the rule as its original pattern pair.
func (r Rule) String() string {
	if r.from == nil && r.to == nil {
		return ""
	}
	return r.from.String() + " -> " + r.to.String()
}

// List is an immutable collection of compiled rules. Matching is
// existential: a pair is contained when any single rule accepts both sides.
type List struct {
	rules []Rule
}

// BuildList compiles each pair independently and keeps the rules whose two
// sides both compiled. A pair with an invalid pattern on either side is
// skipped, never an error for the whole list.
func BuildList(pairs []PatternPair) *List {
	rules := make([]Rule, 0, len(pairs))
	for _, pair := range pairs {
		from, err := CompilePattern(pair.From)
		if err != nil {
			continue
		}
		to, err := CompilePattern(pair.To)
		if err != nil {
			continue
		}
		rules = append(rules, Rule{from: from, to: to})
	}
	return &List{rules: rules}
}

// Size returns the number of successfully compiled rules.
func (l *List) Size() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// MatchURLPair returns the first rule accepting the ordered navigation
// pair. The scan short-circuits and reports false for an empty list.
func (l *List) MatchURLPair(from, to *url.URL) (Rule, bool) {
	if l == nil {
		return Rule{}, false
	}
	for _, rule := range l.rules {
		if rule.from.Matches(from) && rule.to.Matches(to) {
			return rule, true
		}
	}
	return Rule{}, false
}

// ContainsURLPair reports whether at least one rule accepts the ordered
// navigation pair.
func (l *List) ContainsURLPair(from, to *url.URL) bool {
	_, ok := l.MatchURLPair(from, to)
	return ok
}
