// Package sanitize censors player text against a configurable rule list.
package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Rule is one entry of the JSON rule file.
type Rule struct {
	ID       string   `json:"id"`
	Match    string   `json:"match"`
	Severity int      `json:"severity"`
	Tags     []string `json:"tags,omitempty"`
	// Partial matches inside words unless explicitly "false".
	Partial    any      `json:"partial_match,omitempty"`
	Exceptions []string `json:"exceptions,omitempty"`
}

type Violation struct {
	ID       string   `json:"id"`
	Severity int      `json:"severity"`
	Tags     []string `json:"tags,omitempty"`
	Match    string   `json:"match"`
}

var DefaultRules = []Rule{
	{ID: "default-1", Match: "fuck", Severity: 3, Tags: []string{"swear"}},
	{ID: "default-2", Match: "shit", Severity: 3, Tags: []string{"swear"}},
	{ID: "default-3", Match: "bitch", Severity: 2, Tags: []string{"insult"}},
}

var ErrNoRules = errors.New("rule file must contain a list of rules")

type compiled struct {
	rule       Rule
	re         *regexp.Regexp
	exceptions []*regexp.Regexp
}

type Filter struct {
	Mask  rune
	rules []compiled
}

func New(rules []Rule) *Filter {
	f := &Filter{Mask: '*'}
	for _, r := range rules {
		c := compiled{rule: r, re: compile(r.Match, partial(r.Partial))}
		for _, ex := range r.Exceptions {
			c.exceptions = append(c.exceptions, compile(ex, true))
		}
		f.rules = append(f.rules, c)
	}
	return f
}

// Load reads rules from a JSON file.
func Load(path string) (*Filter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoRules, err)
	}
	return New(rules), nil
}

func partial(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.ToLower(strings.TrimSpace(x)) != "false"
	}
	return true
}

// compile turns "*" into a wildcard and "|" into alternation; everything else is literal.
func compile(pattern string, partial bool) *regexp.Regexp {
	alts := strings.Split(strings.TrimSpace(pattern), "|")
	for i, a := range alts {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(a), `\*`, ".*")
	}
	expr := strings.Join(alts, "|")
	if !partial {
		expr = `\b(?:` + expr + `)\b`
	}
	return regexp.MustCompile(`(?i)` + expr)
}

func (c compiled) excepted(text string) bool {
	for _, ex := range c.exceptions {
		if ex.MatchString(text) {
			return true
		}
	}
	return false
}

// Check lists the rules that text violates.
func (f *Filter) Check(text string) []Violation {
	var out []Violation
	for _, c := range f.rules {
		if c.rule.Match == "" {
			continue
		}
		m := c.re.FindString(text)
		if m == "" || c.excepted(text) {
			continue
		}
		out = append(out, Violation{ID: c.rule.ID, Severity: c.rule.Severity, Tags: c.rule.Tags, Match: m})
	}
	return out
}

// Censor masks every matched span.
func (f *Filter) Censor(text string) string {
	type span struct{ start, end int }
	var hits []span
	for _, c := range f.rules {
		if c.rule.Match == "" || c.excepted(text) {
			continue
		}
		for _, loc := range c.re.FindAllStringIndex(text, -1) {
			if loc[1] > loc[0] {
				hits = append(hits, span{loc[0], loc[1]})
			}
		}
	}
	if len(hits) == 0 {
		return text
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	var sb strings.Builder
	last := 0
	for _, h := range hits {
		if h.end <= last {
			continue
		}
		start := max(h.start, last)
		sb.WriteString(text[last:start])
		sb.WriteString(strings.Repeat(string(f.Mask), len([]rune(text[start:h.end]))))
		last = h.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Clean returns the censored text and the violations found in the raw input.
func (f *Filter) Clean(text string) (string, []Violation, error) {
	if f == nil {
		return "", nil, errors.New("sanitize: nil filter")
	}
	return f.Censor(text), f.Check(text), nil
}

// MaxSeverity returns the highest severity in vs, or 0.
func MaxSeverity(vs []Violation) int {
	n := 0
	for _, v := range vs {
		n = max(n, v.Severity)
	}
	return n
}
