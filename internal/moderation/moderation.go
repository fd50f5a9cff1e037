// Package moderation classifies user supplied text before it is interpolated
// into messages sent to third parties.
//
// Rules are evaluated in order. The first block match decides the verdict;
// flag matches accumulate so callers can log them.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Action is the outcome a rule requests.
type Action string

const (
	Allow Action = "allow"
	Flag  Action = "flag"
	Block Action = "block"
)

func (a Action) rank() int {
	switch a {
	case Block:
		return 2
	case Flag:
		return 1
	default:
		return 0
	}
}

// Category groups rules for reporting.
type Category string

const (
	CategoryInjection     Category = "prompt_injection"
	CategoryImpersonation Category = "impersonation"
	CategoryExfiltration  Category = "exfiltration"
	CategoryAbuse         Category = "abuse"
	CategoryContact       Category = "contact_info"
)

// Rule is one named classifier. Pattern is a Go regular expression.
type Rule struct {
	Name     string   `json:"name" yaml:"name"`
	Category Category `json:"category" yaml:"category"`
	Action   Action   `json:"action" yaml:"action"`
	Pattern  string   `json:"pattern" yaml:"pattern"`
}

// Match records one rule hit.
type Match struct {
	Rule     string   `json:"rule"`
	Category Category `json:"category"`
	Action   Action   `json:"action"`
	Text     string   `json:"text"`
}

// Verdict is the typed classification result.
type Verdict struct {
	Action   Action   `json:"action"`
	Category Category `json:"category,omitempty"`
	Rule     string   `json:"rule,omitempty"`
	Matches  []Match  `json:"matches,omitempty"`
}

// Blocked reports whether the text must not be forwarded.
func (v Verdict) Blocked() bool { return v.Action == Block }

var ErrInvalidRule = errors.New("invalid moderation rule")

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// Classifier evaluates an ordered rule list. It is immutable and safe for
// concurrent use.
type Classifier struct {
	rules []compiledRule
}

// New compiles rules in order. Names must be unique.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate rule %q", ErrInvalidRule, name)
		}
		seen[name] = struct{}{}
		switch r.Action {
		case Flag, Block:
		case "":
			r.Action = Block
		default:
			return nil, fmt.Errorf("%w: rule %q has unknown action %q", ErrInvalidRule, name, r.Action)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, name, err)
		}
		r.Name = name
		c.rules = append(c.rules, compiledRule{Rule: r, re: re})
	}
	return c, nil
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.Name)
	}
	return out
}

// Classify evaluates text against every rule. A nil classifier allows
// everything.
func (c *Classifier) Classify(text string) Verdict {
	v := Verdict{Action: Allow}
	if c == nil || text == "" {
		return v
	}
	norm := normalize(text)
	for _, r := range c.rules {
		loc := r.re.FindStringIndex(norm)
		if loc == nil {
			continue
		}
		v.Matches = append(v.Matches, Match{Rule: r.Name, Category: r.Category, Action: r.Action, Text: norm[loc[0]:loc[1]]})
		if r.Action.rank() > v.Action.rank() {
			v.Action = r.Action
			v.Category = r.Category
			v.Rule = r.Name
		}
		if r.Action == Block {
			break
		}
	}
	return v
}

// normalize drops zero-width characters and collapses whitespace runs so
// patterns cannot be dodged by padding.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case isZeroWidth(r):
			continue
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func isZeroWidth(r rune) bool {
	return r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff'
}

// Sanitize strips control characters, collapses whitespace and truncates to
// maxRunes (0 means no limit), appending an ellipsis when cut.
func Sanitize(s string, maxRunes int) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) || isZeroWidth(r) {
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if maxRunes <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= maxRunes {
		return out
	}
	if maxRunes == 1 {
		return "…"
	}
	return strings.TrimRightFunc(string(runes[:maxRunes-1]), unicode.IsSpace) + "…"
}
