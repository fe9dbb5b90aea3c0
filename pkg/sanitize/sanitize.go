// Package sanitize applies ordered regex replacement rules to assistant text
// before it reaches the client.
//
// Rules run sequentially: each rule sees the output of the previous one.
// Overlapping patterns are resolved only by list order; rule authors are
// expected to avoid conflicts.
package sanitize

import (
	"log/slog"
	"regexp"
	"strings"
)

// Rule is a single replacement rule as loaded from configuration.
type Rule struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Flags       string `yaml:"flags" json:"flags,omitempty"`
	Replacement string `yaml:"replacement" json:"replacement"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Expand enables $1 and ${name} group references in Replacement.
	// Otherwise the replacement is inserted literally, so "$5.00" stays
	// "$5.00".
	Expand bool `yaml:"expand" json:"expand,omitempty"`
}

type compiled struct {
	re          *regexp.Regexp
	replacement string
	expand      bool
	description string
}

// Sanitizer holds compiled rules. It is read-only after New and safe for
// concurrent use.
type Sanitizer struct {
	rules []compiled
}

// New compiles rules in order. Invalid patterns are dropped with a warning.
func New(rules []Rule, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sanitize")

	s := &Sanitizer{}
	for i, r := range rules {
		re, err := regexp.Compile(inlineFlags(r.Flags) + r.Pattern)
		if err != nil {
			logger.Warn("dropping invalid sanitize rule",
				"index", i,
				"pattern", r.Pattern,
				"description", r.Description,
				"error", err,
			)
			continue
		}
		s.rules = append(s.rules, compiled{re: re, replacement: r.Replacement, expand: r.Expand, description: r.Description})
	}
	return s
}

// inlineFlags maps i, m and s to an RE2 flag group. Other flags such as g or
// u have no RE2 equivalent and are ignored; replacement is always global.
func inlineFlags(flags string) string {
	var b strings.Builder
	for _, f := range "ims" {
		if strings.ContainsRune(flags, f) {
			b.WriteRune(f)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

// Sanitize applies every rule in list order.
func (s *Sanitizer) Sanitize(text string) string {
	if s == nil {
		return text
	}
	for _, r := range s.rules {
		if r.expand {
			text = r.re.ReplaceAllString(text, r.replacement)
		} else {
			text = r.re.ReplaceAllLiteralString(text, r.replacement)
		}
	}
	return text
}

// Len returns the number of active rules.
func (s *Sanitizer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
