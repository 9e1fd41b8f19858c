package enrich

import (
	"log"
	"regexp"
	"strings"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

// Match modes accepted in KeywordPattern.MatchMode. Anything else is
// treated as MatchIncludes.
const (
	MatchIncludes = "includes"
	MatchExact    = "exact"
	MatchRegex    = "regex"
)

type compiledPattern struct {
	re  *regexp.Regexp // nil when the pattern failed to compile
	bad bool
}

// MatchKeywords returns the labels of every pattern that matches text, in
// pattern order. Invalid regex patterns are skipped.
func (p *Pipeline) MatchKeywords(text string, patterns []core.KeywordPattern) []string {
	if text == "" || len(patterns) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	var out []string
	for _, kw := range patterns {
		if kw.Pattern == "" {
			continue
		}
		var hit bool
		switch kw.MatchMode {
		case MatchExact:
			re := p.compile(`(?i)\b` + regexp.QuoteMeta(kw.Pattern) + `\b`)
			hit = re != nil && re.MatchString(text)
		case MatchRegex:
			re := p.compile(kw.Pattern)
			hit = re != nil && re.MatchString(text)
		default:
			hit = strings.Contains(lower, strings.ToLower(kw.Pattern))
		}
		if hit {
			label := kw.Label
			if label == "" {
				label = kw.Pattern
			}
			out = append(out, label)
		}
	}
	return out
}

// compile caches by source string; a pattern that fails once is remembered
// as bad and never retried.
func (p *Pipeline) compile(src string) *regexp.Regexp {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache[src]; ok {
		return c.re
	}
	re, err := regexp.Compile(src)
	if err != nil {
		log.Printf("enrich: skipping unparseable keyword pattern %q: %v", src, err)
		p.cache[src] = &compiledPattern{bad: true}
		return nil
	}
	p.cache[src] = &compiledPattern{re: re}
	return re
}
