package index

import (
	"strings"

	domainErrors "csharp-provider/internal/core/errors"

	"github.com/gobwas/glob"
)

// Pattern matches dot-separated qualified names. `*` matches within one
// segment, `**` across segments; `?`, `[...]` and `{a,b}` follow glob rules.
// Matching is case-sensitive.
type Pattern struct {
	raw string
	g   glob.Glob
}

func CompilePattern(raw string) (*Pattern, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return nil, domainErrors.New(domainErrors.CodeInvalidCondition, "pattern must not be empty")
	}
	if strings.Contains(p, "..") || strings.HasPrefix(p, ".") || strings.HasSuffix(p, ".") {
		return nil, domainErrors.Newf(domainErrors.CodeInvalidCondition, "pattern %q has an empty segment", raw)
	}
	g, err := glob.Compile(p, '.')
	if err != nil {
		return nil, domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "invalid pattern "+raw)
	}
	return &Pattern{raw: p, g: g}, nil
}

func (p *Pattern) String() string {
	return p.raw
}

func (p *Pattern) Match(name string) bool {
	return name != "" && p.g.Match(name)
}

// MatchEdge reports whether the edge's target or any candidate matches.
func (p *Pattern) MatchEdge(e Edge) bool {
	if p.Match(e.Target) {
		return true
	}
	for _, c := range e.Candidates {
		if p.Match(c) {
			return true
		}
	}
	return false
}
