package text

import (
	"regexp"
	"strings"
)

var (
	pageFurnitureRe = regexp.MustCompile(`^[\s\-–—_.·|]*(page\s*)?\d{1,4}(\s*(/|of)\s*\d{1,4})?[\s\-–—_.·|]*$`)
	ruleLineRe      = regexp.MustCompile(`^[\s\-=_*|:+]+$`)
)

// IsNoiseChunk identifies passages too low-value to embed: blank text, bare
// page numbers, table rules and short copyright footers. The checks stay
// conservative; a short regulatory line such as "un 1263" is kept.
func IsNoiseChunk(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) == 0 {
		return true
	}

	lower := strings.ToLower(trimmed)
	if pageFurnitureRe.MatchString(lower) || ruleLineRe.MatchString(trimmed) {
		return true
	}

	if strings.Contains(lower, "©") || strings.Contains(lower, "all rights reserved") {
		if len(trimmed) < 200 {
			return true
		}
	}

	return false
}
