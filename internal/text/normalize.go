package text

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var newlineRuns = regexp.MustCompile(`\n{2,}`)

// maxNormalizePasses bounds the fixpoint loop; real input settles in two.
const maxNormalizePasses = 4

// Normalize canonicalizes extracted text before chunking or querying. It never
// fails: invalid UTF-8 is dropped, control characters other than newline, tab
// and space are removed, the text is NFKC composed and lower-cased, and runs of
// newlines collapse to one. Any panic degrades to printable ASCII.
//
// Normalize(Normalize(s)) == Normalize(s) holds because the steps repeat until
// the output no longer changes.
func Normalize(s string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("normalization failed, falling back to ascii", "panic", r)
			out = asciiOnly(s)
		}
	}()

	cur := strings.ToValidUTF8(s, "")
	for i := 0; i < maxNormalizePasses; i++ {
		next := normalizePass(cur)
		if next == cur {
			break
		}
		cur = next
	}
	return cur
}

func normalizePass(s string) string {
	s = stripControl(s)
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return newlineRuns.ReplaceAllString(s, "\n")
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == ' ' {
			return r
		}
		if unicode.In(r, unicode.C) {
			return -1
		}
		return r
	}, s)
}

func asciiOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7f) {
			b.WriteByte(c)
		}
	}
	return newlineRuns.ReplaceAllString(strings.ToLower(b.String()), "\n")
}
