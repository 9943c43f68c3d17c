package text

import "strings"

// minSentenceChars folds fragments such as "1." or "ii)" into their neighbour.
const minSentenceChars = 12

// SplitSentences cuts text after ". ", "! ", "? " and newlines. Delimiters
// stay attached so that concatenating the result restores the input modulo
// dropped blank fragments.
func SplitSentences(s string) []string {
	var raw []string
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		end := -1
		switch {
		case c == '\n':
			end = i + 1
		case (c == '.' || c == '!' || c == '?') && i+1 < len(s) && s[i+1] == ' ':
			end = i + 2
			i++
		}
		if end > 0 {
			raw = append(raw, s[start:end])
			start = end
		}
	}
	if start < len(s) {
		raw = append(raw, s[start:])
	}

	var out []string
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			if len(out) > 0 {
				out[len(out)-1] += r
			}
			continue
		}
		if len(out) > 0 && len(strings.TrimSpace(out[len(out)-1])) < minSentenceChars {
			out[len(out)-1] += r
			continue
		}
		out = append(out, r)
	}
	if len(out) > 1 && len(strings.TrimSpace(out[len(out)-1])) < minSentenceChars {
		out[len(out)-2] += out[len(out)-1]
		out = out[:len(out)-1]
	}
	return out
}
