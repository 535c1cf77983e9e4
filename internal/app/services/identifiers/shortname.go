package identifiers

import (
	"strings"
	"unicode"
)

// MaxShortNameLen bounds company short codes.
const MaxShortNameLen = 6

// ShortName derives a company code from its name. Non-alphanumerics are
// dropped and the remaining words are abbreviated in upper case.
//
//	one word     first six characters
//	two words    first three characters of each
//	three+ words first two characters of each of the first three
func ShortName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	words := strings.Fields(b.String())
	switch len(words) {
	case 0:
		return ""
	case 1:
		return head(words[0], MaxShortNameLen)
	case 2:
		return head(words[0], 3) + head(words[1], 3)
	default:
		return head(words[0], 2) + head(words[1], 2) + head(words[2], 2)
	}
}

// normalizeSegment keeps only uppercase ASCII alphanumerics.
func normalizeSegment(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(unicode.ToUpper(r))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
