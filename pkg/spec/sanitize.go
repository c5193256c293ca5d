package spec

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	invalidCharPattern = regexp.MustCompile(`[^a-z0-9-]`)
	dashRunPattern      = regexp.MustCompile(`-+`)
	dns1123Pattern      = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
)

// Sanitize produces a DNS-1123-label-safe name from an arbitrary
// display name, following spec.md §4.3 exactly:
//
//  1. Decompose Unicode (NFKD) and strip non-ASCII.
//  2. Lowercase; replace whitespace with '-'; remove any character
//     not in [a-z0-9-].
//  3. Collapse runs of '-'; trim leading/trailing '-'.
//  4. If empty, substitute "user"; if the first character is not
//     alphanumeric, prefix "u".
//  5. Truncate to 63 characters.
func Sanitize(name string) string {
	ascii := stripNonASCII(name)

	var b strings.Builder
	for _, r := range ascii {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('-')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	s := invalidCharPattern.ReplaceAllString(b.String(), "")
	s = dashRunPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if s == "" {
		s = "user"
	} else if !isAlphanumeric(rune(s[0])) {
		s = "u" + s
	}

	if len(s) > 63 {
		s = s[:63]
		s = strings.TrimRight(s, "-")
	}
	return s
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// stripNonASCII decomposes Unicode (NFKD) and removes every rune
// outside the ASCII range, matching "decomposing Unicode and
// stripping non-ASCII" in spec.md §4.3.
func stripNonASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	var b strings.Builder
	for _, r := range out {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
