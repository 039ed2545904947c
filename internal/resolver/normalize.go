package resolver

import (
	"sort"
	"strings"
	"unicode"
)

// corporateSuffixes are folded away during normalization so "Acme
// Therapeutics, Inc." and "Acme Therapeutics" compare equal.
var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "ltd": true, "limited": true, "llc": true,
	"plc": true, "sa": true, "ag": true, "nv": true, "bv": true, "gmbh": true,
	"kk": true, "ab": true, "as": true, "oy": true, "spa": true, "pty": true,
	"lp": true, "llp": true, "holdings": true, "holding": true, "group": true,
}

// NormalizeName case-folds, strips punctuation, and removes corporate
// suffixes. Token order is preserved.
func NormalizeName(s string) string {
	return strings.Join(NormalizeTokens(s), " ")
}

// NormalizeTokens returns the normalized token sequence of a name.
func NormalizeTokens(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if corporateSuffixes[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Acronym builds the first-letter acronym of the normalized tokens,
// e.g. "National Cancer Institute" -> "nci".
func Acronym(s string) string {
	tokens := NormalizeTokens(s)
	if len(tokens) < 2 {
		return ""
	}
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte(t[0])
	}
	return b.String()
}

// parentheticals extracts parenthesized fragments, which sponsors often use
// for their own acronym ("National Cancer Institute (NCI)").
func parentheticals(s string) []string {
	var out []string
	depth, start := 0, -1
	for i, r := range s {
		switch r {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 && start < i {
				out = append(out, s[start:i])
			}
		}
	}
	return out
}

// tokenSet returns the deduplicated sorted token set.
func tokenSet(tokens []string) []string {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// commonTokens are too frequent in pharma names to discriminate between
// companies; rare-token overlap ignores them.
var commonTokens = map[string]bool{
	"pharma": true, "pharmaceutical": true, "pharmaceuticals": true,
	"therapeutics": true, "biosciences": true, "bioscience": true,
	"bio": true, "biotech": true, "sciences": true, "science": true,
	"medical": true, "medicines": true, "medicine": true, "health": true,
	"international": true, "global": true, "research": true, "labs": true,
	"laboratories": true, "the": true, "of": true, "and": true,
}

func isRareToken(t string) bool {
	return !commonTokens[t] && len(t) > 2
}
