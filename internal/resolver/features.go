package resolver

import (
	"math"
	"strings"

	"github.com/trialgate/trialgate/internal/persistence"
)

// Feature names, matching the configured weight keys.
const (
	FeatJaroWinkler     = "jw_primary"
	FeatTokenSetRatio   = "token_set_ratio"
	FeatAcronymExact    = "acronym_exact"
	FeatDomainRootMatch = "domain_root_match"
	FeatTickerHit       = "ticker_string_hit"
	FeatAcademicPenalty = "academic_keyword_penalty"
	FeatStrongOverlap   = "strong_token_overlap"
)

// ExtractFeatures computes the per-candidate feature vector for the
// probabilistic scorer. academicHit comes from the ignore-list regex pass
// over the sponsor text and applies to every candidate equally.
func ExtractFeatures(sponsorText string, candidate persistence.Company, academicHit bool) map[string]float64 {
	sponsorNorm := NormalizeName(sponsorText)
	candNorm := NormalizeName(candidate.Name)
	sponsorLower := strings.ToLower(sponsorText)

	features := map[string]float64{
		FeatJaroWinkler:   JaroWinkler(sponsorNorm, candNorm),
		FeatTokenSetRatio: tokenSetRatio(sponsorNorm, candNorm),
	}

	features[FeatAcronymExact] = 0
	sponsorAcros := append(parentheticals(sponsorText), Acronym(sponsorText))
	candAcros := append([]string{Acronym(candidate.Name)}, candidate.Acronyms...)
	for _, sa := range sponsorAcros {
		sa = strings.ToLower(strings.TrimSpace(sa))
		if sa == "" {
			continue
		}
		for _, ca := range candAcros {
			if ca != "" && sa == strings.ToLower(ca) {
				features[FeatAcronymExact] = 1
			}
		}
	}

	features[FeatDomainRootMatch] = 0
	for _, domain := range candidate.Domains {
		if root := domainRoot(domain); root != "" && strings.Contains(sponsorLower, root) {
			features[FeatDomainRootMatch] = 1
		}
	}

	features[FeatTickerHit] = 0
	if candidate.Ticker != nil && *candidate.Ticker != "" {
		ticker := strings.ToLower(*candidate.Ticker)
		for _, tok := range strings.Fields(sponsorLower) {
			if strings.Trim(tok, "().,:;") == ticker {
				features[FeatTickerHit] = 1
			}
		}
	}

	if academicHit {
		features[FeatAcademicPenalty] = 1
	} else {
		features[FeatAcademicPenalty] = 0
	}

	features[FeatStrongOverlap] = strongTokenOverlap(sponsorNorm, candNorm)

	return features
}

// tokenSetRatio is the bag-of-tokens overlap ratio: |A∩B| / max(|A|, |B|).
func tokenSetRatio(a, b string) float64 {
	as := tokenSet(strings.Fields(a))
	bs := tokenSet(strings.Fields(b))
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	bset := make(map[string]bool, len(bs))
	for _, t := range bs {
		bset[t] = true
	}
	shared := 0
	for _, t := range as {
		if bset[t] {
			shared++
		}
	}
	return float64(shared) / math.Max(float64(len(as)), float64(len(bs)))
}

// strongTokenOverlap is the fraction of rare tokens shared between the two
// names, over the smaller rare-token set.
func strongTokenOverlap(a, b string) float64 {
	var ra, rb []string
	for _, t := range tokenSet(strings.Fields(a)) {
		if isRareToken(t) {
			ra = append(ra, t)
		}
	}
	for _, t := range tokenSet(strings.Fields(b)) {
		if isRareToken(t) {
			rb = append(rb, t)
		}
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	bset := make(map[string]bool, len(rb))
	for _, t := range rb {
		bset[t] = true
	}
	shared := 0
	for _, t := range ra {
		if bset[t] {
			shared++
		}
	}
	return float64(shared) / math.Min(float64(len(ra)), float64(len(rb)))
}

// domainRoot reduces "www.acmetherapeutics.com" to "acmetherapeutics".
func domainRoot(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	if i := strings.IndexByte(d, '.'); i >= 0 {
		d = d[:i]
	}
	if len(d) < 4 {
		// Too short to be a meaningful substring signal.
		return ""
	}
	return d
}

// JaroWinkler computes Jaro-Winkler similarity in [0,1], standard prefix
// scaling 0.1 capped at 4 characters.
func JaroWinkler(a, b string) float64 {
	jaro := Jaro(a, b)
	if jaro == 0 {
		return 0
	}
	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

// Jaro computes the Jaro similarity of two strings.
func Jaro(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	aMatch := make([]bool, la)
	bMatch := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := max(0, i-window)
		hi := min(lb-1, i+window)
		for j := lo; j <= hi; j++ {
			if bMatch[j] || a[i] != b[j] {
				continue
			}
			aMatch[i] = true
			bMatch[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := 0; i < la; i++ {
		if !aMatch[i] {
			continue
		}
		for !bMatch[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions)/2)/m) / 3
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
