package resolver

import (
	"context"
	"sort"

	"github.com/trialgate/trialgate/internal/persistence"
)

// MemoryDirectory is an in-memory CompaniesRepo for tests and offline runs.
// Trigram similarity mirrors pg_trgm's definition over padded trigrams.
type MemoryDirectory struct {
	Companies      []persistence.Company
	IgnorePatterns []string
}

var _ persistence.CompaniesRepo = (*MemoryDirectory)(nil)

func (d *MemoryDirectory) GetByID(ctx context.Context, id int64) (*persistence.Company, error) {
	for i := range d.Companies {
		if d.Companies[i].ID == id {
			c := d.Companies[i]
			return &c, nil
		}
	}
	return nil, persistence.ErrNotFound
}

func (d *MemoryDirectory) SearchTrigram(ctx context.Context, needle string, k int) ([]persistence.CompanyMatch, error) {
	matches := make([]persistence.CompanyMatch, 0, len(d.Companies))
	for _, c := range d.Companies {
		sim := TrigramSimilarity(needle, NormalizeName(c.Name))
		if sim <= 0 {
			continue
		}
		matches = append(matches, persistence.CompanyMatch{Company: c, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (d *MemoryDirectory) ListIgnorePatterns(ctx context.Context) ([]string, error) {
	return d.IgnorePatterns, nil
}

// TrigramSimilarity is |T(a) ∩ T(b)| / |T(a) ∪ T(b)| over word trigrams
// with the pg_trgm "  x" left padding and "x " right padding convention.
func TrigramSimilarity(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func trigrams(s string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range NormalizeTokens(s) {
		padded := "  " + word + " "
		for i := 0; i+3 <= len(padded); i++ {
			out[padded[i:i+3]] = true
		}
	}
	return out
}
