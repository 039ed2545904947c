package resolver

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/persistence"
)

// Decision modes.
const (
	ModeAccept = "accept"
	ModeReview = "review"
	ModeReject = "reject"
)

// Deterministic match methods.
const (
	MethodDetExact  = "det:exact"
	MethodDetAlias  = "det:alias"
	MethodDetDomain = "det:domain"
	MethodProb      = "prob:logistic"
)

// Config carries the probabilistic model and the decision thresholds,
// loaded from YAML.
type Config struct {
	Weights       map[string]float64 `yaml:"weights"`
	Intercept     float64            `yaml:"intercept"`
	TauAccept     float64            `yaml:"tau_accept"`
	ReviewLow     float64            `yaml:"review_low"`
	MinTop2Margin float64            `yaml:"min_top2_margin"`
	TopK          int                `yaml:"top_k"`
	BatchTopK     int                `yaml:"batch_top_k"`
	LLMModel      string             `yaml:"llm_model"`
}

// DefaultConfig returns the production resolver thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			FeatJaroWinkler:     3.2,
			FeatTokenSetRatio:   2.1,
			FeatAcronymExact:    1.4,
			FeatDomainRootMatch: 2.6,
			FeatTickerHit:       1.8,
			FeatAcademicPenalty: -3.5,
			FeatStrongOverlap:   2.4,
		},
		Intercept:     -4.0,
		TauAccept:     0.85,
		ReviewLow:     0.60,
		MinTop2Margin: 0.10,
		TopK:          25,
		BatchTopK:     50,
		LLMModel:      "gpt-4o-mini",
	}
}

// Validate checks threshold sanity.
func (c Config) Validate() error {
	if c.TauAccept <= c.ReviewLow {
		return fmt.Errorf("tau_accept (%.2f) must exceed review_low (%.2f)", c.TauAccept, c.ReviewLow)
	}
	if c.MinTop2Margin < 0 || c.MinTop2Margin > 1 {
		return fmt.Errorf("min_top2_margin %.2f out of range", c.MinTop2Margin)
	}
	if len(c.Weights) == 0 {
		return fmt.Errorf("resolver weights are empty")
	}
	return nil
}

// Decision is the outcome of resolving one sponsor string.
type Decision struct {
	Mode        string
	Method      string
	CompanyID   *int64
	Probability float64
	Top2Margin  float64
	Features    map[string]float64
	Candidates  []persistence.ResolverCandidate
	Evidence    map[string]interface{}
}

// Resolver maps sponsor free text to canonical company ids: a deterministic
// pass, then a probabilistic pass, then the review queue.
type Resolver struct {
	companies persistence.CompaniesRepo
	decisions persistence.ResolverRepo
	cfg       Config

	ignoreOnce   bool
	ignoreRegexp []*regexp.Regexp
	now          func() time.Time
	newID        func() string
}

// New creates a resolver.
func New(companies persistence.CompaniesRepo, decisions persistence.ResolverRepo, cfg Config) *Resolver {
	return &Resolver{
		companies: companies,
		decisions: decisions,
		cfg:       cfg,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

// NewRunID builds the default run identifier format.
func NewRunID() string {
	return "resolver-" + time.Now().UTC().Format("20060102T150405Z")
}

// Resolve maps sponsorText to a decision and persists it per policy:
// accept writes a decision, review freezes a review item, reject persists
// nothing. The enclosing transaction (if any) linearizes the writes.
func (r *Resolver) Resolve(ctx context.Context, runID, nctID, sponsorText string) (*Decision, error) {
	if strings.TrimSpace(sponsorText) == "" {
		return &Decision{Mode: ModeReject, Method: MethodProb}, nil
	}

	academicHit, err := r.matchesIgnoreList(ctx, sponsorText)
	if err != nil {
		return nil, err
	}

	// Stage 1: deterministic. Skipped for ignore-list sponsors, which can
	// never be accepted.
	if !academicHit {
		det, err := r.deterministic(ctx, sponsorText)
		if err != nil {
			return nil, err
		}
		if det != nil {
			if err := r.persistDecision(ctx, runID, nctID, sponsorText, det); err != nil {
				return nil, err
			}
			return det, nil
		}
	}

	// Stage 2: probabilistic.
	dec, err := r.probabilistic(ctx, sponsorText, academicHit)
	if err != nil {
		return nil, err
	}
	if err := r.persistDecision(ctx, runID, nctID, sponsorText, dec); err != nil {
		return nil, err
	}
	return dec, nil
}

// deterministic attempts a unique exact match against normalized canonical
// names, aliases, and website domain roots.
func (r *Resolver) deterministic(ctx context.Context, sponsorText string) (*Decision, error) {
	norm := NormalizeName(sponsorText)
	if norm == "" {
		return nil, nil
	}

	matches, err := r.companies.SearchTrigram(ctx, norm, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("candidate retrieval failed: %w", err)
	}

	type hit struct {
		companyID int64
		method    string
		evidence  map[string]interface{}
	}
	var hits []hit
	for _, m := range matches {
		c := m.Company
		if NormalizeName(c.Name) == norm {
			hits = append(hits, hit{c.ID, MethodDetExact, map[string]interface{}{"name": c.Name}})
			continue
		}
		matched := false
		for _, alias := range c.Aliases {
			if NormalizeName(alias) == norm {
				hits = append(hits, hit{c.ID, MethodDetAlias, map[string]interface{}{"alias": alias}})
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		for _, domain := range c.Domains {
			if root := domainRoot(domain); root != "" && root == strings.ReplaceAll(norm, " ", "") {
				hits = append(hits, hit{c.ID, MethodDetDomain, map[string]interface{}{"domain": domain}})
				break
			}
		}
	}

	// Ambiguous exact matches fall through to the probabilistic stage.
	if len(hits) != 1 {
		return nil, nil
	}

	h := hits[0]
	id := h.companyID
	return &Decision{
		Mode:        ModeAccept,
		Method:      h.method,
		CompanyID:   &id,
		Probability: 1.0,
		Top2Margin:  1.0,
		// Keeps the audit trail symmetric with probabilistic accepts.
		Features: map[string]float64{h.method: 1.0},
		Evidence: h.evidence,
	}, nil
}

// probabilistic retrieves top-K candidates by trigram similarity, scores
// them with the logistic model, and applies the threshold rule.
func (r *Resolver) probabilistic(ctx context.Context, sponsorText string, academicHit bool) (*Decision, error) {
	norm := NormalizeName(sponsorText)
	matches, err := r.companies.SearchTrigram(ctx, norm, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("candidate retrieval failed: %w", err)
	}
	if len(matches) == 0 {
		return &Decision{Mode: ModeReject, Method: MethodProb, Features: map[string]float64{}}, nil
	}

	candidates := make([]persistence.ResolverCandidate, 0, len(matches))
	for _, m := range matches {
		features := ExtractFeatures(sponsorText, m.Company, academicHit)
		candidates = append(candidates, persistence.ResolverCandidate{
			CompanyID:   m.Company.ID,
			CompanyName: m.Company.Name,
			Similarity:  m.Similarity,
			Features:    features,
			Probability: r.score(features),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Probability > candidates[j].Probability
	})

	top := candidates[0]
	margin := top.Probability
	if len(candidates) > 1 {
		margin = top.Probability - candidates[1].Probability
	}

	dec := &Decision{
		Method:      MethodProb,
		Probability: top.Probability,
		Top2Margin:  margin,
		Features:    top.Features,
		Candidates:  candidates,
		Evidence: map[string]interface{}{
			"leader":     top.CompanyName,
			"similarity": top.Similarity,
		},
	}

	switch {
	// The ignore list bounds acceptance by policy: an academic sponsor is
	// never accepted regardless of p.
	case !academicHit && top.Probability >= r.cfg.TauAccept && margin >= r.cfg.MinTop2Margin:
		dec.Mode = ModeAccept
		id := top.CompanyID
		dec.CompanyID = &id
	case top.Probability >= r.cfg.ReviewLow:
		dec.Mode = ModeReview
	default:
		dec.Mode = ModeReject
	}
	return dec, nil
}

// score applies the logistic model p = sigma(intercept + sum(w_i * f_i)).
func (r *Resolver) score(features map[string]float64) float64 {
	z := r.cfg.Intercept
	for name, w := range r.cfg.Weights {
		z += w * features[name]
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

func (r *Resolver) persistDecision(ctx context.Context, runID, nctID, sponsorText string, dec *Decision) error {
	switch dec.Mode {
	case ModeAccept:
		if dec.CompanyID == nil {
			return fmt.Errorf("accept decision for %s carries no company id", nctID)
		}
		return r.decisions.InsertDecision(ctx, &persistence.ResolverDecision{
			RunID:       runID,
			NCTID:       nctID,
			SponsorText: sponsorText,
			Mode:        ModeAccept,
			CompanyID:   dec.CompanyID,
			Probability: dec.Probability,
			Top2Margin:  dec.Top2Margin,
			Features:    dec.Features,
			LeaderMeta:  map[string]interface{}{"method": dec.Method, "evidence": dec.Evidence},
			DecidedBy:   "model",
		})
	case ModeReview:
		item := &persistence.ResolverReviewItem{
			ID:          r.newID(),
			RunID:       runID,
			NCTID:       nctID,
			SponsorText: sponsorText,
			Candidates:  dec.Candidates,
			Status:      "pending",
		}
		log.Debug().Str("nct_id", nctID).Float64("p_top", dec.Probability).Msg("sponsor queued for review")
		return r.decisions.InsertReviewItem(ctx, item)
	default:
		// Rejects are not persisted as decisions.
		return nil
	}
}

// matchesIgnoreList compiles (once) and applies the academic/government
// sponsor patterns.
func (r *Resolver) matchesIgnoreList(ctx context.Context, sponsorText string) (bool, error) {
	if !r.ignoreOnce {
		patterns, err := r.companies.ListIgnorePatterns(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to load ignore patterns: %w", err)
		}
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				log.Warn().Str("pattern", p).Err(err).Msg("skipping invalid ignore pattern")
				continue
			}
			r.ignoreRegexp = append(r.ignoreRegexp, re)
		}
		r.ignoreOnce = true
	}
	for _, re := range r.ignoreRegexp {
		if re.MatchString(sponsorText) {
			return true, nil
		}
	}
	return false, nil
}
