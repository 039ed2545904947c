package docs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/trialgate/trialgate/internal/persistence"
)

// Promotion gate defaults. A heuristic's links may feed scoring only once the
// feature flag is on and its labeled precision clears the bar.
const (
	DefaultMinPrecision = 0.95
	DefaultMinLabels    = 50
)

// PromoterConfig controls link promotion.
type PromoterConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MinPrecision float64 `yaml:"min_precision"`
	MinLabels    int     `yaml:"min_labels"`
}

// DefaultPromoterConfig returns the gate with the flag off.
func DefaultPromoterConfig() PromoterConfig {
	return PromoterConfig{
		Enabled:      false,
		MinPrecision: DefaultMinPrecision,
		MinLabels:    DefaultMinLabels,
	}
}

// Promoter decides which heuristics' links are promoted into scoring.
type Promoter struct {
	cfg  PromoterConfig
	repo persistence.DocsRepo
	log  zerolog.Logger
}

// NewPromoter builds a promoter over the docs repo.
func NewPromoter(cfg PromoterConfig, repo persistence.DocsRepo, log zerolog.Logger) *Promoter {
	return &Promoter{cfg: cfg, repo: repo, log: log.With().Str("component", "doc_promoter").Logger()}
}

// Eligible reports whether a heuristic currently clears the promotion gate,
// and writes an audit row either way.
func (p *Promoter) Eligible(ctx context.Context, linkType string) (bool, error) {
	correct, total, err := p.repo.LabelStats(ctx, linkType)
	if err != nil {
		return false, fmt.Errorf("label stats for %s: %w", linkType, err)
	}

	precision := 0.0
	if total > 0 {
		precision = float64(correct) / float64(total)
	}

	promoted := false
	reason := ""
	switch {
	case !p.cfg.Enabled:
		reason = "feature flag disabled"
	case total < p.cfg.MinLabels:
		reason = fmt.Sprintf("only %d labeled links, need %d", total, p.cfg.MinLabels)
	case precision < p.cfg.MinPrecision:
		reason = fmt.Sprintf("precision %.3f below %.2f", precision, p.cfg.MinPrecision)
	default:
		promoted = true
		reason = fmt.Sprintf("precision %.3f on %d labels", precision, total)
	}

	audit := &persistence.LinkAudit{
		LinkType:      linkType,
		Promoted:      promoted,
		PrecisionSeen: precision,
		LabeledCount:  total,
		Reason:        reason,
	}
	if err := p.repo.InsertLinkAudit(ctx, audit); err != nil {
		return false, fmt.Errorf("insert link audit: %w", err)
	}

	p.log.Info().
		Str("link_type", linkType).
		Bool("promoted", promoted).
		Float64("precision", precision).
		Int("labels", total).
		Msg(reason)
	return promoted, nil
}

// PromoteLink marks one link promoted after its heuristic clears the gate.
func (p *Promoter) PromoteLink(ctx context.Context, link *persistence.DocumentLink) error {
	ok, err := p.Eligible(ctx, link.LinkType)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := p.repo.PromoteLink(ctx, link.ID); err != nil {
		return fmt.Errorf("promote link %d: %w", link.ID, err)
	}
	link.Promoted = true
	return nil
}
