package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/persistence"
)

// ReviewQueue exposes the human-in-the-loop operations over pending
// resolver decisions.
type ReviewQueue struct {
	decisions persistence.ResolverRepo
}

// NewReviewQueue creates a review queue over the resolver repository.
func NewReviewQueue(decisions persistence.ResolverRepo) *ReviewQueue {
	return &ReviewQueue{decisions: decisions}
}

// ListPending returns pending items ordered by creation time.
func (q *ReviewQueue) ListPending(ctx context.Context, limit int) ([]persistence.ResolverReviewItem, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.decisions.ListPendingReviews(ctx, limit)
}

// Accept resolves a review item as a match. companyID nil defaults to the
// top-probability frozen candidate. writeLabel additionally records a
// positive calibration label.
func (q *ReviewQueue) Accept(ctx context.Context, reviewID string, companyID *int64, writeLabel bool) (*persistence.ResolverDecision, error) {
	item, err := q.decisions.GetReviewItem(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if item.Status != "pending" {
		return nil, fmt.Errorf("review item %s already resolved", reviewID)
	}
	if len(item.Candidates) == 0 {
		return nil, fmt.Errorf("review item %s has no candidates", reviewID)
	}

	chosen := item.Candidates[0]
	if companyID != nil {
		found := false
		for _, c := range item.Candidates {
			if c.CompanyID == *companyID {
				chosen = c
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("company %d is not among the frozen candidates of %s", *companyID, reviewID)
		}
	}

	id := chosen.CompanyID
	decision := &persistence.ResolverDecision{
		RunID:       item.RunID,
		NCTID:       item.NCTID,
		SponsorText: item.SponsorText,
		Mode:        ModeAccept,
		CompanyID:   &id,
		Probability: chosen.Probability,
		Top2Margin:  top2Margin(item.Candidates, chosen),
		Features:    chosen.Features,
		LeaderMeta:  map[string]interface{}{"method": "review", "review_id": item.ID},
		DecidedBy:   "human",
	}
	if err := q.decisions.InsertDecision(ctx, decision); err != nil {
		return nil, err
	}
	if err := q.decisions.MarkReviewResolved(ctx, reviewID); err != nil {
		return nil, err
	}

	if writeLabel {
		if err := q.decisions.InsertLabel(ctx, &persistence.ResolverLabel{
			NCTID:           item.NCTID,
			SponsorTextNorm: NormalizeName(item.SponsorText),
			CompanyID:       chosen.CompanyID,
			IsMatch:         true,
			Source:          "review",
		}); err != nil {
			return nil, err
		}
	}

	log.Info().Str("review_id", reviewID).Str("nct_id", item.NCTID).
		Int64("company_id", chosen.CompanyID).Msg("review accepted")
	return decision, nil
}

// Reject resolves a review item as a non-match. writeLabel records a
// negative label for the top-probability candidate.
func (q *ReviewQueue) Reject(ctx context.Context, reviewID string, writeLabel bool) error {
	item, err := q.decisions.GetReviewItem(ctx, reviewID)
	if err != nil {
		return err
	}
	if item.Status != "pending" {
		return fmt.Errorf("review item %s already resolved", reviewID)
	}
	if err := q.decisions.MarkReviewResolved(ctx, reviewID); err != nil {
		return err
	}

	if writeLabel && len(item.Candidates) > 0 {
		top := item.Candidates[0]
		if err := q.decisions.InsertLabel(ctx, &persistence.ResolverLabel{
			NCTID:           item.NCTID,
			SponsorTextNorm: NormalizeName(item.SponsorText),
			CompanyID:       top.CompanyID,
			IsMatch:         false,
			Source:          "review",
		}); err != nil {
			return err
		}
	}

	log.Info().Str("review_id", reviewID).Str("nct_id", item.NCTID).Msg("review rejected")
	return nil
}

func top2Margin(candidates []persistence.ResolverCandidate, chosen persistence.ResolverCandidate) float64 {
	if len(candidates) < 2 {
		return chosen.Probability
	}
	return candidates[0].Probability - candidates[1].Probability
}
