package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/resolver"
)

// ResolveReport summarizes one sponsor-resolution batch.
type ResolveReport struct {
	RunID    string `json:"run_id"`
	Examined int    `json:"examined"`
	Accepted int    `json:"accepted"`
	Queued   int    `json:"queued"`
	Rejected int    `json:"rejected"`
}

// ResolveBatch runs the resolver over trials with no canonical sponsor yet.
// Accepted decisions write through to the trial row; review and reject modes
// leave it untouched. When an LLM assist is enabled, probabilistic rejects
// of non-academic sponsors get one escalation: a confident suggestion lands
// on the review queue instead of dropping the trial.
func ResolveBatch(ctx context.Context, trials persistence.TrialsRepo, res *resolver.Resolver, assist *resolver.LLMAssist, m *metrics.Registry, limit int) (*ResolveReport, error) {
	report := &ResolveReport{RunID: resolver.NewRunID()}

	pending, err := trials.ListUnresolved(ctx, limit)
	if err != nil {
		return nil, err
	}

	for _, t := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if t.SponsorText == nil || *t.SponsorText == "" {
			continue
		}
		report.Examined++

		decision, err := res.Resolve(ctx, report.RunID, t.NCTID, *t.SponsorText)
		if err != nil {
			return report, err
		}
		m.ResolverDecisions.WithLabelValues(decision.Mode, decision.Method).Inc()

		switch decision.Mode {
		case resolver.ModeAccept:
			if decision.CompanyID != nil {
				if err := trials.UpdateSponsor(ctx, t.ID, *decision.CompanyID); err != nil {
					return report, err
				}
			}
			report.Accepted++
		case resolver.ModeReview:
			report.Queued++
		default:
			if item := escalateReject(ctx, assist, report.RunID, &t, decision, m); item != nil {
				report.Queued++
			} else {
				report.Rejected++
			}
		}
	}

	log.Info().
		Str("run_id", report.RunID).
		Int("examined", report.Examined).
		Bool("llm_assist", assist.Enabled()).
		Int("accepted", report.Accepted).
		Int("queued", report.Queued).
		Int("rejected", report.Rejected).
		Msg("resolve batch complete")
	return report, nil
}

// escalateReject gives the LLM one shot at a sponsor the model could not
// place. Academic sponsors stay rejected: the ignore list already decided
// them. An assist failure downgrades to the plain reject rather than
// aborting the batch.
func escalateReject(ctx context.Context, assist *resolver.LLMAssist, runID string, t *persistence.Trial, decision *resolver.Decision, m *metrics.Registry) *persistence.ResolverReviewItem {
	if !assist.Enabled() || decision.Features[resolver.FeatAcademicPenalty] > 0 {
		return nil
	}

	snippet := ""
	if t.BriefTitle != nil {
		snippet = *t.BriefTitle
	}
	item, err := assist.Suggest(ctx, runID, t.NCTID, *t.SponsorText, snippet)
	if err != nil {
		m.LLMCalls.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("nct_id", t.NCTID).Msg("llm assist failed, keeping reject")
		return nil
	}
	m.LLMCalls.WithLabelValues("ok").Inc()
	return item
}
