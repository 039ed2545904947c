package signals

import (
	"fmt"
	"math"

	"github.com/trialgate/trialgate/internal/studycard"
)

// EvalSubgroupOnly is S3: subgroup-only win without multiplicity control.
// Fires when the overall ITT p is non-significant but some subgroup claims
// p<0.05 unadjusted and outside a pre-specified interaction. HIGH when the
// narrative promotes that subgroup.
func EvalSubgroupOnly(card *studycard.Card) Result {
	if card == nil || card.PrimaryP == nil {
		return notFired(S3SubgroupOnly, "no overall ITT p-value")
	}
	if card.PrimaryP.Value < 0.05 {
		return notFired(S3SubgroupOnly, "overall ITT significant")
	}

	for _, sg := range card.Subgroups {
		if sg.P == nil || sg.P.Value >= 0.05 || sg.Adjusted || sg.PrespecInteraction {
			continue
		}
		severity := SeverityMedium
		if sg.PromotedInNarrative {
			severity = SeverityHigh
		}
		p := sg.P.Value
		return Result{
			ID:          S3SubgroupOnly,
			Fired:       true,
			Severity:    severity,
			Value:       &p,
			Reason:      fmt.Sprintf("subgroup %q p=%.3f without multiplicity control while ITT p=%.3f", sg.Name, p, card.PrimaryP.Value),
			EvidenceIDs: cardEvidence(card),
			Metadata:    map[string]interface{}{"subgroup": sg.Name, "promoted": sg.PromotedInNarrative},
		}
	}
	return notFired(S3SubgroupOnly, "no uncontrolled subgroup win")
}

// Dropout asymmetry thresholds for S4.
const (
	dropoutAsymmetryFire = 0.10
	dropoutAsymmetryHigh = 0.15
)

// EvalITTvsPP is S4: ITT/PP divergence with dropout asymmetry. HIGH when
// the asymmetry reaches 0.15 or the primary endpoint is subjective and
// unblinded.
func EvalITTvsPP(card *studycard.Card) Result {
	if card == nil || card.PrimaryP == nil || card.PerProtP == nil {
		return notFired(S4ITTvsPP, "missing ITT or per-protocol result")
	}
	ittNegative := card.PrimaryP.Value >= 0.05
	ppPositive := card.PerProtP.Value < 0.05 && card.PerProtPositive
	if !ittNegative || !ppPositive {
		return notFired(S4ITTvsPP, "no ITT/PP divergence")
	}
	if card.DropoutTreat == nil || card.DropoutControl == nil {
		return notFired(S4ITTvsPP, "dropout rates unavailable")
	}

	asymmetry := math.Abs(card.DropoutTreat.Value - card.DropoutControl.Value)
	if asymmetry < dropoutAsymmetryFire {
		return notFired(S4ITTvsPP, fmt.Sprintf("dropout asymmetry %.2f below %.2f", asymmetry, dropoutAsymmetryFire))
	}

	unblinded := card.Blinded != nil && !*card.Blinded
	severity := SeverityMedium
	if asymmetry >= dropoutAsymmetryHigh || (card.EndpointSubjective && unblinded) {
		severity = SeverityHigh
	}
	return Result{
		ID:          S4ITTvsPP,
		Fired:       true,
		Severity:    severity,
		Value:       &asymmetry,
		Reason:      fmt.Sprintf("PP-only success with dropout asymmetry %.2f", asymmetry),
		EvidenceIDs: cardEvidence(card),
		Metadata: map[string]interface{}{
			"itt_p":      card.PrimaryP.Value,
			"pp_p":       card.PerProtP.Value,
			"subjective": card.EndpointSubjective,
			"unblinded":  unblinded,
		},
	}
}

// EvalInterimLooks is S6: multiple interim looks without alpha spending.
// HIGH for >=2 planned interims with no spending plan; MEDIUM when actual
// peeks exceeded the plan without alpha reallocation.
func EvalInterimLooks(card *studycard.Card) Result {
	if card == nil {
		return notFired(S6InterimLooks, "no study card")
	}
	if card.PlannedInterims >= 2 && !card.AlphaSpendingPlan {
		return Result{
			ID:          S6InterimLooks,
			Fired:       true,
			Severity:    SeverityHigh,
			Reason:      fmt.Sprintf("%d planned interims with no alpha-spending plan", card.PlannedInterims),
			EvidenceIDs: cardEvidence(card),
		}
	}
	if card.ActualPeeks > card.PlannedInterims && !card.AlphaReallocated {
		return Result{
			ID:          S6InterimLooks,
			Fired:       true,
			Severity:    SeverityMedium,
			Reason:      fmt.Sprintf("%d actual peeks exceed %d planned without alpha reallocation", card.ActualPeeks, card.PlannedInterims),
			EvidenceIDs: cardEvidence(card),
		}
	}
	return notFired(S6InterimLooks, "interim plan controlled")
}
