package signals

import (
	"fmt"

	"github.com/trialgate/trialgate/internal/studycard"
)

// S8 cusp and heaping parameters.
const (
	cuspLow  = 0.045
	cuspHigh = 0.050

	heapingMinSamples = 10
	heapingBandHigh   = 0.055
	heapingTailAlpha  = 0.01
)

// EvalPValueCusp is S8. The per-trial check fires MEDIUM on a primary p in
// [0.045, 0.050]. The program-level heaping check fires HIGH when, over the
// sponsor's program p-values in [0.045, 0.055], the left half-band count L
// dominates the right count R (L >= 2R) and the one-sided binomial tail
// P(X >= L | n=L+R, 0.5) is below 0.01.
func EvalPValueCusp(card *studycard.Card, programPValues []float64) Result {
	if fired, result := heapingCheck(programPValues); fired {
		if card != nil {
			result.EvidenceIDs = cardEvidence(card)
		}
		return result
	}

	if card == nil || card.PrimaryP == nil {
		return notFired(S8PValueCusp, "no primary p-value")
	}
	p := card.PrimaryP.Value
	if p >= cuspLow && p <= cuspHigh {
		return Result{
			ID:          S8PValueCusp,
			Fired:       true,
			Severity:    SeverityMedium,
			Value:       &p,
			Reason:      fmt.Sprintf("primary p=%.4f in the [%.3f, %.3f] cusp", p, cuspLow, cuspHigh),
			EvidenceIDs: cardEvidence(card),
		}
	}
	return notFired(S8PValueCusp, "primary p outside cusp")
}

func heapingCheck(programPValues []float64) (bool, Result) {
	var left, right, inBand int
	for _, p := range programPValues {
		switch {
		case p >= cuspLow && p < cuspHigh:
			left++
			inBand++
		case p >= cuspHigh && p <= heapingBandHigh:
			right++
			inBand++
		}
	}
	if inBand < heapingMinSamples {
		return false, Result{}
	}
	if left < 2*right {
		return false, Result{}
	}
	tail := BinomialTailOneSided(left, left+right, 0.5)
	if tail >= heapingTailAlpha {
		return false, Result{}
	}
	return true, Result{
		ID:       S8PValueCusp,
		Fired:    true,
		Severity: SeverityHigh,
		Reason: fmt.Sprintf("program p-value heaping: L=%d R=%d, binomial tail %.4f < %.2f",
			left, right, tail, heapingTailAlpha),
		Metadata: map[string]interface{}{"left": left, "right": right, "tail": tail},
	}
}
