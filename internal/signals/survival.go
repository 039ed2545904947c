package signals

import (
	"fmt"

	"github.com/trialgate/trialgate/internal/studycard"
)

// S9 thresholds for the OS/PFS contradiction pattern.
const (
	osHarmHRMin       = 1.10
	osHarmHRHigh      = 1.20
	osEventsFracMin   = 0.60
	osHarmPMax        = 0.20
	crossoverRateCeil = 0.30
)

// EvalOSPFSContradiction is S9: PFS shows benefit while OS trends toward
// harm with a mature event fraction and limited crossover. HIGH when the
// OS hazard ratio reaches 1.20.
func EvalOSPFSContradiction(card *studycard.Card) Result {
	if card == nil || card.PFS == nil || card.OS == nil {
		return notFired(S9OSPFSContradiction, "missing PFS or OS readout")
	}

	if !pfsBenefit(card.PFS) {
		return notFired(S9OSPFSContradiction, "no PFS benefit")
	}
	if !osHarm(card.OS) {
		return notFired(S9OSPFSContradiction, "no OS harm pattern")
	}
	if card.CrossoverRate != nil && card.CrossoverRate.Value > crossoverRateCeil {
		return notFired(S9OSPFSContradiction, "crossover rate explains OS trend")
	}

	hr := card.OS.HR.Value
	severity := SeverityMedium
	if hr >= osHarmHRHigh {
		severity = SeverityHigh
	}
	return Result{
		ID:          S9OSPFSContradiction,
		Fired:       true,
		Severity:    severity,
		Value:       &hr,
		Reason:      fmt.Sprintf("PFS benefit contradicted by OS HR %.2f at mature follow-up", hr),
		EvidenceIDs: cardEvidence(card),
	}
}

func pfsBenefit(pfs *studycard.SurvivalReadout) bool {
	if pfs.P != nil && pfs.P.Value < 0.05 {
		return true
	}
	if pfs.HR != nil && pfs.HR.Value < 1 && pfs.CIUpper != nil && pfs.CIUpper.Value < 1 {
		return true
	}
	return false
}

func osHarm(os *studycard.SurvivalReadout) bool {
	if os.HR == nil || os.HR.Value < osHarmHRMin {
		return false
	}
	if os.EventsFraction == nil || os.EventsFraction.Value < osEventsFracMin {
		return false
	}
	if os.P == nil || os.P.Value >= osHarmPMax {
		return false
	}
	return true
}
