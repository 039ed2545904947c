package signals

import (
	"fmt"

	"github.com/trialgate/trialgate/internal/studycard"
)

// EvalImplausibleEffect is S5: claimed effect implausible against the
// class graveyard. Fires only for graveyard classes; the 75th percentile of
// historical winners is the fire line, the 90th escalates to HIGH.
func EvalImplausibleEffect(card *studycard.Card, meta ClassMeta) Result {
	if card == nil || card.EffectSize == nil {
		return notFired(S5ImplausibleEffect, "no claimed effect size")
	}
	if !meta.Graveyard {
		return notFired(S5ImplausibleEffect, "class is not a graveyard")
	}
	effect := card.EffectSize.Value
	if effect <= meta.WinnerEffectP75 {
		return notFired(S5ImplausibleEffect, fmt.Sprintf("effect %.3f within historical winner range", effect))
	}

	severity := SeverityMedium
	if effect > meta.WinnerEffectP90 {
		severity = SeverityHigh
	}
	return Result{
		ID:          S5ImplausibleEffect,
		Fired:       true,
		Severity:    severity,
		Value:       &effect,
		Reason:      fmt.Sprintf("claimed effect %.3f exceeds graveyard winner p75 %.3f", effect, meta.WinnerEffectP75),
		EvidenceIDs: cardEvidence(card),
		Metadata:    map[string]interface{}{"p75": meta.WinnerEffectP75, "p90": meta.WinnerEffectP90},
	}
}

// EvalSingleArmPivotal is S7: single-arm pivotal where the setting requires
// an RCT by the caller's policy.
func EvalSingleArmPivotal(card *studycard.Card, meta ClassMeta) Result {
	if card == nil || !card.IsPivotal {
		return notFired(S7SingleArmPivotal, "not marked pivotal")
	}
	if !card.SingleArm {
		return notFired(S7SingleArmPivotal, "not single-arm")
	}
	if !meta.RCTStandard {
		return notFired(S7SingleArmPivotal, "RCT not required in this setting")
	}
	return Result{
		ID:          S7SingleArmPivotal,
		Fired:       true,
		Severity:    SeverityHigh,
		Reason:      "single-arm pivotal in a setting where randomized control is standard",
		EvidenceIDs: cardEvidence(card),
	}
}
