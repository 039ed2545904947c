package signals

import (
	"fmt"

	"github.com/trialgate/trialgate/internal/studycard"
)

// Power thresholds for S2. With low-certainty inputs both thresholds scale
// by 0.55/0.70 so only clearly underpowered designs fire, and severity is
// capped at MEDIUM: imputed inputs alone never produce HIGH.
const (
	powerHighThreshold = 0.55
	powerMedThreshold  = 0.70
	lowCertScale       = powerHighThreshold / powerMedThreshold
	defaultAlpha       = 0.025
	missingEventsFrac  = 0.60
)

// EvalUnderpowered is S2: underpowered pivotal at the claimed effect.
// Proportion endpoints use the two-proportion z-test; time-to-event uses
// Freedman-style event-driven power.
func EvalUnderpowered(card *studycard.Card, meta ClassMeta) Result {
	if card == nil || !card.IsPivotal {
		return notFired(S2Underpowered, "not marked pivotal")
	}

	alpha := defaultAlpha
	twoSided := card.TwoSided
	if card.Alpha != nil {
		alpha = card.Alpha.Value
	}

	var power float64
	var lowCert bool
	var branch string

	switch {
	case card.HRAlt != nil:
		branch = "time_to_event"
		events := 0.0
		if card.Events != nil {
			events = card.Events.Value
		} else if card.NTotal != nil {
			events = missingEventsFrac * card.NTotal.Value
			lowCert = true
		} else {
			return notFired(S2Underpowered, "time-to-event branch missing events and total N")
		}
		k := 1.0
		if card.NTreat != nil && card.NControl != nil && card.NControl.Value > 0 {
			k = card.NTreat.Value / card.NControl.Value
		}
		power = FreedmanPower(events, card.HRAlt.Value, k, alpha, twoSided)

	case card.NTreat != nil && card.NControl != nil && card.ControlRate != nil:
		branch = "proportions"
		delta := 0.0
		if card.DeltaAbs != nil {
			delta = card.DeltaAbs.Value
		} else {
			delta = meta.DefaultMCID
			lowCert = true
		}
		if delta <= 0 {
			return notFired(S2Underpowered, "no claimed delta and no class MCID")
		}
		power = TwoProportionPower(card.NTreat.Value, card.NControl.Value,
			card.ControlRate.Value, delta, alpha, twoSided)

	default:
		return notFired(S2Underpowered, "insufficient design inputs for power")
	}

	highThresh, medThresh := powerHighThreshold, powerMedThreshold
	if lowCert {
		highThresh *= lowCertScale
		medThresh = powerHighThreshold
	}

	result := Result{
		ID:            S2Underpowered,
		Value:         &power,
		LowCertInputs: lowCert,
		Metadata:      map[string]interface{}{"branch": branch, "alpha": alpha, "two_sided": twoSided},
		EvidenceIDs:   cardEvidence(card),
	}

	switch {
	case power < highThresh:
		result.Fired = true
		result.Severity = SeverityHigh
		if lowCert {
			result.Severity = SeverityMedium
		}
		result.Reason = fmt.Sprintf("power %.2f below %.2f at claimed effect (%s)", power, highThresh, branch)
	case power < medThresh:
		result.Fired = true
		result.Severity = SeverityMedium
		result.Reason = fmt.Sprintf("power %.2f below %.2f at claimed effect (%s)", power, medThresh, branch)
	default:
		result.Reason = fmt.Sprintf("power %.2f adequate (%s)", power, branch)
	}
	return result
}

func cardEvidence(card *studycard.Card) []string {
	if card == nil {
		return nil
	}
	return []string{fmt.Sprintf("document:%d", card.DocumentID)}
}
