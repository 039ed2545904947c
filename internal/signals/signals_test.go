package signals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/studycard"
)

func metric(v float64) *studycard.Metric {
	return &studycard.Metric{
		Value:    v,
		Evidence: []studycard.EvidenceSpan{{Scheme: "page_paragraph", Page: 1, Paragraph: 1}},
	}
}

func boolPtr(b bool) *bool { return &b }

func pivotalProportionsCard() *studycard.Card {
	return &studycard.Card{
		DocumentID:          7,
		NCTID:               "NCT01234567",
		IsPivotal:           true,
		PrimaryEndpointText: "Overall response rate (24 weeks)",
		ITTSelected:         boolPtr(true),
		NTotal:              metric(660),
		NTreat:              metric(440),
		NControl:            metric(220),
		ControlRate:         metric(0.35),
		DeltaAbs:            metric(0.33),
		Alpha:               metric(0.025),
		TwoSided:            false,
	}
}

func TestTwoProportionPower_WellPoweredDesign(t *testing.T) {
	power := TwoProportionPower(440, 220, 0.35, 0.33, 0.025, false)
	assert.InDelta(t, 1.0, power, 1e-6)
}

func TestTwoProportionPower_TinyDeltaIsUnderpowered(t *testing.T) {
	power := TwoProportionPower(440, 220, 0.35, 0.08, 0.025, false)
	assert.InDelta(t, 0.506, power, 0.005)
}

func TestNormCDFInverseRoundTrip(t *testing.T) {
	for _, p := range []float64{0.01, 0.025, 0.5, 0.9, 0.975} {
		assert.InDelta(t, p, NormCDF(NormInv(p)), 1e-6)
	}
}

func TestEvalUnderpowered_DoesNotFireOnAdequatePower(t *testing.T) {
	r := EvalUnderpowered(pivotalProportionsCard(), ClassMeta{})
	assert.False(t, r.Fired)
	require.NotNil(t, r.Value)
	assert.Greater(t, *r.Value, 0.99)
}

func TestEvalUnderpowered_FiresHighOnTinyDelta(t *testing.T) {
	card := pivotalProportionsCard()
	card.DeltaAbs = metric(0.08)

	r := EvalUnderpowered(card, ClassMeta{})
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.False(t, r.LowCertInputs)
	assert.Equal(t, []string{"document:7"}, r.EvidenceIDs)
}

func TestEvalUnderpowered_MissingDeltaFallsBackToMCIDWithLowCert(t *testing.T) {
	card := pivotalProportionsCard()
	card.DeltaAbs = nil

	r := EvalUnderpowered(card, ClassMeta{DefaultMCID: 0.08})
	assert.True(t, r.LowCertInputs)
	// Low certainty tightens the HIGH bar to 0.55*(0.55/0.70) ~ 0.432,
	// so power ~0.506 lands MEDIUM rather than HIGH.
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestEvalUnderpowered_TimeToEventBranch(t *testing.T) {
	card := pivotalProportionsCard()
	card.ControlRate = nil
	card.DeltaAbs = nil
	card.HRAlt = metric(0.95) // nearly null alternative
	card.Events = metric(150)

	r := EvalUnderpowered(card, ClassMeta{})
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.Equal(t, "time_to_event", r.Metadata["branch"])
}

func TestEvalUnderpowered_ImputedEventsCapSeverityAtMedium(t *testing.T) {
	card := pivotalProportionsCard()
	card.ControlRate = nil
	card.DeltaAbs = nil
	card.HRAlt = metric(0.95)
	card.Events = nil // imputed from NTotal at the 0.60 fraction

	r := EvalUnderpowered(card, ClassMeta{})
	assert.True(t, r.Fired)
	assert.True(t, r.LowCertInputs)
	// Power ~0.07 sits below even the tightened HIGH bar, but imputed
	// inputs alone never escalate past MEDIUM.
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestEvalUnderpowered_NonPivotalSkipped(t *testing.T) {
	card := pivotalProportionsCard()
	card.IsPivotal = false
	assert.False(t, EvalUnderpowered(card, ClassMeta{}).Fired)
}

func TestEvalSubgroupOnly(t *testing.T) {
	card := &studycard.Card{
		NCTID:    "NCT01234567",
		PrimaryP: metric(0.21),
		Subgroups: []studycard.Subgroup{
			{Name: "PD-L1 high", P: metric(0.03), PromotedInNarrative: true},
		},
	}
	r := EvalSubgroupOnly(card)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)

	// A pre-specified interaction does not fire.
	card.Subgroups[0].PrespecInteraction = true
	assert.False(t, EvalSubgroupOnly(card).Fired)

	// A significant ITT never fires.
	card.Subgroups[0].PrespecInteraction = false
	card.PrimaryP = metric(0.01)
	assert.False(t, EvalSubgroupOnly(card).Fired)
}

func TestEvalITTvsPP(t *testing.T) {
	card := &studycard.Card{
		NCTID:           "NCT01234567",
		PrimaryP:        metric(0.12),
		PerProtP:        metric(0.02),
		PerProtPositive: true,
		DropoutTreat:    metric(0.22),
		DropoutControl:  metric(0.10),
	}
	r := EvalITTvsPP(card)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityMedium, r.Severity)

	// Asymmetry at 0.15 escalates.
	card.DropoutTreat = metric(0.25)
	r = EvalITTvsPP(card)
	assert.Equal(t, SeverityHigh, r.Severity)

	// Below the 0.10 bar nothing fires.
	card.DropoutTreat = metric(0.14)
	assert.False(t, EvalITTvsPP(card).Fired)

	// Subjective unblinded endpoint escalates even at moderate asymmetry.
	card.DropoutTreat = metric(0.21)
	card.EndpointSubjective = true
	card.Blinded = boolPtr(false)
	r = EvalITTvsPP(card)
	assert.Equal(t, SeverityHigh, r.Severity)
}

func TestEvalInterimLooks(t *testing.T) {
	card := &studycard.Card{NCTID: "NCT01234567", PlannedInterims: 2}
	r := EvalInterimLooks(card)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)

	card.AlphaSpendingPlan = true
	assert.False(t, EvalInterimLooks(card).Fired)

	card.ActualPeeks = 4
	r = EvalInterimLooks(card)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestEvalImplausibleEffect(t *testing.T) {
	meta := ClassMeta{Graveyard: true, WinnerEffectP75: 0.25, WinnerEffectP90: 0.40}
	card := &studycard.Card{NCTID: "NCT01234567", EffectSize: metric(0.30)}

	r := EvalImplausibleEffect(card, meta)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityMedium, r.Severity)

	card.EffectSize = metric(0.45)
	r = EvalImplausibleEffect(card, meta)
	assert.Equal(t, SeverityHigh, r.Severity)

	// Non-graveyard classes never fire.
	meta.Graveyard = false
	assert.False(t, EvalImplausibleEffect(card, meta).Fired)
}

func TestEvalSingleArmPivotal(t *testing.T) {
	card := &studycard.Card{NCTID: "NCT01234567", IsPivotal: true, SingleArm: true}
	r := EvalSingleArmPivotal(card, ClassMeta{RCTStandard: true})
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)

	assert.False(t, EvalSingleArmPivotal(card, ClassMeta{RCTStandard: false}).Fired)
}

func TestEvalPValueCusp_PerTrial(t *testing.T) {
	card := &studycard.Card{NCTID: "NCT01234567", PrimaryP: metric(0.047)}
	r := EvalPValueCusp(card, nil)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityMedium, r.Severity)

	card.PrimaryP = metric(0.044)
	assert.False(t, EvalPValueCusp(card, nil).Fired)
}

func TestEvalPValueCusp_ProgramHeaping(t *testing.T) {
	// Eleven program p-values just under 0.05, one just over: L=11, R=1.
	var program []float64
	for i := 0; i < 11; i++ {
		program = append(program, 0.046)
	}
	program = append(program, 0.052)

	r := EvalPValueCusp(nil, program)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)
}

func TestEvalPValueCusp_HeapingNeedsSamples(t *testing.T) {
	// Only four in band: heaping cannot run, no card, nothing fires.
	r := EvalPValueCusp(nil, []float64{0.046, 0.046, 0.047, 0.052})
	assert.False(t, r.Fired)
}

func TestEvalOSPFSContradiction(t *testing.T) {
	card := &studycard.Card{
		NCTID: "NCT01234567",
		PFS:   &studycard.SurvivalReadout{P: metric(0.001)},
		OS: &studycard.SurvivalReadout{
			HR:             metric(1.22),
			P:              metric(0.15),
			EventsFraction: metric(0.70),
		},
	}
	r := EvalOSPFSContradiction(card)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)

	// Heavy crossover explains the OS trend away.
	card.CrossoverRate = metric(0.40)
	assert.False(t, EvalOSPFSContradiction(card).Fired)

	// Immature OS follow-up does not fire.
	card.CrossoverRate = nil
	card.OS.EventsFraction = metric(0.40)
	assert.False(t, EvalOSPFSContradiction(card).Fired)
}

func TestEvalEndpointChanged(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	completion := base.AddDate(0, 3, 0) // inside the late window
	s := func(v string) *string { return &v }
	d := func(v time.Time) *time.Time { return &v }

	versions := []persistence.TrialVersion{
		{ID: 1, CapturedAt: base.AddDate(-1, 0, 0), PrimaryEndpointText: s("Overall survival at 24 months"), EstPrimaryCompletion: d(completion)},
		{ID: 2, CapturedAt: base, PrimaryEndpointText: s("Objective response rate at 12 weeks"), EstPrimaryCompletion: d(completion)},
	}
	r := EvalEndpointChanged(versions)
	assert.True(t, r.Fired)
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.Contains(t, r.EvidenceIDs, "trial_version:1")
	assert.Contains(t, r.EvidenceIDs, "trial_version:2")
}

func TestEvalEndpointChanged_EarlyChangeDoesNotFire(t *testing.T) {
	base := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	completion := base.AddDate(3, 0, 0) // years away
	s := func(v string) *string { return &v }
	d := func(v time.Time) *time.Time { return &v }

	versions := []persistence.TrialVersion{
		{ID: 1, CapturedAt: base.AddDate(0, -6, 0), PrimaryEndpointText: s("Overall survival at 24 months"), EstPrimaryCompletion: d(completion)},
		{ID: 2, CapturedAt: base, PrimaryEndpointText: s("Objective response rate at 12 weeks"), EstPrimaryCompletion: d(completion)},
	}
	assert.False(t, EvalEndpointChanged(versions).Fired)
}

func TestEvalEndpointChanged_SingleVersionNeverFires(t *testing.T) {
	assert.False(t, EvalEndpointChanged([]persistence.TrialVersion{{ID: 1}}).Fired)
}

func TestBinomialTailOneSided(t *testing.T) {
	// P(X >= 11 | n=12, p=0.5) = (C(12,11)+C(12,12))/4096 = 13/4096.
	assert.InDelta(t, 13.0/4096.0, BinomialTailOneSided(11, 12, 0.5), 1e-9)
	assert.Equal(t, 1.0, BinomialTailOneSided(0, 10, 0.5))
}
