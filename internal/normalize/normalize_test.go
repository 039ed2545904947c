package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/registry"
)

func fullRecord() registry.RawStudy {
	return registry.RawStudy{
		"protocolSection": map[string]interface{}{
			"identificationModule": map[string]interface{}{
				"nctId":         "NCT01234567",
				"briefTitle":    "Acmeumab in Advanced Melanoma",
				"officialTitle": "A Phase 3 Study of Acmeumab vs Placebo",
			},
			"statusModule": map[string]interface{}{
				"overallStatus":               "RECRUITING",
				"primaryCompletionDateStruct": map[string]interface{}{"date": "2027-06-30"},
				"startDateStruct":             map[string]interface{}{"date": "2025-01"},
			},
			"sponsorCollaboratorsModule": map[string]interface{}{
				"leadSponsor": map[string]interface{}{"name": "Acme Therapeutics"},
			},
			"designModule": map[string]interface{}{
				"studyType":      "INTERVENTIONAL",
				"phases":         []interface{}{"PHASE3"},
				"enrollmentInfo": map[string]interface{}{"count": 240.0},
				"designInfo": map[string]interface{}{
					"allocation":        "RANDOMIZED",
					"interventionModel": "PARALLEL",
					"maskingInfo":       map[string]interface{}{"masking": "DOUBLE"},
				},
			},
			"outcomesModule": map[string]interface{}{
				"primaryOutcomes": []interface{}{
					map[string]interface{}{"measure": "Objective response rate", "timeFrame": "24 weeks"},
					map[string]interface{}{"measure": "Duration of response"},
				},
			},
		},
	}
}

func TestNormalize_FullRecord(t *testing.T) {
	trial, warnings := Normalize(fullRecord())
	assert.Empty(t, warnings)

	assert.Equal(t, "NCT01234567", trial.NCTID)
	require.NotNil(t, trial.BriefTitle)
	assert.Equal(t, "Acmeumab in Advanced Melanoma", *trial.BriefTitle)
	require.NotNil(t, trial.SponsorText)
	assert.Equal(t, "Acme Therapeutics", *trial.SponsorText)
	require.NotNil(t, trial.Status)
	assert.Equal(t, "RECRUITING", *trial.Status)
	require.NotNil(t, trial.Phase)
	assert.Equal(t, "PHASE3", *trial.Phase)
	require.NotNil(t, trial.SampleSize)
	assert.Equal(t, 240, *trial.SampleSize)
	require.NotNil(t, trial.EstPrimaryCompletion)
	assert.Equal(t, time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC), *trial.EstPrimaryCompletion)
	require.NotNil(t, trial.StartDate)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *trial.StartDate)
	require.NotNil(t, trial.PrimaryEndpointText)
	assert.Equal(t, "Objective response rate (24 weeks); Duration of response", *trial.PrimaryEndpointText)
	require.NotNil(t, trial.AnalysisPlanText)
	assert.Equal(t, "allocation=RANDOMIZED; masking=DOUBLE; model=PARALLEL", *trial.AnalysisPlanText)
}

func TestNormalize_SparseRecordWarnsButSucceeds(t *testing.T) {
	raw := registry.RawStudy{
		"protocolSection": map[string]interface{}{
			"identificationModule": map[string]interface{}{"nctId": "NCT07654321"},
		},
	}
	trial, warnings := Normalize(raw)
	assert.Equal(t, "NCT07654321", trial.NCTID)
	assert.Nil(t, trial.Status)
	assert.Nil(t, trial.SponsorText)
	assert.Nil(t, trial.PrimaryEndpointText)

	fields := make(map[string]bool)
	for _, w := range warnings {
		fields[w.Field] = true
	}
	assert.True(t, fields["status"])
	assert.True(t, fields["sponsor_text"])
	assert.True(t, fields["design"])
	assert.True(t, fields["primary_endpoint_text"])
}

func TestNormalize_MissingNCTIDWarns(t *testing.T) {
	trial, warnings := Normalize(registry.RawStudy{})
	assert.Empty(t, trial.NCTID)
	require.NotEmpty(t, warnings)
	assert.Equal(t, "nct_id", warnings[0].Field)
}

func TestPickPhase(t *testing.T) {
	phase := func(vals ...interface{}) *string {
		return pickPhase(map[string]interface{}{"phases": vals})
	}

	require.NotNil(t, phase("PHASE3"))
	assert.Equal(t, "PHASE3", *phase("PHASE3"))

	// Case-folded and combined phases normalize to upper case.
	require.NotNil(t, phase("phase2_phase3"))
	assert.Equal(t, "PHASE2_PHASE3", *phase("phase2_phase3"))

	// Phase 1-only and empty lists yield nil.
	assert.Nil(t, phase("PHASE1"))
	assert.Nil(t, phase())

	// First qualifying entry wins.
	assert.Equal(t, "PHASE2", *phase("PHASE1", "PHASE2", "PHASE3"))
}

func TestParseDate(t *testing.T) {
	got := ParseDate("2026-05-14")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC), *got)

	got = ParseDate(" 2026-05 ")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, ParseDate("May 2026"))
	assert.Nil(t, ParseDate(""))
}
