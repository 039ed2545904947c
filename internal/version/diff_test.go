package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/persistence"
)

// rawStudy builds a minimal registry record for diff tests.
func rawStudy(mutate func(map[string]interface{})) map[string]interface{} {
	m := map[string]interface{}{
		"protocolSection": map[string]interface{}{
			"identificationModule": map[string]interface{}{
				"nctId":      "NCT01234567",
				"briefTitle": "A Study of TG-101",
			},
			"statusModule": map[string]interface{}{
				"overallStatus": "RECRUITING",
				"primaryCompletionDateStruct": map[string]interface{}{
					"date": "2027-06-30",
				},
			},
			"sponsorCollaboratorsModule": map[string]interface{}{
				"leadSponsor": map[string]interface{}{"name": "Acme Therapeutics, Inc."},
			},
			"designModule": map[string]interface{}{
				"studyType": "INTERVENTIONAL",
				"phases":    []interface{}{"PHASE3"},
				"enrollmentInfo": map[string]interface{}{
					"count": 240.0,
				},
				"designInfo": map[string]interface{}{
					"allocation": "RANDOMIZED",
					"maskingInfo": map[string]interface{}{
						"masking": "DOUBLE",
					},
				},
			},
			"outcomesModule": map[string]interface{}{
				"primaryOutcomes": []interface{}{
					map[string]interface{}{
						"measure":   "Overall response rate",
						"timeFrame": "24 weeks",
					},
				},
			},
			"conditionsModule": map[string]interface{}{
				"conditions": []interface{}{"Melanoma"},
			},
		},
	}
	if mutate != nil {
		mutate(m)
	}
	return m
}

func setPath(m map[string]interface{}, value interface{}, path ...string) {
	cur := m
	for _, key := range path[:len(path)-1] {
		cur = cur[key].(map[string]interface{})
	}
	cur[path[len(path)-1]] = value
}

func findChange(changes []persistence.Change, field string) *persistence.Change {
	for i := range changes {
		if changes[i].FieldPath == field {
			return &changes[i]
		}
	}
	return nil
}

func TestClassify_IdenticalRecordsProduceNoChanges(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(nil)
	assert.Empty(t, Classify(old, cur))
}

func TestClassify_EndpointChangeIsHigh(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, []interface{}{
			map[string]interface{}{"measure": "Progression-free survival", "timeFrame": "24 weeks"},
		}, "protocolSection", "outcomesModule", "primaryOutcomes")
	})

	c := findChange(Classify(old, cur), "primary_endpoint_text")
	require.NotNil(t, c)
	assert.Equal(t, SigHigh, c.Significance)
	assert.Equal(t, ChangeModified, c.ChangeType)
}

func TestClassify_SmallEnrollmentChangeSuppressedAtMedium(t *testing.T) {
	old := rawStudy(nil)
	// 240 -> 250 is ~4%, below the 10% bar.
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, 250.0, "protocolSection", "designModule", "enrollmentInfo", "count")
	})

	changes := Classify(old, cur)
	assert.Nil(t, findChange(changes, "enrollment_count"))
	// sample_size tracks the same scalar at HIGH with no threshold.
	c := findChange(changes, "sample_size")
	require.NotNil(t, c)
	assert.Equal(t, SigHigh, c.Significance)
}

func TestClassify_LargeEnrollmentChangeFiresMedium(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, 300.0, "protocolSection", "designModule", "enrollmentInfo", "count")
	})

	c := findChange(Classify(old, cur), "enrollment_count")
	require.NotNil(t, c)
	assert.Equal(t, SigMedium, c.Significance)
}

func TestClassify_DateChangesAlwaysFire(t *testing.T) {
	old := rawStudy(nil)
	// One day of slip still fires.
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, "2027-07-01", "protocolSection", "statusModule", "primaryCompletionDateStruct", "date")
	})

	c := findChange(Classify(old, cur), "primary_completion_date")
	require.NotNil(t, c)
	assert.Equal(t, SigMedium, c.Significance)
	assert.Equal(t, "2027-06-30", c.Old)
	assert.Equal(t, "2027-07-01", c.New)
}

func TestClassify_MaskingChangeIsHigh(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, "NONE", "protocolSection", "designModule", "designInfo", "maskingInfo", "masking")
	})

	changes := Classify(old, cur)
	c := findChange(changes, "masking")
	require.NotNil(t, c)
	assert.Equal(t, SigHigh, c.Significance)
}

func TestClassify_ConditionSetDiff(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, []interface{}{"Melanoma", "Uveal Melanoma"}, "protocolSection", "conditionsModule", "conditions")
	})

	changes := Classify(old, cur)
	c := findChange(changes, "conditions")
	require.NotNil(t, c)
	assert.Equal(t, ChangeAdded, c.ChangeType)
	assert.Equal(t, SigMedium, c.Significance)
	assert.Equal(t, "Uveal Melanoma", c.New)
}

func TestClassify_TitleChangeIsLow(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, "A Study of TG-101 in Melanoma", "protocolSection", "identificationModule", "briefTitle")
	})

	c := findChange(Classify(old, cur), "brief_title")
	require.NotNil(t, c)
	assert.Equal(t, SigLow, c.Significance)
}

func TestClassify_DirectionSymmetry(t *testing.T) {
	old := rawStudy(nil)
	cur := rawStudy(func(m map[string]interface{}) {
		setPath(m, "SUSPENDED", "protocolSection", "statusModule", "overallStatus")
	})

	fwd := findChange(Classify(old, cur), "status")
	rev := findChange(Classify(cur, old), "status")
	require.NotNil(t, fwd)
	require.NotNil(t, rev)
	assert.Equal(t, fwd.Old, rev.New)
	assert.Equal(t, fwd.New, rev.Old)
	assert.Equal(t, fwd.Significance, rev.Significance)
}
