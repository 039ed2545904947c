package version

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/trialgate/trialgate/internal/normalize"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/registry"
)

// Significance levels.
const (
	SigHigh   = "HIGH"
	SigMedium = "MEDIUM"
	SigLow    = "LOW"
)

// Change types.
const (
	ChangeAdded    = "ADDED"
	ChangeRemoved  = "REMOVED"
	ChangeModified = "MODIFIED"
)

// numericMediumThreshold suppresses MEDIUM numeric noise below a 10%
// relative move. Below the threshold the change is dropped, not demoted.
const numericMediumThreshold = 0.10

// Classify diffs two raw registry records field-wise and classifies every
// difference HIGH/MEDIUM/LOW. Pure function; symmetric up to change-type
// direction.
func Classify(oldRaw, newRaw map[string]interface{}) []persistence.Change {
	var changes []persistence.Change

	oldT, _ := normalize.Normalize(registry.RawStudy(oldRaw))
	newT, _ := normalize.Normalize(registry.RawStudy(newRaw))

	// HIGH: the analysis-defining scalars.
	changes = appendTextChange(changes, "primary_endpoint_text", oldT.PrimaryEndpointText, newT.PrimaryEndpointText, SigHigh)
	changes = appendIntChange(changes, "sample_size", oldT.SampleSize, newT.SampleSize, SigHigh)
	changes = appendTextChange(changes, "analysis_plan_text", oldT.AnalysisPlanText, newT.AnalysisPlanText, SigHigh)
	changes = appendTextChange(changes, "phase", oldT.Phase, newT.Phase, SigHigh)
	changes = appendTextChange(changes, "status", oldT.Status, newT.Status, SigHigh)
	changes = appendTextChange(changes, "allocation", stringAt(oldRaw, "protocolSection", "designModule", "designInfo", "allocation"),
		stringAt(newRaw, "protocolSection", "designModule", "designInfo", "allocation"), SigHigh)
	changes = appendTextChange(changes, "masking", stringAt(oldRaw, "protocolSection", "designModule", "designInfo", "maskingInfo", "masking"),
		stringAt(newRaw, "protocolSection", "designModule", "designInfo", "maskingInfo", "masking"), SigHigh)
	changes = appendTextChange(changes, "alpha_level", stringAt(oldRaw, "protocolSection", "designModule", "designInfo", "alpha"),
		stringAt(newRaw, "protocolSection", "designModule", "designInfo", "alpha"), SigHigh)
	changes = appendTextChange(changes, "statistical_power", stringAt(oldRaw, "protocolSection", "designModule", "designInfo", "power"),
		stringAt(newRaw, "protocolSection", "designModule", "designInfo", "power"), SigHigh)

	// MEDIUM.
	changes = appendTextChange(changes, "lead_sponsor", oldT.SponsorText, newT.SponsorText, SigMedium)
	changes = appendNumericMedium(changes, "enrollment_count",
		floatAt(oldRaw, "protocolSection", "designModule", "enrollmentInfo", "count"),
		floatAt(newRaw, "protocolSection", "designModule", "enrollmentInfo", "count"))
	changes = appendDateChange(changes, "study_start_date", oldT.StartDate, newT.StartDate, SigMedium)
	changes = appendDateChange(changes, "primary_completion_date", oldT.EstPrimaryCompletion, newT.EstPrimaryCompletion, SigMedium)
	changes = appendInterventionChanges(changes, oldRaw, newRaw)
	changes = appendSetChanges(changes, "conditions",
		stringListAt(oldRaw, "protocolSection", "conditionsModule", "conditions"),
		stringListAt(newRaw, "protocolSection", "conditionsModule", "conditions"), SigMedium)
	changes = appendLocationChanges(changes, oldRaw, newRaw)

	// LOW.
	changes = appendTextChange(changes, "brief_title", oldT.BriefTitle, newT.BriefTitle, SigLow)
	changes = appendTextChange(changes, "official_title", oldT.OfficialTitle, newT.OfficialTitle, SigLow)
	changes = appendTextChange(changes, "acronym", stringAt(oldRaw, "protocolSection", "identificationModule", "acronym"),
		stringAt(newRaw, "protocolSection", "identificationModule", "acronym"), SigLow)
	changes = appendSetChanges(changes, "keywords",
		stringListAt(oldRaw, "protocolSection", "conditionsModule", "keywords"),
		stringListAt(newRaw, "protocolSection", "conditionsModule", "keywords"), SigLow)
	changes = appendSetChanges(changes, "mesh_terms",
		meshTerms(oldRaw), meshTerms(newRaw), SigLow)
	changes = appendTextChange(changes, "eligibility_criteria",
		stringAt(oldRaw, "protocolSection", "eligibilityModule", "eligibilityCriteria"),
		stringAt(newRaw, "protocolSection", "eligibilityModule", "eligibilityCriteria"), SigLow)

	return changes
}

func appendTextChange(changes []persistence.Change, field string, oldV, newV *string, sig string) []persistence.Change {
	switch {
	case oldV == nil && newV == nil:
		return changes
	case oldV == nil:
		return append(changes, persistence.Change{
			FieldPath: field, New: *newV, ChangeType: ChangeAdded, Significance: sig,
			Description: fmt.Sprintf("%s added", field),
		})
	case newV == nil:
		return append(changes, persistence.Change{
			FieldPath: field, Old: *oldV, ChangeType: ChangeRemoved, Significance: sig,
			Description: fmt.Sprintf("%s removed", field),
		})
	case *oldV != *newV:
		return append(changes, persistence.Change{
			FieldPath: field, Old: *oldV, New: *newV, ChangeType: ChangeModified, Significance: sig,
			Description: fmt.Sprintf("%s changed", field),
		})
	}
	return changes
}

func appendIntChange(changes []persistence.Change, field string, oldV, newV *int, sig string) []persistence.Change {
	var oldS, newS *string
	if oldV != nil {
		s := fmt.Sprintf("%d", *oldV)
		oldS = &s
	}
	if newV != nil {
		s := fmt.Sprintf("%d", *newV)
		newS = &s
	}
	return appendTextChange(changes, field, oldS, newS, sig)
}

// appendNumericMedium applies the MEDIUM numeric policy: fire only when the
// relative change reaches 10%; otherwise the change is suppressed entirely.
func appendNumericMedium(changes []persistence.Change, field string, oldV, newV *float64) []persistence.Change {
	switch {
	case oldV == nil && newV == nil:
		return changes
	case oldV == nil:
		return append(changes, persistence.Change{
			FieldPath: field, New: *newV, ChangeType: ChangeAdded, Significance: SigMedium,
			Description: fmt.Sprintf("%s added", field),
		})
	case newV == nil:
		return append(changes, persistence.Change{
			FieldPath: field, Old: *oldV, ChangeType: ChangeRemoved, Significance: SigMedium,
			Description: fmt.Sprintf("%s removed", field),
		})
	case *oldV != *newV:
		if *oldV != 0 && math.Abs(*newV-*oldV)/math.Abs(*oldV) < numericMediumThreshold {
			return changes
		}
		return append(changes, persistence.Change{
			FieldPath: field, Old: *oldV, New: *newV, ChangeType: ChangeModified, Significance: SigMedium,
			Description: fmt.Sprintf("%s changed by %.0f%%", field, 100*math.Abs(*newV-*oldV)/math.Abs(*oldV)),
		})
	}
	return changes
}

// appendDateChange fires on any date change, no threshold.
func appendDateChange(changes []persistence.Change, field string, oldV, newV *time.Time, sig string) []persistence.Change {
	var oldS, newS *string
	if oldV != nil {
		s := oldV.Format("2006-01-02")
		oldS = &s
	}
	if newV != nil {
		s := newV.Format("2006-01-02")
		newS = &s
	}
	return appendTextChange(changes, field, oldS, newS, sig)
}

// appendSetChanges reports additions and removals between two string sets.
func appendSetChanges(changes []persistence.Change, field string, oldList, newList []string, sig string) []persistence.Change {
	oldSet := toSet(oldList)
	newSet := toSet(newList)

	for _, v := range sortedKeys(newSet) {
		if !oldSet[v] {
			changes = append(changes, persistence.Change{
				FieldPath: field, New: v, ChangeType: ChangeAdded, Significance: sig,
				Description: fmt.Sprintf("%s entry added: %s", field, v),
			})
		}
	}
	for _, v := range sortedKeys(oldSet) {
		if !newSet[v] {
			changes = append(changes, persistence.Change{
				FieldPath: field, Old: v, ChangeType: ChangeRemoved, Significance: sig,
				Description: fmt.Sprintf("%s entry removed: %s", field, v),
			})
		}
	}
	return changes
}

// appendInterventionChanges reports add/remove/type changes on the
// interventions list, keyed by intervention name.
func appendInterventionChanges(changes []persistence.Change, oldRaw, newRaw map[string]interface{}) []persistence.Change {
	oldIv := interventionTypes(oldRaw)
	newIv := interventionTypes(newRaw)

	for _, name := range sortedStrKeys(newIv) {
		if oldType, ok := oldIv[name]; !ok {
			changes = append(changes, persistence.Change{
				FieldPath: "interventions", New: name, ChangeType: ChangeAdded, Significance: SigMedium,
				Description: fmt.Sprintf("intervention added: %s", name),
			})
		} else if oldType != newIv[name] {
			changes = append(changes, persistence.Change{
				FieldPath: "interventions", Old: oldType, New: newIv[name], ChangeType: ChangeModified, Significance: SigMedium,
				Description: fmt.Sprintf("intervention %s type changed", name),
			})
		}
	}
	for _, name := range sortedStrKeys(oldIv) {
		if _, ok := newIv[name]; !ok {
			changes = append(changes, persistence.Change{
				FieldPath: "interventions", Old: name, ChangeType: ChangeRemoved, Significance: SigMedium,
				Description: fmt.Sprintf("intervention removed: %s", name),
			})
		}
	}
	return changes
}

// appendLocationChanges treats presence of the whole list as MEDIUM and
// individual facility churn as LOW.
func appendLocationChanges(changes []persistence.Change, oldRaw, newRaw map[string]interface{}) []persistence.Change {
	oldLocs := facilityNames(oldRaw)
	newLocs := facilityNames(newRaw)

	switch {
	case oldLocs == nil && newLocs == nil:
		return changes
	case oldLocs == nil:
		return append(changes, persistence.Change{
			FieldPath: "locations", New: len(newLocs), ChangeType: ChangeAdded, Significance: SigMedium,
			Description: fmt.Sprintf("locations list added (%d facilities)", len(newLocs)),
		})
	case newLocs == nil:
		return append(changes, persistence.Change{
			FieldPath: "locations", Old: len(oldLocs), ChangeType: ChangeRemoved, Significance: SigMedium,
			Description: fmt.Sprintf("locations list removed (%d facilities)", len(oldLocs)),
		})
	}
	return appendSetChanges(changes, "locations.facility", oldLocs, newLocs, SigLow)
}

func interventionTypes(raw map[string]interface{}) map[string]string {
	arms := sub(raw, "protocolSection", "armsInterventionsModule")
	if arms == nil {
		return nil
	}
	list, _ := arms["interventions"].([]interface{})
	out := make(map[string]string, len(list))
	for _, iv := range list {
		ivm, ok := iv.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := ivm["name"].(string)
		if name == "" {
			continue
		}
		t, _ := ivm["type"].(string)
		out[name] = t
	}
	return out
}

func facilityNames(raw map[string]interface{}) []string {
	contacts := sub(raw, "protocolSection", "contactsLocationsModule")
	if contacts == nil {
		return nil
	}
	list, ok := contacts["locations"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, loc := range list {
		lm, ok := loc.(map[string]interface{})
		if !ok {
			continue
		}
		if f, _ := lm["facility"].(string); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func meshTerms(raw map[string]interface{}) []string {
	browse := sub(raw, "derivedSection", "conditionBrowseModule")
	if browse == nil {
		return nil
	}
	list, _ := browse["meshes"].([]interface{})
	out := make([]string, 0, len(list))
	for _, m := range list {
		mm, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if term, _ := mm["term"].(string); term != "" {
			out = append(out, term)
		}
	}
	return out
}

func sub(m map[string]interface{}, path ...string) map[string]interface{} {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func stringAt(m map[string]interface{}, path ...string) *string {
	parent := sub(m, path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	if s, ok := parent[path[len(path)-1]].(string); ok && s != "" {
		return &s
	}
	return nil
}

func floatAt(m map[string]interface{}, path ...string) *float64 {
	parent := sub(m, path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	if f, ok := parent[path[len(path)-1]].(float64); ok {
		return &f
	}
	return nil
}

func stringListAt(m map[string]interface{}, path ...string) []string {
	parent := sub(m, path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	list, _ := parent[path[len(path)-1]].([]interface{})
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStrKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
