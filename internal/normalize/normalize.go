package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/trialgate/trialgate/internal/registry"
)

// Trial is the typed view over an opaque registry record.
type Trial struct {
	NCTID                string
	BriefTitle           *string
	OfficialTitle        *string
	SponsorText          *string
	Phase                *string
	Status               *string
	PrimaryEndpointText  *string
	SampleSize           *int
	AnalysisPlanText     *string
	EstPrimaryCompletion *time.Time
	StartDate            *time.Time
}

// Warning records a missing or malformed sub-module. The normalizer is
// total: it never fails, it just leaves the affected scalars nil.
type Warning struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Normalize converts an opaque registry record into a typed Trial. Pure
// function, no I/O.
func Normalize(raw registry.RawStudy) (Trial, []Warning) {
	var warnings []Warning
	warn := func(field, reason string) {
		warnings = append(warnings, Warning{Field: field, Reason: reason})
	}

	t := Trial{NCTID: raw.NCTID()}
	if t.NCTID == "" {
		warn("nct_id", "identification module missing or empty")
	}

	m := map[string]interface{}(raw)

	if ident := sub(m, "protocolSection", "identificationModule"); ident != nil {
		t.BriefTitle = optString(ident, "briefTitle")
		t.OfficialTitle = optString(ident, "officialTitle")
	}

	if status := sub(m, "protocolSection", "statusModule"); status != nil {
		t.Status = optString(status, "overallStatus")
		if pcd := sub(status, "primaryCompletionDateStruct"); pcd != nil {
			if s := optString(pcd, "date"); s != nil {
				t.EstPrimaryCompletion = ParseDate(*s)
			}
		}
		if sd := sub(status, "startDateStruct"); sd != nil {
			if s := optString(sd, "date"); s != nil {
				t.StartDate = ParseDate(*s)
			}
		}
	} else {
		warn("status", "status module missing")
	}

	if sponsor := sub(m, "protocolSection", "sponsorCollaboratorsModule", "leadSponsor"); sponsor != nil {
		t.SponsorText = optString(sponsor, "name")
	} else {
		warn("sponsor_text", "lead sponsor missing")
	}

	if design := sub(m, "protocolSection", "designModule"); design != nil {
		t.Phase = pickPhase(design)
		if enroll := sub(design, "enrollmentInfo"); enroll != nil {
			if n, ok := enroll["count"].(float64); ok {
				v := int(n)
				t.SampleSize = &v
			}
		}
		if di := sub(design, "designInfo"); di != nil {
			t.AnalysisPlanText = analysisPlan(di)
		}
	} else {
		warn("design", "design module missing")
	}

	if outcomes := sub(m, "protocolSection", "outcomesModule"); outcomes != nil {
		t.PrimaryEndpointText = primaryEndpointText(outcomes)
	} else {
		warn("primary_endpoint_text", "outcomes module missing")
	}

	return t, warnings
}

// pickPhase returns the first Phase 2/3 entry, case-insensitive, else nil.
func pickPhase(design map[string]interface{}) *string {
	phases, _ := design["phases"].([]interface{})
	for _, p := range phases {
		ps, _ := p.(string)
		switch strings.ToUpper(ps) {
		case "PHASE2", "PHASE3", "PHASE2_PHASE3":
			v := strings.ToUpper(ps)
			return &v
		}
	}
	return nil
}

// primaryEndpointText joins primary outcomes as "measure (time_frame)" with
// "; ", omitting the parenthesized part when the time frame is absent.
func primaryEndpointText(outcomes map[string]interface{}) *string {
	primaries, _ := outcomes["primaryOutcomes"].([]interface{})
	var parts []string
	for _, po := range primaries {
		pom, ok := po.(map[string]interface{})
		if !ok {
			continue
		}
		measure, _ := pom["measure"].(string)
		if measure == "" {
			continue
		}
		timeFrame, _ := pom["timeFrame"].(string)
		if timeFrame != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", measure, timeFrame))
		} else {
			parts = append(parts, measure)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, "; ")
	return &joined
}

// analysisPlan concatenates the statistical design descriptors the change
// detector cares about (allocation, masking) into one comparable string.
func analysisPlan(designInfo map[string]interface{}) *string {
	var parts []string
	if alloc, _ := designInfo["allocation"].(string); alloc != "" {
		parts = append(parts, "allocation="+alloc)
	}
	if masking := sub(designInfo, "maskingInfo"); masking != nil {
		if m, _ := masking["masking"].(string); m != "" {
			parts = append(parts, "masking="+m)
		}
	}
	if model, _ := designInfo["interventionModel"].(string); model != "" {
		parts = append(parts, "model="+model)
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, "; ")
	return &joined
}

// ParseDate accepts YYYY-MM-DD or YYYY-MM (normalized to day 1). Any other
// form returns nil, never an error.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return &t
	}
	return nil
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

func optString(m map[string]interface{}, key string) *string {
	if s, ok := m[key].(string); ok && s != "" {
		return &s
	}
	return nil
}
