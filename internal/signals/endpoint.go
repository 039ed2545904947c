package signals

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/trialgate/trialgate/internal/persistence"
)

// lateWindowDays: an endpoint change is "late" when the newer version was
// captured within this many days of its estimated primary completion date.
const lateWindowDays = 180

// EndpointConcept is the normalized reading of primary-endpoint text.
type EndpointConcept struct {
	Class       string // OS, PFS, ORR, other
	Timepoint   string
	Inferiority string // ni, si, unknown
	Blinding    string // blinded, open, unknown
}

var timepointRe = regexp.MustCompile(`(?i)\b(?:at\s+)?(week|month|day|year)s?\s+(\d+)\b`)

// ParseEndpointConcept normalizes endpoint text into a comparable concept.
func ParseEndpointConcept(text string) EndpointConcept {
	lower := strings.ToLower(text)
	c := EndpointConcept{Class: "other", Inferiority: "unknown", Blinding: "unknown"}

	switch {
	case strings.Contains(lower, "overall survival") || regexp.MustCompile(`\bos\b`).MatchString(lower):
		c.Class = "OS"
	case strings.Contains(lower, "progression-free") || strings.Contains(lower, "progression free") || regexp.MustCompile(`\bpfs\b`).MatchString(lower):
		c.Class = "PFS"
	case strings.Contains(lower, "objective response") || strings.Contains(lower, "overall response") || regexp.MustCompile(`\borr\b`).MatchString(lower):
		c.Class = "ORR"
	}

	if m := timepointRe.FindStringSubmatch(lower); m != nil {
		c.Timepoint = m[1] + " " + m[2]
	}

	switch {
	case strings.Contains(lower, "non-inferior") || strings.Contains(lower, "noninferior"):
		c.Inferiority = "ni"
	case strings.Contains(lower, "superior"):
		c.Inferiority = "si"
	}

	switch {
	case strings.Contains(lower, "open-label") || strings.Contains(lower, "open label") || strings.Contains(lower, "unblinded"):
		c.Blinding = "open"
	case strings.Contains(lower, "blind"):
		c.Blinding = "blinded"
	}

	return c
}

// EvalEndpointChanged is S1: fires HIGH when an adjacent version pair shows
// a material endpoint-concept change captured late in the trial.
func EvalEndpointChanged(versions []persistence.TrialVersion) Result {
	if len(versions) < 2 {
		return notFired(S1EndpointChanged, "fewer than two versions")
	}

	for i := 1; i < len(versions); i++ {
		prev, cur := versions[i-1], versions[i]
		if prev.PrimaryEndpointText == nil || cur.PrimaryEndpointText == nil {
			continue
		}
		oldC := ParseEndpointConcept(*prev.PrimaryEndpointText)
		newC := ParseEndpointConcept(*cur.PrimaryEndpointText)
		if oldC == newC {
			continue
		}

		late := false
		if cur.EstPrimaryCompletion != nil {
			days := cur.EstPrimaryCompletion.Sub(cur.CapturedAt).Hours() / 24
			late = days <= lateWindowDays
		}
		if !late {
			continue
		}

		return Result{
			ID:       S1EndpointChanged,
			Fired:    true,
			Severity: SeverityHigh,
			Reason: fmt.Sprintf("primary endpoint concept changed (%s -> %s) within %d days of estimated completion",
				oldC.Class, newC.Class, lateWindowDays),
			EvidenceIDs: []string{
				fmt.Sprintf("trial_version:%d", prev.ID),
				fmt.Sprintf("trial_version:%d", cur.ID),
			},
			Metadata: map[string]interface{}{
				"old_concept": oldC,
				"new_concept": newC,
			},
		}
	}
	return notFired(S1EndpointChanged, "no material late endpoint change")
}
