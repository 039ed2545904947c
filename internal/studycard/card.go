package studycard

import (
	"encoding/json"
	"fmt"
)

// EvidenceSpan cites the originating document location of a claim.
type EvidenceSpan struct {
	Scheme    string `json:"scheme"` // "page_paragraph"
	Page      int    `json:"page"`
	Paragraph int    `json:"paragraph"`
}

// Metric is a numeric claim with its mandatory evidence spans.
type Metric struct {
	Value    float64        `json:"value"`
	Evidence []EvidenceSpan `json:"evidence"`
}

// Card is the structured extraction of a published document for one trial.
type Card struct {
	DocumentID int64  `json:"document_id"`
	NCTID      string `json:"nct_id"`
	IsPivotal  bool   `json:"is_pivotal"`

	PrimaryEndpointText string `json:"primary_endpoint_text"`
	EndpointSubjective  bool   `json:"endpoint_subjective"`
	Blinded             *bool  `json:"blinded,omitempty"`
	SingleArm           bool   `json:"single_arm"`
	ITTSelected         *bool  `json:"itt_selected,omitempty"`

	NTotal   *Metric `json:"n_total,omitempty"`
	NTreat   *Metric `json:"n_treat,omitempty"`
	NControl *Metric `json:"n_control,omitempty"`

	ControlRate *Metric `json:"control_rate,omitempty"` // p_c for proportion endpoints
	DeltaAbs    *Metric `json:"delta_abs,omitempty"`
	EffectSize  *Metric `json:"effect_size,omitempty"` // claimed effect, endpoint units
	HRAlt       *Metric `json:"hr_alt,omitempty"`
	Events      *Metric `json:"events,omitempty"`
	Alpha       *Metric `json:"alpha,omitempty"`
	TwoSided    bool    `json:"two_sided"`

	PrimaryP        *Metric `json:"primary_p,omitempty"` // ITT primary p-value
	PerProtP        *Metric `json:"per_protocol_p,omitempty"`
	PerProtPositive bool    `json:"per_protocol_positive"`

	DropoutTreat   *Metric `json:"dropout_treat,omitempty"`
	DropoutControl *Metric `json:"dropout_control,omitempty"`

	Subgroups []Subgroup `json:"subgroups,omitempty"`

	PlannedInterims   int  `json:"planned_interims"`
	ActualPeeks       int  `json:"actual_peeks"`
	AlphaSpendingPlan bool `json:"alpha_spending_plan"`
	AlphaReallocated  bool `json:"alpha_reallocated"`

	PFS           *SurvivalReadout `json:"pfs,omitempty"`
	OS            *SurvivalReadout `json:"os,omitempty"`
	CrossoverRate *Metric          `json:"crossover_rate,omitempty"`
}

// Subgroup is one reported subgroup analysis.
type Subgroup struct {
	Name                string  `json:"name"`
	P                   *Metric `json:"p,omitempty"`
	Adjusted            bool    `json:"adjusted"`
	PrespecInteraction  bool    `json:"prespec_interaction"`
	PromotedInNarrative bool    `json:"promoted_in_narrative"`
}

// SurvivalReadout is a time-to-event endpoint readout.
type SurvivalReadout struct {
	HR             *Metric `json:"hr,omitempty"`
	CIUpper        *Metric `json:"ci_upper,omitempty"`
	P              *Metric `json:"p,omitempty"`
	EventsFraction *Metric `json:"events_fraction,omitempty"`
}

// ValidationError reports a schema violation in an extracted card.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("study card validation failed on %s: %s", e.Field, e.Reason)
}

// PivotalGateError reports a pivotal card missing required fields; no score
// may be computed from such a card.
type PivotalGateError struct {
	Missing []string
}

func (e *PivotalGateError) Error() string {
	return fmt.Sprintf("pivotal study card missing required fields: %v", e.Missing)
}

// Parse decodes and validates an extracted card. Invalid JSON, schema
// violations, and numeric claims without evidence all reject the card.
func Parse(data []byte) (*Card, error) {
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, &ValidationError{Field: "card", Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	return &card, nil
}

// Validate enforces the schema: every numeric claim carries at least one
// page_paragraph evidence span, and confidence-bounded fields are in range.
func (c *Card) Validate() error {
	if c.NCTID == "" {
		return &ValidationError{Field: "nct_id", Reason: "required"}
	}
	for field, m := range c.metrics() {
		if m == nil {
			continue
		}
		if len(m.Evidence) == 0 {
			return &ValidationError{Field: field, Reason: "numeric claim without evidence span"}
		}
		for _, span := range m.Evidence {
			if span.Scheme != "page_paragraph" {
				return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown evidence scheme %q", span.Scheme)}
			}
			if span.Page < 1 || span.Paragraph < 0 {
				return &ValidationError{Field: field, Reason: "evidence span out of range"}
			}
		}
	}
	for _, sg := range c.Subgroups {
		if sg.P != nil && len(sg.P.Evidence) == 0 {
			return &ValidationError{Field: "subgroups." + sg.Name, Reason: "numeric claim without evidence span"}
		}
	}
	return nil
}

// CheckPivotalGate verifies the fields a pivotal card must carry before any
// score is computed: primary endpoint, total N, ITT analysis selection, and
// an effect size or a p-value.
func (c *Card) CheckPivotalGate() error {
	if !c.IsPivotal {
		return nil
	}
	var missing []string
	if c.PrimaryEndpointText == "" {
		missing = append(missing, "primary_endpoint_text")
	}
	if c.NTotal == nil {
		missing = append(missing, "n_total")
	}
	if c.ITTSelected == nil {
		missing = append(missing, "itt_selected")
	}
	if c.EffectSize == nil && c.PrimaryP == nil {
		missing = append(missing, "effect_size_or_p_value")
	}
	if len(missing) > 0 {
		return &PivotalGateError{Missing: missing}
	}
	return nil
}

func (c *Card) metrics() map[string]*Metric {
	out := map[string]*Metric{
		"n_total": c.NTotal, "n_treat": c.NTreat, "n_control": c.NControl,
		"control_rate": c.ControlRate, "delta_abs": c.DeltaAbs,
		"effect_size": c.EffectSize, "hr_alt": c.HRAlt, "events": c.Events,
		"alpha": c.Alpha, "primary_p": c.PrimaryP, "per_protocol_p": c.PerProtP,
		"dropout_treat": c.DropoutTreat, "dropout_control": c.DropoutControl,
		"crossover_rate": c.CrossoverRate,
	}
	if c.PFS != nil {
		out["pfs.hr"], out["pfs.ci_upper"], out["pfs.p"], out["pfs.events_fraction"] =
			c.PFS.HR, c.PFS.CIUpper, c.PFS.P, c.PFS.EventsFraction
	}
	if c.OS != nil {
		out["os.hr"], out["os.ci_upper"], out["os.p"], out["os.events_fraction"] =
			c.OS.HR, c.OS.CIUpper, c.OS.P, c.OS.EventsFraction
	}
	return out
}
