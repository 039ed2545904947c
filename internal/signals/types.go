package signals

// Severity levels for signal evaluations.
const (
	SeverityHigh   = "H"
	SeverityMedium = "M"
	SeverityLow    = "L"
)

// Signal identifiers.
const (
	S1EndpointChanged    = "S1"
	S2Underpowered       = "S2"
	S3SubgroupOnly       = "S3"
	S4ITTvsPP            = "S4"
	S5ImplausibleEffect  = "S5"
	S6InterimLooks       = "S6"
	S7SingleArmPivotal   = "S7"
	S8PValueCusp         = "S8"
	S9OSPFSContradiction = "S9"
)

// Result is the outcome of one primitive detector. Detectors are pure,
// deterministic, and side-effect-free.
type Result struct {
	ID            string                 `json:"id"`
	Fired         bool                   `json:"fired"`
	Severity      string                 `json:"severity,omitempty"`
	Value         *float64               `json:"value,omitempty"`
	Reason        string                 `json:"reason"`
	EvidenceIDs   []string               `json:"evidence_ids,omitempty"`
	LowCertInputs bool                   `json:"low_cert_inputs"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func notFired(id, reason string) Result {
	return Result{ID: id, Fired: false, Reason: reason}
}

// ClassMeta is therapeutic-class metadata supplied by the caller.
type ClassMeta struct {
	Graveyard        bool    `yaml:"graveyard" json:"graveyard"`
	WinnerEffectP75  float64 `yaml:"winner_effect_p75" json:"winner_effect_p75"`
	WinnerEffectP90  float64 `yaml:"winner_effect_p90" json:"winner_effect_p90"`
	DefaultMCID      float64 `yaml:"default_mcid" json:"default_mcid"` // e.g. 0.12 for oncology ORR
	RCTStandard      bool    `yaml:"rct_standard" json:"rct_standard"`
	FeasibleBlinding bool    `yaml:"feasible_blinding" json:"feasible_blinding"`
}
