package gates

// PriorConfig builds the prior failure probability from trial metadata: a
// small explicit table of multiplicative adjustments around a global
// default, clamped by the global bounds.
type PriorConfig struct {
	Default     float64 `yaml:"default"`
	Pivotal     float64 `yaml:"pivotal"`
	Oncology    float64 `yaml:"oncology"`
	RareDisease float64 `yaml:"rare_disease"`
	Phase3      float64 `yaml:"phase3"`
	Phase1      float64 `yaml:"phase1"`
}

// DefaultPriorConfig returns the reference adjustment table.
func DefaultPriorConfig() PriorConfig {
	return PriorConfig{
		Default:     0.15,
		Pivotal:     1.2,
		Oncology:    1.1,
		RareDisease: 0.9,
		Phase3:      1.1,
		Phase1:      0.8,
	}
}

// TrialTraits are the metadata bits the prior table keys on.
type TrialTraits struct {
	Pivotal     bool
	Oncology    bool
	RareDisease bool
	Phase       string // PHASE1, PHASE2, PHASE3, PHASE2_PHASE3
}

// BuildPrior multiplies the applicable adjustments into the default prior
// and clamps it into [prior_floor, prior_ceil].
func BuildPrior(cfg PriorConfig, bounds GlobalBounds, traits TrialTraits) (raw, clamped float64) {
	p := cfg.Default
	if traits.Pivotal {
		p *= cfg.Pivotal
	}
	if traits.Oncology {
		p *= cfg.Oncology
	}
	if traits.RareDisease {
		p *= cfg.RareDisease
	}
	switch traits.Phase {
	case "PHASE3":
		p *= cfg.Phase3
	case "PHASE1":
		p *= cfg.Phase1
	}
	return p, clamp(p, bounds.PriorFloor, bounds.PriorCeil)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
