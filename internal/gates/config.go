package gates

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GlobalBounds clamp every step of the posterior computation.
type GlobalBounds struct {
	PriorFloor float64 `yaml:"prior_floor"`
	PriorCeil  float64 `yaml:"prior_ceil"`
	LRMin      float64 `yaml:"lr_min"`
	LRMax      float64 `yaml:"lr_max"`
	LogitMin   float64 `yaml:"logit_min"`
	LogitMax   float64 `yaml:"logit_max"`
}

// GateConfig is one gate's baseline likelihood ratio with optional
// severity-indexed overrides.
type GateConfig struct {
	LR         float64            `yaml:"lr"`
	BySeverity map[string]float64 `yaml:"by_severity,omitempty"`
}

// StopRuleConfig forces a minimum posterior when the rule's pattern is present.
type StopRuleConfig struct {
	Level float64 `yaml:"level"`
}

// Config is the engine configuration loaded from YAML.
type Config struct {
	Revision  string                    `yaml:"revision"`
	Global    GlobalBounds              `yaml:"global"`
	Gates     map[string]GateConfig     `yaml:"gates"`
	StopRules map[string]StopRuleConfig `yaml:"stop_rules"`
	Prior     PriorConfig               `yaml:"prior"`
}

// DefaultConfig returns the reference engine configuration.
func DefaultConfig() Config {
	return Config{
		Revision: "default",
		Global: GlobalBounds{
			PriorFloor: 0.02,
			PriorCeil:  0.60,
			LRMin:      0.25,
			LRMax:      16.0,
			LogitMin:   -6.0,
			LogitMax:   6.0,
		},
		Gates: map[string]GateConfig{
			GateAlphaMeltdown:  {LR: 6.0, BySeverity: map[string]float64{"H": 8.0, "M": 3.0}},
			GateAnalysisGaming: {LR: 5.0, BySeverity: map[string]float64{"H": 7.0, "M": 3.0}},
			GatePlausibility:   {LR: 4.0, BySeverity: map[string]float64{"H": 6.0, "M": 2.5}},
			GatePHacking:       {LR: 4.0, BySeverity: map[string]float64{"H": 6.0, "M": 2.5}},
		},
		StopRules: map[string]StopRuleConfig{
			StopEndpointSwitchedAfterLPR: {Level: 0.85},
			StopPPOnlyMissingITT:         {Level: 0.80},
			StopUnblindedSubjective:      {Level: 0.75},
		},
		Prior: DefaultPriorConfig(),
	}
}

// Load reads and validates a YAML engine configuration.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read gates config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse gates config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks bound ordering and stop-rule levels.
func (c Config) Validate() error {
	g := c.Global
	if g.PriorFloor <= 0 || g.PriorCeil >= 1 || g.PriorFloor >= g.PriorCeil {
		return fmt.Errorf("prior bounds [%.3f, %.3f] invalid", g.PriorFloor, g.PriorCeil)
	}
	if g.LRMin <= 0 || g.LRMin >= g.LRMax {
		return fmt.Errorf("lr bounds [%.3f, %.3f] invalid", g.LRMin, g.LRMax)
	}
	if g.LogitMin >= g.LogitMax {
		return fmt.Errorf("logit bounds [%.2f, %.2f] invalid", g.LogitMin, g.LogitMax)
	}
	for id, rule := range c.StopRules {
		if rule.Level < 0 || rule.Level > 1 {
			return fmt.Errorf("stop rule %s level %.2f out of [0,1]", id, rule.Level)
		}
	}
	for id, gate := range c.Gates {
		if gate.LR <= 0 {
			return fmt.Errorf("gate %s has non-positive lr", id)
		}
	}
	return nil
}
