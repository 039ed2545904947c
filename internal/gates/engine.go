package gates

import (
	"fmt"
	"math"
	"sort"

	"github.com/trialgate/trialgate/internal/signals"
)

// Gate identifiers.
const (
	GateAlphaMeltdown  = "G1"
	GateAnalysisGaming = "G2"
	GatePlausibility   = "G3"
	GatePHacking       = "G4"
)

// Stop rule identifiers. The sub-flags they reference (S1_post_LPR,
// S4_gt20_missing, S8_subj_unblinded) are opaque keys in the present-signal
// set; their producers live upstream.
const (
	StopEndpointSwitchedAfterLPR = "endpoint_switched_after_LPR"
	StopPPOnlyMissingITT         = "pp_only_success_with_missing_itt_gt20"
	StopUnblindedSubjective      = "unblinded_subjective_primary_feasible_blinding"

	FlagS1PostLPR       = "S1_post_LPR"
	FlagS4Gt20Missing   = "S4_gt20_missing"
	FlagS8SubjUnblinded = "S8_subj_unblinded"
)

// SignalSet is the set of present signals plus opaque sub-flag keys, each
// carrying the evaluation that produced it (sub-flags map to empty results).
type SignalSet map[string]signals.Result

// Has reports presence of a signal or sub-flag key.
func (s SignalSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// GateEval is the single gate-evaluation result shape.
type GateEval struct {
	GateID             string   `json:"gate_id"`
	Fired              bool     `json:"fired"`
	SupportingS        []string `json:"supporting_s"`
	SupportingEvidence []string `json:"supporting_evidence"`
	LRUsed             float64  `json:"lr_used"`
	Rationale          string   `json:"rationale"`
}

// StopRuleHit records one triggered stop rule.
type StopRuleHit struct {
	RuleID        string  `json:"rule_id"`
	Level         float64 `json:"level"`
	EvidenceCount int     `json:"evidence_count"`
}

// Audit is the full trail attached to every score result.
type Audit struct {
	ConfigRevision string        `json:"config_revision"`
	Bounds         GlobalBounds  `json:"bounds"`
	PriorRaw       float64       `json:"prior_raw"`
	PriorClamped   float64       `json:"prior_clamped"`
	Gates          []GateEval    `json:"gates"`
	SumLogLR       float64       `json:"sum_log_lr"`
	LogitPrior     float64       `json:"logit_prior"`
	LogitPost      float64       `json:"logit_post"`
	PFail          float64       `json:"p_fail"`
	StopRuleHits   []StopRuleHit `json:"stop_rule_hits"`
}

// Score is the posterior with its audit.
type Score struct {
	Prior      float64
	LogitPrior float64
	SumLogLR   float64
	LogitPost  float64
	PFail      float64
	Audit      Audit
}

// gateDef is a gate's supporting-signal conjunction: all of Required plus
// at least one of AnyOf.
type gateDef struct {
	id       string
	required []string
	anyOf    []string
}

var gateDefs = []gateDef{
	{id: GateAlphaMeltdown, required: []string{signals.S1EndpointChanged, signals.S2Underpowered}},
	{id: GateAnalysisGaming, required: []string{signals.S3SubgroupOnly, signals.S4ITTvsPP}},
	{id: GatePlausibility, required: []string{signals.S5ImplausibleEffect}, anyOf: []string{signals.S7SingleArmPivotal, signals.S6InterimLooks}},
	{id: GatePHacking, required: []string{signals.S8PValueCusp}, anyOf: []string{signals.S1EndpointChanged, signals.S3SubgroupOnly}},
}

// Engine evaluates gates and composes the posterior.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine over a validated configuration.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// EvaluateGates applies every gate definition to the present-signal set.
// When a gate fires with supporting evidences of different severities, the
// maximum severity-indexed LR is used.
func (e *Engine) EvaluateGates(present SignalSet) []GateEval {
	evals := make([]GateEval, 0, len(gateDefs))
	for _, def := range gateDefs {
		eval := GateEval{GateID: def.id}

		supporting := make([]string, 0, len(def.required)+1)
		ok := true
		for _, id := range def.required {
			if !present.Has(id) {
				ok = false
				break
			}
			supporting = append(supporting, id)
		}
		if ok && len(def.anyOf) > 0 {
			found := false
			for _, id := range def.anyOf {
				if present.Has(id) {
					supporting = append(supporting, id)
					found = true
					break
				}
			}
			ok = found
		}

		if ok {
			eval.Fired = true
			eval.SupportingS = supporting
			eval.LRUsed = e.gateLR(def.id, supporting, present)
			for _, id := range supporting {
				eval.SupportingEvidence = append(eval.SupportingEvidence, present[id].EvidenceIDs...)
			}
			eval.Rationale = fmt.Sprintf("signals %v present, lr=%.2f", supporting, eval.LRUsed)
		} else {
			eval.Rationale = "supporting signal conjunction not satisfied"
		}
		evals = append(evals, eval)
	}
	return evals
}

// gateLR picks the LR: the maximum severity-indexed override across the
// supporting signals, falling back to the gate baseline, clamped into
// [lr_min, lr_max].
func (e *Engine) gateLR(gateID string, supporting []string, present SignalSet) float64 {
	gcfg, ok := e.cfg.Gates[gateID]
	if !ok {
		return e.cfg.Global.LRMin
	}
	lr := gcfg.LR
	if len(gcfg.BySeverity) > 0 {
		best := 0.0
		for _, id := range supporting {
			if override, ok := gcfg.BySeverity[present[id].Severity]; ok && override > best {
				best = override
			}
		}
		if best > 0 {
			lr = best
		}
	}
	return clamp(lr, e.cfg.Global.LRMin, e.cfg.Global.LRMax)
}

// ComputePosterior runs the clamped logit-space combination and then
// applies stop rules, which may only raise the posterior.
func (e *Engine) ComputePosterior(priorRaw float64, evals []GateEval, present SignalSet) Score {
	b := e.cfg.Global

	prior := clamp(priorRaw, b.PriorFloor, b.PriorCeil)
	logitPrior := math.Log(prior / (1 - prior))

	sumLogLR := 0.0
	for _, eval := range evals {
		if !eval.Fired {
			continue
		}
		sumLogLR += math.Log(clamp(eval.LRUsed, b.LRMin, b.LRMax))
	}

	logitPost := clamp(logitPrior+sumLogLR, b.LogitMin, b.LogitMax)
	pFail := 1.0 / (1.0 + math.Exp(-logitPost))

	hits := e.stopRuleHits(present)
	for _, hit := range hits {
		if hit.Level > pFail {
			pFail = hit.Level
		}
	}

	return Score{
		Prior:      prior,
		LogitPrior: logitPrior,
		SumLogLR:   sumLogLR,
		LogitPost:  logitPost,
		PFail:      pFail,
		Audit: Audit{
			ConfigRevision: e.cfg.Revision,
			Bounds:         b,
			PriorRaw:       priorRaw,
			PriorClamped:   prior,
			Gates:          evals,
			SumLogLR:       sumLogLR,
			LogitPrior:     logitPrior,
			LogitPost:      logitPost,
			PFail:          pFail,
			StopRuleHits:   hits,
		},
	}
}

// stopRuleHits matches the hard failure patterns against the present set.
func (e *Engine) stopRuleHits(present SignalSet) []StopRuleHit {
	var hits []StopRuleHit
	add := func(ruleID string, evidence int) {
		if cfg, ok := e.cfg.StopRules[ruleID]; ok {
			hits = append(hits, StopRuleHit{RuleID: ruleID, Level: cfg.Level, EvidenceCount: evidence})
		}
	}

	if present.Has(signals.S1EndpointChanged) && present.Has(FlagS1PostLPR) {
		add(StopEndpointSwitchedAfterLPR, len(present[signals.S1EndpointChanged].EvidenceIDs))
	}
	if present.Has(signals.S4ITTvsPP) && present.Has(FlagS4Gt20Missing) {
		add(StopPPOnlyMissingITT, len(present[signals.S4ITTvsPP].EvidenceIDs))
	}
	if present.Has(FlagS8SubjUnblinded) {
		add(StopUnblindedSubjective, len(present[FlagS8SubjUnblinded].EvidenceIDs))
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].RuleID < hits[j].RuleID })
	return hits
}

// BuildSignalSet folds fired signal results and opaque sub-flags into one
// present-signal set.
func BuildSignalSet(results []signals.Result, subFlags []string) SignalSet {
	set := make(SignalSet, len(results)+len(subFlags))
	for _, r := range results {
		if r.Fired {
			set[r.ID] = r
		}
	}
	for _, flag := range subFlags {
		if _, exists := set[flag]; !exists {
			set[flag] = signals.Result{ID: flag, Fired: true, Reason: "sub-flag"}
		}
	}
	return set
}
