package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/gates"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/signals"
	"github.com/trialgate/trialgate/internal/studycard"
)

// Scorer runs the full evaluation path for one trial: study card validation,
// the signal battery, gate evaluation, and the posterior.
type Scorer struct {
	trials  persistence.TrialsRepo
	scores  persistence.ScoresRepo
	engine  *gates.Engine
	cfg     gates.Config
	classes map[string]signals.ClassMeta
	metrics *metrics.Registry
}

// NewScorer builds a scorer over a validated gate configuration.
func NewScorer(trials persistence.TrialsRepo, scores persistence.ScoresRepo, cfg gates.Config, classes map[string]signals.ClassMeta, m *metrics.Registry) *Scorer {
	return &Scorer{
		trials:  trials,
		scores:  scores,
		engine:  gates.NewEngine(cfg),
		cfg:     cfg,
		classes: classes,
		metrics: m,
	}
}

// ScoreInput is everything one evaluation consumes beyond the trial's own
// version history.
type ScoreInput struct {
	NCTID          string
	CardJSON       []byte
	EndpointClass  string    // key into the class metadata table
	ProgramPValues []float64 // sponsor-wide reported primary p-values
}

// ScoreOutcome is the persisted evaluation.
type ScoreOutcome struct {
	TrialID int64
	RunID   string
	Signals []signals.Result
	Gates   []gates.GateEval
	Score   gates.Score
}

// Score evaluates one trial and appends a score row. The study card must
// validate and, when pivotal, clear the minimum-fields gate before any
// signal runs.
func (s *Scorer) Score(ctx context.Context, runID string, in ScoreInput) (*ScoreOutcome, error) {
	card, err := studycard.Parse(in.CardJSON)
	if err != nil {
		return nil, fmt.Errorf("study card for %s: %w", in.NCTID, err)
	}
	if err := card.Validate(); err != nil {
		return nil, fmt.Errorf("study card for %s: %w", in.NCTID, err)
	}
	if card.IsPivotal {
		if err := card.CheckPivotalGate(); err != nil {
			return nil, fmt.Errorf("study card for %s: %w", in.NCTID, err)
		}
	}

	trial, err := s.trials.GetByNCTID(ctx, in.NCTID)
	if err != nil {
		return nil, err
	}
	versions, err := s.trials.ListVersions(ctx, trial.ID)
	if err != nil {
		return nil, err
	}

	meta := s.classes[in.EndpointClass]
	results := []signals.Result{
		signals.EvalEndpointChanged(versions),
		signals.EvalUnderpowered(card, meta),
		signals.EvalSubgroupOnly(card),
		signals.EvalITTvsPP(card),
		signals.EvalImplausibleEffect(card, meta),
		signals.EvalInterimLooks(card),
		signals.EvalSingleArmPivotal(card, meta),
		signals.EvalPValueCusp(card, in.ProgramPValues),
		signals.EvalOSPFSContradiction(card),
	}
	for _, r := range results {
		if r.Fired {
			s.metrics.SignalsFired.WithLabelValues(r.ID, r.Severity).Inc()
		}
	}

	present := gates.BuildSignalSet(results, subFlags(card, results))
	evals := s.engine.EvaluateGates(present)
	for _, e := range evals {
		if e.Fired {
			s.metrics.GatesFired.WithLabelValues(e.GateID).Inc()
		}
	}

	priorRaw, _ := gates.BuildPrior(s.cfg.Prior, s.cfg.Global, traits(card, trial, versions))
	score := s.engine.ComputePosterior(priorRaw, evals, present)
	for _, hit := range score.Audit.StopRuleHits {
		s.metrics.StopRuleHits.WithLabelValues(hit.RuleID).Inc()
	}

	auditJSON, err := json.Marshal(score.Audit)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score audit: %w", err)
	}
	var auditMap map[string]interface{}
	if err := json.Unmarshal(auditJSON, &auditMap); err != nil {
		return nil, fmt.Errorf("failed to round-trip score audit: %w", err)
	}

	if err := s.scores.InsertScore(ctx, &persistence.ScoreResult{
		TrialID:    trial.ID,
		RunID:      runID,
		Prior:      score.Prior,
		LogitPrior: score.LogitPrior,
		SumLogLR:   score.SumLogLR,
		LogitPost:  score.LogitPost,
		PFail:      score.PFail,
		Audit:      auditMap,
	}); err != nil {
		return nil, err
	}
	s.metrics.ScoreRuns.Inc()
	s.metrics.PosteriorDist.Observe(score.PFail)

	log.Info().
		Str("nct_id", in.NCTID).
		Str("run_id", runID).
		Float64("p_fail", score.PFail).
		Int("gates_fired", countFired(evals)).
		Msg("trial scored")

	return &ScoreOutcome{
		TrialID: trial.ID,
		RunID:   runID,
		Signals: results,
		Gates:   evals,
		Score:   score,
	}, nil
}

// subFlags derives the opaque stop-rule sub-flags from the card and the
// signal results.
func subFlags(card *studycard.Card, results []signals.Result) []string {
	var flags []string

	for _, r := range results {
		if r.ID == signals.S1EndpointChanged && r.Fired {
			// An endpoint change emitted only for late version pairs is,
			// for stop-rule purposes, post last-patient-randomized.
			flags = append(flags, gates.FlagS1PostLPR)
		}
	}

	if gt20Missing(card) {
		flags = append(flags, gates.FlagS4Gt20Missing)
	}
	if card.EndpointSubjective && card.Blinded != nil && !*card.Blinded {
		flags = append(flags, gates.FlagS8SubjUnblinded)
	}
	return flags
}

func gt20Missing(card *studycard.Card) bool {
	for _, m := range []*studycard.Metric{card.DropoutTreat, card.DropoutControl} {
		if m != nil && m.Value > 0.20 {
			return true
		}
	}
	return false
}

var oncologyTerms = []string{"cancer", "carcinoma", "oncolog", "tumor", "tumour", "lymphoma", "leukemia", "melanoma", "myeloma", "sarcoma", "glioma"}

// traits derives the prior-table keys from the trial record and card.
func traits(card *studycard.Card, trial *persistence.Trial, versions []persistence.TrialVersion) gates.TrialTraits {
	t := gates.TrialTraits{Pivotal: card.IsPivotal}
	if trial.Phase != nil {
		t.Phase = *trial.Phase
	}

	if len(versions) > 0 {
		latest := versions[len(versions)-1]
		for _, cond := range conditionStrings(latest.Raw) {
			lc := strings.ToLower(cond)
			for _, term := range oncologyTerms {
				if strings.Contains(lc, term) {
					t.Oncology = true
				}
			}
			if strings.Contains(lc, "rare") || strings.Contains(lc, "orphan") {
				t.RareDisease = true
			}
		}
	}
	return t
}

func conditionStrings(raw map[string]interface{}) []string {
	proto, _ := raw["protocolSection"].(map[string]interface{})
	condMod, _ := proto["conditionsModule"].(map[string]interface{})
	items, _ := condMod["conditions"].([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func countFired(evals []gates.GateEval) int {
	n := 0
	for _, e := range evals {
		if e.Fired {
			n++
		}
	}
	return n
}
