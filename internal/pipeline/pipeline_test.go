package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/catalyst"
	"github.com/trialgate/trialgate/internal/gates"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/resolver"
	"github.com/trialgate/trialgate/internal/signals"
	"github.com/trialgate/trialgate/internal/studycard"
)

type sponsorUpdate struct {
	trialID   int64
	companyID int64
}

type fakeTrials struct {
	trials     map[string]*persistence.Trial
	versions   map[int64][]persistence.TrialVersion
	unresolved []persistence.Trial
	listErr    error
	updates    []sponsorUpdate
}

func (f *fakeTrials) GetByNCTID(ctx context.Context, nctID string) (*persistence.Trial, error) {
	if t, ok := f.trials[nctID]; ok {
		return t, nil
	}
	return nil, persistence.ErrNotFound
}

func (f *fakeTrials) LatestVersion(ctx context.Context, trialID int64) (*persistence.TrialVersion, error) {
	vs := f.versions[trialID]
	if len(vs) == 0 {
		return nil, persistence.ErrNotFound
	}
	v := vs[len(vs)-1]
	return &v, nil
}

func (f *fakeTrials) ListVersions(ctx context.Context, trialID int64) ([]persistence.TrialVersion, error) {
	return f.versions[trialID], nil
}

func (f *fakeTrials) CreateTrial(ctx context.Context, t *persistence.Trial) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakeTrials) TouchLastSeen(ctx context.Context, trialID int64, seen time.Time) error {
	return nil
}

func (f *fakeTrials) UpdateSnapshot(ctx context.Context, trialID int64, t *persistence.Trial) error {
	for _, existing := range f.trials {
		if existing.ID == trialID {
			existing.Status = t.Status
			existing.Phase = t.Phase
			existing.SponsorText = t.SponsorText
			existing.LastSeenAt = t.LastSeenAt
		}
	}
	return nil
}

func (f *fakeTrials) UpdateSponsor(ctx context.Context, trialID int64, companyID int64) error {
	f.updates = append(f.updates, sponsorUpdate{trialID: trialID, companyID: companyID})
	return nil
}

func (f *fakeTrials) ListUnresolved(ctx context.Context, limit int) ([]persistence.Trial, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.unresolved, nil
}

func (f *fakeTrials) InsertVersion(ctx context.Context, v *persistence.TrialVersion) (int64, error) {
	return 0, errors.New("not used")
}

type fakeScores struct {
	scores  []*persistence.ScoreResult
	windows []*persistence.CatalystWindow
}

func (f *fakeScores) InsertScore(ctx context.Context, s *persistence.ScoreResult) error {
	f.scores = append(f.scores, s)
	return nil
}

func (f *fakeScores) UpsertCatalystWindow(ctx context.Context, w *persistence.CatalystWindow) error {
	f.windows = append(f.windows, w)
	return nil
}

func (f *fakeScores) GetCatalystWindow(ctx context.Context, trialID int64) (*persistence.CatalystWindow, error) {
	return nil, persistence.ErrNotFound
}

type fakeDecisions struct {
	decisions []persistence.ResolverDecision
	reviews   []persistence.ResolverReviewItem
	llmLogs   []persistence.ResolverLLMLog
}

func (f *fakeDecisions) InsertDecision(ctx context.Context, d *persistence.ResolverDecision) error {
	f.decisions = append(f.decisions, *d)
	return nil
}

func (f *fakeDecisions) InsertReviewItem(ctx context.Context, item *persistence.ResolverReviewItem) error {
	f.reviews = append(f.reviews, *item)
	return nil
}

func (f *fakeDecisions) ListPendingReviews(ctx context.Context, limit int) ([]persistence.ResolverReviewItem, error) {
	return f.reviews, nil
}

func (f *fakeDecisions) CountPendingReviews(ctx context.Context) (int, error) {
	return len(f.reviews), nil
}

func (f *fakeDecisions) GetReviewItem(ctx context.Context, id string) (*persistence.ResolverReviewItem, error) {
	return nil, persistence.ErrNotFound
}

func (f *fakeDecisions) MarkReviewResolved(ctx context.Context, id string) error { return nil }

func (f *fakeDecisions) InsertLabel(ctx context.Context, l *persistence.ResolverLabel) error {
	return nil
}

func (f *fakeDecisions) InsertLLMLog(ctx context.Context, l *persistence.ResolverLLMLog) error {
	f.llmLogs = append(f.llmLogs, *l)
	return nil
}

type fakeLLMClient struct {
	suggestion *resolver.Suggestion
	err        error
	prompts    []string
}

func (f *fakeLLMClient) SuggestSponsor(_ context.Context, prompt string) (*resolver.Suggestion, string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.suggestion, `{"company_id":7,"confidence":0.8}`, nil
}

func strPtr(s string) *string { return &s }

func ev(v float64) *studycard.Metric {
	return &studycard.Metric{
		Value:    v,
		Evidence: []studycard.EvidenceSpan{{Scheme: "page_paragraph", Page: 1, Paragraph: 1}},
	}
}

func cardJSON(t *testing.T, card studycard.Card) []byte {
	t.Helper()
	data, err := json.Marshal(card)
	require.NoError(t, err)
	return data
}

func TestResolveBatch_AcceptWritesThrough(t *testing.T) {
	trials := &fakeTrials{
		unresolved: []persistence.Trial{
			{ID: 1, NCTID: "NCT00000001", SponsorText: strPtr("Acme Therapeutics, Inc.")},
			{ID: 2, NCTID: "NCT00000002"},
			{ID: 3, NCTID: "NCT00000003", SponsorText: strPtr("Zzz Unknown Holdings")},
		},
	}
	dir := &resolver.MemoryDirectory{
		Companies: []persistence.Company{
			{ID: 1, Name: "Acme Therapeutics"},
		},
	}
	res := resolver.New(dir, &fakeDecisions{}, resolver.DefaultConfig())

	report, err := ResolveBatch(context.Background(), trials, res, nil, metrics.NewRegistry(), 100)
	require.NoError(t, err)

	assert.Contains(t, report.RunID, "resolver-")
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 0, report.Queued)
	assert.Equal(t, 1, report.Rejected)

	require.Len(t, trials.updates, 1)
	assert.Equal(t, sponsorUpdate{trialID: 1, companyID: 1}, trials.updates[0])
}

func TestResolveBatch_LLMEscalatesHardReject(t *testing.T) {
	trials := &fakeTrials{
		unresolved: []persistence.Trial{
			{ID: 5, NCTID: "NCT00000005", SponsorText: strPtr("Zzz Unknown Holdings"), BriefTitle: strPtr("A Study of ZU-500")},
		},
	}
	decisions := &fakeDecisions{}
	res := resolver.New(&resolver.MemoryDirectory{}, decisions, resolver.DefaultConfig())

	companyID := int64(7)
	client := &fakeLLMClient{suggestion: &resolver.Suggestion{CompanyID: &companyID, Confidence: 0.8}}
	assist := resolver.NewLLMAssist(client, decisions)

	m := metrics.NewRegistry()
	report, err := ResolveBatch(context.Background(), trials, res, assist, m, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Queued)
	assert.Equal(t, 0, report.Rejected)
	assert.Empty(t, trials.updates, "a suggestion is not an accept")

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "Zzz Unknown Holdings")
	assert.Contains(t, client.prompts[0], "A Study of ZU-500")

	require.Len(t, decisions.reviews, 1)
	item := decisions.reviews[0]
	assert.Equal(t, "NCT00000005", item.NCTID)
	require.Len(t, item.Candidates, 1)
	assert.Equal(t, int64(7), item.Candidates[0].CompanyID)
	assert.Equal(t, 0.8, item.Candidates[0].Features["llm_confidence"])

	require.Len(t, decisions.llmLogs, 1)
	assert.True(t, decisions.llmLogs[0].Success)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("ok")))
}

func TestResolveBatch_LLMFailureKeepsReject(t *testing.T) {
	trials := &fakeTrials{
		unresolved: []persistence.Trial{
			{ID: 6, NCTID: "NCT00000006", SponsorText: strPtr("Zzz Unknown Holdings")},
		},
	}
	decisions := &fakeDecisions{}
	res := resolver.New(&resolver.MemoryDirectory{}, decisions, resolver.DefaultConfig())
	assist := resolver.NewLLMAssist(&fakeLLMClient{err: errors.New("rate limited")}, decisions)

	m := metrics.NewRegistry()
	report, err := ResolveBatch(context.Background(), trials, res, assist, m, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 0, report.Queued)
	assert.Empty(t, decisions.reviews)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCalls.WithLabelValues("error")))
}

func TestResolveBatch_ListErrorPropagates(t *testing.T) {
	trials := &fakeTrials{listErr: errors.New("connection refused")}
	res := resolver.New(&resolver.MemoryDirectory{}, &fakeDecisions{}, resolver.DefaultConfig())

	_, err := ResolveBatch(context.Background(), trials, res, nil, metrics.NewRegistry(), 10)
	assert.Error(t, err)
}

func newTestScorer(trials *fakeTrials, scores *fakeScores) *Scorer {
	return NewScorer(trials, scores, gates.DefaultConfig(), map[string]signals.ClassMeta{}, metrics.NewRegistry())
}

func TestScorer_QuietCardScoresAtPrior(t *testing.T) {
	trials := &fakeTrials{
		trials: map[string]*persistence.Trial{
			"NCT00000010": {ID: 42, NCTID: "NCT00000010"},
		},
	}
	scores := &fakeScores{}
	s := newTestScorer(trials, scores)

	card := studycard.Card{
		NCTID:               "NCT00000010",
		PrimaryEndpointText: "overall survival",
	}
	out, err := s.Score(context.Background(), "score-test", ScoreInput{
		NCTID:    "NCT00000010",
		CardJSON: cardJSON(t, card),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), out.TrialID)
	for _, g := range out.Gates {
		assert.False(t, g.Fired, g.GateID)
	}
	assert.Zero(t, out.Score.SumLogLR)
	assert.InDelta(t, 0.15, out.Score.PFail, 1e-9)

	require.Len(t, scores.scores, 1)
	row := scores.scores[0]
	assert.Equal(t, int64(42), row.TrialID)
	assert.Equal(t, "score-test", row.RunID)
	assert.InDelta(t, 0.15, row.PFail, 1e-9)
	assert.NotEmpty(t, row.Audit)
}

func TestScorer_GateAndStopRuleRaisePosterior(t *testing.T) {
	trials := &fakeTrials{
		trials: map[string]*persistence.Trial{
			"NCT00000011": {ID: 7, NCTID: "NCT00000011"},
		},
	}
	scores := &fakeScores{}
	s := newTestScorer(trials, scores)

	// Null ITT primary with a promoted unadjusted subgroup (S3) and a
	// per-protocol-only success with 22% treatment-arm dropout (S4): G2
	// fires HIGH, then the PP-only stop rule floors p_fail at 0.80.
	card := studycard.Card{
		NCTID:               "NCT00000011",
		PrimaryEndpointText: "response rate",
		PrimaryP:            ev(0.20),
		PerProtP:            ev(0.01),
		PerProtPositive:     true,
		DropoutTreat:        ev(0.22),
		DropoutControl:      ev(0.05),
		Subgroups: []studycard.Subgroup{
			{Name: "biomarker high", P: ev(0.01), PromotedInNarrative: true},
		},
	}
	out, err := s.Score(context.Background(), "score-test", ScoreInput{
		NCTID:    "NCT00000011",
		CardJSON: cardJSON(t, card),
	})
	require.NoError(t, err)

	var g2Fired bool
	for _, g := range out.Gates {
		if g.GateID == "G2" {
			g2Fired = g.Fired
		} else {
			assert.False(t, g.Fired, g.GateID)
		}
	}
	assert.True(t, g2Fired)

	require.Len(t, out.Score.Audit.StopRuleHits, 1)
	assert.Equal(t, "pp_only_success_with_missing_itt_gt20", out.Score.Audit.StopRuleHits[0].RuleID)
	assert.InDelta(t, 0.80, out.Score.PFail, 1e-9)
	require.Len(t, scores.scores, 1)
}

func TestScorer_InvalidCardWritesNoScore(t *testing.T) {
	scores := &fakeScores{}
	s := newTestScorer(&fakeTrials{}, scores)

	card := studycard.Card{PrimaryEndpointText: "missing accession"}
	_, err := s.Score(context.Background(), "score-test", ScoreInput{
		NCTID:    "NCT00000012",
		CardJSON: cardJSON(t, card),
	})

	var verr *studycard.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "nct_id", verr.Field)
	assert.Empty(t, scores.scores)
}

func TestScorer_PivotalGateBlocksScoring(t *testing.T) {
	scores := &fakeScores{}
	s := newTestScorer(&fakeTrials{}, scores)

	card := studycard.Card{
		NCTID:     "NCT00000013",
		IsPivotal: true,
	}
	_, err := s.Score(context.Background(), "score-test", ScoreInput{
		NCTID:    "NCT00000013",
		CardJSON: cardJSON(t, card),
	})

	var gerr *studycard.PivotalGateError
	require.ErrorAs(t, err, &gerr)
	assert.NotEmpty(t, gerr.Missing)
	assert.Empty(t, scores.scores)
}

func TestWindower_TerminalCollapsesToSingleDay(t *testing.T) {
	trials := &fakeTrials{
		trials: map[string]*persistence.Trial{
			"NCT00000020": {ID: 5, NCTID: "NCT00000020", Status: strPtr("COMPLETED")},
		},
	}
	scores := &fakeScores{}
	w := NewWindower(trials, scores, nil, catalyst.SlipStats{})
	w.now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }

	window, err := w.Compute(context.Background(), "NCT00000020", nil)
	require.NoError(t, err)
	require.NotNil(t, window)

	assert.Equal(t, window.Start, window.End)
	assert.Equal(t, 1.0, window.Certainty)
	assert.Equal(t, []string{"terminal_event"}, window.Sources)

	require.Len(t, scores.windows, 1)
	assert.Equal(t, int64(5), scores.windows[0].TrialID)
	assert.Equal(t, window.Start, scores.windows[0].WindowStart)
}

func TestWindower_QuarterHintProducesWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	trials := &fakeTrials{
		trials: map[string]*persistence.Trial{
			"NCT00000021": {ID: 6, NCTID: "NCT00000021", Status: strPtr("RECRUITING")},
		},
	}
	scores := &fakeScores{}
	w := NewWindower(trials, scores, nil, catalyst.SlipStats{})
	w.now = func() time.Time { return now }

	window, err := w.Compute(context.Background(), "NCT00000021", []HintText{
		{Text: "Topline data expected in Q3 2026", URL: "https://example.com/pr", CapturedAt: now},
	})
	require.NoError(t, err)
	require.NotNil(t, window)

	assert.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), window.Start)
	assert.Equal(t, time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC), window.End)
	assert.InDelta(t, 0.60, window.Certainty, 1e-9)
	assert.Equal(t, []string{"quarter"}, window.Sources)
	require.Len(t, scores.windows, 1)
}

func TestWindower_NothingToInfer(t *testing.T) {
	trials := &fakeTrials{
		trials: map[string]*persistence.Trial{
			"NCT00000022": {ID: 8, NCTID: "NCT00000022", Status: strPtr("RECRUITING")},
		},
	}
	scores := &fakeScores{}
	w := NewWindower(trials, scores, nil, catalyst.SlipStats{})

	window, err := w.Compute(context.Background(), "NCT00000022", nil)
	require.NoError(t, err)
	assert.Nil(t, window)
	assert.Empty(t, scores.windows)
}
