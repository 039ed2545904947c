package resolver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/persistence"
)

// Suggestion is the structured answer from the LLM collaborator.
type Suggestion struct {
	CompanyID  *int64  `json:"company_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// LLMClient is the optional collaborator that resolves hard sponsors.
// Implementations live outside the core.
type LLMClient interface {
	SuggestSponsor(ctx context.Context, prompt string) (*Suggestion, string, error)
}

// LLMAssist invokes the LLM when the probabilistic pass produced no
// candidate at or above review_low. Every attempt is logged with its prompt
// and response regardless of outcome; the log write runs on an independent
// connection so a rolled-back resolution keeps its audit row.
type LLMAssist struct {
	client    LLMClient
	decisions persistence.ResolverRepo
}

// NewLLMAssist creates the assist wrapper; client may be nil (disabled).
func NewLLMAssist(client LLMClient, decisions persistence.ResolverRepo) *LLMAssist {
	return &LLMAssist{client: client, decisions: decisions}
}

// Enabled reports whether an LLM collaborator is configured.
func (a *LLMAssist) Enabled() bool { return a != nil && a.client != nil }

// Suggest asks the LLM for a sponsor match and feeds the answer back as a
// review item with decided_by=llm semantics (the human queue still owns the
// final accept).
func (a *LLMAssist) Suggest(ctx context.Context, runID, nctID, sponsorText, trialSnippet string) (*persistence.ResolverReviewItem, error) {
	if !a.Enabled() {
		return nil, nil
	}

	prompt := fmt.Sprintf(
		"Sponsor string: %q\nTrial: %s\nIdentify the canonical company, or answer null if the sponsor is academic or unknown.",
		sponsorText, trialSnippet)

	suggestion, response, err := a.client.SuggestSponsor(ctx, prompt)

	logRow := &persistence.ResolverLLMLog{
		NCTID:    nctID,
		Success:  err == nil,
		Prompt:   prompt,
		Response: response,
	}
	if logErr := a.decisions.InsertLLMLog(ctx, logRow); logErr != nil {
		log.Error().Err(logErr).Str("nct_id", nctID).Msg("failed to persist llm log")
	}
	if err != nil {
		return nil, fmt.Errorf("llm sponsor suggestion failed: %w", err)
	}
	if suggestion == nil || suggestion.CompanyID == nil {
		return nil, nil
	}

	item := &persistence.ResolverReviewItem{
		ID:          uuid.NewString(),
		RunID:       runID,
		NCTID:       nctID,
		SponsorText: sponsorText,
		Candidates: []persistence.ResolverCandidate{{
			CompanyID:   *suggestion.CompanyID,
			Probability: suggestion.Confidence,
			Features:    map[string]float64{"llm_confidence": suggestion.Confidence},
		}},
		Status: "pending",
	}
	if err := a.decisions.InsertReviewItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
