package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrIntegrity wraps database constraint and foreign-key violations so the
// orchestrator can roll back a single trial's savepoint and keep the batch alive.
var ErrIntegrity = errors.New("integrity violation")

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

// Trial is the registry-level record, mutated only on ingestion.
type Trial struct {
	ID            int64     `json:"id" db:"id"`
	NCTID         string    `json:"nct_id" db:"nct_id"`
	BriefTitle    *string   `json:"brief_title,omitempty" db:"brief_title"`
	OfficialTitle *string   `json:"official_title,omitempty" db:"official_title"`
	SponsorText   *string   `json:"sponsor_text,omitempty" db:"sponsor_text"`
	CompanyID     *int64    `json:"company_id,omitempty" db:"company_id"`
	Phase         *string   `json:"phase,omitempty" db:"phase"`
	Status        *string   `json:"status,omitempty" db:"status"`
	LastSeenAt    time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// TrialVersion is an append-only snapshot of a trial's raw registry record.
// A version row exists only if its content hash differs from the latest
// prior version for the same trial.
type TrialVersion struct {
	ID                   int64                  `json:"id" db:"id"`
	TrialID              int64                  `json:"trial_id" db:"trial_id"`
	CapturedAt           time.Time              `json:"captured_at" db:"captured_at"`
	ContentHash          string                 `json:"content_hash" db:"content_hash"`
	Raw                  map[string]interface{} `json:"raw" db:"raw"`
	PrimaryEndpointText  *string                `json:"primary_endpoint_text,omitempty" db:"primary_endpoint_text"`
	SampleSize           *int                   `json:"sample_size,omitempty" db:"sample_size"`
	AnalysisPlanText     *string                `json:"analysis_plan_text,omitempty" db:"analysis_plan_text"`
	EstPrimaryCompletion *time.Time             `json:"est_primary_completion,omitempty" db:"est_primary_completion"`
	Changes              []Change               `json:"changes" db:"changes"`
}

// Change describes a single field-level difference between two versions.
type Change struct {
	FieldPath    string      `json:"field_path"`
	Old          interface{} `json:"old"`
	New          interface{} `json:"new"`
	ChangeType   string      `json:"change_type"`  // ADDED, REMOVED, MODIFIED
	Significance string      `json:"significance"` // HIGH, MEDIUM, LOW
	Description  string      `json:"description"`
}

// Company is a canonical sponsor entity, read-only to the resolver.
type Company struct {
	ID       int64    `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	Ticker   *string  `json:"ticker,omitempty" db:"ticker"`
	Exchange *string  `json:"exchange,omitempty" db:"exchange"`
	Domains  []string `json:"domains" db:"domains"`
	Aliases  []string `json:"aliases" db:"aliases"`
	Acronyms []string `json:"acronyms" db:"acronyms"`
}

// Asset is a pharmaceutical asset; created lazily when a strongly-matched
// alias is first seen.
type Asset struct {
	ID        int64     `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AssetAlias is unique per (asset_id, alias_norm, alias_type).
type AssetAlias struct {
	ID        int64  `json:"id" db:"id"`
	AssetID   int64  `json:"asset_id" db:"asset_id"`
	AliasText string `json:"alias_text" db:"alias_text"`
	AliasNorm string `json:"alias_norm" db:"alias_norm"`
	AliasType string `json:"alias_type" db:"alias_type"` // code, inn, generic, brand, registry
	Source    string `json:"source" db:"source"`
}

// Document lifecycle states.
const (
	DocDiscovered = "discovered"
	DocFetched    = "fetched"
	DocParsed     = "parsed"
	DocIndexed    = "indexed"
	DocLinked     = "linked"
	DocReady      = "ready"
	DocBuilt      = "built"
	DocError      = "error"
)

// Document is a fetched artifact, unique on source URL.
type Document struct {
	ID          int64      `json:"id" db:"id"`
	SourceURL   string     `json:"source_url" db:"source_url"`
	ContentHash string     `json:"content_hash" db:"content_hash"`
	Publisher   *string    `json:"publisher,omitempty" db:"publisher"`
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
	StorageURI  *string    `json:"storage_uri,omitempty" db:"storage_uri"`
	Status      string     `json:"status" db:"status"`
	ErrorMsg    *string    `json:"error_msg,omitempty" db:"error_msg"`
	LastSeenAt  time.Time  `json:"last_seen_at" db:"last_seen_at"`
}

// DocumentEntity is a typed span detected inside a document.
type DocumentEntity struct {
	ID         int64   `json:"id" db:"id"`
	DocumentID int64   `json:"document_id" db:"document_id"`
	Page       int     `json:"page" db:"page"`
	CharStart  int     `json:"char_start" db:"char_start"`
	CharEnd    int     `json:"char_end" db:"char_end"`
	Detector   string  `json:"detector" db:"detector"`
	ValueNorm  string  `json:"value_norm" db:"value_norm"`
	Confidence float64 `json:"confidence" db:"confidence"`
}

// DocumentLink links a document to an asset (and optionally a trial).
type DocumentLink struct {
	ID         int64                  `json:"id" db:"id"`
	DocumentID int64                  `json:"document_id" db:"document_id"`
	AssetID    int64                  `json:"asset_id" db:"asset_id"`
	NCTID      *string                `json:"nct_id,omitempty" db:"nct_id"`
	LinkType   string                 `json:"link_type" db:"link_type"` // hp1..hp4
	Confidence float64                `json:"confidence" db:"confidence"`
	Evidence   map[string]interface{} `json:"evidence" db:"evidence"`
	Promoted   bool                   `json:"promoted" db:"promoted"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// LinkLabel is a human review verdict on a document link, used by the
// promotion gate to compute per-heuristic precision.
type LinkLabel struct {
	LinkID    int64     `json:"link_id" db:"link_id"`
	LinkType  string    `json:"link_type" db:"link_type"`
	IsCorrect bool      `json:"is_correct" db:"is_correct"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LinkAudit records every promotion decision.
type LinkAudit struct {
	ID            int64     `json:"id" db:"id"`
	LinkType      string    `json:"link_type" db:"link_type"`
	Promoted      bool      `json:"promoted" db:"promoted"`
	PrecisionSeen float64   `json:"precision_seen" db:"precision_seen"`
	LabeledCount  int       `json:"labeled_count" db:"labeled_count"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ResolverDecision is append-only per (run_id, nct_id).
type ResolverDecision struct {
	ID          int64                  `json:"id" db:"id"`
	RunID       string                 `json:"run_id" db:"run_id"`
	NCTID       string                 `json:"nct_id" db:"nct_id"`
	SponsorText string                 `json:"sponsor_text" db:"sponsor_text"`
	Mode        string                 `json:"mode" db:"mode"` // accept, review, reject
	CompanyID   *int64                 `json:"company_id,omitempty" db:"company_id"`
	Probability float64                `json:"probability" db:"probability"`
	Top2Margin  float64                `json:"top2_margin" db:"top2_margin"`
	Features    map[string]float64     `json:"features" db:"features"`
	LeaderMeta  map[string]interface{} `json:"leader_meta" db:"leader_meta"`
	DecidedBy   string                 `json:"decided_by" db:"decided_by"` // model, human, llm
	Notes       *string                `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// ResolverCandidate is one ranked company candidate, frozen into a review item.
type ResolverCandidate struct {
	CompanyID   int64              `json:"company_id"`
	CompanyName string             `json:"company_name"`
	Similarity  float64            `json:"similarity"`
	Features    map[string]float64 `json:"features"`
	Probability float64            `json:"probability"`
}

// ResolverReviewItem is a pending decision with its candidate list frozen
// at decision time.
type ResolverReviewItem struct {
	ID          string              `json:"id" db:"id"`
	RunID       string              `json:"run_id" db:"run_id"`
	NCTID       string              `json:"nct_id" db:"nct_id"`
	SponsorText string              `json:"sponsor_text" db:"sponsor_text"`
	Candidates  []ResolverCandidate `json:"candidates" db:"candidates"`
	Status      string              `json:"status" db:"status"` // pending, resolved
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
}

// ResolverLabel drives scorer calibration.
type ResolverLabel struct {
	NCTID           string `json:"nct_id" db:"nct_id"`
	SponsorTextNorm string `json:"sponsor_text_norm" db:"sponsor_text_norm"`
	CompanyID       int64  `json:"company_id" db:"company_id"`
	IsMatch         bool   `json:"is_match" db:"is_match"`
	Source          string `json:"source" db:"source"`
}

// ResolverLLMLog records every LLM resolution attempt, success or not.
// Written in an independent transaction so main-flow rollbacks never lose it.
type ResolverLLMLog struct {
	ID        int64     `json:"id" db:"id"`
	NCTID     string    `json:"nct_id" db:"nct_id"`
	Success   bool      `json:"success" db:"success"`
	Prompt    string    `json:"prompt" db:"prompt"`
	Response  string    `json:"response" db:"response"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CatalystWindow is recomputed, not append-only.
type CatalystWindow struct {
	TrialID     int64     `json:"trial_id" db:"trial_id"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	WindowEnd   time.Time `json:"window_end" db:"window_end"`
	Certainty   float64   `json:"certainty" db:"certainty"`
	Sources     []string  `json:"sources" db:"sources"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ScoreResult is append-only per (trial_id, run_id).
type ScoreResult struct {
	ID         int64                  `json:"id" db:"id"`
	TrialID    int64                  `json:"trial_id" db:"trial_id"`
	RunID      string                 `json:"run_id" db:"run_id"`
	Prior      float64                `json:"prior" db:"prior"`
	LogitPrior float64                `json:"logit_prior" db:"logit_prior"`
	SumLogLR   float64                `json:"sum_log_lr" db:"sum_log_lr"`
	LogitPost  float64                `json:"logit_post" db:"logit_post"`
	PFail      float64                `json:"p_fail" db:"p_fail"`
	Audit      map[string]interface{} `json:"audit" db:"audit"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// TrialsRepo owns trials and their append-only version history.
type TrialsRepo interface {
	// GetByNCTID returns the trial row; ErrNotFound if absent.
	GetByNCTID(ctx context.Context, nctID string) (*Trial, error)

	// LatestVersion returns the newest TrialVersion for a trial; ErrNotFound if none.
	LatestVersion(ctx context.Context, trialID int64) (*TrialVersion, error)

	// ListVersions returns all versions for a trial ordered by captured_at ascending.
	ListVersions(ctx context.Context, trialID int64) ([]TrialVersion, error)

	// CreateTrial inserts a new trial and returns its id.
	CreateTrial(ctx context.Context, t *Trial) (int64, error)

	// TouchLastSeen updates last_seen_at without writing a version.
	TouchLastSeen(ctx context.Context, trialID int64, seen time.Time) error

	// UpdateSnapshot refreshes the mutable registry-derived columns
	// (titles, sponsor text, phase, status) plus last_seen_at when a new
	// version is recorded. company_id is left alone.
	UpdateSnapshot(ctx context.Context, trialID int64, t *Trial) error

	// UpdateSponsor sets trial-level sponsor fields after resolution.
	UpdateSponsor(ctx context.Context, trialID int64, companyID int64) error

	// ListUnresolved returns trials with sponsor text but no resolved company,
	// oldest first.
	ListUnresolved(ctx context.Context, limit int) ([]Trial, error)

	// InsertVersion appends a new version row.
	InsertVersion(ctx context.Context, v *TrialVersion) (int64, error)
}

// CompaniesRepo is read-only candidate retrieval for the resolver.
type CompaniesRepo interface {
	// GetByID returns a single company.
	GetByID(ctx context.Context, id int64) (*Company, error)

	// SearchTrigram returns the top-k companies by pg_trgm similarity against
	// the normalized sponsor text, each with its similarity score.
	SearchTrigram(ctx context.Context, needle string, k int) ([]CompanyMatch, error)

	// ListIgnorePatterns returns the academic/government sponsor regex list.
	ListIgnorePatterns(ctx context.Context) ([]string, error)
}

// CompanyMatch pairs a company with its retrieval similarity.
type CompanyMatch struct {
	Company    Company
	Similarity float64
}

// ResolverRepo owns decisions, review queue, labels, and LLM logs.
type ResolverRepo interface {
	InsertDecision(ctx context.Context, d *ResolverDecision) error
	InsertReviewItem(ctx context.Context, item *ResolverReviewItem) error
	ListPendingReviews(ctx context.Context, limit int) ([]ResolverReviewItem, error)
	CountPendingReviews(ctx context.Context) (int, error)
	GetReviewItem(ctx context.Context, id string) (*ResolverReviewItem, error)
	MarkReviewResolved(ctx context.Context, id string) error
	InsertLabel(ctx context.Context, l *ResolverLabel) error
	// InsertLLMLog runs on its own connection, outside any enclosing transaction.
	InsertLLMLog(ctx context.Context, l *ResolverLLMLog) error
}

// DocsRepo owns documents, entities, links, labels, and the link audit.
type DocsRepo interface {
	// UpsertDocument inserts by source URL or, on conflict, bumps last_seen_at.
	// Returns the row and whether it was newly created.
	UpsertDocument(ctx context.Context, d *Document) (*Document, bool, error)
	SetDocumentStatus(ctx context.Context, docID int64, status string, errMsg *string) error
	InsertEntity(ctx context.Context, e *DocumentEntity) error
	InsertLink(ctx context.Context, l *DocumentLink) (int64, error)
	PromoteLink(ctx context.Context, linkID int64) error
	// LabelStats returns (correct, total) labeled counts for a heuristic.
	LabelStats(ctx context.Context, linkType string) (int, int, error)
	InsertLinkAudit(ctx context.Context, a *LinkAudit) error
}

// AssetsRepo owns assets and their aliases.
type AssetsRepo interface {
	// FindByAliasNorm returns the asset ids carrying a normalized alias.
	FindByAliasNorm(ctx context.Context, aliasNorm string) ([]AssetAlias, error)
	// EnsureAsset creates an asset lazily and attaches the alias; idempotent
	// on the (asset_id, alias_norm, alias_type) unique key.
	EnsureAsset(ctx context.Context, alias *AssetAlias) (int64, error)
}

// ScoresRepo owns score results and catalyst windows.
type ScoresRepo interface {
	InsertScore(ctx context.Context, s *ScoreResult) error
	UpsertCatalystWindow(ctx context.Context, w *CatalystWindow) error
	GetCatalystWindow(ctx context.Context, trialID int64) (*CatalystWindow, error)
}
