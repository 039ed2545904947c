package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trialgate/trialgate/internal/persistence"
)

// trialsRepo implements persistence.TrialsRepo on PostgreSQL. It accepts
// either the pool or an open transaction so the orchestrator can run the
// whole per-trial path inside one savepoint scope.
type trialsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewTrialsRepo creates a PostgreSQL trials repository.
func NewTrialsRepo(db sqlx.ExtContext) persistence.TrialsRepo {
	return &trialsRepo{db: db, timeout: DefaultTimeout}
}

func (r *trialsRepo) GetByNCTID(ctx context.Context, nctID string) (*persistence.Trial, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var t persistence.Trial
	err := sqlx.GetContext(ctx, r.db, &t, `
		SELECT id, nct_id, brief_title, official_title, sponsor_text,
		       company_id, phase, status, last_seen_at, created_at
		FROM trials WHERE nct_id = $1`, nctID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trial %s: %w", nctID, err)
	}
	return &t, nil
}

func (r *trialsRepo) CreateTrial(ctx context.Context, t *persistence.Trial) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO trials (nct_id, brief_title, official_title, sponsor_text, phase, status, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		t.NCTID, t.BriefTitle, t.OfficialTitle, t.SponsorText, t.Phase, t.Status, t.LastSeenAt).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trial %s: %w", t.NCTID, mapPQ(err))
	}
	return id, nil
}

func (r *trialsRepo) TouchLastSeen(ctx context.Context, trialID int64, seen time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE trials SET last_seen_at = $2 WHERE id = $1`, trialID, seen)
	if err != nil {
		return fmt.Errorf("failed to touch trial %d: %w", trialID, err)
	}
	return nil
}

func (r *trialsRepo) UpdateSnapshot(ctx context.Context, trialID int64, t *persistence.Trial) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE trials
		SET brief_title = $2, official_title = $3, sponsor_text = $4,
		    phase = $5, status = $6, last_seen_at = $7
		WHERE id = $1`,
		trialID, t.BriefTitle, t.OfficialTitle, t.SponsorText, t.Phase, t.Status, t.LastSeenAt)
	if err != nil {
		return fmt.Errorf("failed to refresh trial %d: %w", trialID, mapPQ(err))
	}
	return nil
}

func (r *trialsRepo) UpdateSponsor(ctx context.Context, trialID int64, companyID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE trials SET company_id = $2 WHERE id = $1`, trialID, companyID)
	if err != nil {
		return fmt.Errorf("failed to set sponsor on trial %d: %w", trialID, mapPQ(err))
	}
	return nil
}

func (r *trialsRepo) ListUnresolved(ctx context.Context, limit int) ([]persistence.Trial, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.Trial
	err := sqlx.SelectContext(ctx, r.db, &out, `
		SELECT id, nct_id, brief_title, official_title, sponsor_text,
		       company_id, phase, status, last_seen_at, created_at
		FROM trials
		WHERE company_id IS NULL AND sponsor_text <> ''
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved trials: %w", err)
	}
	return out, nil
}

func (r *trialsRepo) LatestVersion(ctx context.Context, trialID int64) (*persistence.TrialVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row versionRow
	err := sqlx.GetContext(ctx, r.db, &row, `
		SELECT id, trial_id, captured_at, content_hash, raw,
		       primary_endpoint_text, sample_size, analysis_plan_text,
		       est_primary_completion, changes
		FROM trial_versions
		WHERE trial_id = $1
		ORDER BY captured_at DESC
		LIMIT 1`, trialID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version for trial %d: %w", trialID, err)
	}
	return row.toVersion()
}

func (r *trialsRepo) ListVersions(ctx context.Context, trialID int64) ([]persistence.TrialVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []versionRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT id, trial_id, captured_at, content_hash, raw,
		       primary_endpoint_text, sample_size, analysis_plan_text,
		       est_primary_completion, changes
		FROM trial_versions
		WHERE trial_id = $1
		ORDER BY captured_at ASC`, trialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for trial %d: %w", trialID, err)
	}

	out := make([]persistence.TrialVersion, 0, len(rows))
	for _, row := range rows {
		v, err := row.toVersion()
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (r *trialsRepo) InsertVersion(ctx context.Context, v *persistence.TrialVersion) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rawJSON, err := json.Marshal(v.Raw)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal raw record: %w", err)
	}
	changesJSON, err := json.Marshal(v.Changes)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal changes: %w", err)
	}

	var id int64
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO trial_versions
			(trial_id, captured_at, content_hash, raw,
			 primary_endpoint_text, sample_size, analysis_plan_text,
			 est_primary_completion, changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		v.TrialID, v.CapturedAt, v.ContentHash, rawJSON,
		v.PrimaryEndpointText, v.SampleSize, v.AnalysisPlanText,
		v.EstPrimaryCompletion, changesJSON).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert version for trial %d: %w", v.TrialID, mapPQ(err))
	}
	return id, nil
}

// versionRow carries the JSONB columns as raw bytes for scanning.
type versionRow struct {
	ID                   int64      `db:"id"`
	TrialID              int64      `db:"trial_id"`
	CapturedAt           time.Time  `db:"captured_at"`
	ContentHash          string     `db:"content_hash"`
	Raw                  []byte     `db:"raw"`
	PrimaryEndpointText  *string    `db:"primary_endpoint_text"`
	SampleSize           *int       `db:"sample_size"`
	AnalysisPlanText     *string    `db:"analysis_plan_text"`
	EstPrimaryCompletion *time.Time `db:"est_primary_completion"`
	Changes              []byte     `db:"changes"`
}

func (row versionRow) toVersion() (*persistence.TrialVersion, error) {
	v := persistence.TrialVersion{
		ID:                   row.ID,
		TrialID:              row.TrialID,
		CapturedAt:           row.CapturedAt,
		ContentHash:          row.ContentHash,
		PrimaryEndpointText:  row.PrimaryEndpointText,
		SampleSize:           row.SampleSize,
		AnalysisPlanText:     row.AnalysisPlanText,
		EstPrimaryCompletion: row.EstPrimaryCompletion,
	}
	if len(row.Raw) > 0 {
		if err := json.Unmarshal(row.Raw, &v.Raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw for version %d: %w", row.ID, err)
		}
	}
	if len(row.Changes) > 0 {
		if err := json.Unmarshal(row.Changes, &v.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes for version %d: %w", row.ID, err)
		}
	}
	return &v, nil
}
