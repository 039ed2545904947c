package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trialgate/trialgate/internal/persistence"
)

// scoresRepo implements persistence.ScoresRepo and persistence.AssetsRepo
// on PostgreSQL.
type scoresRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewScoresRepo creates a PostgreSQL scores repository.
func NewScoresRepo(db sqlx.ExtContext) persistence.ScoresRepo {
	return &scoresRepo{db: db, timeout: DefaultTimeout}
}

func (r *scoresRepo) InsertScore(ctx context.Context, s *persistence.ScoreResult) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	auditJSON, err := json.Marshal(s.Audit)
	if err != nil {
		return fmt.Errorf("failed to marshal score audit: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO score_results
			(trial_id, run_id, prior, logit_prior, sum_log_lr, logit_post, p_fail, audit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		s.TrialID, s.RunID, s.Prior, s.LogitPrior, s.SumLogLR, s.LogitPost, s.PFail, auditJSON).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert score for trial %d: %w", s.TrialID, mapPQ(err))
	}
	return nil
}

func (r *scoresRepo) UpsertCatalystWindow(ctx context.Context, w *persistence.CatalystWindow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO catalyst_windows (trial_id, window_start, window_end, certainty, sources, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (trial_id) DO UPDATE SET
			window_start = EXCLUDED.window_start,
			window_end   = EXCLUDED.window_end,
			certainty    = EXCLUDED.certainty,
			sources      = EXCLUDED.sources,
			updated_at   = now()`,
		w.TrialID, w.WindowStart, w.WindowEnd, w.Certainty, pq.StringArray(w.Sources))
	if err != nil {
		return fmt.Errorf("failed to upsert catalyst window for trial %d: %w", w.TrialID, mapPQ(err))
	}
	return nil
}

func (r *scoresRepo) GetCatalystWindow(ctx context.Context, trialID int64) (*persistence.CatalystWindow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var w persistence.CatalystWindow
	var sources pq.StringArray
	err := r.db.QueryRowxContext(ctx, `
		SELECT trial_id, window_start, window_end, certainty, sources, updated_at
		FROM catalyst_windows WHERE trial_id = $1`, trialID).
		Scan(&w.TrialID, &w.WindowStart, &w.WindowEnd, &w.Certainty, &sources, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get catalyst window for trial %d: %w", trialID, err)
	}
	w.Sources = []string(sources)
	return &w, nil
}

// assetsRepo implements persistence.AssetsRepo on PostgreSQL.
type assetsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewAssetsRepo creates a PostgreSQL assets repository.
func NewAssetsRepo(db sqlx.ExtContext) persistence.AssetsRepo {
	return &assetsRepo{db: db, timeout: DefaultTimeout}
}

func (r *assetsRepo) FindByAliasNorm(ctx context.Context, aliasNorm string) ([]persistence.AssetAlias, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.AssetAlias
	err := sqlx.SelectContext(ctx, r.db, &out, `
		SELECT id, asset_id, alias_text, alias_norm, alias_type, source
		FROM asset_aliases WHERE alias_norm = $1`, aliasNorm)
	if err != nil {
		return nil, fmt.Errorf("failed to find aliases for %q: %w", aliasNorm, err)
	}
	return out, nil
}

func (r *assetsRepo) EnsureAsset(ctx context.Context, alias *persistence.AssetAlias) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Reuse an existing asset that already carries this alias.
	existing, err := r.FindByAliasNorm(ctx, alias.AliasNorm)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return existing[0].AssetID, nil
	}

	var assetID int64
	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO assets DEFAULT VALUES RETURNING id`).Scan(&assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to create asset: %w", mapPQ(err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO asset_aliases (asset_id, alias_text, alias_norm, alias_type, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id, alias_norm, alias_type) DO NOTHING`,
		assetID, alias.AliasText, alias.AliasNorm, alias.AliasType, alias.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to attach alias to asset %d: %w", assetID, mapPQ(err))
	}
	return assetID, nil
}
