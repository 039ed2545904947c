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

// resolverRepo implements persistence.ResolverRepo. Decision and label
// writes ride the caller's transaction; LLM logs always go to the pool so
// a rolled-back resolution still leaves its audit row behind.
type resolverRepo struct {
	db      sqlx.ExtContext
	pool    *sqlx.DB
	timeout time.Duration
}

// NewResolverRepo creates a PostgreSQL resolver repository. pool may equal db
// when no enclosing transaction is in play.
func NewResolverRepo(db sqlx.ExtContext, pool *sqlx.DB) persistence.ResolverRepo {
	return &resolverRepo{db: db, pool: pool, timeout: DefaultTimeout}
}

func (r *resolverRepo) InsertDecision(ctx context.Context, d *persistence.ResolverDecision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	featJSON, err := json.Marshal(d.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	metaJSON, err := json.Marshal(d.LeaderMeta)
	if err != nil {
		return fmt.Errorf("failed to marshal leader meta: %w", err)
	}

	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO resolver_decisions
			(run_id, nct_id, sponsor_text, mode, company_id, probability,
			 top2_margin, features, leader_meta, decided_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		d.RunID, d.NCTID, d.SponsorText, d.Mode, d.CompanyID, d.Probability,
		d.Top2Margin, featJSON, metaJSON, d.DecidedBy, d.Notes).
		Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision for %s: %w", d.NCTID, mapPQ(err))
	}
	return nil
}

func (r *resolverRepo) InsertReviewItem(ctx context.Context, item *persistence.ResolverReviewItem) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	candJSON, err := json.Marshal(item.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO resolver_review_queue (id, run_id, nct_id, sponsor_text, candidates, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')`,
		item.ID, item.RunID, item.NCTID, item.SponsorText, candJSON)
	if err != nil {
		return fmt.Errorf("failed to insert review item for %s: %w", item.NCTID, mapPQ(err))
	}
	return nil
}

type reviewRow struct {
	ID          string    `db:"id"`
	RunID       string    `db:"run_id"`
	NCTID       string    `db:"nct_id"`
	SponsorText string    `db:"sponsor_text"`
	Candidates  []byte    `db:"candidates"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row reviewRow) toItem() (*persistence.ResolverReviewItem, error) {
	item := persistence.ResolverReviewItem{
		ID:          row.ID,
		RunID:       row.RunID,
		NCTID:       row.NCTID,
		SponsorText: row.SponsorText,
		Status:      row.Status,
		CreatedAt:   row.CreatedAt,
	}
	if len(row.Candidates) > 0 {
		if err := json.Unmarshal(row.Candidates, &item.Candidates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal candidates for %s: %w", row.ID, err)
		}
	}
	return &item, nil
}

func (r *resolverRepo) ListPendingReviews(ctx context.Context, limit int) ([]persistence.ResolverReviewItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []reviewRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT id, run_id, nct_id, sponsor_text, candidates, status, created_at
		FROM resolver_review_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reviews: %w", err)
	}

	out := make([]persistence.ResolverReviewItem, 0, len(rows))
	for _, row := range rows {
		item, err := row.toItem()
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, nil
}

func (r *resolverRepo) CountPendingReviews(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	err := sqlx.GetContext(ctx, r.db, &n,
		`SELECT count(*) FROM resolver_review_queue WHERE status = 'pending'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending reviews: %w", err)
	}
	return n, nil
}

func (r *resolverRepo) GetReviewItem(ctx context.Context, id string) (*persistence.ResolverReviewItem, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row reviewRow
	err := sqlx.GetContext(ctx, r.db, &row, `
		SELECT id, run_id, nct_id, sponsor_text, candidates, status, created_at
		FROM resolver_review_queue WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review item %s: %w", id, err)
	}
	return row.toItem()
}

func (r *resolverRepo) MarkReviewResolved(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE resolver_review_queue SET status = 'resolved' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve review item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *resolverRepo) InsertLabel(ctx context.Context, l *persistence.ResolverLabel) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resolver_labels (nct_id, sponsor_text_norm, company_id, is_match, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (nct_id, sponsor_text_norm, company_id) DO UPDATE
		SET is_match = EXCLUDED.is_match, source = EXCLUDED.source`,
		l.NCTID, l.SponsorTextNorm, l.CompanyID, l.IsMatch, l.Source)
	if err != nil {
		return fmt.Errorf("failed to insert label for %s: %w", l.NCTID, mapPQ(err))
	}
	return nil
}

func (r *resolverRepo) InsertLLMLog(ctx context.Context, l *persistence.ResolverLLMLog) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Deliberately bypasses the enclosing transaction.
	_, err := r.pool.ExecContext(ctx, `
		INSERT INTO resolver_llm_logs (nct_id, success, prompt, response)
		VALUES ($1, $2, $3, $4)`,
		l.NCTID, l.Success, l.Prompt, l.Response)
	if err != nil {
		return fmt.Errorf("failed to insert llm log for %s: %w", l.NCTID, err)
	}
	return nil
}
