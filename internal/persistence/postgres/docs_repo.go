package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trialgate/trialgate/internal/persistence"
)

// docsRepo implements persistence.DocsRepo on PostgreSQL.
type docsRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewDocsRepo creates a PostgreSQL documents repository.
func NewDocsRepo(db sqlx.ExtContext) persistence.DocsRepo {
	return &docsRepo{db: db, timeout: DefaultTimeout}
}

func (r *docsRepo) UpsertDocument(ctx context.Context, d *persistence.Document) (*persistence.Document, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Unique on source_url: duplicate URLs only bump last_seen_at.
	var out persistence.Document
	var inserted bool
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO documents (source_url, content_hash, publisher, published_at, storage_uri, status, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (source_url) DO UPDATE SET last_seen_at = now()
		RETURNING id, source_url, content_hash, publisher, published_at,
		          storage_uri, status, error_msg, last_seen_at,
		          (xmax = 0) AS inserted`,
		d.SourceURL, d.ContentHash, d.Publisher, d.PublishedAt, d.StorageURI, d.Status).
		Scan(&out.ID, &out.SourceURL, &out.ContentHash, &out.Publisher, &out.PublishedAt,
			&out.StorageURI, &out.Status, &out.ErrorMsg, &out.LastSeenAt, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert document %s: %w", d.SourceURL, mapPQ(err))
	}
	return &out, inserted, nil
}

func (r *docsRepo) SetDocumentStatus(ctx context.Context, docID int64, status string, errMsg *string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, error_msg = $3 WHERE id = $1`,
		docID, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to set status on document %d: %w", docID, err)
	}
	return nil
}

func (r *docsRepo) InsertEntity(ctx context.Context, e *persistence.DocumentEntity) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO document_entities (document_id, page, char_start, char_end, detector, value_norm, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.DocumentID, e.Page, e.CharStart, e.CharEnd, e.Detector, e.ValueNorm, e.Confidence)
	if err != nil {
		return fmt.Errorf("failed to insert entity for document %d: %w", e.DocumentID, mapPQ(err))
	}
	return nil
}

func (r *docsRepo) InsertLink(ctx context.Context, l *persistence.DocumentLink) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	evJSON, err := json.Marshal(l.Evidence)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal link evidence: %w", err)
	}

	var id int64
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO document_links (document_id, asset_id, nct_id, link_type, confidence, evidence, promoted)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id`,
		l.DocumentID, l.AssetID, l.NCTID, l.LinkType, l.Confidence, evJSON).
		Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert link for document %d: %w", l.DocumentID, mapPQ(err))
	}
	return id, nil
}

func (r *docsRepo) PromoteLink(ctx context.Context, linkID int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE document_links SET promoted = true WHERE id = $1`, linkID)
	if err != nil {
		return fmt.Errorf("failed to promote link %d: %w", linkID, err)
	}
	return nil
}

func (r *docsRepo) LabelStats(ctx context.Context, linkType string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var correct, total int
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE is_correct), COUNT(*)
		FROM link_labels WHERE link_type = $1`, linkType).
		Scan(&correct, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read label stats for %s: %w", linkType, err)
	}
	return correct, total, nil
}

func (r *docsRepo) InsertLinkAudit(ctx context.Context, a *persistence.LinkAudit) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO link_audit (link_type, promoted, precision_seen, labeled_count, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		a.LinkType, a.Promoted, a.PrecisionSeen, a.LabeledCount, a.Reason)
	if err != nil {
		return fmt.Errorf("failed to insert link audit: %w", err)
	}
	return nil
}
