package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/trialgate/trialgate/internal/persistence"
)

// companiesRepo implements persistence.CompaniesRepo on PostgreSQL.
// Candidate retrieval uses pg_trgm similarity() on the normalized name.
type companiesRepo struct {
	db      sqlx.ExtContext
	timeout time.Duration
}

// NewCompaniesRepo creates a PostgreSQL companies repository.
func NewCompaniesRepo(db sqlx.ExtContext) persistence.CompaniesRepo {
	return &companiesRepo{db: db, timeout: DefaultTimeout}
}

type companyRow struct {
	ID       int64          `db:"id"`
	Name     string         `db:"name"`
	Ticker   *string        `db:"ticker"`
	Exchange *string        `db:"exchange"`
	Domains  pq.StringArray `db:"domains"`
	Aliases  pq.StringArray `db:"aliases"`
	Acronyms pq.StringArray `db:"acronyms"`
}

func (row companyRow) toCompany() persistence.Company {
	return persistence.Company{
		ID:       row.ID,
		Name:     row.Name,
		Ticker:   row.Ticker,
		Exchange: row.Exchange,
		Domains:  []string(row.Domains),
		Aliases:  []string(row.Aliases),
		Acronyms: []string(row.Acronyms),
	}
}

func (r *companiesRepo) GetByID(ctx context.Context, id int64) (*persistence.Company, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row companyRow
	err := sqlx.GetContext(ctx, r.db, &row, `
		SELECT c.id, c.name, c.ticker, c.exchange,
		       COALESCE(c.domains, '{}') AS domains,
		       COALESCE(array_agg(DISTINCT a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}') AS aliases,
		       COALESCE(c.acronyms, '{}') AS acronyms
		FROM companies c
		LEFT JOIN company_aliases a ON a.company_id = c.id
		WHERE c.id = $1
		GROUP BY c.id`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %d: %w", id, err)
	}
	c := row.toCompany()
	return &c, nil
}

func (r *companiesRepo) SearchTrigram(ctx context.Context, needle string, k int) ([]persistence.CompanyMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type matchRow struct {
		companyRow
		Sim float64 `db:"sim"`
	}
	var rows []matchRow
	err := sqlx.SelectContext(ctx, r.db, &rows, `
		SELECT c.id, c.name, c.ticker, c.exchange,
		       COALESCE(c.domains, '{}') AS domains,
		       COALESCE(array_agg(DISTINCT a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}') AS aliases,
		       COALESCE(c.acronyms, '{}') AS acronyms,
		       similarity(c.name_norm, $1) AS sim
		FROM companies c
		LEFT JOIN company_aliases a ON a.company_id = c.id
		WHERE c.name_norm % $1
		GROUP BY c.id
		ORDER BY sim DESC
		LIMIT $2`, needle, k)
	if err != nil {
		return nil, fmt.Errorf("trigram search failed: %w", err)
	}

	out := make([]persistence.CompanyMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, persistence.CompanyMatch{
			Company:    row.toCompany(),
			Similarity: row.Sim,
		})
	}
	return out, nil
}

func (r *companiesRepo) ListIgnorePatterns(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var patterns []string
	err := sqlx.SelectContext(ctx, r.db, &patterns,
		`SELECT pattern FROM resolver_ignore_sponsor ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ignore patterns: %w", err)
	}
	return patterns, nil
}
