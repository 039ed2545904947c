package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	applog "github.com/trialgate/trialgate/internal/log"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/normalize"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/persistence/postgres"
	"github.com/trialgate/trialgate/internal/registry"
	"github.com/trialgate/trialgate/internal/version"
)

// maxConsecutiveIntegrity aborts the batch when integrity failures stop
// looking like isolated rows and start looking systemic.
const maxConsecutiveIntegrity = 3

// IngestReport summarizes one ingest batch.
type IngestReport struct {
	Seen          int        `json:"seen"`
	Created       int        `json:"created"`
	NewVersions   int        `json:"new_versions"`
	Unchanged     int        `json:"unchanged"`
	IntegritySkip int        `json:"integrity_skip"`
	Cursor        *time.Time `json:"cursor,omitempty"`
}

// Ingestor pulls registry pages and persists trial versions.
type Ingestor struct {
	client   *registry.Client
	db       *sqlx.DB
	metrics  *metrics.Registry
	pageSize int
}

// NewIngestor wires the registry client to the database.
func NewIngestor(client *registry.Client, db *sqlx.DB, m *metrics.Registry, pageSize int) *Ingestor {
	return &Ingestor{client: client, db: db, metrics: m, pageSize: pageSize}
}

// Run walks every matching registry record updated since the cursor and
// persists it inside one transaction, one savepoint per trial. An integrity
// failure rolls back only that trial's savepoint; the batch carries on
// unless failures become consecutive. The returned cursor is the maximum
// last-update stamp seen, whether or not the record produced a version.
func (ing *Ingestor) Run(ctx context.Context, since *time.Time) (*IngestReport, error) {
	started := time.Now()
	report := &IngestReport{}
	progress := applog.NewProgress("ingest", 0)

	err := postgres.WithTx(ctx, ing.db, func(tx *sqlx.Tx) error {
		store := version.NewStore(postgres.NewTrialsRepo(tx))
		consecutiveIntegrity := 0
		seq := 0

		return ing.client.IterateStudies(ctx, registry.IterateOpts{Since: since, PageSize: ing.pageSize}, func(raw registry.RawStudy) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Seen++
			ing.metrics.TrialsIngested.Inc()

			if lu := raw.LastUpdatePostDate(); lu != nil {
				if report.Cursor == nil || lu.After(*report.Cursor) {
					report.Cursor = lu
				}
			}

			trial, warnings := normalize.Normalize(raw)
			for _, w := range warnings {
				log.Debug().Str("nct_id", trial.NCTID).Str("field", w.Field).Str("reason", w.Reason).Msg("normalizer warning")
			}

			seq++
			spErr := postgres.WithSavepoint(ctx, tx, fmt.Sprintf("trial_%d", seq), func(tx *sqlx.Tx) error {
				res, err := store.UpsertTrialAndVersion(ctx, trial, raw)
				if err != nil {
					return err
				}
				switch {
				case res.Created:
					report.Created++
					ing.metrics.VersionsWritten.WithLabelValues("initial").Inc()
				case res.NewVersion:
					report.NewVersions++
					ing.metrics.VersionsWritten.WithLabelValues("new").Inc()
				default:
					report.Unchanged++
					ing.metrics.IngestSkipped.WithLabelValues("unchanged").Inc()
				}
				return nil
			})
			if spErr != nil {
				if errors.Is(spErr, persistence.ErrIntegrity) {
					report.IntegritySkip++
					consecutiveIntegrity++
					ing.metrics.IngestSkipped.WithLabelValues("integrity").Inc()
					progress.Error()
					log.Warn().Str("nct_id", trial.NCTID).Err(spErr).Msg("integrity failure, trial skipped")
					if consecutiveIntegrity >= maxConsecutiveIntegrity {
						return fmt.Errorf("%d consecutive integrity failures, aborting batch: %w", consecutiveIntegrity, spErr)
					}
					return nil
				}
				return spErr
			}
			consecutiveIntegrity = 0
			progress.Increment()
			return nil
		})
	})
	progress.Done()
	ing.metrics.IngestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return report, err
	}

	log.Info().
		Int("seen", report.Seen).
		Int("created", report.Created).
		Int("new_versions", report.NewVersions).
		Int("unchanged", report.Unchanged).
		Int("integrity_skip", report.IntegritySkip).
		Msg("ingest batch complete")
	return report, nil
}
