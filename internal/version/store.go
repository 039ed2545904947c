package version

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/normalize"
	"github.com/trialgate/trialgate/internal/persistence"
)

// Store records trial versions append-only, with the content-hash equality
// check as the canonical idempotency guard.
type Store struct {
	trials persistence.TrialsRepo
	now    func() time.Time
}

// NewStore creates a version store over a trials repository.
func NewStore(trials persistence.TrialsRepo) *Store {
	return &Store{trials: trials, now: time.Now}
}

// UpsertResult reports what a single upsert did.
type UpsertResult struct {
	TrialID     int64
	VersionID   int64
	Created     bool // trial row created
	NewVersion  bool // version row written
	Changes     []persistence.Change
	ContentHash string
}

// UpsertTrialAndVersion is idempotent under retry: hash-equal re-runs only
// touch last_seen_at. A differing hash appends a new version carrying the
// change journal against the latest prior version.
func (s *Store) UpsertTrialAndVersion(ctx context.Context, t normalize.Trial, raw map[string]interface{}) (*UpsertResult, error) {
	if t.NCTID == "" {
		return nil, fmt.Errorf("trial record has no accession id")
	}

	hash, err := ContentHash(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to hash record for %s: %w", t.NCTID, err)
	}
	now := s.now()

	existing, err := s.trials.GetByNCTID(ctx, t.NCTID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		trialID, err := s.trials.CreateTrial(ctx, &persistence.Trial{
			NCTID:         t.NCTID,
			BriefTitle:    t.BriefTitle,
			OfficialTitle: t.OfficialTitle,
			SponsorText:   t.SponsorText,
			Phase:         t.Phase,
			Status:        t.Status,
			LastSeenAt:    now,
		})
		if err != nil {
			return nil, err
		}
		versionID, err := s.trials.InsertVersion(ctx, s.buildVersion(trialID, t, raw, hash, now, nil))
		if err != nil {
			return nil, err
		}
		log.Debug().Str("nct_id", t.NCTID).Str("hash", hash[:12]).Msg("initial trial version recorded")
		return &UpsertResult{TrialID: trialID, VersionID: versionID, Created: true, NewVersion: true, ContentHash: hash}, nil
	}

	latest, err := s.trials.LatestVersion(ctx, existing.ID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	if latest != nil && latest.ContentHash == hash {
		if err := s.trials.TouchLastSeen(ctx, existing.ID, now); err != nil {
			return nil, err
		}
		return &UpsertResult{TrialID: existing.ID, ContentHash: hash}, nil
	}

	var changes []persistence.Change
	if latest != nil {
		changes = Classify(latest.Raw, raw)
	}

	versionID, err := s.trials.InsertVersion(ctx, s.buildVersion(existing.ID, t, raw, hash, now, changes))
	if err != nil {
		return nil, err
	}
	// The trial row snapshot must track the latest version, otherwise
	// status- and phase-dependent paths keep reading first-ingest values.
	if err := s.trials.UpdateSnapshot(ctx, existing.ID, &persistence.Trial{
		BriefTitle:    t.BriefTitle,
		OfficialTitle: t.OfficialTitle,
		SponsorText:   t.SponsorText,
		Phase:         t.Phase,
		Status:        t.Status,
		LastSeenAt:    now,
	}); err != nil {
		return nil, err
	}

	log.Info().Str("nct_id", t.NCTID).Int("changes", len(changes)).Msg("new trial version recorded")
	return &UpsertResult{
		TrialID:     existing.ID,
		VersionID:   versionID,
		NewVersion:  true,
		Changes:     changes,
		ContentHash: hash,
	}, nil
}

func (s *Store) buildVersion(trialID int64, t normalize.Trial, raw map[string]interface{}, hash string, capturedAt time.Time, changes []persistence.Change) *persistence.TrialVersion {
	if changes == nil {
		changes = []persistence.Change{}
	}
	return &persistence.TrialVersion{
		TrialID:              trialID,
		CapturedAt:           capturedAt,
		ContentHash:          hash,
		Raw:                  raw,
		PrimaryEndpointText:  t.PrimaryEndpointText,
		SampleSize:           t.SampleSize,
		AnalysisPlanText:     t.AnalysisPlanText,
		EstPrimaryCompletion: t.EstPrimaryCompletion,
		Changes:              changes,
	}
}
