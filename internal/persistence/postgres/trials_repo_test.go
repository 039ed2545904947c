package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/persistence"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func trialColumns() []string {
	return []string{"id", "nct_id", "brief_title", "official_title", "sponsor_text",
		"company_id", "phase", "status", "last_seen_at", "created_at"}
}

func TestGetByNCTID(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM trials WHERE nct_id = \$1`).
		WithArgs("NCT01234567").
		WillReturnRows(sqlmock.NewRows(trialColumns()).
			AddRow(42, "NCT01234567", "Acmeumab in Melanoma", nil, "Acme Therapeutics",
				nil, "PHASE3", "RECRUITING", now, now))

	repo := NewTrialsRepo(db)
	trial, err := repo.GetByNCTID(context.Background(), "NCT01234567")
	require.NoError(t, err)
	assert.Equal(t, int64(42), trial.ID)
	require.NotNil(t, trial.SponsorText)
	assert.Equal(t, "Acme Therapeutics", *trial.SponsorText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByNCTID_NotFound(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`SELECT .+ FROM trials WHERE nct_id = \$1`).
		WithArgs("NCT09999999").
		WillReturnRows(sqlmock.NewRows(trialColumns()))

	repo := NewTrialsRepo(db)
	_, err := repo.GetByNCTID(context.Background(), "NCT09999999")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestCreateTrial_UniqueViolationMapsToIntegrity(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`INSERT INTO trials`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	repo := NewTrialsRepo(db)
	_, err := repo.CreateTrial(context.Background(), &persistence.Trial{NCTID: "NCT01234567"})
	assert.ErrorIs(t, err, persistence.ErrIntegrity)
}

func TestCreateTrial_ReturnsID(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`INSERT INTO trials`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewTrialsRepo(db)
	id, err := repo.CreateTrial(context.Background(), &persistence.Trial{NCTID: "NCT01234567"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestUpdateSnapshot_RefreshesMutableColumns(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()
	status := "COMPLETED"
	phase := "PHASE3"
	mock.ExpectExec(`UPDATE trials\s+SET brief_title = \$2, official_title = \$3, sponsor_text = \$4,\s+phase = \$5, status = \$6, last_seen_at = \$7\s+WHERE id = \$1`).
		WithArgs(int64(42), nil, nil, nil, phase, status, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewTrialsRepo(db)
	err := repo.UpdateSnapshot(context.Background(), 42, &persistence.Trial{
		Phase:      &phase,
		Status:     &status,
		LastSeenAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnresolved(t *testing.T) {
	db, mock := mockDB(t)
	now := time.Now()
	mock.ExpectQuery(`WHERE company_id IS NULL AND sponsor_text <> ''`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(trialColumns()).
			AddRow(1, "NCT00000001", nil, nil, "Acme Therapeutics", nil, nil, nil, now, now))

	repo := NewTrialsRepo(db)
	trials, err := repo.ListUnresolved(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, "NCT00000001", trials[0].NCTID)
}

func TestInsertVersion_MarshalsJSONColumns(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`INSERT INTO trial_versions`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	repo := NewTrialsRepo(db)
	id, err := repo.InsertVersion(context.Background(), &persistence.TrialVersion{
		TrialID:     42,
		CapturedAt:  time.Now(),
		ContentHash: "abc123",
		Raw:         map[string]interface{}{"protocolSection": map[string]interface{}{}},
		Changes:     []persistence.Change{{FieldPath: "status", Significance: "HIGH"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
}

func TestLatestVersion_DecodesJSONB(t *testing.T) {
	db, mock := mockDB(t)
	cols := []string{"id", "trial_id", "captured_at", "content_hash", "raw",
		"primary_endpoint_text", "sample_size", "analysis_plan_text",
		"est_primary_completion", "changes"}
	mock.ExpectQuery(`FROM trial_versions`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			11, 42, time.Now(), "abc123",
			[]byte(`{"protocolSection":{}}`),
			"ORR (24 weeks)", 240, nil, nil,
			[]byte(`[{"field_path":"status","significance":"HIGH"}]`)))

	repo := NewTrialsRepo(db)
	v, err := repo.LatestVersion(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "abc123", v.ContentHash)
	assert.Contains(t, v.Raw, "protocolSection")
	require.Len(t, v.Changes, 1)
	assert.Equal(t, "status", v.Changes[0].FieldPath)
	require.NotNil(t, v.SampleSize)
	assert.Equal(t, 240, *v.SampleSize)
}

func TestLatestVersion_NoRows(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`FROM trial_versions`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewTrialsRepo(db)
	_, err := repo.LatestVersion(context.Background(), 42)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestWithSavepoint_RollsBackOnError(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "trial_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT "trial_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		spErr := WithSavepoint(context.Background(), tx, "trial_1", func(*sqlx.Tx) error {
			return boom
		})
		assert.ErrorIs(t, spErr, boom)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSavepoint_ReleasesOnSuccess(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT "trial_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT "trial_1"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := WithTx(context.Background(), db, func(tx *sqlx.Tx) error {
		return WithSavepoint(context.Background(), tx, "trial_1", func(*sqlx.Tx) error {
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := WithTx(context.Background(), db, func(*sqlx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapPQ(t *testing.T) {
	assert.NoError(t, mapPQ(nil))
	assert.ErrorIs(t, mapPQ(&pq.Error{Code: "23505"}), persistence.ErrIntegrity)
	assert.ErrorIs(t, mapPQ(&pq.Error{Code: "23503"}), persistence.ErrIntegrity)

	other := &pq.Error{Code: "57014"}
	assert.NotErrorIs(t, mapPQ(other), persistence.ErrIntegrity)
}
