package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/persistence"
)

func docColumns() []string {
	return []string{"id", "source_url", "content_hash", "publisher", "published_at",
		"storage_uri", "status", "error_msg", "last_seen_at", "inserted"}
}

func TestUpsertDocument_NewRow(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`INSERT INTO documents .+ ON CONFLICT \(source_url\)`).
		WillReturnRows(sqlmock.NewRows(docColumns()).
			AddRow(5, "https://ir.acme.example/pr/1", "hash1", "Acme IR", nil,
				nil, persistence.DocDiscovered, nil, time.Now(), true))

	repo := NewDocsRepo(db)
	doc, created, err := repo.UpsertDocument(context.Background(), &persistence.Document{
		SourceURL:   "https://ir.acme.example/pr/1",
		ContentHash: "hash1",
		Status:      persistence.DocDiscovered,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDocument_ConflictBumpsLastSeen(t *testing.T) {
	db, mock := mockDB(t)
	// xmax != 0 on the conflict path: the row already existed.
	mock.ExpectQuery(`INSERT INTO documents`).
		WillReturnRows(sqlmock.NewRows(docColumns()).
			AddRow(5, "https://ir.acme.example/pr/1", "hash1", nil, nil,
				nil, persistence.DocFetched, nil, time.Now(), false))

	repo := NewDocsRepo(db)
	doc, created, err := repo.UpsertDocument(context.Background(), &persistence.Document{
		SourceURL: "https://ir.acme.example/pr/1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, persistence.DocFetched, doc.Status)
}

func TestLabelStats(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`FROM link_labels WHERE link_type = \$1`).
		WithArgs("hp2").
		WillReturnRows(sqlmock.NewRows([]string{"correct", "total"}).AddRow(57, 60))

	repo := NewDocsRepo(db)
	correct, total, err := repo.LabelStats(context.Background(), "hp2")
	require.NoError(t, err)
	assert.Equal(t, 57, correct)
	assert.Equal(t, 60, total)
}

func TestInsertLink(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(`INSERT INTO document_links`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))

	repo := NewDocsRepo(db)
	id, err := repo.InsertLink(context.Background(), &persistence.DocumentLink{
		DocumentID: 5, AssetID: 3, LinkType: "hp1", Confidence: 1.0,
		Evidence: map[string]interface{}{"offset_distance": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}

func TestPromoteLink(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectExec(`UPDATE document_links SET promoted = true WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewDocsRepo(db)
	require.NoError(t, repo.PromoteLink(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}
