package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialgate/trialgate/internal/docs"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
)

type fakeDocsRepo struct {
	nextDocID int64
	nextLink  int64
	docs      map[string]*persistence.Document
	links     []persistence.DocumentLink
	statuses  map[int64]string
	promoted  []int64
	audits    []persistence.LinkAudit

	correct, total int
}

func newFakeDocsRepo() *fakeDocsRepo {
	return &fakeDocsRepo{
		docs:     map[string]*persistence.Document{},
		statuses: map[int64]string{},
	}
}

func (f *fakeDocsRepo) UpsertDocument(_ context.Context, d *persistence.Document) (*persistence.Document, bool, error) {
	if existing, ok := f.docs[d.SourceURL]; ok {
		return existing, false, nil
	}
	f.nextDocID++
	cp := *d
	cp.ID = f.nextDocID
	f.docs[d.SourceURL] = &cp
	return &cp, true, nil
}

func (f *fakeDocsRepo) SetDocumentStatus(_ context.Context, docID int64, status string, _ *string) error {
	f.statuses[docID] = status
	return nil
}

func (f *fakeDocsRepo) InsertEntity(context.Context, *persistence.DocumentEntity) error { return nil }

func (f *fakeDocsRepo) InsertLink(_ context.Context, l *persistence.DocumentLink) (int64, error) {
	f.nextLink++
	cp := *l
	cp.ID = f.nextLink
	f.links = append(f.links, cp)
	return f.nextLink, nil
}

func (f *fakeDocsRepo) PromoteLink(_ context.Context, linkID int64) error {
	f.promoted = append(f.promoted, linkID)
	return nil
}

func (f *fakeDocsRepo) LabelStats(context.Context, string) (int, int, error) {
	return f.correct, f.total, nil
}

func (f *fakeDocsRepo) InsertLinkAudit(_ context.Context, a *persistence.LinkAudit) error {
	f.audits = append(f.audits, *a)
	return nil
}

type memBlobStore struct {
	blobs map[string][]byte
}

func (s *memBlobStore) Put(_ context.Context, contentHash string, data []byte, _ string) (string, error) {
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[contentHash] = data
	return "mem://" + contentHash, nil
}

func newDocsPipeline(t *testing.T, repo *fakeDocsRepo, promoterCfg docs.PromoterConfig, m *metrics.Registry) *DocsPipeline {
	t.Helper()
	ingestor, err := docs.NewIngestor(repo, &memBlobStore{})
	require.NoError(t, err)
	linker := docs.NewLinker(docs.DefaultLinkerConfig(), nil)
	promoter := docs.NewPromoter(promoterCfg, repo, zerolog.Nop())
	return NewDocsPipeline(ingestor, linker, promoter, repo, m)
}

func prPageInput(url string) DocInput {
	text := "Topline results from NCT01234567 show TG-101 met the primary endpoint."
	return DocInput{
		Fetched: docs.Fetched{
			SourceURL:   url,
			Content:     []byte("<html>" + text + "</html>"),
			ContentType: "text/html",
		},
		Page: docs.Page{
			Text: text,
			AliasHits: []docs.AliasHit{
				{AssetID: 9, Alias: "TG-101", AliasType: "code", Offset: strings.Index(text, "TG-101")},
			},
		},
	}
}

func TestDocsPipeline_IngestsLinksAndSkipsFailures(t *testing.T) {
	repo := newFakeDocsRepo()
	m := metrics.NewRegistry()
	dp := newDocsPipeline(t, repo, docs.DefaultPromoterConfig(), m)

	inputs := []DocInput{
		prPageInput("https://ir.acmetx.com/pr/topline"),
		{Fetched: docs.Fetched{SourceURL: "https://ir.acmetx.com/pr/empty"}}, // no content
	}
	report, err := dp.Process(context.Background(), inputs)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Links)
	assert.Equal(t, 0, report.Promoted, "promotion gate defaults off")

	require.Len(t, repo.links, 1)
	link := repo.links[0]
	assert.Equal(t, docs.HP1NCTNearAsset, link.LinkType)
	assert.Equal(t, int64(9), link.AssetID)
	require.NotNil(t, link.NCTID)
	assert.Equal(t, "NCT01234567", *link.NCTID)
	assert.Empty(t, repo.promoted)

	doc := repo.docs["https://ir.acmetx.com/pr/topline"]
	require.NotNil(t, doc)
	assert.Equal(t, persistence.DocLinked, repo.statuses[doc.ID])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsIngested.WithLabelValues(persistence.DocFetched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsIngested.WithLabelValues(persistence.DocError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinksGenerated.WithLabelValues(docs.HP1NCTNearAsset)))
}

func TestDocsPipeline_PromotesWhenGateClears(t *testing.T) {
	repo := newFakeDocsRepo()
	repo.correct, repo.total = 49, 50 // precision 0.98 on enough labels

	m := metrics.NewRegistry()
	dp := newDocsPipeline(t, repo, docs.PromoterConfig{Enabled: true, MinPrecision: 0.95, MinLabels: 50}, m)

	report, err := dp.Process(context.Background(), []DocInput{prPageInput("https://ir.acmetx.com/pr/topline")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Promoted)
	require.Len(t, repo.promoted, 1)
	require.Len(t, repo.audits, 1)
	assert.True(t, repo.audits[0].Promoted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinksPromoted.WithLabelValues(docs.HP1NCTNearAsset)))
}
