package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/docs"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
)

// DocInput pairs a fetched document with its parsed page view. The fetcher
// and parser are upstream collaborators; this stage owns dedup, linking,
// and promotion.
type DocInput struct {
	Fetched docs.Fetched
	Page    docs.Page
}

// DocsReport summarizes one document batch.
type DocsReport struct {
	Ingested int `json:"ingested"`
	Failed   int `json:"failed"`
	Links    int `json:"links"`
	Promoted int `json:"promoted"`
}

// DocsPipeline runs fetched documents through ingest, the link heuristics,
// and the promotion gate.
type DocsPipeline struct {
	ingestor *docs.Ingestor
	linker   *docs.Linker
	promoter *docs.Promoter
	repo     persistence.DocsRepo
	metrics  *metrics.Registry
}

// NewDocsPipeline wires the document stage.
func NewDocsPipeline(ingestor *docs.Ingestor, linker *docs.Linker, promoter *docs.Promoter, repo persistence.DocsRepo, m *metrics.Registry) *DocsPipeline {
	return &DocsPipeline{ingestor: ingestor, linker: linker, promoter: promoter, repo: repo, metrics: m}
}

// Process ingests each document and persists the links its page yields.
// A document that fails to ingest or link is counted and skipped; the rest
// of the batch proceeds.
func (p *DocsPipeline) Process(ctx context.Context, inputs []DocInput) (*DocsReport, error) {
	report := &DocsReport{}

	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		doc, err := p.ingestor.Ingest(ctx, in.Fetched)
		if err != nil {
			report.Failed++
			p.metrics.DocsIngested.WithLabelValues(persistence.DocError).Inc()
			log.Warn().Err(err).Str("url", in.Fetched.SourceURL).Msg("document ingest failed")
			continue
		}
		report.Ingested++
		p.metrics.DocsIngested.WithLabelValues(doc.Status).Inc()

		page := in.Page
		page.DocumentID = doc.ID
		links, err := p.linker.Evaluate(ctx, page)
		if err != nil {
			report.Failed++
			if markErr := p.ingestor.MarkError(ctx, doc.ID, err.Error()); markErr != nil {
				log.Error().Err(markErr).Int64("doc_id", doc.ID).Msg("failed to mark document errored")
			}
			continue
		}

		for i := range links {
			id, err := p.repo.InsertLink(ctx, &links[i])
			if err != nil {
				return report, err
			}
			links[i].ID = id
			report.Links++
			p.metrics.LinksGenerated.WithLabelValues(links[i].LinkType).Inc()

			if err := p.promoter.PromoteLink(ctx, &links[i]); err != nil {
				return report, err
			}
			if links[i].Promoted {
				report.Promoted++
				p.metrics.LinksPromoted.WithLabelValues(links[i].LinkType).Inc()
			}
		}

		if len(links) > 0 {
			if err := p.repo.SetDocumentStatus(ctx, doc.ID, persistence.DocLinked, nil); err != nil {
				return report, err
			}
		}
	}

	log.Info().
		Int("ingested", report.Ingested).
		Int("failed", report.Failed).
		Int("links", report.Links).
		Int("promoted", report.Promoted).
		Msg("docs batch complete")
	return report, nil
}
