package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trialgate/trialgate/internal/docs"
	"github.com/trialgate/trialgate/internal/persistence/postgres"
	"github.com/trialgate/trialgate/internal/pipeline"
)

func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs <batch.json>",
		Short: "Ingest fetched documents and run the link heuristics",
		Long: `Reads a JSON batch produced by the document fetcher, stores each document
content-addressed in the configured blob store, records it, and persists the
high-precision asset links its page yields. Promotion of links into scoring
stays behind the promoter gate.`,
		Args: cobra.ExactArgs(1),
		RunE: runDocs,
	}
	return cmd
}

// fetchedDoc is the fetcher's wire format for one document.
type fetchedDoc struct {
	SourceURL   string     `json:"source_url"`
	Content     string     `json:"content"`
	ContentType string     `json:"content_type"`
	Publisher   *string    `json:"publisher,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	Title      string          `json:"title"`
	Text       string          `json:"text"`
	HostDomain string          `json:"host_domain"`
	IsPR       bool            `json:"is_pr"`
	IsAbstract bool            `json:"is_abstract"`
	AliasHits  []docs.AliasHit `json:"alias_hits"`
}

func runDocs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var batch []fetchedDoc
	if err := json.Unmarshal(data, &batch); err != nil {
		return err
	}

	store, err := docs.NewFileStore(a.cfg.Storage.Root)
	if err != nil {
		return err
	}
	repo := postgres.NewDocsRepo(a.db)
	ingestor, err := docs.NewIngestor(repo, store)
	if err != nil {
		return err
	}
	linker := docs.NewLinker(a.cfg.Linker, nil)
	promoter := docs.NewPromoter(a.cfg.Promoter, repo, log.Logger)

	inputs := make([]pipeline.DocInput, 0, len(batch))
	for _, d := range batch {
		inputs = append(inputs, pipeline.DocInput{
			Fetched: docs.Fetched{
				SourceURL:   d.SourceURL,
				Content:     []byte(d.Content),
				ContentType: d.ContentType,
				Publisher:   d.Publisher,
				PublishedAt: d.PublishedAt,
			},
			Page: docs.Page{
				Title:      d.Title,
				Text:       d.Text,
				HostDomain: d.HostDomain,
				IsPR:       d.IsPR,
				IsAbstract: d.IsAbstract,
				AliasHits:  d.AliasHits,
			},
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dp := pipeline.NewDocsPipeline(ingestor, linker, promoter, repo, a.metrics)
	_, err = dp.Process(ctx, inputs)
	return err
}
