package docs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/persistence"
)

// ErrNoStorage is fatal: document ingestion refuses to run without a
// configured blob store. No silent /tmp fallback.
var ErrNoStorage = errors.New("document storage is not configured")

// BlobStore uploads raw document bytes and returns a storage URI.
type BlobStore interface {
	Put(ctx context.Context, contentHash string, data []byte, contentType string) (string, error)
}

// Fetched is the document fetcher collaborator's output.
type Fetched struct {
	SourceURL   string
	Content     []byte
	ContentType string
	Publisher   *string
	PublishedAt *time.Time
}

// Ingestor deduplicates and records fetched documents.
type Ingestor struct {
	repo  persistence.DocsRepo
	store BlobStore
}

// NewIngestor creates a document ingestor. store must be non-nil.
func NewIngestor(repo persistence.DocsRepo, store BlobStore) (*Ingestor, error) {
	if store == nil {
		return nil, ErrNoStorage
	}
	return &Ingestor{repo: repo, store: store}, nil
}

// Ingest hashes the raw bytes, uploads them, and upserts the document row.
// Duplicate source URLs only bump last_seen.
func (i *Ingestor) Ingest(ctx context.Context, f Fetched) (*persistence.Document, error) {
	if len(f.Content) == 0 {
		return nil, fmt.Errorf("document %s has no content", f.SourceURL)
	}
	sum := sha256.Sum256(f.Content)
	hash := hex.EncodeToString(sum[:])

	uri, err := i.store.Put(ctx, hash, f.Content, f.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store document %s: %w", f.SourceURL, err)
	}

	doc, created, err := i.repo.UpsertDocument(ctx, &persistence.Document{
		SourceURL:   f.SourceURL,
		ContentHash: hash,
		Publisher:   f.Publisher,
		PublishedAt: f.PublishedAt,
		StorageURI:  &uri,
		Status:      persistence.DocFetched,
	})
	if err != nil {
		return nil, err
	}
	if created {
		log.Debug().Str("url", f.SourceURL).Str("hash", hash[:12]).Msg("document recorded")
	}
	return doc, nil
}

// MarkError sets status=error with the message, used when downstream
// extraction fails.
func (i *Ingestor) MarkError(ctx context.Context, docID int64, msg string) error {
	return i.repo.SetDocumentStatus(ctx, docID, persistence.DocError, &msg)
}
