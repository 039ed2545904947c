package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is a content-addressed blob store on the local filesystem.
// Blobs land under root/<hash[:2]>/<hash><ext>; a re-put of the same hash
// is a no-op.
type FileStore struct {
	root string
}

// NewFileStore creates the store rooted at root, which must be configured.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, ErrNoStorage
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// Put writes data under its content hash and returns a file:// URI.
func (s *FileStore) Put(ctx context.Context, contentHash string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(contentHash) < 2 {
		return "", fmt.Errorf("content hash %q too short", contentHash)
	}

	dir := filepath.Join(s.root, contentHash[:2])
	path := filepath.Join(dir, contentHash+extensionFor(contentType))
	if _, err := os.Stat(path); err == nil {
		return "file://" + path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	// Write-then-rename keeps readers from seeing a partial blob.
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create blob temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob %s: %w", contentHash, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob %s: %w", contentHash, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("finalize blob %s: %w", contentHash, err)
	}
	return "file://" + path, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "text/html":
		return ".html"
	case "application/pdf":
		return ".pdf"
	case "application/json":
		return ".json"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}
