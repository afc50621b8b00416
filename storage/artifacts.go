package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"pricetrail/config"
)

// LocalArtifactStore writes screenshots to a directory on disk.
type LocalArtifactStore struct {
	dir string
}

func NewLocalArtifactStore(dir string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalArtifactStore{dir: dir}, nil
}

func (l *LocalArtifactStore) Save(_ context.Context, name string, data []byte) (string, error) {
	p := filepath.Join(l.dir, filepath.Base(name))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return p, nil
}

// ArtifactSaver mirrors session.ArtifactSaver without importing it.
type ArtifactSaver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// NewArtifactStore picks S3 when a bucket is configured and the local
// directory otherwise.
func NewArtifactStore(ctx context.Context, cfg config.ArtifactConfig) (ArtifactSaver, error) {
	if cfg.S3Bucket != "" {
		return NewS3ArtifactStore(ctx, cfg)
	}
	return NewLocalArtifactStore(cfg.Dir)
}
