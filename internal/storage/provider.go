// Package storage selects the blob store that receives quarantined detail
// pages.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/storage/gcs"
	"github.com/JakeFAU/disclosure-monitor/internal/storage/local"
	"github.com/JakeFAU/disclosure-monitor/internal/storage/memory"
)

// Backend names.
const (
	BackendNone   = "none"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured blob store. A nil store with a nil error means
// quarantine is disabled. The returned closer is never nil.
func Open(ctx context.Context, cfg Config) (crawler.BlobStore, io.Closer, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nopCloser{}, nil
	case BackendLocal:
		s, err := local.New(cfg.Local)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("local blob store: %w", err)
		}
		return s, nopCloser{}, nil
	case BackendGCS:
		s, err := gcs.Open(ctx, cfg.GCS)
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("gcs blob store: %w", err)
		}
		return s, s, nil
	case BackendMemory:
		return memory.NewBlobStore(), nopCloser{}, nil
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}
