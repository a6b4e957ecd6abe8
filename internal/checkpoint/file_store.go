package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// FileStore keeps the cursor in a small JSON file. Writes go to a temporary
// file in the same directory which is synced and renamed over the target.
type FileStore struct {
	path     string
	fallback Cursor
	logger   *zap.Logger
}

// NewFileStore builds a FileStore. fallback is returned by Load when the file
// is missing or unreadable.
func NewFileStore(path string, fallback Cursor, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, fallback: fallback, logger: logger}, nil
}

// Load reads the cursor. A missing file yields the fallback; a corrupt file
// is logged and also yields the fallback.
func (s *FileStore) Load(_ context.Context) (Cursor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.fallback, nil
		}
		return Cursor{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("checkpoint file unreadable, starting from default",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return s.fallback, nil
	}
	if c.Year == 0 {
		s.logger.Warn("checkpoint file has no year, starting from default", zap.String("path", s.path))
		return s.fallback, nil
	}
	return c.Normalize(), nil
}

// Save writes the cursor atomically.
func (s *FileStore) Save(_ context.Context, c Cursor) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
