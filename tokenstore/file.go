package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chaincontext/teeattest/interfaces"
)

// FileStore reads a token from a local file.
type FileStore struct {
	path string
	log  *slog.Logger
}

func NewFileStore(path string, log *slog.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

// Fetch reads the token file. Returns ErrContentNotFound if it doesn't exist.
func (s *FileStore) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	s.log.Debug("Fetched token from file",
		slog.String("path", s.path),
		slog.Int("size", len(data)))

	return data, nil
}

// Available reports whether the token file exists and is a regular file.
func (s *FileStore) Available(ctx context.Context) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		s.log.Debug("Token file unavailable", "err", err)
		return false
	}
	return info.Mode().IsRegular()
}

func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.path))
}

func (s *FileStore) LocationURI() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		abs = s.path
	}
	return "file://" + abs
}
