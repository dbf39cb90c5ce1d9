package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FSMediaStore reads source videos from a local directory. Used when R2 is not configured.
type FSMediaStore struct {
	dir string
}

func NewFSMediaStore(dir string) (*FSMediaStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}
	return &FSMediaStore{dir: dir}, nil
}

func (s *FSMediaStore) Read(ctx context.Context, key string) ([]byte, error) {
	// keys never escape the media directory
	path := filepath.Join(s.dir, filepath.Clean("/"+key))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMediaNotFound, key)
		}
		return nil, err
	}
	return data, nil
}
