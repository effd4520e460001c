package blobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore reads files below a directory.
type LocalStore struct {
	Dir string
}

var _ Reader = (*LocalStore)(nil)

// ReadFile reads name relative to Dir.
func (s *LocalStore) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}
