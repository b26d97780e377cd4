package debugdump

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type dirStore struct {
	dir string
}

func newDirStore(dir string) (*dirStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("dump directory must not be empty")
	}
	return &dirStore{dir: dir}, nil
}

// put creates the directory on first use.
func (s *dirStore) put(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name), data, 0o600)
}

func (s *dirStore) String() string { return "dir:" + s.dir }
