package cursor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileStore keeps the cursor in a single file. Writes go through a temp file
// and a rename so a crash never leaves a half-written cursor.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore uses the OS filesystem.
func NewFileStore(path string) *FileStore {
	return NewFileStoreFs(afero.NewOsFs(), path)
}

// NewFileStoreFs uses the provided filesystem.
func NewFileStoreFs(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) Read(_ context.Context) (string, bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cursor file %s: %w", s.path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

func (s *FileStore) Write(_ context.Context, value string) error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write cursor file %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cursor file %s: %w", s.path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
