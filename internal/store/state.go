// internal/store/state.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DigestStore persists the last-known export digest.
type DigestStore interface {
	// Load returns the stored digest; ok is false when nothing was stored yet.
	Load(ctx context.Context) (digest string, ok bool, err error)
	Save(ctx context.Context, digest string) error
	// Name identifies the backing resource in logs and errors.
	Name() string
}

// FileStore keeps the digest as a single line in a text file. A missing file
// means no prior run.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Name() string { return f.path }

func (f *FileStore) Load(_ context.Context) (string, bool, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read digest: %w", err)
	}
	line, _, _ := strings.Cut(string(b), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

// Save replaces the file contents via a temp file and rename so a crash never
// leaves a truncated digest behind.
func (f *FileStore) Save(_ context.Context, digest string) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create digest dir: %w", err)
		}
	}
	return writeFileAtomic(f.path, []byte(digest+"\n"), 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
