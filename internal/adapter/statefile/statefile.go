// Package statefile persists the last distributed donation total as a
// single "<n> kr" line on disk.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/phixarhasse/musikhjaelpen-alert/internal/detect"
	"github.com/phixarhasse/musikhjaelpen-alert/internal/domain"
)

type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted total. ok is false when the file does not
// exist. Unparseable content is reported as domain.ErrStateCorrupt.
func (s *Store) Load(_ context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	total, err := detect.ParseAmount(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %w", domain.ErrStateCorrupt, s.path, err)
	}
	return total, true, nil
}

// Save replaces the file atomically: a temp file in the same directory is
// written, synced and renamed over the target.
func (s *Store) Save(_ context.Context, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.WriteString(detect.FormatTotal(total) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
