package gossip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// IncarnationStore persists this member's incarnation so a restart
// never reuses a number peers have already seen.
type IncarnationStore interface {
	// Load returns the stored incarnation, or 0 if none was stored.
	Load() (uint64, error)
	Save(incarnation uint64) error
}

// IncarnationFile is the file name FileIncarnationStore uses.
const IncarnationFile = "INCARNATION"

// FileIncarnationStore keeps the incarnation as decimal text in a file.
type FileIncarnationStore struct {
	mu   sync.Mutex
	path string
}

// NewFileIncarnationStore stores the incarnation under dir.
func NewFileIncarnationStore(dir string) *FileIncarnationStore {
	return &FileIncarnationStore{path: filepath.Join(dir, IncarnationFile)}
}

// Path is the file the incarnation lives in.
func (s *FileIncarnationStore) Path() string { return s.path }

func (s *FileIncarnationStore) Load() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading incarnation: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing incarnation file %s: %w", s.path, err)
	}
	return n, nil
}

// Save writes through a temporary file and renames it into place, so a
// crash leaves either the old or the new value.
func (s *FileIncarnationStore) Save(incarnation uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating incarnation directory: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary incarnation file: %w", err)
	}
	if _, err := f.WriteString(strconv.FormatUint(incarnation, 10) + "\n"); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing incarnation: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing incarnation: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing incarnation file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming incarnation file into place: %w", err)
	}
	return nil
}

// MemoryIncarnationStore keeps the incarnation in memory. For tests and
// members that do not need to survive restarts.
type MemoryIncarnationStore struct {
	mu    sync.Mutex
	value uint64
}

func (s *MemoryIncarnationStore) Load() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryIncarnationStore) Save(incarnation uint64) error {
	s.mu.Lock()
	s.value = incarnation
	s.mu.Unlock()
	return nil
}
