package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all verdicts in one JSON object on disk.
// Every write rewrites the file through a temp file and rename, so a crash
// leaves either the old or the new document.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

// OpenFileStore loads path, creating an empty store if it does not exist.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: mkdir: %w", err)
	}
	s := &FileStore{path: path, data: map[string]string{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("file store: decode %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, videoID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.data[videoID]
	return text, ok, nil
}

func (s *FileStore) Put(_ context.Context, videoID, text string, mode PutMode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[videoID]
	if existed && mode == PutCreateOnly {
		return false, nil
	}
	s.data[videoID] = text
	if err := s.flush(); err != nil {
		if existed {
			s.data[videoID] = prev
		} else {
			delete(s.data, videoID)
		}
		return false, err
	}
	return true, nil
}

func (s *FileStore) Close() error { return nil }

// flush writes the document atomically. Caller holds mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: encode: %w", err)
	}
	return writeFileAtomic(s.path, raw)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cache-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
