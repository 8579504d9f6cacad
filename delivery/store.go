package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Item is one queued payload.
type Item struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Attempts  int             `json:"attempts"`
	Data      json.RawMessage `json:"data"`
}

// Store persists the full queue content.
type Store interface {
	// Load returns the persisted items in queue order, or no items if nothing was persisted.
	Load() ([]Item, error)
	// Save replaces the persisted content with items.
	Save(items []Item) error
}

// FileStore persists the queue as an indented JSON array in a single file.
// Every Save rewrites the file atomically (write to a temp file, then rename).
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to path. The parent directory is created on Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("delivery: decode queue file %s: %w", s.path, err)
	}

	return items, nil
}

func (s *FileStore) Save(items []Item) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	if items == nil {
		items = []Item{}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, s.path)
}
