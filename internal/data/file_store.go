package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// fileDocument is the on-disk layout of the file store.
type fileDocument struct {
	Items    []Record          `json:"items"`
	Settings map[string]string `json:"settings"`
}

// FileStore keeps the whole state in a single JSON file. Every commit
// rewrites the file through a temporary file and a rename.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// Ensure FileStore implements Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates a store writing to path on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// NewMemoryStore creates a file store on an in-memory filesystem.
func NewMemoryStore() *FileStore {
	return NewFileStore(afero.NewMemMapFs(), "pagewatch.json")
}

// Backend returns "file".
func (s *FileStore) Backend() string {
	return "file"
}

// LoadRecords returns the records of the state file.
func (s *FileStore) LoadRecords(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Items, nil
}

// LoadSettings returns the settings of the state file.
func (s *FileStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Settings, nil
}

// Commit rewrites the state file with the batch applied.
func (s *FileStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	byID := make(map[string]Record, len(doc.Items))
	order := make([]string, 0, len(doc.Items))
	for _, rec := range doc.Items {
		if _, seen := byID[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		byID[rec.ID] = rec
	}
	for _, rec := range b.Put {
		if _, seen := byID[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		byID[rec.ID] = rec
	}
	for _, id := range b.Delete {
		delete(byID, id)
	}
	items := make([]Record, 0, len(byID))
	for _, id := range order {
		if rec, ok := byID[id]; ok {
			items = append(items, rec)
		}
	}
	doc.Items = items
	for name, value := range b.Settings {
		doc.Settings[name] = value
	}

	return s.write(doc)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{Settings: map[string]string{}}
	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("cannot read state file: %w", err)
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("cannot decode state file: %w", err)
	}
	if doc.Settings == nil {
		doc.Settings = map[string]string{}
	}
	return doc, nil
}

func (s *FileStore) write(doc *fileDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode state file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o644); err != nil {
		return fmt.Errorf("cannot write state file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("cannot replace state file: %w", err)
	}
	return nil
}
