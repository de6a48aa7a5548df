// Package jsonfile persists the Execution Record as a single JSON
// document of the form {"executed": ["name", ...]}.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"github.com/go-trek/trek"
)

// Storage reads and rewrites the whole document on every operation. Each
// write replaces the file content in one WriteFile call; no cross-process
// locking is attempted.
type Storage struct {
	mu   sync.Mutex
	fs   vfs.FileSystem
	path string
}

var _ trek.Storage = (*Storage)(nil)

type document struct {
	Executed []string `json:"executed"`
}

// New returns a record stored at path. A nil fsys means the operating
// system filesystem. A missing file reads as an empty record; it is
// created on the first Log.
func New(fsys vfs.FileSystem, path string) *Storage {
	if fsys == nil {
		fsys = osfs.New()
	}
	return &Storage{fs: fsys, path: path}
}

func (s *Storage) Log(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if !slices.Contains(doc.Executed, name) {
		doc.Executed = append(doc.Executed, name)
	}
	return s.save(doc)
}

func (s *Storage) Unlog(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Executed = slices.DeleteFunc(doc.Executed, func(n string) bool { return n == name })
	return s.save(doc)
}

func (s *Storage) Executed(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return doc.Executed, nil
}

func (s *Storage) load() (*document, error) {
	data, err := vfs.ReadFile(s.fs, s.path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return &document{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	doc := &document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Storage) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := vfs.WriteFile(s.fs, s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}
