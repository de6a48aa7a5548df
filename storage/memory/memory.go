// Package memory provides an in-process Execution Record, useful for
// tests and for targets whose executed state does not need to survive
// the process.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/go-trek/trek"
)

// Storage keeps executed names in insertion order.
type Storage struct {
	mu       sync.Mutex
	executed []string
}

var _ trek.Storage = (*Storage)(nil)

// New returns an empty in-memory record.
func New() *Storage {
	return &Storage{}
}

func (s *Storage) Log(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.executed, name) {
		s.executed = append(s.executed, name)
	}
	return nil
}

func (s *Storage) Unlog(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = slices.DeleteFunc(s.executed, func(n string) bool { return n == name })
	return nil
}

func (s *Storage) Executed(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.executed), nil
}
