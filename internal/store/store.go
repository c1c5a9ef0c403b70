// Package store holds the committed snapshot behind a single atomic pointer.
// Readers never lock; a refresh replaces the whole snapshot in one swap.
package store

import (
	"sync/atomic"

	"github.com/couchcryptid/covid-state-etl/internal/domain"
)

// Store is the in-memory holder of the current snapshot.
type Store struct {
	current atomic.Pointer[domain.Snapshot]
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Current returns the committed snapshot, or nil before the first commit.
func (s *Store) Current() *domain.Snapshot {
	return s.current.Load()
}

// Swap commits snap and returns the snapshot it replaced.
func (s *Store) Swap(snap *domain.Snapshot) *domain.Snapshot {
	return s.current.Swap(snap)
}
