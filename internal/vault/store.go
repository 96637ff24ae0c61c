// store.go - Persistence contract for vault records and the in-memory implementation.

package vault

import (
	"context"
	"sort"
	"sync"
)

// Store persists one Record per vault identity. Records are never deleted.
type Store interface {
	// Create inserts rec. It fails with ErrAlreadyInitialized when a record with
	// the same identity exists. apply runs inside the same unit of work, before
	// the insert becomes visible; an error from apply aborts the insert.
	Create(ctx context.Context, rec Record, apply func() error) error
	// Get returns the record of id, or ErrNotFound.
	Get(ctx context.Context, id ID) (Record, error)
	// Update loads the record of id, passes it to fn and persists the result
	// when fn returns nil. It fails with ErrNotFound when no record exists.
	Update(ctx context.Context, id ID, fn func(*Record) error) error
	// Range calls fn for every record in identity order until fn returns an error.
	Range(ctx context.Context, fn func(Record) error) error
	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// MemoryStore is a Store backed by a map. Units of work on different
// identities run concurrently.
type MemoryStore struct {
	keys    *keyedMutex
	mu      sync.RWMutex
	records map[ID]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: newKeyedMutex(), records: make(map[ID]Record)}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record, apply func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.keys.Lock(rec.ID)
	defer unlock()

	s.mu.RLock()
	_, exists := s.records[rec.ID]
	s.mu.RUnlock()
	if exists {
		return ErrAlreadyInitialized
	}
	if apply != nil {
		if err := apply(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id ID) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id ID, fn func(*Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.keys.Lock(id)
	defer unlock()

	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	working := rec.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	s.mu.Lock()
	s.records[id] = working
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, fn func(Record) error) error {
	s.mu.RLock()
	recs := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return string(recs[i].ID[:]) < string(recs[j].ID[:])
	})
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Len returns the number of stored vaults.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
