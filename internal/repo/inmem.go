package repo

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mlevan/refetch/internal/data"
)

// InMemoryRecordStore keeps records in insertion order behind an RWMutex.
// Records cross the boundary as clones in both directions.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records data.Records
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{records: make(data.Records, 0)}
}

var _ RecordStore = (*InMemoryRecordStore)(nil)

// Ping always succeeds; the in-memory store has no backing service.
func (s *InMemoryRecordStore) Ping(ctx context.Context) error { return nil }

func (s *InMemoryRecordStore) List(ctx context.Context) (data.Records, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone(), nil
}

func (s *InMemoryRecordStore) Get(ctx context.Context, id string) (*data.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, _, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

func (s *InMemoryRecordStore) GetByGID(ctx context.Context, gid string) (*data.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// O(n) scan; the pool stays small and the gid is the only stable key.
	for _, r := range s.records {
		if r.GID == gid {
			return r.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *InMemoryRecordStore) Index(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, i, err := s.findLocked(id)
	return i, err
}

func (s *InMemoryRecordStore) Add(ctx context.Context, r *data.Record) (*data.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	c := r.Clone()
	s.records = append(s.records, c)
	return c.Clone(), nil
}

func (s *InMemoryRecordStore) Update(ctx context.Context, id string, mutate func(*data.Record) error) (*data.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, i, err := s.findLocked(id)
	if err != nil {
		return nil, err
	}
	next := r.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = r.ID
	s.records[i] = next
	return next.Clone(), nil
}

func (s *InMemoryRecordStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, i, err := s.findLocked(id)
	if err != nil {
		return err
	}
	s.records = append(s.records[:i], s.records[i+1:]...)
	return nil
}

func (s *InMemoryRecordStore) findLocked(id string) (*data.Record, int, error) {
	for i, r := range s.records {
		if r.ID == id {
			return r, i, nil
		}
	}
	return nil, -1, data.ErrNotFound
}
