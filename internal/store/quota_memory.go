package store

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/driftquota/internal/quota"
)

type memoryRecord struct {
	state     quota.State
	expiresAt time.Time
}

// QuotaMemoryStore is an in-process implementation of quota.Store.
// It only coordinates goroutines of one process.
type QuotaMemoryStore struct {
	mu      sync.Mutex
	clock   quota.Clock
	records map[string]memoryRecord
}

// NewQuotaMemoryStore creates an empty store. A nil clock uses the wall clock.
func NewQuotaMemoryStore(clock quota.Clock) *QuotaMemoryStore {
	if clock == nil {
		clock = quota.SystemClock
	}

	return &QuotaMemoryStore{
		clock:   clock,
		records: make(map[string]memoryRecord),
	}
}

func (s *QuotaMemoryStore) Get(_ context.Context, key string) (quota.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveLocked(key), nil
}

func (s *QuotaMemoryStore) CompareAndSet(
	_ context.Context, key string, prev, next quota.State, ttl time.Duration,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveLocked(key) != prev {
		return false, nil
	}

	s.records[key] = memoryRecord{
		state:     next,
		expiresAt: s.clock.Now().Add(ttl),
	}

	return true, nil
}

func (s *QuotaMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)

	return nil
}

// TTL returns the time left before key expires, or 0 when it is absent.
func (s *QuotaMemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return 0
	}

	return max(rec.expiresAt.Sub(s.clock.Now()), 0)
}

// liveLocked returns the unexpired state for key, pruning expired records.
func (s *QuotaMemoryStore) liveLocked(key string) quota.State {
	rec, ok := s.records[key]
	if !ok {
		return quota.State{}
	}

	if !s.clock.Now().Before(rec.expiresAt) {
		delete(s.records, key)

		return quota.State{}
	}

	return rec.state
}

// Compile-time check.
var _ quota.Store = (*QuotaMemoryStore)(nil)
