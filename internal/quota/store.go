package quota

import (
	"context"
	"time"
)

// State is the persisted counter record for one key.
// A zero Timestamp means no record exists.
type State struct {
	Amount    float64
	Timestamp int64 // epoch milliseconds of the last accepted write
}

// Exists reports whether the state came from a stored record.
func (s State) Exists() bool {
	return s.Timestamp != 0
}

// Store is the shared external store holding counter records.
type Store interface {
	// Get returns the record for key, or the zero State when absent or expired.
	Get(ctx context.Context, key string) (State, error)

	// CompareAndSet writes next and refreshes the key TTL as one atomic group,
	// only if the stored record still equals prev (absent equals the zero State).
	// It reports false without writing when the record changed in between.
	CompareAndSet(ctx context.Context, key string, prev, next State, ttl time.Duration) (bool, error)

	// Delete removes the record. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
