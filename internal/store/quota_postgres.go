package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/serroba/driftquota/internal/quota"
)

// QuotaSchema creates the counter table used by QuotaPostgresStore.
const QuotaSchema = `
	CREATE TABLE IF NOT EXISTS quota_counters (
		key        TEXT PRIMARY KEY,
		amount     DOUBLE PRECISION NOT NULL,
		ts         BIGINT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS quota_counters_expires_at ON quota_counters (expires_at);
`

// QuotaPostgresStore keeps counter records in PostgreSQL. Expired rows are
// invisible to reads and removed by PurgeExpired.
type QuotaPostgresStore struct {
	pool *pgxpool.Pool
}

// NewQuotaPostgresStore creates a PostgreSQL-backed quota store.
func NewQuotaPostgresStore(pool *pgxpool.Pool) *QuotaPostgresStore {
	return &QuotaPostgresStore{pool: pool}
}

// EnsureSchema creates the counter table if it does not exist.
func (p *QuotaPostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, QuotaSchema)

	return err
}

func (p *QuotaPostgresStore) Get(ctx context.Context, key string) (quota.State, error) {
	query := `
		SELECT amount, ts
		FROM quota_counters
		WHERE key = $1 AND expires_at > now()
	`

	var state quota.State

	err := p.pool.QueryRow(ctx, query, key).Scan(&state.Amount, &state.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return quota.State{}, nil
		}

		return quota.State{}, err
	}

	return state, nil
}

func (p *QuotaPostgresStore) CompareAndSet(
	ctx context.Context, key string, prev, next quota.State, ttl time.Duration,
) (bool, error) {
	var query string

	args := []any{key, next.Amount, next.Timestamp, ttl.Seconds()}

	if !prev.Exists() {
		// An expired row is as good as no row.
		query = `
			INSERT INTO quota_counters (key, amount, ts, expires_at)
			VALUES ($1, $2, $3, now() + make_interval(secs => $4))
			ON CONFLICT (key) DO UPDATE
			SET amount = EXCLUDED.amount, ts = EXCLUDED.ts, expires_at = EXCLUDED.expires_at
			WHERE quota_counters.expires_at <= now() OR quota_counters.ts = 0
		`
	} else {
		query = `
			UPDATE quota_counters
			SET amount = $2, ts = $3, expires_at = now() + make_interval(secs => $4)
			WHERE key = $1 AND amount = $5 AND ts = $6 AND expires_at > now()
		`
		args = append(args, prev.Amount, prev.Timestamp)
	}

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func (p *QuotaPostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM quota_counters WHERE key = $1`, key)

	return err
}

// PurgeExpired deletes rows whose TTL has passed and returns how many went.
func (p *QuotaPostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM quota_counters WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// Ping checks PostgreSQL connectivity.
func (p *QuotaPostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Compile-time check.
var _ quota.Store = (*QuotaPostgresStore)(nil)
