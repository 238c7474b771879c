package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/driftquota/internal/quota"
)

const (
	fieldAmount    = "amount"
	fieldTimestamp = "timestamp"
)

// compareAndSetScript writes amount, timestamp and TTL only when the stored
// fields still match the values the caller read. A record without a
// timestamp counts as empty.
//
// KEYS[1] record key
// ARGV[1] expected amount, ARGV[2] expected timestamp
// ARGV[3] new amount, ARGV[4] new timestamp, ARGV[5] ttl seconds.
var compareAndSetScript = redis.NewScript(`
local ts = tonumber(redis.call('HGET', KEYS[1], 'timestamp') or '0') or 0
local amount = 0
if ts ~= 0 then
  amount = tonumber(redis.call('HGET', KEYS[1], 'amount') or '0') or 0
end
if amount ~= tonumber(ARGV[1]) or ts ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'amount', ARGV[3], 'timestamp', ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return 1
`)

// QuotaRedisStore keeps counter records as Redis hashes with a key TTL.
type QuotaRedisStore struct {
	client redis.UniversalClient
}

// NewQuotaRedisStore creates a Redis-backed quota store.
func NewQuotaRedisStore(client redis.UniversalClient) *QuotaRedisStore {
	return &QuotaRedisStore{client: client}
}

func (r *QuotaRedisStore) Get(ctx context.Context, key string) (quota.State, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return quota.State{}, err
	}

	return decodeState(fields), nil
}

func (r *QuotaRedisStore) CompareAndSet(
	ctx context.Context, key string, prev, next quota.State, ttl time.Duration,
) (bool, error) {
	written, err := compareAndSetScript.Run(ctx, r.client, []string{key},
		formatAmount(prev.Amount),
		strconv.FormatInt(prev.Timestamp, 10),
		formatAmount(next.Amount),
		strconv.FormatInt(next.Timestamp, 10),
		ttlSeconds(ttl),
	).Int()
	if err != nil {
		return false, err
	}

	return written == 1, nil
}

func (r *QuotaRedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Ping checks Redis connectivity.
func (r *QuotaRedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// decodeState parses a stored hash. Missing or malformed timestamps mean
// the record is treated as absent.
func decodeState(fields map[string]string) quota.State {
	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil || ts == 0 {
		return quota.State{}
	}

	amount, err := strconv.ParseFloat(fields[fieldAmount], 64)
	if err != nil {
		amount = 0
	}

	return quota.State{Amount: amount, Timestamp: ts}
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

func ttlSeconds(ttl time.Duration) int64 {
	return max(int64(ttl/time.Second), 1)
}

// Compile-time check.
var _ quota.Store = (*QuotaRedisStore)(nil)
