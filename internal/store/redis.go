package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Config configures the Redis-backed store.
type Config struct {
	URL string
	// MaxRetries bounds the exponential-backoff retry loop wrapping every
	// store call before a store_unavailable error surfaces (spec §7).
	MaxRetries uint64
}

// DefaultConfig returns sane defaults, matching spec §6's STORE_URL default.
func DefaultConfig() Config {
	return Config{
		URL:        "redis://localhost:6379",
		MaxRetries: 3,
	}
}

type redisStore struct {
	client *redis.Client
	cfg    Config
}

// New connects to a Redis-compatible backend and returns a Store.
func New(cfg Config) (Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	client := redis.NewClient(opts)
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &redisStore{client: client, cfg: cfg}, nil
}

// NewFromClient wraps an already-constructed *redis.Client — used by tests
// to point the store at a miniredis instance.
func NewFromClient(client *redis.Client) Store {
	return &redisStore{client: client, cfg: DefaultConfig()}
}

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Now() time.Time { return time.Now().UTC() }

// withRetry wraps a store operation with exponential backoff: a failing
// operation is retried up to MaxRetries times, and an error that outlasts
// the retries is returned tagged "store_unavailable" (spec §7).
func (s *redisStore) withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("store_unavailable: %w", err)
	}
	return nil
}

func (s *redisStore) HashSet(ctx context.Context, key, field string, value []byte) error {
	return s.withRetry(ctx, func() error {
		return s.client.HSet(ctx, key, field, value).Err()
	})
}

func (s *redisStore) HashGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	var out []byte
	err := s.withRetry(ctx, func() error {
		v, err := s.client.HGet(ctx, key, field).Bytes()
		if err == redis.Nil {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, out != nil, err
}

func (s *redisStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	var out map[string][]byte
	err := s.withRetry(ctx, func() error {
		m, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = make(map[string][]byte, len(m))
		for k, v := range m {
			out[k] = []byte(v)
		}
		return nil
	})
	return out, err
}

func (s *redisStore) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.withRetry(ctx, func() error {
		return s.client.HDel(ctx, key, fields...).Err()
	})
}

func (s *redisStore) ListAppend(ctx context.Context, key string, value []byte) error {
	return s.withRetry(ctx, func() error {
		return s.client.RPush(ctx, key, value).Err()
	})
}

func (s *redisStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	var out [][]byte
	err := s.withRetry(ctx, func() error {
		vals, err := s.client.LRange(ctx, key, start, stop).Result()
		if err != nil {
			return err
		}
		out = make([][]byte, len(vals))
		for i, v := range vals {
			out[i] = []byte(v)
		}
		return nil
	})
	return out, err
}

func (s *redisStore) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		v, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

// trimFrontScript pops elements from the head of the list until at most
// ARGV[1] remain, returning the popped (oldest) elements. A single script
// keeps "how many to drop" and "drop them" from racing another writer.
var trimFrontScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local len = redis.call('LLEN', KEYS[1])
local drop = len - max
if drop <= 0 then
	return {}
end
local dropped = {}
for i = 1, drop do
	local v = redis.call('LPOP', KEYS[1])
	if v then
		table.insert(dropped, v)
	end
end
return dropped
`)

func (s *redisStore) ListTrimFront(ctx context.Context, key string, max int64) ([][]byte, error) {
	var out [][]byte
	err := s.withRetry(ctx, func() error {
		res, err := trimFrontScript.Run(ctx, s.client, []string{key}, max).Result()
		if err != nil {
			return err
		}
		items, _ := res.([]interface{})
		out = make([][]byte, 0, len(items))
		for _, it := range items {
			if str, ok := it.(string); ok {
				out = append(out, []byte(str))
			}
		}
		return nil
	})
	return out, err
}

// drainScript atomically reads the full list and deletes the key, so two
// concurrent check_messages calls can never both see the same element
// (spec invariant 5).
var drainScript = redis.NewScript(`
local vals = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return vals
`)

func (s *redisStore) ListDrain(ctx context.Context, key string) ([][]byte, error) {
	var out [][]byte
	err := s.withRetry(ctx, func() error {
		res, err := drainScript.Run(ctx, s.client, []string{key}).Result()
		if err != nil {
			return err
		}
		items, _ := res.([]interface{})
		out = make([][]byte, 0, len(items))
		for _, it := range items {
			if str, ok := it.(string); ok {
				out = append(out, []byte(str))
			}
		}
		return nil
	})
	return out, err
}

func (s *redisStore) ListDelete(ctx context.Context, key string) error {
	return s.withRetry(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *redisStore) StringSetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.withRetry(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

func (s *redisStore) StringGet(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := s.withRetry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			out = nil
			return nil
		}
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, out != nil, err
}

func (s *redisStore) StringDelete(ctx context.Context, key string) error {
	return s.withRetry(ctx, func() error {
		return s.client.Del(ctx, key).Err()
	})
}

func (s *redisStore) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.withRetry(ctx, func() error {
		v, err := s.client.Expire(ctx, key, ttl).Result()
		if err != nil {
			return err
		}
		ok = v
		return nil
	})
	return ok, err
}

func (s *redisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := s.withRetry(ctx, func() error {
		var cursor uint64
		out = nil
		for {
			keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return err
			}
			out = append(out, keys...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return out, err
}

// acquireScript implements the file-lock CAS described in spec §4.3:
// absent -> lock; owned by the same session -> refresh; owned by another
// session -> conflict, unmodified.
var acquireScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return {1, ''}
end
local owner = ARGV[3]
local decoded = cjson.decode(current)
if decoded.session_name == owner then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return {1, ''}
end
return {0, current}
`)

func (s *redisStore) AcquireFileLock(ctx context.Context, key, field string, value []byte, sessionName string) (LockResult, error) {
	var result LockResult
	err := s.withRetry(ctx, func() error {
		res, err := acquireScript.Run(ctx, s.client, []string{key}, field, value, sessionName).Result()
		if err != nil {
			return err
		}
		arr, ok := res.([]interface{})
		if !ok || len(arr) != 2 {
			return fmt.Errorf("unexpected acquire script result: %v", res)
		}
		acquired, _ := arr[0].(int64)
		existing, _ := arr[1].(string)
		result = LockResult{Acquired: acquired == 1}
		if existing != "" {
			result.Existing = []byte(existing)
		}
		return nil
	})
	return result, err
}

// releaseScript deletes the lock field only if the caller is the current
// owner; absent is treated as already-released (spec §4.3 idempotence).
var releaseScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then
	return {1, 0, ''}
end
local decoded = cjson.decode(current)
if decoded.session_name ~= ARGV[2] then
	return {0, 1, current}
end
redis.call('HDEL', KEYS[1], ARGV[1])
return {1, 0, ''}
`)

func (s *redisStore) ReleaseFileLock(ctx context.Context, key, field, sessionName string) (ReleaseResult, error) {
	var result ReleaseResult
	err := s.withRetry(ctx, func() error {
		res, err := releaseScript.Run(ctx, s.client, []string{key}, field, sessionName).Result()
		if err != nil {
			return err
		}
		arr, ok := res.([]interface{})
		if !ok || len(arr) != 3 {
			return fmt.Errorf("unexpected release script result: %v", res)
		}
		released, _ := arr[0].(int64)
		notOwner, _ := arr[1].(int64)
		existing, _ := arr[2].(string)
		result = ReleaseResult{Released: released == 1, NotOwner: notOwner == 1}
		if existing != "" {
			result.Existing = []byte(existing)
		}
		return nil
	})
	return result, err
}
