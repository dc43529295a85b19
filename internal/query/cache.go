package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	rediscache "github.com/Adithya-Monish-Kumar-K/retrieval-pipeline/pkg/redis"
)

// Store persists cache entries. Get returns nil, nil on a miss or when the
// stored entry has expired.
type Store interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry) error
	Invalidate(ctx context.Context) (int64, error)
}

const redisKeyPrefix = "rp:answer:"

// HashClient is the subset of the Redis client the answer cache uses.
type HashClient interface {
	SetHash(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	IncrHashField(ctx context.Context, key, field string, by int64) (int64, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// RedisStore keeps each entry in a hash with a server-side TTL. ExpiresAt is
// checked again on read.
type RedisStore struct {
	client HashClient
	now    func() time.Time
}

func NewRedisStore(client HashClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*CacheEntry, error) {
	fields, err := s.client.GetHash(ctx, redisKeyPrefix+key)
	if err != nil {
		if rediscache.IsNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry, err := decodeEntry(key, fields)
	if err != nil {
		return nil, err
	}
	if entry.Expired(s.now()) {
		return nil, nil
	}

	hits, err := s.client.IncrHashField(ctx, redisKeyPrefix+key, "hit_count", 1)
	if err == nil {
		entry.HitCount = hits
	}
	return entry, nil
}

func decodeEntry(key string, fields map[string]string) (*CacheEntry, error) {
	entry := &CacheEntry{QueryKey: key}
	if err := json.Unmarshal([]byte(fields["result"]), &entry.Result); err != nil {
		return nil, fmt.Errorf("decoding cached answer: %w", err)
	}
	var err error
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decoding created_at: %w", err)
	}
	if entry.ExpiresAt, err = time.Parse(time.RFC3339Nano, fields["expires_at"]); err != nil {
		return nil, fmt.Errorf("decoding expires_at: %w", err)
	}
	entry.HitCount, _ = strconv.ParseInt(fields["hit_count"], 10, 64)
	return entry, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	result, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("encoding answer: %w", err)
	}
	return s.client.SetHash(ctx, redisKeyPrefix+entry.QueryKey, map[string]any{
		"result":     string(result),
		"hit_count":  entry.HitCount,
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": entry.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}, ttl)
}

func (s *RedisStore) Invalidate(ctx context.Context) (int64, error) {
	return s.client.FlushByPattern(ctx, redisKeyPrefix+"*")
}

// MemoryStore is an in-process LRU used when Redis is disabled.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, CacheEntry]
	now   func() time.Time
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1000
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, CacheEntry](size, nil, ttl),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	if entry.Expired(s.now()) {
		s.cache.Remove(key)
		return nil, nil
	}
	entry.HitCount++
	s.cache.Add(key, entry)
	return &entry, nil
}

func (s *MemoryStore) Put(_ context.Context, entry *CacheEntry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(entry.QueryKey, *entry)
	return nil
}

func (s *MemoryStore) Invalidate(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cache.Len()
	s.cache.Purge()
	return int64(n), nil
}
