package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned when no fresh entry exists for a key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned for a stored hash that cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Hash fields of a stored entry.
const (
	fieldMovieID  = "movie_id"
	fieldData     = "data"
	fieldExpires  = "expires_ms"
	fieldCachedAt = "cached_at_ms"
)

// Manager stores movie entries as Redis hashes expiring with the entry.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a manager on redisClient. It panics on nil.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{redis: redisClient}
}

// Get returns the fresh entry for key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*MovieEntry, error) {
	fields, err := m.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	entry, err := decodeEntry(fields)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}
	if entry.IsExpired() {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set writes entry under key with the entry's remaining TTL. Entries without
// remaining freshness are not stored.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *MovieEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	k := key.String()
	pipe := m.redis.TxPipeline()
	pipe.HSet(ctx, k,
		fieldMovieID, entry.MovieID,
		fieldData, string(entry.Data),
		fieldExpires, entry.Expires.UnixMilli(),
		fieldCachedAt, entry.CachedAt.UnixMilli(),
	)
	pipe.PExpire(ctx, k, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}

	CacheStoredBytes.Add(float64(len(entry.Data)))
	return nil
}

// Delete removes the entry for key.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func decodeEntry(fields map[string]string) (*MovieEntry, error) {
	data, ok := fields[fieldData]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidEntry, fieldData)
	}

	ints := make(map[string]int64, 3)
	for _, name := range []string{fieldMovieID, fieldExpires, fieldCachedAt} {
		n, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, name, err)
		}
		ints[name] = n
	}
	if ints[fieldMovieID] <= 0 {
		return nil, fmt.Errorf("%w: movie id %d", ErrInvalidEntry, ints[fieldMovieID])
	}

	return &MovieEntry{
		MovieID:  ints[fieldMovieID],
		Data:     []byte(data),
		Expires:  time.UnixMilli(ints[fieldExpires]),
		CachedAt: time.UnixMilli(ints[fieldCachedAt]),
	}, nil
}
