// Package cache provides an optional Redis-backed cache for metadata API responses.
//
// Successful movie payloads are stored as Redis hashes (movie id, raw body, expiry)
// under a deterministic key with a TTL taken from the response's Cache-Control max-age
// or Expires header. The movie id is kept next to the body so a hit needs no reparse. A re-run of the backfill that
// asks for the same external identifiers within that TTL is served from Redis instead
// of the API.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{Resource: "movie", ID: 603}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API, then:
//		entry = cache.NewEntry(603, body, resp.Header)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// Cache failures are never fatal to the caller: the metadata client logs them and
// falls through to the API.
//
// # Metrics
//
//   - tmdb_cache_hits_total - Cache hits
//   - tmdb_cache_misses_total - Cache misses (including expired entries)
//   - tmdb_cache_stored_bytes_total - Bytes written to Redis
//   - tmdb_cache_errors_total{operation} - Cache operation errors
package cache
