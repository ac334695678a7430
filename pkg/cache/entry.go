package cache

import (
	"encoding/json"
	"net/http"
	"time"
)

// MovieEntry is one cached movie payload. MovieID is the payload's own "id", stored
// alongside so a hit needs no reparse.
type MovieEntry struct {
	MovieID  int64
	Data     json.RawMessage
	Expires  time.Time
	CachedAt time.Time
}

// NewEntry builds an entry for a validated payload; freshness comes from headers.
func NewEntry(movieID int64, body []byte, headers http.Header) *MovieEntry {
	now := time.Now()
	return &MovieEntry{
		MovieID:  movieID,
		Data:     json.RawMessage(body),
		Expires:  freshUntil(headers, now),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *MovieEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *MovieEntry) TTL() time.Duration {
	if ttl := time.Until(e.Expires); ttl > 0 {
		return ttl
	}
	return 0
}
