package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "tmdb"

// CacheKey identifies a cached API response.
type CacheKey struct {
	// Resource is the API resource kind (e.g. "movie").
	Resource string

	// ID is the external identifier the resource was requested with.
	ID int64

	// QueryParams are request query parameters that change the response (e.g. language).
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: tmdb:resource:id:query1=val1:query2=val2
//
// Example:
//
//	tmdb:movie:603:language=en-US
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if resource := strings.Trim(k.Resource, "/"); resource != "" {
		parts = append(parts, resource)
	}

	parts = append(parts, fmt.Sprintf("%d", k.ID))

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
