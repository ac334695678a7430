// Package tmdb is the client for the external movie metadata API.
//
// Every call is a single GET <base>/{id} carrying a bearer token read from the
// environment at call time. The client never retries: a failed call is reported to the
// caller, which decides whether the failure is tolerable.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/movie-backfill/pkg/cache"
	"github.com/Sternrassler/movie-backfill/pkg/logging"
)

// Prometheus metrics for metadata API calls.
var (
	tmdbRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tmdb_requests_total",
		Help: "Total metadata API requests by outcome status",
	}, []string{"status"})

	tmdbRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tmdb_request_duration_seconds",
		Help:    "Metadata API request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	tmdbErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tmdb_errors_total",
		Help: "Total metadata API errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the movie details endpoint; the id is appended as a path segment.
	DefaultBaseURL = "https://api.themoviedb.org/3/movie"

	// DefaultTokenEnv names the environment variable holding the bearer token.
	DefaultTokenEnv = "TMDB_ACCESS_TOKEN"

	// maxErrorBody caps how much of an error response is read for diagnostics.
	maxErrorBody = 4 << 10
)

// Movie is a fetched movie payload. Raw is kept opaque; only the id is interpreted.
type Movie struct {
	// ID is the payload's "id" field, always > 0.
	ID int64

	// Raw is the response body as returned by the API.
	Raw json.RawMessage

	// FromCache is true when the payload came from the response cache.
	FromCache bool
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the resource collection URL; requests go to BaseURL + "/" + id.
	BaseURL string

	// TokenEnv is the environment variable read for the bearer token on every call.
	TokenEnv string

	// Token, when set, replaces the environment lookup.
	Token func() string

	// HTTPClient defaults to a client without timeout (transport defaults only).
	HTTPClient *http.Client

	// Timeout bounds a single call when > 0.
	Timeout time.Duration

	// RequestsPerSecond spaces call starts when > 0. It never caps concurrency.
	RequestsPerSecond float64

	// Language is sent as the language query parameter when non-empty.
	Language string

	// Cache is an optional response cache.
	Cache *cache.Manager
}

// DefaultConfig returns the configuration matching the public API defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		TokenEnv: DefaultTokenEnv,
	}
}

// Client fetches movie metadata.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      func() string
	limiter    *rate.Limiter
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a new metadata API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}

	token := cfg.Token
	if token == nil {
		envName := cfg.TokenEnv
		if envName == "" {
			envName = DefaultTokenEnv
		}
		// Looked up per call so a rotated token is picked up without a restart.
		token = func() string { return os.Getenv(envName) }
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		token:      token,
		limiter:    limiter,
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentTMDB),
	}, nil
}

// GetMovie fetches a single movie by its external id.
func (c *Client) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	key := c.cacheKey(id)

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Int64("tmdb_id", id).Msg("Served from cache")
			tmdbRequestsTotal.WithLabelValues("cache").Inc()
			return &Movie{ID: entry.MovieID, Raw: entry.Data, FromCache: true}, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Int64("tmdb_id", id).Msg("Cache get error")
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.movieURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	tmdbRequestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		tmdbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		tmdbRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	tmdbRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode)
		tmdbErrorsTotal.WithLabelValues(string(class)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := resp.Status
		if sm := gjson.GetBytes(body, "status_message"); sm.Exists() {
			msg = sm.String()
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    msg,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}

	movie, err := newMovie(body)
	if err != nil {
		tmdbErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, cache.NewEntry(movie.ID, body, resp.Header)); err != nil {
			c.logger.Warn().Err(err).Int64("tmdb_id", id).Msg("Failed to cache response")
		}
	}

	return movie, nil
}

func (c *Client) movieURL(id int64) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + strconv.FormatInt(id, 10)
	if c.config.Language != "" {
		u.RawQuery = url.Values{"language": []string{c.config.Language}}.Encode()
	}
	return u.String()
}

func (c *Client) cacheKey(id int64) cache.CacheKey {
	key := cache.CacheKey{Resource: "movie", ID: id}
	if c.config.Language != "" {
		key.QueryParams = url.Values{"language": []string{c.config.Language}}
	}
	return key
}

// newMovie validates a 200 body. Without a positive numeric id the payload could
// never be reconciled to the row it was requested for, so it is a failed fetch.
func newMovie(body []byte) (*Movie, error) {
	id := gjson.GetBytes(body, "id")
	if id.Type != gjson.Number || id.Int() <= 0 {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassPayload,
			Message:    fmt.Sprintf("id field %q", id.Raw),
			Err:        ErrMissingID,
		}
	}

	return &Movie{
		ID:  id.Int(),
		Raw: json.RawMessage(body),
	}, nil
}
