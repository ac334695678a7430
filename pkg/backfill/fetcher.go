package backfill

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/movie-backfill/pkg/logging"
	"github.com/Sternrassler/movie-backfill/pkg/ratelimit"
	"github.com/Sternrassler/movie-backfill/pkg/settle"
	"github.com/Sternrassler/movie-backfill/pkg/tmdb"
)

// MovieGetter fetches one movie by external id.
type MovieGetter interface {
	GetMovie(ctx context.Context, id int64) (*tmdb.Movie, error)
}

// FetcherConfig holds batch fetcher configuration.
type FetcherConfig struct {
	// Throttle configures the coalescer in front of every batch.
	Throttle ratelimit.Options

	// MaxConcurrency caps in-flight calls per batch; <= 0 means one call per id at once.
	MaxConcurrency int
}

// DefaultFetcherConfig returns a 1s coalescing window and unbounded per-batch fan-out.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Throttle: ratelimit.DefaultOptions(),
	}
}

// Fetcher is the throttled batch fetcher. Each batch fans out one call per id and
// waits for all of them to settle; batches themselves pass through a coalescer.
type Fetcher struct {
	getter    MovieGetter
	coalescer *ratelimit.Coalescer[[]int64, []Payload]
	config    FetcherConfig
	logger    zerolog.Logger
}

// NewFetcher creates a fetcher around getter.
func NewFetcher(getter MovieGetter, cfg FetcherConfig) (*Fetcher, error) {
	if getter == nil {
		return nil, fmt.Errorf("movie getter is required")
	}

	f := &Fetcher{
		getter: getter,
		config: cfg,
		logger: logging.NewLogger(logging.ComponentFetcher),
	}

	coalescer, err := ratelimit.NewCoalescer(f.fetchAll, cfg.Throttle, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create coalescer: %w", err)
	}
	f.coalescer = coalescer

	return f, nil
}

// Fetch returns the payloads of every id whose call succeeded, in input order.
//
// In coalesce mode a batch submitted while another is still inside its quiescence
// window replaces it, and both callers receive the later batch's payloads.
func (f *Fetcher) Fetch(ctx context.Context, ids []int64) ([]Payload, error) {
	return f.coalescer.Do(ctx, ids)
}

// State exposes the coalescer state.
func (f *Fetcher) State() ratelimit.State {
	return f.coalescer.State()
}

// Close stops the coalescer; pending batches fail with ratelimit.ErrClosed.
func (f *Fetcher) Close() error {
	return f.coalescer.Close()
}

func (f *Fetcher) fetchAll(ctx context.Context, ids []int64) ([]Payload, error) {
	results := settle.All(ctx, len(ids), f.config.MaxConcurrency, func(ctx context.Context, i int) (Payload, error) {
		movie, err := f.getter.GetMovie(ctx, ids[i])
		if err != nil {
			return Payload{}, err
		}
		return Payload{ExternalID: movie.ID, Data: movie.Raw}, nil
	})

	for _, r := range results {
		if r.Fulfilled() {
			continue
		}
		fetchFailuresTotal.Inc()
		f.logger.Warn().
			Err(r.Err).
			Int64("tmdb_id", ids[r.Index]).
			Msg("Metadata fetch failed")
	}

	payloads := settle.Fulfilled(results)

	f.logger.Debug().
		Int("requested", len(ids)).
		Int("fetched", len(payloads)).
		Msg("Batch fetch settled")

	return payloads, nil
}
