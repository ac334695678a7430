package backfill

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/movie-backfill/pkg/logging"
	"github.com/Sternrassler/movie-backfill/pkg/pagination"
)

// DefaultBatchSize is the page size used when none is configured.
const DefaultBatchSize = 40

// Config holds driver configuration.
type Config struct {
	// BatchSize is the number of candidates read, fetched and persisted per iteration.
	BatchSize int

	// Progress receives one human-readable line per batch (default: os.Stdout).
	Progress io.Writer
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		Progress:  os.Stdout,
	}
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID      string
	Pages      int
	Candidates int
	Fetched    int

	// Updated is the running total of successful writes.
	Updated int

	Duration time.Duration
}

// Driver runs the enrichment loop until the source is exhausted.
type Driver struct {
	source    CandidateSource
	fetcher   BatchFetcher
	persister *Persister
	config    Config
	logger    zerolog.Logger
}

// NewDriver wires the three pipeline stages.
func NewDriver(source CandidateSource, fetcher BatchFetcher, persister *Persister, cfg Config) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if persister == nil {
		return nil, fmt.Errorf("persister is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.Progress == nil {
		cfg.Progress = io.Discard
	}

	return &Driver{
		source:    source,
		fetcher:   fetcher,
		persister: persister,
		config:    cfg,
		logger:    logging.NewLogger(logging.ComponentDriver),
	}, nil
}

// Run loops until the source yields an empty page. Any storage or fetcher error ends
// the run; the returned summary then reflects the work done so far.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	summary := Summary{RunID: uuid.NewString()}
	logger := d.logger.With().Str("run_id", summary.RunID).Logger()

	paginator, err := pagination.New(d.source, d.config.BatchSize, CandidateKey)
	if err != nil {
		return summary, err
	}

	logger.Info().Int("batch_size", d.config.BatchSize).Msg("Backfill started")

	for {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}

		page, err := paginator.Next(ctx)
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("read candidates: %w", err)
		}
		if len(page) == 0 {
			break
		}

		summary.Pages++
		summary.Candidates += len(page)
		pagesTotal.Inc()
		candidatesTotal.Add(float64(len(page)))

		ids := make([]int64, len(page))
		for i, c := range page {
			ids[i] = c.TMDbID
		}

		payloads, err := d.fetcher.Fetch(ctx, ids)
		if err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("fetch batch after %s: %w", paginator.Cursor(), err)
		}
		summary.Fetched += len(payloads)

		updated := d.persister.Persist(ctx, payloads, page)
		summary.Updated += updated

		logger.Info().
			Int("page", summary.Pages).
			Str("cursor", paginator.Cursor().String()).
			Int("candidates", len(page)).
			Int("fetched", len(payloads)).
			Int("updated", updated).
			Int("total_updated", summary.Updated).
			Msg("Batch processed")

		fmt.Fprintf(d.config.Progress, "Updated items count: %d\n", summary.Updated)
	}

	summary.Duration = time.Since(start)

	logger.Info().
		Int("pages", summary.Pages).
		Int("candidates", summary.Candidates).
		Int("updated", summary.Updated).
		Dur("duration", summary.Duration).
		Msg("Backfill complete")

	return summary, nil
}
