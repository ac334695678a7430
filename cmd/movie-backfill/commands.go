package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/movie-backfill/internal/config"
	"github.com/Sternrassler/movie-backfill/internal/store"
	"github.com/Sternrassler/movie-backfill/pkg/backfill"
	"github.com/Sternrassler/movie-backfill/pkg/cache"
	"github.com/Sternrassler/movie-backfill/pkg/logging"
	"github.com/Sternrassler/movie-backfill/pkg/metrics"
	"github.com/Sternrassler/movie-backfill/pkg/tmdb"
)

// NewRootCmd creates the root command. Without a subcommand it runs the backfill.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "movie-backfill",
		Short: "Backfill empty movie metadata",
		Long: `movie-backfill pages through movies whose metadata is the empty object, fetches
their details from the metadata API in throttled batches and writes them back.
Re-running is safe: enriched movies drop out of the candidate set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runBackfill,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML, default $"+config.PathEnv+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Int("batch-size", 0, "Candidates per batch (default 40)")
	rootCmd.Flags().String("throttle-mode", "", "Batch throttle mode (coalesce, queue)")

	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// loadConfig loads the configuration and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Log.Level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("batch-size"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("batch-size")
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to get batch-size flag: %w", err)
		}
		cfg.Backfill.BatchSize = n
	}
	if f := cmd.Flags().Lookup("throttle-mode"); f != nil && f.Changed {
		cfg.Throttle.Mode = f.Value.String()
	}

	if _, err := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: cmd.ErrOrStderr(),
	}); err != nil {
		return config.Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = run(ctx, cfg, cmd.OutOrStdout())
	return err
}

// run wires the pipeline from cfg and drives it to exhaustion.
func run(ctx context.Context, cfg config.Config, progress io.Writer) (backfill.Summary, error) {
	logger := logging.NewLogger(logging.ComponentCLI)

	pool, err := store.Open(ctx, cfg.Database.URL, store.PoolConfig{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return backfill.Summary{}, err
	}
	defer pool.Close()

	pgStore := store.NewPostgres(pool)

	var responseCache *cache.Manager
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return backfill.Summary{}, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return backfill.Summary{}, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Response cache enabled")
		responseCache = cache.NewManager(redisClient)
	}

	client, err := tmdb.New(tmdb.Config{
		BaseURL:           cfg.TMDB.BaseURL,
		TokenEnv:          cfg.TMDB.TokenEnv,
		Timeout:           cfg.TMDB.Timeout,
		RequestsPerSecond: cfg.TMDB.RequestsPerSecond,
		Language:          cfg.TMDB.Language,
		Cache:             responseCache,
	})
	if err != nil {
		return backfill.Summary{}, fmt.Errorf("create metadata client: %w", err)
	}

	throttle, err := cfg.ThrottleOptions()
	if err != nil {
		return backfill.Summary{}, err
	}

	fetcher, err := backfill.NewFetcher(client, backfill.FetcherConfig{
		Throttle:       throttle,
		MaxConcurrency: cfg.TMDB.MaxConcurrency,
	})
	if err != nil {
		return backfill.Summary{}, err
	}
	defer fetcher.Close()

	driver, err := backfill.NewDriver(pgStore, fetcher, backfill.NewPersister(pgStore), backfill.Config{
		BatchSize: cfg.Backfill.BatchSize,
		Progress:  progress,
	})
	if err != nil {
		return backfill.Summary{}, err
	}

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()

	var g errgroup.Group
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(metricsCtx, cfg.Metrics.Addr) })
	}

	summary, runErr := driver.Run(ctx)

	stopMetrics()
	if err := g.Wait(); err != nil {
		logger.Warn().Err(err).Msg("Metrics server stopped with error")
	}

	if runErr != nil {
		return summary, runErr
	}

	logger.Info().
		Str("run_id", summary.RunID).
		Int("updated", summary.Updated).
		Int("candidates", summary.Candidates).
		Str("throttle_mode", string(throttle.Mode)).
		Msg("Backfill finished")

	return summary, nil
}
