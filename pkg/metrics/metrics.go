// Package metrics serves the Prometheus registry. All metrics are defined in their
// respective packages (backfill, ratelimit, tmdb, cache) via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the HTTP handler exposing /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve listens on addr until ctx is cancelled, then shuts the server down.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return serve(ctx, ln)
}

func serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Metrics server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

// Metrics Documentation
//
// Pipeline Metrics (pkg/backfill):
//   - backfill_pages_total (Counter): Non-empty candidate pages processed
//   - backfill_candidates_total (Counter): Candidates read from storage
//   - backfill_fetch_failures_total (Counter): Per-item fetches dropped
//   - backfill_reconcile_misses_total (Counter): Candidates without a matching payload
//   - backfill_write_failures_total (Counter): Per-item writes dropped
//   - backfill_records_updated_total (Counter): Successful metadata writes
//
// Throttle Metrics (pkg/ratelimit):
//   - backfill_coalescer_requests_total{mode} (Counter): Batches submitted
//   - backfill_coalescer_executions_total{mode} (Counter): Batches executed
//   - backfill_coalescer_superseded_total (Counter): Batches replaced by a later one
//
// API Metrics (pkg/tmdb):
//   - tmdb_requests_total{status} (Counter): Requests by HTTP status, "cache" or "network_error"
//   - tmdb_request_duration_seconds (Histogram): Request duration
//   - tmdb_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Cache Metrics (pkg/cache):
//   - tmdb_cache_hits_total (Counter): Response cache hits
//   - tmdb_cache_misses_total (Counter): Response cache misses
//   - tmdb_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - tmdb_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Share of fetches that failed
//   rate(backfill_fetch_failures_total[5m]) / rate(backfill_candidates_total[5m])
//
//   # Batches discarded by coalescing
//   rate(backfill_coalescer_superseded_total[5m])
//
//   # P95 API latency
//   histogram_quantile(0.95, rate(tmdb_request_duration_seconds_bucket[5m]))
