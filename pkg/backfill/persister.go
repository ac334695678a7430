package backfill

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/movie-backfill/pkg/logging"
	"github.com/Sternrassler/movie-backfill/pkg/settle"
)

// Persister reconciles fetched payloads with the candidates that requested them and
// writes each match independently.
type Persister struct {
	writer MetadataWriter
	logger zerolog.Logger
}

// NewPersister creates a persister writing through writer.
func NewPersister(writer MetadataWriter) *Persister {
	return &Persister{
		writer: writer,
		logger: logging.NewLogger(logging.ComponentPersister),
	}
}

type match struct {
	candidate Candidate
	payload   Payload
}

// Persist writes every candidate that has a payload with ExternalID == TMDbID and
// returns how many writes succeeded. Ids <= 0 on either side never match. Either input being empty is a no-op.
func (p *Persister) Persist(ctx context.Context, payloads []Payload, candidates []Candidate) int {
	if len(payloads) == 0 || len(candidates) == 0 {
		return 0
	}

	byExternalID := make(map[int64]Payload, len(payloads))
	for _, pl := range payloads {
		if pl.ExternalID <= 0 {
			continue
		}
		// First payload wins, as a linear scan would.
		if _, dup := byExternalID[pl.ExternalID]; !dup {
			byExternalID[pl.ExternalID] = pl
		}
	}

	matches := make([]match, 0, len(candidates))
	for _, c := range candidates {
		// A NULL external id is read as 0; such rows never match.
		if c.TMDbID <= 0 {
			reconcileMissesTotal.Inc()
			continue
		}
		pl, ok := byExternalID[c.TMDbID]
		if !ok {
			reconcileMissesTotal.Inc()
			continue
		}
		matches = append(matches, match{candidate: c, payload: pl})
	}

	results := settle.All(ctx, len(matches), 0, func(ctx context.Context, i int) (int64, error) {
		m := matches[i]
		return m.candidate.MovieID, p.writer.UpdateMetadata(ctx, m.candidate.MovieID, m.payload.Data)
	})

	for _, r := range results {
		if r.Fulfilled() {
			continue
		}
		writeFailuresTotal.Inc()
		p.logger.Warn().
			Err(r.Err).
			Int64("movie_id", matches[r.Index].candidate.MovieID).
			Int64("tmdb_id", matches[r.Index].candidate.TMDbID).
			Msg("Metadata write failed")
	}

	updated := settle.CountFulfilled(results)
	recordsUpdatedTotal.Add(float64(updated))

	return updated
}
