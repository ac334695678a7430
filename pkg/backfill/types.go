package backfill

import (
	"context"
	"encoding/json"

	"github.com/Sternrassler/movie-backfill/pkg/pagination"
)

// Candidate is a stored movie whose metadata is still the empty object.
type Candidate struct {
	// MovieID is the local, strictly increasing identifier used as the cursor.
	MovieID int64 `json:"movie_id"`

	// IMDbID is the secondary external key carried along from storage.
	IMDbID int64 `json:"imdb_id"`

	// TMDbID is the key the metadata API is queried with.
	TMDbID int64 `json:"tmdb_id"`
}

// CandidateKey is the pagination key of a Candidate.
func CandidateKey(c Candidate) int64 {
	return c.MovieID
}

// Payload is one fetched metadata document. Data stays opaque; ExternalID is the
// document's own id and is what reconciliation matches against Candidate.TMDbID.
type Payload struct {
	ExternalID int64
	Data       json.RawMessage
}

// CandidateSource pages through candidates in ascending MovieID order.
type CandidateSource = pagination.PageSource[Candidate]

// MetadataWriter overwrites the metadata of an existing movie. It must fail when no
// movie with that id exists and must never insert.
type MetadataWriter interface {
	UpdateMetadata(ctx context.Context, movieID int64, metadata json.RawMessage) error
}

// BatchFetcher fetches payloads for a batch of external ids, best effort.
type BatchFetcher interface {
	Fetch(ctx context.Context, ids []int64) ([]Payload, error)
}
