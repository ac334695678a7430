package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Sternrassler/movie-backfill/pkg/backfill"
	"github.com/Sternrassler/movie-backfill/pkg/pagination"
)

// ErrMovieNotFound is returned by MemoryStore.UpdateMetadata for unknown ids.
var ErrMovieNotFound = errors.New("movie not found")

// EmptyMetadata is the marker value of a movie that still needs enrichment.
var EmptyMetadata = json.RawMessage(`{}`)

// MovieRow is one stored movie joined with its external ids.
type MovieRow struct {
	MovieID int64
	IMDbID  int64
	TMDbID  int64

	// Metadata is nil for SQL NULL.
	Metadata json.RawMessage
}

// MemoryStore is an in-memory candidate source and metadata writer with the same
// filtering rules as the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[int64]*MovieRow

	// FailUpdates makes UpdateMetadata fail for the given movie ids.
	FailUpdates map[int64]error

	// Tracking
	PageCalls   int
	UpdateCalls int
	Cursors     []pagination.Cursor
}

// NewMemoryStore creates a store seeded with rows.
func NewMemoryStore(rows ...MovieRow) *MemoryStore {
	s := &MemoryStore{
		rows:        make(map[int64]*MovieRow, len(rows)),
		FailUpdates: make(map[int64]error),
	}
	for _, r := range rows {
		s.Put(r)
	}
	return s
}

// Put inserts or replaces a row.
func (s *MemoryStore) Put(row MovieRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := row
	s.rows[row.MovieID] = &r
}

// EmptyMovies returns n rows with ids 1..n, TMDb id 1000+id and empty metadata.
func EmptyMovies(n int) []MovieRow {
	rows := make([]MovieRow, n)
	for i := range rows {
		id := int64(i + 1)
		rows[i] = MovieRow{MovieID: id, IMDbID: id, TMDbID: 1000 + id, Metadata: EmptyMetadata}
	}
	return rows
}

// FetchPage returns up to pageSize candidates whose metadata is the empty object and
// whose MovieID is greater than cursor, ascending.
func (s *MemoryStore) FetchPage(ctx context.Context, pageSize int, cursor pagination.Cursor) ([]backfill.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.PageCalls++
	s.Cursors = append(s.Cursors, cursor)

	after, bounded := cursor.ID()

	ids := make([]int64, 0, len(s.rows))
	for id, r := range s.rows {
		if bounded && id <= after {
			continue
		}
		if !isEmptyObject(r.Metadata) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) > pageSize {
		ids = ids[:pageSize]
	}

	page := make([]backfill.Candidate, len(ids))
	for i, id := range ids {
		r := s.rows[id]
		page[i] = backfill.Candidate{MovieID: r.MovieID, IMDbID: r.IMDbID, TMDbID: r.TMDbID}
	}
	return page, nil
}

// UpdateMetadata overwrites the metadata of an existing movie.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, movieID int64, metadata json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.UpdateCalls++

	if err, ok := s.FailUpdates[movieID]; ok {
		return err
	}
	r, ok := s.rows[movieID]
	if !ok {
		return fmt.Errorf("update movie %d: %w", movieID, ErrMovieNotFound)
	}
	r.Metadata = append(json.RawMessage(nil), metadata...)
	return nil
}

// Metadata returns the stored metadata of movieID.
func (s *MemoryStore) Metadata(movieID int64) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[movieID]
	if !ok {
		return nil, false
	}
	return r.Metadata, true
}

// GetPageCalls returns the number of FetchPage calls.
func (s *MemoryStore) GetPageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PageCalls
}

// GetUpdateCalls returns the number of UpdateMetadata calls.
func (s *MemoryStore) GetUpdateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpdateCalls
}

// isEmptyObject reports whether raw is exactly an empty JSON object. NULL, absent and
// any non-object value are not.
func isEmptyObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return false
	}
	return m != nil && len(m) == 0
}
