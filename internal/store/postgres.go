// Package store implements candidate paging and metadata writes on Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/movie-backfill/pkg/backfill"
	"github.com/Sternrassler/movie-backfill/pkg/logging"
	"github.com/Sternrassler/movie-backfill/pkg/pagination"
)

// ErrRecordNotFound is returned when an update addresses a movie that does not exist.
var ErrRecordNotFound = errors.New("record not found")

// Querier is the subset of pgx used by the store. Both *pgxpool.Pool and *pgx.Conn
// satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Postgres reads candidates from links joined with movies and writes movies.metadata.
type Postgres struct {
	db     Querier
	psql   sq.StatementBuilderType
	logger zerolog.Logger
}

// NewPostgres creates a store on top of db.
func NewPostgres(db Querier) *Postgres {
	if db == nil {
		panic("store: querier cannot be nil")
	}
	return &Postgres{
		db:     db,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		logger: logging.NewLogger(logging.ComponentStore),
	}
}

// Open creates a connection pool for dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger := logging.NewLogger(logging.ComponentStore)
	logger.Info().
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Database connection pool created")

	return pool, nil
}

// FetchPage returns up to pageSize candidates whose metadata equals the empty JSON
// object, ordered by movie_id and starting strictly after cursor. Rows with NULL
// metadata are not candidates. A NULL external id reads as 0.
func (p *Postgres) FetchPage(ctx context.Context, pageSize int, cursor pagination.Cursor) ([]backfill.Candidate, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0 (got %d)", pageSize)
	}

	query := p.psql.
		Select("l.movie_id", "COALESCE(l.imdb_id, 0)", "COALESCE(l.tmdb_id, 0)").
		From("links l").
		Join("movies m ON m.movie_id = l.movie_id").
		Where("m.metadata = '{}'::jsonb").
		OrderBy("l.movie_id ASC").
		Limit(uint64(pageSize))

	if after, ok := cursor.ID(); ok {
		query = query.Where(sq.Gt{"l.movie_id": after})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	candidates, err := pgx.CollectRows(rows, pgx.RowToStructByPos[backfill.Candidate])
	if err != nil {
		return nil, fmt.Errorf("scan candidates: %w", err)
	}

	p.logger.Debug().
		Str("cursor", cursor.String()).
		Int("rows", len(candidates)).
		Msg("Candidate page read")

	return candidates, nil
}

// UpdateMetadata overwrites movies.metadata for movieID. It never inserts; an unknown
// id yields ErrRecordNotFound.
func (p *Postgres) UpdateMetadata(ctx context.Context, movieID int64, metadata json.RawMessage) error {
	sql, args, err := p.psql.
		Update("movies").
		Set("metadata", sq.Expr("?::jsonb", string(metadata))).
		Where(sq.Eq{"movie_id": movieID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update movie %d: %w", movieID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update movie %d: %w", movieID, ErrRecordNotFound)
	}

	return nil
}
