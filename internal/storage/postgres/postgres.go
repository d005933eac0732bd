package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/storage"
)

var (
	_ storage.Backend   = (*postgresBackend)(nil)
	_ storage.RunLoader = (*postgresBackend)(nil)
)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS rank_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL,
	language TEXT NOT NULL,
	device TEXT NOT NULL,
	total_queries INTEGER NOT NULL,
	processed_queries INTEGER NOT NULL,
	total_results INTEGER NOT NULL,
	total_brand_matches INTEGER NOT NULL,
	total_local_pack_matches INTEGER NOT NULL,
	api_calls_made INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	elapsed_seconds DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS rank_observations (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES rank_runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	keyword TEXT NOT NULL,
	brand_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	title TEXT NOT NULL,
	address TEXT NOT NULL DEFAULT '',
	rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating_count INTEGER NOT NULL DEFAULT 0,
	category TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	website TEXT NOT NULL DEFAULT '',
	cid TEXT NOT NULL DEFAULT '',
	rank_position INTEGER,
	is_local_pack BOOLEAN NOT NULL,
	local_pack_position INTEGER,
	brand_match BOOLEAN NOT NULL,
	not_found BOOLEAN NOT NULL,
	device_type TEXT NOT NULL,
	country TEXT NOT NULL,
	language TEXT NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	source_latitude DOUBLE PRECISION,
	source_longitude DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS rank_observations_run_idx ON rank_observations (run_id, seq);
`

var observationColumns = []string{
	"id", "run_id", "seq", "keyword", "brand_name", "branch_name", "title", "address", "rating",
	"rating_count", "category", "phone", "website", "cid", "rank_position", "is_local_pack",
	"local_pack_position", "brand_match", "not_found", "device_type", "country", "language", "page",
	"source_latitude", "source_longitude", "created_at",
}

// New creates a new Postgres-backed storage.Backend and applies the schema.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

// SaveRun upserts the run and bulk-copies its observations, replacing any
// stored under the same run id.
func (b *postgresBackend) SaveRun(ctx context.Context, run *model.RunResult) error {
	storage.Stamp(run)

	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
		INSERT INTO rank_runs (
			id, status, error, error_kind, country, language, device, total_queries, processed_queries,
			total_results, total_brand_matches, total_local_pack_matches, api_calls_made,
			started_at, finished_at, elapsed_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			processed_queries = EXCLUDED.processed_queries,
			total_results = EXCLUDED.total_results,
			total_brand_matches = EXCLUDED.total_brand_matches,
			total_local_pack_matches = EXCLUDED.total_local_pack_matches,
			api_calls_made = EXCLUDED.api_calls_made,
			finished_at = EXCLUDED.finished_at,
			elapsed_seconds = EXCLUDED.elapsed_seconds`,
			run.ID, string(run.Status), run.Error, run.ErrorKind,
			run.Locale.Country, run.Locale.Language, run.Locale.Device,
			run.TotalQueries, run.ProcessedQueries, run.TotalResults, run.TotalBrandMatches,
			run.TotalLocalPackMatches, run.APICallsMade,
			run.StartedAt, run.FinishedAt, run.ElapsedSeconds,
		)
		if err != nil {
			return fmt.Errorf("postgres: save run %s: %w", run.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM rank_observations WHERE run_id = $1`, run.ID); err != nil {
			return fmt.Errorf("postgres: clear observations: %w", err)
		}

		obs := run.Observations
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"rank_observations"}, observationColumns,
			pgx.CopyFromSlice(len(obs), func(i int) ([]any, error) {
				o := obs[i]
				return []any{
					o.ID, o.RunID, o.Seq, o.Keyword, o.BrandName, o.BranchName, o.Title, o.Address, o.Rating,
					o.RatingCount, o.Category, o.Phone, o.Website, o.CID, o.RankPosition, o.IsLocalPack,
					o.LocalPackPosition, o.BrandMatch, o.NotFound, o.DeviceType, o.Country, o.Language, o.Page,
					o.SourceLatitude, o.SourceLongitude, o.CreatedAt,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("postgres: copy observations: %w", err)
		}
		return nil
	})
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*model.Observation, error) {
	query := `SELECT ` + strings.Join(observationColumns, ", ") + ` FROM rank_observations WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, paramCount)
		args = append(args, filter.RunID)
		paramCount++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, paramCount)
		args = append(args, filter.Keyword)
		paramCount++
	}
	if filter.BrandMatch != nil {
		query += fmt.Sprintf(` AND brand_match = $%d`, paramCount)
		args = append(args, *filter.BrandMatch)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at ASC, seq ASC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query observations: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Observation, error) {
		var o model.Observation
		err := row.Scan(
			&o.ID, &o.RunID, &o.Seq, &o.Keyword, &o.BrandName, &o.BranchName, &o.Title, &o.Address, &o.Rating,
			&o.RatingCount, &o.Category, &o.Phone, &o.Website, &o.CID, &o.RankPosition, &o.IsLocalPack,
			&o.LocalPackPosition, &o.BrandMatch, &o.NotFound, &o.DeviceType, &o.Country, &o.Language, &o.Page,
			&o.SourceLatitude, &o.SourceLongitude, &o.CreatedAt,
		)
		return &o, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan observations: %w", err)
	}
	return results, nil
}

func (b *postgresBackend) LoadRun(ctx context.Context, id string) (*model.RunResult, error) {
	run := &model.RunResult{}
	var status string

	err := b.pool.QueryRow(ctx, `
	SELECT id, status, error, error_kind, country, language, device, total_queries, processed_queries,
		total_results, total_brand_matches, total_local_pack_matches, api_calls_made,
		started_at, finished_at, elapsed_seconds
	FROM rank_runs WHERE id = $1`, id).Scan(
		&run.ID, &status, &run.Error, &run.ErrorKind, &run.Locale.Country, &run.Locale.Language, &run.Locale.Device,
		&run.TotalQueries, &run.ProcessedQueries, &run.TotalResults, &run.TotalBrandMatches,
		&run.TotalLocalPackMatches, &run.APICallsMade, &run.StartedAt, &run.FinishedAt, &run.ElapsedSeconds,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load run %s: %w", id, err)
	}
	run.Status = model.RunStatus(status)

	obs, err := b.Query(ctx, storage.Filter{RunID: id})
	if err != nil {
		return nil, err
	}
	run.Observations = obs
	return run, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
