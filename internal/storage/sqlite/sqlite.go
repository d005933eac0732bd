package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/FranksOps/rankscout/internal/model"
	"github.com/FranksOps/rankscout/internal/storage"
)

var (
	_ storage.Backend   = (*sqliteBackend)(nil)
	_ storage.RunLoader = (*sqliteBackend)(nil)
)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rank_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	error TEXT,
	error_kind TEXT,
	country TEXT NOT NULL,
	language TEXT NOT NULL,
	device TEXT NOT NULL,
	total_queries INTEGER NOT NULL,
	processed_queries INTEGER NOT NULL,
	total_results INTEGER NOT NULL,
	total_brand_matches INTEGER NOT NULL,
	total_local_pack_matches INTEGER NOT NULL,
	api_calls_made INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	elapsed_seconds REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS rank_observations (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES rank_runs(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	keyword TEXT NOT NULL,
	brand_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	title TEXT NOT NULL,
	address TEXT,
	rating REAL,
	rating_count INTEGER,
	category TEXT,
	phone TEXT,
	website TEXT,
	cid TEXT,
	rank_position INTEGER,
	is_local_pack BOOLEAN NOT NULL,
	local_pack_position INTEGER,
	brand_match BOOLEAN NOT NULL,
	not_found BOOLEAN NOT NULL,
	device_type TEXT NOT NULL,
	country TEXT NOT NULL,
	language TEXT NOT NULL,
	page INTEGER,
	source_latitude REAL,
	source_longitude REAL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS rank_observations_run_idx ON rank_observations (run_id, seq);
`

const observationColumns = `id, run_id, seq, keyword, brand_name, branch_name, title, address, rating,
	rating_count, category, phone, website, cid, rank_position, is_local_pack, local_pack_position,
	brand_match, not_found, device_type, country, language, page, source_latitude, source_longitude, created_at`

// New creates a new SQLite-backed storage.Backend. dsn is a file path or a
// modernc.org/sqlite URI such as "file:runs?mode=memory&cache=shared".
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

// SaveRun stores the run and replaces any observations already stored under
// its id, in a single transaction.
func (b *sqliteBackend) SaveRun(ctx context.Context, run *model.RunResult) (err error) {
	storage.Stamp(run)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO rank_runs (
		id, status, error, error_kind, country, language, device, total_queries, processed_queries,
		total_results, total_brand_matches, total_local_pack_matches, api_calls_made,
		started_at, finished_at, elapsed_seconds
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Error, run.ErrorKind,
		run.Locale.Country, run.Locale.Language, run.Locale.Device,
		run.TotalQueries, run.ProcessedQueries, run.TotalResults, run.TotalBrandMatches,
		run.TotalLocalPackMatches, run.APICallsMade,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), run.ElapsedSeconds,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save run %s: %w", run.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM rank_observations WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("sqlite: clear observations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO rank_observations (`+observationColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range run.Observations {
		_, err = stmt.ExecContext(ctx,
			o.ID, o.RunID, o.Seq, o.Keyword, o.BrandName, o.BranchName, o.Title, o.Address, o.Rating,
			o.RatingCount, o.Category, o.Phone, o.Website, o.CID, o.RankPosition, o.IsLocalPack,
			o.LocalPackPosition, o.BrandMatch, o.NotFound, o.DeviceType, o.Country, o.Language, o.Page,
			o.SourceLatitude, o.SourceLongitude, o.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: save observation %s: %w", o.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*model.Observation, error) {
	var (
		where []string
		args  []any
	)
	if filter.RunID != "" {
		where = append(where, `run_id = ?`)
		args = append(args, filter.RunID)
	}
	if filter.Keyword != "" {
		where = append(where, `keyword = ?`)
		args = append(args, filter.Keyword)
	}
	if filter.BrandMatch != nil {
		where = append(where, `brand_match = ?`)
		args = append(args, *filter.BrandMatch)
	}
	if filter.Since != nil {
		where = append(where, `created_at >= ?`)
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + observationColumns + ` FROM rank_observations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at ASC, seq ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query observations: %w", err)
	}
	defer rows.Close()

	results := []*model.Observation{}
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate observations: %w", err)
	}
	return results, nil
}

func (b *sqliteBackend) LoadRun(ctx context.Context, id string) (*model.RunResult, error) {
	run := &model.RunResult{}
	var runErr, kind sql.NullString
	var status string

	err := b.db.QueryRowContext(ctx, `
	SELECT id, status, error, error_kind, country, language, device, total_queries, processed_queries,
		total_results, total_brand_matches, total_local_pack_matches, api_calls_made,
		started_at, finished_at, elapsed_seconds
	FROM rank_runs WHERE id = ?`, id).Scan(
		&run.ID, &status, &runErr, &kind, &run.Locale.Country, &run.Locale.Language, &run.Locale.Device,
		&run.TotalQueries, &run.ProcessedQueries, &run.TotalResults, &run.TotalBrandMatches,
		&run.TotalLocalPackMatches, &run.APICallsMade, &run.StartedAt, &run.FinishedAt, &run.ElapsedSeconds,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load run %s: %w", id, err)
	}
	run.Status = model.RunStatus(status)
	run.Error, run.ErrorKind = runErr.String, kind.String

	obs, err := b.Query(ctx, storage.Filter{RunID: id})
	if err != nil {
		return nil, err
	}
	run.Observations = obs
	return run, nil
}

func scanObservation(rows *sql.Rows) (*model.Observation, error) {
	var (
		o                                      model.Observation
		address, category, phone, website, cid sql.NullString
		rating                                 sql.NullFloat64
		ratingCount, page                      sql.NullInt64
	)
	err := rows.Scan(
		&o.ID, &o.RunID, &o.Seq, &o.Keyword, &o.BrandName, &o.BranchName, &o.Title, &address, &rating,
		&ratingCount, &category, &phone, &website, &cid, &o.RankPosition, &o.IsLocalPack,
		&o.LocalPackPosition, &o.BrandMatch, &o.NotFound, &o.DeviceType, &o.Country, &o.Language, &page,
		&o.SourceLatitude, &o.SourceLongitude, &o.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan observation: %w", err)
	}
	o.Address, o.Category, o.Phone, o.Website, o.CID = address.String, category.String, phone.String, website.String, cid.String
	o.Rating = rating.Float64
	o.RatingCount = int(ratingCount.Int64)
	o.Page = int(page.Int64)
	return &o, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
