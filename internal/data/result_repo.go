package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data/pgxutil"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

// ResultRepo provides insert-once persistence for job results. A job gets at
// most one result row; a duplicate insert from a redelivered message resolves
// to the row the first worker stored.
type ResultRepo struct {
	DB *sql.DB
}

// NewResultRepo constructs a ResultRepo.
func NewResultRepo(db *sql.DB) *ResultRepo {
	return &ResultRepo{DB: db}
}

const resultColumns = `
  id,
  job_id,
  repo_id,
  repo_full_name,
  status,
  analysis,
  duration_ms,
  created_at
`

// Create stores the result for a job. On a duplicate job_id the existing row
// is returned unchanged.
func (r *ResultRepo) Create(ctx context.Context, params core.CreateResultParams) (*model.Result, error) {
	if params.JobID == "" {
		return nil, ErrJobIDRequired
	}

	analysis := params.Analysis
	if len(analysis) == 0 {
		analysis = []byte(`{}`)
	}

	query := `
		INSERT INTO results (job_id, repo_id, repo_full_name, status, analysis, duration_ms)
		VALUES ($1, $2, $3, 'completed', $4, $5)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING ` + resultColumns

	var result *model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query,
			params.JobID, params.RepoID, params.RepoFullName, analysis, params.DurationMs)
		if qerr != nil {
			return fmt.Errorf("insert result: %w", qerr)
		}
		res, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Result])
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict path: another worker already stored the result.
		return r.GetByJobID(ctx, params.JobID)
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// GetByJobID retrieves the result stored for a job.
func (r *ResultRepo) GetByJobID(ctx context.Context, jobID string) (*model.Result, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	query := `SELECT ` + resultColumns + ` FROM results WHERE job_id = $1`

	var result *model.Result
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, jobID)
		if qerr != nil {
			return fmt.Errorf("query result: %w", qerr)
		}
		res, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Result])
		if cerr != nil {
			return cerr
		}
		result = res
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// ListByRepo returns results for a repository, newest first.
func (r *ResultRepo) ListByRepo(ctx context.Context, repoID string, limit, offset int) ([]*model.Result, error) {
	if repoID == "" {
		return nil, errors.New("repo id is required")
	}
	if limit <= 0 {
		limit = 50 // Default limit
	}
	if limit > 1000 {
		limit = 1000 // Max limit
	}
	offset = max(offset, 0)

	query := `
		SELECT ` + resultColumns + `
		FROM results
		WHERE repo_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	var results []*model.Result
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, repoID, limit, offset)
		if err != nil {
			return fmt.Errorf("query results by repo: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Result])
		if err != nil {
			return fmt.Errorf("collect results by repo: %w", err)
		}
		results = vals
		return nil
	}); err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return results, nil
}
