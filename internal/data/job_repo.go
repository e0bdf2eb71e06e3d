package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/docsmith/docsmith/internal/data/pgxutil"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

// RepoConfig holds shared configuration options for the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job lifecycle management.
//
// Every status change goes through a compare-and-set UPDATE guarded on the
// current status, so a transition that lost a race reports changed=false
// instead of overwriting a concurrent winner.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  type,
  status,
  repo_id,
  repo_full_name,
  payload,
  started_at,
  completed_at,
  result_id,
  last_error,
  created_at,
  updated_at
`

// Create creates a new job in queued status.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = insertJobInTx(ctx, tx, req)
			return insertErr
		},
	}); txErr != nil {
		return nil, apperrors.MapDBError(txErr)
	}

	return job, nil
}

// insertJobInTx inserts a job within a pgx.Tx and returns the created row.
// Shared between Create and the intake store's single-transaction path.
func insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}

	query := `
      INSERT INTO jobs (type, status, repo_id, repo_full_name, payload)
      VALUES ($1, 'queued', $2, $3, $4)
      RETURNING ` + jobColumns

	rows, err := tx.Query(ctx, query, req.Type, req.RepoID, req.RepoFullName, []byte(payload))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}
	return job, nil
}

// GetByID retrieves a job by its id.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, ErrJobNotFound
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, id)
		if qerr != nil {
			return fmt.Errorf("query job: %w", qerr)
		}
		j, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.Job])
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// jobFilterQueryBuilder accumulates optional equality filters for listings.
type jobFilterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func (b *jobFilterQueryBuilder) addFilter(column string, value any) {
	b.query += fmt.Sprintf(" AND %s = $%d", column, b.argIdx)
	b.args = append(b.args, value)
	b.argIdx++
}

func buildJobListQuery(opts *model.JobListOptions) (string, []any) {
	builder := &jobFilterQueryBuilder{
		query:  `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`,
		args:   []any{},
		argIdx: 1,
	}

	if opts.RepoID != "" {
		builder.addFilter("repo_id", opts.RepoID)
	}
	if opts.Type != "" {
		builder.addFilter("type", opts.Type)
	}
	if opts.Status != "" {
		builder.addFilter("status", opts.Status)
	}

	builder.query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, builder.argIdx, builder.argIdx+1)

	return builder.query, builder.args
}

// List returns jobs matching the given filters, newest first.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil {
		opts = &model.JobListOptions{}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50 // Default limit
	}
	if limit > 1000 {
		limit = 1000 // Max limit
	}
	offset := max(opts.Offset, 0)

	query, args := buildJobListQuery(opts)
	args = append(args, limit, offset)

	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query jobs: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Job])
		if err != nil {
			return fmt.Errorf("collect jobs: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return result, nil
}

// Stats counts jobs per lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'dispatched'),
			COUNT(*) FILTER (WHERE status = 'in_progress'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM jobs`

	stats := &model.JobStats{}
	err := r.DB.QueryRowContext(ctx, query).Scan(
		&stats.Queued,
		&stats.Dispatched,
		&stats.InProgress,
		&stats.Completed,
		&stats.Failed,
	)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return stats, nil
}

// MarkDispatched transitions a queued job to dispatched. Returns false when
// the job is not in queued status anymore.
func (r *JobRepo) MarkDispatched(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'dispatched',
		    updated_at = $2
		WHERE id = $1 AND status = 'queued'
	`
	return r.execStatusUpdate(ctx, query, id, r.timeProvider.Now().UTC())
}

// MarkInProgress transitions a queued or dispatched job to in_progress and
// stamps started_at. Safe to call on a redelivered message; the second call
// reports false.
func (r *JobRepo) MarkInProgress(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'in_progress',
		    started_at = COALESCE(started_at, $2),
		    updated_at = $3
		WHERE id = $1 AND status IN ('queued', 'dispatched')
	`
	return r.execStatusUpdate(ctx, query, id, currentTime, currentTime)
}

// MarkCompleted transitions an in_progress job to completed, linking the
// stored result.
func (r *JobRepo) MarkCompleted(ctx context.Context, id, resultID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    result_id = $3,
		    last_error = NULL,
		    updated_at = $4
		WHERE id = $1 AND status = 'in_progress'
	`
	return r.execStatusUpdate(ctx, query, id, currentTime, resultID, currentTime)
}

// MarkFailed transitions any non-terminal job to failed with the given error
// message.
func (r *JobRepo) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'failed',
		    completed_at = $2,
		    last_error = $3,
		    updated_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	return r.execStatusUpdate(ctx, query, id, currentTime, errMsg, currentTime)
}

func (r *JobRepo) execStatusUpdate(ctx context.Context, query, id string, args ...any) (bool, error) {
	res, err := r.DB.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
