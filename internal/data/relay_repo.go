package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data/pgxutil"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

// RelayRepo provides persistence for the outbound delivery queue. An entry is
// written in the same transaction as its job and flipped to published exactly
// once; failed attempts accumulate retry_count until the sweeper parks the
// entry.
type RelayRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRelayRepo constructs a RelayRepo.
func NewRelayRepo(db *sql.DB, cfg RepoConfig) *RelayRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &RelayRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const relayColumns = `
  id,
  job_id,
  topic,
  payload,
  published,
  message_id,
  last_error,
  retry_count,
  permanently_failed,
  last_attempt_at,
  created_at,
  updated_at
`

// insertRelayEntryInTx stages a delivery record for a job inside the caller's
// transaction.
func insertRelayEntryInTx(ctx context.Context, tx pgx.Tx, job *model.Job, topic string) (*model.RelayEntry, error) {
	payload, err := job.Descriptor().Encode()
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}

	query := `
      INSERT INTO relay_entries (job_id, topic, payload)
      VALUES ($1, $2, $3)
      RETURNING ` + relayColumns

	rows, err := tx.Query(ctx, query, job.ID, topic, payload)
	if err != nil {
		return nil, fmt.Errorf("insert relay entry: %w", err)
	}
	entry, collectErr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.RelayEntry])
	if collectErr != nil {
		return nil, fmt.Errorf("collect relay entry: %w", collectErr)
	}
	return entry, nil
}

// GetByID retrieves a relay entry by its id.
func (r *RelayRepo) GetByID(ctx context.Context, id string) (*model.RelayEntry, error) {
	return r.getOne(ctx, `SELECT `+relayColumns+` FROM relay_entries WHERE id = $1`, id)
}

// GetByJobID retrieves the relay entry staged for a job.
func (r *RelayRepo) GetByJobID(ctx context.Context, jobID string) (*model.RelayEntry, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}
	return r.getOne(ctx, `SELECT `+relayColumns+` FROM relay_entries WHERE job_id = $1`, jobID)
}

func (r *RelayRepo) getOne(ctx context.Context, query string, arg any) (*model.RelayEntry, error) {
	var entry *model.RelayEntry
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, arg)
		if qerr != nil {
			return fmt.Errorf("query relay entry: %w", qerr)
		}
		e, cerr := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[model.RelayEntry])
		if cerr != nil {
			return cerr
		}
		entry = e
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRelayEntryNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return entry, nil
}

// ListUnpublished returns entries that have never been attempted, oldest
// first. The reactive publisher drains these right after a job is accepted.
func (r *RelayRepo) ListUnpublished(ctx context.Context, limit int) ([]*model.RelayEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + relayColumns + `
		FROM relay_entries
		WHERE NOT published
		  AND NOT permanently_failed
		  AND last_attempt_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListRetryable returns errored entries due for another publish attempt. The
// age bound keeps the sweeper from racing a reactive publish still in flight.
func (r *RelayRepo) ListRetryable(ctx context.Context, params core.ListRetryableParams) ([]*model.RelayEntry, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	olderThan := max(params.OlderThanSeconds, 0)

	query := `
		SELECT ` + relayColumns + `
		FROM relay_entries
		WHERE NOT published
		  AND NOT permanently_failed
		  AND last_attempt_at IS NOT NULL
		  AND last_attempt_at < now() - make_interval(secs => $1)
		ORDER BY last_attempt_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, olderThan, limit)
}

func (r *RelayRepo) list(ctx context.Context, query string, args ...any) ([]*model.RelayEntry, error) {
	var result []*model.RelayEntry
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query relay entries: %w", err)
		}
		defer rows.Close()

		vals, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.RelayEntry])
		if err != nil {
			return fmt.Errorf("collect relay entries: %w", err)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// MarkPublished flips an entry to published, records the bus message id, and
// clears any stale error. Returns false when the entry was already published.
func (r *RelayRepo) MarkPublished(ctx context.Context, id, messageID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE relay_entries
		SET published = TRUE,
		    message_id = $2,
		    last_error = NULL,
		    last_attempt_at = $3,
		    updated_at = $3
		WHERE id = $1 AND NOT published
	`
	return r.execUpdate(ctx, query, id, messageID, currentTime)
}

// RecordFailure stores the publish error and bumps the retry counter so the
// sweeper can pick the entry up later.
func (r *RelayRepo) RecordFailure(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE relay_entries
		SET last_error = $2,
		    retry_count = retry_count + 1,
		    last_attempt_at = $3,
		    updated_at = $3
		WHERE id = $1 AND NOT published AND NOT permanently_failed
	`
	return r.execUpdate(ctx, query, id, errMsg, currentTime)
}

// MarkPermanentlyFailed parks an entry that exhausted its retry budget.
// Parked entries are excluded from every future sweep until an operator
// intervenes.
func (r *RelayRepo) MarkPermanentlyFailed(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE relay_entries
		SET permanently_failed = TRUE,
		    updated_at = $2
		WHERE id = $1 AND NOT published AND NOT permanently_failed
	`
	return r.execUpdate(ctx, query, id, currentTime)
}

func (r *RelayRepo) execUpdate(ctx context.Context, query, id string, args ...any) (bool, error) {
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
