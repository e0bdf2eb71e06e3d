package data

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/docsmith/docsmith/internal/core"
	"github.com/docsmith/docsmith/internal/data/pgxutil"
	"github.com/docsmith/docsmith/internal/domain/model"
	apperrors "github.com/docsmith/docsmith/internal/errors"
)

// IntakeStore persists an accepted trigger atomically: the job row and its
// relay entry commit together or not at all, so there is never a job the
// publisher cannot find a delivery record for.
type IntakeStore struct {
	DB *sql.DB
}

// NewIntakeStore constructs an IntakeStore.
func NewIntakeStore(db *sql.DB) *IntakeStore {
	return &IntakeStore{DB: db}
}

// CreateJobWithRelay inserts a job and its relay entry in one transaction.
func (s *IntakeStore) CreateJobWithRelay(
	ctx context.Context,
	params core.CreateJobWithRelayParams,
) (*model.Job, *model.RelayEntry, error) {
	if params.Request == nil {
		return nil, nil, errors.New("create job request is required")
	}
	if params.Topic == "" {
		return nil, nil, errors.New("topic is required")
	}
	if validateErr := params.Request.Validate(); validateErr != nil {
		return nil, nil, apperrors.ValidationField("payload", validateErr.Error())
	}

	var (
		job   *model.Job
		entry *model.RelayEntry
	)
	if txErr := pgxutil.WithPgxTx(ctx, s.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var err error
			job, err = insertJobInTx(ctx, tx, params.Request)
			if err != nil {
				return err
			}
			entry, err = insertRelayEntryInTx(ctx, tx, job, params.Topic)
			return err
		},
	}); txErr != nil {
		return nil, nil, apperrors.MapDBError(txErr)
	}

	return job, entry, nil
}
