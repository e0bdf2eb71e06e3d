package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	plain := Validation("bad payload")
	assert.Equal(t, "bad payload", plain.Error())

	cause := errors.New("boom")
	wrapped := Wrap(cause, ErrCodeInternal, "db write")
	assert.Equal(t, "db write: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestCodePredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{name: "validation", err: Validation("v"), check: IsValidation},
		{name: "authentication", err: Authentication("a"), check: IsAuthentication},
		{name: "not found", err: NotFound("n"), check: IsNotFound},
		{name: "conflict", err: Conflict("c"), check: IsConflict},
		{name: "transient delivery", err: TransientDelivery(errors.New("x"), "t"), check: IsTransientDelivery},
		{name: "permanent delivery", err: PermanentDelivery("p"), check: IsPermanentDelivery},
		{name: "processing", err: Processing(errors.New("x"), "p"), check: IsProcessing},
		{name: "internal", err: Internal("i"), check: IsInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("unrelated")))
		})
	}
}

func TestCodePredicatesThroughWrapping(t *testing.T) {
	inner := TransientDelivery(errors.New("dial tcp: refused"), "publish failed")
	outer := fmt.Errorf("relay entry abc: %w", inner)

	assert.True(t, IsTransientDelivery(outer))
	assert.Equal(t, ErrCodeTransientDelivery, GetCode(outer))
}

func TestWrapNilReturnsNil(t *testing.T) {
	var appErr *AppError
	appErr = Wrap(nil, ErrCodeInternal, "ignored")
	assert.Nil(t, appErr)
}

func TestMapDBError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "no rows", err: pgx.ErrNoRows, wantCode: ErrCodeNotFound},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{
			name:     "unique violation",
			err:      &pgconn.PgError{Code: pgerrcode.UniqueViolation, Detail: "Key (job_id)=(abc) already exists."},
			wantCode: ErrCodeConflict,
		},
		{
			name:     "not null violation",
			err:      &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "repo_id"},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unknown pg error",
			err:      &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapDBError(tt.err)
			require.Error(t, mapped)
			assert.Equal(t, tt.wantCode, GetCode(mapped))
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, MapDBError(nil))
	})

	t.Run("unique violation field from detail", func(t *testing.T) {
		mapped := MapDBError(&pgconn.PgError{
			Code:   pgerrcode.UniqueViolation,
			Detail: "Key (job_id)=(abc) already exists.",
		})
		assert.Equal(t, "job_id", GetField(mapped))
	})

	t.Run("unrecognized error passes through", func(t *testing.T) {
		plain := errors.New("not a db error")
		assert.Equal(t, plain, MapDBError(plain))
	})
}
