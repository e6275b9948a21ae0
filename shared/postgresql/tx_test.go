package postgresql

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/fieldclock/shared/logger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T, attempts int) (*Client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewClientWithDB(sqlx.NewDb(db, "postgres"), &Config{TxRetryAttempts: attempts}, logger.NewNop()), mock
}

const touchSQL = `UPDATE worker_shift_state SET worker_id = worker_id`

func touchShift(ctx context.Context, tx *sqlx.Tx) error {
	_, err := tx.ExecContext(ctx, touchSQL+" WHERE worker_id = $1", "w-1")
	return err
}

func TestRunInTx_RetriesConflicts(t *testing.T) {
	tests := []struct {
		name string
		code pq.ErrorCode
	}{
		{name: "serialization failure", code: "40001"},
		{name: "deadlock", code: "40P01"},
		{name: "unique violation", code: "23505"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mock := newMockClient(t, 3)

			mock.ExpectBegin()
			mock.ExpectExec(touchSQL).WillReturnError(&pq.Error{Code: tt.code})
			mock.ExpectRollback()
			mock.ExpectBegin()
			mock.ExpectExec(touchSQL).WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			calls := 0
			err := client.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
				calls++
				return touchShift(context.Background(), tx)
			})

			require.NoError(t, err)
			assert.Equal(t, 2, calls, "the body runs again from scratch")
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunInTx_CommitConflictIsRetried(t *testing.T) {
	client, mock := newMockClient(t, 3)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := client.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_GivesUpAfterAttempts(t *testing.T) {
	client, mock := newMockClient(t, 3)

	for range 3 {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	calls := 0
	err := client.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return &pq.Error{Code: "40001"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsRetryable(err), "the last conflict stays visible to callers")
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_OtherErrorsAreNotRetried(t *testing.T) {
	client, mock := newMockClient(t, 3)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	fk := &pq.Error{Code: "23503"}
	err := client.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
		calls++
		return fk
	})

	assert.ErrorIs(t, err, fk)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_BeginFailure(t *testing.T) {
	client, mock := newMockClient(t, 3)

	mock.ExpectBegin().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

	called := false
	err := client.RunInTx(context.Background(), func(tx *sqlx.Tx) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.False(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "failed to begin transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}
