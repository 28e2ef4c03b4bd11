package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func jobColumns() []string {
	return []string{
		"id", "file_name", "source", "file_hash", "status",
		"rows_total", "rows_inserted", "rows_duplicates", "rows_failed",
		"error_text", "started_at", "finished_at",
	}
}

func TestFindJobByFileHash(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		jobID := uuid.New()
		started := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM import_jobs").
			WithArgs("abc123").
			WillReturnRows(pgxmock.NewRows(jobColumns()).AddRow(
				jobID, "march.xlsx", "card-max", "abc123", JobSucceeded,
				10, 8, 1, 1,
				(*string)(nil), started, (*time.Time)(nil),
			))

		job, err := repo.FindJobByFileHash(context.Background(), "abc123")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, jobID, job.ID)
		assert.Equal(t, "card-max", job.Source)
		assert.Equal(t, 8, job.Counts.Inserted)
	})

	t.Run("failed jobs do not count as prior imports", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectQuery(`(?s)FROM import_jobs.+status <> 'failed'`).
			WithArgs("abc123").
			WillReturnRows(pgxmock.NewRows(jobColumns()))

		job, err := repo.FindJobByFileHash(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Nil(t, job, "a failed attempt must not block re-dropping the file")
	})

	t.Run("unknown hash yields nil", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectQuery("SELECT (.+) FROM import_jobs").
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(jobColumns()))

		job, err := repo.FindJobByFileHash(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestCreateAndFinishJob(t *testing.T) {
	mock := newMock(t)
	repo := New(mock)

	job := &ImportJob{
		ID:       uuid.New(),
		FileName: "march.xlsx",
		Source:   "bank",
		FileHash: "abc123",
		Status:   JobRunning,
	}

	mock.ExpectExec("INSERT INTO import_jobs").
		WithArgs(job.ID, job.FileName, job.Source, job.FileHash, job.Status, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.CreateJob(context.Background(), job))
	assert.False(t, job.StartedAt.IsZero())

	errText := "boom"
	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(job.ID, JobFailed, 3, 1, 0, 2, &errText).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	counts := RowCounts{Total: 3, Inserted: 1, Failed: 2}
	require.NoError(t, repo.FinishJob(context.Background(), job.ID, JobFailed, counts, &errText))
}

func sampleTransaction() *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		Source:    "card-max",
		TxnDate:   "2025-03-02",
		Merchant:  "wolt",
		Amount:    decimal.RequireFromString("-89.90"),
		Currency:  "ILS",
		Direction: DirectionExpense,
		DedupeKey: "deadbeef",
	}
}

func TestRunImportTxInsertOutcomes(t *testing.T) {
	t.Run("inserted", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectBegin()
		mock.ExpectBegin() // row savepoint
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
		mock.ExpectCommit()

		err := repo.RunImportTx(context.Background(), func(store RowStore) error {
			outcome, err := store.InsertTransaction(context.Background(), sampleTransaction())
			require.NoError(t, err)
			assert.Equal(t, RowInserted, outcome)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("dedupe conflict reports duplicate", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectBegin()
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mock.ExpectCommit()
		mock.ExpectCommit()

		err := repo.RunImportTx(context.Background(), func(store RowStore) error {
			outcome, err := store.InsertTransaction(context.Background(), sampleTransaction())
			require.NoError(t, err)
			assert.Equal(t, RowDuplicate, outcome)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("row failure rolls back only the savepoint", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectBegin()
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnError(errors.New("value too long"))
		mock.ExpectRollback()
		mock.ExpectCommit()

		err := repo.RunImportTx(context.Background(), func(store RowStore) error {
			_, err := store.InsertTransaction(context.Background(), sampleTransaction())
			assert.Error(t, err)
			return nil
		})
		require.NoError(t, err, "the file transaction survives a bad row")
	})

	t.Run("callback error aborts the transaction", func(t *testing.T) {
		mock := newMock(t)
		repo := New(mock)

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := repo.RunImportTx(context.Background(), func(store RowStore) error {
			return errors.New("parse exploded")
		})
		assert.Error(t, err)
	})
}

func TestRowStoreCategorizationMutations(t *testing.T) {
	mock := newMock(t)
	repo := New(mock)

	txnID := uuid.New()
	catID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET category_id").
		WithArgs(txnID, catID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO transaction_tags").
		WithArgs(txnID, []int64{10, 20}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("UPDATE rules SET applied_count").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := repo.RunImportTx(context.Background(), func(store RowStore) error {
		require.NoError(t, store.SetTransactionCategory(context.Background(), txnID, catID))

		added, err := store.AddTransactionTags(context.Background(), txnID, []int64{10, 20})
		require.NoError(t, err)
		assert.Equal(t, 2, added)

		return store.IncrementRuleApplied(context.Background(), 7)
	})
	require.NoError(t, err)
}
