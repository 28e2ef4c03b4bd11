package service_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/shaybc/finance-tracker/internal/domain/categorization"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/normalizer"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/service"
	"github.com/shaybc/finance-tracker/pkg/archive"
)

// memStore is an in-memory stand-in for the Postgres repository, keyed the
// same way: jobs by file hash, rows by dedupe key.
type memStore struct {
	mu         sync.Mutex
	jobs       map[string]*repository.ImportJob
	rows       map[string]*repository.Transaction
	txFailures int
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[string]*repository.ImportJob),
		rows: make(map[string]*repository.Transaction),
	}
}

func (s *memStore) FindJobByFileHash(_ context.Context, hash string) (*repository.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[hash]
	// Same filter as the SQL lookup: failed jobs never block a retry.
	if job == nil || job.Status == repository.JobFailed {
		return nil, nil
	}
	return job, nil
}

func (s *memStore) CreateJob(_ context.Context, job *repository.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.FileHash] = job
	return nil
}

func (s *memStore) FinishJob(_ context.Context, id uuid.UUID, status string, counts repository.RowCounts, errText *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			job.Status = status
			job.Counts = counts
			job.ErrorText = errText
		}
	}
	return nil
}

func (s *memStore) RunImportTx(_ context.Context, fn func(store repository.RowStore) error) error {
	s.mu.Lock()
	if s.txFailures > 0 {
		s.txFailures--
		s.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return fn(&memRowStore{store: s})
}

type memRowStore struct {
	store *memStore
}

func (m *memRowStore) InsertTransaction(_ context.Context, t *repository.Transaction) (repository.RowOutcome, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, dup := m.store.rows[t.DedupeKey]; dup {
		return repository.RowDuplicate, nil
	}
	m.store.rows[t.DedupeKey] = t
	return repository.RowInserted, nil
}

func (m *memRowStore) SetTransactionCategory(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

func (m *memRowStore) AddTransactionTags(_ context.Context, _ uuid.UUID, _ []int64) (int, error) {
	return 0, nil
}

func (m *memRowStore) IncrementRuleApplied(_ context.Context, _ int64) error {
	return nil
}

type stubCategorizer struct{}

func (stubCategorizer) LoadEngine(context.Context) (*categorization.Engine, error) {
	return categorization.NewEngine(nil), nil
}

func (stubCategorizer) ApplyTx(context.Context, repository.RowStore, *repository.Transaction, *categorization.Engine) (bool, error) {
	return false, nil
}

type fixture struct {
	importer *service.Importer
	store    *memStore
	inbox    string
	archive  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	importer := service.NewImporter(
		store,
		normalizer.New(normalizer.Config{}),
		stubCategorizer{},
		archive.New(t.TempDir()),
		logger,
	)
	f := &fixture{importer: importer, store: store, inbox: t.TempDir()}
	return f
}

// bankWorkbook builds real xlsx bytes in the checking-account layout. The
// banner argument lets tests vary the file bytes without touching the rows.
func bankWorkbook(t *testing.T, banner string, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{banner}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{
		"תאריך", "תאריך ערך", "תיאור הפעולה", "אסמכתא", "סכום",
	}))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+3)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func (f *fixture) drop(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.inbox, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestProcessFileBankStatement(t *testing.T) {
	f := newFixture(t)
	data := bankWorkbook(t, "תנועות בחשבון: 12-345678",
		[]interface{}{"02.03.2025", "02.03.2025", "משכורת", "1001", "8,500.00"},
		[]interface{}{"03.03.2025", "04.03.2025", "שופרסל דיל", "1002", "-120.50"},
	)
	path := f.drop(t, "march.xlsx", data)

	res, err := f.importer.ProcessFile(context.Background(), path)
	require.NoError(t, err)

	assert.False(t, res.DuplicateFile)
	assert.Equal(t, 2, res.Counts.Total)
	assert.Equal(t, 2, res.Counts.Inserted)
	assert.Zero(t, res.Counts.Duplicates)
	assert.Zero(t, res.Counts.Failed)

	assert.NoFileExists(t, path, "imported file leaves the inbox")
	assert.Contains(t, res.ArchivedTo, filepath.Join("bank", "2025-03"))
	assert.FileExists(t, res.ArchivedTo)

	require.Len(t, f.store.rows, 2)
	for _, txn := range f.store.rows {
		assert.Equal(t, "bank", txn.Source)
		assert.Equal(t, "12-345678", txn.AccountRef)
	}

	var job *repository.ImportJob
	for _, j := range f.store.jobs {
		job = j
	}
	require.NotNil(t, job)
	assert.Equal(t, repository.JobSucceeded, job.Status)
}

func TestProcessFileIdenticalBytesSkipped(t *testing.T) {
	f := newFixture(t)
	data := bankWorkbook(t, "תנועות בחשבון: 12-345678",
		[]interface{}{"02.03.2025", "", "משכורת", "1001", "8,500.00"},
	)

	first, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march.xlsx", data))
	require.NoError(t, err)
	require.Equal(t, 1, first.Counts.Inserted)

	second, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march-again.xlsx", data))
	require.NoError(t, err)

	assert.True(t, second.DuplicateFile)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Contains(t, filepath.Base(second.ArchivedTo), "__duplicate")
	assert.Len(t, f.store.rows, 1, "no rows were reimported")
}

func TestProcessFileOverlappingRowsDeduped(t *testing.T) {
	f := newFixture(t)
	shared := []interface{}{"02.03.2025", "", "משכורת", "1001", "8,500.00"}

	_, err := f.importer.ProcessFile(context.Background(),
		f.drop(t, "a.xlsx", bankWorkbook(t, "תנועות בחשבון: 12-345678", shared)))
	require.NoError(t, err)

	// Different file bytes, same logical row plus one new one.
	res, err := f.importer.ProcessFile(context.Background(),
		f.drop(t, "b.xlsx", bankWorkbook(t, "תנועות בחשבון: 12-345678 הופק 01.04.2025",
			shared,
			[]interface{}{"05.03.2025", "", "ארנונה", "1002", "-430.00"},
		)))
	require.NoError(t, err)

	assert.False(t, res.DuplicateFile)
	assert.Equal(t, 2, res.Counts.Total)
	assert.Equal(t, 1, res.Counts.Inserted)
	assert.Equal(t, 1, res.Counts.Duplicates)
	assert.Len(t, f.store.rows, 2)
}

func TestProcessFileRetriesAfterFailedJob(t *testing.T) {
	f := newFixture(t)
	f.store.txFailures = 1
	data := bankWorkbook(t, "תנועות בחשבון: 12-345678",
		[]interface{}{"02.03.2025", "", "משכורת", "1001", "8,500.00"},
	)

	_, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march.xlsx", data))
	require.Error(t, err, "a transient storage outage fails the import")
	require.Empty(t, f.store.rows)

	res, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march.xlsx", data))
	require.NoError(t, err, "re-dropping the same bytes must retry, not short-circuit")

	assert.False(t, res.DuplicateFile)
	assert.Equal(t, 1, res.Counts.Inserted)
	assert.Len(t, f.store.rows, 1)
}

func TestProcessFileAllRowsDuplicateArchivesByMonth(t *testing.T) {
	f := newFixture(t)
	shared := []interface{}{"02.03.2025", "", "משכורת", "1001", "8,500.00"}

	_, err := f.importer.ProcessFile(context.Background(),
		f.drop(t, "a.xlsx", bankWorkbook(t, "תנועות בחשבון: 12-345678", shared)))
	require.NoError(t, err)

	// Different bytes, every row already imported.
	res, err := f.importer.ProcessFile(context.Background(),
		f.drop(t, "b.xlsx", bankWorkbook(t, "תנועות בחשבון: 12-345678 הופק 01.04.2025", shared)))
	require.NoError(t, err)

	assert.Zero(t, res.Counts.Inserted)
	assert.Equal(t, 1, res.Counts.Duplicates)
	assert.Contains(t, res.ArchivedTo, filepath.Join("bank", "2025-03"),
		"duplicate rows still carry the statement month")
}

func TestProcessFileUnknownLayout(t *testing.T) {
	f := newFixture(t)

	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]interface{}{"name", "phone", "email"}))
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	path := f.drop(t, "contacts.xlsx", buf.Bytes())
	res, err := f.importer.ProcessFile(context.Background(), path)
	require.NoError(t, err, "an unrecognized layout is not a failure")

	assert.Zero(t, res.Counts.Total)
	assert.Zero(t, res.Counts.Inserted)
	assert.NoFileExists(t, path, "rejected file still leaves the inbox")
	assert.Contains(t, res.ArchivedTo, filepath.Join("unknown", "unknown"))
	assert.Empty(t, f.store.rows)

	var job *repository.ImportJob
	for _, j := range f.store.jobs {
		job = j
	}
	require.NotNil(t, job, "the job lifecycle still completes")
	assert.Equal(t, repository.JobSucceeded, job.Status)
}

func TestProcessFileUnreadableWorkbook(t *testing.T) {
	f := newFixture(t)
	path := f.drop(t, "broken.xlsx", []byte("this is not a zip archive"))

	_, err := f.importer.ProcessFile(context.Background(), path)
	require.Error(t, err)

	assert.NoFileExists(t, path)
	var job *repository.ImportJob
	for _, j := range f.store.jobs {
		job = j
	}
	require.NotNil(t, job)
	assert.Equal(t, repository.JobFailed, job.Status)
	require.NotNil(t, job.ErrorText)
}

func TestProcessFileRowFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	data := bankWorkbook(t, "תנועות בחשבון: 12-345678",
		[]interface{}{"לא תאריך", "", "שורה שבורה", "1001", "10.00"},
		[]interface{}{"03.03.2025", "", "שורה תקינה", "1002", "-120.50"},
	)

	res, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march.xlsx", data))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Counts.Total)
	assert.Equal(t, 1, res.Counts.Inserted)
	assert.Equal(t, 1, res.Counts.Failed)
	assert.Len(t, f.store.rows, 1)
}

func TestProcessFileBankCSV(t *testing.T) {
	f := newFixture(t)
	csv := "תאריך,תאריך ערך,תיאור הפעולה,אסמכתא,סכום\n" +
		"02.03.2025,02.03.2025,משכורת,1001,\"8,500.00\"\n"

	res, err := f.importer.ProcessFile(context.Background(), f.drop(t, "march.csv", []byte(csv)))
	require.NoError(t, err)

	assert.Equal(t, "bank", strings.ToLower(string(res.Source)))
	assert.Equal(t, 1, res.Counts.Inserted)
	require.Len(t, f.store.rows, 1)
	for _, txn := range f.store.rows {
		assert.Equal(t, "2025-03-02", txn.TxnDate)
		assert.Equal(t, "8500.00", txn.Amount.StringFixed(2))
	}
}
