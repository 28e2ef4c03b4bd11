// Package service orchestrates the statement import pipeline: hash, detect,
// parse, normalize, persist, categorize, archive.
package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/shaybc/finance-tracker/internal/domain/categorization"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/normalizer"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/parser"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/repository"
	"github.com/shaybc/finance-tracker/internal/domain/ingest/sniffer"
	"github.com/shaybc/finance-tracker/internal/metrics"
)

// Store is what the importer needs from job and row persistence.
type Store interface {
	FindJobByFileHash(ctx context.Context, hash string) (*repository.ImportJob, error)
	CreateJob(ctx context.Context, job *repository.ImportJob) error
	FinishJob(ctx context.Context, id uuid.UUID, status string, counts repository.RowCounts, errText *string) error
	RunImportTx(ctx context.Context, fn func(store repository.RowStore) error) error
}

// Categorizer applies rules to freshly inserted transactions.
type Categorizer interface {
	LoadEngine(ctx context.Context) (*categorization.Engine, error)
	ApplyTx(ctx context.Context, store repository.RowStore, txn *repository.Transaction, eng *categorization.Engine) (bool, error)
}

// Archiver moves a processed file out of the inbox. An empty marker means a
// clean import; markers like "duplicate" or "error" tag the archived name.
type Archiver interface {
	Move(path, source, month, marker string) (string, error)
}

// Result summarizes one processed file.
type Result struct {
	JobID         uuid.UUID
	Source        sniffer.Source
	DuplicateFile bool
	ArchivedTo    string
	Counts        repository.RowCounts
}

// Importer runs the import pipeline for one file at a time.
type Importer struct {
	store       Store
	normalizer  *normalizer.Normalizer
	categorizer Categorizer
	archive     Archiver
	logger      *slog.Logger
}

// NewImporter creates the importer.
func NewImporter(store Store, n *normalizer.Normalizer, c Categorizer, a Archiver, logger *slog.Logger) *Importer {
	return &Importer{
		store:       store,
		normalizer:  n,
		categorizer: c,
		archive:     a,
		logger:      logger,
	}
}

// ProcessFile imports one statement file end to end. Files whose exact bytes
// were imported before are archived as duplicates without reparsing. Row
// level failures are counted, not fatal; file level failures mark the job
// failed and archive the file with an error marker.
func (i *Importer) ProcessFile(ctx context.Context, path string) (*Result, error) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	prior, err := i.store.FindJobByFileHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		dest, err := i.archive.Move(path, prior.Source, "unknown", "duplicate")
		if err != nil {
			return nil, err
		}
		i.logger.Info("duplicate file skipped",
			"file", name,
			"prior_job", prior.ID,
			"archived_to", dest,
		)
		metrics.FileProcessed(metrics.FileDuplicate, prior.Source)
		return &Result{
			JobID:         prior.ID,
			Source:        sniffer.Source(prior.Source),
			DuplicateFile: true,
			ArchivedTo:    dest,
		}, nil
	}

	src, wb, csvData, openErr := i.open(name, data)

	job := &repository.ImportJob{
		ID:       uuid.New(),
		FileName: name,
		Source:   string(src),
		FileHash: fileHash,
		Status:   repository.JobRunning,
	}
	if err := i.store.CreateJob(ctx, job); err != nil {
		if wb != nil {
			wb.Close()
		}
		return nil, err
	}
	if openErr != nil {
		return nil, i.jobFailure(ctx, path, job, repository.RowCounts{}, openErr)
	}

	if src == sniffer.SourceUnknown {
		// Not a known statement layout; the job still completes, with
		// zero counts, so re-drops of the same bytes short-circuit.
		wb.Close()
		if err := i.store.FinishJob(ctx, job.ID, repository.JobSucceeded, repository.RowCounts{}, nil); err != nil {
			return nil, err
		}
		dest, err := i.archive.Move(path, "unknown", "unknown", "")
		if err != nil {
			return nil, err
		}
		i.logger.Warn("unrecognized statement layout", "file", name, "archived_to", dest)
		metrics.FileProcessed(metrics.FileSucceeded, string(src))
		return &Result{JobID: job.ID, Source: src, ArchivedTo: dest}, nil
	}

	var res *parser.Result
	var parseErr error
	if csvData != nil {
		res, parseErr = parser.ParseBankCSV(csvData)
	} else {
		res, parseErr = parser.ForSource(src).Parse(wb)
		wb.Close()
	}
	if parseErr != nil {
		return nil, i.jobFailure(ctx, path, job, repository.RowCounts{}, parseErr)
	}

	eng, err := i.categorizer.LoadEngine(ctx)
	if err != nil {
		i.logger.Warn("rule load failed, importing without categorization",
			"file", name, "error", err)
		eng = categorization.NewEngine(nil)
	}

	counts := repository.RowCounts{Total: res.RowsTotal}
	var firstDate string
	err = i.store.RunImportTx(ctx, func(store repository.RowStore) error {
		for _, rec := range res.Records {
			txn, err := i.normalizer.Normalize(src, rec)
			if err != nil {
				counts.Failed++
				i.logger.Warn("row rejected", "file", name, "error", err)
				continue
			}
			// Duplicates still carry the date the archive month is named
			// after, so track it before the insert outcome is known.
			if firstDate == "" || txn.TxnDate < firstDate {
				firstDate = txn.TxnDate
			}

			outcome, err := store.InsertTransaction(ctx, txn)
			if err != nil {
				counts.Failed++
				i.logger.Warn("row insert failed", "file", name, "row", rec.Row, "error", err)
				continue
			}
			if outcome == repository.RowDuplicate {
				counts.Duplicates++
				continue
			}

			counts.Inserted++
			if _, err := i.categorizer.ApplyTx(ctx, store, txn, eng); err != nil {
				i.logger.Warn("categorization failed", "file", name, "transaction", txn.ID, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, i.jobFailure(ctx, path, job, counts, err)
	}

	if err := i.store.FinishJob(ctx, job.ID, repository.JobSucceeded, counts, nil); err != nil {
		return nil, err
	}

	dest, err := i.archive.Move(path, string(src), monthOf(firstDate), "")
	if err != nil {
		return nil, err
	}

	i.logger.Info("file imported",
		"file", name,
		"source", src,
		"rows_total", counts.Total,
		"inserted", counts.Inserted,
		"duplicates", counts.Duplicates,
		"failed", counts.Failed,
		"archived_to", dest,
	)
	metrics.FileProcessed(metrics.FileSucceeded, string(src))
	metrics.RowsObserved(counts.Inserted, counts.Duplicates, counts.Failed)

	return &Result{
		JobID:      job.ID,
		Source:     src,
		ArchivedTo: dest,
		Counts:     counts,
	}, nil
}

// open classifies the file. CSV bank exports skip the workbook path and are
// returned as raw bytes; everything else is opened as a workbook and run
// through the source detector.
func (i *Importer) open(name string, data []byte) (sniffer.Source, *parser.XLSXWorkbook, []byte, error) {
	if parser.IsBankCSV(data) {
		return sniffer.SourceBank, nil, data, nil
	}

	wb, err := parser.OpenWorkbook(bytes.NewReader(data), parser.WithRawCells())
	if err != nil {
		return sniffer.SourceUnknown, nil, nil, fmt.Errorf("failed to open workbook %s: %w", name, err)
	}
	return sniffer.Detect(wb), wb, nil, nil
}

// jobFailure marks the job failed and archives the file with an error
// marker, then reports the original cause.
func (i *Importer) jobFailure(ctx context.Context, path string, job *repository.ImportJob, counts repository.RowCounts, cause error) error {
	msg := cause.Error()
	if err := i.store.FinishJob(ctx, job.ID, repository.JobFailed, counts, &msg); err != nil {
		i.logger.Error("failed to mark job failed", "job", job.ID, "error", err)
	}
	metrics.FileProcessed(metrics.FileFailed, job.Source)
	if dest, err := i.archive.Move(path, job.Source, "unknown", "error"); err != nil {
		i.logger.Error("failed to archive failed file", "file", job.FileName, "error", err)
	} else {
		i.logger.Warn("file import failed", "file", job.FileName, "archived_to", dest, "error", cause)
	}
	return cause
}

func monthOf(isoDate string) string {
	if len(isoDate) < 7 {
		return "unknown"
	}
	return isoDate[:7]
}
