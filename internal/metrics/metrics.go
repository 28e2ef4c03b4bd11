// Package metrics exposes pipeline counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_files_processed_total",
		Help: "Statement files processed, by final status.",
	}, []string{"status", "source"})

	rowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_rows_processed_total",
		Help: "Statement rows processed, by outcome.",
	}, []string{"outcome"})

	rulesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_rules_applied_total",
		Help: "Categorization rule applications.",
	})
)

// File statuses.
const (
	FileSucceeded = "succeeded"
	FileFailed    = "failed"
	FileDuplicate = "duplicate"
)

// FileProcessed counts one finished file.
func FileProcessed(status, source string) {
	filesProcessed.WithLabelValues(status, source).Inc()
}

// RowsObserved counts the row outcomes of one file.
func RowsObserved(inserted, duplicates, failed int) {
	rowsProcessed.WithLabelValues("inserted").Add(float64(inserted))
	rowsProcessed.WithLabelValues("duplicate").Add(float64(duplicates))
	rowsProcessed.WithLabelValues("failed").Add(float64(failed))
}

// RuleApplied counts one rule firing.
func RuleApplied() {
	rulesApplied.Inc()
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
