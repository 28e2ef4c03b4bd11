// Package cron schedules the periodic inbox re-scan.
package cron

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Rescanner is anything that can sweep the inbox for leftover files.
type Rescanner interface {
	Rescan() error
}

// Scheduler runs the inbox re-scan on a cron spec. The re-scan is the
// safety net for files whose filesystem events were dropped or that never
// stabilized on first sight.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a scheduler with the given cron spec.
func New(spec string, target Rescanner, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := target.Rescan(); err != nil {
			logger.Warn("inbox re-scan failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins running scheduled jobs in their own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("inbox re-scan scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
