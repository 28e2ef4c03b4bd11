package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shaybc/finance-tracker/internal/domain/ingest/service"
)

const queueSize = 256

var watchedExts = map[string]struct{}{
	".xlsx": {},
	".xls":  {},
	".csv":  {},
}

// Ingestor is the import pipeline the watcher feeds.
type Ingestor interface {
	ProcessFile(ctx context.Context, path string) (*service.Result, error)
}

// Watcher observes the inbox directory and feeds stable files to the
// ingestor, one at a time in arrival order.
type Watcher struct {
	inbox    string
	probe    Probe
	ingestor Ingestor
	logger   *slog.Logger

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a watcher over the inbox directory.
func New(inbox string, probe Probe, ingestor Ingestor, logger *slog.Logger) *Watcher {
	return &Watcher{
		inbox:    inbox,
		probe:    probe,
		ingestor: ingestor,
		logger:   logger,
		queue:    make(chan string, queueSize),
		pending:  make(map[string]struct{}),
	}
}

// Run watches the inbox until ctx is cancelled. It scans once at startup so
// files that arrived while the service was down are not missed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.inbox); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.inbox, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.work(ctx)
	}()

	if err := w.Rescan(); err != nil {
		w.logger.Warn("initial inbox scan failed", "error", err)
	}

	w.logger.Info("watching inbox", "dir", w.inbox)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				wg.Wait()
				return nil
			}
			// Files moved into the inbox arrive as Create. Rename fires
			// when the archiver moves a processed file out, so it must
			// not re-enqueue the path.
			if isArrival(event) {
				w.enqueue(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				wg.Wait()
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// Rescan walks the inbox and enqueues every eligible file. The periodic
// scheduler calls this to pick up files whose events were missed.
func (w *Watcher) Rescan() error {
	entries, err := os.ReadDir(w.inbox)
	if err != nil {
		return fmt.Errorf("failed to scan inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.enqueue(filepath.Join(w.inbox, entry.Name()))
	}
	return nil
}

func (w *Watcher) enqueue(path string) {
	if _, ok := watchedExts[strings.ToLower(filepath.Ext(path))]; !ok {
		return
	}

	w.mu.Lock()
	if _, inFlight := w.pending[path]; inFlight {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		// A rescan will pick the file up again.
		w.forget(path)
		w.logger.Warn("ingest queue full, deferring file", "file", path)
	}
}

func isArrival(event fsnotify.Event) bool {
	return event.Has(fsnotify.Create)
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// work processes queued files sequentially. One file at a time keeps the
// per-file database transactions from contending with each other.
func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			w.process(ctx, path)
			w.forget(path)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if !w.probe.WaitStable(ctx, path) {
		w.logger.Warn("file never stabilized, leaving for rescan", "file", path)
		return
	}
	if _, err := w.ingestor.ProcessFile(ctx, path); err != nil {
		w.logger.Error("import failed", "file", path, "error", err)
	}
}
