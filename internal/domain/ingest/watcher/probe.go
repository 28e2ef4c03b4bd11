// Package watcher turns inbox filesystem events into sequential import
// calls, waiting for each file to finish being written first.
package watcher

import (
	"context"
	"os"
	"time"
)

// Probe decides when a newly appeared file has stopped changing. Statement
// downloads and network-share copies arrive in chunks, so a file is only
// handed to the importer once its size and mtime hold still for Settle.
type Probe struct {
	Settle   time.Duration
	Interval time.Duration
	Timeout  time.Duration
}

type sample struct {
	size  int64
	mtime time.Time
}

// WaitStable blocks until path has been unchanged for the settle window and
// reports whether it got there. It returns false when the timeout or ctx
// expires, or when the file disappears mid-probe.
func (p Probe) WaitStable(ctx context.Context, path string) bool {
	settle := p.Settle
	if settle <= 0 {
		settle = 2 * time.Second
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	deadline := time.Now().Add(timeout)
	var last sample
	var stableSince time.Time

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}

		cur := sample{size: info.Size(), mtime: info.ModTime()}
		now := time.Now()
		if cur != last {
			last = cur
			stableSince = now
		} else if now.Sub(stableSince) >= settle {
			return true
		}

		if now.After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
