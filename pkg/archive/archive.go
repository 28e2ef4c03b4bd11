// Package archive files processed statements under source and month
// partitions, outside the watched inbox.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archiver moves processed files into a partitioned archive tree.
type Archiver struct {
	root string
}

// New creates an archiver rooted at dir.
func New(root string) *Archiver {
	return &Archiver{root: root}
}

// Move relocates path into root/<source>/<month>/. Empty source or month
// fall back to "unknown". A non-empty marker is appended to the base name
// before the extension, so rejected files are visible at a glance. Name
// collisions get a timestamp suffix instead of overwriting.
func (a *Archiver) Move(path, source, month, marker string) (string, error) {
	if source == "" {
		source = "unknown"
	}
	if month == "" {
		month = "unknown"
	}

	dir := filepath.Join(a.root, source, month)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive dir: %w", err)
	}

	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if marker != "" {
		stem += "__" + marker
	}

	dest := filepath.Join(dir, stem+ext)
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, fmt.Sprintf("%s__%d%s", stem, time.Now().Unix(), ext))
	}

	if err := move(path, dest); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return dest, nil
}

// move renames, falling back to copy and remove when the archive lives on a
// different filesystem than the inbox.
func move(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
