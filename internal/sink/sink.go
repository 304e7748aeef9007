// Package sink delivers rendered job outputs, such as auto-downloaded PDFs,
// somewhere outside the worker.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// File is one output to deliver.
type File struct {
	JobID       string
	Name        string
	ContentType string
	Data        []byte
}

// Writer delivers a file and returns where it ended up.
type Writer interface {
	Write(ctx context.Context, f File) (string, error)
}

// DirWriter writes files under a per-job directory.
type DirWriter struct {
	root   string
	logger *logging.Logger
}

// NewDirWriter creates a writer rooted at dir. The directory is created on
// first write.
func NewDirWriter(dir string, logger *logging.Logger) *DirWriter {
	if logger == nil {
		logger = logging.NewLogger("sink")
	}
	return &DirWriter{root: dir, logger: logger}
}

// Write stores f as <root>/<job>/<name> and returns the path.
func (w *DirWriter) Write(ctx context.Context, f File) (string, error) {
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("invalid output name %q", f.Name)
	}
	dir := w.root
	if f.JobID != "" {
		dir = filepath.Join(dir, sanitize(f.JobID))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	w.logger.Info("Output written", "path", path, "bytes", len(f.Data))
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Multi writes to every writer in order and returns the first location.
// It stops at the first failure.
type Multi []Writer

func (m Multi) Write(ctx context.Context, f File) (string, error) {
	var first string
	for i, w := range m {
		loc, err := w.Write(ctx, f)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = loc
		}
	}
	return first, nil
}
