// Package extract turns input files into ordered structured rows. The
// pipeline treats it as an opaque collaborator: Extract either returns rows
// or a classified error, keeps no state between calls, and is safe to call
// repeatedly for the same path.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfalcone/docmill/internal/domain"
)

// Extractor converts a single file into its ordered rows.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.ExtractedRow, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, path string) ([]domain.ExtractedRow, error)

func (f Func) Extract(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	return f(ctx, path)
}

// Registry dispatches files to extractors by extension and enforces the
// input-validity checks whose failures are permanent: missing, empty,
// oversized, or unrecognised files never reach an extractor.
type Registry struct {
	byExt       map[string]Extractor
	maxFileSize int64
}

// NewRegistry returns a Registry with the built-in extractors registered.
func NewRegistry(maxFileSizeMB int) *Registry {
	r := &Registry{
		byExt:       make(map[string]Extractor),
		maxFileSize: int64(maxFileSizeMB) * 1024 * 1024,
	}
	lines := Func(extractLines)
	r.Register(".txt", lines)
	r.Register(".log", lines)
	r.Register(".md", lines)
	r.Register(".csv", Func(extractCSV))
	r.Register(".tsv", Func(extractTSV))
	r.Register(".jsonl", Func(extractJSONL))
	return r
}

// Register installs an extractor for an extension (with leading dot).
// Replaces any existing registration.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Supported reports whether files with the given extension can be extracted.
func (r *Registry) Supported(ext string) bool {
	_, ok := r.byExt[strings.ToLower(ext)]
	return ok
}

// Extract validates path and dispatches to the registered extractor.
func (r *Registry) Extract(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Errf(domain.KindNotFound, "%s does not exist", path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, domain.Errf(domain.KindEmpty, "%s is empty", path)
	}
	if r.maxFileSize > 0 && info.Size() > r.maxFileSize {
		return nil, domain.Errf(domain.KindTooLarge, "%s is %d bytes (limit %d)",
			path, info.Size(), r.maxFileSize)
	}

	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, domain.Errf(domain.KindInvalidFormat, "no extractor for %q files", ext)
	}
	return e.Extract(ctx, path)
}
