package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mfalcone/docmill/internal/checkpoint"
	"github.com/mfalcone/docmill/internal/domain"
)

// WriteFailureReport writes a plain-text report grouping the still-failed
// paths by error kind and returns the report path.
func WriteFailureReport(dir string, runID int64, byKind map[domain.ErrorKind][]checkpoint.FailedPath) (string, error) {
	kinds := make([]domain.ErrorKind, 0, len(byKind))
	total := 0
	for k, v := range byKind {
		kinds = append(kinds, k)
		total += len(v)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var b strings.Builder
	fmt.Fprintf(&b, "docmill failure report (run %d)\n", runID)
	fmt.Fprintf(&b, "generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "failed files: %d\n\n", total)

	for _, k := range kinds {
		entries := byKind[k]
		class := "transient"
		if k.Permanent() {
			class = "permanent"
		}
		fmt.Fprintf(&b, "[%s] (%s, %d files)\n", k, class, len(entries))
		for _, e := range entries {
			fmt.Fprintf(&b, "  %s\n    %s (retries: %d)\n",
				e.Path, e.Record.ErrorMessage, e.Record.RetryCount)
		}
		b.WriteString("\n")
	}

	path := filepath.Join(dir, fmt.Sprintf("docmill-failures-%d.txt", runID))
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("write failure report %q: %w", path, err)
	}
	return path, nil
}
