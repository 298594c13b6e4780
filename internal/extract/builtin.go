package extract

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mfalcone/docmill/internal/domain"
)

// ctxCheckEvery bounds how many rows are read between cancellation checks.
const ctxCheckEvery = 256

// extractLines emits one row per non-blank line.
func extractLines(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []domain.ExtractedRow
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rows = append(rows, domain.ExtractedRow{
			ID:         domain.NewRowID(path, lineNo),
			SourcePath: path,
			Position:   lineNo,
			Content:    line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, domain.Errf(domain.KindInvalidFormat, "scan %s: %v", path, err)
	}
	return rows, nil
}

// extractCSV emits one row per record, fields re-joined with tabs.
func extractCSV(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	return extractDelimited(ctx, path, ',')
}

func extractTSV(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	return extractDelimited(ctx, path, '\t')
}

func extractDelimited(ctx context.Context, path string, sep rune) ([]domain.ExtractedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.Comma = sep
	rd.FieldsPerRecord = -1

	var rows []domain.ExtractedRow
	recNo := 0
	for {
		record, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.Errf(domain.KindInvalidFormat, "parse %s: %v", path, err)
		}
		recNo++
		if recNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, domain.ExtractedRow{
			ID:         domain.NewRowID(path, recNo),
			SourcePath: path,
			Position:   recNo,
			Content:    strings.Join(record, "\t"),
		})
	}
	return rows, nil
}

// extractJSONL emits one row per line; every non-blank line must be valid
// JSON or the whole file is rejected as invalid.
func extractJSONL(ctx context.Context, path string) ([]domain.ExtractedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var rows []domain.ExtractedRow
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return nil, domain.Errf(domain.KindInvalidFormat, "%s line %d: not valid JSON", path, lineNo)
		}
		rows = append(rows, domain.ExtractedRow{
			ID:         domain.NewRowID(path, lineNo),
			SourcePath: path,
			Position:   lineNo,
			Content:    line,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, domain.Errf(domain.KindInvalidFormat, "scan %s: %v", path, err)
	}
	return rows, nil
}
