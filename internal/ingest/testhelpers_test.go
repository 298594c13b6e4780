package ingest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	internaldb "github.com/mfalcone/docmill/internal/db"
	"github.com/mfalcone/docmill/internal/domain"
)

// mustOpenDB opens a temp-file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath, 2)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// mustInsertRun inserts an ingest_history row and returns its ID.
func mustInsertRun(tb testing.TB, db *sql.DB) int64 {
	tb.Helper()
	id, err := insertRunRecord(db, time.Now(), ModeFresh)
	if err != nil {
		tb.Fatalf("insert run: %v", err)
	}
	return id
}

// countDocuments returns the number of rows in documents.
func countDocuments(tb testing.TB, db *sql.DB) int {
	tb.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		tb.Fatalf("count documents: %v", err)
	}
	return n
}

// writeTestFile creates a file under dir and returns its path.
func writeTestFile(tb testing.TB, dir, name, content string) string {
	tb.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		tb.Fatal(err)
	}
	return p
}

// resultWithRows builds a successful ProcessingResult with n synthetic rows.
func resultWithRows(path string, n int) domain.ProcessingResult {
	rows := make([]domain.ExtractedRow, n)
	for i := range rows {
		rows[i] = domain.ExtractedRow{
			ID:         domain.NewRowID(path, i+1),
			SourcePath: path,
			Position:   i + 1,
			Content:    "row",
		}
	}
	return domain.ProcessingResult{Item: domain.WorkItem{Path: path}, Rows: rows}
}

// drainMessages consumes msgs in the background and returns a function that
// stops consumption and returns everything received so far.
func drainMessages(msgs <-chan domain.WorkerMessage) func() []domain.WorkerMessage {
	var got []domain.WorkerMessage
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range msgs {
			got = append(got, m)
		}
	}()
	return func() []domain.WorkerMessage {
		<-done
		return got
	}
}
