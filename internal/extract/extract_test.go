package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mfalcone/docmill/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func kindOf(t *testing.T, err error) domain.ErrorKind {
	t.Helper()
	var fe *domain.FileError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *domain.FileError, got %T: %v", err, err)
	}
	return fe.Kind
}

func TestRegistryTextFile(t *testing.T) {
	p := writeFile(t, "doc.txt", "first line\n\nsecond line\n")
	r := NewRegistry(512)

	rows, err := r.Extract(context.Background(), p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (blank line skipped)", len(rows))
	}
	if rows[0].Content != "first line" || rows[1].Content != "second line" {
		t.Errorf("unexpected contents: %q, %q", rows[0].Content, rows[1].Content)
	}
	if rows[0].Position != 1 || rows[1].Position != 3 {
		t.Errorf("positions: got %d, %d; want 1, 3", rows[0].Position, rows[1].Position)
	}
	if rows[0].ID == "" || rows[0].ID == rows[1].ID {
		t.Error("rows must have distinct non-empty IDs")
	}

	// Re-extraction yields identical IDs, the dedup key across retries.
	again, err := r.Extract(context.Background(), p)
	if err != nil {
		t.Fatalf("second Extract: %v", err)
	}
	if again[0].ID != rows[0].ID {
		t.Error("row ID changed between extractions of the same file")
	}
}

func TestRegistryCSV(t *testing.T) {
	p := writeFile(t, "data.csv", "a,b,c\n1,2,3\n")
	rows, err := NewRegistry(512).Extract(context.Background(), p)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1].Content != "1\t2\t3" {
		t.Errorf("record joined wrong: %q", rows[1].Content)
	}
}

func TestRegistryJSONL(t *testing.T) {
	good := writeFile(t, "ok.jsonl", "{\"a\":1}\n{\"b\":2}\n")
	rows, err := NewRegistry(512).Extract(context.Background(), good)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}

	bad := writeFile(t, "bad.jsonl", "{\"a\":1}\nnot json\n")
	_, err = NewRegistry(512).Extract(context.Background(), bad)
	if got := kindOf(t, err); got != domain.KindInvalidFormat {
		t.Errorf("kind: got %s, want %s", got, domain.KindInvalidFormat)
	}
}

func TestRegistryClassifiesPermanentFailures(t *testing.T) {
	r := NewRegistry(0) // no size cap for the base cases
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Extract(ctx, filepath.Join(t.TempDir(), "gone.txt"))
		if got := kindOf(t, err); got != domain.KindNotFound {
			t.Errorf("kind: got %s, want %s", got, domain.KindNotFound)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := r.Extract(ctx, writeFile(t, "empty.txt", ""))
		if got := kindOf(t, err); got != domain.KindEmpty {
			t.Errorf("kind: got %s, want %s", got, domain.KindEmpty)
		}
	})

	t.Run("unknown extension", func(t *testing.T) {
		_, err := r.Extract(ctx, writeFile(t, "image.png", "\x89PNG"))
		if got := kindOf(t, err); got != domain.KindInvalidFormat {
			t.Errorf("kind: got %s, want %s", got, domain.KindInvalidFormat)
		}
	})

	t.Run("oversized file", func(t *testing.T) {
		small := NewRegistry(1)
		small.maxFileSize = 4 // shrink the cap instead of writing megabytes
		_, err := small.Extract(ctx, writeFile(t, "big.txt", "more than four bytes"))
		if got := kindOf(t, err); got != domain.KindTooLarge {
			t.Errorf("kind: got %s, want %s", got, domain.KindTooLarge)
		}
	})
}
