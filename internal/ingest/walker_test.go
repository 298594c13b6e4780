package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mfalcone/docmill/internal/domain"
)

func noErrors(tb testing.TB) ErrorReporter {
	return func(path, stage, errMsg string) {
		tb.Errorf("unexpected walk error: path=%q stage=%q err=%q", path, stage, errMsg)
	}
}

// TestDirQueueNeverLosesItems pushes 5 000 items, pops all, and verifies the
// exact set is returned (compaction must not drop entries).
func TestDirQueueNeverLosesItems(t *testing.T) {
	const n = 5000
	q := newDirQueue()

	for i := 0; i < n; i++ {
		q.pending.Add(1)
		q.Push(fmt.Sprintf("dir%04d", i))
	}

	var got []string
	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, item)
		q.Done()
	}

	if len(got) != n {
		t.Fatalf("got %d items, want %d", len(got), n)
	}
	sort.Strings(got)
	for i, v := range got {
		if want := fmt.Sprintf("dir%04d", i); v != want {
			t.Errorf("item %d: got %q, want %q", i, v, want)
		}
	}
}

func TestWalkFindsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	want := map[string]struct{}{}
	for i := 0; i < 3; i++ {
		sub := filepath.Join(root, fmt.Sprintf("sub%d", i))
		if err := os.Mkdir(sub, 0755); err != nil {
			t.Fatal(err)
		}
		for j := 0; j < 5; j++ {
			p := filepath.Join(sub, fmt.Sprintf("file%d.txt", j))
			if err := os.WriteFile(p, []byte("hello"), 0644); err != nil {
				t.Fatal(err)
			}
			want[p] = struct{}{}
		}
		// Non-matching extension must be skipped.
		skip := filepath.Join(sub, "image.png")
		if err := os.WriteFile(skip, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	out := make(chan domain.WorkItem, 100)
	Walk(context.Background(), root, []string{".txt"}, nil, 4, out, noErrors(t))

	got := map[string]struct{}{}
	for it := range out {
		got[it.Path] = struct{}{}
		if it.Size != 5 {
			t.Errorf("size of %q: got %d, want 5", it.Path, it.Size)
		}
	}
	for p := range want {
		if _, ok := got[p]; !ok {
			t.Errorf("missing expected file %q", p)
		}
	}
	if len(got) != len(want) {
		t.Errorf("found %d files, want %d", len(got), len(want))
	}
}

func TestWalkExcludesPaths(t *testing.T) {
	root := t.TempDir()
	keep := filepath.Join(root, "keep.txt")
	skip := filepath.Join(root, "skip.txt")
	skipDir := filepath.Join(root, "vendor")
	_ = os.WriteFile(keep, []byte("a"), 0644)
	_ = os.WriteFile(skip, []byte("b"), 0644)
	_ = os.Mkdir(skipDir, 0755)
	_ = os.WriteFile(filepath.Join(skipDir, "inner.txt"), []byte("c"), 0644)

	excludes := map[string]struct{}{skip: {}, skipDir: {}}
	out := make(chan domain.WorkItem, 10)
	Walk(context.Background(), root, []string{".txt"}, excludes, 2, out, noErrors(t))

	var paths []string
	for it := range out {
		paths = append(paths, it.Path)
	}
	if len(paths) != 1 || paths[0] != keep {
		t.Errorf("got %v, want only %q", paths, keep)
	}
}

func TestWalkCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		_ = os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.txt", i)), []byte("data"), 0644)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.WorkItem, 8)

	done := make(chan struct{})
	go func() {
		Walk(ctx, root, []string{".txt"}, nil, 2, out, noErrors(t))
		close(done)
	}()

	cancel()
	for range out {
	} // drain so walkers aren't blocked on sends

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Walk did not return after context cancel")
	}
}

func TestEnumerateCollectsAll(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 25; i++ {
		writeTestFile(t, root, fmt.Sprintf("d%d/f%d.csv", i%3, i), "a,b\n")
	}
	items := Enumerate(context.Background(), root, []string{".csv"}, nil, 4, noErrors(t))
	if len(items) != 25 {
		t.Errorf("enumerated %d items, want 25", len(items))
	}
}
