package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestErrorKindPermanence(t *testing.T) {
	permanent := []ErrorKind{KindNotFound, KindTooLarge, KindInvalidFormat, KindEmpty}
	transient := []ErrorKind{KindMemoryExceeded, KindTimeout, KindWriterUnavailable, KindUnknown}

	for _, k := range permanent {
		if !k.Permanent() {
			t.Errorf("%s should be permanent", k)
		}
		if k.Transient() {
			t.Errorf("%s should not be transient", k)
		}
	}
	for _, k := range transient {
		if k.Permanent() {
			t.Errorf("%s should not be permanent", k)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"classified passes through", Errf(KindTooLarge, "134 MB"), KindTooLarge},
		{"wrapped classified", fmt.Errorf("extract: %w", Errf(KindEmpty, "zero bytes")), KindEmpty},
		{"missing file", os.ErrNotExist, KindNotFound},
		{"wrapped fs error", fmt.Errorf("open: %w", os.ErrNotExist), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"anything else", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %s, want %s", tt.err, got.Kind, tt.want)
			}
		})
	}
}

func TestNewRowIDStable(t *testing.T) {
	a := NewRowID("/data/a.txt", 7)
	b := NewRowID("/data/a.txt", 7)
	if a != b {
		t.Errorf("same input produced different IDs: %s vs %s", a, b)
	}
	if NewRowID("/data/a.txt", 8) == a {
		t.Error("different position produced the same ID")
	}
	if NewRowID("/data/b.txt", 7) == a {
		t.Error("different path produced the same ID")
	}
}
