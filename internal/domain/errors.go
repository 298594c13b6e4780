package domain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// ErrorKind classifies a per-file failure. The kind decides retry
// eligibility: permanent kinds describe inputs that cannot succeed and are
// never retried; everything else may succeed on a later attempt.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindTooLarge          ErrorKind = "too_large"
	KindInvalidFormat     ErrorKind = "invalid_format"
	KindEmpty             ErrorKind = "empty"
	KindMemoryExceeded    ErrorKind = "memory_exceeded"
	KindTimeout           ErrorKind = "timeout"
	KindWriterUnavailable ErrorKind = "writer_unavailable"
	KindUnknown           ErrorKind = "unknown"
)

// Permanent reports whether failures of this kind are beyond retry.
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindNotFound, KindTooLarge, KindInvalidFormat, KindEmpty:
		return true
	}
	return false
}

// Transient is the complement of Permanent.
func (k ErrorKind) Transient() bool { return !k.Permanent() }

// FileError is a classified per-file failure.
type FileError struct {
	Kind    ErrorKind
	Message string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds a classified FileError.
func Errf(kind ErrorKind, format string, args ...any) *FileError {
	return &FileError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps an arbitrary error to a FileError. Already-classified
// errors pass through; well-known causes get their proper kind; anything
// else is KindUnknown.
func Classify(err error) *FileError {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &FileError{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &FileError{Kind: KindTimeout, Message: err.Error()}
	}
	return &FileError{Kind: KindUnknown, Message: err.Error()}
}
