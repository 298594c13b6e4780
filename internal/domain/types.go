package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// WorkItem is one input file to process. Immutable once enumerated.
type WorkItem struct {
	Path  string
	Size  int64
	Units int // optional page/record count; 0 when unknown
}

// ExtractedRow is one structured record destined for the documents table.
type ExtractedRow struct {
	ID         string
	SourcePath string
	Position   int
	Content    string
}

// rowNamespace seeds deterministic row IDs. Never change it: the INSERT OR
// IGNORE dedup across crash-and-reprocess depends on IDs being stable.
var rowNamespace = uuid.MustParse("9a1c5a84-7c0e-4aeb-9602-1ef1f2ad6b11")

// NewRowID derives a stable identifier from a row's source path and
// position, so reprocessing a file yields the same IDs.
func NewRowID(sourcePath string, position int) string {
	return uuid.NewSHA1(rowNamespace, []byte(sourcePath+"#"+strconv.Itoa(position))).String()
}

// ProcessingResult is the outcome of processing one WorkItem. A retry
// produces a fresh ProcessingResult; results are never mutated after
// creation.
type ProcessingResult struct {
	Item     WorkItem
	Rows     []ExtractedRow
	Err      *FileError // nil on success
	Elapsed  time.Duration
	Attempt  int
	WorkerID int
}

// OK reports whether the item was processed successfully.
func (r ProcessingResult) OK() bool { return r.Err == nil }

// MessageKind tags a WorkerMessage variant.
type MessageKind int

const (
	MsgProgress MessageKind = iota
	MsgHeartbeat
	MsgWriterStatus
	MsgShutdown
)

// WorkerMessage is the tagged union carried on every monitoring channel.
// Sent once, never mutated. Worker and writer sender IDs are separate
// number spaces; Writer disambiguates them.
type WorkerMessage struct {
	Kind     MessageKind
	SenderID int
	Writer   bool
	At       time.Time

	// MsgProgress
	Path    string
	OK      bool
	Rows    int
	ErrKind ErrorKind

	// MsgWriterStatus
	RowsWritten int64
	LastFlush   time.Time
	Fatal       bool
	Detail      string
}
