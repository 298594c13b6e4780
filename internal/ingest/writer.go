package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mfalcone/docmill/internal/domain"
)

// WriterOptions tunes one writer shard.
type WriterOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxInsertAttempts bounds the retries on a failed batch insert before
	// the shard escalates a fatal status.
	MaxInsertAttempts uint64
	// BackoffBase is the initial delay of the exponential insert backoff.
	BackoffBase time.Duration
}

func (o *WriterOptions) defaults() {
	if o.BatchSize < 1 {
		o.BatchSize = 1000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.MaxInsertAttempts == 0 {
		o.MaxInsertAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 100 * time.Millisecond
	}
}

// WriterStats holds the final counts returned by RunWriter.
type WriterStats struct {
	RowsWritten int64
	Batches     int64
}

// RunWriter is one shard of the writer pool. It buffers rows from incoming
// ProcessingResults and flushes a full transactional batch whenever the
// buffer reaches BatchSize, or whatever is buffered when FlushInterval
// elapses. Closing in is the shutdown signal: the shard drains, flushes the
// partial batch, emits a final status, and returns.
//
// Inserts use INSERT OR IGNORE keyed by the stable row ID, so a
// crash-and-reprocess never duplicates rows. A batch either fully commits
// or fully rolls back.
func RunWriter(ctx context.Context, db *sql.DB, runID int64, shardID int, in <-chan domain.ProcessingResult, msgs chan<- domain.WorkerMessage, opts WriterOptions) (WriterStats, error) {
	opts.defaults()

	var (
		stats     WriterStats
		buf       []domain.ExtractedRow
		lastFlush time.Time
	)

	flush := func(flushCtx context.Context, batch []domain.ExtractedRow) error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := insertBatch(flushCtx, db, runID, batch, opts)
		if err != nil {
			sendMsg(ctx, msgs, domain.WorkerMessage{
				Kind:     domain.MsgWriterStatus,
				SenderID: shardID,
				Writer:   true,
				At:       time.Now(),
				Fatal:    true,
				Detail:   err.Error(),
			})
			return fmt.Errorf("writer %d: %w", shardID, err)
		}
		stats.RowsWritten += inserted
		stats.Batches++
		lastFlush = time.Now()
		sendMsg(ctx, msgs, domain.WorkerMessage{
			Kind:        domain.MsgWriterStatus,
			SenderID:    shardID,
			Writer:      true,
			At:          lastFlush,
			RowsWritten: stats.RowsWritten,
			LastFlush:   lastFlush,
		})
		return nil
	}

	ticker := time.NewTicker(opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancelled: flush what is buffered so completed work is not
			// lost, using a background context like any shutdown flush.
			if err := flush(context.Background(), buf); err != nil {
				return stats, err
			}
			return stats, ctx.Err()

		case <-ticker.C:
			if err := flush(ctx, buf); err != nil {
				return stats, err
			}
			buf = buf[:0]

		case res, ok := <-in:
			if !ok {
				// Shutdown: drain is complete once in is closed.
				if err := flush(context.Background(), buf); err != nil {
					return stats, err
				}
				sendMsg(ctx, msgs, domain.WorkerMessage{
					Kind:        domain.MsgShutdown,
					SenderID:    shardID,
					Writer:      true,
					At:          time.Now(),
					RowsWritten: stats.RowsWritten,
				})
				return stats, nil
			}
			buf = append(buf, res.Rows...)
			// A size-triggered flush writes exactly BatchSize rows; the
			// remainder stays buffered for the next threshold or tick.
			for len(buf) >= opts.BatchSize {
				if err := flush(ctx, buf[:opts.BatchSize]); err != nil {
					return stats, err
				}
				buf = append(buf[:0], buf[opts.BatchSize:]...)
			}
		}
	}
}

// insertBatch writes one batch in a single transaction, retrying transient
// store errors (lock contention, busy timeout) with exponential backoff
// before giving up. Returns the number of rows actually inserted, which is
// below len(batch) when the IGNORE dedup skips reprocessed rows.
func insertBatch(ctx context.Context, db *sql.DB, runID int64, batch []domain.ExtractedRow, opts WriterOptions) (int64, error) {
	backoff := retry.WithMaxRetries(opts.MaxInsertAttempts, retry.NewExponential(opts.BackoffBase))

	var inserted int64
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		n, err := insertBatchOnce(ctx, db, runID, batch)
		if err != nil {
			slog.Warn("batch insert failed, retrying", "rows", len(batch), "error", err)
			return retry.RetryableError(err)
		}
		inserted = n
		return nil
	})
	return inserted, err
}

func insertBatchOnce(ctx context.Context, db *sql.DB, runID int64, batch []domain.ExtractedRow) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO documents
			(id, source_path, position, content, run_id, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	var inserted int64
	for _, row := range batch {
		res, err := stmt.ExecContext(ctx,
			row.ID, row.SourcePath, row.Position, row.Content, runID, now)
		if err != nil {
			return 0, fmt.Errorf("insert row %s: %w", row.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func sendMsg(ctx context.Context, msgs chan<- domain.WorkerMessage, msg domain.WorkerMessage) {
	select {
	case msgs <- msg:
	case <-ctx.Done():
	}
}
