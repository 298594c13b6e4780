package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	lockPollInterval = 50 * time.Millisecond
	lockMaxAttempts  = 100 // ~5 s total before giving up
	lockStaleAfter   = time.Minute
)

// acquireLock takes the advisory lock at lockPath by creating it
// exclusively, polling with bounded retries while another holder exists.
// A lock file older than lockStaleAfter is assumed abandoned by a crashed
// process and is broken. Returns the release function.
//
// Create-exclusive-then-poll is portable across filesystems where POSIX
// record locks are unreliable (notably network mounts).
func acquireLock(ctx context.Context, lockPath string) (func(), error) {
	backoff := retry.WithMaxRetries(lockMaxAttempts, retry.NewConstant(lockPollInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%s\n", strconv.Itoa(os.Getpid()))
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return err
		}
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			slog.Warn("breaking stale checkpoint lock", "path", lockPath,
				"age", time.Since(info.ModTime()))
			os.Remove(lockPath)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", lockPath, err)
	}

	return func() {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("release checkpoint lock", "path", lockPath, "error", err)
		}
	}, nil
}
