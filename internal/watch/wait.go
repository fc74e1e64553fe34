package watch

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/models"
)

// DefaultWaitTimeout is the recommended client-side bound for watching a
// single job to completion.
const DefaultWaitTimeout = 600 * time.Second

// ErrWaitTimeout means the job did not reach a terminal state within the
// client's window. The job is indeterminate, not failed; it may still be
// making progress.
var ErrWaitTimeout = errors.New("timed out waiting for job to reach a terminal state")

// WaitForTerminal consumes a job's change stream until a terminal snapshot
// arrives or the timeout lapses. The returned job is the last snapshot seen,
// which on ErrWaitTimeout is the freshest known non-terminal state.
func WaitForTerminal(ctx context.Context, w Watcher, jobID string, timeout time.Duration) (*models.DeployJob, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := w.WatchJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var last *models.DeployJob
	for {
		select {
		case j, open := <-stream:
			if !open {
				if last != nil && config.JobStatus(last.Status).Terminal() {
					return last, nil
				}
				// Stream dropped without a terminal event; a caller should
				// re-subscribe, which refetches the record.
				return last, ErrWaitTimeout
			}
			// Replayed or out-of-order events never regress: keep the
			// highest version seen.
			if last == nil || j.Version >= last.Version {
				snapshot := j
				last = &snapshot
			}
			if config.JobStatus(last.Status).Terminal() {
				return last, nil
			}
		case <-ctx.Done():
			return last, ErrWaitTimeout
		}
	}
}
