package watch

import (
	"context"
	"time"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/models"
	"github.com/rs/zerolog/log"
)

// PollWatcher is the store-backed fan-out: it re-fetches the record at a
// bounded interval and emits a snapshot whenever the version moved. Works
// against any store, across processes, and is the backend the API serves
// subscriptions from.
type PollWatcher struct {
	repo     JobStore
	interval time.Duration
}

const defaultPollInterval = time.Second

func NewPollWatcher(repo JobStore, interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollWatcher{repo: repo, interval: interval}
}

var _ Watcher = (*PollWatcher)(nil)

func (p *PollWatcher) WatchJob(ctx context.Context, jobID string) (<-chan models.DeployJob, error) {
	// Fetch up front so a missing id fails the subscribe itself rather than
	// surfacing as an empty stream. The same fetch is the connect (and
	// reconnect) snapshot, so a terminal event can never be missed.
	j, err := p.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	out := make(chan models.DeployJob, 1)
	go func() {
		defer close(out)

		out <- *j
		if config.JobStatus(j.Status).Terminal() {
			return
		}
		lastVersion := j.Version

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fresh, err := p.repo.Get(ctx, jobID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					// Transient store trouble: keep the stream open and try
					// again next tick. Records are never deleted, so a miss
					// here is infrastructure, not absence.
					log.Warn().Err(err).Str("job_id", jobID).Msg("poll watcher fetch failed")
					continue
				}
				if fresh.Version == lastVersion {
					continue
				}
				lastVersion = fresh.Version
				select {
				case out <- *fresh:
				case <-ctx.Done():
					return
				}
				if config.JobStatus(fresh.Status).Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchTarget streams snapshots of the target's most recent job. Emits
// whenever that job's version moves or a newer job supersedes it.
func (p *PollWatcher) WatchTarget(ctx context.Context, targetID string) (<-chan models.DeployJob, error) {
	out := make(chan models.DeployJob, 1)
	go func() {
		defer close(out)

		var lastID string
		var lastVersion int64

		emit := func() bool {
			jobs, err := p.repo.List(ctx, "", targetID, 1)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				log.Warn().Err(err).Str("target_id", targetID).Msg("poll watcher fetch failed")
				return true
			}
			if len(jobs) == 0 {
				return true
			}
			j := jobs[0]
			if j.ID == lastID && j.Version == lastVersion {
				return true
			}
			lastID, lastVersion = j.ID, j.Version
			select {
			case out <- j:
			case <-ctx.Done():
				return false
			}
			return true
		}

		if !emit() {
			return
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
