package processor

import (
	"context"
	"time"

	"github.com/agentforge/deployq/internal/job"
	"github.com/agentforge/deployq/internal/models"
	"github.com/agentforge/deployq/internal/pipeline"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// storeRetryMax bounds how often a single Job Store operation is retried
// before the worker gives up on it. Giving up never fails the job outright:
// an unclaimed job stays queued and an abandoned claim is recovered by the
// lease reaper.
const storeRetryMax = 4

// Worker claims queued jobs one at a time and drives each through the
// pipeline. Every piece of progress becomes visible through exactly one
// conditional store write; the worker performs no other observer-visible
// I/O.
type Worker struct {
	ID   int
	repo job.JobRepoInterface
	pipe *pipeline.Pipeline
	cfg  Config
	pub  Publisher
}

func NewWorker(id int, repo job.JobRepoInterface, pipe *pipeline.Pipeline, cfg Config, pub Publisher) *Worker {
	return &Worker{ID: id, repo: repo, pipe: pipe, cfg: cfg, pub: pub}
}

// Run polls for claimable jobs until the context ends, backing off
// exponentially while the queue is empty.
func (w *Worker) Run(ctx context.Context) {
	currentDelay := w.cfg.IdleDelayMin

	for {
		j := w.claimNext(ctx)

		if j != nil {
			w.process(ctx, j)
			currentDelay = w.cfg.IdleDelayMin
		} else {
			currentDelay = min(currentDelay*2, w.cfg.IdleDelayMax)
		}

		select {
		case <-time.After(currentDelay):
		case <-ctx.Done():
			return
		}
	}
}

// claimNext walks the queued candidates in priority order and attempts the
// conditional queued -> processing transition on the first eligible one.
// Losing the claim race to another worker is silent; the candidate is simply
// skipped.
func (w *Worker) claimNext(ctx context.Context) *models.DeployJob {
	candidates, err := w.repo.NextQueued(ctx, w.cfg.ClaimBatch)
	if err != nil {
		log.Error().Err(err).Int("worker", w.ID).Msg("list queued jobs")
		return nil
	}

	for i := range candidates {
		cand := &candidates[i]

		// A cancel that lands while the job is still queued terminates it
		// here, before any pipeline step runs.
		if cand.CancelRequested {
			w.writeCancelled(ctx, cand)
			continue
		}

		// Per-target invariant, checked against the store rather than the
		// candidate's own status: the candidate counts as one active job,
		// so anything above that is a sibling already in flight.
		active, err := w.repo.CountActive(ctx, cand.TargetID)
		if err != nil {
			log.Error().Err(err).Str("job_id", cand.ID).Msg("count active jobs")
			continue
		}
		if active > 1 {
			continue
		}

		ok, err := w.repo.Claim(ctx, cand, w.cfg.LeaseDuration)
		if err != nil {
			log.Error().Err(err).Str("job_id", cand.ID).Msg("claim job")
			continue
		}
		if !ok {
			continue
		}

		// Two workers can pass the pre-claim check simultaneously for
		// distinct jobs of the same target. The later claimer sees the
		// conflict here and reverts to queued.
		active, err = w.repo.CountActive(ctx, cand.TargetID)
		if err == nil && active > 1 {
			if ok, relErr := w.repo.Release(ctx, cand); relErr != nil {
				log.Error().Err(relErr).Str("job_id", cand.ID).Msg("release conflicting claim")
			} else if !ok {
				log.Warn().Str("job_id", cand.ID).Msg("conflicting claim changed before release")
			}
			continue
		}

		w.publish(cand)
		log.Info().
			Int("worker", w.ID).
			Str("job_id", cand.ID).
			Str("target_id", cand.TargetID).
			Msg("claimed job")
		return cand
	}
	return nil
}

// process drives a claimed job through the pipeline. Steps run strictly in
// order; cancellation is checked only at step boundaries, so a step's
// external side effects always either fully complete or fully fail.
func (w *Worker) process(ctx context.Context, j *models.DeployJob) {
	run := pipeline.NewRun(j)
	var completed []pipeline.Step

	for _, step := range w.pipe.Steps() {
		cancelled, ok := w.checkCancel(ctx, j)
		if !ok {
			return
		}
		if cancelled {
			w.compensate(ctx, run, completed)
			w.writeCancelled(ctx, j)
			return
		}

		log.Info().Str("job_id", j.ID).Str("step", step.Name()).Msg("running step")

		if err := step.Run(ctx, run); err != nil {
			if ctx.Err() != nil {
				// Shutdown, not a step failure. Leave the job processing;
				// the lease reaper requeues it.
				log.Warn().Str("job_id", j.ID).Str("step", step.Name()).Msg("step interrupted by shutdown")
				return
			}
			w.writeFailed(ctx, j, err)
			return
		}

		if !w.writeProgress(ctx, j, step.Name(), step.Weight()) {
			return
		}
		completed = append(completed, step)
	}

	w.writeDeployed(ctx, j, run.Endpoint())
}

// checkCancel reloads the cancel flag at a step boundary. ok=false means the
// store was unreachable even after retries; the job is abandoned to the
// reaper rather than guessed at.
func (w *Worker) checkCancel(ctx context.Context, j *models.DeployJob) (cancelled, ok bool) {
	var fresh *models.DeployJob
	err := w.retryStore(ctx, func() error {
		var getErr error
		fresh, getErr = w.repo.Get(ctx, j.ID)
		return getErr
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("reload job for cancel check, abandoning")
		return false, false
	}
	j.CancelRequested = fresh.CancelRequested
	j.Version = fresh.Version
	return fresh.CancelRequested, true
}

// compensate undoes completed steps, newest first, when a job is cancelled.
// Steps without a compensating action leave their side effects for the
// operator.
func (w *Worker) compensate(ctx context.Context, run *pipeline.Run, completed []pipeline.Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		c, hasComp := step.(pipeline.Compensator)
		if !hasComp {
			log.Warn().
				Str("job_id", run.Job.ID).
				Str("step", step.Name()).
				Msg("cancelled after step with no compensating action, manual cleanup may be required")
			continue
		}
		if err := c.Compensate(ctx, run); err != nil {
			log.Error().Err(err).
				Str("job_id", run.Job.ID).
				Str("step", step.Name()).
				Msg("compensating action failed, manual cleanup required")
		}
	}
}

func (w *Worker) writeProgress(ctx context.Context, j *models.DeployJob, step string, percent int) bool {
	var ok bool
	err := w.retryStore(ctx, func() error {
		var opErr error
		ok, opErr = w.repo.UpdateProgress(ctx, j, step, percent, w.cfg.LeaseDuration)
		return opErr
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("write progress, abandoning")
		return false
	}
	if !ok {
		log.Warn().Str("job_id", j.ID).Msg("lost job ownership on progress write")
		return false
	}
	w.publish(j)
	return true
}

func (w *Worker) writeDeployed(ctx context.Context, j *models.DeployJob, endpoint string) {
	var ok bool
	err := w.retryStore(ctx, func() error {
		var opErr error
		ok, opErr = w.repo.MarkDeployed(ctx, j, endpoint)
		return opErr
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("record deployed outcome")
		return
	}
	if !ok {
		log.Warn().Str("job_id", j.ID).Msg("lost job ownership before deployed write")
		return
	}
	w.publish(j)
	log.Info().Str("job_id", j.ID).Str("endpoint", endpoint).Msg("job deployed")
}

func (w *Worker) writeFailed(ctx context.Context, j *models.DeployJob, stepErr error) {
	var ok bool
	err := w.retryStore(ctx, func() error {
		var opErr error
		ok, opErr = w.repo.MarkFailed(ctx, j, stepErr.Error())
		return opErr
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("record failed outcome")
		return
	}
	if !ok {
		log.Warn().Str("job_id", j.ID).Msg("lost job ownership before failed write")
		return
	}
	w.publish(j)
	log.Info().Str("job_id", j.ID).Str("error", stepErr.Error()).Msg("job failed")
}

func (w *Worker) writeCancelled(ctx context.Context, j *models.DeployJob) {
	var ok bool
	err := w.retryStore(ctx, func() error {
		var opErr error
		ok, opErr = w.repo.MarkCancelled(ctx, j)
		return opErr
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", j.ID).Msg("record cancelled outcome")
		return
	}
	if !ok {
		log.Warn().Str("job_id", j.ID).Msg("cancel write lost, job changed underneath")
		return
	}
	w.publish(j)
	log.Info().Str("job_id", j.ID).Msg("job cancelled")
}

// retryStore retries a Job Store operation with bounded exponential backoff.
// Step failures never come through here; this is purely for infrastructure
// errors talking to the store.
func (w *Worker) retryStore(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), storeRetryMax), ctx)
	return backoff.Retry(op, bo)
}

func (w *Worker) publish(j *models.DeployJob) {
	if w.pub != nil {
		w.pub.PublishJob(*j)
	}
}
