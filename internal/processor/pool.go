package processor

import (
	"context"
	"sync"
	"time"

	"github.com/agentforge/deployq/internal/job"
	"github.com/agentforge/deployq/internal/models"
	"github.com/agentforge/deployq/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

// Config bounds the pool. Workers defaults to 1, matching the single-worker
// reference behavior; raise it to process jobs for distinct targets in
// parallel.
type Config struct {
	Workers        int           `env:"PROCESSOR_WORKERS,default=1"`
	ClaimBatch     int           `env:"PROCESSOR_CLAIM_BATCH,default=10"`
	LeaseDuration  time.Duration `env:"PROCESSOR_LEASE_DURATION,default=2m"`
	ReaperInterval time.Duration `env:"PROCESSOR_REAPER_INTERVAL,default=30s"`
	IdleDelayMin   time.Duration `env:"PROCESSOR_IDLE_DELAY_MIN,default=1s"`
	IdleDelayMax   time.Duration `env:"PROCESSOR_IDLE_DELAY_MAX,default=60s"`
}

func LoadConfigFromEnv(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Publisher receives a job snapshot after every record write. The watch hub
// implements it for in-process observers; cross-process observers see the
// same writes through the store.
type Publisher interface {
	PublishJob(j models.DeployJob)
}

// Pool runs N workers plus a reaper that returns orphaned processing jobs
// (lease expired, worker gone) to the queue.
type Pool struct {
	workers []*Worker
	repo    job.JobRepoInterface
	cfg     Config
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPool(cfg Config, repo job.JobRepoInterface, pipe *pipeline.Pipeline, pub Publisher) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ClaimBatch < 1 {
		cfg.ClaimBatch = 10
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}
	if cfg.IdleDelayMin <= 0 {
		cfg.IdleDelayMin = time.Second
	}
	if cfg.IdleDelayMax < cfg.IdleDelayMin {
		cfg.IdleDelayMax = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{repo: repo, cfg: cfg, ctx: ctx, cancel: cancel}

	for i := 1; i <= cfg.Workers; i++ {
		p.workers = append(p.workers, NewWorker(i, repo, pipe, cfg, pub))
	}
	return p
}

func (p *Pool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(p.ctx)
		}(w)
	}

	p.wg.Add(1)
	go p.reaper()
}

// reaper recovers jobs whose worker died mid-flight. The grace period is the
// lease itself; progress writes refresh it, so only a stalled worker trips
// this.
func (p *Pool) reaper() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			orphans, err := p.repo.ListExpiredLeases(p.ctx, time.Now())
			if err != nil {
				log.Error().Err(err).Msg("reaper: list expired leases")
				continue
			}
			for i := range orphans {
				j := &orphans[i]
				ok, err := p.repo.Release(p.ctx, j)
				if err != nil {
					log.Error().Err(err).Str("job_id", j.ID).Msg("reaper: release orphaned job")
					continue
				}
				if !ok {
					// The worker wrote between the scan and this release, so
					// it is alive and holds a fresh lease. Leave it alone.
					log.Debug().Str("job_id", j.ID).Msg("reaper: lease refreshed since scan, skipping")
					continue
				}
				log.Warn().
					Str("job_id", j.ID).
					Str("target_id", j.TargetID).
					Str("last_step", j.CurrentStep).
					Msg("reaper: returned orphaned job to queue")
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Stop signals all workers and waits for in-flight jobs to wind down.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
