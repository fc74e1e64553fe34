package watch

import (
	"context"
	"sync"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/models"
	"github.com/rs/zerolog/log"
)

// Watcher delivers job record snapshots: one on connect, one per observed
// change, and the stream closes after a terminal snapshot. Events may be
// duplicated; consumers resolve by Version (last-write-wins).
type Watcher interface {
	WatchJob(ctx context.Context, jobID string) (<-chan models.DeployJob, error)
	WatchTarget(ctx context.Context, targetID string) (<-chan models.DeployJob, error)
}

// JobStore is the slice of the repository the watchers need.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.DeployJob, error)
	List(ctx context.Context, status, targetID string, limit int) ([]models.DeployJob, error)
}

const subscriberBuffer = 16

type subKind int

const (
	byJob subKind = iota
	byTarget
)

type subKey struct {
	kind subKind
	id   string
}

type subscriber struct {
	id uint64
	ch chan models.DeployJob
}

// Hub is the push backend: an in-process fan-out fed by the processor's
// write path. Only valid when processor and observer share a process; the
// poll watcher covers the cross-process case over the store.
//
// The repo, when set, supplies the connect-time snapshot so a subscriber
// that arrives late (or reconnects) still sees the current state, including
// a terminal one.
type Hub struct {
	mu     sync.RWMutex
	subs   map[subKey][]*subscriber
	nextID uint64
	repo   JobStore
}

func NewHub(repo JobStore) *Hub {
	return &Hub{
		subs: make(map[subKey][]*subscriber),
		repo: repo,
	}
}

var _ Watcher = (*Hub)(nil)

// PublishJob fans a snapshot out to subscribers of the job and of its
// target. A slow subscriber loses its oldest buffered snapshot, never the
// newest: intermediate progress is droppable, the latest state is not.
func (h *Hub) PublishJob(j models.DeployJob) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, 4)
	targets = append(targets, h.subs[subKey{byJob, j.ID}]...)
	targets = append(targets, h.subs[subKey{byTarget, j.TargetID}]...)
	h.mu.RUnlock()

	for _, s := range targets {
		for {
			select {
			case s.ch <- j:
			default:
				select {
				case <-s.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *Hub) WatchJob(ctx context.Context, jobID string) (<-chan models.DeployJob, error) {
	return h.watch(ctx, subKey{byJob, jobID})
}

func (h *Hub) WatchTarget(ctx context.Context, targetID string) (<-chan models.DeployJob, error) {
	return h.watch(ctx, subKey{byTarget, targetID})
}

func (h *Hub) watch(ctx context.Context, key subKey) (<-chan models.DeployJob, error) {
	var initial *models.DeployJob
	if h.repo != nil && key.kind == byJob {
		j, err := h.repo.Get(ctx, key.id)
		if err != nil {
			return nil, err
		}
		initial = j
	}

	s := &subscriber{ch: make(chan models.DeployJob, subscriberBuffer)}

	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs[key] = append(h.subs[key], s)
	h.mu.Unlock()

	out := make(chan models.DeployJob, 1)
	go func() {
		defer close(out)
		defer h.unsubscribe(key, s.id)

		if initial != nil {
			out <- *initial
			if config.JobStatus(initial.Status).Terminal() {
				return
			}
		}

		for {
			select {
			case j := <-s.ch:
				select {
				case out <- j:
				case <-ctx.Done():
					return
				}
				if config.JobStatus(j.Status).Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (h *Hub) unsubscribe(key subKey, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[key]
	for i, s := range subs {
		if s.id == id {
			h.subs[key] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
	log.Debug().Msg("unsubscribe: subscriber already gone")
}
