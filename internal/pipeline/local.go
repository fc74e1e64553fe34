package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentforge/deployq/internal/dto"
	"github.com/rs/zerolog/log"
)

// LocalBuilder and LocalRuntime are in-process collaborator implementations
// for local runs and demos. They honor context cancellation and mimic the
// latency of the real toolchain without leaving the process.

type LocalBuilder struct {
	Registry string
}

var _ ImageBuilder = (*LocalBuilder)(nil)

func (b *LocalBuilder) Build(ctx context.Context, cfg dto.DeployConfigPayload) (string, error) {
	select {
	case <-time.After(300 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	ref := fmt.Sprintf("%s/%s:%d", b.registry(), cfg.AgentName, time.Now().Unix())
	log.Debug().Str("image", ref).Str("source_ref", cfg.SourceRef).Msg("built image")
	return ref, nil
}

func (b *LocalBuilder) Push(ctx context.Context, imageRef string) (string, error) {
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	log.Debug().Str("image", imageRef).Msg("pushed image")
	return imageRef, nil
}

func (b *LocalBuilder) registry() string {
	if b.Registry != "" {
		return strings.TrimSuffix(b.Registry, "/")
	}
	return "registry.local/agents"
}

type LocalRuntime struct {
	Domain string

	// WarmupChecks is how many health polls answer "starting" before the
	// target turns healthy.
	WarmupChecks int

	checks map[string]int
}

var _ AgentRuntime = (*LocalRuntime)(nil)

func (r *LocalRuntime) Deploy(ctx context.Context, targetID, imageRef string, cfg dto.DeployConfigPayload) (string, error) {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	domain := r.Domain
	if domain == "" {
		domain = "agents.local"
	}
	endpoint := fmt.Sprintf("https://%s.%s", targetID, domain)
	log.Debug().Str("target_id", targetID).Str("endpoint", endpoint).Str("image", imageRef).Msg("deployed")
	return endpoint, nil
}

func (r *LocalRuntime) Health(ctx context.Context, endpoint string) (HealthState, error) {
	if err := ctx.Err(); err != nil {
		return HealthStarting, err
	}
	if r.checks == nil {
		r.checks = make(map[string]int)
	}
	r.checks[endpoint]++
	if r.checks[endpoint] <= r.WarmupChecks {
		return HealthStarting, nil
	}
	return HealthHealthy, nil
}
