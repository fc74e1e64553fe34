package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentforge/deployq/internal/dto"
	"github.com/go-playground/validator/v10"
)

// Typed verify failures. The processor records these verbatim in the job's
// error_message; callers distinguish "never became ready" from "actively
// broken" by message alone.
var (
	ErrVerifyTimeout   = errors.New("target did not become healthy before the verify timeout")
	ErrTargetUnhealthy = errors.New("target reported unhealthy")
)

var validate = validator.New()

// validateStep parses the opaque config blob and checks its shape. This is
// the only place the orchestrator looks inside config.
type validateStep struct{}

func (s *validateStep) Name() string { return "validate" }
func (s *validateStep) Weight() int  { return 10 }

func (s *validateStep) Run(ctx context.Context, run *Run) error {
	var cfg dto.DeployConfigPayload
	if err := json.Unmarshal(run.Job.Config, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if cfg.Image == "" && cfg.SourceRef == "" {
		return errors.New("config must set image or source_ref")
	}
	run.Config = cfg
	return nil
}

// buildStep produces the image to deploy. A config with a prebuilt image
// skips the build and only pushes; otherwise the builder compiles from
// source_ref first.
type buildStep struct {
	builder ImageBuilder
	timeout time.Duration
}

func (s *buildStep) Name() string { return "build" }
func (s *buildStep) Weight() int  { return 50 }

func (s *buildStep) Run(ctx context.Context, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	imageRef := run.Config.Image
	if imageRef == "" {
		built, err := s.builder.Build(ctx, run.Config)
		if err != nil {
			return fmt.Errorf("build image: %w", err)
		}
		imageRef = built
	}

	pushed, err := s.builder.Push(ctx, imageRef)
	if err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	run.Outputs[OutputImage] = pushed
	return nil
}

// deployStep hands the pushed image to the managed runtime.
type deployStep struct {
	runtime AgentRuntime
	timeout time.Duration
}

func (s *deployStep) Name() string { return "deploy" }
func (s *deployStep) Weight() int  { return 80 }

func (s *deployStep) Run(ctx context.Context, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint, err := s.runtime.Deploy(ctx, run.Job.TargetID, run.Outputs[OutputImage], run.Config)
	if err != nil {
		return fmt.Errorf("deploy to runtime: %w", err)
	}
	run.Outputs[OutputEndpoint] = endpoint
	return nil
}

// verifyStep polls the deployed target's health until it is healthy. A
// "starting" answer keeps the poll going until the bounded timeout; an
// "unhealthy" answer fails immediately, since more waiting cannot fix it.
type verifyStep struct {
	runtime  AgentRuntime
	timeout  time.Duration
	interval time.Duration
}

func (s *verifyStep) Name() string { return "verify" }
func (s *verifyStep) Weight() int  { return 100 }

func (s *verifyStep) Run(ctx context.Context, run *Run) error {
	deadline := time.Now().Add(s.timeout)
	endpoint := run.Outputs[OutputEndpoint]

	for {
		state, err := s.runtime.Health(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		switch state {
		case HealthHealthy:
			return nil
		case HealthUnhealthy:
			return ErrTargetUnhealthy
		}

		if time.Now().After(deadline) {
			return ErrVerifyTimeout
		}

		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
