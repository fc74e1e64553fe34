package pipeline

import (
	"context"
	"time"

	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/models"
)

// Output keys written by steps for later steps (and the processor) to read.
const (
	OutputImage    = "image"
	OutputEndpoint = "endpoint"
)

// Step is one unit of deployment work. Weight is the job's progress_percent
// once the step completes; weights must be strictly increasing across the
// pipeline so progress never regresses. A step that waits on an external
// async operation must bound its own wait and return a typed error on
// expiry instead of blocking.
type Step interface {
	Name() string
	Weight() int
	Run(ctx context.Context, run *Run) error
}

// Compensator is implemented by steps that can undo their external side
// effects when a job is cancelled after the step completed. Steps without
// one leave cleanup to the operator.
type Compensator interface {
	Compensate(ctx context.Context, run *Run) error
}

// Run carries per-job state across steps: the job record, the config parsed
// by the validate step, and outputs from earlier steps.
type Run struct {
	Job     *models.DeployJob
	Config  dto.DeployConfigPayload
	Outputs map[string]string
}

func NewRun(j *models.DeployJob) *Run {
	return &Run{Job: j, Outputs: make(map[string]string)}
}

// Endpoint returns the deployed target's address, set by the deploy step.
func (r *Run) Endpoint() string {
	return r.Outputs[OutputEndpoint]
}

// ImageBuilder builds and publishes the agent container image. Implemented
// by the external build toolchain; the pipeline treats it as opaque.
type ImageBuilder interface {
	Build(ctx context.Context, cfg dto.DeployConfigPayload) (imageRef string, err error)
	Push(ctx context.Context, imageRef string) (pushedRef string, err error)
}

// HealthState is the runtime's answer for a deployed target.
type HealthState int

const (
	HealthStarting HealthState = iota
	HealthHealthy
	HealthUnhealthy
)

// AgentRuntime deploys images to the managed runtime and reports health.
type AgentRuntime interface {
	Deploy(ctx context.Context, targetID, imageRef string, cfg dto.DeployConfigPayload) (endpoint string, err error)
	Health(ctx context.Context, endpoint string) (HealthState, error)
}

// Options bound each step's external waits. Zero values fall back to the
// defaults below.
type Options struct {
	BuildTimeout   time.Duration
	DeployTimeout  time.Duration
	VerifyTimeout  time.Duration
	VerifyInterval time.Duration
}

const (
	defaultBuildTimeout   = 10 * time.Minute
	defaultDeployTimeout  = 2 * time.Minute
	defaultVerifyTimeout  = 3 * time.Minute
	defaultVerifyInterval = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.BuildTimeout <= 0 {
		o.BuildTimeout = defaultBuildTimeout
	}
	if o.DeployTimeout <= 0 {
		o.DeployTimeout = defaultDeployTimeout
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = defaultVerifyTimeout
	}
	if o.VerifyInterval <= 0 {
		o.VerifyInterval = defaultVerifyInterval
	}
	return o
}

// Pipeline is the fixed, ordered step sequence the processor drives each
// claimed job through.
type Pipeline struct {
	steps []Step
}

// New assembles the standard deployment pipeline:
// validate(10) -> build(50) -> deploy(80) -> verify(100).
func New(builder ImageBuilder, runtime AgentRuntime, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		steps: []Step{
			&validateStep{},
			&buildStep{builder: builder, timeout: opts.BuildTimeout},
			&deployStep{runtime: runtime, timeout: opts.DeployTimeout},
			&verifyStep{runtime: runtime, timeout: opts.VerifyTimeout, interval: opts.VerifyInterval},
		},
	}
}

// FromSteps builds a pipeline from an explicit step list. Tests use this to
// swap individual steps.
func FromSteps(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

func (p *Pipeline) Steps() []Step {
	return p.steps
}
