package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type fakeBuilder struct {
	buildCalls int
	pushCalls  int
	buildErr   error
	pushErr    error
}

func (b *fakeBuilder) Build(ctx context.Context, cfg dto.DeployConfigPayload) (string, error) {
	b.buildCalls++
	if b.buildErr != nil {
		return "", b.buildErr
	}
	return "registry.local/agents/" + cfg.AgentName + ":built", nil
}

func (b *fakeBuilder) Push(ctx context.Context, imageRef string) (string, error) {
	b.pushCalls++
	if b.pushErr != nil {
		return "", b.pushErr
	}
	return imageRef, nil
}

type fakeRuntime struct {
	deployErr   error
	healthSeq   []HealthState
	healthCalls int
	healthErr   error
}

func (r *fakeRuntime) Deploy(ctx context.Context, targetID, imageRef string, cfg dto.DeployConfigPayload) (string, error) {
	if r.deployErr != nil {
		return "", r.deployErr
	}
	return "https://" + targetID + ".agents.local", nil
}

func (r *fakeRuntime) Health(ctx context.Context, endpoint string) (HealthState, error) {
	if r.healthErr != nil {
		return HealthStarting, r.healthErr
	}
	idx := r.healthCalls
	r.healthCalls++
	if idx >= len(r.healthSeq) {
		return r.healthSeq[len(r.healthSeq)-1], nil
	}
	return r.healthSeq[idx], nil
}

func testJob(configJSON string) *models.DeployJob {
	return &models.DeployJob{
		ID:       "j1",
		TargetID: "a1",
		Status:   string(config.JobStatusProcessing),
		Config:   datatypes.JSON([]byte(configJSON)),
	}
}

func fastOptions() Options {
	return Options{
		BuildTimeout:   time.Second,
		DeployTimeout:  time.Second,
		VerifyTimeout:  100 * time.Millisecond,
		VerifyInterval: 10 * time.Millisecond,
	}
}

func TestPipeline_StepOrderAndWeights(t *testing.T) {
	p := New(&fakeBuilder{}, &fakeRuntime{healthSeq: []HealthState{HealthHealthy}}, fastOptions())

	steps := p.Steps()
	require.Len(t, steps, 4)

	names := make([]string, len(steps))
	prevWeight := 0
	for i, s := range steps {
		names[i] = s.Name()
		assert.Greater(t, s.Weight(), prevWeight, "weights must be strictly increasing")
		prevWeight = s.Weight()
	}
	assert.Equal(t, []string{"validate", "build", "deploy", "verify"}, names)
	assert.Equal(t, 100, steps[3].Weight())
}

func TestPipeline_FullRunSucceeds(t *testing.T) {
	builder := &fakeBuilder{}
	runtime := &fakeRuntime{healthSeq: []HealthState{HealthStarting, HealthHealthy}}
	p := New(builder, runtime, fastOptions())

	run := NewRun(testJob(`{"agent_name":"helper","source_ref":"git://repo#main"}`))
	for _, s := range p.Steps() {
		require.NoError(t, s.Run(context.Background(), run), "step %s", s.Name())
	}

	assert.Equal(t, 1, builder.buildCalls)
	assert.Equal(t, 1, builder.pushCalls)
	assert.Equal(t, "https://a1.agents.local", run.Endpoint())
	assert.Equal(t, "helper", run.Config.AgentName)
}

func TestValidateStep_RejectsBadConfig(t *testing.T) {
	step := &validateStep{}

	tests := []struct {
		name       string
		configJSON string
	}{
		{"malformed json", `{not json}`},
		{"missing agent_name", `{"image":"img:1"}`},
		{"missing image and source_ref", `{"agent_name":"helper"}`},
		{"memory below floor", `{"agent_name":"helper","image":"img:1","memory_mb":8}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewRun(testJob(tt.configJSON))
			assert.Error(t, step.Run(context.Background(), run))
		})
	}
}

func TestBuildStep_SkipsBuildForPrebuiltImage(t *testing.T) {
	builder := &fakeBuilder{}
	step := &buildStep{builder: builder, timeout: time.Second}

	run := NewRun(testJob(`{"agent_name":"helper","image":"registry.local/agents/helper:7"}`))
	require.NoError(t, (&validateStep{}).Run(context.Background(), run))
	require.NoError(t, step.Run(context.Background(), run))

	assert.Equal(t, 0, builder.buildCalls, "prebuilt image must not be rebuilt")
	assert.Equal(t, 1, builder.pushCalls)
	assert.Equal(t, "registry.local/agents/helper:7", run.Outputs[OutputImage])
}

func TestBuildStep_FailureStopsWithError(t *testing.T) {
	builder := &fakeBuilder{buildErr: errors.New("image too large")}
	step := &buildStep{builder: builder, timeout: time.Second}

	run := NewRun(testJob(`{"agent_name":"helper","source_ref":"git://repo#main"}`))
	require.NoError(t, (&validateStep{}).Run(context.Background(), run))

	err := step.Run(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image too large")
	assert.Empty(t, run.Outputs[OutputImage])
}

func TestVerifyStep_WaitsThroughWarmup(t *testing.T) {
	runtime := &fakeRuntime{healthSeq: []HealthState{HealthStarting, HealthStarting, HealthHealthy}}
	step := &verifyStep{runtime: runtime, timeout: time.Second, interval: time.Millisecond}

	run := NewRun(testJob(`{"agent_name":"helper","image":"img:1"}`))
	run.Outputs[OutputEndpoint] = "https://a1.agents.local"

	assert.NoError(t, step.Run(context.Background(), run))
	assert.Equal(t, 3, runtime.healthCalls)
}

func TestVerifyStep_UnhealthyFailsFast(t *testing.T) {
	runtime := &fakeRuntime{healthSeq: []HealthState{HealthStarting, HealthUnhealthy}}
	step := &verifyStep{runtime: runtime, timeout: time.Minute, interval: time.Millisecond}

	run := NewRun(testJob(`{"agent_name":"helper","image":"img:1"}`))
	run.Outputs[OutputEndpoint] = "https://a1.agents.local"

	err := step.Run(context.Background(), run)
	assert.ErrorIs(t, err, ErrTargetUnhealthy)
	assert.Equal(t, 2, runtime.healthCalls, "unhealthy must not keep polling")
}

func TestVerifyStep_TimesOutWhileStarting(t *testing.T) {
	runtime := &fakeRuntime{healthSeq: []HealthState{HealthStarting}}
	step := &verifyStep{runtime: runtime, timeout: 30 * time.Millisecond, interval: 5 * time.Millisecond}

	run := NewRun(testJob(`{"agent_name":"helper","image":"img:1"}`))
	run.Outputs[OutputEndpoint] = "https://a1.agents.local"

	err := step.Run(context.Background(), run)
	assert.ErrorIs(t, err, ErrVerifyTimeout)
}

func TestVerifyStep_ContextCancellation(t *testing.T) {
	runtime := &fakeRuntime{healthSeq: []HealthState{HealthStarting}}
	step := &verifyStep{runtime: runtime, timeout: time.Minute, interval: 50 * time.Millisecond}

	run := NewRun(testJob(`{"agent_name":"helper","image":"img:1"}`))
	run.Outputs[OutputEndpoint] = "https://a1.agents.local"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := step.Run(ctx, run)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeployStep_ErrorPropagates(t *testing.T) {
	runtime := &fakeRuntime{deployErr: errors.New("runtime quota exceeded")}
	step := &deployStep{runtime: runtime, timeout: time.Second}

	run := NewRun(testJob(`{"agent_name":"helper","image":"img:1"}`))
	require.NoError(t, (&validateStep{}).Run(context.Background(), run))
	run.Outputs[OutputImage] = "img:1"

	err := step.Run(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runtime quota exceeded")
	assert.Empty(t, run.Endpoint())
}
