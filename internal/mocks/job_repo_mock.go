package mocks

import (
	"context"
	"time"

	"github.com/agentforge/deployq/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) Create(ctx context.Context, j *models.DeployJob) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id string) (*models.DeployJob, error) {
	args := m.Called(ctx, id)

	j, _ := args.Get(0).(*models.DeployJob)
	return j, args.Error(1)
}

func (m *JobRepoMock) CountActive(ctx context.Context, targetID string) (int64, error) {
	args := m.Called(ctx, targetID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobRepoMock) NextQueued(ctx context.Context, limit int) ([]models.DeployJob, error) {
	args := m.Called(ctx, limit)

	jobs, _ := args.Get(0).([]models.DeployJob)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) Claim(ctx context.Context, j *models.DeployJob, lease time.Duration) (bool, error) {
	args := m.Called(ctx, j, lease)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) Release(ctx context.Context, j *models.DeployJob) (bool, error) {
	args := m.Called(ctx, j)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) UpdateProgress(ctx context.Context, j *models.DeployJob, step string, percent int, lease time.Duration) (bool, error) {
	args := m.Called(ctx, j, step, percent, lease)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) MarkDeployed(ctx context.Context, j *models.DeployJob, endpoint string) (bool, error) {
	args := m.Called(ctx, j, endpoint)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) MarkFailed(ctx context.Context, j *models.DeployJob, errMsg string) (bool, error) {
	args := m.Called(ctx, j, errMsg)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) MarkCancelled(ctx context.Context, j *models.DeployJob) (bool, error) {
	args := m.Called(ctx, j)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) RequestCancel(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) CountByStatus(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).(map[string]int64)
	return counts, args.Error(1)
}

func (m *JobRepoMock) List(ctx context.Context, status, targetID string, limit int) ([]models.DeployJob, error) {
	args := m.Called(ctx, status, targetID, limit)

	jobs, _ := args.Get(0).([]models.DeployJob)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) ListExpiredLeases(ctx context.Context, now time.Time) ([]models.DeployJob, error) {
	args := m.Called(ctx, now)

	jobs, _ := args.Get(0).([]models.DeployJob)
	return jobs, args.Error(1)
}
