package mocks

import (
	"context"

	"github.com/agentforge/deployq/internal/dto"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) SubmitJob(ctx context.Context, req *dto.SubmitJobDTO) (*dto.SubmitJobResponseDTO, error) {
	args := m.Called(ctx, req)

	resp, _ := args.Get(0).(*dto.SubmitJobResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	args := m.Called(ctx, id)

	resp, _ := args.Get(0).(*dto.JobResponseDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) CancelJob(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) ListJobs(ctx context.Context, status, targetID string) ([]dto.JobResponseDTO, error) {
	args := m.Called(ctx, status, targetID)

	jobs, _ := args.Get(0).([]dto.JobResponseDTO)
	return jobs, args.Error(1)
}

func (m *JobServiceMock) QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).(*dto.QueueStatsDTO)
	return stats, args.Error(1)
}
