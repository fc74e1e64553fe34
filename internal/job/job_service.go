package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/agentforge/deployq/common"
	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const listLimit = 200

type JobService struct {
	repo JobRepoInterface
}

func NewJobService(repo JobRepoInterface) *JobService {
	return &JobService{repo: repo}
}

var _ JobServiceInterface = (*JobService)(nil)

// SubmitJob validates the deployment request, enforces the one-active-job-
// per-target rule, and persists a new job record in "queued". Config
// validation happens here so a bad payload never enters the state machine.
func (s *JobService) SubmitJob(ctx context.Context, req *dto.SubmitJobDTO) (*dto.SubmitJobResponseDTO, error) {
	if !json.Valid(req.Config) {
		return nil, common.Errf(http.StatusBadRequest, common.CodeInvalidConfig, "config must be valid JSON")
	}

	if err := validateDeployConfig(req.Config); err != nil {
		return nil, err
	}

	active, err := s.repo.CountActive(ctx, req.TargetID)
	if err != nil {
		return nil, s.mapRepoErr(err, "failed to check active jobs")
	}
	if active > 0 {
		return nil, common.NewAPIError(
			http.StatusConflict,
			common.CodeConflict,
			"an active deployment already exists for this target",
			map[string]any{"target_id": req.TargetID},
		)
	}

	priority := config.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	j := models.DeployJob{
		ID:       uuid.NewString(),
		TargetID: req.TargetID,
		Status:   string(config.JobStatusQueued),
		Priority: priority,
		Config:   datatypes.JSON(req.Config),
	}

	if err := s.repo.Create(ctx, &j); err != nil {
		// Two submitters can pass the CountActive check in the same window;
		// the partial unique index on (target_id, active status) closes it.
		if isUniqueViolation(err) {
			return nil, common.NewAPIError(
				http.StatusConflict,
				common.CodeConflict,
				"an active deployment already exists for this target",
				map[string]any{"target_id": req.TargetID},
			)
		}
		return nil, s.mapRepoErr(err, "failed to create job")
	}

	return &dto.SubmitJobResponseDTO{JobID: j.ID}, nil
}

// GetJobByID retrieves a job by its ID and maps repository errors to the
// API error taxonomy.
func (s *JobService) GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, common.Errf(http.StatusNotFound, common.CodeNotFound, "job not found")
		}
		return nil, s.mapRepoErr(err, "failed to get job")
	}

	resp := toResponseDTO(j)
	return &resp, nil
}

// CancelJob flags an active job for cooperative cancellation. Cancelling a
// job that already reached a terminal state is a no-op, not an error; the
// processor picks up the flag at the next step boundary.
func (s *JobService) CancelJob(ctx context.Context, id string) error {
	ok, err := s.repo.RequestCancel(ctx, id)
	if err != nil {
		return s.mapRepoErr(err, "failed to request cancellation")
	}
	if ok {
		return nil
	}

	// Zero rows touched: either the job is terminal (fine) or it never
	// existed (not found).
	if _, err := s.repo.Get(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return common.Errf(http.StatusNotFound, common.CodeNotFound, "job not found")
		}
		return s.mapRepoErr(err, "failed to get job")
	}
	return nil
}

// ListJobs retrieves jobs with optional status and target filters.
func (s *JobService) ListJobs(ctx context.Context, status, targetID string) ([]dto.JobResponseDTO, error) {
	jobs, err := s.repo.List(ctx, status, targetID, listLimit)
	if err != nil {
		return nil, s.mapRepoErr(err, "failed to list jobs")
	}

	dtos := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		dtos[i] = toResponseDTO(&jobs[i])
	}
	return dtos, nil
}

// QueueStats returns job counts keyed by status, zero-filled so every status
// is always present in the response.
func (s *JobService) QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, s.mapRepoErr(err, "failed to count jobs")
	}

	stats := dto.QueueStatsDTO{Counts: make(map[string]int64, len(config.AllStatuses))}
	for _, st := range config.AllStatuses {
		stats.Counts[string(st)] = counts[string(st)]
		stats.Total += counts[string(st)]
	}
	return &stats, nil
}

// mapRepoErr hides store detail behind a generic internal error. A dropped
// request context surfaces here too: the TIMEOUT code is reserved for the
// client-side wait contract, not server-observed cancellation.
func (s *JobService) mapRepoErr(err error, msg string) error {
	return common.Errf(http.StatusInternalServerError, common.CodeInternal, "%s", msg)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint")
}

func toResponseDTO(j *models.DeployJob) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		JobID:           j.ID,
		TargetID:        j.TargetID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		CurrentStep:     j.CurrentStep,
		Priority:        j.Priority,
		Config:          json.RawMessage(j.Config),
		ResultEndpoint:  j.ResultEndpoint,
		ErrorMessage:    j.ErrorMessage,
		CancelRequested: j.CancelRequested,
		Version:         j.Version,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}
