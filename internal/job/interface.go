package job

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/deployq/internal/dto"
	"github.com/agentforge/deployq/internal/models"
	"github.com/gin-gonic/gin"
)

// ErrNotFound is returned by repositories when a job id does not exist.
var ErrNotFound = errors.New("job not found")

// JobRepoInterface defines the contract for job repository operations.
// Conditional (compare-and-swap) methods return ok=false when the guard did
// not match; callers must treat that as a lost race, not an error.
type JobRepoInterface interface {
	Create(ctx context.Context, j *models.DeployJob) error
	Get(ctx context.Context, id string) (*models.DeployJob, error)
	CountActive(ctx context.Context, targetID string) (int64, error)
	NextQueued(ctx context.Context, limit int) ([]models.DeployJob, error)
	Claim(ctx context.Context, j *models.DeployJob, lease time.Duration) (bool, error)
	Release(ctx context.Context, j *models.DeployJob) (bool, error)
	UpdateProgress(ctx context.Context, j *models.DeployJob, step string, percent int, lease time.Duration) (bool, error)
	MarkDeployed(ctx context.Context, j *models.DeployJob, endpoint string) (bool, error)
	MarkFailed(ctx context.Context, j *models.DeployJob, errMsg string) (bool, error)
	MarkCancelled(ctx context.Context, j *models.DeployJob) (bool, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	List(ctx context.Context, status, targetID string, limit int) ([]models.DeployJob, error)
	ListExpiredLeases(ctx context.Context, now time.Time) ([]models.DeployJob, error)
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	SubmitJob(ctx context.Context, req *dto.SubmitJobDTO) (*dto.SubmitJobResponseDTO, error)
	GetJobByID(ctx context.Context, id string) (*dto.JobResponseDTO, error)
	CancelJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, status, targetID string) ([]dto.JobResponseDTO, error)
	QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Submit(c *gin.Context)
	Get(c *gin.Context)
	Cancel(c *gin.Context)
	List(c *gin.Context)
	Stats(c *gin.Context)
	Events(c *gin.Context)
	TargetEvents(c *gin.Context)
}
