package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/job"
	"github.com/agentforge/deployq/internal/models"
	"gorm.io/gorm"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ job.JobRepoInterface = (*JobRepository)(nil)

var activeStatuses = []string{
	string(config.JobStatusQueued),
	string(config.JobStatusProcessing),
}

// Create inserts a new job record. The submit path is the only caller; the
// record starts in whatever status the caller set (always "queued").
func (r *JobRepository) Create(ctx context.Context, j *models.DeployJob) error {
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.DeployJob, error) {
	var j models.DeployJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// CountActive returns how many jobs for a target are queued or processing.
// The whole design exists to keep this at most 1.
func (r *JobRepository) CountActive(ctx context.Context, targetID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("target_id = ? AND status IN ?", targetID, activeStatuses).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

// NextQueued returns up to limit claim candidates: queued jobs ordered by
// priority ascending, ties broken by creation time.
func (r *JobRepository) NextQueued(ctx context.Context, limit int) ([]models.DeployJob, error) {
	var jobs []models.DeployJob
	if err := r.db.WithContext(ctx).
		Where("status = ?", string(config.JobStatusQueued)).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return jobs, nil
}

// Claim attempts the atomic queued -> processing transition guarded by the
// job's version. Returns false without error when another processor won the
// race; that is the normal concurrency path, not a failure.
func (r *JobRepository) Claim(ctx context.Context, j *models.DeployJob, lease time.Duration) (bool, error) {
	expires := time.Now().Add(lease)
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND version = ? AND status = ?", j.ID, j.Version, string(config.JobStatusQueued)).
		Updates(map[string]any{
			"status":           string(config.JobStatusProcessing),
			"lease_expires_at": expires,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.Status = string(config.JobStatusProcessing)
	j.LeaseExpiresAt = &expires
	j.Version++
	return true, nil
}

// Release returns a processing job to the queue, clearing its lease and step
// but keeping its progress. Guarded by the caller's version snapshot: a
// reaper holding a stale scan result loses to a worker that refreshed its
// lease in between, so a live job is never yanked back to queued.
func (r *JobRepository) Release(ctx context.Context, j *models.DeployJob) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND version = ? AND status = ?", j.ID, j.Version, string(config.JobStatusProcessing)).
		Updates(map[string]any{
			"status":           string(config.JobStatusQueued),
			"current_step":     "",
			"lease_expires_at": nil,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.Status = string(config.JobStatusQueued)
	j.CurrentStep = ""
	j.LeaseExpiresAt = nil
	j.Version++
	return true, nil
}

// UpdateProgress records a finished step. Progress writes are the only way
// observers see forward motion, so each one is a single conditional write
// that also refreshes the worker's lease. The percent column never moves
// backwards: a requeued job that reruns early steps keeps the high-water
// mark from its first execution.
func (r *JobRepository) UpdateProgress(ctx context.Context, j *models.DeployJob, step string, percent int, lease time.Duration) (bool, error) {
	expires := time.Now().Add(lease)
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND version = ? AND status = ?", j.ID, j.Version, string(config.JobStatusProcessing)).
		Updates(map[string]any{
			"current_step":     step,
			"progress_percent": gorm.Expr("CASE WHEN progress_percent > ? THEN progress_percent ELSE ? END", percent, percent),
			"lease_expires_at": expires,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("update progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.CurrentStep = step
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
	j.LeaseExpiresAt = &expires
	j.Version++
	return true, nil
}

// MarkDeployed writes the successful terminal state.
func (r *JobRepository) MarkDeployed(ctx context.Context, j *models.DeployJob, endpoint string) (bool, error) {
	return r.finish(ctx, j, map[string]any{
		"status":           string(config.JobStatusDeployed),
		"progress_percent": 100,
		"current_step":     "",
		"result_endpoint":  endpoint,
		"lease_expires_at": nil,
		"version":          gorm.Expr("version + 1"),
	})
}

// MarkFailed writes the failed terminal state. Progress stays frozen at its
// last-known value.
func (r *JobRepository) MarkFailed(ctx context.Context, j *models.DeployJob, errMsg string) (bool, error) {
	return r.finish(ctx, j, map[string]any{
		"status":           string(config.JobStatusFailed),
		"current_step":     "",
		"error_message":    errMsg,
		"lease_expires_at": nil,
		"version":          gorm.Expr("version + 1"),
	})
}

// MarkCancelled writes the cancelled terminal state. Valid from queued as
// well as processing: a cancel that lands before any claim still terminates
// the job without a single pipeline step running.
func (r *JobRepository) MarkCancelled(ctx context.Context, j *models.DeployJob) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND version = ? AND status IN ?", j.ID, j.Version, activeStatuses).
		Updates(map[string]any{
			"status":           string(config.JobStatusCancelled),
			"current_step":     "",
			"lease_expires_at": nil,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark cancelled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.Status = string(config.JobStatusCancelled)
	j.CurrentStep = ""
	j.LeaseExpiresAt = nil
	j.Version++
	return true, nil
}

func (r *JobRepository) finish(ctx context.Context, j *models.DeployJob, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND version = ? AND status = ?", j.ID, j.Version, string(config.JobStatusProcessing)).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("finish job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.Status = updates["status"].(string)
	if pct, ok := updates["progress_percent"].(int); ok {
		j.ProgressPercent = pct
	}
	if ep, ok := updates["result_endpoint"].(string); ok {
		j.ResultEndpoint = ep
	}
	if msg, ok := updates["error_message"].(string); ok {
		j.ErrorMessage = msg
	}
	j.CurrentStep = ""
	j.LeaseExpiresAt = nil
	j.Version++
	return true, nil
}

// RequestCancel flips the cancel flag on an active job. A request against a
// terminal job affects zero rows and is reported as ok=false, which the
// service treats as a no-op rather than an error.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]any{
			"cancel_requested": true,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, fmt.Errorf("request cancel: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CountByStatus returns job counts grouped by status for queue-depth
// visibility.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.DeployJob{}).
		Select("status, count(*) as n").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// List retrieves jobs filtered by optional status and target, newest first.
func (r *JobRepository) List(ctx context.Context, status, targetID string, limit int) ([]models.DeployJob, error) {
	q := r.db.WithContext(ctx).Model(&models.DeployJob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if targetID != "" {
		q = q.Where("target_id = ?", targetID)
	}
	var jobs []models.DeployJob
	if err := q.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListExpiredLeases finds processing jobs whose worker lease has lapsed,
// which means the owning worker crashed or lost connectivity mid-job.
func (r *JobRepository) ListExpiredLeases(ctx context.Context, now time.Time) ([]models.DeployJob, error) {
	var jobs []models.DeployJob
	if err := r.db.WithContext(ctx).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
			string(config.JobStatusProcessing), now).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	return jobs, nil
}
