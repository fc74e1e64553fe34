package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeployJob is one deployment attempt for a target. Jobs are append-only from
// the caller's point of view: the submit path creates them in "queued", the
// processor owns every mutation from claim to terminal state, and a terminal
// job is never reopened. A retry is a new row with a fresh ID.
//
// Version is an optimistic-lock counter: every mutation goes through a
// conditional update guarded by it, so two processor instances can never both
// believe they own the same job.
type DeployJob struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)"`
	TargetID        string         `gorm:"type:varchar(255);not null;index:idx_deploy_jobs_target_status,priority:1"`
	Status          string         `gorm:"type:varchar(50);not null;default:'queued';index:idx_deploy_jobs_target_status,priority:2"`
	ProgressPercent int            `gorm:"not null;default:0"`
	CurrentStep     string         `gorm:"type:varchar(100)"`
	Priority        int            `gorm:"not null;default:100"`
	Config          datatypes.JSON `gorm:"type:jsonb"`
	ResultEndpoint  string         `gorm:"type:text"`
	ErrorMessage    string         `gorm:"type:text"`
	CancelRequested bool           `gorm:"not null;default:false"`
	Version         int64          `gorm:"not null;default:1"`
	LeaseExpiresAt  *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}
