package dto

import (
	"encoding/json"
	"time"
)

type SubmitJobDTO struct {
	TargetID string          `json:"target_id" validate:"required"`
	Config   json.RawMessage `json:"config" validate:"required"`
	Priority *int            `json:"priority,omitempty" validate:"omitempty,gte=0,lte=1000"`
}

type SubmitJobResponseDTO struct {
	JobID string `json:"job_id"`
}

type JobResponseDTO struct {
	JobID           string          `json:"job_id"`
	TargetID        string          `json:"target_id"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
	CurrentStep     string          `json:"current_step,omitempty"`
	Priority        int             `json:"priority"`
	Config          json.RawMessage `json:"config,omitempty"`
	ResultEndpoint  string          `json:"result_endpoint,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type QueueStatsDTO struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}
