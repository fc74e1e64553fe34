package config

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDeployed   JobStatus = "deployed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// AllStatuses is the full set, in lifecycle order. Queue-depth reporting
// iterates this so every status shows up even with a zero count.
var AllStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusProcessing,
	JobStatusDeployed,
	JobStatusFailed,
	JobStatusCancelled,
}

// Terminal reports whether a job in this status can never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDeployed, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// DefaultPriority is assigned when a submit request carries no priority hint.
// Lower values are claimed first.
const DefaultPriority = 100
