package dto

// DeployConfigPayload is the shape the validate pipeline step expects inside
// a job's opaque config blob. The orchestrator core never parses it; only the
// validate step does.
type DeployConfigPayload struct {
	AgentName   string            `json:"agent_name" validate:"required"`
	Image       string            `json:"image,omitempty"`
	SourceRef   string            `json:"source_ref,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	MemoryMB    int               `json:"memory_mb,omitempty" validate:"omitempty,gte=64,lte=16384"`
	HealthPath  string            `json:"health_path,omitempty"`
	RuntimeSlug string            `json:"runtime_slug,omitempty"`
}
