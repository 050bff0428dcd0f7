package model

import "time"

// TrainingStartRequest is the admin panel's training form
type TrainingStartRequest struct {
	VideoURL  string `json:"videoUrl" validate:"required,max=2048"`
	Instagram string `json:"instagram" validate:"max=256"`
}

// TrainingStartResponse is returned when a run is queued, or when a run for
// the same correlation key is already active.
type TrainingStartResponse struct {
	JobID          string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	CorrelationKey string    `json:"correlationKey"`
	Busy           bool      `json:"busy"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TrainingStatusResponse is the projection of a training job
type TrainingStatusResponse struct {
	JobID            string       `json:"jobId"`
	Status           JobStatus    `json:"status"`
	Phase            string       `json:"phase,omitempty"`
	PipelineStatus   string       `json:"pipelineStatus,omitempty"`
	Message          string       `json:"message"`
	Busy             bool         `json:"busy"`
	Policy           string       `json:"policy,omitempty"`
	CachePrimeFailed bool         `json:"cachePrimeFailed,omitempty"`
	Error            *string      `json:"error,omitempty"`
	Lines            []StatusLine `json:"lines,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	StartedAt        *time.Time   `json:"startedAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

// TrainingCancelResponse is returned by the cancel endpoint
type TrainingCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}
