package model

import (
	"encoding/json"
	"time"
)

// Job represents a background job in the system
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Status         JobStatus       `json:"status"`
	CorrelationKey string          `json:"correlationKey"`
	Policy         string          `json:"policy,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	PipelineStatus string          `json:"pipelineStatus,omitempty"`
	Message        string          `json:"message,omitempty"`
	Busy           bool            `json:"busy"`
	Error          *string         `json:"error,omitempty"`
	Invoked        []string        `json:"invoked,omitempty"`
	Attempts       map[string]int  `json:"attempts,omitempty"`
	CachePrimeFail bool            `json:"cachePrimeFailed,omitempty"`
	Lines          []StatusLine    `json:"lines,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
}

// Job types
const (
	JobTypeTraining = "training"
)

// MaxStatusLines bounds the status history kept on a job record.
const MaxStatusLines = 100

// StatusLine is one message shown to the admin during a run.
type StatusLine struct {
	At      time.Time `json:"at"`
	Event   string    `json:"event"`
	Message string    `json:"message"`
}

// AppendLine records a status line, dropping the oldest past MaxStatusLines.
func (j *Job) AppendLine(line StatusLine) {
	j.Lines = append(j.Lines, line)
	if n := len(j.Lines) - MaxStatusLines; n > 0 {
		j.Lines = append([]StatusLine(nil), j.Lines[n:]...)
	}
}

// TrainingJobPayload contains the data for a training job. The correlation
// key is resolved when the job is created and never recomputed.
type TrainingJobPayload struct {
	VideoURL       string `json:"videoUrl"`
	Instagram      string `json:"instagram,omitempty"`
	CorrelationKey string `json:"correlationKey"`
}
