package model

// WebSocket message types
const (
	WSMessageTypeTrainingStart = "training-start"
	WSMessageTypeTrainingEnd   = "training-end"
	WSMessageTypeStatus        = "status"
	WSMessageTypeError         = "error"
	WSMessageTypePing          = "ping"
	WSMessageTypePong          = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSTrainingStartMessage tells subscribers to disable chat input
type WSTrainingStartMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Busy  bool   `json:"busy"`
}

// WSStatusMessage carries one status line of a running job
type WSStatusMessage struct {
	Type           string    `json:"type"`
	JobID          string    `json:"jobId"`
	Status         JobStatus `json:"status"`
	Phase          string    `json:"phase,omitempty"`
	PipelineStatus string    `json:"pipelineStatus,omitempty"`
	Event          string    `json:"event"`
	Message        string    `json:"message"`
	Busy           bool      `json:"busy"`
}

// WSTrainingEndMessage tells subscribers the run is over
type WSTrainingEndMessage struct {
	Type    string    `json:"type"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
	Busy    bool      `json:"busy"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
