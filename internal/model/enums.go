package model

// JobStatus represents the lifecycle state of a background job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether the job will not change state again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCanceled:
		return true
	}
	return false
}
