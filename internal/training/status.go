package training

import "strings"

// PipelineStatus is a normalized status label reported by the external
// pipeline's status endpoint. The vocabulary is open: labels outside the
// known set are treated as "still in progress".
type PipelineStatus string

const (
	StatusUnknown              PipelineStatus = ""
	StatusNew                  PipelineStatus = "new"
	StatusTranscriptDownloaded PipelineStatus = "transcriptdownloaded"
	StatusPersonaUploaded      PipelineStatus = "personauploaded"
	StatusCompleted            PipelineStatus = "completed"
	StatusFailed               PipelineStatus = "failed"
)

// misspelled label some pipeline scenarios still emit
const statusTranscriptMisspelled = "trascriptdownloaded"

// NormalizeStatus lower-cases and trims a raw label and folds known synonyms.
func NormalizeStatus(raw string) PipelineStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == statusTranscriptMisspelled {
		return StatusTranscriptDownloaded
	}
	return PipelineStatus(s)
}

func (s PipelineStatus) IsUnknown() bool { return s == StatusUnknown }

func (s PipelineStatus) IsTranscriptDownloaded() bool { return s == StatusTranscriptDownloaded }

// IsTerminal reports whether the pipeline itself has finished.
func (s PipelineStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Label returns the status for display, "unknown" when empty.
func (s PipelineStatus) Label() string {
	if s == StatusUnknown {
		return "unknown"
	}
	return string(s)
}

// FinalStatus is the terminal outcome of one orchestration run.
type FinalStatus string

const (
	FinalNone      FinalStatus = ""
	FinalCompleted FinalStatus = "completed"
	FinalFailed    FinalStatus = "failed"
	FinalTimedOut  FinalStatus = "timed_out"
	FinalCanceled  FinalStatus = "canceled"
)
