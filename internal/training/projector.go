package training

import (
	"context"
	"errors"
	"fmt"
)

// Projection is what the admin panel shows for the latest event.
type Projection struct {
	Message string `json:"message"`
	Busy    bool   `json:"busy"`
}

const (
	MessageProcessing = "Processing..."
	MessageCompleted  = "Training completed successfully."
	MessageFailed     = "Training failed. Please try again."
	MessageStill      = "Still processing. Please check again later."
	MessageInitFailed = "Failed to initiate training. Please try again."
	MessageCanceled   = "Training canceled."
)

var stageNames = map[Stage]string{
	StageReset:      "re-set",
	StagePrimary:    "training",
	StageAssistant:  "assistant training",
	StageKB:         "KB training",
	StageCachePrime: "cache priming",
}

func stageName(s Stage) string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return string(s)
}

// Project maps an orchestrator event to a single status line and the busy
// flag. Unrecognized events map to a generic processing message.
func Project(e Event) Projection {
	if e.Kind == EventEnded {
		return Projection{Message: finalMessage(e), Busy: false}
	}
	return Projection{Message: progressMessage(e), Busy: true}
}

func progressMessage(e Event) string {
	switch e.Kind {
	case EventStarted:
		return "Training started."
	case EventResetStarted:
		return "Re-set in progress..."
	case EventResetSkipped:
		return "Reset webhook URL not configured. Starting training..."
	case EventResetFailed:
		return "Re-set request failed. Starting training..."
	case EventResetCheck:
		return checkLine("Re-set check", e)
	case EventResetConfirmed:
		return "Re-set complete. Starting training..."
	case EventResetUnconfirmed:
		return "Re-set may still be in progress. Starting training..."
	case EventPrimaryTriggered:
		return "Starting processing..."
	case EventStatusCheck:
		return checkLine("Status check", e)
	case EventKBCheck:
		return checkLine("KB training check", e)
	case EventTriggerFiring:
		switch e.Stage {
		case StageAssistant:
			return "Transcript downloaded. Triggering assistant training..."
		case StageKB:
			return "Persona uploaded. Triggering KB training..."
		case StageCachePrime:
			return "Transcript downloaded. Priming persona cache..."
		}
		return fmt.Sprintf("Triggering %s...", stageName(e.Stage))
	case EventTriggerSkipped:
		return fmt.Sprintf("%s is not configured. Skipping.", capitalize(stageName(e.Stage)))
	case EventTriggerFailed:
		return fmt.Sprintf("Failed to trigger %s webhook.", stageName(e.Stage))
	case EventCachePrimeFailed:
		return "Cache priming failed. Continuing."
	}
	return MessageProcessing
}

func checkLine(prefix string, e Event) string {
	label := e.Status.Label()
	if e.Err != nil {
		label = "error"
	}
	if e.MaxAttempts > 0 {
		return fmt.Sprintf("%s %d/%d: %s", prefix, e.Attempt, e.MaxAttempts, label)
	}
	return fmt.Sprintf("%s: %s", prefix, label)
}

func finalMessage(e Event) string {
	if e.Err != nil {
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return MessageStill
		}
		if errors.Is(e.Err, context.Canceled) {
			return MessageCanceled
		}
		return MessageInitFailed
	}

	switch e.Final {
	case FinalCompleted:
		if e.CachePrimeFailed {
			return MessageCompleted + " Cache priming failed."
		}
		return MessageCompleted
	case FinalFailed:
		return MessageFailed
	case FinalCanceled:
		return MessageCanceled
	}
	return MessageStill
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
