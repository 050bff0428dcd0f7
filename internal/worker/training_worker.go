package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/pluree/api/internal/client"
	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/events"
	"github.com/pluree/api/internal/model"
	"github.com/pluree/api/internal/service"
	"github.com/pluree/api/internal/training"
)

// JobRecorder persists run progress. Implemented by service.TrainingService.
type JobRecorder interface {
	ApplyEvent(ctx context.Context, jobID string, e training.Event) (*model.Job, error)
	RecordOutcome(ctx context.Context, jobID string, out *training.Outcome) (*model.Job, error)
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// Broadcaster pushes run progress to subscribers. Implemented by websocket.Hub.
type Broadcaster interface {
	BroadcastTrainingStart(jobID string)
	BroadcastStatus(msg model.WSStatusMessage)
	BroadcastTrainingEnd(jobID string, status model.JobStatus, message string)
	BroadcastError(jobID string, code, message string)
}

// TrainingWorker processes training jobs. Each task gets its own
// orchestrator built from the shared options.
type TrainingWorker struct {
	opts      training.Options
	recorder  JobRecorder
	hub       Broadcaster
	publisher events.Publisher
	storage   client.StorageClient
}

// NewTrainingWorker creates a new training worker. publisher and storage may be nil.
func NewTrainingWorker(opts training.Options, recorder JobRecorder, hub Broadcaster, publisher events.Publisher, storage client.StorageClient) *TrainingWorker {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TrainingWorker{
		opts:      opts,
		recorder:  recorder,
		hub:       hub,
		publisher: publisher,
		storage:   storage,
	}
}

// OrchestratorOptions assembles orchestrator options from configuration.
// primer may be nil when cache priming is not configured.
func OrchestratorOptions(cfg *config.TrainingConfig, webhooks training.WebhookInvoker, poller training.StatusPoller, primer training.CachePrimer) (training.Options, error) {
	policy, err := training.PolicyByName(cfg.Policy)
	if err != nil {
		return training.Options{}, err
	}

	return training.Options{
		Webhooks: webhooks,
		Poller:   poller,
		Primer:   primer,
		Policy:   policy,
		Endpoints: training.Endpoints{
			ResetURL:     cfg.ResetWebhookURL,
			PrimaryURL:   cfg.PrimaryWebhookURL,
			AssistantURL: cfg.AssistantWebhookURL,
			KBURL:        cfg.KBWebhookURL,
		},
		Settings: training.Settings{
			ResetConfirmAttempts: cfg.ResetConfirmAttempts,
			ResetConfirmInterval: cfg.ResetConfirmInterval,
			Dwell:                cfg.Dwell,
			PollAttempts:         cfg.PollAttempts,
			PollInterval:         cfg.PollInterval,
			KBPollAttempts:       cfg.KBPollAttempts,
		},
	}, nil
}

// ProcessTask handles training task processing
func (w *TrainingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := taskPayload.JobID
	log.Printf("Starting training job: %s", jobID)

	var payload model.TrainingJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid payload")
		return fmt.Errorf("failed to unmarshal training payload: %w: %w", err, asynq.SkipRetry)
	}

	orch, err := training.New(w.opts)
	if err != nil {
		w.failJob(ctx, jobID, err.Error())
		return fmt.Errorf("failed to create orchestrator: %w: %w", err, asynq.SkipRetry)
	}

	req := training.TrainingRequest{
		VideoURL:       payload.VideoURL,
		Instagram:      payload.Instagram,
		CorrelationKey: payload.CorrelationKey,
	}

	out, runErr := orch.Run(ctx, req, w.sink(ctx, jobID, req.CorrelationKey))

	var vErr *training.ValidationError
	if errors.As(runErr, &vErr) {
		w.failJob(ctx, jobID, vErr.Error())
		return fmt.Errorf("invalid training request: %w: %w", runErr, asynq.SkipRetry)
	}

	job, err := w.recorder.RecordOutcome(ctx, jobID, out)
	if err != nil {
		log.Printf("Failed to record outcome for job %s: %v", jobID, err)
	} else {
		w.archive(ctx, job)
	}

	if runErr != nil {
		log.Printf("Training job %s ended with error: %v", jobID, runErr)
		return runErr
	}

	log.Printf("Training job %s finished: %s", jobID, out.Final)
	return nil
}

// sink fans every orchestrator event out to the job store, websocket
// subscribers and the lifecycle topic, in that order.
func (w *TrainingWorker) sink(ctx context.Context, jobID, correlationKey string) training.Sink {
	// progress must be recorded even while the run is being canceled
	ctx = context.WithoutCancel(ctx)

	return training.SinkFunc(func(e training.Event) {
		p := training.Project(e)

		status := model.JobStatusRunning
		job, err := w.recorder.ApplyEvent(ctx, jobID, e)
		if err != nil {
			log.Printf("Failed to record event %s for job %s: %v", e.Kind, jobID, err)
		} else {
			status = job.Status
			p.Message = job.Message
		}
		if e.Kind == training.EventEnded && err != nil {
			status = service.JobStatusFor(e.Final)
		}

		switch e.Kind {
		case training.EventStarted:
			w.hub.BroadcastTrainingStart(jobID)
		case training.EventEnded:
			w.hub.BroadcastTrainingEnd(jobID, status, p.Message)
		default:
			w.hub.BroadcastStatus(model.WSStatusMessage{
				JobID:          jobID,
				Status:         status,
				Phase:          string(e.Phase),
				PipelineStatus: string(e.Status),
				Event:          string(e.Kind),
				Message:        p.Message,
				Busy:           p.Busy,
			})
		}

		if err := w.publisher.Publish(ctx, events.LifecycleEvent{
			Type:           lifecycleType(e.Kind),
			JobID:          jobID,
			CorrelationKey: correlationKey,
			Event:          string(e.Kind),
			Phase:          string(e.Phase),
			PipelineStatus: string(e.Status),
			Status:         string(status),
			Message:        p.Message,
			Busy:           p.Busy,
			At:             e.At,
		}); err != nil {
			log.Printf("Failed to publish event %s for job %s: %v", e.Kind, jobID, err)
		}
	})
}

// archive uploads the finished job record for later auditing
func (w *TrainingWorker) archive(ctx context.Context, job *model.Job) {
	if w.storage == nil || job == nil {
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("Failed to marshal job %s for archive: %v", job.ID, err)
		return
	}

	key := fmt.Sprintf("training-runs/%s/%s.json", job.CorrelationKey, job.ID)
	url, err := w.storage.Upload(context.WithoutCancel(ctx), key, bytes.NewReader(data), "application/json")
	if err != nil {
		log.Printf("Failed to archive job %s: %v", job.ID, err)
		return
	}
	log.Printf("Archived training job %s to %s", job.ID, url)
}

func (w *TrainingWorker) failJob(ctx context.Context, jobID string, errMsg string) {
	if err := w.recorder.FailJob(ctx, jobID, errMsg); err != nil {
		log.Printf("Failed to mark job %s as failed: %v", jobID, err)
	}
	w.hub.BroadcastError(jobID, "TRAINING_FAILED", errMsg)
	w.hub.BroadcastTrainingEnd(jobID, model.JobStatusFailed, training.MessageInitFailed)
}

func lifecycleType(kind training.EventKind) string {
	switch kind {
	case training.EventStarted:
		return events.TypeTrainingStarted
	case training.EventEnded:
		return events.TypeTrainingEnded
	}
	return events.TypeTrainingStatus
}
