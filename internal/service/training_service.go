package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/pluree/api/internal/config"
	"github.com/pluree/api/internal/model"
	"github.com/pluree/api/internal/training"
)

const (
	TaskTypeTraining = "training:run"
	QueueTraining    = "training"
)

const (
	messageQueued = "Training queued."
	messageActive = "A training run is already in progress."
)

// Enqueuer is satisfied by *asynq.Client
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskCanceler is satisfied by *asynq.Inspector
type TaskCanceler interface {
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

// TrainingService handles training job management
type TrainingService struct {
	store      JobStore
	enqueuer   Enqueuer
	canceler   TaskCanceler
	sentinel   string
	policy     string
	jobTimeout time.Duration
	now        func() time.Time
}

func NewTrainingService(store JobStore, enqueuer Enqueuer, canceler TaskCanceler, cfg *config.TrainingConfig) *TrainingService {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &TrainingService{
		store:      store,
		enqueuer:   enqueuer,
		canceler:   canceler,
		sentinel:   cfg.SentinelKey,
		policy:     cfg.Policy,
		jobTimeout: timeout,
		now:        time.Now,
	}
}

// StartTraining queues a training run for the caller. userID may be empty,
// in which case the sentinel correlation key is used. The bool result is
// false when an active run for the same key was returned instead.
func (s *TrainingService) StartTraining(ctx context.Context, req *model.TrainingStartRequest, userID string) (*model.TrainingStartResponse, bool, error) {
	treq := training.TrainingRequest{
		VideoURL:       req.VideoURL,
		Instagram:      req.Instagram,
		CorrelationKey: s.correlationKey(userID),
	}
	if err := treq.Validate(); err != nil {
		return nil, false, err
	}

	jobID := uuid.New().String()
	now := s.now()

	active, err := s.acquire(ctx, treq.CorrelationKey, jobID)
	if err != nil {
		return nil, false, err
	}
	if active != nil {
		return &model.TrainingStartResponse{
			JobID:          active.ID,
			Status:         active.Status,
			CorrelationKey: active.CorrelationKey,
			Busy:           true,
			Message:        messageActive,
			CreatedAt:      active.CreatedAt,
		}, false, nil
	}

	payloadBytes, err := json.Marshal(&model.TrainingJobPayload{
		VideoURL:       treq.VideoURL,
		Instagram:      treq.Instagram,
		CorrelationKey: treq.CorrelationKey,
	})
	if err != nil {
		s.release(ctx, treq.CorrelationKey, jobID)
		return nil, false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:             jobID,
		Type:           model.JobTypeTraining,
		Status:         model.JobStatusQueued,
		CorrelationKey: treq.CorrelationKey,
		Policy:         s.policy,
		Message:        messageQueued,
		Busy:           true,
		Payload:        payloadBytes,
		CreatedAt:      now,
	}

	if err := s.store.Save(ctx, job); err != nil {
		s.release(ctx, treq.CorrelationKey, jobID)
		return nil, false, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newTrainingTask(jobID, payloadBytes)
	if err != nil {
		s.release(ctx, treq.CorrelationKey, jobID)
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}

	// the workflow triggers non-idempotent webhooks, so it is never retried
	_, err = s.enqueuer.Enqueue(task,
		asynq.Queue(QueueTraining),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(s.jobTimeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.release(ctx, treq.CorrelationKey, jobID)
		if ferr := s.FailJob(ctx, jobID, "Failed to enqueue training run"); ferr != nil {
			log.Printf("Failed to mark training job %s as failed: %v", jobID, ferr)
		}
		return nil, false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.TrainingStartResponse{
		JobID:          jobID,
		Status:         model.JobStatusQueued,
		CorrelationKey: treq.CorrelationKey,
		Busy:           true,
		Message:        messageQueued,
		CreatedAt:      now,
	}, true, nil
}

func (s *TrainingService) correlationKey(userID string) string {
	return training.ResolveCorrelationKey(func() (string, error) {
		if userID == "" {
			return "", training.ErrNotAuthenticated
		}
		return userID, nil
	}, s.sentinel)
}

// ownedJob loads jobID for the caller. Jobs started under another
// correlation key are reported as not found.
func (s *TrainingService) ownedJob(ctx context.Context, jobID, userID string) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CorrelationKey != s.correlationKey(userID) {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// acquire takes the active-run lock for key. It returns the active job when
// another live run holds the lock. A lock left behind by a finished or
// expired job is reclaimed.
func (s *TrainingService) acquire(ctx context.Context, key, jobID string) (*model.Job, error) {
	ttl := s.jobTimeout + 5*time.Minute

	for attempt := 0; attempt < 2; attempt++ {
		holder, ok, err := s.store.AcquireActive(ctx, key, jobID, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}

		job, err := s.store.Get(ctx, holder)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return nil, err
		}
		if err == nil && !job.Status.IsTerminal() {
			return job, nil
		}

		log.Printf("Reclaiming stale training lock for key %s (job %s)", key, holder)
		if err := s.store.ReleaseActive(ctx, key, holder); err != nil {
			return nil, fmt.Errorf("failed to release stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire run lock for key %s", key)
}

func (s *TrainingService) release(ctx context.Context, key, jobID string) {
	if err := s.store.ReleaseActive(context.WithoutCancel(ctx), key, jobID); err != nil {
		log.Printf("Failed to release training lock for key %s: %v", key, err)
	}
}

// GetStatus returns the current projection of a training job owned by userID
func (s *TrainingService) GetStatus(ctx context.Context, jobID, userID string) (*model.TrainingStatusResponse, error) {
	job, err := s.ownedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	return &model.TrainingStatusResponse{
		JobID:            job.ID,
		Status:           job.Status,
		Phase:            job.Phase,
		PipelineStatus:   job.PipelineStatus,
		Message:          job.Message,
		Busy:             job.Busy,
		Policy:           job.Policy,
		CachePrimeFailed: job.CachePrimeFail,
		Error:            job.Error,
		Lines:            job.Lines,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}, nil
}

// CancelTraining cancels a queued or running training job. A running
// workflow stops at its next network call or sleep.
func (s *TrainingService) CancelTraining(ctx context.Context, jobID, userID string) (*model.TrainingCancelResponse, error) {
	job, err := s.ownedJob(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		return nil, ErrJobFinished
	}

	wasQueued := job.Status == model.JobStatusQueued
	if s.canceler != nil {
		if wasQueued {
			if err := s.canceler.DeleteTask(QueueTraining, jobID); err != nil {
				// already picked up by a worker
				wasQueued = false
				if err := s.canceler.CancelProcessing(jobID); err != nil {
					log.Printf("Failed to cancel training task %s: %v", jobID, err)
				}
			}
		} else if err := s.canceler.CancelProcessing(jobID); err != nil {
			log.Printf("Failed to cancel training task %s: %v", jobID, err)
		}
	}

	now := s.now()
	job.Status = model.JobStatusCanceled
	job.Busy = false
	job.Message = training.MessageCanceled
	job.CompletedAt = &now
	job.AppendLine(model.StatusLine{At: now, Event: string(training.EventEnded), Message: training.MessageCanceled})

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}

	// a running worker releases the lock itself when it unwinds
	if wasQueued {
		s.release(ctx, job.CorrelationKey, job.ID)
	}

	return &model.TrainingCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.JobStatusCanceled,
	}, nil
}

// ApplyEvent folds an orchestrator event into the job record (called by worker)
func (s *TrainingService) ApplyEvent(ctx context.Context, jobID string, e training.Event) (*model.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	p := training.Project(e)

	switch e.Kind {
	case training.EventStarted:
		if job.Status == model.JobStatusQueued {
			job.Status = model.JobStatusRunning
			startedAt := e.At
			job.StartedAt = &startedAt
		}
	case training.EventResetCheck, training.EventStatusCheck, training.EventKBCheck:
		if e.Err == nil && !e.Status.IsUnknown() {
			job.PipelineStatus = string(e.Status)
		}
	case training.EventTriggerFailed:
		if e.Err != nil {
			msg := e.Err.Error()
			job.Error = &msg
		}
	case training.EventEnded:
		if !job.Status.IsTerminal() {
			job.Status = JobStatusFor(e.Final)
		}
		completedAt := e.At
		job.CompletedAt = &completedAt
		job.CachePrimeFail = e.CachePrimeFailed
		if e.Err != nil {
			msg := e.Err.Error()
			job.Error = &msg
		}
	}

	if e.Phase != "" {
		job.Phase = string(e.Phase)
	}
	// a canceled job keeps its cancel message
	if !(job.Status == model.JobStatusCanceled && e.Kind != training.EventEnded) {
		job.Message = p.Message
		job.Busy = p.Busy
	}
	job.AppendLine(model.StatusLine{At: e.At, Event: string(e.Kind), Message: p.Message})

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// RecordOutcome stores the run summary and releases the active-run lock
// (called by worker once the run has ended)
func (s *TrainingService) RecordOutcome(ctx context.Context, jobID string, out *training.Outcome) (*model.Job, error) {
	ctx = context.WithoutCancel(ctx)

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, job.CorrelationKey, job.ID)

	if out == nil {
		return job, nil
	}

	job.Invoked = job.Invoked[:0]
	for _, stage := range out.Invoked {
		job.Invoked = append(job.Invoked, string(stage))
	}
	job.Attempts = make(map[string]int, len(out.Attempts))
	for phase, n := range out.Attempts {
		job.Attempts[string(phase)] = n
	}

	if err := s.store.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// FailJob marks job as failed before a run could start (called by worker)
func (s *TrainingService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	ctx = context.WithoutCancel(ctx)

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := s.now()
	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	job.Busy = false
	job.Message = training.MessageInitFailed
	job.CompletedAt = &now

	if err := s.store.Save(ctx, job); err != nil {
		return err
	}
	s.release(ctx, job.CorrelationKey, job.ID)
	return nil
}

// JobStatusFor maps a run's final status to the job lifecycle.
func JobStatusFor(final training.FinalStatus) model.JobStatus {
	switch final {
	case training.FinalCompleted:
		return model.JobStatusSucceeded
	case training.FinalFailed:
		return model.JobStatusFailed
	case training.FinalCanceled:
		return model.JobStatusCanceled
	}
	return model.JobStatusTimedOut
}

func newTrainingTask(jobID string, payload []byte) (*asynq.Task, error) {
	taskPayload := map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	}
	data, err := json.Marshal(taskPayload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeTraining, data), nil
}
