package training

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Phase is the orchestrator's position in the training workflow.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseResetPending    Phase = "reset_pending"
	PhaseResetConfirming Phase = "reset_confirming"
	PhasePriming         Phase = "priming"
	PhasePolling         Phase = "polling"
	PhaseKBPolling       Phase = "kb_polling"
	PhaseTerminal        Phase = "terminal"
)

// Stage names a webhook-backed step of the workflow.
type Stage string

const (
	StageReset      Stage = "reset"
	StagePrimary    Stage = "primary"
	StageAssistant  Stage = "assistant"
	StageKB         Stage = "kb"
	StageCachePrime Stage = "cache_prime"
)

const (
	eventReset   = "reset"
	eventConfirm = "confirm"
	eventPrime   = "prime"
	eventPoll    = "poll"
	eventAwaitKB = "await_kb"
	eventFinish  = "finish"
)

// Run is the transient state of one orchestration run. It is owned by a
// single goroutine and never persisted.
type Run struct {
	Request    TrainingRequest
	Payload    TriggerPayload
	LastStatus PipelineStatus
	Final      FinalStatus

	// CachePrimeFailed marks a degraded (but not failed) early-exit run.
	CachePrimeFailed bool

	attempts map[Phase]int
	latches  map[Stage]bool
	machine  *fsm.FSM
}

func newRun(req TrainingRequest) *Run {
	r := &Run{
		Request:  req,
		Payload:  req.Payload(),
		attempts: make(map[Phase]int),
		latches:  make(map[Stage]bool),
	}

	active := []string{
		string(PhaseIdle), string(PhaseResetPending), string(PhaseResetConfirming),
		string(PhasePriming), string(PhasePolling), string(PhaseKBPolling),
	}

	r.machine = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: eventReset, Src: []string{string(PhaseIdle)}, Dst: string(PhaseResetPending)},
			{Name: eventConfirm, Src: []string{string(PhaseResetPending)}, Dst: string(PhaseResetConfirming)},
			{Name: eventPrime, Src: []string{string(PhaseIdle), string(PhaseResetPending), string(PhaseResetConfirming)}, Dst: string(PhasePriming)},
			{Name: eventPoll, Src: []string{string(PhasePriming)}, Dst: string(PhasePolling)},
			{Name: eventAwaitKB, Src: []string{string(PhasePolling)}, Dst: string(PhaseKBPolling)},
			{Name: eventFinish, Src: active, Dst: string(PhaseTerminal)},
		},
		fsm.Callbacks{},
	)

	return r
}

// Phase returns the current workflow phase.
func (r *Run) Phase() Phase {
	return Phase(r.machine.Current())
}

// Attempts returns how many polls were consumed in phase.
func (r *Run) Attempts(phase Phase) int {
	return r.attempts[phase]
}

// Fired reports whether the latch for stage has been taken.
func (r *Run) Fired(stage Stage) bool {
	return r.latches[stage]
}

// latch takes the one-shot latch for stage; false if already taken.
func (r *Run) latch(stage Stage) bool {
	if r.latches[stage] {
		return false
	}
	r.latches[stage] = true
	return true
}

func (r *Run) countAttempt(phase Phase) int {
	r.attempts[phase]++
	return r.attempts[phase]
}

func (r *Run) advance(ctx context.Context, event string) error {
	// phase bookkeeping must still happen after the caller's context is done
	err := r.machine.Event(context.WithoutCancel(ctx), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("phase %s: %w", r.Phase(), err)
}

func (r *Run) finish(ctx context.Context, final FinalStatus) {
	if r.Final == FinalNone {
		r.Final = final
	}
	_ = r.advance(ctx, eventFinish)
}
