package training

import (
	"context"
	"fmt"
	"strings"
)

// Verdict tells the polling loop whether to keep going.
type Verdict int

const (
	Continue Verdict = iota
	Stop
)

// Policy decides which secondary triggers a polled status unlocks and
// when the run is over. Evaluate sees the run's previous status in
// x.Run().LastStatus; the loop records the new one after it returns.
type Policy interface {
	Name() string
	Evaluate(ctx context.Context, x *Execution, status PipelineStatus) (Verdict, error)
}

const (
	PolicyMultiStage = "multi_stage"
	PolicyEarlyExit  = "early_exit"
)

// PolicyByName returns the named policy. "a" and "b" are accepted as
// aliases of multi_stage and early_exit.
func PolicyByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyMultiStage, "a":
		return MultiStagePolicy(), nil
	case PolicyEarlyExit, "b":
		return EarlyExitPolicy(), nil
	}
	return nil, fmt.Errorf("unknown training policy %q", name)
}

type multiStage struct{}

// MultiStagePolicy fires assistant training once the transcript is
// downloaded and KB training on the transcript -> persona transition,
// then waits for the pipeline to complete.
func MultiStagePolicy() Policy { return multiStage{} }

func (multiStage) Name() string { return PolicyMultiStage }

func (multiStage) Evaluate(ctx context.Context, x *Execution, status PipelineStatus) (Verdict, error) {
	run := x.Run()

	if status.IsTranscriptDownloaded() && !run.Fired(StageAssistant) {
		ok, err := x.Fire(ctx, StageAssistant)
		if err != nil || !ok {
			return Stop, err
		}
	}

	if run.LastStatus.IsTranscriptDownloaded() && status == StatusPersonaUploaded && !run.Fired(StageKB) {
		enabled := x.Enabled(StageKB)
		ok, err := x.Fire(ctx, StageKB)
		if err != nil || !ok {
			return Stop, err
		}
		if enabled {
			return Stop, x.AwaitTerminal(ctx)
		}
	}

	if status.IsTerminal() {
		x.Finish(ctx, finalFor(status))
		return Stop, nil
	}
	return Continue, nil
}

type earlyExit struct{}

// EarlyExitPolicy treats a downloaded transcript as success: it primes
// the persona cache and ends the run without waiting for completion.
func EarlyExitPolicy() Policy { return earlyExit{} }

func (earlyExit) Name() string { return PolicyEarlyExit }

func (earlyExit) Evaluate(ctx context.Context, x *Execution, status PipelineStatus) (Verdict, error) {
	if status.IsTranscriptDownloaded() {
		if err := x.PrimeCache(ctx); err != nil {
			return Stop, err
		}
		x.Finish(ctx, FinalCompleted)
		return Stop, nil
	}

	if status.IsTerminal() {
		x.Finish(ctx, finalFor(status))
		return Stop, nil
	}
	return Continue, nil
}
