package training

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// WebhookInvoker issues one trigger call. It never retries.
type WebhookInvoker interface {
	Invoke(ctx context.Context, stage Stage, url string, payload TriggerPayload) error
}

// StatusPoller queries the pipeline status for a correlation key. On any
// failure it returns StatusUnknown together with a *TransientPollError.
type StatusPoller interface {
	Poll(ctx context.Context, correlationKey string) (PipelineStatus, error)
}

// CachePrimer warms the persona cache for a correlation key.
type CachePrimer interface {
	Prime(ctx context.Context, correlationKey string) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Endpoints holds the webhook URLs of a workflow. Only PrimaryURL is
// required; an empty URL disables its stage.
type Endpoints struct {
	ResetURL     string
	PrimaryURL   string
	AssistantURL string
	KBURL        string
}

func (e Endpoints) urlFor(stage Stage) string {
	switch stage {
	case StageReset:
		return e.ResetURL
	case StagePrimary:
		return e.PrimaryURL
	case StageAssistant:
		return e.AssistantURL
	case StageKB:
		return e.KBURL
	}
	return ""
}

// Settings are the workflow's timing and budget constants.
type Settings struct {
	ResetConfirmAttempts int
	ResetConfirmInterval time.Duration
	Dwell                time.Duration
	PollAttempts         int
	PollInterval         time.Duration
	KBPollAttempts       int
}

// DefaultSettings returns the values the external pipeline is tuned for.
func DefaultSettings() Settings {
	return Settings{
		ResetConfirmAttempts: 6,
		ResetConfirmInterval: 5 * time.Second,
		Dwell:                37 * time.Second,
		PollAttempts:         7,
		PollInterval:         5 * time.Second,
		KBPollAttempts:       7,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ResetConfirmAttempts <= 0 {
		s.ResetConfirmAttempts = d.ResetConfirmAttempts
	}
	if s.ResetConfirmInterval < 0 {
		s.ResetConfirmInterval = 0
	}
	if s.Dwell < 0 {
		s.Dwell = 0
	}
	if s.PollAttempts <= 0 {
		s.PollAttempts = d.PollAttempts
	}
	if s.PollInterval < 0 {
		s.PollInterval = 0
	}
	if s.KBPollAttempts <= 0 {
		s.KBPollAttempts = d.KBPollAttempts
	}
	return s
}

// Options configures an Orchestrator.
type Options struct {
	Webhooks  WebhookInvoker
	Poller    StatusPoller
	Primer    CachePrimer // optional
	Policy    Policy
	Endpoints Endpoints
	Settings  Settings
	Sleep     SleepFunc
	Now       func() time.Time
}

// Outcome summarizes a finished run.
type Outcome struct {
	Final            FinalStatus
	LastStatus       PipelineStatus
	CachePrimeFailed bool
	Invoked          []Stage
	Attempts         map[Phase]int
}

// Orchestrator drives the external training pipeline through webhooks
// and status polling. One instance runs at most one workflow at a time.
type Orchestrator struct {
	webhooks  WebhookInvoker
	poller    StatusPoller
	primer    CachePrimer
	policy    Policy
	endpoints Endpoints
	settings  Settings
	sleep     SleepFunc
	now       func() time.Time

	running atomic.Bool
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Webhooks == nil {
		return nil, errors.New("training: webhook invoker is required")
	}
	if opts.Poller == nil {
		return nil, errors.New("training: status poller is required")
	}
	if opts.Endpoints.PrimaryURL == "" {
		return nil, errors.New("training: primary webhook URL is required")
	}
	if opts.Policy == nil {
		opts.Policy = MultiStagePolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		webhooks:  opts.Webhooks,
		poller:    opts.Poller,
		primer:    opts.Primer,
		policy:    opts.Policy,
		endpoints: opts.Endpoints,
		settings:  opts.Settings.withDefaults(),
		sleep:     opts.Sleep,
		now:       opts.Now,
	}, nil
}

// Policy returns the transition policy in use.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Running reports whether a run is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run executes one training workflow and reports progress to sink.
//
// A *ValidationError or ErrRunInProgress is returned before any network
// call and without emitting events. Otherwise EventStarted and EventEnded
// are emitted exactly once. The returned error is non-nil only when the
// primary trigger failed or ctx was canceled; failures later in the
// workflow are reported through Outcome.Final.
func (o *Orchestrator) Run(ctx context.Context, req TrainingRequest, sink Sink) (out *Outcome, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	if sink == nil {
		sink = discardSink{}
	}

	x := &Execution{o: o, run: newRun(req), sink: sink}
	x.emit(Event{Kind: EventStarted})
	defer func() {
		x.emit(Event{
			Kind:             EventEnded,
			Status:           x.run.LastStatus,
			Final:            x.run.Final,
			CachePrimeFailed: x.run.CachePrimeFailed,
			Err:              err,
		})
	}()

	if execErr := x.execute(ctx); execErr != nil {
		if ctx.Err() != nil {
			final := FinalCanceled
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// the job ran out of wall-clock time, nobody canceled it
				final = FinalTimedOut
			}
			x.run.finish(ctx, final)
			return x.outcome(), ctx.Err()
		}
		x.run.finish(ctx, FinalFailed)
		return x.outcome(), execErr
	}

	if x.run.Final == FinalNone {
		x.run.finish(ctx, FinalTimedOut)
	}
	return x.outcome(), nil
}

// Execution is the orchestrator's view of a single run, handed to the
// Policy so it can fire triggers and end the run.
type Execution struct {
	o       *Orchestrator
	run     *Run
	sink    Sink
	invoked []Stage
}

// Run returns the run record.
func (x *Execution) Run() *Run {
	return x.run
}

// Enabled reports whether stage has a configured endpoint.
func (x *Execution) Enabled(stage Stage) bool {
	if stage == StageCachePrime {
		return x.o.primer != nil
	}
	return x.o.endpoints.urlFor(stage) != ""
}

// Fire invokes the webhook for a secondary stage at most once per run.
// A disabled stage is reported and latched without a call. Fire returns
// false when the webhook failed, in which case the run is finished as
// failed. A non-nil error means ctx was canceled.
func (x *Execution) Fire(ctx context.Context, stage Stage) (bool, error) {
	if !x.run.latch(stage) {
		return true, nil
	}
	url := x.o.endpoints.urlFor(stage)
	if url == "" {
		x.emit(Event{Kind: EventTriggerSkipped, Stage: stage})
		return true, nil
	}

	x.emit(Event{Kind: EventTriggerFiring, Stage: stage})
	if err := x.o.webhooks.Invoke(ctx, stage, url, x.run.Payload); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		x.emit(Event{Kind: EventTriggerFailed, Stage: stage, Err: err})
		x.run.finish(ctx, FinalFailed)
		return false, nil
	}
	x.invoked = append(x.invoked, stage)
	return true, nil
}

// PrimeCache warms the persona cache once per run. Its failure only
// degrades the run.
func (x *Execution) PrimeCache(ctx context.Context) error {
	if !x.run.latch(StageCachePrime) {
		return nil
	}
	if x.o.primer == nil {
		x.emit(Event{Kind: EventTriggerSkipped, Stage: StageCachePrime})
		return nil
	}

	x.emit(Event{Kind: EventTriggerFiring, Stage: StageCachePrime})
	if err := x.o.primer.Prime(ctx, x.run.Request.CorrelationKey); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		x.run.CachePrimeFailed = true
		x.emit(Event{Kind: EventCachePrimeFailed, Stage: StageCachePrime, Err: err})
		return nil
	}
	x.invoked = append(x.invoked, StageCachePrime)
	return nil
}

// AwaitTerminal polls with the KB budget until the pipeline reports
// completed or failed. Running out of attempts leaves the run unfinished.
func (x *Execution) AwaitTerminal(ctx context.Context) error {
	if err := x.run.advance(ctx, eventAwaitKB); err != nil {
		return err
	}

	n := x.o.settings.KBPollAttempts
	for attempt := 1; attempt <= n; attempt++ {
		status, ok, err := x.observe(ctx, PhaseKBPolling, EventKBCheck, attempt, n)
		if err != nil {
			return err
		}
		if ok {
			x.run.LastStatus = status
			if status.IsTerminal() {
				x.Finish(ctx, finalFor(status))
				return nil
			}
		}
		if attempt < n {
			if err := x.o.sleep(ctx, x.o.settings.PollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finish ends the run with final. The first call wins.
func (x *Execution) Finish(ctx context.Context, final FinalStatus) {
	x.run.finish(ctx, final)
}

func (x *Execution) execute(ctx context.Context) error {
	if err := x.reset(ctx); err != nil {
		return err
	}
	if err := x.primary(ctx); err != nil {
		return err
	}
	if err := x.o.sleep(ctx, x.o.settings.Dwell); err != nil {
		return err
	}
	if err := x.run.advance(ctx, eventPoll); err != nil {
		return err
	}
	return x.poll(ctx)
}

func (x *Execution) reset(ctx context.Context) error {
	url := x.o.endpoints.ResetURL
	if url == "" {
		x.emit(Event{Kind: EventResetSkipped, Stage: StageReset})
		return nil
	}

	if err := x.run.advance(ctx, eventReset); err != nil {
		return err
	}
	x.emit(Event{Kind: EventResetStarted, Stage: StageReset})

	if err := x.o.webhooks.Invoke(ctx, StageReset, url, x.run.Payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		x.emit(Event{Kind: EventResetFailed, Stage: StageReset, Err: err})
		return nil
	}
	x.invoked = append(x.invoked, StageReset)

	if err := x.run.advance(ctx, eventConfirm); err != nil {
		return err
	}

	n := x.o.settings.ResetConfirmAttempts
	for attempt := 1; attempt <= n; attempt++ {
		status, ok, err := x.observe(ctx, PhaseResetConfirming, EventResetCheck, attempt, n)
		if err != nil {
			return err
		}
		if ok && status == StatusNew {
			x.emit(Event{Kind: EventResetConfirmed, Stage: StageReset, Status: status})
			return nil
		}
		if attempt < n {
			if err := x.o.sleep(ctx, x.o.settings.ResetConfirmInterval); err != nil {
				return err
			}
		}
	}

	x.emit(Event{Kind: EventResetUnconfirmed, Stage: StageReset})
	return nil
}

func (x *Execution) primary(ctx context.Context) error {
	if err := x.run.advance(ctx, eventPrime); err != nil {
		return err
	}
	if err := x.o.webhooks.Invoke(ctx, StagePrimary, x.o.endpoints.PrimaryURL, x.run.Payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	x.invoked = append(x.invoked, StagePrimary)
	x.emit(Event{Kind: EventPrimaryTriggered, Stage: StagePrimary})
	return nil
}

func (x *Execution) poll(ctx context.Context) error {
	n := x.o.settings.PollAttempts
	for attempt := 1; attempt <= n; attempt++ {
		status, ok, err := x.observe(ctx, PhasePolling, EventStatusCheck, attempt, n)
		if err != nil {
			return err
		}
		if ok {
			verdict, err := x.o.policy.Evaluate(ctx, x, status)
			if err != nil {
				return err
			}
			// the KB sub-loop records its own observations
			if x.run.Attempts(PhaseKBPolling) == 0 {
				x.run.LastStatus = status
			}
			if verdict == Stop || x.run.Final != FinalNone {
				return nil
			}
		}
		if attempt < n {
			if err := x.o.sleep(ctx, x.o.settings.PollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

// observe performs one status query. ok is false for a transient failure,
// which still consumes the attempt. err is only set when ctx is done.
func (x *Execution) observe(ctx context.Context, phase Phase, kind EventKind, attempt, max int) (PipelineStatus, bool, error) {
	x.run.countAttempt(phase)
	status, pollErr := x.o.poller.Poll(ctx, x.run.Request.CorrelationKey)
	if ctx.Err() != nil {
		return StatusUnknown, false, ctx.Err()
	}
	x.emit(Event{Kind: kind, Attempt: attempt, MaxAttempts: max, Status: status, Err: pollErr})
	return status, pollErr == nil, nil
}

func (x *Execution) emit(e Event) {
	e.Phase = x.run.Phase()
	e.At = x.o.now()
	x.sink.Emit(e)
}

func (x *Execution) outcome() *Outcome {
	attempts := make(map[Phase]int, len(x.run.attempts))
	for phase, n := range x.run.attempts {
		attempts[phase] = n
	}
	return &Outcome{
		Final:            x.run.Final,
		LastStatus:       x.run.LastStatus,
		CachePrimeFailed: x.run.CachePrimeFailed,
		Invoked:          append([]Stage(nil), x.invoked...),
		Attempts:         attempts,
	}
}

func finalFor(status PipelineStatus) FinalStatus {
	if status == StatusFailed {
		return FinalFailed
	}
	return FinalCompleted
}
