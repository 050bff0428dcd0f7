package training

import "time"

// EventKind identifies a progress event emitted by the orchestrator.
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventResetStarted     EventKind = "reset_started"
	EventResetSkipped     EventKind = "reset_skipped"
	EventResetFailed      EventKind = "reset_failed"
	EventResetCheck       EventKind = "reset_check"
	EventResetConfirmed   EventKind = "reset_confirmed"
	EventResetUnconfirmed EventKind = "reset_unconfirmed"
	EventPrimaryTriggered EventKind = "primary_triggered"
	EventStatusCheck      EventKind = "status_check"
	EventTriggerFiring    EventKind = "trigger_firing"
	EventTriggerSkipped   EventKind = "trigger_skipped"
	EventTriggerFailed    EventKind = "trigger_failed"
	EventCachePrimeFailed EventKind = "cache_prime_failed"
	EventKBCheck          EventKind = "kb_check"
	EventEnded            EventKind = "ended"
)

// Event is one step of progress in a run. Start and Ended are emitted
// exactly once per run.
type Event struct {
	Kind        EventKind
	Phase       Phase
	Stage       Stage
	Attempt     int
	MaxAttempts int
	Status      PipelineStatus
	Err         error

	// Set on EventEnded only.
	Final            FinalStatus
	CachePrimeFailed bool

	At time.Time
}

// Sink receives orchestrator events. Emit must not block for long: the
// orchestrator calls it inline between network calls.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans an event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
