package training

import (
	"context"
	"errors"
	"sync"
	"time"
)

type webhookCall struct {
	Stage   Stage
	URL     string
	Payload TriggerPayload
}

type fakeWebhooks struct {
	mu    sync.Mutex
	calls []webhookCall
	fail  map[Stage]error
}

func (f *fakeWebhooks) Invoke(_ context.Context, stage Stage, url string, payload TriggerPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, webhookCall{Stage: stage, URL: url, Payload: payload})
	if err, ok := f.fail[stage]; ok {
		return &WebhookError{Stage: stage, URL: url, Err: err}
	}
	return nil
}

func (f *fakeWebhooks) count(stage Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Stage == stage {
			n++
		}
	}
	return n
}

func (f *fakeWebhooks) stages() []Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Stage, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Stage)
	}
	return out
}

type pollResult struct {
	status PipelineStatus
	err    error
}

var errNetwork = errors.New("connection refused")

func ok(s PipelineStatus) pollResult { return pollResult{status: s} }

func failed() pollResult {
	return pollResult{status: StatusUnknown, err: &TransientPollError{Err: errNetwork}}
}

// fakePoller replays script in order and repeats the last entry.
type fakePoller struct {
	mu     sync.Mutex
	script []pollResult
	keys   []string
	onPoll func(n int)
}

func (f *fakePoller) Poll(_ context.Context, key string) (PipelineStatus, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	n := len(f.keys)
	var r pollResult
	switch {
	case len(f.script) == 0:
		r = failed()
	case n <= len(f.script):
		r = f.script[n-1]
	default:
		r = f.script[len(f.script)-1]
	}
	hook := f.onPoll
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return r.status, r.err
}

func (f *fakePoller) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakePrimer struct {
	calls int
	err   error
}

func (f *fakePrimer) Prime(context.Context, string) error {
	f.calls++
	return f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) last() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t time.Duration
	for _, d := range r.waits {
		t += d
	}
	return t
}

func allEndpoints() Endpoints {
	return Endpoints{
		ResetURL:     "https://hook.example/reset",
		PrimaryURL:   "https://hook.example/train",
		AssistantURL: "https://hook.example/assistant",
		KBURL:        "https://hook.example/kb",
	}
}
