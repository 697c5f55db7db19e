// ABOUTME: Scripted provider replays predetermined steps for tests and local runs.
// ABOUTME: Records every request so callers can assert on what the model was sent.

package provider

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/2389/chat-gateway/internal/transcript"
)

// Step is the output of one scripted generation.
type Step struct {
	Parts []transcript.Part
	Err   error         // yielded after Parts
	Delay time.Duration // before each part
}

// StepFunc chooses the output for the n-th generation (zero-based).
type StepFunc func(n int, req *Request) Step

// Scripted is a Provider driven by a StepFunc.
type Scripted struct {
	name string
	fn   StepFunc

	mu       sync.Mutex
	requests []*Request
}

// NewScripted replays steps in order. Generations past the end emit nothing.
func NewScripted(steps ...Step) *Scripted {
	return NewScriptedFunc(func(n int, _ *Request) Step {
		if n < len(steps) {
			return steps[n]
		}
		return Step{}
	})
}

// NewScriptedFunc creates a scripted provider from a function.
func NewScriptedFunc(fn StepFunc) *Scripted {
	return &Scripted{name: "scripted", fn: fn}
}

// NewEcho answers every request by repeating the last user message.
func NewEcho() *Scripted {
	s := NewScriptedFunc(func(_ int, req *Request) Step {
		var last string
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == transcript.RoleUser {
				last = req.Messages[i].Text()
				break
			}
		}
		return Step{Parts: []transcript.Part{transcript.TextPart{Text: "You said: " + last}}}
	})
	s.name = "echo"
	return s
}

// Name returns the provider name.
func (s *Scripted) Name() string { return s.name }

// Generate yields the parts of the next step.
func (s *Scripted) Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error] {
	s.mu.Lock()
	n := len(s.requests)
	recorded := *req
	recorded.Messages = make([]transcript.Message, len(req.Messages))
	for i, m := range req.Messages {
		recorded.Messages[i] = m.Clone()
	}
	s.requests = append(s.requests, &recorded)
	s.mu.Unlock()

	step := s.fn(n, &recorded)

	return func(yield func(transcript.Part, error) bool) {
		for _, p := range step.Parts {
			if err := wait(ctx, step.Delay); err != nil {
				yield(nil, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if step.Err != nil {
			yield(nil, step.Err)
		}
	}
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of generations started.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func wait(ctx context.Context, d time.Duration) error {
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
