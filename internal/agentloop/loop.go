// ABOUTME: Bounded generate/execute loop producing one streamed assistant message.
// ABOUTME: Tool calls of a step run concurrently; results are appended in emission order.

package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/provider"
	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// DefaultStepLimit bounds the generation steps of one message.
const DefaultStepLimit = 5

// ErrStepLimitExceeded reports that the loop stopped at its step limit.
var ErrStepLimitExceeded = errors.New("step limit exceeded")

// ErrNoProvider is returned by New when Config.Provider is nil.
var ErrNoProvider = errors.New("agent loop needs a provider")

// Status is the terminal status of a run.
type Status string

// Terminal statuses.
const (
	StatusComplete  Status = "complete"
	StatusStepLimit Status = "step-limit"
)

// Sink receives the assistant message as it is produced.
type Sink interface {
	// Start is called once with the assistant message ID before any part.
	Start(messageID string) error
	// Part is called for every part in transcript order. Text and
	// reasoning arrive as deltas.
	Part(p transcript.Part) error
}

// Config configures a Loop.
type Config struct {
	Provider  provider.Provider
	Registry  *tools.Registry
	StepLimit int
	Model     string
	System    string
	Reasoning bool
	// ConversationID scopes tools that keep per-conversation state. The
	// assistant message ID is used when empty.
	ConversationID string
	Logger         *slog.Logger
}

// Result describes a finished run.
type Result struct {
	MessageID string
	Status    Status
	Steps     int
	Message   transcript.Message
}

// Err returns ErrStepLimitExceeded when the run stopped at the step limit.
func (r *Result) Err() error {
	if r.Status == StatusStepLimit {
		return ErrStepLimitExceeded
	}
	return nil
}

// Loop runs the agent loop. It holds no per-run state and may be shared.
type Loop struct {
	provider  provider.Provider
	registry  *tools.Registry
	stepLimit int
	model     string
	system    string
	reasoning bool
	convID    string
	logger    *slog.Logger
}

// New creates a Loop.
func New(cfg Config) (*Loop, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = tools.NewRegistry(tools.Options{Logger: logger})
		reg.Freeze()
	}
	limit := cfg.StepLimit
	if limit <= 0 {
		limit = DefaultStepLimit
	}
	return &Loop{
		provider:  cfg.Provider,
		registry:  reg,
		stepLimit: limit,
		model:     cfg.Model,
		system:    cfg.System,
		reasoning: cfg.Reasoning,
		convID:    cfg.ConversationID,
		logger:    logger.With("component", "agentloop"),
	}, nil
}

// StepLimit returns the configured step limit.
func (l *Loop) StepLimit() int { return l.stepLimit }

// run is the state of one Run call.
type run struct {
	*Loop
	ctx     context.Context
	history []transcript.Message
	store   *transcript.Store
	id      string
	sink    Sink
	callIDs map[string]struct{}
}

// Run produces one assistant message answering history. The returned
// Result is non-nil whenever the message was opened, including on error.
func (l *Loop) Run(ctx context.Context, history []transcript.Message, sink Sink) (*Result, error) {
	r := &run{
		Loop:    l,
		ctx:     ctx,
		history: history,
		store:   transcript.NewStore(),
		id:      uuid.NewString(),
		sink:    sink,
		callIDs: make(map[string]struct{}),
	}
	if err := r.store.OpenWithID(r.id, transcript.RoleAssistant); err != nil {
		return nil, err
	}
	result := &Result{MessageID: r.id}

	logger := l.logger.With("message_id", r.id, "provider", l.provider.Name())
	logger.Info("→ agent loop started", "history", len(history), "step_limit", l.stepLimit, "tools", l.registry.Len())
	start := time.Now()

	if err := sink.Start(r.id); err != nil {
		r.seal(result)
		return result, fmt.Errorf("sink start: %w", err)
	}

	for step := 1; ; step++ {
		result.Steps = step
		calls, err := r.generate(step)
		if err != nil {
			r.seal(result)
			logger.Warn("agent loop failed", "step", step, "error", err)
			return result, err
		}
		if len(calls) == 0 {
			result.Status = StatusComplete
			r.seal(result)
			logger.Info("← agent loop complete", "steps", step, "elapsed", time.Since(start))
			return result, nil
		}

		if err := r.executeTools(step, calls); err != nil {
			r.seal(result)
			logger.Warn("agent loop failed", "step", step, "error", err)
			return result, err
		}

		if step >= l.stepLimit {
			result.Status = StatusStepLimit
			r.seal(result)
			logger.Warn("← agent loop hit step limit", "steps", step, "elapsed", time.Since(start))
			return result, nil
		}
	}
}

// generate streams one provider step into the message and returns the
// tool calls it emitted, in emission order.
func (r *run) generate(step int) ([]transcript.ToolCallPart, error) {
	current, _ := r.store.Get(r.id)
	messages := make([]transcript.Message, 0, len(r.history)+1)
	messages = append(messages, r.history...)
	if len(current.Parts) > 0 {
		messages = append(messages, current)
	}
	req := &provider.Request{
		Model:     r.model,
		System:    r.system,
		Messages:  messages,
		Tools:     r.registry.Schemas(),
		Reasoning: r.reasoning,
	}

	var calls []transcript.ToolCallPart
	for part, err := range r.provider.Generate(r.ctx, req) {
		if err != nil {
			return calls, fmt.Errorf("step %d: generate: %w", step, err)
		}
		if err := r.ctx.Err(); err != nil {
			return calls, fmt.Errorf("step %d: %w", step, err)
		}

		switch v := part.(type) {
		case transcript.ToolCallPart:
			v = r.normalizeCall(v)
			calls = append(calls, v)
			part = v
		case transcript.ToolResultPart:
			r.logger.Debug("dropping tool result emitted by provider", "call_id", v.CallID)
			continue
		case nil:
			continue
		}

		if err := r.emit(part); err != nil {
			return calls, fmt.Errorf("step %d: %w", step, err)
		}
	}
	return calls, nil
}

// normalizeCall gives the call a unique ID and an object input.
func (r *run) normalizeCall(c transcript.ToolCallPart) transcript.ToolCallPart {
	if _, dup := r.callIDs[c.CallID]; c.CallID == "" || dup {
		c.CallID = "call_" + uuid.NewString()
	}
	r.callIDs[c.CallID] = struct{}{}
	if len(c.Input) == 0 {
		c.Input = []byte(`{}`)
	}
	return c
}

// executeTools runs every call concurrently and appends the results in
// call order. On cancellation running tools are left to finish on their
// own timeout and their results are discarded.
func (r *run) executeTools(step int, calls []transcript.ToolCallPart) error {
	convID := r.convID
	if convID == "" {
		convID = r.id
	}
	toolCtx := tools.WithConversationID(context.WithoutCancel(r.ctx), convID)

	results := make([]transcript.ToolResultPart, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Go(func() {
			results[i] = r.execute(toolCtx, c)
		})
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-r.ctx.Done():
		return fmt.Errorf("step %d: tools: %w", step, r.ctx.Err())
	}

	for _, res := range results {
		if err := r.emit(res); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
	}
	return nil
}

func (r *run) execute(ctx context.Context, c transcript.ToolCallPart) transcript.ToolResultPart {
	out, err := r.registry.Execute(ctx, c.ToolName, c.Input)
	if err != nil {
		r.logger.Debug("tool call failed", "tool_name", c.ToolName, "call_id", c.CallID, "error", err)
		return transcript.ToolResultPart{CallID: c.CallID, Error: ErrorPayload(err)}
	}
	return transcript.ToolResultPart{CallID: c.CallID, Output: out}
}

// emit appends a part to the message and forwards it to the sink.
func (r *run) emit(p transcript.Part) error {
	if err := r.store.AppendPart(r.id, p); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if err := r.sink.Part(p); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	return nil
}

func (r *run) seal(result *Result) {
	_ = r.store.Seal(r.id)
	result.Message, _ = r.store.Get(r.id)
}

// ErrorPayload maps a tool execution error to the payload shown to the model.
func ErrorPayload(err error) *transcript.ErrorPayload {
	code := transcript.CodeToolError
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		code = transcript.CodeUnknownTool
	case errors.Is(err, tools.ErrSchema):
		code = transcript.CodeSchemaError
	case errors.Is(err, tools.ErrToolTimeout):
		code = transcript.CodeToolTimeout
	}
	return &transcript.ErrorPayload{Code: code, Message: err.Error()}
}
