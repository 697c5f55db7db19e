// ABOUTME: Tests for the agent loop using the scripted provider.
// ABOUTME: Covers termination, step limits, tool ordering, tool failures and cancellation.

package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/provider"
	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// recordingSink captures everything the loop emits.
type recordingSink struct {
	mu      sync.Mutex
	started string
	parts   []transcript.Part
	failOn  int // fail the n-th part (1-based) when non-zero
}

func (s *recordingSink) Start(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = id
	return nil
}

func (s *recordingSink) Part(p transcript.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, p)
	if s.failOn > 0 && len(s.parts) == s.failOn {
		return errors.New("client went away")
	}
	return nil
}

func (s *recordingSink) Parts() []transcript.Part {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transcript.Part(nil), s.parts...)
}

func userHistory(text string) []transcript.Message {
	return []transcript.Message{{
		ID: "u1", Role: transcript.RoleUser, Sealed: true,
		Parts: []transcript.Part{transcript.TextPart{Text: text}},
	}}
}

func call(name, id, input string) transcript.ToolCallPart {
	return transcript.ToolCallPart{ToolName: name, CallID: id, Input: json.RawMessage(input)}
}

func newRegistry(t *testing.T, defs ...*tools.Definition) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(tools.Options{})
	for _, d := range defs {
		require.NoError(t, reg.Register(d))
	}
	reg.Freeze()
	return reg
}

func newLoop(t *testing.T, p provider.Provider, reg *tools.Registry, limit int) *Loop {
	t.Helper()
	l, err := New(Config{Provider: p, Registry: reg, StepLimit: limit})
	require.NoError(t, err)
	return l
}

func weatherTool() *tools.Definition {
	return &tools.Definition{
		Name:        "get_weather",
		Description: "Current weather",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		Execute: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			var in struct{ City string }
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{"city": in.City, "temp_c": 21})
		},
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoProvider)

	l, err := New(Config{Provider: provider.NewScripted()})
	require.NoError(t, err)
	assert.Equal(t, DefaultStepLimit, l.StepLimit())
}

func TestRun_TwoPlusTwo(t *testing.T) {
	p := provider.NewScripted(provider.Step{Parts: []transcript.Part{
		transcript.ReasoningPart{Text: "simple "},
		transcript.ReasoningPart{Text: "arithmetic"},
		transcript.TextPart{Text: "2+2 "},
		transcript.TextPart{Text: "= 4"},
	}})
	sink := &recordingSink{}

	res, err := newLoop(t, p, nil, 0).Run(context.Background(), userHistory("2+2?"), sink)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, res.MessageID, sink.started)
	assert.True(t, res.Message.Sealed)
	assert.Equal(t, transcript.RoleAssistant, res.Message.Role)
	assert.Equal(t, []transcript.Part{
		transcript.ReasoningPart{Text: "simple arithmetic"},
		transcript.TextPart{Text: "2+2 = 4"},
	}, res.Message.Parts)
	assert.Len(t, sink.Parts(), 4, "deltas are forwarded unmerged")
}

func TestRun_GetWeather(t *testing.T) {
	p := provider.NewScripted(
		provider.Step{Parts: []transcript.Part{
			transcript.TextPart{Text: "Let me check."},
			call("get_weather", "", `{"city":"Paris"}`),
		}},
		provider.Step{Parts: []transcript.Part{transcript.TextPart{Text: "It is 21C in Paris."}}},
	)
	sink := &recordingSink{}

	res, err := newLoop(t, p, newRegistry(t, weatherTool()), 5).Run(context.Background(), userHistory("Weather in Paris?"), sink)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 2, res.Steps)

	parts := res.Message.Parts
	require.Len(t, parts, 4)
	c, ok := parts[1].(transcript.ToolCallPart)
	require.True(t, ok)
	assert.NotEmpty(t, c.CallID, "missing call IDs are assigned")
	r, ok := parts[2].(transcript.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, c.CallID, r.CallID)
	assert.JSONEq(t, `{"city":"Paris","temp_c":21}`, string(r.Output))
	assert.Equal(t, transcript.TextPart{Text: "It is 21C in Paris."}, parts[3])

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "get_weather", reqs[0].Tools[0].Name)
	assert.Len(t, reqs[0].Messages, 1)
	require.Len(t, reqs[1].Messages, 2, "second step sees the partial assistant message")
	assert.Len(t, reqs[1].Messages[1].Parts, 3)
}

func TestRun_StepLimitBoundary(t *testing.T) {
	for _, limit := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			p := provider.NewScriptedFunc(func(n int, _ *provider.Request) provider.Step {
				return provider.Step{Parts: []transcript.Part{call("get_weather", fmt.Sprintf("c%d", n), `{"city":"Oslo"}`)}}
			})
			sink := &recordingSink{}

			res, err := newLoop(t, p, newRegistry(t, weatherTool()), limit).Run(context.Background(), userHistory("loop"), sink)
			require.NoError(t, err)
			assert.Equal(t, StatusStepLimit, res.Status)
			assert.ErrorIs(t, res.Err(), ErrStepLimitExceeded)
			assert.Equal(t, limit, res.Steps)
			assert.Equal(t, limit, p.Calls(), "exactly limit generations run")
			assert.True(t, res.Message.Sealed)

			// Every call, including the last step's, has its result.
			assert.Len(t, res.Message.Parts, 2*limit)
			for i := 0; i < limit; i++ {
				_, isResult := res.Message.Parts[2*i+1].(transcript.ToolResultPart)
				assert.True(t, isResult)
			}
		})
	}
}

func TestRun_FinishesOneStepUnderLimit(t *testing.T) {
	p := provider.NewScripted(
		provider.Step{Parts: []transcript.Part{call("get_weather", "a", `{"city":"Oslo"}`)}},
		provider.Step{Parts: []transcript.Part{transcript.TextPart{Text: "done"}}},
	)
	res, err := newLoop(t, p, newRegistry(t, weatherTool()), 2).Run(context.Background(), userHistory("x"), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 2, res.Steps)
}

func TestRun_ZeroPartsIsTerminal(t *testing.T) {
	p := provider.NewScripted(provider.Step{})
	sink := &recordingSink{}

	res, err := newLoop(t, p, nil, 5).Run(context.Background(), userHistory("hello?"), sink)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	assert.Equal(t, 1, res.Steps)
	assert.True(t, res.Message.Sealed)
	assert.Empty(t, res.Message.Parts)
	assert.Empty(t, sink.Parts())
}

func TestRun_ResultOrderUnderRandomLatency(t *testing.T) {
	const n = 8
	slow := &tools.Definition{
		Name: "slow",
		Execute: func(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
			time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)
			return input, nil
		},
	}
	var calls []transcript.Part
	for i := range n {
		calls = append(calls, call("slow", fmt.Sprintf("c%d", i), fmt.Sprintf(`{"i":%d}`, i)))
	}
	p := provider.NewScripted(provider.Step{Parts: calls}, provider.Step{})

	for range 5 {
		res, err := newLoop(t, p, newRegistry(t, slow), 5).Run(context.Background(), userHistory("go"), &recordingSink{})
		require.NoError(t, err)

		parts := res.Message.Parts
		require.Len(t, parts, 2*n)
		for i := range n {
			r, ok := parts[n+i].(transcript.ToolResultPart)
			require.True(t, ok)
			assert.Equal(t, fmt.Sprintf("c%d", i), r.CallID)
			assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(r.Output))
		}
		p = provider.NewScripted(provider.Step{Parts: calls}, provider.Step{})
	}
}

func TestRun_ToolsRunConcurrently(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	rendezvous := &tools.Definition{
		Name: "rendezvous",
		Execute: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			arrived.Done()
			done := make(chan struct{})
			go func() {
				arrived.Wait()
				close(done)
			}()
			select {
			case <-done:
				return json.RawMessage(`"met"`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		Timeout: time.Second,
	}
	p := provider.NewScripted(
		provider.Step{Parts: []transcript.Part{call("rendezvous", "a", `{}`), call("rendezvous", "b", `{}`)}},
		provider.Step{},
	)

	res, err := newLoop(t, p, newRegistry(t, rendezvous), 5).Run(context.Background(), userHistory("meet"), &recordingSink{})
	require.NoError(t, err)
	for _, part := range res.Message.Parts[2:] {
		r := part.(transcript.ToolResultPart)
		assert.Nil(t, r.Error, "sequential execution would time out")
	}
}

func TestRun_ToolFailuresBecomeErrorResults(t *testing.T) {
	hang := &tools.Definition{
		Name:    "hang",
		Timeout: 20 * time.Millisecond,
		Execute: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	broken := &tools.Definition{
		Name: "broken",
		Execute: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("disk on fire")
		},
	}
	p := provider.NewScripted(
		provider.Step{Parts: []transcript.Part{
			call("get_weather", "schema", `{"town":"Paris"}`),
			call("hang", "timeout", `{}`),
			call("broken", "handler", `{}`),
			call("nope", "unknown", `{}`),
		}},
		provider.Step{Parts: []transcript.Part{transcript.TextPart{Text: "sorry"}}},
	)

	res, err := newLoop(t, p, newRegistry(t, weatherTool(), hang, broken), 5).Run(context.Background(), userHistory("x"), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)

	want := map[string]string{
		"schema":  transcript.CodeSchemaError,
		"timeout": transcript.CodeToolTimeout,
		"handler": transcript.CodeToolError,
		"unknown": transcript.CodeUnknownTool,
	}
	for _, part := range res.Message.Parts {
		r, ok := part.(transcript.ToolResultPart)
		if !ok {
			continue
		}
		require.NotNil(t, r.Error, r.CallID)
		assert.Equal(t, want[r.CallID], r.Error.Code, r.CallID)
		assert.NotEmpty(t, r.Error.Message)
		delete(want, r.CallID)
	}
	assert.Empty(t, want)
}

func TestRun_ProviderErrorKeepsPartialContent(t *testing.T) {
	boom := errors.New("upstream 500")
	p := provider.NewScripted(provider.Step{
		Parts: []transcript.Part{transcript.TextPart{Text: "partial"}},
		Err:   boom,
	})

	res, err := newLoop(t, p, nil, 5).Run(context.Background(), userHistory("x"), &recordingSink{})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.True(t, res.Message.Sealed)
	assert.Equal(t, []transcript.Part{transcript.TextPart{Text: "partial"}}, res.Message.Parts)
}

func TestRun_SinkErrorStops(t *testing.T) {
	p := provider.NewScripted(provider.Step{Parts: []transcript.Part{
		transcript.TextPart{Text: "a"}, transcript.TextPart{Text: "b"}, transcript.TextPart{Text: "c"},
	}})
	sink := &recordingSink{failOn: 2}

	res, err := newLoop(t, p, nil, 5).Run(context.Background(), userHistory("x"), sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
	assert.True(t, res.Message.Sealed)
	assert.Len(t, sink.Parts(), 2)
}

func TestRun_CancelStopsAtChunkBoundary(t *testing.T) {
	p := provider.NewScripted(provider.Step{
		Parts: []transcript.Part{
			transcript.TextPart{Text: "1"}, transcript.TextPart{Text: "2"}, transcript.TextPart{Text: "3"},
			transcript.TextPart{Text: "4"}, transcript.TextPart{Text: "5"},
		},
		Delay: 30 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelAfterSink{n: 2, cancel: cancel}

	res, err := newLoop(t, p, nil, 5).Run(ctx, userHistory("count"), sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Message.Sealed)
	assert.Equal(t, []transcript.Part{transcript.TextPart{Text: "12"}}, res.Message.Parts)
}

// cancelAfterSink cancels the run after receiving n parts.
type cancelAfterSink struct {
	recordingSink
	n      int
	cancel context.CancelFunc
}

func (s *cancelAfterSink) Part(p transcript.Part) error {
	_ = s.recordingSink.Part(p)
	if len(s.Parts()) == s.n {
		s.cancel()
	}
	return nil
}

func TestRun_CancelDuringToolsDiscardsResults(t *testing.T) {
	started := make(chan struct{})
	slow := &tools.Definition{
		Name:    "slow",
		Timeout: time.Second,
		Execute: func(context.Context, json.RawMessage) (json.RawMessage, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return json.RawMessage(`"late"`), nil
		},
	}
	p := provider.NewScripted(provider.Step{Parts: []transcript.Part{call("slow", "s", `{}`)}})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := newLoop(t, p, newRegistry(t, slow), 5).Run(ctx, userHistory("x"), &recordingSink{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, res.Message.Parts, 1)
	_, isCall := res.Message.Parts[0].(transcript.ToolCallPart)
	assert.True(t, isCall)
}

func TestRun_DuplicateCallIDsAreReplaced(t *testing.T) {
	p := provider.NewScripted(
		provider.Step{Parts: []transcript.Part{call("get_weather", "same", `{"city":"A"}`), call("get_weather", "same", `{"city":"B"}`)}},
		provider.Step{},
	)
	res, err := newLoop(t, p, newRegistry(t, weatherTool()), 5).Run(context.Background(), userHistory("x"), &recordingSink{})
	require.NoError(t, err)
	calls := res.Message.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "same", calls[0].CallID)
	assert.NotEqual(t, "same", calls[1].CallID)
}

func TestRun_ToolsSeeConversationID(t *testing.T) {
	var seen string
	whoami := &tools.Definition{
		Name: "whoami",
		Execute: func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			seen = tools.ConversationID(ctx)
			return json.RawMessage(`null`), nil
		},
	}
	p := provider.NewScripted(provider.Step{Parts: []transcript.Part{call("whoami", "w", `{}`)}}, provider.Step{})
	l, err := New(Config{Provider: p, Registry: newRegistry(t, whoami), ConversationID: "conv-42"})
	require.NoError(t, err)

	_, err = l.Run(context.Background(), userHistory("x"), &recordingSink{})
	require.NoError(t, err)
	assert.Equal(t, "conv-42", seen)
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("x: %w", tools.ErrUnknownTool), transcript.CodeUnknownTool},
		{&tools.SchemaError{Tool: "t", Detail: "bad"}, transcript.CodeSchemaError},
		{fmt.Errorf("%w: t", tools.ErrToolTimeout), transcript.CodeToolTimeout},
		{errors.New("other"), transcript.CodeToolError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			p := ErrorPayload(tt.err)
			assert.Equal(t, tt.code, p.Code)
			assert.Equal(t, tt.err.Error(), p.Message)
		})
	}
}
