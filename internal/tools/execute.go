// ABOUTME: Executes a registered tool under a per-tool timeout.
// ABOUTME: A handler that ignores its context is abandoned once the deadline passes.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrToolTimeout indicates a tool did not finish within its timeout.
var ErrToolTimeout = errors.New("tool execution timed out")

type execResult struct {
	output json.RawMessage
	err    error
}

// Execute validates input and runs the tool's handler. The handler runs
// under its own timeout; exceeding it yields ErrToolTimeout. Cancellation
// of ctx itself is returned as ctx.Err().
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	input, err = validate(e, input)
	if err != nil {
		return nil, err
	}

	timeout := r.timeout
	if e.def.Timeout > 0 {
		timeout = e.def.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.Debug("→ executing tool", "tool_name", name, "timeout", timeout)
	start := time.Now()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: fmt.Errorf("tool %s panicked: %v", name, p)}
			}
		}()
		out, err := e.def.Execute(execCtx, input)
		done <- execResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, timeout)
			}
			r.logger.Warn("tool error", "tool_name", name, "error", res.err)
			return nil, res.err
		}
		r.logger.Debug("← tool responded", "tool_name", name, "elapsed", time.Since(start))
		if len(res.output) == 0 {
			res.output = json.RawMessage(`null`)
		}
		return res.output, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("tool call timed out",
			"tool_name", name,
			"timeout", timeout,
		)
		return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, name, timeout)
	}
}
