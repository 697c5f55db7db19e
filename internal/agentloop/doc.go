// Package agentloop drives generation and tool execution for one assistant
// message.
//
// A Loop alternates between two phases. It streams one generation from the
// provider, forwarding every part to a Sink as it arrives. If that
// generation requested tools, it executes them concurrently and appends the
// results in the order the calls were emitted, then generates again.
//
// The loop ends when a generation requests no tools (StatusComplete) or
// when StepLimit generations have run (StatusStepLimit). Hitting the limit
// is not a failure: Run returns a nil error and Result.Err reports
// ErrStepLimitExceeded. Partial content is always kept and the message is
// always sealed before Run returns.
//
// Tool failures never abort the loop. Unknown tools, schema violations,
// timeouts and handler errors are recorded as tool results carrying an
// ErrorPayload so the model can react to them on the next step.
package agentloop
