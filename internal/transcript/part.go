// ABOUTME: Closed set of message part variants (text, reasoning, file, source, tool call/result).
// ABOUTME: Part is a sealed interface so every consumer switches over a fixed set of kinds.

package transcript

import "encoding/json"

// Kind is the discriminator carried by every part on the wire.
type Kind string

// Part kinds.
const (
	KindText       Kind = "text"
	KindReasoning  Kind = "reasoning"
	KindFile       Kind = "file"
	KindSourceURL  Kind = "source-url"
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
)

// Part is one ordered fragment of a message. Implementations live only in
// this package.
type Part interface {
	Kind() Kind
	isPart()
}

// TextPart is user- or model-authored text.
type TextPart struct {
	Text string
}

// ReasoningPart is the model's intermediate rationale.
type ReasoningPart struct {
	Text string
}

// FilePart references a file by URL. The URL is either external or an
// inline data URL.
type FilePart struct {
	MediaType string
	URL       string
	Filename  string
}

// SourceURLPart is a citation emitted by a retrieval step.
type SourceURLPart struct {
	URL   string
	Title string
}

// ToolCallPart is a model request to invoke a tool.
type ToolCallPart struct {
	ToolName string
	CallID   string
	Input    json.RawMessage
}

// ToolResultPart carries the outcome of a tool call. Exactly one of Output
// and Error is set.
type ToolResultPart struct {
	CallID string
	Output json.RawMessage
	Error  *ErrorPayload
}

// ErrorPayload describes a tool failure in a form the model can read.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error payload codes.
const (
	CodeSchemaError = "schema_error"
	CodeToolTimeout = "tool_timeout"
	CodeToolError   = "tool_error"
	CodeUnknownTool = "unknown_tool"
)

func (TextPart) Kind() Kind       { return KindText }
func (ReasoningPart) Kind() Kind  { return KindReasoning }
func (FilePart) Kind() Kind       { return KindFile }
func (SourceURLPart) Kind() Kind  { return KindSourceURL }
func (ToolCallPart) Kind() Kind   { return KindToolCall }
func (ToolResultPart) Kind() Kind { return KindToolResult }

func (TextPart) isPart()       {}
func (ReasoningPart) isPart()  {}
func (FilePart) isPart()       {}
func (SourceURLPart) isPart()  {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}

// IsError reports whether the tool result carries an error payload.
func (p ToolResultPart) IsError() bool {
	return p.Error != nil
}

// clonePart returns a copy of p that shares no mutable memory with it.
func clonePart(p Part) Part {
	switch v := p.(type) {
	case ToolCallPart:
		v.Input = cloneRaw(v.Input)
		return v
	case ToolResultPart:
		v.Output = cloneRaw(v.Output)
		if v.Error != nil {
			e := *v.Error
			v.Error = &e
		}
		return v
	default:
		return p
	}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
