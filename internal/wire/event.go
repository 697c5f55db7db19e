// ABOUTME: Stream event vocabulary shared by the gateway and its clients.
// ABOUTME: Maps between wire events and transcript parts.

package wire

import (
	"encoding/json"
	"fmt"

	"github.com/2389/chat-gateway/internal/transcript"
)

// Type is the discriminator carried in every event's "type" field.
type Type string

const (
	TypeStart          Type = "start"
	TypeTextDelta      Type = "text-delta"
	TypeReasoningDelta Type = "reasoning-delta"
	TypeToolCall       Type = "tool-call"
	TypeToolResult     Type = "tool-result"
	TypeSourceURL      Type = "source-url"
	TypeFile           Type = "file"
	TypeError          Type = "error"
	TypeFinish         Type = "finish"
)

// Known reports whether t is part of the event vocabulary.
func (t Type) Known() bool {
	switch t {
	case TypeStart, TypeTextDelta, TypeReasoningDelta, TypeToolCall, TypeToolResult,
		TypeSourceURL, TypeFile, TypeError, TypeFinish:
		return true
	}
	return false
}

// FinishStatus reports why a response ended.
type FinishStatus string

const (
	FinishComplete  FinishStatus = "complete"
	FinishStepLimit FinishStatus = "step-limit"
)

// Event is one chunk of a streamed response. Only the fields relevant to
// Type are set.
type Event struct {
	Type Type `json:"type"`

	MessageID string `json:"messageId,omitempty"`
	Delta     string `json:"delta,omitempty"`

	ToolCallID string                   `json:"toolCallId,omitempty"`
	ToolName   string                   `json:"toolName,omitempty"`
	Input      json.RawMessage          `json:"input,omitempty"`
	Output     json.RawMessage          `json:"output,omitempty"`
	Error      *transcript.ErrorPayload `json:"error,omitempty"`

	URL       string `json:"url,omitempty"`
	Title     string `json:"title,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`

	ErrorText string `json:"errorText,omitempty"`

	Status FinishStatus `json:"status,omitempty"`
	Steps  int          `json:"steps,omitempty"`
}

// Start announces the assistant message that the following deltas belong to.
func Start(messageID string) Event {
	return Event{Type: TypeStart, MessageID: messageID}
}

// Finish terminates a response.
func Finish(status FinishStatus, steps int) Event {
	return Event{Type: TypeFinish, Status: status, Steps: steps}
}

// ErrorEvent reports a fatal condition. No finish follows it.
func ErrorEvent(text string) Event {
	return Event{Type: TypeError, ErrorText: text}
}

// EventFromPart converts a transcript part into the event that carries it.
func EventFromPart(p transcript.Part) (Event, error) {
	switch v := p.(type) {
	case transcript.TextPart:
		return Event{Type: TypeTextDelta, Delta: v.Text}, nil
	case transcript.ReasoningPart:
		return Event{Type: TypeReasoningDelta, Delta: v.Text}, nil
	case transcript.ToolCallPart:
		return Event{Type: TypeToolCall, ToolCallID: v.CallID, ToolName: v.ToolName, Input: v.Input}, nil
	case transcript.ToolResultPart:
		return Event{Type: TypeToolResult, ToolCallID: v.CallID, Output: v.Output, Error: v.Error}, nil
	case transcript.SourceURLPart:
		return Event{Type: TypeSourceURL, URL: v.URL, Title: v.Title}, nil
	case transcript.FilePart:
		return Event{Type: TypeFile, MediaType: v.MediaType, URL: v.URL, Filename: v.Filename}, nil
	default:
		return Event{}, fmt.Errorf("%w: %T", transcript.ErrUnknownPart, p)
	}
}

// Part returns the transcript part an event carries. Control events
// (start, error, finish) carry no part and report false.
func (e Event) Part() (transcript.Part, bool) {
	switch e.Type {
	case TypeTextDelta:
		return transcript.TextPart{Text: e.Delta}, true
	case TypeReasoningDelta:
		return transcript.ReasoningPart{Text: e.Delta}, true
	case TypeToolCall:
		return transcript.ToolCallPart{ToolName: e.ToolName, CallID: e.ToolCallID, Input: e.Input}, true
	case TypeToolResult:
		return transcript.ToolResultPart{CallID: e.ToolCallID, Output: e.Output, Error: e.Error}, true
	case TypeSourceURL:
		return transcript.SourceURLPart{URL: e.URL, Title: e.Title}, true
	case TypeFile:
		return transcript.FilePart{MediaType: e.MediaType, URL: e.URL, Filename: e.Filename}, true
	default:
		return nil, false
	}
}
