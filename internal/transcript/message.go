// ABOUTME: Message type and its JSON encoding with a "type" discriminator per part.
// ABOUTME: Used for chat request bodies and for provider adapters reading history.

package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ErrUnknownPart is returned when decoding a part with an unrecognized type.
var ErrUnknownPart = errors.New("unknown part type")

// Message is an ordered collection of parts from one author.
type Message struct {
	ID     string
	Role   Role
	Parts  []Part
	Sealed bool
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if c, ok := p.(ToolCallPart); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			out.Parts[i] = clonePart(p)
		}
	}
	return out
}

// partJSON is the flat wire shape of a part.
type partJSON struct {
	Type       Kind            `json:"type"`
	Text       string          `json:"text,omitempty"`
	MediaType  string          `json:"mediaType,omitempty"`
	URL        string          `json:"url,omitempty"`
	Filename   string          `json:"filename,omitempty"`
	Title      string          `json:"title,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      *ErrorPayload   `json:"error,omitempty"`
}

type messageJSON struct {
	ID    string     `json:"id"`
	Role  Role       `json:"role"`
	Parts []partJSON `json:"parts"`
}

// MarshalPart encodes a single part.
func MarshalPart(p Part) ([]byte, error) {
	return json.Marshal(toPartJSON(p))
}

// UnmarshalPart decodes a single part.
func UnmarshalPart(data []byte) (Part, error) {
	var pj partJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, err
	}
	return fromPartJSON(pj)
}

func toPartJSON(p Part) partJSON {
	switch v := p.(type) {
	case TextPart:
		return partJSON{Type: KindText, Text: v.Text}
	case ReasoningPart:
		return partJSON{Type: KindReasoning, Text: v.Text}
	case FilePart:
		return partJSON{Type: KindFile, MediaType: v.MediaType, URL: v.URL, Filename: v.Filename}
	case SourceURLPart:
		return partJSON{Type: KindSourceURL, URL: v.URL, Title: v.Title}
	case ToolCallPart:
		return partJSON{Type: KindToolCall, ToolName: v.ToolName, ToolCallID: v.CallID, Input: v.Input}
	case ToolResultPart:
		return partJSON{Type: KindToolResult, ToolCallID: v.CallID, Output: v.Output, Error: v.Error}
	}
	panic(fmt.Sprintf("transcript: unhandled part %T", p))
}

func fromPartJSON(pj partJSON) (Part, error) {
	switch pj.Type {
	case KindText:
		return TextPart{Text: pj.Text}, nil
	case KindReasoning:
		return ReasoningPart{Text: pj.Text}, nil
	case KindFile:
		return FilePart{MediaType: pj.MediaType, URL: pj.URL, Filename: pj.Filename}, nil
	case KindSourceURL:
		return SourceURLPart{URL: pj.URL, Title: pj.Title}, nil
	case KindToolCall:
		return ToolCallPart{ToolName: pj.ToolName, CallID: pj.ToolCallID, Input: pj.Input}, nil
	case KindToolResult:
		return ToolResultPart{CallID: pj.ToolCallID, Output: pj.Output, Error: pj.Error}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPart, pj.Type)
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	mj := messageJSON{ID: m.ID, Role: m.Role, Parts: make([]partJSON, 0, len(m.Parts))}
	for _, p := range m.Parts {
		mj.Parts = append(mj.Parts, toPartJSON(p))
	}
	return json.Marshal(mj)
}

// UnmarshalJSON implements json.Unmarshaler. Decoded messages are sealed.
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return err
	}
	parts := make([]Part, 0, len(mj.Parts))
	for i, pj := range mj.Parts {
		p, err := fromPartJSON(pj)
		if err != nil {
			return fmt.Errorf("message %s part %d: %w", mj.ID, i, err)
		}
		parts = append(parts, p)
	}
	*m = Message{ID: mj.ID, Role: mj.Role, Parts: parts, Sealed: true}
	return nil
}
