// ABOUTME: Splits transcript messages into the turns model APIs expect.
// ABOUTME: Assistant messages interleave calls and results; APIs want them as separate turns.

package provider

import (
	"encoding/json"
	"strings"

	"github.com/2389/chat-gateway/internal/transcript"
)

// Turn is a run of assistant output followed by the results of its calls.
type Turn struct {
	Text      string
	Reasoning string
	Calls     []transcript.ToolCallPart
	Results   []transcript.ToolResultPart
	Files     []transcript.FilePart
}

// Turns splits an assistant message into turns. A new turn starts when
// output follows tool results.
func Turns(m transcript.Message) []Turn {
	var turns []Turn
	cur := Turn{}
	var text, reasoning strings.Builder
	flush := func() {
		cur.Text = text.String()
		cur.Reasoning = reasoning.String()
		if cur.Text != "" || cur.Reasoning != "" || len(cur.Calls) > 0 || len(cur.Results) > 0 || len(cur.Files) > 0 {
			turns = append(turns, cur)
		}
		cur = Turn{}
		text.Reset()
		reasoning.Reset()
	}

	for _, p := range m.Parts {
		if _, isResult := p.(transcript.ToolResultPart); !isResult && len(cur.Results) > 0 {
			flush()
		}
		switch v := p.(type) {
		case transcript.TextPart:
			text.WriteString(v.Text)
		case transcript.ReasoningPart:
			reasoning.WriteString(v.Text)
		case transcript.ToolCallPart:
			cur.Calls = append(cur.Calls, v)
		case transcript.ToolResultPart:
			cur.Results = append(cur.Results, v)
		case transcript.FilePart:
			cur.Files = append(cur.Files, v)
		}
	}
	flush()
	return turns
}

// CallName returns the tool name of the call a result answers.
func (t Turn) CallName(callID string) string {
	for _, c := range t.Calls {
		if c.CallID == callID {
			return c.ToolName
		}
	}
	return ""
}

// UserContent is the text and inline files of a user or system message.
type UserContent struct {
	Text  string
	Files []InlineFile
}

// InlineFile is a decoded file attachment.
type InlineFile struct {
	Name      string
	MediaType string
	Data      []byte
	URL       string // original URL, set when the file is not inline
}

// IsImage reports whether the file is an image.
func (f InlineFile) IsImage() bool {
	return strings.HasPrefix(f.MediaType, "image/")
}

// IsText reports whether the file can be inlined as text.
func (f InlineFile) IsText() bool {
	return strings.HasPrefix(f.MediaType, "text/") || f.MediaType == "application/json"
}

// ContentOf collects the text and decodes the file parts of a message.
// Files with an undecodable data URL are skipped.
func ContentOf(m transcript.Message) UserContent {
	var uc UserContent
	var text strings.Builder
	for _, p := range m.Parts {
		switch v := p.(type) {
		case transcript.TextPart:
			text.WriteString(v.Text)
		case transcript.FilePart:
			if !transcript.IsDataURL(v.URL) {
				uc.Files = append(uc.Files, InlineFile{Name: v.Filename, MediaType: v.MediaType, URL: v.URL})
				continue
			}
			mediaType, data, err := transcript.ParseDataURL(v.URL)
			if err != nil {
				continue
			}
			if v.MediaType != "" {
				mediaType = v.MediaType
			}
			uc.Files = append(uc.Files, InlineFile{Name: v.Filename, MediaType: mediaType, Data: data})
		}
	}
	uc.Text = text.String()
	return uc
}

// ImagesSent reports files an adapter sends as image content.
func ImagesSent(f InlineFile) bool { return f.IsImage() && f.Data != nil }

// BinarySent reports files an adapter sends as raw bytes.
func BinarySent(f InlineFile) bool { return f.Data != nil && !f.IsText() }

// TextWithInlinedFiles appends text attachments to the message text and
// names the attachments that are neither inlined nor sent separately.
func (uc UserContent) TextWithInlinedFiles(sent func(InlineFile) bool) string {
	var b strings.Builder
	b.WriteString(uc.Text)
	for _, f := range uc.Files {
		switch {
		case sent(f):
		case f.IsText() && f.Data != nil:
			b.WriteString("\n\n--- " + f.Name + " ---\n")
			b.Write(f.Data)
		case f.URL != "":
			b.WriteString("\n\n[attachment " + f.Name + ": " + f.URL + "]")
		default:
			b.WriteString("\n\n[attachment " + f.Name + " (" + f.MediaType + ") omitted]")
		}
	}
	return b.String()
}

// ResultContent renders a tool result as the JSON text sent back to a model.
func ResultContent(r transcript.ToolResultPart) string {
	if r.Error != nil {
		b, _ := json.Marshal(map[string]any{"error": r.Error})
		return string(b)
	}
	if len(r.Output) == 0 {
		return "null"
	}
	return string(r.Output)
}

// ResultMap renders a tool result as an object, for APIs that require one.
func ResultMap(r transcript.ToolResultPart) map[string]any {
	if r.Error != nil {
		return map[string]any{"error": map[string]any{"code": r.Error.Code, "message": r.Error.Message}}
	}
	var v any
	if err := json.Unmarshal(r.Output, &v); err != nil {
		return map[string]any{"output": string(r.Output)}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"output": v}
}

// InputObject decodes tool-call input into a map, treating empty input as {}.
func InputObject(input json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(input) == 0 {
		return out
	}
	_ = json.Unmarshal(input, &out)
	return out
}

// schemaObject decodes a tool input schema, defaulting to an empty object schema.
func schemaObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}
