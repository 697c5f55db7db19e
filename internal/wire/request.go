// ABOUTME: ChatRequest is the JSON body posted to the chat endpoint.
// ABOUTME: Carries history, tool allow-list, step limit and caller context.

package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/chat-gateway/internal/transcript"
)

// ToolConfig restricts which registered tools a request may use.
type ToolConfig struct {
	Tools []string `json:"tools,omitempty"`
}

// ChatRequest is one user turn plus the history before it.
type ChatRequest struct {
	ID string `json:"id,omitempty"`
	// ConversationID groups the requests of one chat session. Stateful
	// tools are scoped by it; the request ID is used when it is empty.
	ConversationID string               `json:"conversationId,omitempty"`
	Messages       []transcript.Message `json:"messages"`
	ToolConfig     *ToolConfig          `json:"toolConfig,omitempty"`
	StepLimit      int                  `json:"stepLimit,omitempty"`
	System         string               `json:"system,omitempty"`
	Reasoning      bool                 `json:"reasoning,omitempty"`
	Context        json.RawMessage      `json:"context,omitempty"`
}

// Validate checks the request shape before any work is done.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages required")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	if last := r.Messages[len(r.Messages)-1]; last.Role != transcript.RoleUser {
		return fmt.Errorf("last message must have role user, got %q", last.Role)
	}
	if r.StepLimit < 0 {
		return errors.New("stepLimit must not be negative")
	}
	if len(r.Context) > 0 && !json.Valid(r.Context) {
		return errors.New("context must be valid JSON")
	}
	return nil
}

// AllowedTools returns the tool allow-list, or nil when every tool is allowed.
func (r *ChatRequest) AllowedTools() []string {
	if r.ToolConfig == nil {
		return nil
	}
	return r.ToolConfig.Tools
}

// Conversation returns the conversation ID, falling back to the request ID.
func (r *ChatRequest) Conversation() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.ID
}

// SystemPrompt joins the base prompt, the request's system text and the
// caller context into one prompt.
func (r *ChatRequest) SystemPrompt(base string) string {
	var buf bytes.Buffer
	buf.WriteString(base)
	if r.System != "" {
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(r.System)
	}
	if len(r.Context) > 0 && !bytes.Equal(bytes.TrimSpace(r.Context), []byte("null")) {
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString("Use the following context data when answering:\n")
		if err := json.Indent(&buf, r.Context, "", "  "); err != nil {
			buf.Write(r.Context)
		}
	}
	return buf.String()
}
