// ABOUTME: Ollama provider streams chat completions from a local Ollama server.
// ABOUTME: Converts transcript history and tool schemas to Ollama's chat API types.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// errStopIteration aborts the Ollama callback when the consumer stops pulling.
var errStopIteration = errors.New("iteration stopped")

// Ollama is a Provider backed by the Ollama chat API.
type Ollama struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewOllama creates an Ollama provider.
func NewOllama(baseURL, model string, httpClient *http.Client, logger *slog.Logger) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
		logger: logger,
	}, nil
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// Generate streams one chat completion.
func (o *Ollama) Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error] {
	return func(yield func(transcript.Part, error) bool) {
		model := req.Model
		if model == "" {
			model = o.model
		}
		stream := true
		chatReq := &api.ChatRequest{
			Model:    model,
			Messages: toOllamaMessages(req.System, req.Messages),
			Tools:    toOllamaTools(req.Tools),
			Stream:   &stream,
		}
		if req.Reasoning {
			chatReq.Think = &api.ThinkValue{Value: true}
		}

		respFunc := func(resp api.ChatResponse) error {
			msg := resp.Message
			if msg.Thinking != "" && !yield(transcript.ReasoningPart{Text: msg.Thinking}, nil) {
				return errStopIteration
			}
			if msg.Content != "" && !yield(transcript.TextPart{Text: msg.Content}, nil) {
				return errStopIteration
			}
			for _, call := range msg.ToolCalls {
				input, err := json.Marshal(call.Function.Arguments)
				if err != nil {
					return fmt.Errorf("encoding %s arguments: %w", call.Function.Name, err)
				}
				part := transcript.ToolCallPart{ToolName: call.Function.Name, Input: input}
				if !yield(part, nil) {
					return errStopIteration
				}
			}
			return nil
		}

		err := o.client.Chat(ctx, chatReq, respFunc)
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, fmt.Errorf("ollama chat: %w", err))
		}
	}
}

// toOllamaMessages converts history to Ollama messages. Images are sent
// inline; text attachments are appended to the message content.
func toOllamaMessages(system string, history []transcript.Message) []api.Message {
	var out []api.Message
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}

	for _, m := range history {
		switch m.Role {
		case transcript.RoleAssistant:
			for _, turn := range Turns(m) {
				msg := api.Message{Role: "assistant", Content: turn.Text, Thinking: turn.Reasoning}
				for _, c := range turn.Calls {
					msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
						Function: api.ToolCallFunction{Name: c.ToolName, Arguments: InputObject(c.Input)},
					})
				}
				if msg.Content != "" || len(msg.ToolCalls) > 0 {
					out = append(out, msg)
				}
				for _, r := range turn.Results {
					out = append(out, api.Message{Role: "tool", Content: ResultContent(r), ToolName: turn.CallName(r.CallID)})
				}
			}
		default:
			uc := ContentOf(m)
			msg := api.Message{Role: string(m.Role), Content: uc.TextWithInlinedFiles(ImagesSent)}
			for _, f := range uc.Files {
				if f.IsImage() && f.Data != nil {
					msg.Images = append(msg.Images, api.ImageData(f.Data))
				}
			}
			out = append(out, msg)
		}
	}
	return out
}

// toOllamaTools converts registry schemas to Ollama tool definitions.
func toOllamaTools(schemas []tools.Schema) []api.Tool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(schemas))
	for _, s := range schemas {
		var params api.ToolFunctionParameters
		raw, _ := json.Marshal(schemaObject(s.InputSchema))
		_ = json.Unmarshal(raw, &params)
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
