// ABOUTME: Anthropic provider streams Messages API responses.
// ABOUTME: Yields text, thinking and citation deltas live and tool calls at stream end.

package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int64
	ThinkingBudget int64
}

// Anthropic is a Provider backed by the Messages API.
type Anthropic struct {
	client anthropic.Client
	cfg    AnthropicConfig
	logger *slog.Logger
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig, httpClient *http.Client, logger *slog.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Anthropic{client: anthropic.NewClient(opts...), cfg: cfg, logger: logger}
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Generate streams one message.
func (a *Anthropic) Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error] {
	return func(yield func(transcript.Part, error) bool) {
		model := req.Model
		if model == "" {
			model = a.cfg.Model
		}
		system, messages := toAnthropicMessages(req.System, req.Messages)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: a.cfg.MaxTokens,
			Messages:  messages,
			Tools:     toAnthropicTools(req.Tools),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}
		if req.Reasoning && a.cfg.ThinkingBudget > 0 {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(a.cfg.ThinkingBudget)
			params.MaxTokens = max(params.MaxTokens, a.cfg.ThinkingBudget+1024)
		}

		stream := a.client.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("anthropic stream: %w", err))
				return
			}
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			var part transcript.Part
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				part = transcript.TextPart{Text: d.Text}
			case anthropic.ThinkingDelta:
				part = transcript.ReasoningPart{Text: d.Thinking}
			case anthropic.CitationsDelta:
				if d.Citation.URL != "" {
					part = transcript.SourceURLPart{URL: d.Citation.URL, Title: d.Citation.Title}
				}
			}
			if part != nil && !yield(part, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("anthropic stream: %w", err))
			return
		}

		for _, block := range message.Content {
			if block.Type != "tool_use" {
				continue
			}
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			if !yield(transcript.ToolCallPart{ToolName: block.Name, CallID: block.ID, Input: input}, nil) {
				return
			}
		}
	}
}

// toAnthropicMessages converts history. System messages in the history are
// folded into the system prompt since the API takes it separately.
func toAnthropicMessages(system string, history []transcript.Message) (string, []anthropic.MessageParam) {
	systemParts := []string{}
	if system != "" {
		systemParts = append(systemParts, system)
	}

	var out []anthropic.MessageParam
	for _, m := range history {
		switch m.Role {
		case transcript.RoleSystem:
			systemParts = append(systemParts, m.Text())
		case transcript.RoleAssistant:
			for _, turn := range Turns(m) {
				var blocks []anthropic.ContentBlockParamUnion
				if turn.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(turn.Text))
				}
				for _, c := range turn.Calls {
					blocks = append(blocks, anthropic.NewToolUseBlock(c.CallID, InputObject(c.Input), c.ToolName))
				}
				if len(blocks) > 0 {
					out = append(out, anthropic.NewAssistantMessage(blocks...))
				}
				if len(turn.Results) > 0 {
					results := make([]anthropic.ContentBlockParamUnion, 0, len(turn.Results))
					for _, r := range turn.Results {
						results = append(results, anthropic.NewToolResultBlock(r.CallID, ResultContent(r), r.IsError()))
					}
					out = append(out, anthropic.NewUserMessage(results...))
				}
			}
		default:
			uc := ContentOf(m)
			var blocks []anthropic.ContentBlockParamUnion
			if text := uc.TextWithInlinedFiles(ImagesSent); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			for _, f := range uc.Files {
				if f.IsImage() && f.Data != nil {
					blocks = append(blocks, anthropic.NewImageBlockBase64(f.MediaType, base64.StdEncoding.EncodeToString(f.Data)))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return strings.Join(systemParts, "\n\n"), out
}

// toAnthropicTools converts registry schemas to custom tool definitions.
func toAnthropicTools(schemas []tools.Schema) []anthropic.ToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		obj := schemaObject(s.InputSchema)
		input := anthropic.ToolInputSchemaParam{ExtraFields: map[string]any{}}
		for k, v := range obj {
			switch k {
			case "type":
			case "properties":
				input.Properties = v
			case "required":
				input.Required = stringSlice(v)
			default:
				input.ExtraFields[k] = v
			}
		}
		tool := anthropic.ToolUnionParamOfTool(input, s.Name)
		if s.Description != "" {
			tool.OfTool.Description = anthropic.String(s.Description)
		}
		out = append(out, tool)
	}
	return out
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
