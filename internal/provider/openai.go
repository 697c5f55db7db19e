// ABOUTME: OpenAI provider streams chat completions from OpenAI-compatible endpoints.
// ABOUTME: Uses the SDK accumulator to assemble streamed tool-call arguments.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// reasoningFields are the non-standard delta fields OpenAI-compatible
// servers use for reasoning text.
var reasoningFields = []string{"reasoning_content", "reasoning"}

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty for api.openai.com
	Model   string
}

// OpenAI is a Provider backed by the Chat Completions API.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model, logger: logger}
}

// Name returns "openai".
func (o *OpenAI) Name() string { return "openai" }

// Generate streams one chat completion. Tool calls are yielded once the
// stream ends, with their arguments fully assembled.
func (o *OpenAI) Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error] {
	return func(yield func(transcript.Part, error) bool) {
		model := req.Model
		if model == "" {
			model = o.model
		}
		params := openai.ChatCompletionNewParams{
			Model:    model,
			Messages: toOpenAIMessages(req.System, req.Messages),
			Tools:    toOpenAITools(req.Tools),
		}
		if req.Reasoning {
			params.ReasoningEffort = shared.ReasoningEffortMedium
		}

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		acc := openai.ChatCompletionAccumulator{}
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if text := reasoningDelta(delta); text != "" {
				if !yield(transcript.ReasoningPart{Text: text}, nil) {
					return
				}
			}
			if delta.Content != "" {
				if !yield(transcript.TextPart{Text: delta.Content}, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("openai stream: %w", err))
			return
		}

		if len(acc.Choices) == 0 {
			return
		}
		for _, tc := range acc.Choices[0].Message.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			part := transcript.ToolCallPart{ToolName: tc.Function.Name, CallID: tc.ID, Input: input}
			if !yield(part, nil) {
				return
			}
		}
	}
}

func reasoningDelta(delta openai.ChatCompletionChunkChoiceDelta) string {
	for _, name := range reasoningFields {
		field, ok := delta.JSON.ExtraFields[name]
		if !ok || !field.Valid() {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(field.Raw()), &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// toOpenAIMessages converts history to chat completion messages.
func toOpenAIMessages(system string, history []transcript.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, m := range history {
		switch m.Role {
		case transcript.RoleAssistant:
			for _, turn := range Turns(m) {
				if turn.Text != "" || len(turn.Calls) > 0 {
					out = append(out, openAIAssistant(turn))
				}
				for _, r := range turn.Results {
					out = append(out, openai.ToolMessage(ResultContent(r), r.CallID))
				}
			}
		case transcript.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		default:
			out = append(out, openAIUser(ContentOf(m)))
		}
	}
	return out
}

func openAIAssistant(turn Turn) openai.ChatCompletionMessageParamUnion {
	msg := openai.ChatCompletionAssistantMessageParam{}
	if turn.Text != "" {
		msg.Content.OfString = openai.String(turn.Text)
	}
	for _, c := range turn.Calls {
		args := string(c.Input)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: c.CallID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      c.ToolName,
					Arguments: args,
				},
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func openAIUser(uc UserContent) openai.ChatCompletionMessageParamUnion {
	var images []InlineFile
	for _, f := range uc.Files {
		if f.IsImage() {
			images = append(images, f)
		}
	}
	sent := func(f InlineFile) bool { return f.IsImage() }
	text := uc.TextWithInlinedFiles(sent)
	if len(images) == 0 {
		return openai.UserMessage(text)
	}

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(text)}
	for _, img := range images {
		u := img.URL
		if img.Data != nil {
			u = transcript.DataURL(img.MediaType, img.Data)
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: u}))
	}
	return openai.UserMessage(parts)
}

// toOpenAITools converts registry schemas to function tools.
func toOpenAITools(schemas []tools.Schema) []openai.ChatCompletionToolUnionParam {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		fn := shared.FunctionDefinitionParam{
			Name:       s.Name,
			Parameters: shared.FunctionParameters(schemaObject(s.InputSchema)),
		}
		if s.Description != "" {
			fn.Description = openai.String(s.Description)
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}
