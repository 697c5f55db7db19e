// ABOUTME: Gemini provider streams generateContent responses via the genai SDK.
// ABOUTME: Maps thoughts to reasoning and Google Search grounding chunks to source URLs.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	Model  string
	// GoogleSearch enables search grounding for requests that offer no
	// function tools; the API does not accept both in one request.
	GoogleSearch bool
}

// Gemini is a Provider backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *slog.Logger
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, cfg GeminiConfig, httpClient *http.Client, logger *slog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{client: client, cfg: cfg, logger: logger}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Generate streams one response.
func (g *Gemini) Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error] {
	return func(yield func(transcript.Part, error) bool) {
		model := req.Model
		if model == "" {
			model = g.cfg.Model
		}
		system, contents := toGeminiContents(req.System, req.Messages)
		config := &genai.GenerateContentConfig{Tools: g.geminiTools(req.Tools)}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.Reasoning {
			config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		}

		seenSources := map[string]bool{}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			for _, part := range geminiParts(resp, seenSources) {
				if !yield(part, nil) {
					return
				}
			}
		}
	}
}

// geminiParts maps one streamed response to transcript parts. Sources are
// reported once per generation.
func geminiParts(resp *genai.GenerateContentResponse, seen map[string]bool) []transcript.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]

	var out []transcript.Part
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				input, err := json.Marshal(p.FunctionCall.Args)
				if err != nil || len(p.FunctionCall.Args) == 0 {
					input = json.RawMessage(`{}`)
				}
				out = append(out, transcript.ToolCallPart{ToolName: p.FunctionCall.Name, CallID: p.FunctionCall.ID, Input: input})
			case p.Text != "" && p.Thought:
				out = append(out, transcript.ReasoningPart{Text: p.Text})
			case p.Text != "":
				out = append(out, transcript.TextPart{Text: p.Text})
			case p.InlineData != nil:
				out = append(out, transcript.FilePart{
					MediaType: p.InlineData.MIMEType,
					URL:       transcript.DataURL(p.InlineData.MIMEType, p.InlineData.Data),
				})
			}
		}
	}

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
				continue
			}
			seen[chunk.Web.URI] = true
			out = append(out, transcript.SourceURLPart{URL: chunk.Web.URI, Title: chunk.Web.Title})
		}
	}
	return out
}

func (g *Gemini) geminiTools(schemas []tools.Schema) []*genai.Tool {
	if len(schemas) == 0 {
		if g.cfg.GoogleSearch {
			return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		}
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: schemaObject(s.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiContents converts history to contents. System messages are folded
// into the system instruction.
func toGeminiContents(system string, history []transcript.Message) (string, []*genai.Content) {
	var out []*genai.Content
	for _, m := range history {
		switch m.Role {
		case transcript.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
		case transcript.RoleAssistant:
			for _, turn := range Turns(m) {
				var parts []*genai.Part
				if turn.Text != "" {
					parts = append(parts, genai.NewPartFromText(turn.Text))
				}
				for _, c := range turn.Calls {
					parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
						ID:   c.CallID,
						Name: c.ToolName,
						Args: InputObject(c.Input),
					}})
				}
				if len(parts) > 0 {
					out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
				}
				if len(turn.Results) > 0 {
					results := make([]*genai.Part, 0, len(turn.Results))
					for _, r := range turn.Results {
						part := genai.NewPartFromFunctionResponse(turn.CallName(r.CallID), ResultMap(r))
						part.FunctionResponse.ID = r.CallID
						results = append(results, part)
					}
					out = append(out, genai.NewContentFromParts(results, genai.RoleUser))
				}
			}
		default:
			uc := ContentOf(m)
			var parts []*genai.Part
			if text := uc.TextWithInlinedFiles(BinarySent); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, f := range uc.Files {
				if f.Data != nil && !f.IsText() {
					parts = append(parts, genai.NewPartFromBytes(f.Data, f.MediaType))
				}
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		}
	}
	return system, out
}
