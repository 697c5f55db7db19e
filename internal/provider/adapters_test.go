// ABOUTME: Tests for the backend adapters against fake HTTP servers and converters.
// ABOUTME: Checks streamed deltas, tool-call assembly and history conversion per backend.

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

var weatherTool = tools.Schema{
	Name:        "get_weather",
	Description: "Current weather for a city",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
}

// toolHistory is a user question followed by an assistant message that
// called a tool, got the result and answered.
func toolHistory() []transcript.Message {
	return []transcript.Message{
		{ID: "s", Role: transcript.RoleSystem, Parts: []transcript.Part{transcript.TextPart{Text: "be brief"}}},
		{ID: "u", Role: transcript.RoleUser, Parts: []transcript.Part{transcript.TextPart{Text: "weather in Paris?"}}},
		{ID: "a", Role: transcript.RoleAssistant, Parts: []transcript.Part{
			transcript.ToolCallPart{ToolName: "get_weather", CallID: "c1", Input: json.RawMessage(`{"city":"Paris"}`)},
			transcript.ToolResultPart{CallID: "c1", Output: json.RawMessage(`{"temp":21}`)},
			transcript.TextPart{Text: "21C"},
		}},
		{ID: "u2", Role: transcript.RoleUser, Parts: []transcript.Part{transcript.TextPart{Text: "thanks"}}},
	}
}

func TestNew_Kinds(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		kind string
		name string
	}{
		{config.ProviderScripted, "echo"},
		{config.ProviderOllama, "ollama"},
		{config.ProviderOpenAI, "openai"},
		{config.ProviderAnthropic, "anthropic"},
		{config.ProviderGemini, "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			p, err := New(ctx, config.ProviderConfig{Kind: tt.kind, Model: "m", APIKey: "k"}, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name())
		})
	}

	_, err := New(ctx, config.ProviderConfig{Kind: "carrier-pigeon"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOllama_StreamsNDJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"model":"llama","message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Paris"}}}]},"done":false}`,
			`{"model":"llama","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
		}
		for _, l := range lines {
			_, _ = fmt.Fprintln(w, l)
		}
	}))
	defer srv.Close()

	p, err := NewOllama(srv.URL, "llama", srv.Client(), nil)
	require.NoError(t, err)

	parts, err := collect(t, p, &Request{
		Messages:  toolHistory(),
		Tools:     []tools.Schema{weatherTool},
		Reasoning: true,
	})
	require.NoError(t, err)
	require.Len(t, parts, 4)
	assert.Equal(t, transcript.ReasoningPart{Text: "hmm"}, parts[0])
	assert.Equal(t, transcript.TextPart{Text: "Hel"}, parts[1])
	assert.Equal(t, transcript.TextPart{Text: "lo"}, parts[2])
	call, ok := parts[3].(transcript.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.JSONEq(t, `{"city":"Paris"}`, string(call.Input))

	assert.Equal(t, "llama", got["model"])
	assert.Equal(t, true, got["think"])
	assert.Len(t, got["tools"], 1)
}

func TestOllama_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintln(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	p, err := NewOllama(srv.URL, "missing", srv.Client(), nil)
	require.NoError(t, err)
	_, err = collect(t, p, userRequest("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestToOllamaMessages(t *testing.T) {
	msgs := toOllamaMessages("sys", toolHistory())
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.Role
	}
	assert.Equal(t, []string{"system", "system", "user", "assistant", "tool", "assistant", "user"}, roles)
	assert.Equal(t, "get_weather", msgs[4].ToolName)
	assert.JSONEq(t, `{"temp":21}`, msgs[4].Content)
	require.Len(t, msgs[3].ToolCalls, 1)
	assert.Equal(t, "Paris", msgs[3].ToolCalls[0].Function.Arguments["city"])
}

func sseChunk(w io.Writer, v string) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", v)
}

func TestOpenAI_AssemblesToolCallArguments(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "text/event-stream")
		head := `{"id":"x","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`
		sseChunk(w, fmt.Sprintf(head, `{"role":"assistant","reasoning_content":"plan"}`, "null"))
		sseChunk(w, fmt.Sprintf(head, `{"content":"Let me check"}`, "null"))
		sseChunk(w, fmt.Sprintf(head, `{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"ci"}}]}`, "null"))
		sseChunk(w, fmt.Sprintf(head, `{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Paris\"}"}}]}`, "null"))
		sseChunk(w, fmt.Sprintf(head, `{}`, `"tool_calls"`))
		sseChunk(w, "[DONE]")
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "gpt"}, srv.Client(), nil)
	parts, err := collect(t, p, &Request{Messages: toolHistory(), Tools: []tools.Schema{weatherTool}, System: "sys"})
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, transcript.ReasoningPart{Text: "plan"}, parts[0])
	assert.Equal(t, transcript.TextPart{Text: "Let me check"}, parts[1])
	call, ok := parts[2].(transcript.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "call_1", call.CallID)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.JSONEq(t, `{"city":"Paris"}`, string(call.Input))

	assert.Equal(t, "gpt", got["model"])
	assert.Equal(t, true, got["stream"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	// sys, be brief, user, assistant(call), tool, assistant(text), user
	assert.Len(t, msgs, 7)
}

func TestOpenAI_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, Model: "nope"}, srv.Client(), nil)
	_, err := collect(t, p, userRequest("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai stream")
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := toOpenAIMessages("", toolHistory())
	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", msgs[2].OfAssistant.ToolCalls[0].OfFunction.ID)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[4].OfAssistant)
	assert.NotNil(t, msgs[5].OfUser)
}

func TestToOpenAIMessages_Images(t *testing.T) {
	history := []transcript.Message{{ID: "u", Role: transcript.RoleUser, Parts: []transcript.Part{
		transcript.TextPart{Text: "what is this"},
		transcript.FilePart{MediaType: "image/png", URL: transcript.DataURL("image/png", []byte{1, 2}), Filename: "a.png"},
	}}}
	msgs := toOpenAIMessages("", history)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].OfUser)
	parts := msgs[0].OfUser.Content.OfArrayOfContentParts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[1].OfImageURL)
	assert.True(t, strings.HasPrefix(parts[1].OfImageURL.ImageURL.URL, "data:image/png;base64,"))
}

func TestToAnthropicMessages(t *testing.T) {
	system, msgs := toAnthropicMessages("sys", toolHistory())
	assert.Equal(t, "sys\n\nbe brief", system)
	require.Len(t, msgs, 5)

	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "c1", msgs[1].Content[0].OfToolUse.ID)

	assert.Equal(t, "user", string(msgs[2].Role))
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "c1", msgs[2].Content[0].OfToolResult.ToolUseID)

	assert.Equal(t, "assistant", string(msgs[3].Role))
	assert.Equal(t, "user", string(msgs[4].Role))
}

func TestToAnthropicTools(t *testing.T) {
	out := toAnthropicTools([]tools.Schema{weatherTool})
	require.Len(t, out, 1)
	require.NotNil(t, out[0].OfTool)
	assert.Equal(t, "get_weather", out[0].OfTool.Name)
	assert.Equal(t, []string{"city"}, out[0].OfTool.InputSchema.Required)
	assert.Nil(t, toAnthropicTools(nil))
}

func TestToGeminiContents(t *testing.T) {
	system, contents := toGeminiContents("sys", toolHistory())
	assert.Equal(t, "sys\n\nbe brief", system)
	require.Len(t, contents, 5)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "Paris", contents[1].Parts[0].FunctionCall.Args["city"])

	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "c1", contents[2].Parts[0].FunctionResponse.ID)
	assert.Equal(t, float64(21), contents[2].Parts[0].FunctionResponse.Response["temp"])
}

func TestToGeminiContents_SendsBinaryInline(t *testing.T) {
	history := []transcript.Message{{ID: "u", Role: transcript.RoleUser, Parts: []transcript.Part{
		transcript.TextPart{Text: "summarize"},
		transcript.FilePart{MediaType: "application/pdf", URL: transcript.DataURL("application/pdf", []byte("%PDF")), Filename: "r.pdf"},
	}}}
	_, contents := toGeminiContents("", history)
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "summarize", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "application/pdf", contents[0].Parts[1].InlineData.MIMEType)
}

func TestGeminiParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "thinking", Thought: true},
			{Text: "answer"},
			{FunctionCall: &genai.FunctionCall{ID: "f1", Name: "get_weather", Args: map[string]any{"city": "Oslo"}}},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1}}},
		}},
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A"}},
			{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A again"}},
			{Web: &genai.GroundingChunkWeb{URI: "https://b.example", Title: "B"}},
		}},
	}}}

	seen := map[string]bool{}
	parts := geminiParts(resp, seen)
	require.Len(t, parts, 6)
	assert.Equal(t, transcript.ReasoningPart{Text: "thinking"}, parts[0])
	assert.Equal(t, transcript.TextPart{Text: "answer"}, parts[1])
	call := parts[2].(transcript.ToolCallPart)
	assert.Equal(t, "f1", call.CallID)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(call.Input))
	file := parts[3].(transcript.FilePart)
	assert.Equal(t, "image/png", file.MediaType)
	assert.Equal(t, transcript.SourceURLPart{URL: "https://a.example", Title: "A"}, parts[4])
	assert.Equal(t, transcript.SourceURLPart{URL: "https://b.example", Title: "B"}, parts[5])

	// Sources already reported in this generation are not repeated.
	assert.Len(t, geminiParts(resp, seen), 4)
	assert.Nil(t, geminiParts(&genai.GenerateContentResponse{}, seen))
}

func TestGeminiTools(t *testing.T) {
	withSearch := &Gemini{cfg: GeminiConfig{GoogleSearch: true}}
	out := withSearch.geminiTools(nil)
	require.Len(t, out, 1)
	assert.NotNil(t, out[0].GoogleSearch)

	out = withSearch.geminiTools([]tools.Schema{weatherTool})
	require.Len(t, out, 1)
	assert.Nil(t, out[0].GoogleSearch)
	require.Len(t, out[0].FunctionDeclarations, 1)
	assert.Equal(t, "get_weather", out[0].FunctionDeclarations[0].Name)

	assert.Nil(t, (&Gemini{}).geminiTools(nil))
}
