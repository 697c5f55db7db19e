// Package provider adapts model backends to a single streaming interface.
//
// A Provider turns one Request (system prompt, history, tool schemas) into
// an iter.Seq2 of transcript parts. Text and reasoning arrive as deltas in
// the order the backend produces them. Tool calls arrive whole, after their
// arguments are complete.
//
// Adapters:
//
//   - Scripted replays fixed steps and records requests. NewEcho backs the
//     "scripted" kind for local runs.
//   - Ollama uses github.com/ollama/ollama/api.
//   - OpenAI uses github.com/openai/openai-go/v3 and works against any
//     OpenAI-compatible base URL.
//   - Anthropic uses github.com/anthropics/anthropic-sdk-go.
//   - Gemini uses google.golang.org/genai and can ground answers with
//     Google Search, reported as source-url parts.
//
// The transcript keeps tool results inside the assistant message that made
// the calls. Turns splits such a message back into the alternating
// assistant and tool turns the backend APIs expect.
package provider
