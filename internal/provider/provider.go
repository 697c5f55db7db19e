// ABOUTME: Provider abstraction for model backends that stream parts.
// ABOUTME: New builds the configured adapter (scripted, ollama, openai, anthropic, gemini).

package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"

	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/tools"
	"github.com/2389/chat-gateway/internal/transcript"
)

// ErrUnknownProvider is returned by New for an unsupported kind.
var ErrUnknownProvider = errors.New("unknown provider")

// Request is one generation step.
type Request struct {
	Model     string
	System    string
	Messages  []transcript.Message
	Tools     []tools.Schema
	Reasoning bool
}

// Provider streams one generation as a sequence of parts. Text and
// reasoning arrive as deltas; tool calls arrive whole. A call without
// CallID gets one assigned by the caller. Iteration stops early when the
// consumer stops pulling; adapters must release their stream then.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) iter.Seq2[transcript.Part, error]
}

// New creates the provider selected by cfg.Kind.
func New(ctx context.Context, cfg config.ProviderConfig, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger = logger.With("component", "provider", "kind", cfg.Kind)

	switch cfg.Kind {
	case config.ProviderScripted:
		return NewEcho(), nil
	case config.ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model, httpClient, logger)
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}, httpClient, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			MaxTokens:      cfg.MaxTokens,
			ThinkingBudget: cfg.ThinkingBudget,
		}, httpClient, logger), nil
	case config.ProviderGemini:
		return NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model, GoogleSearch: cfg.GoogleSearch}, httpClient, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Kind)
	}
}
