// ABOUTME: Base pack provides general-purpose tools: current_time and http_get.
// ABOUTME: http_get performs real network I/O bounded by the tool timeout.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/chat-gateway/internal/tools"
)

// MaxFetchBytes caps the body returned by http_get.
const MaxFetchBytes = 64 << 10

// BasePack creates the base pack with clock and fetch tools.
func BasePack(client *http.Client) *tools.Pack {
	if client == nil {
		client = http.DefaultClient
	}
	b := &baseHandlers{client: client, now: time.Now}
	return &tools.Pack{
		ID: "builtin:base",
		Tools: []*tools.Definition{
			{
				Name:        "current_time",
				Description: "Get the current date and time, optionally in an IANA timezone",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`),
				Execute:     b.CurrentTime,
			},
			{
				Name:        "http_get",
				Description: "Fetch a web page or API response over HTTP(S) and return its text",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","pattern":"^https?://"}},"required":["url"]}`),
				Execute:     b.HTTPGet,
			},
		},
	}
}

type baseHandlers struct {
	client *http.Client
	now    func() time.Time
}

type currentTimeInput struct {
	Timezone string `json:"timezone"`
}

func (b *baseHandlers) CurrentTime(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in currentTimeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	now := b.now().In(loc)

	return json.Marshal(map[string]string{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	})
}

type httpGetInput struct {
	URL string `json:"url"`
}

func (b *baseHandlers) HTTPGet(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in httpGetInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	truncated := len(body) > MaxFetchBytes
	if truncated {
		body = body[:MaxFetchBytes]
	}

	return json.Marshal(map[string]any{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         strings.ToValidUTF8(string(body), "�"),
		"truncated":    truncated,
	})
}
