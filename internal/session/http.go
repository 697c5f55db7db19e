// ABOUTME: HTTP transport posting chat requests to the gateway and decoding the streamed reply.
// ABOUTME: Non-2xx responses become *HTTPError carrying the gateway's error body.

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/chat-gateway/internal/wire"
)

// ChatPath is the gateway's chat endpoint.
const ChatPath = "/api/chat"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// HTTPError is a non-2xx response from the gateway.
type HTTPError struct {
	Status  int
	Message string
	Details string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("gateway returned %d", e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// HTTPTransport streams chat requests over HTTP.
type HTTPTransport struct {
	BaseURL string
	Client  *http.Client
	Format  wire.Format
}

// NewHTTPTransport creates a transport for the gateway at baseURL. A nil
// client uses http.DefaultClient.
func NewHTTPTransport(baseURL string, client *http.Client, format wire.Format) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if format == "" {
		format = wire.FormatNDJSON
	}
	return &HTTPTransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: client, Format: format}
}

// Stream posts req and returns a stream of decoded events.
func (t *HTTPTransport) Stream(ctx context.Context, req *wire.ChatRequest) (EventStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", t.Format.ContentType())

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, readHTTPError(resp)
	}

	format := wire.FormatFromContentType(resp.Header.Get("Content-Type"))
	return &httpStream{body: resp.Body, dec: wire.NewDecoder(resp.Body, format)}, nil
}

// CancelRemote asks the gateway to stop the request with the given ID.
func (t *HTTPTransport) CancelRemote(ctx context.Context, requestID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.BaseURL+ChatPath+"/"+url.PathEscape(requestID), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readHTTPError(resp)
	}
	return nil
}

func readHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	herr := &HTTPError{Status: resp.StatusCode}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		herr.Message = body.Error
		herr.Details = body.Details
	} else {
		herr.Message = strings.TrimSpace(string(data))
	}
	return herr
}

type httpStream struct {
	body io.ReadCloser
	dec  *wire.Decoder
}

func (s *httpStream) Next() (wire.Event, error) {
	return s.dec.Next()
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
