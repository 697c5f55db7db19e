// ABOUTME: HTTP API handlers for the streaming chat endpoint.
// ABOUTME: Runs the agent loop per request and streams its parts as NDJSON or SSE events.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/agentloop"
	"github.com/2389/chat-gateway/internal/transcript"
	"github.com/2389/chat-gateway/internal/wire"
)

// ToolInfoResponse is one entry of the GET /api/tools response.
type ToolInfoResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// activeRequests maps chat request IDs to the cancel func of their loop.
type activeRequests struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newActiveRequests() *activeRequests {
	return &activeRequests{cancels: make(map[string]context.CancelFunc)}
}

func (a *activeRequests) add(id string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels[id] = cancel
}

func (a *activeRequests) remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cancels, id)
}

// cancel cancels the request with the given ID and reports whether it was active.
func (a *activeRequests) cancel(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cancel, ok := a.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

func (a *activeRequests) cancelAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, cancel := range a.cancels {
		cancel()
	}
}

func (a *activeRequests) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cancels)
}

// encoderSink streams loop output to the response as wire events.
type encoderSink struct {
	enc *wire.Encoder
}

func (s *encoderSink) Start(messageID string) error {
	return s.enc.Encode(wire.Start(messageID))
}

func (s *encoderSink) Part(p transcript.Part) error {
	ev, err := wire.EventFromPart(p)
	if err != nil {
		return err
	}
	return s.enc.Encode(ev)
}

// handleChat runs the agent loop for one user turn and streams the result.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, g.config.Server.MaxRequestBytes)

	var req wire.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request too large",
				fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !g.dedupe.Claim(req.ID) {
		g.logger.Warn("duplicate chat request", "request_id", req.ID)
		g.sendJSONError(w, http.StatusConflict, "duplicate request", "request "+req.ID+" was already processed")
		return
	}

	reg, err := g.registry.Subset(req.AllowedTools())
	if err != nil {
		g.dedupe.Release(req.ID)
		g.sendJSONError(w, http.StatusBadRequest, "invalid tool configuration", err.Error())
		return
	}

	loop, err := agentloop.New(agentloop.Config{
		Provider:       g.provider,
		Registry:       reg,
		StepLimit:      g.stepLimit(req.StepLimit),
		Model:          g.config.Provider.Model,
		System:         req.SystemPrompt(g.config.Agent.SystemPrompt),
		Reasoning:      req.Reasoning || g.config.Agent.Reasoning,
		ConversationID: req.Conversation(),
		Logger:         g.logger,
	})
	if err != nil {
		g.dedupe.Release(req.ID)
		g.logger.Error("failed to create agent loop", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.Server.RequestTimeout)
	defer cancel()
	g.active.add(req.ID, cancel)
	defer g.active.remove(req.ID)

	format := wire.NegotiateFormat(r.Header.Get("Accept"))
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-Id", req.ID)
	w.WriteHeader(http.StatusOK)

	enc := wire.NewEncoder(w, format)
	start := time.Now()
	g.logger.Info("→ chat request",
		"request_id", req.ID,
		"messages", len(req.Messages),
		"tools", reg.Len(),
		"step_limit", loop.StepLimit(),
		"format", format,
	)

	res, err := loop.Run(ctx, req.Messages, &encoderSink{enc: enc})
	if err != nil {
		g.logger.Warn("chat request failed",
			"request_id", req.ID,
			"elapsed", time.Since(start),
			"error", err,
		)
		if encErr := enc.Encode(wire.ErrorEvent(errorText(ctx, err))); encErr != nil {
			g.logger.Debug("client gone before error event", "request_id", req.ID, "error", encErr)
		}
		return
	}

	if err := enc.Encode(wire.Finish(wire.FinishStatus(res.Status), res.Steps)); err != nil {
		g.logger.Debug("client gone before finish", "request_id", req.ID, "error", err)
		return
	}
	g.logger.Info("← chat request complete",
		"request_id", req.ID,
		"status", res.Status,
		"steps", res.Steps,
		"elapsed", time.Since(start),
	)
}

// stepLimit applies the configured default and ceiling to a requested limit.
func (g *Gateway) stepLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = g.config.Agent.StepLimit
	}
	return min(limit, g.config.Agent.MaxStepLimit)
}

// errorText is the text of the error event ending a failed response.
func errorText(ctx context.Context, err error) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return err.Error()
	}
}

// handleCancel cancels an in-flight chat request by ID.
func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !g.active.cancel(id) {
		g.sendJSONError(w, http.StatusNotFound, "request not found", "no active request "+id)
		return
	}
	g.logger.Info("chat request cancelled by client", "request_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListTools returns the schemas of every registered tool.
func (g *Gateway) handleListTools(w http.ResponseWriter, _ *http.Request) {
	schemas := g.registry.Schemas()
	out := make([]ToolInfoResponse, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, ToolInfoResponse(s))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tools": out})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the registry is frozen and a provider is configured.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !g.registry.Frozen() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("tool registry not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (provider %s, %d tools, %d active)", g.provider.Name(), g.registry.Len(), g.active.len())
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message, details string) {
	body := map[string]string{"error": message}
	if details != "" {
		body["details"] = details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var _ agentloop.Sink = (*encoderSink)(nil)
