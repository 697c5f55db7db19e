// ABOUTME: Tests for the chat-cli REPL and renderer against a stub gateway
// ABOUTME: Input lines and interrupts are fed through channels

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/transcript"
	"github.com/2389/chat-gateway/internal/wire"
)

// stubGateway answers chat requests with a scripted reply and records them.
type stubGateway struct {
	mu        sync.Mutex
	requests  []wire.ChatRequest
	cancelled []string
	reply     func(w http.ResponseWriter, r *http.Request, enc *wire.Encoder)
}

func (s *stubGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req wire.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		s.reply(w, r, wire.NewEncoder(w, wire.FormatNDJSON))
	})
	mux.HandleFunc("DELETE /api/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.cancelled = append(s.cancelled, r.PathValue("id"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *stubGateway) Requests() []wire.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.ChatRequest(nil), s.requests...)
}

func (s *stubGateway) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func echoReply(_ http.ResponseWriter, r *http.Request, enc *wire.Encoder) {
	_ = enc.Encode(wire.Start("m1"))
	_ = enc.Encode(wire.Event{Type: wire.TypeReasoningDelta, Delta: "thinking"})
	_ = enc.Encode(wire.Event{Type: wire.TypeToolCall, ToolCallID: "c1", ToolName: "add", Input: json.RawMessage(`{"a": 2, "b": 2}`)})
	_ = enc.Encode(wire.Event{Type: wire.TypeToolResult, ToolCallID: "c1", Output: json.RawMessage(`{"sum":4}`)})
	_ = enc.Encode(wire.Event{Type: wire.TypeTextDelta, Delta: "2+2 is "})
	_ = enc.Encode(wire.Event{Type: wire.TypeTextDelta, Delta: "4"})
	_ = enc.Encode(wire.Finish(wire.FinishComplete, 2))
}

type harness struct {
	gw    *stubGateway
	repl  *repl
	lines chan string
	sigs  chan os.Signal
	out   *bytes.Buffer
}

func newHarness(t *testing.T, reply func(http.ResponseWriter, *http.Request, *wire.Encoder), mutate ...func(*Config)) *harness {
	t.Helper()
	gw := &stubGateway{reply: reply}
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml"), false)
	require.NoError(t, err)
	cfg.Gateway.URL = srv.URL
	for _, m := range mutate {
		m(cfg)
	}

	sc := cfg.SessionConfig(session.NewHTTPTransport(srv.URL, srv.Client(), wire.FormatNDJSON))
	sc.Logger = slog.New(slog.DiscardHandler)
	ctrl, err := session.New(sc)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	h := &harness{
		gw:    gw,
		lines: make(chan string, 8),
		sigs:  make(chan os.Signal, 1),
		out:   &bytes.Buffer{},
	}
	h.repl = &repl{
		ctrl:   ctrl,
		events: ctrl.Subscribe(t.Context()),
		lines:  h.lines,
		sigs:   h.sigs,
		out:    newRenderer(h.out, false),
		prompt: func() {},
	}
	return h
}

// run feeds lines, then runs the loop until it returns.
func (h *harness) run(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		h.lines <- l
	}
	done := make(chan error, 1)
	go func() { done <- h.repl.loop(t.Context()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("repl did not exit")
	}
}

func TestREPL_RendersResponse(t *testing.T) {
	h := newHarness(t, echoReply)
	h.run(t, "2+2?", "/quit")

	out := h.out.String()
	assert.Contains(t, out, "thinking\n")
	assert.Contains(t, out, `⚙ add({"a": 2, "b": 2})`)
	assert.Contains(t, out, `→ {"sum":4}`)
	assert.Contains(t, out, "2+2 is 4\n")

	reqs := h.gw.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "2+2?", reqs[0].Messages[0].Text())

	msgs := h.repl.ctrl.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, transcript.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].Sealed)
}

func TestREPL_HistoryAndReset(t *testing.T) {
	h := newHarness(t, echoReply)
	h.run(t, "first", "second", "/reset", "third", "/quit")

	reqs := h.gw.Requests()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, reqs[0].ConversationID, reqs[1].ConversationID)
	assert.Len(t, reqs[2].Messages, 1)
	assert.NotEqual(t, reqs[1].ConversationID, reqs[2].ConversationID)
	assert.Contains(t, h.out.String(), "conversation cleared")
}

func TestREPL_Attach(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(img, []byte("\x89PNG\r\n\x1a\nrest"), 0o600))

	h := newHarness(t, echoReply)
	h.run(t, "/attach "+filepath.Join(dir, "missing.png"), "/attach "+img, "what is this?", "/quit")

	out := h.out.String()
	assert.Contains(t, out, "error: read attachment")
	assert.Contains(t, out, "attached photo.png (image/png")

	reqs := h.gw.Requests()
	require.Len(t, reqs, 1)
	parts := reqs[0].Messages[0].Parts
	require.Len(t, parts, 2)
	file, ok := parts[1].(transcript.FilePart)
	require.True(t, ok)
	assert.Equal(t, "image/png", file.MediaType)
	assert.Equal(t, "photo.png", file.Filename)
	assert.Contains(t, file.URL, "data:image/png;base64,")
}

func TestREPL_PayloadTooLargeDropsAttachments(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte{0}, 2048), 0o600))

	h := newHarness(t, echoReply, func(cfg *Config) { cfg.Chat.MaxPayloadBytes = 1024 })
	h.run(t, "/attach "+big, "look", "look again", "/quit")

	out := h.out.String()
	assert.Contains(t, out, "payload too large")
	assert.Contains(t, out, "attachments dropped")
	assert.Len(t, h.gw.Requests(), 1)
}

func TestREPL_InterruptCancels(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request, enc *wire.Encoder) {
		_ = enc.Encode(wire.Start("m1"))
		_ = enc.Encode(wire.Event{Type: wire.TypeTextDelta, Delta: "1 2 "})
		close(started)
		<-r.Context().Done()
	})

	go func() {
		<-started
		// Interrupt once the delta has been applied.
		for {
			msgs := h.repl.ctrl.Transcript()
			if len(msgs) == 2 && msgs[1].Text() == "1 2 " {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		h.sigs <- os.Interrupt
	}()
	h.run(t, "count to five", "/quit")

	out := h.out.String()
	assert.Contains(t, out, "1 2 \n")
	assert.Contains(t, out, "[cancelled]")
	assert.Equal(t, session.StatusReady, h.repl.ctrl.Status())
	assert.Eventually(t, func() bool { return len(h.gw.Cancelled()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestREPL_DoubleInterruptWhileIdleExits(t *testing.T) {
	h := newHarness(t, echoReply)

	done := make(chan error, 1)
	go func() { done <- h.repl.loop(t.Context()) }()

	h.sigs <- os.Interrupt
	h.sigs <- os.Interrupt

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("repl did not exit")
	}
	assert.Contains(t, h.out.String(), "press Ctrl+C again")
	assert.Empty(t, h.gw.Requests())
}

func TestREPL_ErrorsAndStepLimit(t *testing.T) {
	t.Run("remote error", func(t *testing.T) {
		h := newHarness(t, func(_ http.ResponseWriter, _ *http.Request, enc *wire.Encoder) {
			_ = enc.Encode(wire.Start("m1"))
			_ = enc.Encode(wire.ErrorEvent("model overloaded"))
		})
		h.run(t, "hi", "/quit")
		assert.Contains(t, h.out.String(), "error: ")
		assert.Contains(t, h.out.String(), "model overloaded")
	})

	t.Run("step limit", func(t *testing.T) {
		h := newHarness(t, func(_ http.ResponseWriter, _ *http.Request, enc *wire.Encoder) {
			_ = enc.Encode(wire.Start("m1"))
			_ = enc.Encode(wire.Event{Type: wire.TypeToolCall, ToolCallID: "c1", ToolName: "loop"})
			_ = enc.Encode(wire.Event{Type: wire.TypeToolResult, ToolCallID: "c1", Output: json.RawMessage(`null`)})
			_ = enc.Encode(wire.Finish(wire.FinishStepLimit, 1))
		})
		h.run(t, "hi", "/quit")
		assert.Contains(t, h.out.String(), "[stopped at step limit]")
	})

	t.Run("unknown command", func(t *testing.T) {
		h := newHarness(t, echoReply)
		h.run(t, "/frobnicate", "/quit")
		assert.Contains(t, h.out.String(), "unknown command /frobnicate")
	})
}

func TestRenderer_ToolError(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf, false)

	r.Part(transcript.TextPart{Text: "checking"})
	r.Part(transcript.ToolResultPart{CallID: "c1", Error: &transcript.ErrorPayload{Code: transcript.CodeToolTimeout, Message: "slow"}})
	r.Part(transcript.SourceURLPart{URL: "https://example.com"})
	r.Outcome(session.StatusReady, nil, nil)

	assert.Equal(t, "checking\n  ✗ "+transcript.CodeToolTimeout+": slow\n[source] https://example.com <https://example.com>\n", buf.String())
}

func TestParseCommand(t *testing.T) {
	cmd, arg, ok := parseCommand("/attach  ./notes.txt ")
	assert.True(t, ok)
	assert.Equal(t, "attach", cmd)
	assert.Equal(t, "./notes.txt", arg)

	_, _, ok = parseCommand("hello /attach")
	assert.False(t, ok)
}
