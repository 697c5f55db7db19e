// ABOUTME: Tests for the MCP server including tool listing and execution.
// ABOUTME: Covers in-process calls, error results and a Streamable HTTP round trip.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/tools"
)

type seenIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *seenIDs) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

func (s *seenIDs) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func setupTestRegistry(t *testing.T, seen *seenIDs) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(tools.Options{DefaultTimeout: time.Second})
	err := reg.RegisterPack(&tools.Pack{
		ID: "test-pack",
		Tools: []*tools.Definition{
			{
				Name:        "echo",
				Description: "Echo the input back",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
				Execute: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
					if seen != nil {
						seen.add(tools.ConversationID(ctx))
					}
					return input, nil
				},
			},
			{
				Name:        "count",
				Description: "Return a bare number",
				Execute: func(context.Context, json.RawMessage) (json.RawMessage, error) {
					return json.RawMessage(`42`), nil
				},
			},
			{
				Name:        "broken",
				Description: "Always fails",
				Execute: func(context.Context, json.RawMessage) (json.RawMessage, error) {
					return nil, errors.New("disk on fire")
				},
			},
		},
	})
	require.NoError(t, err)
	reg.Freeze()
	return reg
}

func newInProcessClient(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	c, err := client.NewInProcessClient(srv.MCPServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(t.Context()))
	_, err = c.Initialize(t.Context(), mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "test", Version: "0.0.1"},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func callText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestNewServer_Validation(t *testing.T) {
	t.Run("nil registry", func(t *testing.T) {
		_, err := NewServer(Config{})
		require.Error(t, err)
	})

	t.Run("unfrozen registry", func(t *testing.T) {
		_, err := NewServer(Config{Registry: tools.NewRegistry(tools.Options{})})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frozen")
	})

	t.Run("default path", func(t *testing.T) {
		srv, err := NewServer(Config{Registry: setupTestRegistry(t, nil)})
		require.NoError(t, err)
		assert.Equal(t, DefaultPath, srv.Path())
	})
}

func TestServer_ListTools(t *testing.T) {
	srv, err := NewServer(Config{Registry: setupTestRegistry(t, nil)})
	require.NoError(t, err)
	c := newInProcessClient(t, srv)

	res, err := c.ListTools(t.Context(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"broken", "count", "echo"}, names)

	for _, tool := range res.Tools {
		if tool.Name == "echo" {
			assert.Equal(t, "Echo the input back", tool.Description)
			assert.Equal(t, "object", tool.InputSchema.Type)
			assert.Equal(t, []string{"text"}, tool.InputSchema.Required)
		}
	}
}

func TestServer_CallTool(t *testing.T) {
	seen := &seenIDs{}
	srv, err := NewServer(Config{Registry: setupTestRegistry(t, seen)})
	require.NoError(t, err)
	c := newInProcessClient(t, srv)

	call := func(name string, args any) *mcp.CallToolResult {
		res, err := c.CallTool(t.Context(), mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: name, Arguments: args},
		})
		require.NoError(t, err)
		return res
	}

	t.Run("object output is structured", func(t *testing.T) {
		res := call("echo", map[string]any{"text": "hi"})
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{"text":"hi"}`, callText(t, res))
		assert.Equal(t, map[string]any{"text": "hi"}, res.StructuredContent)
	})

	t.Run("scalar output is text", func(t *testing.T) {
		res := call("count", nil)
		assert.False(t, res.IsError)
		assert.Equal(t, "42", callText(t, res))
		assert.Nil(t, res.StructuredContent)
	})

	t.Run("schema violation", func(t *testing.T) {
		res := call("echo", map[string]any{"text": 7})
		assert.True(t, res.IsError)
		assert.Contains(t, callText(t, res), `"code":"schema_error"`)
	})

	t.Run("handler error", func(t *testing.T) {
		res := call("broken", map[string]any{})
		assert.True(t, res.IsError)
		text := callText(t, res)
		assert.Contains(t, text, `"code":"tool_error"`)
		assert.Contains(t, text, "disk on fire")
	})

	t.Run("conversation scoped to session", func(t *testing.T) {
		ids := seen.all()
		require.NotEmpty(t, ids)
		for _, id := range ids {
			assert.True(t, strings.HasPrefix(id, "mcp:"), id)
		}
	})
}

func TestServer_StreamableHTTP(t *testing.T) {
	srv, err := NewServer(Config{Registry: setupTestRegistry(t, nil), Path: "/tools/mcp"})
	require.NoError(t, err)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	src, err := tools.DialMCP(ctx, "self", ts.URL+"/tools/mcp", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	pack, err := src.Pack(ctx)
	require.NoError(t, err)
	require.Len(t, pack.Tools, 3)

	imported := tools.NewRegistry(tools.Options{})
	require.NoError(t, imported.RegisterPack(pack))
	imported.Freeze()

	out, err := imported.Execute(ctx, "echo", json.RawMessage(`{"text":"over the wire"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"over the wire"}`, string(out))

	_, err = imported.Execute(ctx, "broken", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
