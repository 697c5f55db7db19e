// ABOUTME: MCP server exposing the gateway's tool registry to external agents.
// ABOUTME: Serves the Streamable HTTP transport through mcp-go and runs calls via the registry.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/chat-gateway/internal/agentloop"
	"github.com/2389/chat-gateway/internal/tools"
)

// Server identity reported in initialize responses.
const (
	ServerName    = "chat-gateway"
	ServerVersion = "1.0.0"
	DefaultPath   = "/mcp"
)

// Config holds configuration for the MCP server.
type Config struct {
	Registry *tools.Registry
	Path     string
	Version  string
	Logger   *slog.Logger
}

// Server publishes every registry tool over MCP.
type Server struct {
	registry *tools.Registry
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
	path     string
	logger   *slog.Logger
}

// NewServer creates an MCP server for a frozen registry.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if !cfg.Registry.Frozen() {
		return nil, errors.New("registry must be frozen before it is served")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	version := cfg.Version
	if version == "" {
		version = ServerVersion
	}

	s := &Server{
		registry: cfg.Registry,
		path:     path,
		logger:   logger.With("component", "mcp"),
	}
	s.mcp = server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, schema := range cfg.Registry.Schemas() {
		tool := mcp.NewToolWithRawSchema(schema.Name, schema.Description, schema.InputSchema)
		s.mcp.AddTool(tool, s.handleToolCall(schema.Name))
	}
	s.http = server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(path))

	s.logger.Info("mcp server ready", "path", path, "tool_count", cfg.Registry.Len())
	return s, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(s.path, s.http)
}

// Path returns the endpoint path.
func (s *Server) Path() string { return s.path }

// MCPServer returns the underlying mcp-go server, for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// handleToolCall returns the mcp-go handler for one registry tool. Tool
// failures are reported inside the result so the caller's model can see them.
func (s *Server) handleToolCall(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := callInput(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		requestID := uuid.New().String()
		ctx = tools.WithConversationID(ctx, conversationID(ctx, requestID))

		s.logger.Debug("→ tools/call", "tool_name", name, "request_id", requestID)
		start := time.Now()

		output, err := s.registry.Execute(ctx, name, input)
		if err != nil {
			payload := agentloop.ErrorPayload(err)
			s.logger.Warn("tools/call failed",
				"tool_name", name,
				"request_id", requestID,
				"code", payload.Code,
				"error", err,
			)
			text, _ := json.Marshal(map[string]any{"error": payload})
			return mcp.NewToolResultError(string(text)), nil
		}

		s.logger.Debug("← tools/call complete",
			"tool_name", name,
			"request_id", requestID,
			"elapsed", time.Since(start),
		)

		var structured any
		if err := json.Unmarshal(output, &structured); err == nil {
			if _, isObject := structured.(map[string]any); isObject {
				return mcp.NewToolResultStructured(structured, string(output)), nil
			}
		}
		return mcp.NewToolResultText(string(output)), nil
	}
}

// callInput re-encodes the request arguments as the JSON the registry validates.
func callInput(req mcp.CallToolRequest) (json.RawMessage, error) {
	args := req.GetRawArguments()
	if args == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		if len(raw) == 0 || string(raw) == "null" {
			return json.RawMessage(`{}`), nil
		}
		return raw, nil
	}
	input, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	return input, nil
}

// conversationID scopes stateful tools to the MCP session, or to the single
// call when no session is attached.
func conversationID(ctx context.Context, requestID string) string {
	if session := server.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
		return "mcp:" + session.SessionID()
	}
	return "mcp:" + requestID
}
