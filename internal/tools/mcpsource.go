// ABOUTME: Imports tools from a remote MCP server as a registry pack.
// ABOUTME: Each imported handler forwards the call over the MCP client session.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient is the subset of the mcp-go client used by MCPSource.
type MCPClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPSource is an initialized session with a remote MCP server.
type MCPSource struct {
	name   string
	client MCPClient
	logger *slog.Logger
}

// ClientName and ClientVersion identify the gateway to MCP servers.
const (
	ClientName    = "chat-gateway"
	ClientVersion = "1.0.0"
)

// DialMCP connects to a Streamable HTTP MCP server and initializes a session.
func DialMCP(ctx context.Context, name, serverURL string, logger *slog.Logger) (*MCPSource, error) {
	c, err := client.NewStreamableHttpClient(serverURL)
	if err != nil {
		return nil, fmt.Errorf("create mcp client for %s: %w", name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp transport for %s: %w", name, err)
	}
	src, err := NewMCPSource(ctx, name, c, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return src, nil
}

// NewMCPSource initializes a session over an already started client.
func NewMCPSource(ctx context.Context, name string, c MCPClient, logger *slog.Logger) (*MCPSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize mcp server %s: %w", name, err)
	}
	return &MCPSource{
		name:   name,
		client: c,
		logger: logger.With("component", "mcp-source", "server", name),
	}, nil
}

// Pack lists the server's tools and wraps each one as a Definition.
func (s *MCPSource) Pack(ctx context.Context) (*Pack, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", s.name, err)
	}

	pack := &Pack{ID: "mcp:" + s.name}
	for _, tool := range res.Tools {
		schema := tool.RawInputSchema
		if len(schema) == 0 {
			schema, err = json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("encode schema for %s: %w", tool.Name, err)
			}
		}
		pack.Tools = append(pack.Tools, &Definition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			Execute:     s.caller(tool.Name),
		})
	}
	s.logger.Info("discovered mcp tools", "tool_count", len(pack.Tools))
	return pack, nil
}

func (s *MCPSource) caller(toolName string) Handler {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var args map[string]any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
		}
		res, err := s.client.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: toolName, Arguments: args},
		})
		if err != nil {
			return nil, err
		}
		return toolOutput(res)
	}
}

// toolOutput converts an MCP result into the JSON handed back to the model.
func toolOutput(res *mcp.CallToolResult) (json.RawMessage, error) {
	var texts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if res.IsError {
		if text == "" {
			text = "remote tool failed"
		}
		return nil, errors.New(text)
	}
	if res.StructuredContent != nil {
		return json.Marshal(res.StructuredContent)
	}
	return json.Marshal(text)
}

// Close ends the MCP session.
func (s *MCPSource) Close() error {
	return s.client.Close()
}
