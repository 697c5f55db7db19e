// Package gateway serves the chat HTTP API.
//
// # Overview
//
// The gateway package is the central coordinator of the chat-gateway
// server. It owns the model provider, the frozen tool registry, the
// replay cache and the HTTP, gRPC health and MCP servers.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    provider   provider.Provider
//	    registry   *tools.Registry
//	    dedupe     *dedupe.Cache
//	    httpServer *http.Server
//	    grpcServer *grpc.Server
//	    mcpServer  *mcp.Server
//	    // ... and more
//	}
//
// # HTTP API
//
//   - POST /api/chat - Run one user turn (NDJSON or SSE streaming response)
//   - DELETE /api/chat/{id} - Cancel an in-flight turn
//   - GET /api/tools - List registered tool schemas
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//   - /mcp - Registry exposed as an MCP server, when enabled
//
// # Streaming
//
// The response format follows the Accept header. Each event is one line
// of NDJSON, or one SSE frame:
//
//	{"type":"start","messageId":"..."}
//	{"type":"text-delta","delta":"Hello"}
//	{"type":"tool-call","toolCallId":"call_1","toolName":"add","input":{"a":2,"b":2}}
//	{"type":"tool-result","toolCallId":"call_1","output":{"sum":4}}
//	{"type":"finish","status":"complete","steps":2}
//
// A failed turn ends with an error event and no finish.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Canceling the context shuts down gracefully: in-flight turns are
// canceled, then the servers stop and MCP sessions and the note store
// are closed.
//
// # Key Files
//
//   - gateway.go: Gateway struct, listeners, Run/Shutdown
//   - api.go: chat handlers and streaming
//   - toolset.go: registry construction from built-in packs and MCP servers
//   - middleware.go: CORS and request logging
package gateway
