// Package mcp exposes the gateway's tool registry as an MCP server.
//
// # Overview
//
// External agents speaking the Model Context Protocol can list and call the
// same tools the agent loop offers to models. The server is built on
// mark3labs/mcp-go and served over the Streamable HTTP transport at the
// configured path (default /mcp):
//
//	srv, err := mcp.NewServer(mcp.Config{Registry: reg, Path: "/mcp"})
//	srv.RegisterRoutes(mux)
//
// The registry must be frozen first; the tool list is fixed when the server
// is created.
//
// # Tool Calls
//
// tools/call arguments are validated against the tool's input schema and
// run through Registry.Execute under the tool's timeout. Failures come back
// as error results whose text is {"error":{"code":...,"message":...}}, using
// the same codes the agent loop records in the transcript. Object outputs
// are also returned as structured content.
//
// Stateful tools see a conversation ID of "mcp:<session-id>", so notes
// written over one MCP session are not visible to chat conversations.
package mcp
