// Package tools provides the tool registry used by the agent loop.
//
// # Overview
//
// A tool is a named capability with a JSON Schema for its input and a
// handler. Tools are registered individually or in packs:
//
//	reg := tools.NewRegistry(tools.Options{Logger: logger})
//	reg.RegisterPack(builtins.BasePack(httpClient))
//	reg.Freeze()
//
// After Freeze the registry is read-only and is shared by every concurrent
// tool execution. Subset derives a frozen registry restricted to an
// allow-list, which is how a chat request narrows the available tools.
//
// # Validation
//
// Input schemas are compiled once at registration with
// santhosh-tekuri/jsonschema. ValidateInput returns a *SchemaError (matching
// ErrSchema) when a candidate input is rejected.
//
// # Execution
//
// Execute validates and then runs the handler under a per-tool timeout
// (Definition.Timeout, falling back to the registry default of 30s). A
// deadline overrun yields ErrToolTimeout even if the handler never returns.
//
// # MCP
//
// MCPSource imports the tools of a remote MCP server as a Pack whose
// handlers forward to CallTool.
package tools
