// Package config handles configuration loading for chat-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. Missing values get defaults, then the result is validated.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  api_key: "${GEMINI_API_KEY}"
//
// Unset variables expand to an empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	server:
//	  request_timeout: "180s"
//	tools:
//	  timeout: "30s"
//	dedupe:
//	  ttl: "5m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":8080"             # chat API, health, MCP
//	  grpc_addr: ""                  # grpc.health.v1 service, off when empty
//	  max_request_bytes: 67108864
//	  request_timeout: "180s"
//	  shutdown_timeout: "10s"
//	  cors_origins: ["*"]
//
//	tailscale:
//	  enabled: false
//	  hostname: "chat-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	provider:
//	  kind: "gemini"                 # scripted, ollama, openai, anthropic, gemini
//	  model: "gemini-2.5-flash"
//	  api_key: "${GEMINI_API_KEY}"
//	  base_url: ""                   # ollama host or OpenAI-compatible endpoint
//	  google_search: true
//
//	agent:
//	  step_limit: 5
//	  max_step_limit: 20
//	  system_prompt: ""
//	  reasoning: false
//
//	tools:
//	  timeout: "30s"
//	  builtins: ["base", "notes"]
//	  notes:
//	    path: ":memory:"
//	  mcp_servers:
//	    - name: "search"
//	      url: "http://localhost:9000/mcp"
//
//	mcp:
//	  enabled: false
//	  path: "/mcp"
//
//	dedupe:
//	  ttl: "5m"
//	  max_size: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/chat-gateway/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
