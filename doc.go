// Package league is the conversation backend of the MCP league starter.
//
// It serves a chat API backed by a file-based model registry and a set of
// supervised MCP tool servers whose functions the model may call.
//
// # Quick Start
//
// Register a model and start the server:
//
//	export OPENAI_API_KEY=sk-...
//	league serve --config config.yaml
//
// Send a conversation:
//
//	curl -s localhost:8080/api/v1/conversation \
//	  -d '{"conversationId":"c1","history":[{"role":"user","content":"hi"}]}'
//
// # Packages
//
//   - pkg/llm: model registry, provider factory and agent factory
//   - pkg/mcp: tool-server descriptors, supervision and toolkits
//   - pkg/agent: the tool-calling conversation loop
//   - pkg/usecase: conversation, model and tool-server use cases
//   - pkg/server: HTTP transport
package league
