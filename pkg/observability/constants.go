package observability

const (
	AttrServiceName    = "service.name"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
	AttrServerName     = "mcp.server"
	AttrFunctionCount  = "mcp.function_count"
	AttrLLMProvider    = "llm.provider"
	AttrLLMModel       = "llm.model"
	AttrToolName       = "tool.name"
	AttrErrorType      = "error.type"
	AttrTraceID        = "trace.id"

	SpanHTTPRequest    = "http.request"
	SpanServerStart    = "mcp.server_start"
	SpanServerReload   = "mcp.server_reload"
	SpanReloadAll      = "mcp.reload_all"
	SpanLLMRequest     = "llm.request"
	SpanToolExecution  = "agent.tool_execution"
	SpanAgentRun       = "agent.run"

	DefaultServiceName = "mcp-league-backend"

	instrumentationName = "github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter"
)
