package mcp

import (
	"sort"
	"sync"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// ToolkitInfo summarises a toolkit.
type ToolkitInfo struct {
	ServerName    string   `json:"server_name"`
	ToolkitName   string   `json:"toolkit_name"`
	FunctionCount int      `json:"function_count"`
	Functions     []string `json:"functions"`
}

// Toolkit exposes one running server's functions to an agent, optionally
// restricted to an allow-list of function names. Names match exactly and
// case-sensitively; names the server does not expose are ignored.
type Toolkit struct {
	serverName string
	resolve    func() Session
	allowed    map[string]struct{}

	mu        sync.RWMutex
	functions map[string]tool.Tool
}

// NewToolkit wraps session. A nil or empty allowed list exposes every
// function.
func NewToolkit(serverName string, session Session, allowed []string) *Toolkit {
	return newToolkit(serverName, func() Session { return session }, allowed)
}

func newToolkit(serverName string, resolve func() Session, allowed []string) *Toolkit {
	t := &Toolkit{serverName: serverName, resolve: resolve}
	if len(allowed) > 0 {
		t.allowed = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			t.allowed[name] = struct{}{}
		}
	}
	t.ReloadFunctions()
	return t
}

// Name returns "mcp_<server>".
func (t *Toolkit) Name() string {
	return "mcp_" + t.serverName
}

func (t *Toolkit) ServerName() string {
	return t.serverName
}

// ReloadFunctions re-reads the function mapping from the current session.
func (t *Toolkit) ReloadFunctions() {
	fresh := make(map[string]tool.Tool)
	if s := t.resolve(); s != nil {
		for name, fn := range s.Functions() {
			if t.allowed != nil {
				if _, ok := t.allowed[name]; !ok {
					continue
				}
			}
			fresh[name] = fn
		}
	}

	t.mu.Lock()
	t.functions = fresh
	t.mu.Unlock()
}

// Functions returns a copy of the exposed function mapping.
func (t *Toolkit) Functions() map[string]tool.Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]tool.Tool, len(t.functions))
	for k, v := range t.functions {
		out[k] = v
	}
	return out
}

// Tools returns the exposed functions sorted by name.
func (t *Toolkit) Tools() []tool.Tool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tools := make([]tool.Tool, 0, len(t.functions))
	for _, fn := range t.functions {
		tools = append(tools, fn)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

func (t *Toolkit) FunctionNames() []string {
	return tool.Names(t.Tools())
}

func (t *Toolkit) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.functions)
}

func (t *Toolkit) Info() ToolkitInfo {
	names := t.FunctionNames()
	return ToolkitInfo{
		ServerName:    t.serverName,
		ToolkitName:   t.Name(),
		FunctionCount: len(names),
		Functions:     names,
	}
}

var _ tool.Toolset = (*Toolkit)(nil)
