// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcp supervises Model Context Protocol tool servers: it loads
// their descriptors, launches one stdio process per server, reloads and
// shuts them down, and adapts their functions into toolkits an agent can
// call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// Session is a live tool-server process.
type Session interface {
	// Functions returns the server's callable functions keyed by name.
	Functions() map[string]tool.Tool

	// Close terminates the process.
	Close() error
}

// GracefulSession is implemented by sessions that support a bounded exit
// handshake. Teardown prefers it over Close.
type GracefulSession interface {
	Session
	Shutdown(ctx context.Context) error
}

// Launcher starts tool-server processes.
type Launcher interface {
	Launch(ctx context.Context, params ServerParams) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, params ServerParams) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, params ServerParams) (Session, error) {
	return f(ctx, params)
}

const protocolVersion = "2024-11-05"

// StdioLauncher launches servers as child processes speaking MCP over
// stdin/stdout.
type StdioLauncher struct {
	ClientName    string
	ClientVersion string
}

func (l StdioLauncher) Launch(ctx context.Context, p ServerParams) (Session, error) {
	argv := p.CommandLine()
	if len(argv) == 0 {
		return nil, fmt.Errorf("server %q has an empty command", p.Name)
	}

	if p.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout())
		defer cancel()
	}

	c, err := client.NewStdioMCPClient(argv[0], envList(p.Env), argv[1:]...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcpproto.InitializeRequest{}
	initReq.Params.ClientInfo = mcpproto.Implementation{
		Name:    l.clientName(),
		Version: l.ClientVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	s := &stdioSession{name: p.Name, client: c, functions: make(map[string]tool.Tool, len(listResp.Tools))}
	for _, t := range listResp.Tools {
		s.functions[t.Name] = &remoteFunction{
			session: s,
			name:    t.Name,
			desc:    t.Description,
			schema:  convertSchema(t.InputSchema),
		}
	}

	slog.Debug("Connected to MCP server", "server", p.Name, "command", p.FullCommand(), "functions", len(s.functions))
	return s, nil
}

func (l StdioLauncher) clientName() string {
	if l.ClientName == "" {
		return "mcp-league-backend"
	}
	return l.ClientName
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

type stdioSession struct {
	name      string
	functions map[string]tool.Tool

	mu     sync.Mutex
	client *client.Client
}

func (s *stdioSession) Functions() map[string]tool.Tool {
	return s.functions
}

func (s *stdioSession) conn() (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, fmt.Errorf("MCP server %q is closed", s.name)
	}
	return s.client, nil
}

func (s *stdioSession) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.Close()
}

// Shutdown closes the client, giving up once ctx is done. The process may
// still be exiting when Shutdown returns with ctx.Err().
func (s *stdioSession) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("MCP server %q did not exit in time: %w", s.name, ctx.Err())
	}
}

type remoteFunction struct {
	session *stdioSession
	name    string
	desc    string
	schema  map[string]any
}

func (f *remoteFunction) Name() string           { return f.name }
func (f *remoteFunction) Description() string    { return f.desc }
func (f *remoteFunction) Schema() map[string]any { return f.schema }

func (f *remoteFunction) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	c, err := f.session.conn()
	if err != nil {
		return nil, err
	}

	req := mcpproto.CallToolRequest{}
	req.Params.Name = f.name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call %s failed: %w", f.name, err)
	}
	return parseToolResult(resp), nil
}

func parseToolResult(resp *mcpproto.CallToolResult) map[string]any {
	var texts []string
	for _, content := range resp.Content {
		if text, ok := content.(mcpproto.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}

	result := make(map[string]any)
	switch {
	case resp.IsError && len(texts) > 0:
		result["error"] = texts[0]
	case resp.IsError:
		result["error"] = "unknown error"
	case len(texts) == 1:
		result["result"] = texts[0]
	case len(texts) > 1:
		result["results"] = texts
	}
	return result
}

func convertSchema(schema mcpproto.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
