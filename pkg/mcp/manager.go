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

package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

// ParamsSource supplies descriptors to the Manager. *ParamsManager is the
// production implementation.
type ParamsSource interface {
	Settings() Settings
	DefaultParams() []ServerParams
	ValidateConfig(p *ServerParams) bool
	CheckEnvironmentRequirements(ctx context.Context) map[string]bool
}

// ServerStatus describes one running server.
type ServerStatus struct {
	Connected     bool     `json:"connected"`
	FunctionCount int      `json:"function_count"`
	Functions     []string `json:"functions"`
	Description   string   `json:"description"`
}

// SystemStatus aggregates the state of all running servers.
type SystemStatus struct {
	Initialized      bool                    `json:"initialized"`
	Servers          map[string]ServerStatus `json:"servers"`
	TotalServers     int                     `json:"total_servers"`
	TotalFunctions   int                     `json:"total_functions"`
	AvailableServers []string                `json:"available_servers,omitempty"`
	Message          string                  `json:"message,omitempty"`
}

// ReloadResult is the outcome of reloading one server.
type ReloadResult struct {
	ServerName string `json:"server_name"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// ReloadAllResult is the outcome of a bulk reload.
type ReloadAllResult struct {
	Success       bool           `json:"success"`
	ReloadedCount int            `json:"reloaded_count"`
	FailedCount   int            `json:"failed_count"`
	Results       []ReloadResult `json:"results"`
}

// state is an immutable snapshot. Mutators build a new one under mu and
// publish it atomically; readers load it without locking.
type state struct {
	servers     map[string]Session
	configs     []ServerParams
	initialized bool
}

func (s *state) cloneServers() map[string]Session {
	out := make(map[string]Session, len(s.servers))
	for k, v := range s.servers {
		out[k] = v
	}
	return out
}

// Manager supervises running tool servers. Construct one per process and
// share it.
type Manager struct {
	params          ParamsSource
	launcher        Launcher
	metrics         *observability.Metrics
	tracer          trace.Tracer
	teardownTimeout time.Duration

	mu    sync.Mutex
	state atomic.Pointer[state]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithMetrics(m *observability.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

func WithTracer(t trace.Tracer) ManagerOption {
	return func(mgr *Manager) {
		mgr.tracer = t
	}
}

// WithTeardownTimeout bounds the graceful exit of each server.
func WithTeardownTimeout(d time.Duration) ManagerOption {
	return func(mgr *Manager) {
		mgr.teardownTimeout = d
	}
}

func NewManager(params ParamsSource, launcher Launcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		params:          params,
		launcher:        launcher,
		teardownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = observability.Tracer()
	}
	m.state.Store(&state{servers: map[string]Session{}})
	return m
}

// InitializeSystem loads, validates and starts every enabled server. It
// reports whether at least one server is running afterwards.
func (m *Manager) InitializeSystem(ctx context.Context) bool {
	settings := m.params.Settings()
	slog.Info("Starting MCP system initialisation")

	if !settings.Enabled {
		slog.Info("MCP system disabled via configuration; skipping startup")
		return false
	}

	m.logEnvironment()
	m.logRequirements(m.params.CheckEnvironmentRequirements(ctx))

	var configs []ServerParams
	for _, p := range m.params.DefaultParams() {
		if m.params.ValidateConfig(&p) {
			configs = append(configs, p)
		}
	}
	if len(configs) == 0 {
		slog.Warn("No valid MCP server configuration found")
		return false
	}

	m.InitializeFromConfigs(ctx, configs)
	m.logInitialization()

	slog.Info("MCP system initialisation complete")
	return m.IsInitialized()
}

// InitializeFromConfigs starts every enabled descriptor concurrently. One
// server failing does not affect the others. It is a no-op once
// initialised with at least one server running.
func (m *Manager) InitializeFromConfigs(ctx context.Context, configs []ServerParams) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Load()
	if cur.initialized && len(cur.servers) > 0 {
		slog.Debug("MCP manager already initialised; skipping re-run")
		return
	}

	tracked := append([]ServerParams(nil), configs...)
	enabled := enabledOnly(tracked)
	if len(enabled) == 0 {
		slog.Warn("No MCP servers marked as enabled")
		m.publish(ctx, &state{servers: cur.servers, configs: tracked, initialized: cur.initialized})
		return
	}

	slog.Info("Initialising MCP servers", "count", len(enabled))

	sessions := make([]Session, len(enabled))
	errs := make([]error, len(enabled))

	var g errgroup.Group
	for i := range enabled {
		g.Go(func() error {
			sessions[i], errs[i] = m.startServer(ctx, enabled[i])
			return nil
		})
	}
	_ = g.Wait()

	servers := cur.cloneServers()
	success, functions := 0, 0
	for i, p := range enabled {
		if errs[i] != nil {
			slog.Error("Failed to initialise MCP server", "server", p.Name, "error", errs[i])
			continue
		}
		if old, ok := servers[p.Name]; ok {
			m.teardownLogged(ctx, p.Name, old)
		}
		servers[p.Name] = sessions[i]
		success++
		functions += len(sessions[i].Functions())
	}

	slog.Info("MCP manager initialisation summary",
		"ready", success,
		"enabled", len(enabled),
		"functions", functions)

	m.publish(ctx, &state{
		servers:     servers,
		configs:     tracked,
		initialized: cur.initialized || success > 0,
	})
}

// startServer launches one server. It does not touch manager state.
func (m *Manager) startServer(ctx context.Context, p ServerParams) (Session, error) {
	ctx, span := m.tracer.Start(ctx, observability.SpanServerStart,
		trace.WithAttributes(attribute.String(observability.AttrServerName, p.Name)))
	defer span.End()

	slog.Info("Initialising MCP server", "server", p.Name)
	slog.Debug("MCP server launch parameters",
		"server", p.Name,
		"command", p.FullCommand(),
		"timeout_seconds", p.TimeoutSeconds)

	start := time.Now()
	sess, err := m.launch(ctx, p)
	m.metrics.RecordServerStart(ctx, p.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if sess == nil {
		err := fmt.Errorf("launcher returned no session for %q", p.Name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	count := len(sess.Functions())
	span.SetAttributes(attribute.Int(observability.AttrFunctionCount, count))
	slog.Info("MCP server initialised successfully", "server", p.Name, "functions", count)
	return sess, nil
}

// launch turns a launcher panic into an error for that server alone.
func (m *Manager) launch(ctx context.Context, p ServerParams) (sess Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("launcher panicked starting %q: %v", p.Name, r)
		}
	}()
	return m.launcher.Launch(ctx, p)
}

// ReloadServer restarts one server from a fresh descriptor set. The server
// must be present and enabled in that set.
func (m *Manager) ReloadServer(ctx context.Context, name string) (*ReloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, observability.SpanServerReload,
		trace.WithAttributes(attribute.String(observability.AttrServerName, name)))
	defer span.End()

	var target *ServerParams
	for _, p := range m.params.DefaultParams() {
		if p.Name == name {
			target = &p
			break
		}
	}
	if target == nil {
		return nil, apperr.ServerNotFound(name)
	}
	if !target.Enabled {
		return nil, apperr.ServerDisabled(name)
	}
	if !m.params.ValidateConfig(target) {
		return nil, apperr.ServerReloadFailed(name, errors.New("invalid server configuration"))
	}

	cur := m.state.Load()
	servers := cur.cloneServers()
	if old, ok := servers[name]; ok {
		m.teardownLogged(ctx, name, old)
		delete(servers, name)
	}

	sess, err := m.startServer(ctx, *target)
	m.metrics.RecordReload(ctx, name, err)
	if err != nil {
		m.publish(ctx, &state{
			servers:     servers,
			configs:     replaceConfig(cur.configs, *target),
			initialized: cur.initialized,
		})
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.ServerReloadFailed(name, err)
	}
	servers[name] = sess

	m.publish(ctx, &state{
		servers:     servers,
		configs:     replaceConfig(cur.configs, *target),
		initialized: true,
	})

	return &ReloadResult{
		ServerName: name,
		Success:    true,
		Message:    fmt.Sprintf("MCP server '%s' reloaded successfully with %d function(s)", name, len(sess.Functions())),
	}, nil
}

// ReloadAllServers restarts every enabled server from a fresh descriptor
// set and tears down servers that are no longer enabled. It succeeds when
// at least one server is running afterwards.
func (m *Manager) ReloadAllServers(ctx context.Context) (*ReloadAllResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, observability.SpanReloadAll)
	defer span.End()

	var enabled []ServerParams
	for _, p := range m.params.DefaultParams() {
		if p.Enabled && m.params.ValidateConfig(&p) {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil, apperr.NoServersAvailable()
	}

	cur := m.state.Load()
	servers := cur.cloneServers()
	keep := make(map[string]bool, len(enabled))
	for _, p := range enabled {
		keep[p.Name] = true
	}

	stale := make(map[string]bool)
	for _, p := range cur.configs {
		stale[p.Name] = true
	}
	for name := range servers {
		stale[name] = true
	}
	for name := range stale {
		if keep[name] {
			continue
		}
		if old, ok := servers[name]; ok {
			slog.Info("Removing MCP server no longer configured", "server", name)
			m.teardownLogged(ctx, name, old)
			delete(servers, name)
		}
	}

	result := &ReloadAllResult{Results: make([]ReloadResult, 0, len(enabled))}
	for _, p := range enabled {
		if old, ok := servers[p.Name]; ok {
			m.teardownLogged(ctx, p.Name, old)
			delete(servers, p.Name)
		}

		sess, err := m.startServer(ctx, p)
		m.metrics.RecordReload(ctx, p.Name, err)
		if err != nil {
			slog.Error("Failed to reload MCP server", "server", p.Name, "error", err)
			result.FailedCount++
			result.Results = append(result.Results, ReloadResult{
				ServerName: p.Name,
				Message:    fmt.Sprintf("Failed to reload: %v", err),
			})
			continue
		}

		servers[p.Name] = sess
		result.ReloadedCount++
		result.Results = append(result.Results, ReloadResult{
			ServerName: p.Name,
			Success:    true,
			Message:    fmt.Sprintf("Reloaded successfully with %d function(s)", len(sess.Functions())),
		})
	}
	result.Success = result.ReloadedCount > 0

	m.publish(ctx, &state{
		servers:     servers,
		configs:     enabled,
		initialized: len(servers) > 0,
	})

	slog.Info("MCP bulk reload complete",
		"reloaded", result.ReloadedCount,
		"failed", result.FailedCount)
	return result, nil
}

// Shutdown closes every running server and resets the manager. Individual
// teardown failures are logged and returned joined; they never stop the
// loop.
func (m *Manager) Shutdown(ctx context.Context) error {
	slog.Info("Commencing MCP manager shutdown")
	if !m.IsInitialized() {
		slog.Debug("MCP manager not initialised; nothing to shut down")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Load()
	var errs []error
	for _, name := range sortedKeys(cur.servers) {
		slog.Info("Closing MCP server", "server", name)
		if err := m.teardown(ctx, cur.servers[name]); err != nil {
			slog.Warn("Error while cleaning MCP server", "server", name, "error", err)
			errs = append(errs, fmt.Errorf("server %s: %w", name, err))
		}
	}

	m.publish(ctx, &state{servers: map[string]Session{}})
	slog.Info("MCP manager shutdown complete")
	return errors.Join(errs...)
}

func (m *Manager) teardown(ctx context.Context, s Session) error {
	if g, ok := s.(GracefulSession); ok {
		ctx, cancel := context.WithTimeout(ctx, m.teardownTimeout)
		defer cancel()
		return g.Shutdown(ctx)
	}
	return s.Close()
}

func (m *Manager) teardownLogged(ctx context.Context, name string, s Session) {
	if err := m.teardown(ctx, s); err != nil {
		slog.Warn("Failed to close MCP server; continuing", "server", name, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, s *state) {
	m.state.Store(s)
	m.metrics.SetRunningServers(ctx, len(s.servers))
}

// IsInitialized reports whether the manager is initialised with at least
// one running server.
func (m *Manager) IsInitialized() bool {
	s := m.state.Load()
	return s.initialized && len(s.servers) > 0
}

// SystemStatus projects the running servers.
func (m *Manager) SystemStatus() SystemStatus {
	s := m.state.Load()
	if !(s.initialized && len(s.servers) > 0) {
		return SystemStatus{
			Servers: map[string]ServerStatus{},
			Message: "MCP system not initialised",
		}
	}

	status := SystemStatus{
		Initialized:      true,
		Servers:          make(map[string]ServerStatus, len(s.servers)),
		AvailableServers: sortedKeys(s.servers),
	}
	for name, sess := range s.servers {
		st := serverStatus(s, name, sess)
		status.Servers[name] = st
		status.TotalFunctions += st.FunctionCount
	}
	status.TotalServers = len(status.Servers)
	return status
}

// ServerStatus reports one running server.
func (m *Manager) ServerStatus(name string) (ServerStatus, bool) {
	s := m.state.Load()
	sess, ok := s.servers[name]
	if !ok {
		return ServerStatus{}, false
	}
	return serverStatus(s, name, sess), true
}

func serverStatus(s *state, name string, sess Session) ServerStatus {
	functions := make([]string, 0, len(sess.Functions()))
	for fn := range sess.Functions() {
		functions = append(functions, fn)
	}
	sort.Strings(functions)

	description := ""
	for _, p := range s.configs {
		if p.Name == name {
			description = p.Description
			break
		}
	}
	return ServerStatus{
		Connected:     true,
		FunctionCount: len(functions),
		Functions:     functions,
		Description:   description,
	}
}

// TrackedConfigs returns the last applied descriptor set.
func (m *Manager) TrackedConfigs() []ServerParams {
	return append([]ServerParams(nil), m.state.Load().configs...)
}

// AvailableServers returns the names of running servers, sorted.
func (m *Manager) AvailableServers() []string {
	return sortedKeys(m.state.Load().servers)
}

// FunctionsForServer returns the sorted function names of a running server.
func (m *Manager) FunctionsForServer(name string) []string {
	if !m.IsInitialized() {
		return nil
	}
	st, ok := m.ServerStatus(name)
	if !ok {
		return nil
	}
	return st.Functions
}

// GetToolkitForServer returns a toolkit over the named server, or nil when
// the manager is not initialised or the server is not running. The toolkit
// follows the server across reloads when ReloadFunctions is called.
func (m *Manager) GetToolkitForServer(name string, allowed []string) *Toolkit {
	s := m.state.Load()
	if !s.initialized {
		slog.Debug("MCP manager not initialised; cannot provide toolkit")
		return nil
	}
	if _, ok := s.servers[name]; !ok {
		slog.Debug("MCP server not found", "server", name)
		return nil
	}
	return newToolkit(name, func() Session { return m.state.Load().servers[name] }, allowed)
}

// Toolkit adapts GetToolkitForServer to the tool.Toolset interface.
func (m *Manager) Toolkit(name string, functions []string) (tool.Toolset, bool) {
	tk := m.GetToolkitForServer(name, functions)
	if tk == nil {
		return nil, false
	}
	return m.instrument(tk), true
}

func (m *Manager) logEnvironment() {
	wd, _ := os.Getwd()
	slog.Info("Runtime", "go", runtime.Version(), "os", runtime.GOOS, "arch", runtime.GOARCH)
	slog.Debug("Working directory", "path", wd)
}

func (m *Manager) logRequirements(req map[string]bool) {
	slog.Info("Environment requirement checks")
	all := true
	for _, name := range sortedKeys(req) {
		verdict := "OK"
		if !req[name] {
			verdict = "MISSING"
			all = false
		}
		slog.Info("Requirement", "name", name, "status", verdict)
	}
	if !all {
		slog.Warn("One or more MCP environment requirements are not satisfied")
	}
}

func (m *Manager) logInitialization() {
	if !m.IsInitialized() {
		slog.Warn("MCP manager initialisation failed or no servers connected")
		return
	}
	status := m.SystemStatus()
	slog.Info("MCP servers ready", "servers", status.TotalServers, "functions", status.TotalFunctions)
	for _, name := range status.AvailableServers {
		info := status.Servers[name]
		desc := info.Description
		if desc == "" {
			desc = "no description"
		}
		slog.Info("MCP server ready", "server", name, "description", desc, "functions", info.FunctionCount)
	}
}

func enabledOnly(configs []ServerParams) []ServerParams {
	var out []ServerParams
	for _, p := range configs {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

func replaceConfig(configs []ServerParams, p ServerParams) []ServerParams {
	out := append([]ServerParams(nil), configs...)
	for i := range out {
		if out[i].Name == p.Name {
			out[i] = p
			return out
		}
	}
	return append(out, p)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
