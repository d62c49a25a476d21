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
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

//go:embed default_servers.json
var bundledServers []byte

// BundledServers returns the descriptor document compiled into the binary.
func BundledServers() []byte {
	return append([]byte(nil), bundledServers...)
}

// ServerParams describes one launchable tool-server process.
type ServerParams struct {
	Name           string            `json:"name" jsonschema:"required,minLength=1,description=Unique server name"`
	Command        string            `json:"command" jsonschema:"required,minLength=1,description=Executable or full command line"`
	Args           []string          `json:"args,omitempty" jsonschema:"description=Arguments passed to the launcher"`
	Env            map[string]string `json:"env,omitempty" jsonschema:"description=Extra environment variables"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"minimum=1,description=Startup timeout in seconds"`
	Enabled        bool              `json:"enabled" jsonschema:"default=true"`
	Description    string            `json:"description,omitempty"`
}

// ServersFile is the on-disk shape of a descriptor document.
type ServersFile struct {
	Servers []ServerParams `json:"servers"`
}

// Timeout returns the startup timeout as a duration.
func (p ServerParams) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// CommandLine returns the argv used to launch the server. Without explicit
// args the command string is split on whitespace.
func (p ServerParams) CommandLine() []string {
	if len(p.Args) > 0 {
		return append([]string{p.Command}, p.Args...)
	}
	return strings.Fields(p.Command)
}

// FullCommand renders CommandLine as a single string for logs.
func (p ServerParams) FullCommand() string {
	return strings.Join(p.CommandLine(), " ")
}

// ParamsManager produces tool-server descriptors from the bundled document
// or an override file.
type ParamsManager struct {
	settings   Settings
	defaults   []byte
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ParamsOption configures a ParamsManager.
type ParamsOption func(*ParamsManager)

// WithBundledDocument replaces the embedded default document.
func WithBundledDocument(doc []byte) ParamsOption {
	return func(m *ParamsManager) {
		m.defaults = doc
	}
}

// WithCommandRunner replaces the command runner used by CheckEnvironmentRequirements.
func WithCommandRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) ParamsOption {
	return func(m *ParamsManager) {
		m.runCommand = run
	}
}

func NewParamsManager(settings Settings, opts ...ParamsOption) *ParamsManager {
	m := &ParamsManager{
		settings:   settings,
		defaults:   bundledServers,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Settings returns the settings the manager was built with.
func (m *ParamsManager) Settings() Settings {
	return m.settings
}

// DefaultParams returns the current descriptor set. It is empty when the
// subsystem is disabled. Broken entries are skipped with a warning and
// duplicate names keep the last entry.
func (m *ParamsManager) DefaultParams() []ServerParams {
	if !m.settings.Enabled {
		slog.Info("MCP system disabled; skipping MCP server configuration")
		return nil
	}

	loaded := m.loadConfigured()

	index := make(map[string]int, len(loaded))
	configs := make([]ServerParams, 0, len(loaded))
	for _, p := range loaded {
		if i, ok := index[p.Name]; ok {
			configs[i] = p
			continue
		}
		index[p.Name] = len(configs)
		configs = append(configs, p)
	}

	launcher := m.settings.launcher()
	for i := range configs {
		if len(configs[i].Args) > 0 {
			configs[i].Command = launcher
		} else {
			configs[i].Command = strings.Replace(configs[i].Command, "npx", launcher, 1)
		}
	}

	slog.Info("Loaded MCP server configurations", "count", len(configs))
	slog.Debug("MCP platform", "os", runtime.GOOS, "base_path", m.settings.BasePath)
	if len(configs) == 0 {
		slog.Warn("No MCP server configurations available")
	}

	return configs
}

func (m *ParamsManager) loadConfigured() []ServerParams {
	payload, ok := m.loadPayload()
	if !ok {
		return nil
	}

	var entries []any
	switch v := payload.(type) {
	case []any:
		entries = v
	case map[string]any:
		list, isList := v["servers"].([]any)
		if !isList {
			slog.Error("MCP servers config must be a list or have a 'servers' list")
			return nil
		}
		entries = list
	default:
		slog.Error("MCP servers config must be a list or have a 'servers' list")
		return nil
	}

	configs := make([]ServerParams, 0, len(entries))
	for _, raw := range entries {
		entry, isMap := raw.(map[string]any)
		if !isMap {
			slog.Warn("Skipping invalid MCP server entry", "entry", raw)
			continue
		}
		if params, ok := m.paramsFromMap(entry); ok {
			configs = append(configs, params)
		}
	}
	return configs
}

func (m *ParamsManager) loadPayload() (any, bool) {
	data := m.defaults
	source := "bundled defaults"

	if path := m.settings.ServersConfigFile; path != "" {
		switch raw, err := os.ReadFile(path); {
		case err == nil:
			data, source = raw, path
		case !errors.Is(err, os.ErrNotExist):
			slog.Error("Failed to read MCP servers config", "path", path, "error", err)
			return nil, false
		}
	}

	if len(data) == 0 {
		slog.Error("MCP server descriptor document is empty", "source", source)
		return nil, false
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		slog.Error("Invalid MCP servers JSON", "source", source, "error", err)
		return nil, false
	}
	slog.Debug("Loading MCP servers", "source", source)
	return payload, true
}

func (m *ParamsManager) paramsFromMap(data map[string]any) (ServerParams, bool) {
	name := strings.TrimSpace(stringify(data["name"]))
	if name == "" {
		slog.Warn("MCP server entry missing 'name'")
		return ServerParams{}, false
	}

	command, _ := data["command"].(string)
	if strings.TrimSpace(command) == "" {
		slog.Warn("MCP server missing command", "server", name)
		return ServerParams{}, false
	}
	command = m.expand(command)

	enabled := true
	if flag, present := data["enabled"]; present {
		enabled = truthy(flag)
	}
	enabled = enabled && m.settings.IsServerEnabled(name)

	timeout := m.settings.defaultTimeoutSeconds()
	if raw, present := data["timeout_seconds"]; present && raw != nil {
		if parsed, ok := toInt(raw); ok {
			timeout = parsed
		} else {
			slog.Warn("Invalid timeout for MCP server; using default", "server", name, "default", timeout)
		}
	}

	env := make(map[string]string)
	switch raw := data["env"].(type) {
	case nil:
	case map[string]any:
		for k, v := range raw {
			env[k] = m.expand(stringify(v))
		}
	default:
		slog.Warn("Invalid env mapping for MCP server", "server", name)
	}
	if m.settings.NodeEnv != "" {
		if _, set := env["NODE_ENV"]; !set {
			env["NODE_ENV"] = m.settings.NodeEnv
		}
	}

	var args []string
	switch raw := data["args"].(type) {
	case nil:
	case []any:
		for _, a := range raw {
			args = append(args, m.expand(stringify(a)))
		}
	default:
		slog.Warn("Ignoring non-list args for MCP server", "server", name)
	}

	return ServerParams{
		Name:           name,
		Command:        command,
		Args:           args,
		Env:            env,
		TimeoutSeconds: timeout,
		Enabled:        enabled,
		Description:    strings.TrimSpace(stringify(data["description"])),
	}, true
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expand substitutes {BASE_PATH} and ${VAR} references.
func (m *ParamsManager) expand(s string) string {
	s = strings.ReplaceAll(s, "{BASE_PATH}", m.settings.BasePath)
	if !strings.Contains(s, "${") {
		return s
	}
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return m.lookup(envRef.FindStringSubmatch(match)[1])
	})
}

func (m *ParamsManager) lookup(name string) string {
	switch name {
	case "BRAVE_API_KEY":
		if m.settings.BraveAPIKey != "" {
			return m.settings.BraveAPIKey
		}
	case "POSTGRES_DATABASE_URL":
		if m.settings.PostgresDatabaseURL != "" {
			return m.settings.PostgresDatabaseURL
		}
	}
	return os.Getenv(name)
}

// ValidateConfig reports whether p can be launched. A non-positive timeout
// is replaced with the configured default.
func (m *ParamsManager) ValidateConfig(p *ServerParams) bool {
	if p.Name == "" {
		slog.Error("MCP configuration missing server name")
		return false
	}
	if p.Command == "" {
		slog.Error("MCP configuration missing command", "server", p.Name)
		return false
	}
	if p.TimeoutSeconds <= 0 {
		def := m.settings.defaultTimeoutSeconds()
		slog.Warn("MCP configuration has invalid timeout; applying default", "server", p.Name, "default_seconds", def)
		p.TimeoutSeconds = def
	}
	return true
}

// Requirement keys reported by CheckEnvironmentRequirements.
const (
	RequirementSystemEnabled = "mcp_system_enabled"
	RequirementNodeJS        = "nodejs"
	RequirementNPX           = "npx"
	RequirementBraveAPIKey   = "brave_api_key"
	RequirementPostgresURL   = "postgres_database_url"
)

const versionCheckTimeout = 10 * time.Second

// CheckEnvironmentRequirements runs the launcher and reports which
// optional secrets are present. It never fails; problems surface as false.
func (m *ParamsManager) CheckEnvironmentRequirements(ctx context.Context) map[string]bool {
	req := map[string]bool{
		RequirementSystemEnabled: m.settings.Enabled,
		RequirementNodeJS:        false,
		RequirementNPX:           false,
		RequirementBraveAPIKey:   m.settings.BraveAPIKey != "",
		RequirementPostgresURL:   m.settings.PostgresDatabaseURL != "",
	}
	if !m.settings.Enabled {
		return req
	}

	launcher := m.settings.launcher()
	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()

	out, err := m.runCommand(ctx, launcher, "--version")
	switch {
	case err == nil:
		req[RequirementNodeJS] = true
		req[RequirementNPX] = true
		slog.Info("Launcher available", "command", launcher, "version", strings.TrimSpace(string(out)))
	case errors.Is(err, exec.ErrNotFound):
		slog.Error("Launcher command not found; ensure Node.js is installed", "command", launcher)
	default:
		slog.Warn("Launcher version check failed", "command", launcher, "error", err)
	}
	return req
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}
