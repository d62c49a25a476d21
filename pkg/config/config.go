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

// Package config loads process settings from .env files, an optional YAML
// file and environment variables, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
)

// Settings is the root configuration of the service.
type Settings struct {
	Server  ServerSettings  `yaml:"server"`
	Log     LogSettings     `yaml:"log"`
	LLM     LLMSettings     `yaml:"llm"`
	MCP     MCPSettings     `yaml:"mcp"`
	Tracing TracingSettings `yaml:"tracing"`
}

type ServerSettings struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	// ShutdownTimeout bounds graceful HTTP and tool-server shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type LLMSettings struct {
	ModelsFile      string `yaml:"models_file"`
	ActiveModelFile string `yaml:"active_model_file"`
}

// MCPSettings configures the tool-server subsystem.
type MCPSettings struct {
	Enabled             bool     `yaml:"enabled"`
	NPXCommand          string   `yaml:"npx_command"`
	BasePath            string   `yaml:"base_path"`
	NodeEnv             string   `yaml:"node_env"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	EnabledServers      []string `yaml:"enabled_servers"`
	ServersConfigFile   string   `yaml:"servers_config_file"`
	BraveAPIKey         string   `yaml:"brave_api_key"`
	PostgresDatabaseURL string   `yaml:"postgres_database_url"`
}

type TracingSettings struct {
	// Exporter is one of "", "stdout" or "otlp". Empty disables tracing.
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	s := &Settings{}
	s.SetDefaults()
	return s
}

func (s *Settings) SetDefaults() {
	if s.Server.Host == "" {
		s.Server.Host = "127.0.0.1"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 8080
	}
	if s.Server.Environment == "" {
		s.Server.Environment = "development"
	}
	if s.Server.ShutdownTimeout <= 0 {
		s.Server.ShutdownTimeout = 15 * time.Second
	}

	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "simple"
	}

	if s.LLM.ModelsFile == "" {
		s.LLM.ModelsFile = filepath.Join("data", "llm_models.json")
	}
	if s.LLM.ActiveModelFile == "" {
		s.LLM.ActiveModelFile = filepath.Join("data", "active_llm_model.txt")
	}

	if s.MCP.NPXCommand == "" {
		s.MCP.NPXCommand = "npx"
	}
	if s.MCP.BasePath == "" {
		s.MCP.BasePath = "."
	}
	if s.MCP.NodeEnv == "" {
		s.MCP.NodeEnv = "development"
	}
	if s.MCP.TimeoutSeconds <= 0 {
		s.MCP.TimeoutSeconds = 60
	}
	if s.MCP.EnabledServers == nil {
		s.MCP.EnabledServers = []string{"filesystem"}
	}

	if s.Tracing.SamplingRate <= 0 {
		s.Tracing.SamplingRate = 1.0
	}
	if s.Tracing.ServiceName == "" {
		s.Tracing.ServiceName = "mcp-league-backend"
	}
}

// normalize resolves paths and canonicalises list values.
func (s *Settings) normalize() error {
	if abs, err := filepath.Abs(s.MCP.BasePath); err == nil {
		s.MCP.BasePath = abs
	} else {
		return fmt.Errorf("failed to resolve mcp base path %q: %w", s.MCP.BasePath, err)
	}

	servers := make([]string, 0, len(s.MCP.EnabledServers))
	for _, name := range s.MCP.EnabledServers {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			servers = append(servers, name)
		}
	}
	s.MCP.EnabledServers = servers

	s.Log.Level = strings.ToLower(s.Log.Level)
	s.Tracing.Exporter = strings.ToLower(strings.TrimSpace(s.Tracing.Exporter))
	return nil
}

func (s *Settings) Validate() error {
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Server.Port)
	}
	switch s.Log.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("log.format must be one of simple, verbose, json; got %q", s.Log.Format)
	}
	switch s.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be one of stdout, otlp; got %q", s.Tracing.Exporter)
	}
	if s.Tracing.Exporter == "otlp" && s.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
	}
	return nil
}

func (s *Settings) IsDevelopment() bool {
	return s.Server.Environment == "development"
}

func (s *Settings) IsProduction() bool {
	return s.Server.Environment == "production"
}

// Addr is the HTTP listen address.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Server.Host, s.Server.Port)
}

// GetSecret returns the trimmed value of the named environment variable.
func (s *Settings) GetSecret(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// ToolServerSettings projects the tool-server configuration.
func (s *Settings) ToolServerSettings() mcp.Settings {
	return mcp.Settings{
		Enabled:             s.MCP.Enabled,
		LauncherCommand:     s.MCP.NPXCommand,
		BasePath:            s.MCP.BasePath,
		NodeEnv:             s.MCP.NodeEnv,
		DefaultTimeout:      time.Duration(s.MCP.TimeoutSeconds) * time.Second,
		EnabledServers:      append([]string(nil), s.MCP.EnabledServers...),
		ServersConfigFile:   s.MCP.ServersConfigFile,
		BraveAPIKey:         s.MCP.BraveAPIKey,
		PostgresDatabaseURL: s.MCP.PostgresDatabaseURL,
	}
}
