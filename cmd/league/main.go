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

// Command league runs the MCP league conversation backend.
//
// Usage:
//
//	league serve --config config.yaml
//	league models
//	league servers check
//	league schema servers > servers.schema.json
//	league validate models data/llm_models.json
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	league "github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/config"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API."`
	Models   ModelsCmd   `cmd:"" help:"List registered models."`
	Servers  ServersCmd  `cmd:"" help:"Inspect MCP tool servers."`
	Schema   SchemaCmd   `cmd:"" help:"Print the JSON Schema of a configuration document."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration document against its schema."`

	Config    string `short:"c" help:"Path to the YAML settings file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"LOG_FILE"`
	LogFormat string `help:"Log format (simple, verbose, json)." env:"LOG_FORMAT"`
}

// loadSettings reads the settings and lets the global log flags win over
// the file values.
func (c *CLI) loadSettings() (*config.Settings, error) {
	settings, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		settings.Log.Level = c.LogLevel
	}
	if c.LogFile != "" {
		settings.Log.File = c.LogFile
	}
	if c.LogFormat != "" {
		settings.Log.Format = c.LogFormat
	}
	return settings, nil
}

// initLogger installs the process logger. The returned cleanup closes the
// log file, if any.
func initLogger(level, file, format string) (func(), error) {
	if format == "" {
		format = logger.FormatSimple
	}
	if file == "" {
		logger.Init(logger.ParseLevel(level), os.Stderr, format)
		return func() {}, nil
	}
	f, cleanup, err := logger.OpenLogFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Init(logger.ParseLevel(level), f, format)
	return cleanup, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(league.GetVersion().String())
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("league"),
		kong.Description("MCP league conversation backend"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
