package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
)

// ModelsCmd lists the model registry and marks the active entry.
type ModelsCmd struct{}

func (c *ModelsCmd) Run(cli *CLI) error {
	settings, err := cli.loadSettings()
	if err != nil {
		return err
	}
	factory := llm.NewAgentFactory(
		llm.NewStore(settings.LLM.ModelsFile, settings.LLM.ActiveModelFile),
		llm.NewProviderFactory(settings),
	)

	models, err := factory.AvailableModels()
	if err != nil {
		return err
	}
	active, err := factory.ActiveModelKey()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTIVE\tKEY\tPROVIDER\tMODEL\tSTREAMING")
	for _, m := range models {
		marker := ""
		if m.Key == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", marker, m.Key, m.Provider, m.ModelID, m.SupportsStreaming)
	}
	return w.Flush()
}

// ServersCmd groups the tool-server inspection commands.
type ServersCmd struct {
	List  ServersListCmd  `cmd:"" default:"1" help:"List the tool servers that would be launched."`
	Check ServersCheckCmd `cmd:"" help:"Check the launcher and optional secrets."`
}

type ServersListCmd struct{}

func (c *ServersListCmd) Run(cli *CLI) error {
	settings, err := cli.loadSettings()
	if err != nil {
		return err
	}
	params := mcp.NewParamsManager(settings.ToolServerSettings())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tTIMEOUT\tCOMMAND")
	for _, p := range params.DefaultParams() {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", p.Name, p.Enabled, p.Timeout(), p.FullCommand())
	}
	return w.Flush()
}

type ServersCheckCmd struct{}

func (c *ServersCheckCmd) Run(cli *CLI) error {
	settings, err := cli.loadSettings()
	if err != nil {
		return err
	}
	req := mcp.NewParamsManager(settings.ToolServerSettings()).CheckEnvironmentRequirements(context.Background())

	names := make([]string, 0, len(req))
	for name := range req {
		names = append(names, name)
	}
	sort.Strings(names)

	var missing []string
	for _, name := range names {
		status := "ok"
		if !req[name] {
			status = "missing"
			missing = append(missing, name)
		}
		fmt.Printf("%-24s %s\n", name, status)
	}
	if !req[mcp.RequirementSystemEnabled] || !req[mcp.RequirementNPX] {
		return fmt.Errorf("tool servers cannot start: %s", strings.Join(missing, ", "))
	}
	return nil
}
