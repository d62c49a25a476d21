package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
)

const (
	documentServers = "servers"
	documentModels  = "models"
)

// SchemaCmd prints the JSON Schema of the servers or models document.
type SchemaCmd struct {
	Document string `arg:"" enum:"servers,models" help:"Document to describe (servers, models)."`
	Compact  bool   `help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	schema := documentSchema(c.Document)

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

// documentSchema reflects the schema of the named document.
func documentSchema(document string) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}

	var schema *jsonschema.Schema
	switch document {
	case documentModels:
		schema = reflector.Reflect(&llm.ModelsFile{})
		schema.Title = "Model Registry"
		schema.Description = "Model configurations served by the conversation API"
	default:
		schema = reflector.Reflect(&mcp.ServersFile{})
		schema.Title = "MCP Servers"
		schema.Description = "Tool-server launch descriptors"
	}
	schema.Version = "http://json-schema.org/draft-07/schema#"
	return schema
}
