package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateCmd checks a servers or models document against its schema.
type ValidateCmd struct {
	Document string `arg:"" enum:"servers,models" help:"Document type (servers, models)."`
	File     string `arg:"" help:"Document path." type:"existingfile" placeholder:"PATH"`
	Format   string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type validationOutput struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (c *ValidateCmd) Run() error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}

	problems, err := validateDocument(c.Document, data)
	if err != nil {
		return err
	}
	report(os.Stdout, c.Format, validationOutput{Valid: len(problems) == 0, File: c.File, Errors: problems})
	if len(problems) > 0 {
		return fmt.Errorf("%s: %d validation error(s)", c.File, len(problems))
	}
	return nil
}

// validateDocument returns the schema violations in data. A models
// document may be a bare list, which is checked as {"models": [...]}.
func validateDocument(document string, data []byte) ([]ValidationError, error) {
	schemaJSON, err := json.Marshal(documentSchema(document))
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if document == documentModels && len(trimmed) > 0 && trimmed[0] == '[' {
		trimmed = append(append([]byte(`{"models":`), trimmed...), '}')
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(trimmed))
	if err != nil {
		return []ValidationError{{Field: "(root)", Message: err.Error()}}, nil
	}

	var problems []ValidationError
	for _, e := range result.Errors() {
		problems = append(problems, ValidationError{Field: e.Field(), Message: e.Description()})
	}
	return problems, nil
}

func report(w io.Writer, format string, out validationOutput) {
	if format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(out)
		return
	}
	if out.Valid {
		fmt.Fprintf(w, "%s: valid\n", out.File)
		return
	}
	for _, e := range out.Errors {
		fmt.Fprintf(w, "%s: %s: %s\n", out.File, e.Field, e.Message)
	}
}
