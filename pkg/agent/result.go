package agent

import (
	"encoding/json"
	"fmt"
)

func formatToolResult(result map[string]any) string {
	if result == nil {
		return "{}"
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

func formatToolError(err error) string {
	raw, _ := json.Marshal(map[string]any{"error": err.Error()})
	return string(raw)
}
