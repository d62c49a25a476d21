package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Load builds Settings. The YAML file at path is optional; an empty path
// skips it. Environment variables override file values.
func Load(path string) (*Settings, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	s := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decodeYAML(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(s); err != nil {
		return nil, err
	}

	s.SetDefaults()
	if err := s.normalize(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func decodeYAML(data []byte, out *Settings) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	expanded, _ := ExpandEnv(raw).(map[string]any)
	return decodeSettings(expanded, out)
}

func decodeSettings(input map[string]any, output *Settings) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

// applyEnv overlays recognised environment variables.
func applyEnv(s *Settings) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("HOST", &s.Server.Host)
	str("ENVIRONMENT", &s.Server.Environment)
	str("LOG_LEVEL", &s.Log.Level)
	str("LOG_FORMAT", &s.Log.Format)
	str("LOG_FILE", &s.Log.File)
	str("LLM_MODELS_FILE", &s.LLM.ModelsFile)
	str("LLM_ACTIVE_MODEL_FILE", &s.LLM.ActiveModelFile)
	str("MCP_NPX_COMMAND", &s.MCP.NPXCommand)
	str("MCP_BASE_PATH", &s.MCP.BasePath)
	str("MCP_NODE_ENV", &s.MCP.NodeEnv)
	str("MCP_SERVERS_CONFIG_FILE", &s.MCP.ServersConfigFile)
	str("BRAVE_API_KEY", &s.MCP.BraveAPIKey)
	str("POSTGRES_DATABASE_URL", &s.MCP.PostgresDatabaseURL)
	str("TRACING_EXPORTER", &s.Tracing.Exporter)
	str("TRACING_ENDPOINT", &s.Tracing.Endpoint)

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT must be an integer, got %q", v)
		}
		s.Server.Port = port
	}

	if v := strings.TrimSpace(os.Getenv("MCP_TIMEOUT_SECONDS")); v != "" {
		timeout, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCP_TIMEOUT_SECONDS must be an integer, got %q", v)
		}
		s.MCP.TimeoutSeconds = timeout
	}

	if v := strings.TrimSpace(os.Getenv("ENABLE_MCP_SYSTEM")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_MCP_SYSTEM must be a boolean, got %q", v)
		}
		s.MCP.Enabled = enabled
	}

	if v, ok := os.LookupEnv("MCP_ENABLED_SERVERS"); ok {
		s.MCP.EnabledServers = strings.Split(v, ",")
	}

	return nil
}
