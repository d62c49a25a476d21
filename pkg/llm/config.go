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

// Package llm manages the runtime model registry: persisted model
// configurations, the active-model pointer, provider construction and
// agent creation.
package llm

import (
	"encoding/json"
	"strings"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
)

// ModelConfig describes one selectable model.
type ModelConfig struct {
	Key      string `json:"key" jsonschema:"required,minLength=1,description=Unique client-facing identifier"`
	Provider string `json:"provider" jsonschema:"required,minLength=1,description=Provider slug,example=openai,example=ollama"`
	ModelID  string `json:"model_id" jsonschema:"required,minLength=1,description=Provider-specific model name"`

	// APIKeyEnv names the environment variable holding the secret. It is
	// never the secret itself.
	APIKeyEnv string `json:"api_key_env" jsonschema:"required,minLength=1,pattern=^[^=]+$,description=Environment variable holding the API key"`
	BaseURL   string `json:"base_url,omitempty" jsonschema:"description=Endpoint override"`

	DefaultParams     map[string]any `json:"default_params" jsonschema:"description=Invocation parameters such as temperature"`
	SupportsStreaming bool           `json:"supports_streaming" jsonschema:"default=true"`
	Metadata          map[string]any `json:"metadata" jsonschema:"description=Display and debug metadata (display_name, name, description, debug)"`
}

// UnmarshalJSON defaults supports_streaming to true when absent.
func (c *ModelConfig) UnmarshalJSON(data []byte) error {
	type plain ModelConfig
	aux := plain{SupportsStreaming: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = ModelConfig(aux)
	c.normalize()
	return nil
}

func (c *ModelConfig) normalize() {
	if c.DefaultParams == nil {
		c.DefaultParams = map[string]any{}
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
}

// canonicalize rewrites DefaultParams and Metadata values in place to their
// decoded JSON form, so numbers become float64 and nested values become
// map[string]any or []any. The caller's maps therefore equal what a later
// read returns.
func (c *ModelConfig) canonicalize() error {
	for field, m := range map[string]map[string]any{"default_params": c.DefaultParams, "metadata": c.Metadata} {
		if err := canonicalizeMap(m); err != nil {
			return apperr.InvalidConfig("Model configuration '%s' has %s that cannot be stored as JSON: %v", c.Key, field, err).With("model_key", c.Key)
		}
	}
	return nil
}

func canonicalizeMap(m map[string]any) error {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	for k := range m {
		m[k] = decoded[k]
	}
	return nil
}

// Validate checks the required fields and rejects literal secrets in
// api_key_env.
func (c *ModelConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Key) == "":
		return apperr.InvalidConfig("Model configuration key must not be empty")
	case strings.TrimSpace(c.Provider) == "":
		return apperr.InvalidConfig("Model configuration '%s' has an empty provider", c.Key).With("model_key", c.Key)
	case strings.TrimSpace(c.ModelID) == "":
		return apperr.InvalidConfig("Model configuration '%s' has an empty model_id", c.Key).With("model_key", c.Key)
	case strings.TrimSpace(c.APIKeyEnv) == "":
		return apperr.InvalidConfig("api_key_env must not be empty").With("model_key", c.Key)
	case strings.Contains(c.APIKeyEnv, "="):
		return apperr.InvalidConfig("api_key_env must be an environment variable name, not a secret").With("model_key", c.Key)
	}
	return nil
}

// Clone returns a deep copy of the top-level maps.
func (c ModelConfig) Clone() ModelConfig {
	c.DefaultParams = cloneMap(c.DefaultParams)
	c.Metadata = cloneMap(c.Metadata)
	return c
}

// DisplayName returns metadata.display_name, falling back to the key.
func (c ModelConfig) DisplayName() string {
	return c.metaString("display_name", c.Key)
}

func (c ModelConfig) metaString(field, fallback string) string {
	if v, ok := c.Metadata[field].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (c ModelConfig) metaBool(field string) bool {
	switch v := c.Metadata[field].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// ModelsFile is the on-disk layout of the models file.
type ModelsFile struct {
	Models []ModelConfig `json:"models"`
}

const defaultActiveModelKey = "openai:gpt-4o-mini"

func defaultModelConfigs() []ModelConfig {
	return []ModelConfig{
		{
			Key:               "openai:gpt-4o-mini",
			Provider:          "openai",
			ModelID:           "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			DefaultParams:     map[string]any{"temperature": 0.7},
			SupportsStreaming: true,
			Metadata:          map[string]any{"display_name": "OpenAI GPT-4o mini"},
		},
		{
			Key:               "ollama:llama3.1",
			Provider:          "ollama",
			ModelID:           "llama3.1",
			APIKeyEnv:         "OLLAMA_API_KEY",
			DefaultParams:     map[string]any{},
			SupportsStreaming: true,
			Metadata:          map[string]any{"display_name": "Ollama Llama 3.1"},
		},
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
