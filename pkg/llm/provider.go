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

package llm

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model/ollama"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/model/openai"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/registry"
)

// ProviderBuilder turns merged invocation parameters into a model handle.
// params already carries the model id, the resolved secret and the base
// URL under the provider's own keys.
type ProviderBuilder func(cfg ModelConfig, params map[string]any) (model.LLM, error)

// Provider is one entry of the provider dispatch table.
type Provider struct {
	Slug string
	// RequiresSecret makes a blank api_key_env value fail the build.
	RequiresSecret bool
	// BaseURLKey is the parameter name the builder reads the base URL from.
	BaseURLKey string
	Build      ProviderBuilder
}

// SecretSource resolves secrets by environment variable name.
type SecretSource interface {
	GetSecret(name string) string
}

// SecretFunc adapts a function to SecretSource.
type SecretFunc func(name string) string

func (f SecretFunc) GetSecret(name string) string { return f(name) }

// ProviderFactory builds model handles from ModelConfig entries.
type ProviderFactory struct {
	providers *registry.OrderedRegistry[Provider]
	secrets   SecretSource
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

type FactoryOption func(*ProviderFactory)

func WithMetrics(m *observability.Metrics) FactoryOption {
	return func(f *ProviderFactory) { f.metrics = m }
}

func WithTracer(t trace.Tracer) FactoryOption {
	return func(f *ProviderFactory) { f.tracer = t }
}

// NewProviderFactory returns a factory with the openai and ollama
// providers registered.
func NewProviderFactory(secrets SecretSource, opts ...FactoryOption) *ProviderFactory {
	f := &ProviderFactory{
		providers: registry.New[Provider](),
		secrets:   secrets,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tracer == nil {
		f.tracer = observability.Tracer()
	}

	for _, p := range builtinProviders() {
		_ = f.providers.Register(p.Slug, p)
	}
	return f
}

// Register adds or replaces a provider.
func (f *ProviderFactory) Register(p Provider) error {
	if p.Slug == "" || p.Build == nil {
		return fmt.Errorf("provider slug and builder are required")
	}
	f.providers.Set(p.Slug, p)
	return nil
}

// Providers returns the registered slugs in registration order.
func (f *ProviderFactory) Providers() []string {
	return f.providers.Names()
}

// Build resolves cfg into a model handle. Parameters are layered as
// required fields, then cfg.DefaultParams, then overrides.
func (f *ProviderFactory) Build(cfg ModelConfig, overrides map[string]any) (model.LLM, error) {
	p, ok := f.providers.Get(cfg.Provider)
	if !ok {
		return nil, apperr.ProviderUnsupported(cfg.Provider)
	}

	secret := ""
	if f.secrets != nil {
		secret = f.secrets.GetSecret(cfg.APIKeyEnv)
	}
	if p.RequiresSecret && secret == "" {
		return nil, apperr.ProviderNotConfigured(cfg.Provider, cfg.APIKeyEnv)
	}

	params := map[string]any{"id": cfg.ModelID}
	if secret != "" {
		params["api_key"] = secret
	}
	if cfg.BaseURL != "" && p.BaseURLKey != "" {
		params[p.BaseURLKey] = cfg.BaseURL
	}
	for k, v := range cfg.DefaultParams {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}

	llm, err := p.Build(cfg, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s model '%s': %w", cfg.Provider, cfg.Key, err)
	}
	return newInstrumentedLLM(llm, f.metrics, f.tracer), nil
}

func builtinProviders() []Provider {
	return []Provider{
		{
			Slug:           string(model.ProviderOpenAI),
			RequiresSecret: true,
			BaseURLKey:     "base_url",
			Build: func(cfg ModelConfig, params map[string]any) (model.LLM, error) {
				var c openai.Config
				if err := decodeParams(cfg.Key, params, &c); err != nil {
					return nil, err
				}
				return openai.New(c)
			},
		},
		{
			Slug:       string(model.ProviderOllama),
			BaseURLKey: "host",
			Build: func(cfg ModelConfig, params map[string]any) (model.LLM, error) {
				var c ollama.Config
				if err := decodeParams(cfg.Key, params, &c); err != nil {
					return nil, err
				}
				return ollama.New(c)
			},
		},
	}
}

// decodeParams decodes params into out. Unknown keys are logged, except
// where out collects them itself.
func decodeParams(key string, params map[string]any, out any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		Metadata:         &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create parameter decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return apperr.Wrap(apperr.KindInvalidConfig, err, "Invalid parameters for model '%s'", key).With("model_key", key)
	}
	if len(md.Unused) > 0 {
		slog.Warn("Ignoring unsupported model parameters", "model_key", key, "params", md.Unused)
	}
	return nil
}

// secondsToDurationHook reads bare numbers as seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		}
		return data, nil
	}
}
