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
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/agent"
)

// AgentOptions selects the model and session of a new agent.
type AgentOptions struct {
	// ModelKey defaults to the active key.
	ModelKey  string
	SessionID string
	// Overrides take precedence over the model's default params.
	Overrides map[string]any
}

// ModelDescriptor is the client-facing summary of a registered model.
type ModelDescriptor struct {
	Key               string
	Provider          string
	ModelID           string
	SupportsStreaming bool
	Metadata          map[string]any
}

// AgentFactory creates agents from the runtime model registry.
type AgentFactory struct {
	store     *Store
	providers *ProviderFactory
}

func NewAgentFactory(store *Store, providers *ProviderFactory) *AgentFactory {
	return &AgentFactory{store: store, providers: providers}
}

// CreateAgent builds an agent bound to opts.ModelKey, or to the active
// model when it is empty.
func (f *AgentFactory) CreateAgent(opts AgentOptions) (*agent.Agent, error) {
	key := opts.ModelKey
	if key == "" {
		var err error
		if key, err = f.store.GetActiveModelKey(); err != nil {
			return nil, err
		}
	}

	cfg, err := f.store.GetConfig(key)
	if err != nil {
		return nil, err
	}
	llm, err := f.providers.Build(cfg, opts.Overrides)
	if err != nil {
		return nil, err
	}

	return agent.New(agent.Config{
		Name:        cfg.metaString("name", cfg.Key),
		Description: cfg.metaString("description", ""),
		Instruction: cfg.metaString("instruction", ""),
		SessionID:   opts.SessionID,
		Model:       llm,
		Debug:       cfg.metaBool("debug"),
	})
}

// AvailableModels lists every registered model in registry order.
func (f *AgentFactory) AvailableModels() ([]ModelDescriptor, error) {
	configs, err := f.store.ListConfigs()
	if err != nil {
		return nil, err
	}
	out := make([]ModelDescriptor, 0, len(configs))
	for _, c := range configs {
		out = append(out, ModelDescriptor{
			Key:               c.Key,
			Provider:          c.Provider,
			ModelID:           c.ModelID,
			SupportsStreaming: c.SupportsStreaming,
			Metadata:          c.Metadata,
		})
	}
	return out, nil
}

func (f *AgentFactory) ActiveModelKey() (string, error) {
	return f.store.GetActiveModelKey()
}

func (f *AgentFactory) SetActiveModelKey(key string) error {
	return f.store.SetActiveModelKey(key)
}

// RegisterModel upserts cfg and optionally makes it active.
func (f *AgentFactory) RegisterModel(cfg ModelConfig, setActive bool) error {
	if err := f.store.UpsertConfig(cfg); err != nil {
		return err
	}
	if setActive {
		return f.store.SetActiveModelKey(cfg.Key)
	}
	return nil
}
