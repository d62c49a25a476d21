package usecase

import (
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
)

// ModelRegistry is the model-management surface of llm.AgentFactory.
type ModelRegistry interface {
	AvailableModels() ([]llm.ModelDescriptor, error)
	ActiveModelKey() (string, error)
	SetActiveModelKey(key string) error
	RegisterModel(cfg llm.ModelConfig, setActive bool) error
}

type ModelManagementUsecase struct {
	registry ModelRegistry
}

func NewModelManagementUsecase(registry ModelRegistry) *ModelManagementUsecase {
	return &ModelManagementUsecase{registry: registry}
}

// ListModels returns every registered model and the active key.
func (u *ModelManagementUsecase) ListModels() (*ListModelsResponse, error) {
	models, err := u.registry.AvailableModels()
	if err != nil {
		return nil, err
	}
	active, err := u.registry.ActiveModelKey()
	if err != nil {
		return nil, err
	}

	out := &ListModelsResponse{ActiveModelKey: active, Models: make([]ModelDescriptor, 0, len(models))}
	for _, m := range models {
		out.Models = append(out.Models, ModelDescriptor{
			Key:               m.Key,
			Provider:          m.Provider,
			ModelID:           m.ModelID,
			SupportsStreaming: m.SupportsStreaming,
			Metadata:          nonEmpty(m.Metadata),
		})
	}
	return out, nil
}

// SetActiveModel fails with not_found for unknown keys.
func (u *ModelManagementUsecase) SetActiveModel(key string) error {
	return u.registry.SetActiveModelKey(key)
}

// UpsertModel registers req and returns its descriptor.
func (u *ModelManagementUsecase) UpsertModel(req *UpsertModelRequest) (*ModelDescriptor, error) {
	streaming := true
	if req.SupportsStreaming != nil {
		streaming = *req.SupportsStreaming
	}
	cfg := llm.ModelConfig{
		Key:               req.Key,
		Provider:          req.Provider,
		ModelID:           req.ModelID,
		APIKeyEnv:         req.APIKeyEnv,
		BaseURL:           req.BaseURL,
		DefaultParams:     copyMap(req.DefaultParams),
		SupportsStreaming: streaming,
		Metadata:          copyMap(req.Metadata),
	}
	if err := u.registry.RegisterModel(cfg, req.SetActive); err != nil {
		return nil, err
	}

	return &ModelDescriptor{
		Key:               cfg.Key,
		Provider:          cfg.Provider,
		ModelID:           cfg.ModelID,
		SupportsStreaming: cfg.SupportsStreaming,
		Metadata:          nonEmpty(cfg.Metadata),
		BaseURL:           cfg.BaseURL,
	}, nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}
