package usecase

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/llm"
	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
)

func newModelUsecase(t *testing.T) *ModelManagementUsecase {
	t.Helper()
	dir := t.TempDir()
	store := llm.NewStore(filepath.Join(dir, "models.json"), filepath.Join(dir, "active.txt"))
	factory := llm.NewAgentFactory(store, llm.NewProviderFactory(llm.SecretFunc(func(string) string { return "" })))
	return NewModelManagementUsecase(factory)
}

func TestModelManagement_ListModels(t *testing.T) {
	u := newModelUsecase(t)

	res, err := u.ListModels()
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-4o-mini", res.ActiveModelKey)
	require.Len(t, res.Models, 2)
	assert.Equal(t, "gpt-4o-mini", res.Models[0].ModelID)
	assert.Equal(t, "OpenAI GPT-4o mini", res.Models[0].Metadata["display_name"])
}

func TestModelManagement_UpsertAndActivate(t *testing.T) {
	u := newModelUsecase(t)

	desc, err := u.UpsertModel(&UpsertModelRequest{
		Key:       "ollama:qwen2.5",
		Provider:  "ollama",
		ModelID:   "qwen2.5",
		APIKeyEnv: "OLLAMA_API_KEY",
		BaseURL:   "http://gpu-box:11434",
		SetActive: true,
	})
	require.NoError(t, err)
	assert.True(t, desc.SupportsStreaming, "streaming defaults to true")
	assert.Equal(t, "http://gpu-box:11434", desc.BaseURL)
	assert.Nil(t, desc.Metadata)

	res, err := u.ListModels()
	require.NoError(t, err)
	assert.Equal(t, "ollama:qwen2.5", res.ActiveModelKey)
	assert.Len(t, res.Models, 3)

	require.NoError(t, u.SetActiveModel("openai:gpt-4o-mini"))
	err = u.SetActiveModel("missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestModelManagement_UpsertRejectsLiteralSecret(t *testing.T) {
	u := newModelUsecase(t)
	_, err := u.UpsertModel(&UpsertModelRequest{Key: "k", Provider: "openai", ModelID: "m", APIKeyEnv: "sk=live"})
	assert.Equal(t, apperr.KindInvalidConfig, apperr.KindOf(err))
}

type fakeServers struct {
	status    mcp.SystemStatus
	tracked   []mcp.ServerParams
	reloadErr error
	reloaded  []string
}

func (f *fakeServers) SystemStatus() mcp.SystemStatus     { return f.status }
func (f *fakeServers) TrackedConfigs() []mcp.ServerParams { return f.tracked }

func (f *fakeServers) ReloadServer(_ context.Context, name string) (*mcp.ReloadResult, error) {
	f.reloaded = append(f.reloaded, name)
	if f.reloadErr != nil {
		return nil, f.reloadErr
	}
	return &mcp.ReloadResult{ServerName: name, Success: true, Message: "ok"}, nil
}

func (f *fakeServers) ReloadAllServers(context.Context) (*mcp.ReloadAllResult, error) {
	if f.reloadErr != nil {
		return nil, f.reloadErr
	}
	return &mcp.ReloadAllResult{
		Success:       true,
		ReloadedCount: 1,
		FailedCount:   1,
		Results: []mcp.ReloadResult{
			{ServerName: "filesystem", Success: true, Message: "ok"},
			{ServerName: "brave-search", Message: "Failed to reload: exit status 1"},
		},
	}, nil
}

func TestToolServers_ListServers(t *testing.T) {
	servers := &fakeServers{
		status: mcp.SystemStatus{
			Initialized: true,
			Servers: map[string]mcp.ServerStatus{
				"time":       {Connected: true},
				"filesystem": {Connected: true, FunctionCount: 2, Functions: []string{"read_file", "write_file"}, Description: "Files"},
			},
		},
		tracked: []mcp.ServerParams{{Name: "filesystem", Enabled: true}},
	}
	res := NewToolServerUsecase(servers).ListServers()

	assert.True(t, res.Initialized)
	require.Len(t, res.Servers, 2)
	assert.Equal(t, ServerInfo{
		Name: "filesystem", Description: "Files", Connected: true, Enabled: true,
		FunctionCount: 2, Functions: []string{"read_file", "write_file"},
	}, res.Servers[0])
	assert.Equal(t, "time", res.Servers[1].Name)
	assert.False(t, res.Servers[1].Enabled)
	assert.NotNil(t, res.Servers[1].Functions)
}

func TestToolServers_Reload(t *testing.T) {
	servers := &fakeServers{}
	u := NewToolServerUsecase(servers)

	one, err := u.ReloadServer(context.Background(), "filesystem")
	require.NoError(t, err)
	assert.Equal(t, ReloadServerResponse{ServerName: "filesystem", Success: true, Message: "ok"}, *one)

	all, err := u.ReloadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, all.FailedCount)
	require.Len(t, all.Results, 2)
	assert.False(t, all.Results[1].Success)

	servers.reloadErr = apperr.ServerNotFound("ghost")
	_, err = u.ReloadServer(context.Background(), "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = u.ReloadAll(context.Background())
	assert.Error(t, err)
}
