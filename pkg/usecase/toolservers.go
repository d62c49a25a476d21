package usecase

import (
	"context"
	"sort"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/mcp"
)

// ToolServerController is the administrative surface of mcp.Manager.
type ToolServerController interface {
	SystemStatus() mcp.SystemStatus
	TrackedConfigs() []mcp.ServerParams
	ReloadServer(ctx context.Context, name string) (*mcp.ReloadResult, error)
	ReloadAllServers(ctx context.Context) (*mcp.ReloadAllResult, error)
}

type ToolServerUsecase struct {
	servers ToolServerController
}

func NewToolServerUsecase(servers ToolServerController) *ToolServerUsecase {
	return &ToolServerUsecase{servers: servers}
}

// ListServers reports every running server sorted by name.
func (u *ToolServerUsecase) ListServers() *ListServersResponse {
	status := u.servers.SystemStatus()

	enabled := make(map[string]bool)
	for _, p := range u.servers.TrackedConfigs() {
		enabled[p.Name] = p.Enabled
	}

	names := make([]string, 0, len(status.Servers))
	for name := range status.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &ListServersResponse{Initialized: status.Initialized, Servers: make([]ServerInfo, 0, len(names))}
	for _, name := range names {
		s := status.Servers[name]
		functions := s.Functions
		if functions == nil {
			functions = []string{}
		}
		out.Servers = append(out.Servers, ServerInfo{
			Name:          name,
			Description:   s.Description,
			Connected:     s.Connected,
			Enabled:       enabled[name],
			FunctionCount: s.FunctionCount,
			Functions:     functions,
		})
	}
	return out
}

func (u *ToolServerUsecase) ReloadServer(ctx context.Context, name string) (*ReloadServerResponse, error) {
	res, err := u.servers.ReloadServer(ctx, name)
	if err != nil {
		return nil, err
	}
	r := toReloadResponse(*res)
	return &r, nil
}

func (u *ToolServerUsecase) ReloadAll(ctx context.Context) (*ReloadAllResponse, error) {
	res, err := u.servers.ReloadAllServers(ctx)
	if err != nil {
		return nil, err
	}
	out := &ReloadAllResponse{
		Success:       res.Success,
		ReloadedCount: res.ReloadedCount,
		FailedCount:   res.FailedCount,
		Results:       make([]ReloadServerResponse, 0, len(res.Results)),
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, toReloadResponse(r))
	}
	return out, nil
}

func toReloadResponse(r mcp.ReloadResult) ReloadServerResponse {
	return ReloadServerResponse{ServerName: r.ServerName, Success: r.Success, Message: r.Message}
}
