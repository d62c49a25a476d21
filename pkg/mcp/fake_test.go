package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/tool"
)

type fakeTool struct {
	name  string
	calls atomic.Int32
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake " + f.name }
func (f *fakeTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Call(_ context.Context, args map[string]any) (map[string]any, error) {
	f.calls.Add(1)
	return map[string]any{"result": fmt.Sprintf("%s(%v)", f.name, args)}, nil
}

type fakeSession struct {
	server    string
	functions map[string]tool.Tool
	closeErr  error
	closed    atomic.Int32
}

func newFakeSession(server string, names ...string) *fakeSession {
	s := &fakeSession{server: server, functions: make(map[string]tool.Tool, len(names))}
	for _, n := range names {
		s.functions[n] = &fakeTool{name: n}
	}
	return s
}

func (s *fakeSession) Functions() map[string]tool.Tool { return s.functions }

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

// fakeLauncher hands out sessions exposing the configured functions per
// server and fails servers listed in fail.
type fakeLauncher struct {
	mu        sync.Mutex
	functions map[string][]string
	fail      map[string]error
	panics    map[string]any
	launched  []*fakeSession
	count     map[string]int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		functions: map[string][]string{},
		fail:      map[string]error{},
		panics:    map[string]any{},
		count:     map[string]int{},
	}
}

func (l *fakeLauncher) Launch(_ context.Context, p ServerParams) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count[p.Name]++
	if v, ok := l.panics[p.Name]; ok {
		panic(v)
	}
	if err := l.fail[p.Name]; err != nil {
		return nil, err
	}
	s := newFakeSession(p.Name, l.functions[p.Name]...)
	l.launched = append(l.launched, s)
	return s, nil
}

func (l *fakeLauncher) setFail(name string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.fail, name)
		return
	}
	l.fail[name] = err
}

func (l *fakeLauncher) setPanic(name string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.panics[name] = v
}

func (l *fakeLauncher) launches(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count[name]
}

func (l *fakeLauncher) sessions(name string) []*fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*fakeSession
	for _, s := range l.launched {
		if s.server == name {
			out = append(out, s)
		}
	}
	return out
}

type fakeParams struct {
	mu       sync.Mutex
	settings Settings
	params   []ServerParams
}

func (f *fakeParams) Settings() Settings { return f.settings }

func (f *fakeParams) DefaultParams() []ServerParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ServerParams(nil), f.params...)
}

func (f *fakeParams) set(params ...ServerParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = params
}

func (f *fakeParams) ValidateConfig(p *ServerParams) bool {
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = 60
	}
	return p.Name != "" && p.Command != ""
}

func (f *fakeParams) CheckEnvironmentRequirements(context.Context) map[string]bool {
	return map[string]bool{RequirementSystemEnabled: f.settings.Enabled}
}

func server(name string, enabled bool) ServerParams {
	return ServerParams{
		Name:           name,
		Command:        "npx " + name,
		TimeoutSeconds: 5,
		Enabled:        enabled,
		Description:    name + " server",
	}
}
