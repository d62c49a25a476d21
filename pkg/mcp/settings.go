package mcp

import (
	"slices"
	"strings"
	"time"
)

// Settings configures tool-server discovery and launch.
type Settings struct {
	// Enabled is the global switch for the tool-server subsystem.
	Enabled bool

	// LauncherCommand replaces the generic "npx" launcher token.
	LauncherCommand string

	// BasePath is substituted for {BASE_PATH} in descriptors.
	BasePath string

	// NodeEnv is exported as NODE_ENV to servers that do not set it.
	NodeEnv string

	DefaultTimeout time.Duration

	// EnabledServers is the lower-cased allow-list of server names.
	EnabledServers []string

	// ServersConfigFile overrides the bundled descriptor document when the
	// file exists.
	ServersConfigFile string

	BraveAPIKey         string
	PostgresDatabaseURL string
}

// IsServerEnabled reports whether name passes the global switch and the
// allow-list. Matching is case-insensitive.
func (s Settings) IsServerEnabled(name string) bool {
	return s.Enabled && slices.Contains(s.EnabledServers, strings.ToLower(strings.TrimSpace(name)))
}

func (s Settings) launcher() string {
	if s.LauncherCommand == "" {
		return "npx"
	}
	return s.LauncherCommand
}

func (s Settings) defaultTimeoutSeconds() int {
	secs := int(s.DefaultTimeout / time.Second)
	if secs <= 0 {
		return 60
	}
	return secs
}
