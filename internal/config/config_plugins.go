package config

import "github.com/haasonsaas/agentrun/internal/mcp"

// PluginsConfig holds the plugins.* keys from spec.md §6: opt-in external
// tool loading via the Model Context Protocol bridge (SPEC_FULL.md §6).
type PluginsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Allowlist names the MCP server ids that may be connected when
	// Enabled is true; a server absent from this list is never started
	// even if present in Servers.
	Allowlist []string `yaml:"allowlist"`

	Servers []*mcp.ServerConfig `yaml:"servers"`
}

// ToMCPConfig filters Servers down to those named in Allowlist and returns
// the shape internal/mcp.NewManager consumes.
func (c PluginsConfig) ToMCPConfig() *mcp.Config {
	if !c.Enabled {
		return &mcp.Config{Enabled: false}
	}

	allowed := make(map[string]struct{}, len(c.Allowlist))
	for _, id := range c.Allowlist {
		allowed[id] = struct{}{}
	}

	servers := make([]*mcp.ServerConfig, 0, len(c.Servers))
	for _, server := range c.Servers {
		if server == nil {
			continue
		}
		if _, ok := allowed[server.ID]; ok {
			servers = append(servers, server)
		}
	}

	return &mcp.Config{Enabled: true, Servers: servers}
}
