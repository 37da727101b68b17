package mcptools

import (
	"os"
	"time"
)

// Transport names a supported MCP client transport.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	ToolPrefix string
	Timeout   time.Duration
}

// RegistryEntry describes a well-known MCP server, keyed by short name for
// use in configuration.
type RegistryEntry struct {
	Name        string
	Description string
	Command     string
	Args        []string
	RequiredEnv []string
	OptionalEnv []string
}

// DefaultRegistry lists well-known MCP servers a ServerConfig can be built from.
var DefaultRegistry = map[string]RegistryEntry{
	"filesystem": {
		Name:        "filesystem",
		Description: "File system access (read, write, search, list)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem"},
	},
	"memory": {
		Name:        "memory",
		Description: "Persistent knowledge graph memory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	"fetch": {
		Name:        "fetch",
		Description: "HTTP fetch for web content retrieval",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-fetch"},
	},
	"sqlite": {
		Name:        "sqlite",
		Description: "SQLite database access",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-sqlite"},
	},
	"github": {
		Name:        "github",
		Description: "GitHub API access (repos, issues, PRs, files)",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		RequiredEnv: []string{"GITHUB_PERSONAL_ACCESS_TOKEN"},
	},
}

// Lookup finds a registry entry by short name.
func Lookup(name string) (RegistryEntry, bool) {
	entry, ok := DefaultRegistry[name]
	return entry, ok
}

// ToServerConfig builds a ServerConfig from a registry entry, auto-populating
// required/optional env from the process environment and letting override
// take final precedence.
func (e RegistryEntry) ToServerConfig(override map[string]string) ServerConfig {
	cfg := ServerConfig{
		Name:      e.Name,
		Transport: TransportStdio,
		Command:   e.Command,
		Args:      append([]string{}, e.Args...),
		Env:       make(map[string]string),
		Timeout:   30 * time.Second,
	}
	for _, key := range e.RequiredEnv {
		if v := os.Getenv(key); v != "" {
			cfg.Env[key] = v
		}
	}
	for _, key := range e.OptionalEnv {
		if v := os.Getenv(key); v != "" {
			cfg.Env[key] = v
		}
	}
	for k, v := range override {
		cfg.Env[k] = v
	}
	return cfg
}
