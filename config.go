package agentrt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for one AgentSystem deployment: the
// provider list the InferenceRouter starts with, the default permission
// scope newly created agents get, and where durable state lives. It says
// nothing about cron jobs or MCP servers: those are configured in code
// through cronfacade.Job and mcptools.ServerConfig values, and neither
// subpackage reads this file.
type Config struct {
	WorkingDir  string           `yaml:"workingDir"`
	Providers   []ProviderConfig `yaml:"providers"`
	Permissions ConfigPermissions `yaml:"permissions"`
}

// ConfigPermissions is the YAML-shaped mirror of Permissions' non-working-dir
// fields; WorkingDir is filled in from Config.WorkingDir when building the
// runtime Permissions value via ToPermissions.
type ConfigPermissions struct {
	WriteDirs []string `yaml:"writeDirs"`
	ReadDirs  []string `yaml:"readDirs"`
	Web       bool     `yaml:"web"`
}

// ToPermissions builds the runtime Permissions value new agents start with.
func (c Config) ToPermissions() Permissions {
	return Permissions{
		WorkingDir: c.WorkingDir,
		WriteDirs:  c.Permissions.WriteDirs,
		ReadDirs:   c.Permissions.ReadDirs,
		Web:        c.Permissions.Web,
	}
}

// LoadConfig reads and parses a YAML config file from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	if cfg.WorkingDir == "" {
		return Config{}, fmt.Errorf("config: workingDir is required")
	}
	return cfg, nil
}
