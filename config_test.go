package agentrt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigParsesProvidersAndPermissions(t *testing.T) {
	path := writeConfigFile(t, `
workingDir: /home/agent
providers:
  - id: anthropic
    model: claude-sonnet
  - id: openai
    model: gpt-4o
permissions:
  writeDirs: ["/home/agent/work"]
  readDirs: ["/home/agent/docs"]
  web: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/home/agent", cfg.WorkingDir)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "anthropic", cfg.Providers[0].Id)
	assert.Equal(t, "claude-sonnet", cfg.Providers[0].Model)

	perms := cfg.ToPermissions()
	assert.Equal(t, "/home/agent", perms.WorkingDir)
	assert.True(t, perms.Web)
	assert.Equal(t, []string{"/home/agent/work"}, perms.WriteDirs)
}

func TestLoadConfigRequiresWorkingDir(t *testing.T) {
	path := writeConfigFile(t, `providers: []`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
