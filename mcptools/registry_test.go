package mcptools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownServer(t *testing.T) {
	entry, ok := Lookup("filesystem")
	require.True(t, ok)
	assert.Equal(t, "npx", entry.Command)
}

func TestLookupUnknownServer(t *testing.T) {
	_, ok := Lookup("not-a-real-server")
	assert.False(t, ok)
}

func TestToServerConfigPullsRequiredEnv(t *testing.T) {
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "tok-123")
	entry, ok := Lookup("github")
	require.True(t, ok)

	cfg := entry.ToServerConfig(nil)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, "tok-123", cfg.Env["GITHUB_PERSONAL_ACCESS_TOKEN"])
}

func TestToServerConfigOverrideWinsOverEnv(t *testing.T) {
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "from-env")
	entry, _ := Lookup("github")

	cfg := entry.ToServerConfig(map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "from-override"})
	assert.Equal(t, "from-override", cfg.Env["GITHUB_PERSONAL_ACCESS_TOKEN"])
}

func TestToServerConfigSkipsUnsetRequiredEnv(t *testing.T) {
	t.Setenv("GITHUB_PERSONAL_ACCESS_TOKEN", "")
	entry, _ := Lookup("github")
	cfg := entry.ToServerConfig(nil)
	assert.Empty(t, cfg.Env)
}
