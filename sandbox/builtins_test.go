package sandbox

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthside-labs/agentrt"
)

func TestReadFileToolRespectsPermissions(t *testing.T) {
	dir := t.TempDir()
	perms := agentrt.DefaultPermissions(dir)
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, (&Executor{}).WriteFile(agentrt.Permissions{WorkingDir: dir, WriteDirs: []string{dir}}, path, []byte("hello")))

	resolver := agentrt.NewToolResolver()
	executor := &Executor{}
	resolver.Register(ReadFileTool(executor))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{
		Id: "1", Name: "read_file", Arguments: map[string]any{"path": path},
	}, agentrt.ToolCallContext{Permissions: perms})
	assert.False(t, res.IsError)
	assert.Equal(t, "hello", res.Text)
}

func TestReadFileToolDeniesOutsideScope(t *testing.T) {
	resolver := agentrt.NewToolResolver()
	resolver.Register(ReadFileTool(&Executor{}))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{
		Id: "1", Name: "read_file", Arguments: map[string]any{"path": "/etc/passwd"},
	}, agentrt.ToolCallContext{Permissions: agentrt.DefaultPermissions(t.TempDir())})
	assert.True(t, res.IsError)
}

func TestReadFileToolRejectsMissingArgument(t *testing.T) {
	resolver := agentrt.NewToolResolver()
	resolver.Register(ReadFileTool(&Executor{}))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{Id: "1", Name: "read_file"}, agentrt.ToolCallContext{})
	assert.True(t, res.IsError)
}

func TestWriteFileToolRespectsPermissions(t *testing.T) {
	dir := t.TempDir()
	perms := agentrt.Permissions{WorkingDir: dir, WriteDirs: []string{dir}}
	path := filepath.Join(dir, "out.txt")

	resolver := agentrt.NewToolResolver()
	resolver.Register(WriteFileTool(&Executor{}))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{
		Id: "1", Name: "write_file", Arguments: map[string]any{"path": path, "content": "hi"},
	}, agentrt.ToolCallContext{Permissions: perms})
	require.False(t, res.IsError)

	data, err := (&Executor{}).ReadFile(perms, path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestExecToolRunsCommandOnHost(t *testing.T) {
	dir := t.TempDir()
	perms := agentrt.DefaultPermissions(dir)

	resolver := agentrt.NewToolResolver()
	resolver.Register(ExecTool(&Executor{}))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{
		Id: "1", Name: "exec", Arguments: map[string]any{"command": []any{"echo", "hi"}},
	}, agentrt.ToolCallContext{Permissions: perms})
	require.False(t, res.IsError)
	assert.Contains(t, res.Text, "hi")
}

func TestExecToolRejectsNonArrayCommand(t *testing.T) {
	resolver := agentrt.NewToolResolver()
	resolver.Register(ExecTool(&Executor{}))

	res := resolver.Resolve(context.Background(), agentrt.ToolCall{
		Id: "1", Name: "exec", Arguments: map[string]any{"command": "echo hi"},
	}, agentrt.ToolCallContext{})
	assert.True(t, res.IsError)
}

func TestBuiltinToolsReturnsAllThree(t *testing.T) {
	tools := BuiltinTools(&Executor{})
	assert.Len(t, tools, 3)
}
