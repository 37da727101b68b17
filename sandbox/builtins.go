package sandbox

import (
	"context"
	"fmt"

	"github.com/hearthside-labs/agentrt"
)

// BuiltinTools returns the filesystem/exec tool set backed by executor,
// ready to pass to ToolResolver.Register. An embedding application opts
// into sandboxed execution by registering these instead of, or alongside,
// its own tools -- the engine itself does not force any particular tool
// through a sandbox.Executor.
func BuiltinTools(executor *Executor) []agentrt.Tool {
	return []agentrt.Tool{
		ReadFileTool(executor),
		WriteFileTool(executor),
		ExecTool(executor),
	}
}

// ReadFileTool reads a file from within the calling agent's permitted
// read scope.
func ReadFileTool(executor *Executor) agentrt.Tool {
	schema := agentrt.ToolSchema{
		Name:        "read_file",
		Description: "Read the contents of a file within the agent's permitted directories.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"path"},
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
	}
	return agentrt.Tool{
		Name:        schema.Name,
		Description: schema.Description,
		Schema:      schema,
		Execute: func(ctx context.Context, args map[string]any, call agentrt.ToolCallContext, toolCallId string) (agentrt.ToolResultMsg, error) {
			path, _ := args["path"].(string)
			data, err := executor.ReadFile(call.Permissions, path)
			if err != nil {
				return agentrt.ToolResultMsg{Text: err.Error(), IsError: true}, nil
			}
			return agentrt.ToolResultMsg{Text: string(data)}, nil
		},
	}
}

// WriteFileTool writes a file within the calling agent's permitted write
// scope.
func WriteFileTool(executor *Executor) agentrt.Tool {
	schema := agentrt.ToolSchema{
		Name:        "write_file",
		Description: "Write contents to a file within the agent's permitted write directories.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"path", "content"},
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
		},
	}
	return agentrt.Tool{
		Name:        schema.Name,
		Description: schema.Description,
		Schema:      schema,
		Execute: func(ctx context.Context, args map[string]any, call agentrt.ToolCallContext, toolCallId string) (agentrt.ToolResultMsg, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if err := executor.WriteFile(call.Permissions, path, []byte(content)); err != nil {
				return agentrt.ToolResultMsg{Text: err.Error(), IsError: true}, nil
			}
			return agentrt.ToolResultMsg{Text: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
		},
	}
}

// ExecTool runs a shell command through executor, containerized when
// available and directly on the host otherwise.
func ExecTool(executor *Executor) agentrt.Tool {
	schema := agentrt.ToolSchema{
		Name:        "exec",
		Description: "Run a command within the agent's sandbox.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "array"},
			},
		},
	}
	return agentrt.Tool{
		Name:        schema.Name,
		Description: schema.Description,
		Schema:      schema,
		Execute: func(ctx context.Context, args map[string]any, call agentrt.ToolCallContext, toolCallId string) (agentrt.ToolResultMsg, error) {
			command, err := toStringSlice(args["command"])
			if err != nil {
				return agentrt.ToolResultMsg{Text: err.Error(), IsError: true}, nil
			}
			res, err := executor.Run(ctx, call.AgentId, call.Permissions, command)
			if err != nil {
				return agentrt.ToolResultMsg{Text: err.Error(), IsError: true}, nil
			}
			text := res.Stdout
			if res.ExitCode != 0 {
				return agentrt.ToolResultMsg{Text: fmt.Sprintf("exit %d: %s", res.ExitCode, res.Stderr), IsError: true}, nil
			}
			return agentrt.ToolResultMsg{Text: text}, nil
		},
	}
}

func toStringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("sandbox: command must be an array of strings")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("sandbox: command entries must be strings")
		}
		out = append(out, s)
	}
	return out, nil
}
