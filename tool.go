package agentrt

import (
	"context"
	"fmt"
	"sync"
)

// ToolCallContext is handed to a tool's Execute call: the owning agent, its
// current permissions, and the routing context of the turn driving the call.
type ToolCallContext struct {
	AgentId     AgentId
	Permissions Permissions
	Routing     RoutingContext
}

// ToolFunc executes one tool call and must always return a toolResult,
// never an error escaping to the caller -- internal failures are converted
// to an error-flagged ToolResultMsg by the resolver.
type ToolFunc func(ctx context.Context, args map[string]any, call ToolCallContext, toolCallId string) (ToolResultMsg, error)

// Tool is one named, schema-validated capability the model may invoke.
type Tool struct {
	Name        string
	Description string
	Schema      ToolSchema
	Execute     ToolFunc
}

// ToolResolver maps tool name to {schema, execute} per §4.7. All execute
// paths return a toolResult; an unknown name synthesizes an error result
// rather than failing the caller.
type ToolResolver struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolResolver creates an empty resolver.
func NewToolResolver() *ToolResolver {
	return &ToolResolver{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool definition.
func (r *ToolResolver) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Schemas returns the schema of every registered tool, for building the
// inference request's tool list.
func (r *ToolResolver) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema)
	}
	return out
}

// Resolve executes the named tool against args. An unknown name, a nil
// Execute func, or a panic inside Execute is converted into an error
// toolResult rather than propagated -- the resolver never throws.
func (r *ToolResolver) Resolve(ctx context.Context, call ToolCall, callCtx ToolCallContext) ToolResultMsg {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	r.mu.RUnlock()

	if !ok {
		return ToolResultMsg{
			ToolCallId: call.Id,
			Name:       call.Name,
			Text:       fmt.Sprintf("Unknown tool: %s", call.Name),
			IsError:    true,
		}
	}

	if err := validateArgs(t.Schema.InputSchema, call.Arguments); err != nil {
		return ToolResultMsg{
			ToolCallId: call.Id,
			Name:       call.Name,
			Text:       err.Error(),
			IsError:    true,
		}
	}

	return r.safeExecute(ctx, t, call, callCtx)
}

// validateArgs checks args against a JSON-schema-shaped InputSchema before
// any Execute runs, per §4.4 step 4c / §4.7: required fields must be
// present, and any property with a declared "type" must match it. A schema
// with no "required"/"properties" entries imposes no constraint.
func validateArgs(schema map[string]any, args map[string]any) error {
	for _, name := range requiredFields(schema) {
		if _, ok := args[name]; !ok {
			return &ValidationError{Field: name, Message: "required argument missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" || value == nil {
			continue
		}
		if !jsonTypeMatches(value, wantType) {
			return &ValidationError{Field: name, Message: fmt.Sprintf("expected type %q", wantType)}
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func jsonTypeMatches(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "integer":
		switch v := value.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}

func (r *ToolResolver) safeExecute(ctx context.Context, t Tool, call ToolCall, callCtx ToolCallContext) (result ToolResultMsg) {
	defer func() {
		if rec := recover(); rec != nil {
			wrapped := &ToolError{ToolName: call.Name, Err: fmt.Errorf("panic: %v", rec)}
			result = ToolResultMsg{
				ToolCallId: call.Id,
				Name:       call.Name,
				Text:       wrapped.Error(),
				IsError:    true,
			}
		}
	}()

	if t.Execute == nil {
		err := &ToolError{ToolName: call.Name, Err: fmt.Errorf("tool has no implementation")}
		return ToolResultMsg{ToolCallId: call.Id, Name: call.Name, Text: err.Error(), IsError: true}
	}

	res, err := t.Execute(ctx, call.Arguments, callCtx, call.Id)
	if err != nil {
		wrapped := &ToolError{ToolName: call.Name, Err: err}
		return ToolResultMsg{ToolCallId: call.Id, Name: call.Name, Text: wrapped.Error(), IsError: true}
	}
	res.ToolCallId = call.Id
	res.Name = call.Name
	return res
}
