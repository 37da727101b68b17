package agentrt

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory Store used by tests in place of the durable
// filesystem-backed implementation.
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[AgentId]StorageId
	states    map[AgentId]AgentState
	notes     []string
	preloaded []LoadedAgent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[AgentId]StorageId),
		states:   make(map[AgentId]AgentState),
	}
}

func (f *fakeStore) RecordSessionCreated(agentId AgentId, storageId StorageId, descriptor Descriptor, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[agentId] = storageId
	return nil
}

func (f *fakeStore) RecordIncoming(agentId AgentId, text string, files []FileRef, ctx RoutingContext, at time.Time) error {
	return nil
}

func (f *fakeStore) RecordOutgoing(agentId AgentId, text string, files []FileRef, ctx RoutingContext, origin string, at time.Time) error {
	return nil
}

func (f *fakeStore) RecordState(agentId AgentId, state AgentState, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[agentId] = state
	return nil
}

func (f *fakeStore) RecordNote(agentId AgentId, kind, text string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, kind)
	return nil
}

func (f *fakeStore) LoadAgents() ([]LoadedAgent, error) {
	return f.preloaded, nil
}

func (f *fakeStore) ReadHistory(agentId AgentId) ([]AgentHistoryRecord, error) {
	return nil, nil
}

func (f *fakeStore) stateOf(id AgentId) (AgentState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[id]
	return s, ok
}

// fakeConnector records what it was asked to send and can be pre-programmed
// with a permission decision response.
type fakeConnector struct {
	mu       sync.Mutex
	sent     []OutgoingMessage
	typing   int
	decision PermissionDecision
}

func (c *fakeConnector) OnMessage(handler func(source, text string, ctx RoutingContext)) Unsubscribe {
	return func() {}
}

func (c *fakeConnector) SendMessage(ctx context.Context, targetId string, msg OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConnector) StartTyping(ctx context.Context, targetId string) StopTyping {
	c.mu.Lock()
	c.typing++
	c.mu.Unlock()
	return func() {}
}

func (c *fakeConnector) RequestPermission(ctx context.Context, targetId string, req PermissionRequest, rctx RoutingContext, descriptor Descriptor) (PermissionDecision, error) {
	return c.decision, nil
}

func (c *fakeConnector) Shutdown(ctx context.Context, reason string) error { return nil }

func (c *fakeConnector) lastSent() (OutgoingMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return OutgoingMessage{}, false
	}
	return c.sent[len(c.sent)-1], true
}

// replyClient answers every Complete call with a fixed text message and no
// tool calls.
type replyClient struct{ text string }

func (r *replyClient) ModelId() string { return "fake-model" }
func (r *replyClient) Complete(ctx context.Context, in InferenceContext, opts CompleteOptions) (Message, error) {
	return NewAssistantMessage(r.text, time.Now()), nil
}

// toolCallThenReplyClient issues one tool call on its first invocation and a
// plain text reply on the second.
type toolCallThenReplyClient struct {
	toolName string
	called   bool
}

func (c *toolCallThenReplyClient) ModelId() string { return "fake-model" }
func (c *toolCallThenReplyClient) Complete(ctx context.Context, in InferenceContext, opts CompleteOptions) (Message, error) {
	if !c.called {
		c.called = true
		return Message{
			Role: RoleAssistant,
			Content: []ContentBlock{
				{Type: "toolCall", ToolCall: &ToolCall{Id: "tc1", Name: c.toolName, Arguments: map[string]any{}}},
			},
			At: time.Now(),
		}, nil
	}
	return NewAssistantMessage("done", time.Now()), nil
}

// alwaysToolCallClient always returns a tool call, to exercise the
// iteration-cap path.
type alwaysToolCallClient struct{ toolName string }

func (c *alwaysToolCallClient) ModelId() string { return "fake-model" }
func (c *alwaysToolCallClient) Complete(ctx context.Context, in InferenceContext, opts CompleteOptions) (Message, error) {
	return Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: "toolCall", ToolCall: &ToolCall{Id: "tc", Name: c.toolName, Arguments: map[string]any{}}},
		},
		At: time.Now(),
	}, nil
}

func singleProviderRouter(client InferenceClient) *InferenceRouter {
	router := NewInferenceRouter(map[string]ProviderFactory{
		"p1": func(cfg ProviderConfig) (InferenceClient, error) { return client, nil },
	}, nil)
	router.UpdateProviders([]ProviderConfig{{Id: "p1"}})
	return router
}
