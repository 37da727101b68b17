package agentrt

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, c *Completion) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Await(ctx)
	require.NoError(t, err)
}

func newTestAgent(t *testing.T, client InferenceClient, conn Connector) (*Agent, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	bus := NewEventBus(slog.Default())
	router := singleProviderRouter(client)
	tools := NewToolResolver()

	connectors := map[string]Connector{}
	if conn != nil {
		connectors["telegram"] = conn
	}

	descriptor := UserDescriptor("telegram", "chan1", "user1")
	state := NewAgentState(descriptor, "/home/agent", time.Now())
	agent := NewAgent(NewAgentId(), NewStorageId(), state, AgentDeps{
		Store:  store,
		Bus:    bus,
		Router: router,
		Tools:  tools,
		Connectors: func(source string) (Connector, bool) {
			c, ok := connectors[source]
			return c, ok
		},
		Log: slog.Default(),
	})
	agent.Start()
	t.Cleanup(agent.Shutdown)
	return agent, store
}

func TestAgentProcessMessageDeliversModelReply(t *testing.T) {
	conn := &fakeConnector{}
	agent, store := newTestAgent(t, &replyClient{text: "hello there"}, conn)

	completion := NewCompletion()
	agent.Post(NewMessageItem("telegram", "hi", RoutingContext{ChannelId: "chan1", UserId: "user1", MessageId: "m1"}), completion)
	await(t, completion)

	sent, ok := conn.lastSent()
	require.True(t, ok)
	assert.Equal(t, "hello there", sent.Text)
	assert.Equal(t, "m1", sent.ReplyToMessageId)

	state, ok := store.stateOf(agent.Id())
	require.True(t, ok)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, "chan1", state.Routing.ChannelId)
}

func TestAgentRunsToolLoopBeforeReplying(t *testing.T) {
	resolver := NewToolResolver()
	called := false
	resolver.Register(Tool{
		Name: "echo",
		Execute: func(ctx context.Context, args map[string]any, call ToolCallContext, toolCallId string) (ToolResultMsg, error) {
			called = true
			return ToolResultMsg{Text: "ok"}, nil
		},
	})

	store := newFakeStore()
	router := singleProviderRouter(&toolCallThenReplyClient{toolName: "echo"})
	agent := NewAgent(NewAgentId(), NewStorageId(), NewAgentState(UserDescriptor("telegram", "c", "u"), "/home", time.Now()), AgentDeps{
		Store:  store,
		Router: router,
		Tools:  resolver,
		Log:    slog.Default(),
	})
	agent.Start()
	t.Cleanup(agent.Shutdown)

	completion := NewCompletion()
	agent.Post(NewMessageItem("telegram", "do it", RoutingContext{ChannelId: "c", UserId: "u"}), completion)
	await(t, completion)

	assert.True(t, called)
	state, _ := store.stateOf(agent.Id())
	assert.Equal(t, "done", state.Messages[len(state.Messages)-1].Text())
}

func TestAgentIterationCapIsTreatedAsSuccess(t *testing.T) {
	resolver := NewToolResolver()
	resolver.Register(Tool{
		Name: "loopy",
		Execute: func(ctx context.Context, args map[string]any, call ToolCallContext, toolCallId string) (ToolResultMsg, error) {
			return ToolResultMsg{Text: "again"}, nil
		},
	})

	store := newFakeStore()
	router := singleProviderRouter(&alwaysToolCallClient{toolName: "loopy"})
	conn := &fakeConnector{}
	agent := NewAgent(NewAgentId(), NewStorageId(), NewAgentState(UserDescriptor("telegram", "c", "u"), "/home", time.Now()), AgentDeps{
		Store:  store,
		Router: router,
		Tools:  resolver,
		Connectors: func(source string) (Connector, bool) { return conn, true },
		Log: slog.Default(),
	})
	agent.Start()
	t.Cleanup(agent.Shutdown)

	completion := NewCompletion()
	agent.Post(NewMessageItem("telegram", "loop forever", RoutingContext{ChannelId: "c", UserId: "u"}), completion)
	_, err := completion.Await(context.Background())
	require.NoError(t, err, "hitting the iteration cap is a successful turn completion, not an error")

	sent, ok := conn.lastSent()
	require.True(t, ok)
	assert.Equal(t, "Tool execution limit reached.", sent.Text)
}

func TestAgentResetClearsMessages(t *testing.T) {
	agent, store := newTestAgent(t, &replyClient{text: "hi"}, nil)

	c1 := NewCompletion()
	agent.Post(NewMessageItem("telegram", "hi", RoutingContext{ChannelId: "chan1", UserId: "user1"}), c1)
	await(t, c1)

	agent.Post(NewResetItem("system"), nil)
	time.Sleep(50 * time.Millisecond)

	state, ok := store.stateOf(agent.Id())
	require.True(t, ok)
	assert.Empty(t, state.Messages)
}

func TestAgentPermissionDecisionUpdatesState(t *testing.T) {
	agent, store := newTestAgent(t, &replyClient{text: "hi"}, nil)

	decision := PermissionDecision{Approved: true, Web: boolPtr(true)}
	agent.Post(NewPermissionDecisionItem("telegram", []PermissionDecision{decision}, RoutingContext{}), nil)
	time.Sleep(50 * time.Millisecond)

	state, ok := store.stateOf(agent.Id())
	require.True(t, ok)
	assert.True(t, state.Permissions.Web)
}

func TestAgentUnknownInboxItemIsFatal(t *testing.T) {
	store := newFakeStore()
	router := singleProviderRouter(&replyClient{text: "hi"})
	agent := NewAgent(NewAgentId(), NewStorageId(), NewAgentState(UserDescriptor("telegram", "c", "u"), "/home", time.Now()), AgentDeps{
		Store: store, Router: router, Tools: NewToolResolver(), Log: slog.Default(),
	})

	assert.Panics(t, func() {
		agent.process(InboxItem{Kind: "bogus"})
	})
}
