package agentrt

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T, client InferenceClient, conn Connector) (*AgentSystem, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	router := singleProviderRouter(client)
	opts := []Option{
		WithStore(store),
		WithEventBus(NewEventBus(slog.Default())),
		WithInferenceRouter(router),
		WithToolResolver(NewToolResolver()),
		WithWorkingDir("/home/agent"),
		WithLogger(slog.Default()),
	}
	if conn != nil {
		opts = append(opts, WithConnector("telegram", conn))
	}
	sys := NewAgentSystem(opts...)
	require.NoError(t, sys.Load())
	sys.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return sys, store
}

func TestAgentSystemScheduleMessageCreatesAgentOnFirstContact(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	id1, err := sys.ScheduleMessage("telegram", "hello", RoutingContext{ChannelId: "c1", UserId: "u1"})
	require.NoError(t, err)

	id2, err := sys.ScheduleMessage("telegram", "again", RoutingContext{ChannelId: "c1", UserId: "u1"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "same user descriptor resolves to the same agent")
	assert.Len(t, sys.List(), 1)
}

func TestAgentSystemDistinctUsersGetDistinctAgents(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	id1, err := sys.ScheduleMessage("telegram", "hello", RoutingContext{ChannelId: "c1", UserId: "u1"})
	require.NoError(t, err)
	id2, err := sys.ScheduleMessage("telegram", "hello", RoutingContext{ChannelId: "c1", UserId: "u2"})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestAgentSystemHeartbeatIsASingleton(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	id1, err := sys.ScheduleMessage("heartbeat", "tick", RoutingContext{Source: "heartbeat"})
	require.NoError(t, err)
	id2, err := sys.ScheduleMessage("heartbeat", "tick", RoutingContext{Source: "heartbeat"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	resolved, ok := sys.ResolveAgentId("heartbeat")
	require.True(t, ok)
	assert.Equal(t, id1, resolved)
}

func TestAgentSystemCronTaskReusesAgentByTaskId(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	id1, err := sys.ScheduleMessage("cron", "run", RoutingContext{TaskId: "nightly-report"})
	require.NoError(t, err)
	id2, err := sys.ScheduleMessage("cron", "run again", RoutingContext{TaskId: "nightly-report"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestAgentSystemConcurrentScheduleMessageIsIdempotent(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	results := make(chan AgentId, 10)
	for i := 0; i < 10; i++ {
		go func() {
			id, err := sys.ScheduleMessage("telegram", "hi", RoutingContext{ChannelId: "c1", UserId: "u1"})
			require.NoError(t, err)
			results <- id
		}()
	}

	first := <-results
	for i := 1; i < 10; i++ {
		assert.Equal(t, first, <-results)
	}
	assert.Len(t, sys.List(), 1)
}

func TestAgentSystemPostToUnknownAgentIdFails(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	_, err := sys.Post(ForAgent(NewAgentId()), NewResetItem("system"))
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestAgentSystemStartBackgroundAgentInheritsParentRouting(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	parentId, err := sys.ScheduleMessage("telegram", "hello", RoutingContext{ChannelId: "c1", UserId: "u1", MessageId: "m1"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	childId := sys.StartBackgroundAgent(BackgroundAgentOptions{
		Prompt:        "do background work",
		ParentAgentId: parentId,
		Name:          "worker",
	})

	child, ok := sys.Get(childId)
	require.True(t, ok)
	time.Sleep(50 * time.Millisecond)

	state := child.State()
	require.NotNil(t, state.Meta)
	assert.Equal(t, parentId, state.Meta.ParentAgentId)
	assert.Equal(t, 1, state.Meta.SpawnDepth)
	require.NotNil(t, state.Routing)
	assert.Equal(t, "c1", state.Routing.ChannelId)
	assert.Empty(t, state.Routing.MessageId)
}

func TestAgentSystemLoadRestoresDanglingIncoming(t *testing.T) {
	store := newFakeStore()
	id := NewAgentId()
	descriptor := UserDescriptor("telegram", "c1", "u1")
	state := NewAgentState(descriptor, "/home", time.Now())
	state = state.AppendMessage(NewUserMessage("dangling", time.Now()), time.Now())
	store.preloaded = []LoadedAgent{{
		AgentId:       id,
		StorageId:     NewStorageId(),
		Descriptor:    descriptor,
		State:         state,
		LastEntryKind: "incoming",
	}}

	sys := NewAgentSystem(
		WithStore(store),
		WithInferenceRouter(singleProviderRouter(&replyClient{text: "hi"})),
		WithToolResolver(NewToolResolver()),
		WithLogger(slog.Default()),
	)
	require.NoError(t, sys.Load())
	sys.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})

	time.Sleep(50 * time.Millisecond)
	restored, ok := store.stateOf(id)
	require.True(t, ok)
	assert.Equal(t, "Internal error.", restored.Messages[len(restored.Messages)-1].Text())
}

func TestAgentSystemResolveAgentIdMostRecentForeground(t *testing.T) {
	sys, _ := newTestSystem(t, &replyClient{text: "hi"}, nil)

	id1, err := sys.ScheduleMessage("telegram", "hi", RoutingContext{ChannelId: "c1", UserId: "u1"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	id2, err := sys.ScheduleMessage("telegram", "hi", RoutingContext{ChannelId: "c2", UserId: "u2"})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	resolved, ok := sys.ResolveAgentId("most-recent-foreground")
	require.True(t, ok)
	assert.Equal(t, id2, resolved)
	assert.NotEqual(t, id1, resolved)
}
