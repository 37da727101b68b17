package agentrt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxInferenceIterations is the hard per-turn cap on inference calls (§8).
const maxInferenceIterations = 5

const (
	originModel  = "model"
	originSystem = "system"
)

// Phase names the Agent's position in its state machine:
// idle -> draining -> turn{inference|tool-exec|sending} -> idle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseDraining  Phase = "draining"
	PhaseInference Phase = "turn:inference"
	PhaseToolExec  Phase = "turn:tool-exec"
	PhaseSending   Phase = "turn:sending"
)

// Agent owns one logical conversation participant: its inbox, in-memory
// state, and the exclusive right to write its storage log. It is driven by
// exactly one consumer goroutine started by Start.
type Agent struct {
	id        AgentId
	storageId StorageId

	inbox *Inbox
	store Store
	bus   *EventBus
	router *InferenceRouter
	tools  *ToolResolver
	connectors ConnectorLookup

	log *slog.Logger

	mu    sync.RWMutex
	state AgentState
	phase Phase

	startOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// ConnectorLookup resolves the Connector registered for a given source name.
type ConnectorLookup func(source string) (Connector, bool)

// AgentDeps bundles an Agent's collaborators, all external to this package
// except for the EventBus, InferenceRouter and ToolResolver contracts.
type AgentDeps struct {
	Store      Store
	Bus        *EventBus
	Router     *InferenceRouter
	Tools      *ToolResolver
	Connectors ConnectorLookup
	Log        *slog.Logger
}

// NewAgent constructs an Agent around an existing or freshly created state.
func NewAgent(id AgentId, storageId StorageId, state AgentState, deps AgentDeps) *Agent {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		id:         id,
		storageId:  storageId,
		inbox:      NewInbox(),
		store:      deps.Store,
		bus:        deps.Bus,
		router:     deps.Router,
		tools:      deps.Tools,
		connectors: deps.Connectors,
		log:        log.With("agentId", string(id)),
		state:      state,
		phase:      PhaseIdle,
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Id returns the agent's identity.
func (a *Agent) Id() AgentId { return a.id }

// StorageId returns the agent's on-disk session id.
func (a *Agent) StorageId() StorageId { return a.storageId }

// State returns a read-only snapshot of the current AgentState.
func (a *Agent) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// IsProcessing reports whether a turn is in flight.
func (a *Agent) IsProcessing() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.phase != PhaseIdle
}

// Post delegates to the Inbox.
func (a *Agent) Post(item InboxItem, completion *Completion) {
	a.inbox.Post(item, completion)
}

// Start begins the single consumer loop. Idempotent: calling it more than
// once has no additional effect. Must only be called by the AgentSystem
// once it has entered the running stage.
func (a *Agent) Start() {
	a.startOnce.Do(func() {
		go a.loop()
	})
}

// Shutdown stops the consumer loop, failing any pending inbox completions.
func (a *Agent) Shutdown() {
	close(a.stop)
	<-a.stopped
	a.inbox.Close(ErrTimeout)
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

func (a *Agent) loop() {
	defer close(a.stopped)
	for {
		item, ok := a.inbox.Next(a.stop)
		if !ok {
			return
		}
		a.setPhase(PhaseDraining)
		a.process(item)
		a.setPhase(PhaseIdle)
	}
}

func (a *Agent) process(item InboxItem) {
	var result any
	var err error
	switch item.Kind {
	case ItemRestore:
		a.processRestore()
	case ItemReset:
		a.processReset()
	case ItemPermissionDecision:
		a.processPermissionDecision(item)
	case ItemMessage:
		a.processMessage(item)
	default:
		err = fmt.Errorf("%w: %v", ErrUnknownInboxItem, item.Kind)
		a.log.Error("fatal inbox item", "kind", item.Kind)
	}
	if c := item.Completion(); c != nil {
		c.Resolve(result, err)
	}
	if err != nil {
		panic(&FatalError{Err: err})
	}
}

// processRestore implements §4.4 step 1: AgentSystem only posts a restore
// item when the last persisted entry was a dangling incoming, so this always
// synthesizes the internal-error reply.
func (a *Agent) processRestore() {
	now := time.Now()
	a.mu.RLock()
	state := a.state
	a.mu.RUnlock()

	text := "Internal error."
	a.mu.Lock()
	a.state = a.state.AppendMessage(NewAssistantMessage(text, now), now)
	a.mu.Unlock()

	var channelId string
	if state.Routing != nil {
		channelId = state.Routing.ChannelId
	}
	a.deliver(channelId, text, nil, originSystem, state.Routing, "")
	a.persistFinal(now)
}

func (a *Agent) processReset() {
	now := time.Now()
	a.mu.Lock()
	a.state = a.state.Reset(now)
	state := a.state
	a.mu.Unlock()

	_ = a.store.RecordNote(a.id, "reset", "", now)
	_ = a.store.RecordState(a.id, state, now)
	if a.bus != nil {
		a.bus.Emit(EventAgentReset, a.id)
	}
}

func (a *Agent) processPermissionDecision(item InboxItem) {
	now := time.Now()
	a.mu.Lock()
	a.state.Permissions = ApplyDecisions(a.state.Permissions, item.Decisions...)
	a.state.UpdatedAt = now
	state := a.state
	a.mu.Unlock()

	_ = a.store.RecordState(a.id, state, now)
}

func (a *Agent) processMessage(item InboxItem) {
	now := time.Now()
	routing := item.Context
	if routing.Source == "" {
		routing.Source = item.Source
	}
	a.mu.Lock()
	a.state = a.state.AppendMessage(NewUserMessage(item.Text, now), now)
	a.state = a.state.SetRouting(routing, now)
	state := a.state
	a.mu.Unlock()

	_ = a.store.RecordIncoming(a.id, item.Text, item.Files, item.Context, now)

	channelId := item.Context.ChannelId
	var stop StopTyping
	if conn, ok := a.connector(item.Source); ok {
		stop = conn.StartTyping(context.Background(), channelId)
	}

	a.setPhase(PhaseInference)
	text, files, origin, turnErr := a.runTurn(context.Background(), state)
	if stop != nil {
		stop()
	}

	if turnErr != nil {
		text = turnErrorText(turnErr)
		origin = originSystem
	}

	a.setPhase(PhaseSending)
	if text != "" || len(files) > 0 {
		a.deliver(channelId, text, files, origin, state.Routing, item.Context.MessageId)
	}
	a.persistFinal(time.Now())
}

func turnErrorText(err error) string {
	if err == ErrNoInferenceProvider {
		return "No inference provider available."
	}
	return "Inference failed."
}

// runTurn drives the inference/tool loop for one message item. It returns
// the final assistant text (or a cap/failure message), any generated file
// references, the origin of the text ("model" or "system"), and a non-nil
// error only for an inference failure that ends the turn early.
func (a *Agent) runTurn(ctx context.Context, state AgentState) (text string, files []FileRef, origin string, err error) {
	messages := append([]Message{}, state.Messages...)

	for i := 0; i < maxInferenceIterations; i++ {
		var schemas []ToolSchema
		if a.tools != nil {
			schemas = a.tools.Schemas()
		}

		result, cErr := a.router.Complete(ctx, InferenceContext{Messages: messages, Tools: schemas}, a.id)
		if cErr != nil {
			a.commitMessages(messages)
			return "", nil, originSystem, cErr
		}

		assistant := result.Message
		if assistant.At.IsZero() {
			assistant.At = time.Now()
		}
		messages = append(messages, assistant)

		calls := assistant.ToolCalls()
		if len(calls) == 0 {
			a.commitMessages(messages)
			return assistant.Text(), files, originModel, nil
		}

		a.setPhase(PhaseToolExec)
		for _, tc := range calls {
			res := a.resolveTool(ctx, tc, state)
			files = append(files, res.Files...)
			messages = append(messages, Message{
				Role:    RoleToolResult,
				Content: []ContentBlock{{Type: "toolResult", ToolResult: &res}},
				At:      time.Now(),
			})
		}
		a.setPhase(PhaseInference)
	}

	a.commitMessages(messages)
	return "Tool execution limit reached.", files, originSystem, nil
}

func (a *Agent) resolveTool(ctx context.Context, tc ToolCall, state AgentState) ToolResultMsg {
	if a.tools == nil {
		return ToolResultMsg{ToolCallId: tc.Id, Name: tc.Name, Text: fmt.Sprintf("Unknown tool: %s", tc.Name), IsError: true}
	}
	callCtx := ToolCallContext{AgentId: a.id, Permissions: state.Permissions}
	if state.Routing != nil {
		callCtx.Routing = *state.Routing
	}
	return a.tools.Resolve(ctx, tc, callCtx)
}

func (a *Agent) commitMessages(messages []Message) {
	now := time.Now()
	a.mu.Lock()
	a.state.Messages = messages
	a.state.UpdatedAt = now
	a.mu.Unlock()
}

func (a *Agent) deliver(channelId, text string, files []FileRef, origin string, routing *RoutingContext, replyToMessageId string) {
	now := time.Now()
	var ctx RoutingContext
	if routing != nil {
		ctx = *routing
	}

	if conn, ok := a.connector(ctx.Source); ok {
		msg := OutgoingMessage{Text: text, Files: files, ReplyToMessageId: replyToMessageId}
		if err := conn.SendMessage(context.Background(), channelId, msg); err != nil {
			a.log.Warn("connector send failed", "error", err)
		}
	}

	_ = a.store.RecordOutgoing(a.id, text, files, ctx, origin, now)
	if a.bus != nil {
		a.bus.Emit(EventSessionOutgoing, a.id)
	}
}

func (a *Agent) persistFinal(at time.Time) {
	a.mu.RLock()
	state := a.state
	a.mu.RUnlock()
	_ = a.store.RecordState(a.id, state, at)
	if a.bus != nil {
		a.bus.Emit(EventSessionUpdated, a.id)
	}
}

func (a *Agent) connector(source string) (Connector, bool) {
	if a.connectors == nil || source == "" {
		return nil, false
	}
	return a.connectors(source)
}
