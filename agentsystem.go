package agentrt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Stage is the AgentSystem's own lifecycle position: idle -> loaded -> running.
type Stage string

const (
	StageIdle    Stage = "idle"
	StageLoaded  Stage = "loaded"
	StageRunning Stage = "running"
)

// AgentEntry is the AgentSystem's record of one live agent: its descriptor
// plus the running Agent it owns.
type AgentEntry struct {
	agent      *Agent
	descriptor Descriptor
}

// Target addresses a post either by a known AgentId or by a Descriptor that
// may still need to be resolved or minted.
type Target struct {
	AgentId    AgentId
	Descriptor *Descriptor
}

// ForAgent targets an already-known agent.
func ForAgent(id AgentId) Target { return Target{AgentId: id} }

// ForDescriptor targets the agent identified by descriptor, resolving or
// minting it as needed.
func ForDescriptor(d Descriptor) Target { return Target{Descriptor: &d} }

// AgentSystem exclusively owns the AgentEntry table: descriptor->AgentId
// resolution, lifecycle, and dispatch of inbound work (§4.5).
type AgentSystem struct {
	mu      sync.RWMutex
	stage   Stage
	entries map[AgentId]*AgentEntry
	keyToId map[string]AgentId // user + heartbeat descriptor keys
	cronToId map[string]AgentId // cron task-id keys (not a general AgentKey)

	store  Store
	bus    *EventBus
	router *InferenceRouter
	tools  *ToolResolver

	connectors map[string]Connector

	workingDir string
	log        *slog.Logger

	sf singleflight.Group
}

// Option configures an AgentSystem.
type Option func(*AgentSystem)

// WithStore sets the durable session store.
func WithStore(s Store) Option { return func(sys *AgentSystem) { sys.store = s } }

// WithEventBus sets the event bus used for lifecycle notifications.
func WithEventBus(b *EventBus) Option { return func(sys *AgentSystem) { sys.bus = b } }

// WithInferenceRouter sets the router shared by every agent.
func WithInferenceRouter(r *InferenceRouter) Option { return func(sys *AgentSystem) { sys.router = r } }

// WithToolResolver sets the tool resolver shared by every agent.
func WithToolResolver(t *ToolResolver) Option { return func(sys *AgentSystem) { sys.tools = t } }

// WithConnector registers a named connector for routing sendMessage/typing.
func WithConnector(source string, c Connector) Option {
	return func(sys *AgentSystem) { sys.connectors[source] = c }
}

// WithWorkingDir sets the default working directory new agents are given.
func WithWorkingDir(dir string) Option { return func(sys *AgentSystem) { sys.workingDir = dir } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(sys *AgentSystem) { sys.log = l } }

// NewAgentSystem constructs an AgentSystem in the idle stage.
func NewAgentSystem(opts ...Option) *AgentSystem {
	sys := &AgentSystem{
		stage:      StageIdle,
		entries:    make(map[AgentId]*AgentEntry),
		keyToId:    make(map[string]AgentId),
		cronToId:   make(map[string]AgentId),
		connectors: make(map[string]Connector),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(sys)
	}
	return sys
}

func (s *AgentSystem) connectorLookup(source string) (Connector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connectors[source]
	return c, ok
}

// Stage returns the system's current lifecycle stage.
func (s *AgentSystem) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Load reads all persisted agents and restores them, posting a restore item
// for any agent whose last entry was a dangling incoming. It does not start
// any agent's consumer loop.
func (s *AgentSystem) Load() error {
	s.mu.Lock()
	if s.stage != StageIdle {
		s.mu.Unlock()
		return nil
	}
	s.stage = StageLoaded
	s.mu.Unlock()

	loaded, err := s.store.LoadAgents()
	if err != nil {
		return err
	}

	for _, la := range loaded {
		agent := s.newAgent(la.AgentId, la.StorageId, la.State)

		s.mu.Lock()
		s.entries[la.AgentId] = &AgentEntry{agent: agent, descriptor: la.Descriptor}
		if key, ok := la.Descriptor.Key(); ok {
			s.keyToId[key] = la.AgentId
		} else if key, ok := la.Descriptor.CronKey(); ok {
			s.cronToId[key] = la.AgentId
		}
		s.mu.Unlock()

		if la.LastEntryKind == "incoming" {
			agent.Post(NewRestoreItem(), nil)
		}
		if s.bus != nil {
			s.bus.Emit(EventAgentRestored, la.AgentId)
		}
	}
	return nil
}

// Start transitions to the running stage and starts every registered agent's
// consumer loop.
func (s *AgentSystem) Start() {
	s.mu.Lock()
	s.stage = StageRunning
	entries := make([]*AgentEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.agent.Start()
	}
}

// Shutdown stops accepting new items is the caller's responsibility
// (callers should stop calling Post); Shutdown itself waits for every
// agent's consumer to drain its in-flight turn and stop, within ctx's
// deadline.
func (s *AgentSystem) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*AgentEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	g, _ := errgroup.WithContext(context.Background())
	for _, e := range entries {
		agent := e.agent
		g.Go(func() error {
			agent.Shutdown()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AgentSystem) newAgent(id AgentId, storageId StorageId, state AgentState) *Agent {
	return NewAgent(id, storageId, state, AgentDeps{
		Store:      s.store,
		Bus:        s.bus,
		Router:     s.router,
		Tools:      s.tools,
		Connectors: s.connectorLookup,
		Log:        s.log,
	})
}

// createAgentLocked mints (or reuses explicitId) an AgentId, persists
// session_created, and registers the new Agent. Caller must hold s.mu.
func (s *AgentSystem) createAgentLocked(d Descriptor, explicitId AgentId, meta *AgentMeta) (*Agent, error) {
	id := explicitId
	if id == "" {
		id = NewAgentId()
	}
	if _, exists := s.entries[id]; exists {
		return nil, ErrDuplicateAgentId
	}

	storageId := NewStorageId()
	now := time.Now()
	state := NewAgentState(d, s.workingDir, now)
	state.Meta = meta

	if err := s.store.RecordSessionCreated(id, storageId, d, now); err != nil {
		return nil, err
	}

	agent := s.newAgent(id, storageId, state)
	s.entries[id] = &AgentEntry{agent: agent, descriptor: d}
	if s.stage == StageRunning {
		agent.Start()
	}
	if s.bus != nil {
		s.bus.Emit(EventAgentCreated, id)
	}
	return agent, nil
}

// resolveOrCreate implements the idempotent "two concurrent calls for the
// same key resolve to the same AgentId" invariant: a singleflight group
// collapses concurrent misses for the same key into one creation.
func (s *AgentSystem) resolveOrCreate(d Descriptor, key string, table map[string]AgentId) (*Agent, error) {
	s.mu.RLock()
	if id, ok := table[key]; ok {
		if entry, ok2 := s.entries[id]; ok2 {
			s.mu.RUnlock()
			return entry.agent, nil
		}
	}
	s.mu.RUnlock()

	v, err, _ := s.sf.Do(key, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if id, ok := table[key]; ok {
			if entry, ok2 := s.entries[id]; ok2 {
				return entry.agent, nil
			}
		}
		agent, err := s.createAgentLocked(d, "", nil)
		if err != nil {
			return nil, err
		}
		table[key] = agent.Id()
		return agent, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Agent), nil
}

func (s *AgentSystem) resolveDescriptor(d Descriptor) (*Agent, error) {
	switch d.Kind {
	case DescriptorUser, DescriptorHeartbeat:
		key, _ := d.Key()
		return s.resolveOrCreate(d, key, s.keyToId)
	case DescriptorCron:
		key, _ := d.CronKey()
		return s.resolveOrCreate(d, key, s.cronToId)
	case DescriptorSubagent:
		if d.Id != "" {
			s.mu.RLock()
			entry, ok := s.entries[d.Id]
			s.mu.RUnlock()
			if ok {
				return entry.agent, nil
			}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.createAgentLocked(d, d.Id, nil)
	default:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.createAgentLocked(d, "", nil)
	}
}

// descriptorForSource applies the deterministic identity rules of §4.5.
func descriptorForSource(source string, ctx RoutingContext) Descriptor {
	switch {
	case source == "heartbeat":
		return HeartbeatDescriptor()
	case source == "cron" && ctx.TaskId != "":
		return CronDescriptor(ctx.TaskId)
	case ctx.UserId != "" && ctx.ChannelId != "":
		return UserDescriptor(source, ctx.ChannelId, ctx.UserId)
	default:
		return Descriptor{Kind: DescriptorSubagent, Id: NewAgentId(), Name: source}
	}
}

// ScheduleMessage resolves source+context to an agent-key, creating the
// agent on first contact, and posts a message item to it.
func (s *AgentSystem) ScheduleMessage(source, text string, ctx RoutingContext) (AgentId, error) {
	if s.Stage() == StageIdle {
		s.log.Warn("ScheduleMessage called before Load()")
	}
	descriptor := descriptorForSource(source, ctx)
	agent, err := s.resolveDescriptor(descriptor)
	if err != nil {
		return "", err
	}
	agent.Post(NewMessageItem(source, text, ctx), nil)
	return agent.Id(), nil
}

// SchedulePermissionDecision routes like ScheduleMessage but posts a
// permission-decision item.
func (s *AgentSystem) SchedulePermissionDecision(source string, decisions []PermissionDecision, ctx RoutingContext) (AgentId, error) {
	descriptor := descriptorForSource(source, ctx)
	agent, err := s.resolveDescriptor(descriptor)
	if err != nil {
		return "", err
	}
	agent.Post(NewPermissionDecisionItem(source, decisions, ctx), nil)
	return agent.Id(), nil
}

// Post dispatches item to the agent addressed by target. If target names an
// unknown AgentId, it fails with ErrAgentNotFound whatever the item kind;
// no agent is created for an AgentId-addressed post.
// Descriptor-keyed targets resolve through the usual identity rules,
// creating the agent if necessary.
func (s *AgentSystem) Post(target Target, item InboxItem) (AgentId, error) {
	if target.AgentId != "" {
		s.mu.RLock()
		entry, ok := s.entries[target.AgentId]
		s.mu.RUnlock()
		if !ok {
			return "", ErrAgentNotFound
		}
		entry.agent.Post(item, item.Completion())
		return target.AgentId, nil
	}
	if target.Descriptor == nil {
		return "", ErrInvalidInput
	}
	agent, err := s.resolveDescriptor(*target.Descriptor)
	if err != nil {
		return "", err
	}
	agent.Post(item, item.Completion())
	return agent.Id(), nil
}

// PostAndWait posts item and returns a Completion resolved once the agent
// finishes handling it.
func (s *AgentSystem) PostAndWait(target Target, item InboxItem) (*Completion, error) {
	completion := NewCompletion()
	item.completion = completion
	if _, err := s.Post(target, item); err != nil {
		return nil, err
	}
	return completion, nil
}

// Reset posts a reset item to agentId. Unknown ids are a no-op.
func (s *AgentSystem) Reset(agentId AgentId) {
	s.mu.RLock()
	entry, ok := s.entries[agentId]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.agent.Post(NewResetItem("system"), nil)
}

// BackgroundAgentOptions configures StartBackgroundAgent.
type BackgroundAgentOptions struct {
	Prompt        string
	ParentAgentId AgentId
	Name          string
	AgentId       AgentId
}

// StartBackgroundAgent spawns a subagent descriptor inheriting the parent's
// routing context (message id stripped) and posts the prompt as its first
// message item. Failures are logged, never returned to the caller.
func (s *AgentSystem) StartBackgroundAgent(opts BackgroundAgentOptions) AgentId {
	id := opts.AgentId
	if id == "" {
		id = NewAgentId()
	}
	name := opts.Name
	if name == "" {
		name = "subagent"
	}
	descriptor := SubagentDescriptor(id, opts.ParentAgentId, name)

	var routing RoutingContext
	var spawnDepth int
	s.mu.RLock()
	if parent, ok := s.entries[opts.ParentAgentId]; ok {
		ps := parent.agent.State()
		if ps.Routing != nil {
			routing = ps.Routing.WithoutMessageId()
		}
		spawnDepth = 1
		if ps.Meta != nil {
			spawnDepth = ps.Meta.SpawnDepth + 1
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	agent, err := s.createAgentLocked(descriptor, id, &AgentMeta{
		Kind:          "background",
		ParentAgentId: opts.ParentAgentId,
		Name:          name,
		SpawnDepth:    spawnDepth,
	})
	s.mu.Unlock()
	if err != nil {
		s.log.Error("startBackgroundAgent failed", "error", err, "parent", opts.ParentAgentId)
		return id
	}

	agent.Post(NewMessageItem("system", opts.Prompt, routing), nil)
	return agent.Id()
}

// SendAgentMessageOptions configures SendAgentMessage.
type SendAgentMessageOptions struct {
	AgentId AgentId
	Text    string
}

// SendAgentMessage addresses AgentId, or the most-recent-foreground agent if
// none is given, wrapping Text as a system-authored user message.
func (s *AgentSystem) SendAgentMessage(opts SendAgentMessageOptions) error {
	id := opts.AgentId
	if id == "" {
		resolved, ok := s.ResolveAgentId("most-recent-foreground")
		if !ok {
			return ErrAgentNotFound
		}
		id = resolved
	}

	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return ErrAgentNotFound
	}

	ctx := RoutingContext{Source: "system"}
	if state := entry.agent.State(); state.Routing != nil {
		ctx = *state.Routing
	}
	entry.agent.Post(NewMessageItem("system", opts.Text, ctx), nil)
	return nil
}

// ResolveAgentId implements the named resolution strategies.
func (s *AgentSystem) ResolveAgentId(strategy string) (AgentId, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch strategy {
	case "heartbeat":
		id, ok := s.keyToId["heartbeat"]
		return id, ok
	case "most-recent-foreground":
		var best AgentId
		var bestAt time.Time
		for id, entry := range s.entries {
			if entry.descriptor.Kind != DescriptorUser {
				continue
			}
			st := entry.agent.State()
			if best == "" || st.UpdatedAt.After(bestAt) {
				best, bestAt = id, st.UpdatedAt
			}
		}
		if best == "" {
			return "", false
		}
		return best, true
	default:
		return "", false
	}
}

// InferenceRouter returns the router shared by every agent, so collaborators
// like telemetry bridges can subscribe to its event stream without the
// router becoming part of the constructor surface they depend on.
func (s *AgentSystem) InferenceRouter() *InferenceRouter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Get returns the Agent registered under id, if any, for diagnostics/tests.
func (s *AgentSystem) Get(id AgentId) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// List returns every registered AgentId, for diagnostics/tests.
func (s *AgentSystem) List() []AgentId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentId, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}
