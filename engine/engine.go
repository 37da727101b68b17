// Package engine is the composition root this module ships for embedding
// applications: it wires an AgentSystem to the optional subsystems the
// module provides -- durable storage with its read-index, sandboxed tool
// execution, MCP-backed tools, cron/heartbeat scheduling, OpenTelemetry
// tracing, and the SSE event bridge -- so none of that wiring has to be
// rediscovered per deployment.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/hearthside-labs/agentrt"
	"github.com/hearthside-labs/agentrt/cronfacade"
	"github.com/hearthside-labs/agentrt/mcptools"
	"github.com/hearthside-labs/agentrt/sandbox"
	"github.com/hearthside-labs/agentrt/sse"
	"github.com/hearthside-labs/agentrt/store"
	"github.com/hearthside-labs/agentrt/telemetry"
)

// Config is everything New needs beyond the per-deployment collaborators
// (provider factories, connectors) that only the embedder can supply.
type Config struct {
	agentrt.Config

	// SessionDir is where the durable JSONL log/snapshots live. Defaults to
	// Config.WorkingDir + "/sessions" when empty.
	SessionDir string
	// IndexPath, if set, opens a SQLite read-index at this path and keeps
	// it current as the store writes.
	IndexPath string
	// Sandboxed registers sandbox.BuiltinTools backed by a freshly probed
	// sandbox.Executor.
	Sandboxed bool
	// MCPServers are connected at startup; a failed connection is logged
	// and skipped rather than failing New.
	MCPServers []mcptools.ServerConfig
	// HeartbeatInterval, if positive, starts a heartbeat message on that
	// cadence once Run is called.
	HeartbeatInterval time.Duration
	HeartbeatMessage  string

	Log *slog.Logger
}

// Engine bundles a running AgentSystem with the subsystems Config asked for.
type Engine struct {
	System    *agentrt.AgentSystem
	Scheduler *cronfacade.Scheduler
	SSE       *sse.Bridge

	store      *store.FileStore
	index      *store.Index
	mcpServers []*mcptools.Server
	log        *slog.Logger

	heartbeatInterval time.Duration
	heartbeatMessage  string

	cancel context.CancelFunc
}

// New builds every configured subsystem and an idle, unstarted AgentSystem.
// Call Load then Run to bring it up.
func New(cfg Config, factories map[string]agentrt.ProviderFactory, connectors map[string]agentrt.Connector) (*Engine, error) {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	sessionDir := cfg.SessionDir
	if sessionDir == "" {
		sessionDir = cfg.WorkingDir + "/sessions"
	}

	var storeOpts []store.Option
	var idx *store.Index
	if cfg.IndexPath != "" {
		var err error
		idx, err = store.OpenIndex(cfg.IndexPath)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, store.WithIndex(idx))
	}

	fs, err := store.Open(sessionDir, log, storeOpts...)
	if err != nil {
		return nil, err
	}

	bus := agentrt.NewEventBus(log)
	router := agentrt.NewInferenceRouter(factories, log)
	router.UpdateProviders(cfg.Providers)

	tools := agentrt.NewToolResolver()
	if cfg.Sandboxed {
		for _, t := range sandbox.BuiltinTools(sandbox.NewExecutor()) {
			tools.Register(t)
		}
	}

	var mcpServers []*mcptools.Server
	for _, serverCfg := range cfg.MCPServers {
		srv, err := mcptools.Connect(context.Background(), serverCfg, tools, log)
		if err != nil {
			log.Warn("engine: mcp server connect failed", "server", serverCfg.Name, "error", err)
			continue
		}
		mcpServers = append(mcpServers, srv)
	}

	connLookup := make(map[string]agentrt.Connector, len(connectors))
	for k, v := range connectors {
		connLookup[k] = v
	}

	opts := []agentrt.Option{
		agentrt.WithStore(fs),
		agentrt.WithEventBus(bus),
		agentrt.WithInferenceRouter(router),
		agentrt.WithToolResolver(tools),
		agentrt.WithWorkingDir(cfg.WorkingDir),
		agentrt.WithLogger(log),
	}
	for source, conn := range connLookup {
		opts = append(opts, agentrt.WithConnector(source, conn))
	}
	sys := agentrt.NewAgentSystem(opts...)

	return &Engine{
		System:            sys,
		Scheduler:         cronfacade.NewScheduler(sys, log),
		SSE:               sse.NewBridge(bus),
		store:             fs,
		index:             idx,
		mcpServers:        mcpServers,
		log:               log,
		heartbeatInterval: cfg.HeartbeatInterval,
		heartbeatMessage:  cfg.HeartbeatMessage,
	}, nil
}

// Load restores persisted agents; see AgentSystem.Load.
func (e *Engine) Load() error { return e.System.Load() }

// Run starts the AgentSystem, the cron scheduler, the optional heartbeat,
// and the router-to-span telemetry bridge. It returns once everything is
// running; the scheduler, heartbeat and telemetry bridge run in background
// goroutines until Shutdown cancels the context they share.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.System.Start()
	go e.Scheduler.Start(runCtx)
	if e.heartbeatInterval > 0 {
		cronfacade.StartHeartbeat(runCtx, e.System, e.heartbeatInterval, e.heartbeatMessage, e.log)
	}
	go telemetry.BridgeRouterEvents(runCtx, e.System.InferenceRouter())
}

// Shutdown stops the background goroutines Run started and drains every
// agent's in-flight turn within ctx's deadline.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	for _, srv := range e.mcpServers {
		_ = srv.Close()
	}
	if e.index != nil {
		_ = e.index.Close()
	}
	return e.System.Shutdown(ctx)
}
