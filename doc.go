// Package agentrt is a long-running agent orchestration engine: durable,
// single-writer agent sessions driven by an inference/tool loop, addressed
// by stable identity rather than raw connection.
//
// agentrt provides:
//
//   - Per-agent single-consumer inboxes and a small processing state machine
//   - An AgentSystem that maps inbound messages to stable agent identities,
//     creating or restoring agents as needed
//   - An inference router with ordered-provider fallback and a tool resolver
//   - A durable append-only session log that survives process restarts
//   - An in-process event bus for dashboards and other local observers
//
// # Quick start
//
//	store, err := store.Open("/var/lib/agentrt", logger)
//	bus := agentrt.NewEventBus(logger)
//	router := agentrt.NewInferenceRouter(factories, logger)
//	tools := agentrt.NewToolResolver()
//	for _, t := range sandbox.BuiltinTools(sandbox.NewExecutor()) {
//	    tools.Register(t)
//	}
//
//	sys := agentrt.NewAgentSystem(
//	    agentrt.WithStore(store),
//	    agentrt.WithEventBus(bus),
//	    agentrt.WithInferenceRouter(router),
//	    agentrt.WithToolResolver(tools),
//	    agentrt.WithConnector("telegram", conn),
//	)
//	if err := sys.Load(); err != nil {
//	    log.Fatal(err)
//	}
//	sys.Start()
//	go telemetry.BridgeRouterEvents(context.Background(), router)
//	http.Handle("/events", sse.NewBridge(bus))
//
//	sys.ScheduleMessage("telegram", "hello", agentrt.RoutingContext{
//	    ChannelId: "123", UserId: "456",
//	})
//
// # Identity
//
// Agents are addressed by Descriptor, not by connection: a user descriptor
// resolves to the same AgentId across restarts for the same
// connector/channel/user triple (a different channel is a different agent),
// a heartbeat descriptor is a process-wide singleton, a cron descriptor
// resolves by its task id, and a subagent descriptor carries its own AgentId.
//
// # Durability
//
// Every inbound message, outbound reply, and state snapshot is appended to a
// per-agent JSONL log. The Agent updates its in-memory state first and then
// writes the log; a failed store write is not retried and does not roll back
// the in-memory state.
// AgentState snapshots are written atomically (temp file then rename) so a
// crash mid-write can never corrupt the last-known-good state.
//
// # Thread safety
//
// Agent and AgentSystem are safe for concurrent use. Each Agent serializes
// its own turns through a single consumer goroutine; distinct agents process
// concurrently.
package agentrt
