package agentrt

import "time"

// LoadedAgent is one entry yielded by Store.LoadAgents at startup.
type LoadedAgent struct {
	AgentId       AgentId
	StorageId     StorageId
	Descriptor    Descriptor
	State         AgentState
	LastEntryKind string
}

// Store is the durable session store contract consumed by Agent and
// AgentSystem (§4.2). The concrete implementation lives in the store
// subpackage; this package depends only on the interface to avoid an import
// cycle (the concrete store needs the AgentState/Descriptor types defined
// here).
type Store interface {
	RecordSessionCreated(agentId AgentId, storageId StorageId, descriptor Descriptor, at time.Time) error
	RecordIncoming(agentId AgentId, text string, files []FileRef, ctx RoutingContext, at time.Time) error
	RecordOutgoing(agentId AgentId, text string, files []FileRef, ctx RoutingContext, origin string, at time.Time) error
	RecordState(agentId AgentId, state AgentState, at time.Time) error
	RecordNote(agentId AgentId, kind, text string, at time.Time) error
	LoadAgents() ([]LoadedAgent, error)
	ReadHistory(agentId AgentId) ([]AgentHistoryRecord, error)
}
