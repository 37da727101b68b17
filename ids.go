package agentrt

import (
	"strings"

	"github.com/google/uuid"
)

// AgentId is an opaque identifier for a logical Agent. It is stable for the
// lifetime of the agent and is the primary key for all data persisted about it.
type AgentId string

// StorageId names the on-disk log directory for a session. It is one-to-one
// with an AgentId and is never reused.
type StorageId string

// newOpaqueId returns a lowercase-alphanumeric identifier derived from a
// random UUID, long enough to satisfy the 24-32 char invariant.
func newOpaqueId() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return raw // 32 lowercase hex chars
}

// NewAgentId mints a fresh AgentId. Callers must never reuse an id once
// assigned; minting is the only source of new identities.
func NewAgentId() AgentId {
	return AgentId(newOpaqueId())
}

// NewStorageId mints a fresh StorageId.
func NewStorageId() StorageId {
	return StorageId(newOpaqueId())
}

func (a AgentId) String() string     { return string(a) }
func (s StorageId) String() string   { return string(s) }
func (a AgentId) IsZero() bool       { return a == "" }
func (s StorageId) IsZero() bool     { return s == "" }
