package agentrt

import "time"

// AgentMeta carries background-agent bookkeeping. It is only populated when
// the owning agent was produced by AgentSystem.StartBackgroundAgent.
type AgentMeta struct {
	Kind          string  `json:"kind"` // "background"
	ParentAgentId AgentId `json:"parentAgentId,omitempty"`
	Name          string  `json:"name,omitempty"`
	SpawnDepth    int     `json:"spawnDepth,omitempty"`
}

// AgentState is the full normalized, persistable state of one Agent.
//
// Invariants: UpdatedAt >= CreatedAt; Messages is append-only within a turn;
// Routing is set on the first user message and has transient fields (message
// id, ephemeral command markers) stripped before persistence.
type AgentState struct {
	Messages    []Message        `json:"messages"`
	ProviderId  string           `json:"providerId,omitempty"`
	Permissions Permissions      `json:"permissions"`
	Descriptor  Descriptor       `json:"descriptor"`
	Routing     *RoutingContext  `json:"routing,omitempty"`
	Meta        *AgentMeta       `json:"meta,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// NewAgentState constructs the initial state for a freshly created agent.
func NewAgentState(descriptor Descriptor, workingDir string, now time.Time) AgentState {
	return AgentState{
		Messages:    nil,
		Permissions: DefaultPermissions(workingDir),
		Descriptor:  descriptor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Reset truncates in-memory state to the post-reset shape required by §8:
// empty messages, unchanged descriptor, default permissions.
func (s AgentState) Reset(now time.Time) AgentState {
	return AgentState{
		Messages:    nil,
		Permissions: DefaultPermissions(s.Permissions.WorkingDir),
		Descriptor:  s.Descriptor,
		Meta:        s.Meta,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   now,
	}
}

// AppendMessage returns a copy of s with msg appended and UpdatedAt bumped.
func (s AgentState) AppendMessage(msg Message, now time.Time) AgentState {
	s.Messages = append(append([]Message{}, s.Messages...), msg)
	s.UpdatedAt = now
	return s
}

// SetRouting records the routing target on first user message, per the
// "set on first user message" invariant -- subsequent calls are no-ops once
// routing is already set, so later system-authored sends cannot overwrite
// the original user's channel.
func (s AgentState) SetRouting(ctx RoutingContext, now time.Time) AgentState {
	if s.Routing != nil {
		return s
	}
	stripped := ctx.WithoutMessageId()
	s.Routing = &stripped
	s.UpdatedAt = now
	return s
}

// HistoryRecordKind enumerates the projection kinds of AgentHistoryRecord.
type HistoryRecordKind string

const (
	HistoryStart            HistoryRecordKind = "start"
	HistoryReset            HistoryRecordKind = "reset"
	HistoryUserMessage      HistoryRecordKind = "user_message"
	HistoryAssistantMessage HistoryRecordKind = "assistant_message"
	HistoryToolResult       HistoryRecordKind = "tool_result"
	HistoryNote             HistoryRecordKind = "note"
)

// AgentHistoryRecord is the derived, read-only projection of the JSONL log
// used by readHistory. It is never written directly; it is produced by
// scanning log entries.
type AgentHistoryRecord struct {
	Kind HistoryRecordKind `json:"kind"`
	Text string            `json:"text,omitempty"`
	At   time.Time         `json:"at"`
}
