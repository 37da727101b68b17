package agentrt

import "fmt"

// DescriptorKind tags the variant of an AgentDescriptor.
type DescriptorKind string

const (
	DescriptorUser      DescriptorKind = "user"
	DescriptorCron      DescriptorKind = "cron"
	DescriptorHeartbeat DescriptorKind = "heartbeat"
	DescriptorSubagent  DescriptorKind = "subagent"
)

// Descriptor is the immutable identity record of an Agent. It is a tagged
// variant; exactly the fields relevant to Kind are populated. Descriptors are
// compared by value: two descriptors are equal iff every field matches.
type Descriptor struct {
	Kind DescriptorKind `json:"kind"`

	// user
	Connector string `json:"connector,omitempty"`
	UserId    string `json:"userId,omitempty"`
	ChannelId string `json:"channelId,omitempty"`

	// cron
	TaskId string `json:"taskId,omitempty"`

	// subagent
	Id             AgentId `json:"id,omitempty"`
	ParentAgentId  AgentId `json:"parentAgentId,omitempty"`
	Name           string  `json:"name,omitempty"`
}

// UserDescriptor builds the descriptor for a chat-derived identity.
func UserDescriptor(connector, channelId, userId string) Descriptor {
	return Descriptor{Kind: DescriptorUser, Connector: connector, ChannelId: channelId, UserId: userId}
}

// CronDescriptor builds the descriptor for a scheduled task.
func CronDescriptor(taskId string) Descriptor {
	return Descriptor{Kind: DescriptorCron, TaskId: taskId}
}

// HeartbeatDescriptor builds the singleton heartbeat descriptor.
func HeartbeatDescriptor() Descriptor {
	return Descriptor{Kind: DescriptorHeartbeat}
}

// SubagentDescriptor builds the descriptor for an agent spawned by another agent.
func SubagentDescriptor(id, parent AgentId, name string) Descriptor {
	return Descriptor{Kind: DescriptorSubagent, Id: id, ParentAgentId: parent, Name: name}
}

// Equal reports whether two descriptors describe the same identity.
func (d Descriptor) Equal(o Descriptor) bool {
	return d == o
}

// Key returns the canonical AgentKey for descriptors that support fast reverse
// lookup (user and heartbeat). subagent and cron descriptors have no key;
// the second return value is false for those and must be addressed only by
// AgentId.
func (d Descriptor) Key() (string, bool) {
	switch d.Kind {
	case DescriptorUser:
		return fmt.Sprintf("user:%s:%s:%s", d.Connector, d.ChannelId, d.UserId), true
	case DescriptorHeartbeat:
		return "heartbeat", true
	default:
		return "", false
	}
}

// CronKey returns the descriptor-derived key for a cron task. Cron agents are
// addressed by AgentId once created, but the key is used to recognize a
// resubmission of the same task id before an AgentId mapping exists.
func (d Descriptor) CronKey() (string, bool) {
	if d.Kind != DescriptorCron {
		return "", false
	}
	return fmt.Sprintf("cron:%s", d.TaskId), true
}
