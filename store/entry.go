// Package store is the durable, filesystem-backed implementation of
// agentrt.Store: an append-only JSONL log per agent plus atomically written
// state/descriptor snapshots, with an optional SQLite secondary index for
// cheap cross-agent queries.
package store

import (
	"encoding/json"
	"time"
)

// entryKind tags one line of an agent's log.jsonl.
type entryKind string

const (
	entrySessionCreated entryKind = "session_created"
	entryIncoming       entryKind = "incoming"
	entryOutgoing       entryKind = "outgoing"
	entryState          entryKind = "state"
	entryNote           entryKind = "note"
)

// logEntry is one append-only record. Only the fields relevant to Kind are
// populated; the rest are left zero, matching the tagged-variant convention
// used throughout the engine's in-memory types.
type logEntry struct {
	Kind entryKind `json:"kind"`
	At   time.Time `json:"at"`

	// incoming / outgoing
	Text      string   `json:"text,omitempty"`
	Files     []fileRef `json:"files,omitempty"`
	Source    string   `json:"source,omitempty"`
	ChannelId string   `json:"channelId,omitempty"`
	UserId    string   `json:"userId,omitempty"`
	MessageId string   `json:"messageId,omitempty"`
	TaskId    string   `json:"taskId,omitempty"`
	Origin    string   `json:"origin,omitempty"`

	// session_created
	StorageId string `json:"storageId,omitempty"`

	// state -- the full normalized AgentState as of this point in the log,
	// so the log alone (without state.json) is sufficient to recover the
	// last snapshot; state.json is an additional atomically-written copy
	// for cheap reads, not the only copy.
	State json.RawMessage `json:"state,omitempty"`

	// note
	NoteKind string `json:"noteKind,omitempty"`
}

type fileRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}
