package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hearthside-labs/agentrt"
)

const (
	descriptorFile = "descriptor.json"
	stateFile      = "state.json"
	logFile        = "log.jsonl"
	dirMode        = 0o700
	fileMode       = 0o600
)

// FileStore is the append-only-JSONL-plus-atomic-snapshot session store
// described by the durability invariants: every agent gets its own
// directory, every write goes through a per-agent mutex so exactly one
// writer ever touches a given agentId's files, and every snapshot write is
// temp-file-then-rename so a crash mid-write never corrupts the
// last-known-good state.
type FileStore struct {
	baseDir string
	log     *slog.Logger
	index   *Index

	mu    sync.Mutex
	locks map[agentrt.AgentId]*sync.Mutex

	metaMu sync.RWMutex
	meta   map[agentrt.AgentId]sessionMeta
}

// sessionMeta is the (storageId, descriptor) pair RecordState needs to keep
// the optional Index in sync without the Store interface's narrower
// per-call signatures having to carry it on every write.
type sessionMeta struct {
	storageId  agentrt.StorageId
	descriptor agentrt.Descriptor
}

// Option configures optional FileStore behavior.
type Option func(*FileStore)

// WithIndex attaches idx so RecordSessionCreated and RecordState keep its
// rows current as they write, instead of requiring a RebuildFrom pass. A
// failed index write only logs a warning -- the durable log is still the
// source of truth.
func WithIndex(idx *Index) Option {
	return func(s *FileStore) { s.index = idx }
}

// Open creates (if needed) baseDir and returns a FileStore rooted there.
func Open(baseDir string, log *slog.Logger, opts ...Option) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, dirMode); err != nil {
		return nil, fmt.Errorf("store: create base dir: %w", err)
	}
	s := &FileStore{
		baseDir: baseDir,
		log:     log,
		locks:   make(map[agentrt.AgentId]*sync.Mutex),
		meta:    make(map[agentrt.AgentId]sessionMeta),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) rememberMeta(agentId agentrt.AgentId, m sessionMeta) {
	s.metaMu.Lock()
	s.meta[agentId] = m
	s.metaMu.Unlock()
}

func (s *FileStore) metaFor(agentId agentrt.AgentId) (sessionMeta, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	m, ok := s.meta[agentId]
	return m, ok
}

func (s *FileStore) lockFor(id agentrt.AgentId) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *FileStore) dir(id agentrt.AgentId) string {
	return filepath.Join(s.baseDir, id.String())
}

// writeAtomic writes data to name inside dir via a temp file followed by a
// rename, so readers never observe a partially written file.
func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+name+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}

func appendLine(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func toFileRefs(files []agentrt.FileRef) []fileRef {
	out := make([]fileRef, 0, len(files))
	for _, f := range files {
		out = append(out, fileRef{Path: f.Path, Name: f.Name})
	}
	return out
}

func fromFileRefs(files []fileRef) []agentrt.FileRef {
	out := make([]agentrt.FileRef, 0, len(files))
	for _, f := range files {
		out = append(out, agentrt.FileRef{Path: f.Path, Name: f.Name})
	}
	return out
}

// RecordSessionCreated writes the descriptor snapshot and appends the
// session_created log entry. It is the first write for a new agent; every
// Record call creates the agent's directory if it is missing.
func (s *FileStore) RecordSessionCreated(agentId agentrt.AgentId, storageId agentrt.StorageId, descriptor agentrt.Descriptor, at time.Time) error {
	lock := s.lockFor(agentId)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(agentId)
	raw, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	if err := writeAtomic(dir, descriptorFile, raw); err != nil {
		return err
	}

	entry := logEntry{Kind: entrySessionCreated, At: at, StorageId: storageId.String()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := appendLine(dir, logFile, data); err != nil {
		return err
	}

	s.rememberMeta(agentId, sessionMeta{storageId: storageId, descriptor: descriptor})
	if s.index != nil {
		if err := s.index.Upsert(agentId, storageId, descriptor, agentrt.AgentState{CreatedAt: at, UpdatedAt: at}); err != nil {
			s.log.Warn("store: index upsert failed", "agentId", agentId, "error", err)
		}
	}
	return nil
}

// RecordIncoming appends an incoming-message log entry.
func (s *FileStore) RecordIncoming(agentId agentrt.AgentId, text string, files []agentrt.FileRef, ctx agentrt.RoutingContext, at time.Time) error {
	lock := s.lockFor(agentId)
	lock.Lock()
	defer lock.Unlock()

	entry := logEntry{
		Kind: entryIncoming, At: at, Text: text, Files: toFileRefs(files),
		Source: ctx.Source, ChannelId: ctx.ChannelId, UserId: ctx.UserId,
		MessageId: ctx.MessageId, TaskId: ctx.TaskId,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return appendLine(s.dir(agentId), logFile, data)
}

// RecordOutgoing appends an outgoing-message log entry.
func (s *FileStore) RecordOutgoing(agentId agentrt.AgentId, text string, files []agentrt.FileRef, ctx agentrt.RoutingContext, origin string, at time.Time) error {
	lock := s.lockFor(agentId)
	lock.Lock()
	defer lock.Unlock()

	entry := logEntry{
		Kind: entryOutgoing, At: at, Text: text, Files: toFileRefs(files),
		Source: ctx.Source, ChannelId: ctx.ChannelId, Origin: origin,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return appendLine(s.dir(agentId), logFile, data)
}

// RecordState atomically overwrites the agent's state snapshot and appends a
// state log entry marking the point in the log this snapshot corresponds to.
func (s *FileStore) RecordState(agentId agentrt.AgentId, state agentrt.AgentState, at time.Time) error {
	lock := s.lockFor(agentId)
	lock.Lock()
	defer lock.Unlock()

	dir := s.dir(agentId)
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := writeAtomic(dir, stateFile, raw); err != nil {
		return err
	}

	entry := logEntry{Kind: entryState, At: at, State: json.RawMessage(raw)}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := appendLine(dir, logFile, data); err != nil {
		return err
	}

	if s.index != nil {
		if m, ok := s.metaFor(agentId); ok {
			if err := s.index.Upsert(agentId, m.storageId, m.descriptor, state); err != nil {
				s.log.Warn("store: index upsert failed", "agentId", agentId, "error", err)
			}
		}
	}
	return nil
}

// RecordNote appends a freeform note entry (e.g. "reset").
func (s *FileStore) RecordNote(agentId agentrt.AgentId, kind, text string, at time.Time) error {
	lock := s.lockFor(agentId)
	lock.Lock()
	defer lock.Unlock()

	entry := logEntry{Kind: entryNote, At: at, NoteKind: kind, Text: text}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return appendLine(s.dir(agentId), logFile, data)
}

// LoadAgents scans baseDir for agent directories and reconstructs each
// agent's descriptor, latest state snapshot, and the kind of its last log
// entry -- the signal AgentSystem.Load uses to decide whether to post a
// restore item.
func (s *FileStore) LoadAgents() ([]agentrt.LoadedAgent, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []agentrt.LoadedAgent
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		agentId := agentrt.AgentId(e.Name())
		loaded, err := s.loadOne(agentId)
		if err != nil {
			s.log.Warn("store: skipping unreadable agent directory", "agentId", agentId, "error", err)
			continue
		}
		out = append(out, loaded)
	}
	return out, nil
}

func (s *FileStore) loadOne(agentId agentrt.AgentId) (agentrt.LoadedAgent, error) {
	dir := s.dir(agentId)

	var descriptor agentrt.Descriptor
	descRaw, err := os.ReadFile(filepath.Join(dir, descriptorFile))
	if err != nil {
		return agentrt.LoadedAgent{}, fmt.Errorf("%w: descriptor: %v", agentrt.ErrCorruptState, err)
	}
	if err := json.Unmarshal(descRaw, &descriptor); err != nil {
		return agentrt.LoadedAgent{}, fmt.Errorf("%w: descriptor: %v", agentrt.ErrCorruptState, err)
	}

	var state agentrt.AgentState
	stateRaw, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return agentrt.LoadedAgent{}, fmt.Errorf("%w: state: %v", agentrt.ErrCorruptState, err)
	}
	if err := json.Unmarshal(stateRaw, &state); err != nil {
		return agentrt.LoadedAgent{}, fmt.Errorf("%w: state: %v", agentrt.ErrCorruptState, err)
	}

	storageId, lastKind, err := lastSessionAndKind(filepath.Join(dir, logFile))
	if err != nil {
		return agentrt.LoadedAgent{}, err
	}

	s.rememberMeta(agentId, sessionMeta{storageId: storageId, descriptor: descriptor})

	return agentrt.LoadedAgent{
		AgentId:       agentId,
		StorageId:     storageId,
		Descriptor:    descriptor,
		State:         state,
		LastEntryKind: lastKind,
	}, nil
}

// lastSessionAndKind scans the log once, remembering the storageId from the
// session_created line and the kind of the final well-formed line. A
// trailing truncated line (a crash mid-append) is ignored rather than
// treated as corruption.
func lastSessionAndKind(path string) (agentrt.StorageId, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: log: %v", agentrt.ErrCorruptState, err)
	}
	defer f.Close()

	var storageId agentrt.StorageId
	var lastKind string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry logEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // truncated trailing write; not fatal
		}
		if entry.Kind == entrySessionCreated {
			storageId = agentrt.StorageId(entry.StorageId)
		}
		lastKind = string(entry.Kind)
	}
	return storageId, lastKind, nil
}

// ReadHistory projects the full log into the read-only AgentHistoryRecord
// view used by dashboards and Index.RebuildFrom.
func (s *FileStore) ReadHistory(agentId agentrt.AgentId) ([]agentrt.AgentHistoryRecord, error) {
	f, err := os.Open(filepath.Join(s.dir(agentId), logFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []agentrt.AgentHistoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry logEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		switch entry.Kind {
		case entrySessionCreated:
			out = append(out, agentrt.AgentHistoryRecord{Kind: agentrt.HistoryStart, At: entry.At})
		case entryIncoming:
			out = append(out, agentrt.AgentHistoryRecord{Kind: agentrt.HistoryUserMessage, Text: entry.Text, At: entry.At})
		case entryOutgoing:
			out = append(out, agentrt.AgentHistoryRecord{Kind: agentrt.HistoryAssistantMessage, Text: entry.Text, At: entry.At})
		case entryNote:
			if entry.NoteKind == "reset" {
				out = append(out, agentrt.AgentHistoryRecord{Kind: agentrt.HistoryReset, At: entry.At})
			} else {
				out = append(out, agentrt.AgentHistoryRecord{Kind: agentrt.HistoryNote, Text: entry.Text, At: entry.At})
			}
		}
	}
	return out, nil
}

var _ agentrt.Store = (*FileStore)(nil)
