package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hearthside-labs/agentrt"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is a rebuildable SQLite read-index over the durable JSONL log. It is
// never the source of truth for agent state: RebuildFrom repopulates it
// entirely from a FileStore's LoadAgents/ReadHistory output, so losing
// index.db is harmless -- it is query convenience, not durability.
type Index struct {
	db *sql.DB
}

// OpenIndex applies pending schema migrations against path (through the cgo
// sqlite3 driver golang-migrate needs) and then reopens path for querying
// through the pure-Go modernc driver used by every other SQLite consumer in
// this module.
func OpenIndex(path string) (*Index, error) {
	if err := migrateIndex(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrateIndex(path string) error {
	mdb, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("index: open migration handle: %w", err)
	}
	defer mdb.Close()

	driver, err := sqlite3.WithInstance(mdb, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("index: migration driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("index: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("index: migrate: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("index: migrate up: %w", err)
	}
	return nil
}

// Close releases the query connection.
func (x *Index) Close() error { return x.db.Close() }

// Upsert records or refreshes one agent's row. Callers typically invoke this
// right after FileStore.RecordState; a failed upsert only degrades the
// index's query freshness, never the durable log, so callers should log and
// continue rather than fail the turn over it.
func (x *Index) Upsert(agentId agentrt.AgentId, storageId agentrt.StorageId, d agentrt.Descriptor, state agentrt.AgentState) error {
	_, err := x.db.Exec(`
		INSERT INTO agents (agent_id, storage_id, kind, connector, channel_id, user_id, task_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			storage_id = excluded.storage_id,
			updated_at = excluded.updated_at
	`, agentId.String(), storageId.String(), string(d.Kind), d.Connector, d.ChannelId, d.UserId, d.TaskId, d.Name, state.CreatedAt, state.UpdatedAt)
	return err
}

// ListByKind returns every indexed AgentId of the given descriptor kind,
// most recently updated first.
func (x *Index) ListByKind(kind agentrt.DescriptorKind) ([]agentrt.AgentId, error) {
	rows, err := x.db.Query(`SELECT agent_id FROM agents WHERE kind = ? ORDER BY updated_at DESC`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agentrt.AgentId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, agentrt.AgentId(id))
	}
	return out, rows.Err()
}

// FindUser looks up the AgentId for a user descriptor's (connector, channel,
// user) triple without scanning the filesystem.
func (x *Index) FindUser(connector, channelId, userId string) (agentrt.AgentId, bool, error) {
	var id string
	err := x.db.QueryRow(`
		SELECT agent_id FROM agents WHERE kind = 'user' AND connector = ? AND channel_id = ? AND user_id = ?
	`, connector, channelId, userId).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return agentrt.AgentId(id), true, nil
}

// RebuildFrom truncates the index and repopulates it from src's durable
// state, for use when index.db is missing, stale, or deliberately discarded
// -- the index carries no information the JSONL log doesn't. Nothing in this
// module calls it automatically; OpenIndex does not rebuild.
func (x *Index) RebuildFrom(src *FileStore) error {
	if _, err := x.db.Exec(`DELETE FROM agents`); err != nil {
		return err
	}
	if _, err := x.db.Exec(`DELETE FROM history`); err != nil {
		return err
	}

	loaded, err := src.LoadAgents()
	if err != nil {
		return err
	}
	for _, la := range loaded {
		if err := x.Upsert(la.AgentId, la.StorageId, la.Descriptor, la.State); err != nil {
			return err
		}
		history, err := src.ReadHistory(la.AgentId)
		if err != nil {
			continue
		}
		for _, h := range history {
			if _, err := x.db.Exec(`INSERT INTO history (agent_id, kind, text, at) VALUES (?, ?, ?, ?)`,
				la.AgentId.String(), string(h.Kind), h.Text, h.At); err != nil {
				return err
			}
		}
	}
	return nil
}
