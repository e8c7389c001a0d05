// ABOUTME: SQLite-backed State Store: append-only events, messages, tool executions, harness KV, and memories.
// ABOUTME: Grounded on spec/store/sqlite.go's WAL/migrate/upsert idiom (teacher) and original_source's schema.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haasonsaas/bedrockkernel/kernel/errs"
)

// SchemaVersion is bumped whenever the table structure changes. Store.Open
// detects a mismatched on-disk version and reports it as fatal, per
// spec.md §6.
const SchemaVersion = 1

// MaxKVValueSize is the largest value kv_set will accept, per spec.md §4.2.
const MaxKVValueSize = 1 << 20 // 1 MiB

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	turn_index  INTEGER NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	token_count INTEGER,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS tool_executions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	turn_index    INTEGER NOT NULL,
	tool_call_id  TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	args          TEXT NOT NULL,
	output        TEXT,
	is_error      INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER,
	verdict       TEXT NOT NULL DEFAULT 'allow',
	created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS harness_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TEXT,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	metadata   TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);

CREATE TABLE IF NOT EXISTS schema_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_tool_executions_session ON tool_executions(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
`

// Store is the SQLite-backed State Store. Safe for concurrent use from one
// process; database/sql's connection pool serializes writes internally.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and runs the schema
// bootstrap. An incompatible existing schema version is a fatal error.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.NewConfigError("open sqlite database", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errs.NewConfigError("set WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, errs.NewConfigError("enable foreign keys", err)
	}

	s := &Store{db: db}
	if err := s.bootstrapSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) bootstrapSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return errs.NewConfigError("create schema", err)
	}

	row := s.db.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`)
	var existing string
	switch err := row.Scan(&existing); err {
	case sql.ErrNoRows:
		_, err := s.db.Exec(`INSERT INTO schema_info (key, value) VALUES ('version', ?)`, fmt.Sprint(SchemaVersion))
		if err != nil {
			return errs.NewConfigError("record schema version", err)
		}
	case nil:
		if existing != fmt.Sprint(SchemaVersion) {
			return errs.NewConfigError(
				fmt.Sprintf("incompatible schema version: on-disk=%s, expected=%d", existing, SchemaVersion),
				nil,
			)
		}
	default:
		return errs.NewConfigError("read schema version", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Event log ---

// InsertEvent appends an event to the log. Implements bus.Persister.
func (s *Store) InsertEvent(ctx context.Context, sessionID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, event_type, payload) VALUES (?, ?, ?)`,
		sessionID, eventType, string(payload))
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("insert event for session %s", sessionID), err)
	}
	return nil
}

// EventRow is a row from the events table.
type EventRow struct {
	ID        int64
	SessionID string
	EventType string
	Payload   string
	CreatedAt string
}

// GetEvents returns all events for a session, ordered by id ascending.
func (s *Store) GetEvents(ctx context.Context, sessionID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at FROM events WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, errs.NewPersistError("query events", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.EventType, &r.Payload, &r.CreatedAt); err != nil {
			return nil, errs.NewPersistError("scan event row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListSessions returns session ids ordered by most recent activity.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM events GROUP BY session_id ORDER BY MAX(id) DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, errs.NewPersistError("list sessions", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.NewPersistError("scan session id", err)
		}
		sessions = append(sessions, id)
	}
	return sessions, rows.Err()
}

// --- Message history ---

// MessageRow is a row from the messages table.
type MessageRow struct {
	ID         int64
	SessionID  string
	TurnIndex  int
	Role       string
	Content    string
	TokenCount *int
	CreatedAt  string
}

// InsertMessage records one message in the per-session history projection.
func (s *Store) InsertMessage(ctx context.Context, sessionID string, turnIndex int, role, contentJSON string, tokenCount *int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, turn_index, role, content, token_count) VALUES (?, ?, ?, ?, ?)`,
		sessionID, turnIndex, role, contentJSON, tokenCount)
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("insert message for session %s", sessionID), err)
	}
	return nil
}

// GetMessages returns all messages for a session, ordered by id ascending.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]MessageRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, role, content, token_count, created_at FROM messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, errs.NewPersistError("query messages", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TurnIndex, &r.Role, &r.Content, &r.TokenCount, &r.CreatedAt); err != nil {
			return nil, errs.NewPersistError("scan message row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Tool executions ---

// ToolExecutionRow is a row from the tool_executions table.
type ToolExecutionRow struct {
	ID          int64
	SessionID   string
	TurnIndex   int
	ToolCallID  string
	ToolName    string
	Args        string
	Output      *string
	IsError     bool
	DurationMs  *int64
	Verdict     string
	CreatedAt   string
}

// InsertToolExecution logs a single tool invocation's outcome.
func (s *Store) InsertToolExecution(ctx context.Context, sessionID string, turnIndex int, callID, name, argsJSON string, output *string, isError bool, durationMs *int64, verdict string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (session_id, turn_index, tool_call_id, tool_name, args, output, is_error, duration_ms, verdict)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turnIndex, callID, name, argsJSON, output, boolToInt(isError), durationMs, verdict)
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("insert tool execution for session %s", sessionID), err)
	}
	return nil
}

// GetToolExecutions returns all tool executions for a session.
func (s *Store) GetToolExecutions(ctx context.Context, sessionID string) ([]ToolExecutionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, tool_call_id, tool_name, args, output, is_error, duration_ms, verdict, created_at
		 FROM tool_executions WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, errs.NewPersistError("query tool executions", err)
	}
	defer rows.Close()

	var out []ToolExecutionRow
	for rows.Next() {
		var r ToolExecutionRow
		var isErr int
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TurnIndex, &r.ToolCallID, &r.ToolName, &r.Args, &r.Output, &isErr, &r.DurationMs, &r.Verdict, &r.CreatedAt); err != nil {
			return nil, errs.NewPersistError("scan tool execution row", err)
		}
		r.IsError = isErr != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Memories (vector store) ---

// MemoryRow is a row from the memories table, with score populated only
// by SearchMemories.
type MemoryRow struct {
	ID        int64
	SessionID string
	Content   string
	Metadata  string
	CreatedAt string
	Score     float64
}

// InsertMemory stores a piece of content with its embedding vector.
func (s *Store) InsertMemory(ctx context.Context, sessionID, content string, vector []float32, metadataJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (session_id, content, embedding, metadata) VALUES (?, ?, ?, ?)`,
		sessionID, content, encodeVector(vector), metadataJSON)
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("insert memory for session %s", sessionID), err)
	}
	return nil
}

// SearchMemories returns the top-k memories for sessionID ranked by cosine
// similarity to query, score = 1 - cosine_distance. go-sqlite3 carries no
// vector extension, so this is brute-force top-k in application code, per
// spec.md §9.
func (s *Store) SearchMemories(ctx context.Context, sessionID string, query []float32, limit int) ([]MemoryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, content, embedding, metadata, created_at FROM memories WHERE session_id = ?`,
		sessionID)
	if err != nil {
		return nil, errs.NewPersistError("query memories", err)
	}
	defer rows.Close()

	var candidates []MemoryRow
	for rows.Next() {
		var r MemoryRow
		var embeddingBytes []byte
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Content, &embeddingBytes, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, errs.NewPersistError("scan memory row", err)
		}
		vec := decodeVector(embeddingBytes)
		r.Score = cosineSimilarity(query, vec)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.NewPersistError("iterate memories", err)
	}

	sortMemoriesByScoreDesc(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func sortMemoriesByScoreDesc(rows []MemoryRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].Score < rows[j].Score; j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		bits := math.Float32bits(v)
		buf[i*4+0] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(buf[i*4+0]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// --- Harness KV store ---

// KVSet sets a key-value pair, optionally expiring at the given time.
// Values larger than MaxKVValueSize are rejected as a validation error.
func (s *Store) KVSet(ctx context.Context, key, value string, expiresAt *time.Time) error {
	if len(value) > MaxKVValueSize {
		return errs.NewConfigError(fmt.Sprintf("kv value for %q exceeds %d bytes", key, MaxKVValueSize), nil)
	}
	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO harness_kv (key, value, expires_at, updated_at) VALUES (?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		key, value, expires)
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("kv_set %q", key), err)
	}
	return nil
}

// KVGet returns the value for key, or ("", false) if absent or expired.
func (s *Store) KVGet(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM harness_kv WHERE key = ? AND (expires_at IS NULL OR expires_at > strftime('%Y-%m-%dT%H:%M:%fZ','now'))`,
		key)
	var value string
	switch err := row.Scan(&value); err {
	case nil:
		return value, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, errs.NewPersistError(fmt.Sprintf("kv_get %q", key), err)
	}
}

// KVDelete removes a key from the harness store.
func (s *Store) KVDelete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM harness_kv WHERE key = ?`, key)
	if err != nil {
		return errs.NewPersistError(fmt.Sprintf("kv_delete %q", key), err)
	}
	return nil
}
