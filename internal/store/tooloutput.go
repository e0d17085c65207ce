package store

import (
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// ToolOutput is an oversized tool result stored out of context and
// referenced by id from the session message.
type ToolOutput struct {
	ID             string
	ToolName       string
	FullOutput     string
	ContextSummary string
	SessionKey     string
	CreatedAt      time.Time
	AccessedCount  int
	CharCount      int
}

// ToolOutputStore persists oversized tool outputs in tool_outputs.db.
type ToolOutputStore struct {
	db *sql.DB
}

func NewToolOutputStore(db *sql.DB) *ToolOutputStore {
	return &ToolOutputStore{db: db}
}

func (t *ToolOutputStore) Close() error { return t.db.Close() }

func (t *ToolOutputStore) Init() error {
	_, err := t.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_outputs (
		id TEXT PRIMARY KEY,
		tool_name TEXT NOT NULL,
		full_output TEXT NOT NULL,
		context_summary TEXT NOT NULL DEFAULT '',
		session_key TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		accessed_count INTEGER NOT NULL DEFAULT 0,
		char_count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_outputs_session ON tool_outputs(session_key, created_at)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init tool_outputs schema")
}

// Put stores a full output and returns its reference id.
func (t *ToolOutputStore) Put(toolName, fullOutput, contextSummary, sessionKey string) (string, error) {
	id := NewID()
	_, err := t.db.Exec(
		`INSERT INTO tool_outputs (id, tool_name, full_output, context_summary, session_key, created_at, char_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, toolName, fullOutput, contextSummary, sessionKey, nowMS(), len(fullOutput))
	if err != nil {
		return "", fault.Wrap(fault.KindStoreWrite, err, "store tool output")
	}
	return id, nil
}

// Get resolves a reference to the original bytes and bumps the access
// counter.
func (t *ToolOutputStore) Get(id string) (*ToolOutput, error) {
	row := t.db.QueryRow(
		`SELECT id, tool_name, full_output, context_summary, session_key, created_at, accessed_count, char_count
		 FROM tool_outputs WHERE id=?`, id)
	var out ToolOutput
	var created int64
	err := row.Scan(&out.ID, &out.ToolName, &out.FullOutput, &out.ContextSummary,
		&out.SessionKey, &created, &out.AccessedCount, &out.CharCount)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindNotFound, "tool output %s", id)
	}
	if err != nil {
		return nil, err
	}
	out.CreatedAt = msToTime(created)

	t.db.Exec(`UPDATE tool_outputs SET accessed_count = accessed_count + 1 WHERE id=?`, id)
	out.AccessedCount++
	return &out, nil
}
