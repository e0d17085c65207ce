package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// LogSession is one row of session_log: a bounded unit of work (one
// user query processed end to end).
type LogSession struct {
	ID           string
	SessionKey   string
	Query        string
	StartedAt    time.Time
	EndedAt      time.Time
	RoomID       string
	Coordinator  string
	Participants []string
	FinalOutput  string
}

// LogEntry is one row of log_entry. Required core fields are columns;
// everything situational lives in the Extras record (persisted as one
// flattened JSON column, exposed as a typed view).
type LogEntry struct {
	ID        string
	SessionID string
	StepNo    int
	Timestamp time.Time
	Level     string
	Category  string
	BotName   string
	Message   string
	Extras    LogExtras
}

// LogExtras is the optional tail of a log entry.
type LogExtras struct {
	TriggeredBy     string         `json:"triggered_by,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	Confidence      float64        `json:"confidence,omitempty"`
	DurationMS      int64          `json:"duration_ms,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolInput       string         `json:"tool_input,omitempty"`
	ToolOutput      string         `json:"tool_output,omitempty"`
	ToolStatus      string         `json:"tool_status,omitempty"`
	Mentions        []string       `json:"mentions,omitempty"`
	ResponseToStep  int            `json:"response_to_step,omitempty"`
	CoordinatorMode bool           `json:"coordinator_mode,omitempty"`
	Escalation      bool           `json:"escalation,omitempty"`
	Shareable       bool           `json:"shareable,omitempty"`
	InsightCategory string         `json:"insight_category,omitempty"`
}

// WorkLogStore persists the append-only decision log in work_logs.db.
type WorkLogStore struct {
	db *sql.DB
}

func NewWorkLogStore(db *sql.DB) *WorkLogStore {
	return &WorkLogStore{db: db}
}

func (w *WorkLogStore) Close() error { return w.db.Close() }

func (w *WorkLogStore) Init() error {
	_, err := w.db.Exec(`
	CREATE TABLE IF NOT EXISTS session_log (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL,
		query TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		room_id TEXT NOT NULL DEFAULT '',
		coordinator TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL DEFAULT '[]',
		final_output TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_session_log_room ON session_log(room_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_session_log_key ON session_log(session_key, started_at);

	CREATE TABLE IF NOT EXISTS log_entry (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES session_log(id),
		step_no INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		level TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		bot_name TEXT NOT NULL,
		message TEXT NOT NULL,
		extras TEXT NOT NULL DEFAULT '{}',
		UNIQUE(session_id, step_no)
	);
	CREATE INDEX IF NOT EXISTS idx_log_entry_session ON log_entry(session_id, step_no);
	CREATE INDEX IF NOT EXISTS idx_log_entry_bot ON log_entry(bot_name, timestamp)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init worklog schema")
}

// StartSession inserts a session_log row and returns its id.
func (w *WorkLogStore) StartSession(s LogSession) (string, error) {
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	participants, _ := json.Marshal(s.Participants)
	_, err := w.db.Exec(
		`INSERT INTO session_log (id, session_key, query, started_at, room_id, coordinator, participants)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SessionKey, s.Query, s.StartedAt.UnixMilli(), s.RoomID, s.Coordinator, string(participants))
	return s.ID, fault.Wrap(fault.KindStoreWrite, err, "start log session")
}

// Append adds an entry. step_no is dense within a session: the store
// assigns the next step inside one transaction.
func (w *WorkLogStore) Append(e LogEntry) (int, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	extras, err := json.Marshal(e.Extras)
	if err != nil {
		return 0, fault.Wrap(fault.KindStoreWrite, err, "encode extras")
	}

	tx, err := w.db.Begin()
	if err != nil {
		return 0, fault.Wrap(fault.KindStoreWrite, err, "begin append")
	}
	defer tx.Rollback()

	var step int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(step_no), 0) + 1 FROM log_entry WHERE session_id=?`, e.SessionID,
	).Scan(&step); err != nil {
		return 0, fault.Wrap(fault.KindStoreWrite, err, "next step")
	}

	if _, err := tx.Exec(
		`INSERT INTO log_entry (id, session_id, step_no, timestamp, level, category, bot_name, message, extras)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, step, e.Timestamp.UnixMilli(), e.Level, e.Category, e.BotName, e.Message, string(extras),
	); err != nil {
		return 0, fault.Wrap(fault.KindStoreWrite, err, "append entry")
	}
	return step, fault.Wrap(fault.KindStoreWrite, tx.Commit(), "commit append")
}

// EndSession records completion and the final output.
func (w *WorkLogStore) EndSession(sessionID, finalOutput string) error {
	_, err := w.db.Exec(
		`UPDATE session_log SET ended_at=?, final_output=? WHERE id=?`,
		nowMS(), finalOutput, sessionID)
	return fault.Wrap(fault.KindStoreWrite, err, "end log session %s", sessionID)
}

// GetSession returns one session_log row.
func (w *WorkLogStore) GetSession(sessionID string) (*LogSession, error) {
	row := w.db.QueryRow(
		`SELECT id, session_key, query, started_at, COALESCE(ended_at,0), room_id, coordinator, participants, final_output
		 FROM session_log WHERE id=?`, sessionID)
	return scanLogSession(row)
}

func scanLogSession(row *sql.Row) (*LogSession, error) {
	var s LogSession
	var started, ended int64
	var participants string
	err := row.Scan(&s.ID, &s.SessionKey, &s.Query, &started, &ended, &s.RoomID, &s.Coordinator, &participants, &s.FinalOutput)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.StartedAt = msToTime(started)
	if ended > 0 {
		s.EndedAt = msToTime(ended)
	}
	json.Unmarshal([]byte(participants), &s.Participants)
	return &s, nil
}

// Entries returns a session's entries in step order.
func (w *WorkLogStore) Entries(sessionID string) ([]LogEntry, error) {
	rows, err := w.db.Query(
		`SELECT id, session_id, step_no, timestamp, level, category, bot_name, message, extras
		 FROM log_entry WHERE session_id=? ORDER BY step_no ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("entries for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// SessionsByRoom returns recent session_log rows for a room.
func (w *WorkLogStore) SessionsByRoom(roomID string, limit int) ([]LogSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := w.db.Query(
		`SELECT id, session_key, query, started_at, COALESCE(ended_at,0), room_id, coordinator, participants, final_output
		 FROM session_log WHERE room_id=? ORDER BY started_at DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("sessions by room: %w", err)
	}
	defer rows.Close()
	return scanLogSessions(rows)
}

// AllSessions returns recent session_log rows, optionally filtered by
// room.
func (w *WorkLogStore) AllSessions(limit int, roomID string) ([]LogSession, error) {
	if roomID != "" {
		return w.SessionsByRoom(roomID, limit)
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := w.db.Query(
		`SELECT id, session_key, query, started_at, COALESCE(ended_at,0), room_id, coordinator, participants, final_output
		 FROM session_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("all sessions: %w", err)
	}
	defer rows.Close()
	return scanLogSessions(rows)
}

func scanLogSessions(rows *sql.Rows) ([]LogSession, error) {
	var out []LogSession
	for rows.Next() {
		var s LogSession
		var started, ended int64
		var participants string
		if err := rows.Scan(&s.ID, &s.SessionKey, &s.Query, &started, &ended, &s.RoomID, &s.Coordinator, &participants, &s.FinalOutput); err != nil {
			return nil, err
		}
		s.StartedAt = msToTime(started)
		if ended > 0 {
			s.EndedAt = msToTime(ended)
		}
		json.Unmarshal([]byte(participants), &s.Participants)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Search returns entries whose message or extras contain the text,
// case-insensitive, optionally scoped by room and bot.
func (w *WorkLogStore) Search(text, roomID, botName string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT e.id, e.session_id, e.step_no, e.timestamp, e.level, e.category, e.bot_name, e.message, e.extras
	          FROM log_entry e JOIN session_log s ON s.id = e.session_id
	          WHERE (e.message LIKE ? COLLATE NOCASE OR e.extras LIKE ? COLLATE NOCASE)`
	pattern := "%" + text + "%"
	args := []any{pattern, pattern}
	if roomID != "" {
		query += ` AND s.room_id = ?`
		args = append(args, roomID)
	}
	if botName != "" {
		query += ` AND e.bot_name = ?`
		args = append(args, botName)
	}
	query += ` ORDER BY e.timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := w.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search worklog: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ShareableEntries returns a session's entries marked shareable with
// confidence at or above the threshold.
func (w *WorkLogStore) ShareableEntries(sessionID string, minConfidence float64) ([]LogEntry, error) {
	entries, err := w.Entries(sessionID)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range entries {
		if e.Extras.Shareable && e.Extras.Confidence >= minConfidence {
			out = append(out, e)
		}
	}
	return out, nil
}

func scanEntries(rows *sql.Rows) ([]LogEntry, error) {
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts int64
		var extras string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.StepNo, &ts, &e.Level, &e.Category, &e.BotName, &e.Message, &extras); err != nil {
			return nil, err
		}
		e.Timestamp = msToTime(ts)
		json.Unmarshal([]byte(extras), &e.Extras)
		out = append(out, e)
	}
	return out, rows.Err()
}
