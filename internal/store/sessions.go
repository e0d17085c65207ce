package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/sessions"
)

// SessionData holds conversation state for one session.
type SessionData struct {
	Key             string             `json:"key"`
	Messages        []sessions.Message `json:"messages"`
	Created         time.Time          `json:"created"`
	Updated         time.Time          `json:"updated"`
	Model           string             `json:"model,omitempty"`
	Channel         string             `json:"channel,omitempty"`
	InputTokens     int64              `json:"inputTokens,omitempty"`
	OutputTokens    int64              `json:"outputTokens,omitempty"`
	CompactionCount int                `json:"compactionCount,omitempty"`
}

// SessionInfo is lightweight session metadata for listing.
type SessionInfo struct {
	Key          string    `json:"key"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// SessionStore persists conversation sessions in sessions.db, with an
// in-memory cache for hot sessions (reduces reads during tool loops).
type SessionStore struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]*SessionData
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, cache: make(map[string]*SessionData)}
}

func (s *SessionStore) Init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		session_key TEXT NOT NULL UNIQUE,
		messages TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		compaction_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init sessions schema")
}

func (s *SessionStore) Close() error { return s.db.Close() }

// GetOrCreate returns an existing session or creates a new one.
func (s *SessionStore) GetOrCreate(key string) (*SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	data, err := s.loadLocked(key)
	if err != nil {
		return nil, err
	}
	if data != nil {
		s.cache[key] = data
		return data, nil
	}

	now := time.Now()
	data = &SessionData{Key: key, Messages: []sessions.Message{}, Created: now, Updated: now}
	if _, err := s.db.Exec(
		`INSERT INTO sessions (id, session_key, messages, created_at, updated_at)
		 VALUES (?, ?, '[]', ?, ?) ON CONFLICT(session_key) DO NOTHING`,
		NewID(), key, now.UnixMilli(), now.UnixMilli(),
	); err != nil {
		return nil, fault.Wrap(fault.KindStoreWrite, err, "create session %s", key)
	}
	s.cache[key] = data
	return data, nil
}

func (s *SessionStore) loadLocked(key string) (*SessionData, error) {
	row := s.db.QueryRow(
		`SELECT messages, model, channel, input_tokens, output_tokens,
		        compaction_count, created_at, updated_at
		 FROM sessions WHERE session_key = ?`, key)

	var msgsJSON, model, channel string
	var in, out int64
	var compactions int
	var createdMS, updatedMS int64
	err := row.Scan(&msgsJSON, &model, &channel, &in, &out, &compactions, &createdMS, &updatedMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}

	var msgs []sessions.Message
	if err := json.Unmarshal([]byte(msgsJSON), &msgs); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &SessionData{
		Key: key, Messages: msgs, Model: model, Channel: channel,
		InputTokens: in, OutputTokens: out, CompactionCount: compactions,
		Created: msToTime(createdMS), Updated: msToTime(updatedMS),
	}, nil
}

// AppendMessages appends messages atomically, preserving the
// tool_use/tool_result pairing invariant. The whole batch is rejected
// when the resulting history would violate it.
func (s *SessionStore) AppendMessages(key string, msgs ...sessions.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getOrInitLocked(key)
	if err != nil {
		return err
	}

	next := append(append([]sessions.Message{}, data.Messages...), msgs...)
	if !sessions.PairingValid(next) {
		return fault.New(fault.KindStoreWrite, "append to %s would orphan a tool_result", key)
	}

	data.Messages = next
	data.Updated = time.Now()
	return s.flushLocked(data)
}

// History returns a copy of the session's messages.
func (s *SessionStore) History(key string) ([]sessions.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getOrInitLocked(key)
	if err != nil {
		return nil, err
	}
	out := make([]sessions.Message, len(data.Messages))
	copy(out, data.Messages)
	return out, nil
}

// CompactSession replaces messages[:keep.From] with the summary block
// in a single transaction. Refuses to run when the resulting session
// would violate the pairing invariant.
func (s *SessionStore) CompactSession(key string, keepFrom int, summary sessions.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getOrInitLocked(key)
	if err != nil {
		return 0, err
	}
	if keepFrom <= 0 || keepFrom > len(data.Messages) {
		return 0, fault.New(fault.KindInputValidation, "compact %s: keep_from %d out of range", key, keepFrom)
	}

	suffix := data.Messages[keepFrom:]
	next := append([]sessions.Message{summary}, suffix...)
	if !sessions.PairingValid(next) {
		return 0, fault.New(fault.KindStoreWrite, "compact %s would orphan a tool_result", key)
	}

	replaced := keepFrom
	data.Messages = next
	data.CompactionCount++
	data.Updated = time.Now()
	if err := s.flushLocked(data); err != nil {
		return 0, err
	}
	return replaced, nil
}

// CompactSessionBlocks is CompactSession with one summary message per
// chunk instead of a single block.
func (s *SessionStore) CompactSessionBlocks(key string, keepFrom int, summaries []sessions.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getOrInitLocked(key)
	if err != nil {
		return 0, err
	}
	if keepFrom <= 0 || keepFrom > len(data.Messages) {
		return 0, fault.New(fault.KindInputValidation, "compact %s: keep_from %d out of range", key, keepFrom)
	}

	next := append(append([]sessions.Message{}, summaries...), data.Messages[keepFrom:]...)
	if !sessions.PairingValid(next) {
		return 0, fault.New(fault.KindStoreWrite, "compact %s would orphan a tool_result", key)
	}

	replaced := keepFrom
	data.Messages = next
	data.CompactionCount++
	data.Updated = time.Now()
	if err := s.flushLocked(data); err != nil {
		return 0, err
	}
	return replaced, nil
}

// ReplaceMessages overwrites the whole history (emergency compaction).
// The replacement must satisfy the pairing invariant.
func (s *SessionStore) ReplaceMessages(key string, msgs []sessions.Message) error {
	if !sessions.PairingValid(msgs) {
		return fault.New(fault.KindStoreWrite, "replace %s would orphan a tool_result", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getOrInitLocked(key)
	if err != nil {
		return err
	}
	data.Messages = msgs
	data.CompactionCount++
	data.Updated = time.Now()
	return s.flushLocked(data)
}

// AccumulateTokens adds token usage to the session counters.
func (s *SessionStore) AccumulateTokens(key string, input, output int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getOrInitLocked(key)
	if err != nil {
		return err
	}
	data.InputTokens += input
	data.OutputTokens += output
	return s.flushLocked(data)
}

// UpdateMetadata records the model and channel last used.
func (s *SessionStore) UpdateMetadata(key, model, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getOrInitLocked(key)
	if err != nil {
		return err
	}
	data.Model = model
	data.Channel = channel
	return s.flushLocked(data)
}

// CompactionCount returns how many compactions this session has seen.
func (s *SessionStore) CompactionCount(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.cache[key]; ok {
		return data.CompactionCount
	}
	return 0
}

// Reset clears a session's history but keeps the row.
func (s *SessionStore) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.getOrInitLocked(key)
	if err != nil {
		return err
	}
	data.Messages = []sessions.Message{}
	data.Updated = time.Now()
	return s.flushLocked(data)
}

// List returns session metadata ordered by last update.
func (s *SessionStore) List(limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session_key, messages, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var key, msgsJSON string
		var createdMS, updatedMS int64
		if err := rows.Scan(&key, &msgsJSON, &createdMS, &updatedMS); err != nil {
			return nil, err
		}
		var msgs []sessions.Message
		json.Unmarshal([]byte(msgsJSON), &msgs)
		out = append(out, SessionInfo{
			Key: key, MessageCount: len(msgs),
			Created: msToTime(createdMS), Updated: msToTime(updatedMS),
		})
	}
	return out, rows.Err()
}

func (s *SessionStore) getOrInitLocked(key string) (*SessionData, error) {
	if data, ok := s.cache[key]; ok {
		return data, nil
	}
	data, err := s.loadLocked(key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		now := time.Now()
		data = &SessionData{Key: key, Messages: []sessions.Message{}, Created: now, Updated: now}
		if _, err := s.db.Exec(
			`INSERT INTO sessions (id, session_key, messages, created_at, updated_at)
			 VALUES (?, ?, '[]', ?, ?) ON CONFLICT(session_key) DO NOTHING`,
			NewID(), key, now.UnixMilli(), now.UnixMilli(),
		); err != nil {
			return nil, fault.Wrap(fault.KindStoreWrite, err, "create session %s", key)
		}
	}
	s.cache[key] = data
	return data, nil
}

// flushLocked writes the cached session back to the database in one
// transaction. Assumes s.mu held.
func (s *SessionStore) flushLocked(data *SessionData) error {
	msgsJSON, err := json.Marshal(data.Messages)
	if err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "encode session %s", data.Key)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "begin flush %s", data.Key)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE sessions SET messages=?, model=?, channel=?, input_tokens=?,
		        output_tokens=?, compaction_count=?, updated_at=?
		 WHERE session_key=?`,
		string(msgsJSON), data.Model, data.Channel, data.InputTokens,
		data.OutputTokens, data.CompactionCount, data.Updated.UnixMilli(), data.Key,
	); err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "flush session %s", data.Key)
	}
	return fault.Wrap(fault.KindStoreWrite, tx.Commit(), "commit session %s", data.Key)
}
