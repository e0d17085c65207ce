// Package worklog is the append-only decision audit: every decision,
// tool call, handoff, and escalation a bot makes is recorded as a
// structured entry, queryable by session, room, and bot.
package worklog

import (
	"log/slog"
	"sync/atomic"

	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Entry levels.
const (
	LevelInfo         = "info"
	LevelThinking     = "thinking"
	LevelDecision     = "decision"
	LevelCorrection   = "correction"
	LevelUncertainty  = "uncertainty"
	LevelWarning      = "warning"
	LevelError        = "error"
	LevelTool         = "tool"
	LevelHandoff      = "handoff"
	LevelCoordination = "coordination"
)

// Service wraps the store with the write-path semantics: log failures
// never fail the caller, and session end hands shareable entries to
// the exchange hook.
type Service struct {
	store   *store.WorkLogStore
	log     *slog.Logger
	dropped atomic.Int64

	// OnShareable receives a session's shareable high-confidence
	// entries when the session ends.
	OnShareable func(session store.LogSession, entries []store.LogEntry)

	// MinConfidence gates which shareable entries are handed off.
	MinConfidence float64
}

func NewService(st *store.WorkLogStore, log *slog.Logger) *Service {
	return &Service{
		store:         st,
		log:           log.With("component", "worklog"),
		MinConfidence: 0.85,
	}
}

// Dropped returns how many entries were lost to write failures.
func (s *Service) Dropped() int64 { return s.dropped.Load() }

// Session is a live logging handle for one unit of work.
type Session struct {
	svc     *Service
	ID      string
	BotName string
	info    store.LogSession
}

// Start opens a work-log session and returns its handle.
func (s *Service) Start(sessionKey, query, roomID, coordinator string, participants []string) *Session {
	info := store.LogSession{
		SessionKey:   sessionKey,
		Query:        query,
		RoomID:       roomID,
		Coordinator:  coordinator,
		Participants: participants,
	}
	id, err := s.store.StartSession(info)
	if err != nil {
		// Degrade to a detached handle; entries will be dropped
		// but the agent operation proceeds.
		s.log.Warn("worklog session start failed", "error", err)
		s.dropped.Add(1)
		return &Session{svc: s, BotName: coordinator, info: info}
	}
	info.ID = id
	return &Session{svc: s, ID: id, BotName: coordinator, info: info}
}

// Log appends one entry. A write failure retries once, then drops
// with the warning counter incremented.
func (h *Session) Log(level, category, message string, extras store.LogExtras) {
	if h.ID == "" {
		h.svc.dropped.Add(1)
		return
	}
	entry := store.LogEntry{
		SessionID: h.ID,
		Level:     level,
		Category:  category,
		BotName:   h.BotName,
		Message:   message,
		Extras:    extras,
	}
	if _, err := h.svc.store.Append(entry); err != nil {
		if _, err := h.svc.store.Append(entry); err != nil {
			h.svc.dropped.Add(1)
			h.svc.log.Warn("worklog entry dropped", "level", level, "error", err)
		}
	}
}

// Info logs a plain informational entry.
func (h *Session) Info(category, message string) {
	h.Log(LevelInfo, category, message, store.LogExtras{})
}

// Tool logs a tool execution with its structured artifact.
func (h *Session) Tool(toolName, input, output, status string, durationMS int64) {
	h.Log(LevelTool, "tool_execution", toolName+" executed", store.LogExtras{
		ToolName:   toolName,
		ToolInput:  input,
		ToolOutput: output,
		ToolStatus: status,
		DurationMS: durationMS,
	})
}

// End records completion and forwards shareable entries.
func (h *Session) End(finalOutput string) {
	if h.ID == "" {
		return
	}
	if err := h.svc.store.EndSession(h.ID, finalOutput); err != nil {
		h.svc.log.Warn("worklog session end failed", "session", h.ID, "error", err)
		h.svc.dropped.Add(1)
		return
	}
	if h.svc.OnShareable == nil {
		return
	}
	entries, err := h.svc.store.ShareableEntries(h.ID, h.svc.MinConfidence)
	if err != nil {
		h.svc.log.Warn("shareable scan failed", "session", h.ID, "error", err)
		return
	}
	if len(entries) > 0 {
		h.info.FinalOutput = finalOutput
		h.svc.OnShareable(h.info, entries)
	}
}

// GetLog returns one full session with its entries.
func (s *Service) GetLog(sessionID string) (*store.LogSession, []store.LogEntry, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil || session == nil {
		return session, nil, err
	}
	entries, err := s.store.Entries(sessionID)
	return session, entries, err
}

// GetLogsByRoom returns recent sessions for a room.
func (s *Service) GetLogsByRoom(roomID string, limit int) ([]store.LogSession, error) {
	return s.store.SessionsByRoom(roomID, limit)
}

// GetAllLogs returns recent sessions, optionally filtered by room.
func (s *Service) GetAllLogs(limit int, roomID string) ([]store.LogSession, error) {
	return s.store.AllSessions(limit, roomID)
}

// Search finds entries by case-insensitive substring.
func (s *Service) Search(text, roomID, botName string, limit int) ([]store.LogEntry, error) {
	return s.store.Search(text, roomID, botName, limit)
}
