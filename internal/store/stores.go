package store

import (
	"fmt"
	"path/filepath"
)

// Stores is the top-level container for all storage backends. The app
// root owns it; components hold handles, never raw *sql.DB.
type Stores struct {
	Sessions    *SessionStore
	Rooms       *RoomStore
	Memory      *MemoryStore
	WorkLog     *WorkLogStore
	Exchange    *ExchangeStore
	ToolOutputs *ToolOutputStore
	Cron        *CronStore
}

// Open opens every store under dataDir (one SQLite file per logical
// store, per the on-disk contract).
func Open(dataDir string) (*Stores, error) {
	sessionsDB, err := OpenDB(filepath.Join(dataDir, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("sessions.db: %w", err)
	}
	memoryDB, err := OpenDB(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("memory.db: %w", err)
	}
	workLogDB, err := OpenDB(filepath.Join(dataDir, "work_logs.db"))
	if err != nil {
		return nil, fmt.Errorf("work_logs.db: %w", err)
	}
	exchangeDB, err := OpenDB(filepath.Join(dataDir, "learning_exchange.db"))
	if err != nil {
		return nil, fmt.Errorf("learning_exchange.db: %w", err)
	}
	toolOutputsDB, err := OpenDB(filepath.Join(dataDir, "tool_outputs.db"))
	if err != nil {
		return nil, fmt.Errorf("tool_outputs.db: %w", err)
	}

	s := &Stores{
		Sessions:    NewSessionStore(sessionsDB),
		Rooms:       NewRoomStore(sessionsDB),
		Memory:      NewMemoryStore(memoryDB),
		WorkLog:     NewWorkLogStore(workLogDB),
		Exchange:    NewExchangeStore(exchangeDB),
		ToolOutputs: NewToolOutputStore(toolOutputsDB),
		Cron:        NewCronStore(sessionsDB),
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens every store on in-memory databases (tests).
func OpenInMemory() (*Stores, error) {
	sessionsDB, err := OpenDB(":memory:")
	if err != nil {
		return nil, err
	}
	memoryDB, err := OpenDB(":memory:")
	if err != nil {
		return nil, err
	}
	workLogDB, err := OpenDB(":memory:")
	if err != nil {
		return nil, err
	}
	exchangeDB, err := OpenDB(":memory:")
	if err != nil {
		return nil, err
	}
	toolOutputsDB, err := OpenDB(":memory:")
	if err != nil {
		return nil, err
	}

	s := &Stores{
		Sessions:    NewSessionStore(sessionsDB),
		Rooms:       NewRoomStore(sessionsDB),
		Memory:      NewMemoryStore(memoryDB),
		WorkLog:     NewWorkLogStore(workLogDB),
		Exchange:    NewExchangeStore(exchangeDB),
		ToolOutputs: NewToolOutputStore(toolOutputsDB),
		Cron:        NewCronStore(sessionsDB),
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init creates all schemas. Idempotent.
func (s *Stores) Init() error {
	for _, init := range []func() error{
		s.Sessions.Init,
		s.Rooms.Init,
		s.Memory.Init,
		s.WorkLog.Init,
		s.Exchange.Init,
		s.ToolOutputs.Init,
		s.Cron.Init,
	} {
		if err := init(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every underlying database.
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{
		s.Sessions, s.Memory, s.WorkLog, s.Exchange, s.ToolOutputs,
	} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
