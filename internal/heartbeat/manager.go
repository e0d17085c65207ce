package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CoordinationFunc performs one unit of pending cross-bot work, e.g.
// distributing queued learning packages or nudging stalled votes. It
// returns how many items it handled.
type CoordinationFunc func(ctx context.Context) (int, error)

// Manager owns every bot's heartbeat service, starts and stops them
// together, and runs the cross-bot coordinator tick at the leader's
// interval.
type Manager struct {
	leader   string
	services map[string]*Service
	coord    []CoordinationFunc
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(leader string, log *slog.Logger) *Manager {
	return &Manager{
		leader:   leader,
		services: make(map[string]*Service),
		log:      log.With("component", "heartbeats"),
	}
}

// Register adds a bot's heartbeat service.
func (m *Manager) Register(service *Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[service.bot] = service
}

// Service returns a bot's heartbeat service.
func (m *Manager) Service(bot string) (*Service, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[bot]
	return s, ok
}

// AddCoordination registers work for the coordinator tick.
func (m *Manager) AddCoordination(fn CoordinationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coord = append(m.coord, fn)
}

// Start launches every service loop plus the coordinator tick.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, m.cancel = context.WithCancel(ctx)
	for _, service := range m.services {
		m.wg.Add(1)
		go func(s *Service) {
			defer m.wg.Done()
			s.Run(ctx)
		}(service)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.coordinatorLoop(ctx)
	}()
}

// Stop cancels all loops and waits for them to drain.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// coordinatorLoop runs pending cross-bot work at the leader bot's
// heartbeat interval.
func (m *Manager) coordinatorLoop(ctx context.Context) {
	interval := 30 * time.Minute
	m.mu.Lock()
	if leader, ok := m.services[m.leader]; ok {
		interval = leader.cfg.Interval()
	}
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			fns := append([]CoordinationFunc(nil), m.coord...)
			m.mu.Unlock()
			for _, fn := range fns {
				handled, err := fn(ctx)
				if err != nil {
					m.log.Warn("coordinator work failed", "error", err)
				} else if handled > 0 {
					m.log.Info("coordinator tick", "handled", handled)
				}
			}
		}
	}
}
