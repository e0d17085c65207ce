package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Service is one bot's heartbeat: a tick loop running the bot's
// registered checks under the breaker, with retries and timeouts.
// Ticks for a single bot are serialized.
type Service struct {
	bot      string
	domain   string
	cfg      config.HeartbeatConfig
	registry *Registry
	breaker  *Breaker
	bus      *bus.Bus
	log      *slog.Logger

	mu      sync.Mutex
	history []Tick
	ticking bool

	trigger chan string // manual trigger reasons
}

func NewService(botName, domain string, cfg config.HeartbeatConfig, registry *Registry, b *bus.Bus, log *slog.Logger) *Service {
	return &Service{
		bot:      botName,
		domain:   domain,
		cfg:      cfg,
		registry: registry,
		breaker:  NewBreaker(cfg.BreakerThreshold, time.Duration(cfg.BreakerTimeoutS)*time.Second),
		bus:      b,
		log:      log.With("component", "heartbeat", "bot", botName),
		trigger:  make(chan string, 4),
	}
}

// Breaker exposes the bot's circuit breaker.
func (s *Service) Breaker() *Breaker { return s.breaker }

// Run drives the tick loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	timer := time.NewTimer(s.cfg.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.trigger:
			// Manual trigger does not reset the schedule.
			s.Tick(ctx, TriggerManual, reason)
		case <-timer.C:
			s.Tick(ctx, TriggerScheduled, "interval")
			timer.Reset(s.cfg.Interval())
		}
	}
}

// TriggerNow requests an immediate tick with trigger_type=manual.
func (s *Service) TriggerNow(reason string) {
	select {
	case s.trigger <- reason:
	default:
	}
}

// History returns the retained ticks, newest last.
func (s *Service) History() []Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tick, len(s.history))
	copy(out, s.history)
	return out
}

// Tick runs one heartbeat execution. Returns the recorded tick.
func (s *Service) Tick(ctx context.Context, trigger, triggeredBy string) Tick {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		return Tick{BotName: s.bot, Status: TickSkipped, Trigger: trigger}
	}
	s.ticking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
	}()

	tick := Tick{
		ID:          store.NewID(),
		BotName:     s.bot,
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now(),
		Status:      TickRunning,
	}

	if !s.breaker.Allow() {
		tick.Status = TickSkipped
		tick.EndedAt = time.Now()
		s.retain(tick)
		s.log.Info("tick skipped, breaker open")
		return tick
	}

	checks := s.selectChecks()
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxExecutionTime())
	defer cancel()

	if s.cfg.ParallelChecks {
		tick.Results = s.runParallel(tickCtx, checks)
	} else {
		tick.Results = s.runSequential(tickCtx, checks)
	}

	tick.EndedAt = time.Now()
	tick.Status = statusFromResults(tick.Results, tickCtx.Err() != nil)

	switch tick.Status {
	case TickCompleted:
		s.breaker.RecordSuccess()
	case TickFailed, TickCompletedWithFailures:
		s.breaker.RecordFailure()
	}

	s.retain(tick)
	s.announce(tick)
	return tick
}

// selectChecks resolves the configured check names, falling back to
// everything visible to the bot's domain.
func (s *Service) selectChecks() []CheckDefinition {
	if len(s.cfg.Checks) == 0 {
		return s.registry.ForDomain(s.domain)
	}
	var out []CheckDefinition
	for _, name := range s.cfg.Checks {
		if def, ok := s.registry.Get(name); ok && visibleTo(def, s.domain) {
			out = append(out, def)
		} else {
			s.log.Warn("configured check unavailable", "check", name)
		}
	}
	return out
}

func (s *Service) runSequential(ctx context.Context, checks []CheckDefinition) []CheckResult {
	var results []CheckResult
	for _, def := range checks {
		result := s.runWithRetries(ctx, def)
		results = append(results, result)
		if !result.Success && s.cfg.StopOnFirstFailure {
			break
		}
	}
	return results
}

func (s *Service) runParallel(ctx context.Context, checks []CheckDefinition) []CheckResult {
	limit := s.cfg.MaxConcurrentChecks
	if limit <= 0 {
		limit = 3
	}
	sem := make(chan struct{}, limit)
	results := make([]CheckResult, len(checks))

	var wg sync.WaitGroup
	for i, def := range checks {
		wg.Add(1)
		go func(i int, def CheckDefinition) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.runWithRetries(ctx, def)
		}(i, def)
	}
	wg.Wait()
	return results
}

// runWithRetries executes one check with the configured retry policy.
// Each attempt passes through the breaker.
func (s *Service) runWithRetries(ctx context.Context, def CheckDefinition) CheckResult {
	attempts := s.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := time.Duration(s.cfg.RetryDelayS * float64(time.Second))
	backoff := s.cfg.RetryBackoff
	if backoff <= 1 {
		backoff = 2
	}

	var result CheckResult
	for attempt := 0; attempt < attempts; attempt++ {
		// A check that never started must not count as a timeout when
		// the tick budget expired during an earlier check.
		if ctx.Err() != nil {
			return CheckResult{CheckName: def.Name, Status: CheckSkipped, Message: "tick budget exhausted"}
		}
		if !s.breaker.Allow() {
			return CheckResult{CheckName: def.Name, Status: CheckSkipped, Message: "breaker open"}
		}
		result = s.runOnce(ctx, def)
		if result.Success || result.Status == CheckSkipped || ctx.Err() != nil {
			return result
		}
		if attempt+1 < attempts && delay > 0 {
			select {
			case <-ctx.Done():
				return result
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoff)
		}
	}
	return result
}

func (s *Service) runOnce(ctx context.Context, def CheckDefinition) CheckResult {
	result := CheckResult{
		CheckName: def.Name,
		StartedAt: time.Now(),
		Status:    CheckRunning,
	}

	checkCtx, cancel := context.WithTimeout(ctx, def.MaxDuration)
	defer cancel()

	type done struct {
		outcome Outcome
		err     error
	}
	ch := make(chan done, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- done{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		outcome, err := def.Run(checkCtx, s.bot, def.Config)
		ch <- done{outcome: outcome, err: err}
	}()

	select {
	case <-checkCtx.Done():
		result.Status = CheckTimeout
		result.Error = checkCtx.Err().Error()
		result.ErrorType = "timeout"
	case d := <-ch:
		if d.err != nil {
			result.Status = CheckFailed
			result.Error = d.err.Error()
			result.ErrorType = fmt.Sprintf("%T", d.err)
		} else {
			result.Success = d.outcome.Success
			result.Message = d.outcome.Message
			result.Data = d.outcome.Data
			result.ActionTaken = d.outcome.ActionTaken
			if d.outcome.Success {
				result.Status = CheckSuccess
			} else {
				result.Status = CheckFailed
			}
		}
	}

	result.EndedAt = time.Now()
	result.DurationMS = result.EndedAt.Sub(result.StartedAt).Milliseconds()
	return result
}

func statusFromResults(results []CheckResult, timedOut bool) string {
	if len(results) == 0 {
		return TickCompleted
	}
	failures := 0
	for _, r := range results {
		if !r.Success && r.Status != CheckSkipped {
			failures++
		}
	}
	switch {
	case failures == 0:
		return TickCompleted
	case failures == len(results) || timedOut:
		return TickFailed
	default:
		return TickCompletedWithFailures
	}
}

// retain appends the tick to the bounded history ring.
func (s *Service) retain(tick Tick) {
	keep := s.cfg.RetainHistoryCount
	if keep <= 0 {
		keep = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, tick)
	if len(s.history) > keep {
		s.history = s.history[len(s.history)-keep:]
	}
}

// announce publishes notable findings as a system envelope. Internal
// producers never block the bus; on saturation the finding is dropped
// with a warning.
func (s *Service) announce(tick Tick) {
	var findings []string
	for _, r := range tick.Results {
		if r.ActionTaken != "" {
			findings = append(findings, fmt.Sprintf("%s: %s", r.CheckName, r.ActionTaken))
		} else if !r.Success && r.Status != CheckSkipped {
			findings = append(findings, fmt.Sprintf("%s failed: %s", r.CheckName, firstNonEmpty(r.Error, r.Message)))
		}
	}
	if len(findings) == 0 {
		return
	}

	env := bus.Envelope{
		ID:        store.NewID(),
		Kind:      bus.KindSystem,
		Channel:   "heartbeat",
		ChatID:    s.bot,
		SenderID:  s.bot,
		Timestamp: time.Now(),
		Content:   bus.Content{Text: strings.Join(findings, "\n")},
		Reference: tick.ID,
		Metadata:  map[string]string{"event": "heartbeat_tick", "status": tick.Status},
	}
	if err := s.bus.TryPublish(env); err != nil {
		s.log.Warn("heartbeat finding dropped", "tick", tick.ID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
