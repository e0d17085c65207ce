// Package heartbeat runs each bot's periodic checks: scheduling,
// bounded parallelism, retries, timeouts, and per-bot circuit
// breaking.
package heartbeat

import (
	"context"
	"time"
)

// Tick statuses.
const (
	TickRunning               = "running"
	TickCompleted             = "completed"
	TickCompletedWithFailures = "completed_with_failures"
	TickFailed                = "failed"
	TickSkipped               = "skipped"
)

// Check statuses.
const (
	CheckPending = "pending"
	CheckRunning = "running"
	CheckSuccess = "success"
	CheckFailed  = "failed"
	CheckSkipped = "skipped"
	CheckTimeout = "timeout"
)

// Tick triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerEvent     = "event"
)

// Tick is one execution record of a bot's heartbeat.
type Tick struct {
	ID          string
	BotName     string
	Trigger     string
	TriggeredBy string
	StartedAt   time.Time
	EndedAt     time.Time
	Status      string
	Results     []CheckResult
}

// CheckResult records one check execution within a tick.
type CheckResult struct {
	CheckName   string
	StartedAt   time.Time
	EndedAt     time.Time
	Status      string
	Success     bool
	Message     string
	Data        map[string]any
	Error       string
	ErrorType   string
	ActionTaken string
	DurationMS  int64
}

// Outcome is what a check handler returns on success.
type Outcome struct {
	Success     bool
	Message     string
	Data        map[string]any
	ActionTaken string
	NextActions []string
}

// CheckFunc is the fixed handler signature for a registered check.
type CheckFunc func(ctx context.Context, bot string, config map[string]any) (Outcome, error)

// CheckDefinition is a named check with its scheduling metadata.
type CheckDefinition struct {
	Name         string
	Description  string
	Priority     int
	MaxDuration  time.Duration
	Dependencies []string
	BotDomains   []string // which bot domains see this check; "all" for every bot
	Config       map[string]any
	Run          CheckFunc
}
