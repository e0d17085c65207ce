package config

import "time"

// Config is the root configuration for the goflock orchestrator.
type Config struct {
	Workspace string          `json:"workspace,omitempty"`
	DataDir   string          `json:"data_dir,omitempty"`
	LogLevel  string          `json:"log_level,omitempty"`
	Bots      BotsConfig      `json:"bots"`
	Provider  ProviderConfig  `json:"provider"`
	Bus       BusConfig       `json:"bus,omitempty"`
	Memory    MemoryConfig    `json:"memory"`
	Exchange  ExchangeConfig  `json:"learning_exchange"`
	Heartbeat HeartbeatMap    `json:"heartbeat,omitempty"`
	Security  SecurityConfig  `json:"security,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
}

// BotsConfig declares the team: one leader plus specialists.
type BotsConfig struct {
	Leader      string   `json:"leader"`
	Specialists []string `json:"specialists"`
}

// All returns leader + specialists in declaration order.
func (b BotsConfig) All() []string {
	out := make([]string, 0, len(b.Specialists)+1)
	if b.Leader != "" {
		out = append(out, b.Leader)
	}
	return append(out, b.Specialists...)
}

// ProviderConfig configures the model provider.
type ProviderConfig struct {
	Name          string  `json:"name,omitempty"` // "anthropic" (default)
	Model         string  `json:"model,omitempty"`
	APIKey        string  `json:"-"` // env GOFLOCK_ANTHROPIC_API_KEY only
	BaseURL       string  `json:"base_url,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxIterations int     `json:"max_tool_iterations,omitempty"`
	ContextWindow int     `json:"context_window,omitempty"`
	RetryAttempts int     `json:"retry_attempts,omitempty"`
	RetryBaseMS   int     `json:"retry_base_ms,omitempty"`
	TimeoutS      int     `json:"timeout_s,omitempty"`
}

// BusConfig bounds the message bus queues.
type BusConfig struct {
	Capacity     int `json:"capacity,omitempty"`
	AckDeadlineS int `json:"ack_deadline_s,omitempty"`
	OutboundRPM  int `json:"outbound_rpm,omitempty"` // per-channel delivery rate
}

// MemoryConfig groups the memory, context, and compaction knobs.
type MemoryConfig struct {
	EmbeddingDim        int                 `json:"embedding_dim,omitempty"`
	DedupeThreshold     float64             `json:"dedupe_threshold,omitempty"`
	DecayHalfLifeDays   float64             `json:"decay_half_life_days,omitempty"`
	AccessBoost         float64             `json:"access_boost,omitempty"`
	SummaryStaleness    int                 `json:"summary_staleness_threshold,omitempty"`
	SummaryRefreshBatch int                 `json:"summary_refresh_batch,omitempty"`
	SessionCompaction   CompactionConfig    `json:"session_compaction"`
	EnhancedContext     ContextConfig       `json:"enhanced_context"`
	ToolOutput          ToolOutputConfig    `json:"tool_output_config"`
	Emergency           EmergencyCompaction `json:"emergency_compaction"`
}

// CompactionConfig mirrors memory.session_compaction.
type CompactionConfig struct {
	Enabled            bool    `json:"enabled"`
	Mode               string  `json:"mode,omitempty"` // "summary" | "token_limit" | "off"
	ThresholdPercent   float64 `json:"threshold_percent,omitempty"`
	TargetTokens       int     `json:"target_tokens,omitempty"`
	MinMessages        int     `json:"min_messages,omitempty"`
	MaxMessages        int     `json:"max_messages,omitempty"`
	PreserveRecent     int     `json:"preserve_recent,omitempty"`
	PreserveToolChains bool    `json:"preserve_tool_chains"`
	SummaryChunkSize   int     `json:"summary_chunk_size,omitempty"`
	EnableMemoryFlush  bool    `json:"enable_memory_flush"`
}

// ContextConfig mirrors memory.enhanced_context.
type ContextConfig struct {
	MaxContextTokens        int     `json:"max_context_tokens,omitempty"`
	ResponseBuffer          int     `json:"response_buffer,omitempty"`
	MemoryBudgetPercent     float64 `json:"memory_budget_percent,omitempty"`
	HistoryBudgetPercent    float64 `json:"history_budget_percent,omitempty"`
	SystemBudgetPercent     float64 `json:"system_budget_percent,omitempty"`
	WarningThreshold        float64 `json:"warning_threshold,omitempty"`
	CompactionThreshold     float64 `json:"compaction_threshold,omitempty"`
	MinHistoryMessages      int     `json:"min_history_messages,omitempty"`
	PreserveUserPreferences bool    `json:"preserve_user_preferences"`
}

// ToolOutputConfig mirrors memory.tool_output_config.
type ToolOutputConfig struct {
	Enabled            bool `json:"enabled"`
	MaxToolOutputChars int  `json:"max_tool_output_chars,omitempty"`
	StoreFullOutput    bool `json:"store_full_output"`
	SummarizeThreshold int  `json:"summarize_threshold,omitempty"`
}

// EmergencyCompaction mirrors memory.emergency_compaction.
type EmergencyCompaction struct {
	Enabled                bool    `json:"enabled"`
	CriticalThreshold      float64 `json:"critical_threshold,omitempty"`
	MaxToolOutputEmergency int     `json:"max_tool_output_emergency,omitempty"`
	MinMessageLength       int     `json:"min_message_length,omitempty"`
	PreserveCount          int     `json:"preserve_count,omitempty"`
}

// ExchangeConfig configures the learning exchange.
type ExchangeConfig struct {
	Enabled             bool                `json:"enabled"`
	MinConfidence       float64             `json:"min_confidence,omitempty"`
	AutoApprove         bool                `json:"auto_approve"`
	ShareableCategories []string            `json:"shareable_categories,omitempty"`
	WorkspaceScopes     map[string][]string `json:"workspace_scopes,omitempty"` // team scope allowlists
	CycleIntervalS      int                 `json:"cycle_interval_s,omitempty"`
}

// HeartbeatMap holds one heartbeat block per bot name.
type HeartbeatMap map[string]HeartbeatConfig

// HeartbeatConfig is a per-bot heartbeat block.
type HeartbeatConfig struct {
	Enabled             bool     `json:"enabled"`
	IntervalS           int      `json:"interval_s,omitempty"`
	MaxExecutionTimeS   int      `json:"max_execution_time_s,omitempty"`
	Checks              []string `json:"checks,omitempty"`
	ParallelChecks      bool     `json:"parallel_checks"`
	MaxConcurrentChecks int      `json:"max_concurrent_checks,omitempty"`
	StopOnFirstFailure  bool     `json:"stop_on_first_failure"`
	RetryAttempts       int      `json:"retry_attempts,omitempty"`
	RetryDelayS         float64  `json:"retry_delay_s,omitempty"`
	RetryBackoff        float64  `json:"retry_backoff,omitempty"`
	BreakerThreshold    int      `json:"circuit_breaker_threshold,omitempty"`
	BreakerTimeoutS     int      `json:"circuit_breaker_timeout_s,omitempty"`
	RetainHistoryCount  int      `json:"retain_history_count,omitempty"`
}

// Interval returns the tick interval as a duration.
func (h HeartbeatConfig) Interval() time.Duration {
	if h.IntervalS <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(h.IntervalS) * time.Second
}

// MaxExecutionTime returns the overall tick budget.
func (h HeartbeatConfig) MaxExecutionTime() time.Duration {
	if h.MaxExecutionTimeS <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(h.MaxExecutionTimeS) * time.Second
}

// SecurityConfig configures inbound secret masking.
type SecurityConfig struct {
	MaskPatterns    []string `json:"mask_patterns,omitempty"` // extra regexes on top of built-ins
	MaxMessageChars int      `json:"max_message_chars,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	Insecure bool   `json:"insecure,omitempty"`
}

// CronConfig configures the cron scheduler.
type CronConfig struct {
	Enabled bool `json:"enabled"`
}
