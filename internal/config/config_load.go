package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: "~/.goflock/workspace",
		DataDir:   "~/.goflock",
		LogLevel:  "info",
		Bots: BotsConfig{
			Leader:      "lead",
			Specialists: []string{"researcher", "coder"},
		},
		Provider: ProviderConfig{
			Name:          "anthropic",
			Model:         "claude-sonnet-4-5-20250929",
			MaxTokens:     8192,
			Temperature:   0.7,
			MaxIterations: 20,
			ContextWindow: 200000,
			RetryAttempts: 3,
			RetryBaseMS:   500,
			TimeoutS:      120,
		},
		Bus: BusConfig{
			Capacity:     256,
			AckDeadlineS: 120,
			OutboundRPM:  20,
		},
		Memory: MemoryConfig{
			EmbeddingDim:        384,
			DedupeThreshold:     0.85,
			DecayHalfLifeDays:   14,
			AccessBoost:         0.1,
			SummaryStaleness:    10,
			SummaryRefreshBatch: 20,
			SessionCompaction: CompactionConfig{
				Enabled:            true,
				Mode:               "summary",
				ThresholdPercent:   0.8,
				MinMessages:        10,
				MaxMessages:        200,
				PreserveRecent:     20,
				PreserveToolChains: true,
				SummaryChunkSize:   10,
				EnableMemoryFlush:  true,
			},
			EnhancedContext: ContextConfig{
				MaxContextTokens:        100000,
				ResponseBuffer:          1000,
				MemoryBudgetPercent:     0.35,
				HistoryBudgetPercent:    0.35,
				SystemBudgetPercent:     0.20,
				WarningThreshold:        0.7,
				CompactionThreshold:     0.8,
				MinHistoryMessages:      10,
				PreserveUserPreferences: true,
			},
			ToolOutput: ToolOutputConfig{
				Enabled:            true,
				MaxToolOutputChars: 2000,
				StoreFullOutput:    true,
				SummarizeThreshold: 10000,
			},
			Emergency: EmergencyCompaction{
				Enabled:                true,
				CriticalThreshold:      0.95,
				MaxToolOutputEmergency: 500,
				MinMessageLength:       10,
				PreserveCount:          5,
			},
		},
		Exchange: ExchangeConfig{
			Enabled:       true,
			MinConfidence: 0.85,
			AutoApprove:   true,
			ShareableCategories: []string{
				"user_preference", "tool_pattern", "error_pattern",
				"performance_tip", "context_tip", "workflow_tip",
				"reasoning_pattern", "integration_tip",
			},
			CycleIntervalS: 60,
		},
		Security: SecurityConfig{
			MaxMessageChars: 32000,
		},
		Cron: CronConfig{Enabled: true},
	}
}

// Path resolves the config file location: GOFLOCK_CONFIG_PATH, else
// ~/.goflock/config.json.
func Path() string {
	if p := os.Getenv("GOFLOCK_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".goflock", "config.json")
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("GOFLOCK_WORKSPACE", &c.Workspace)
	envStr("GOFLOCK_LOG_LEVEL", &c.LogLevel)
	envStr("GOFLOCK_ANTHROPIC_API_KEY", &c.Provider.APIKey)

	if v := os.Getenv("GOFLOCK_DISABLE_LEARNING_EXCHANGE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Exchange.Enabled = false
		}
	}
}

// ExpandHome resolves a leading ~ against the user home directory.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// HeartbeatFor returns the heartbeat block for a bot, or defaults.
func (c *Config) HeartbeatFor(bot string) HeartbeatConfig {
	if hb, ok := c.Heartbeat[bot]; ok {
		return hb
	}
	return HeartbeatConfig{
		Enabled:             false,
		IntervalS:           1800,
		MaxExecutionTimeS:   300,
		ParallelChecks:      true,
		MaxConcurrentChecks: 4,
		RetryAttempts:       2,
		RetryDelayS:         1,
		RetryBackoff:        2,
		BreakerThreshold:    3,
		BreakerTimeoutS:     600,
		RetainHistoryCount:  50,
	}
}
