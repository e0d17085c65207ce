package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/heartbeat"
	"github.com/nextlevelbuilder/goflock/internal/store"
	"github.com/nextlevelbuilder/goflock/internal/worklog"
)

// registerBuiltinChecks installs the stock health checks every bot can
// run on its heartbeat.
func registerBuiltinChecks(reg *heartbeat.Registry, b *bus.Bus, stores *store.Stores, wl *worklog.Service) error {
	checks := []heartbeat.CheckDefinition{
		{
			Name:        "bus_backlog",
			Description: "Flags a growing inbound backlog before it turns into shed traffic.",
			Priority:    10,
			MaxDuration: 5 * time.Second,
			Run: func(_ context.Context, _ string, cfg map[string]any) (heartbeat.Outcome, error) {
				limit := intOption(cfg, "max_backlog", 64)
				backlog := b.Len(bus.KindInbound)
				dropped := b.Dropped(bus.KindInbound)
				if backlog > limit {
					return heartbeat.Outcome{
						Success: false,
						Message: fmt.Sprintf("inbound backlog %d exceeds %d (dropped so far: %d)", backlog, limit, dropped),
						Data:    map[string]any{"backlog": backlog, "dropped": dropped},
					}, nil
				}
				return heartbeat.Outcome{
					Success: true,
					Message: fmt.Sprintf("inbound backlog %d", backlog),
					Data:    map[string]any{"backlog": backlog, "dropped": dropped},
				}, nil
			},
		},
		{
			Name:        "store_health",
			Description: "Verifies the session store answers reads.",
			Priority:    9,
			MaxDuration: 10 * time.Second,
			Run: func(_ context.Context, _ string, _ map[string]any) (heartbeat.Outcome, error) {
				infos, err := stores.Sessions.List(1)
				if err != nil {
					return heartbeat.Outcome{}, err
				}
				return heartbeat.Outcome{
					Success: true,
					Message: fmt.Sprintf("session store reachable (%d sampled)", len(infos)),
				}, nil
			},
		},
		{
			Name:        "memory_backlog",
			Description: "Flags a stuck extraction pipeline.",
			Priority:    8,
			MaxDuration: 10 * time.Second,
			Run: func(_ context.Context, _ string, cfg map[string]any) (heartbeat.Outcome, error) {
				limit := intOption(cfg, "max_pending", 200)
				pending, err := stores.Memory.PendingEvents(limit + 1)
				if err != nil {
					return heartbeat.Outcome{}, err
				}
				if len(pending) > limit {
					return heartbeat.Outcome{
						Success:     false,
						Message:     fmt.Sprintf("more than %d events await extraction", limit),
						NextActions: []string{"check provider availability", "inspect memory doctor"},
					}, nil
				}
				return heartbeat.Outcome{
					Success: true,
					Message: fmt.Sprintf("%d events pending extraction", len(pending)),
				}, nil
			},
		},
		{
			Name:        "worklog_drops",
			Description: "Flags audit entries lost to write failures.",
			Priority:    7,
			MaxDuration: 5 * time.Second,
			Run: func(_ context.Context, _ string, _ map[string]any) (heartbeat.Outcome, error) {
				dropped := wl.Dropped()
				if dropped > 0 {
					return heartbeat.Outcome{
						Success: false,
						Message: fmt.Sprintf("%d work log entries dropped since start", dropped),
					}, nil
				}
				return heartbeat.Outcome{Success: true, Message: "no dropped work log entries"}, nil
			},
		},
	}

	for _, def := range checks {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func intOption(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
