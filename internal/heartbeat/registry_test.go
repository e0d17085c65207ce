package heartbeat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/config"
)

func okCheck(context.Context, string, map[string]any) (Outcome, error) {
	return Outcome{Success: true, Message: "ok"}, nil
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(CheckDefinition{Run: okCheck}); err == nil {
		t.Error("nameless check was accepted")
	}
	if err := r.Register(CheckDefinition{Name: "x"}); err == nil {
		t.Error("handlerless check was accepted")
	}
	if err := r.Register(CheckDefinition{Name: "x", Run: okCheck}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(CheckDefinition{Name: "x", Run: okCheck}); err == nil {
		t.Error("duplicate name was accepted")
	}
}

func TestRegistryDomainVisibility(t *testing.T) {
	r := NewRegistry()
	r.Register(CheckDefinition{Name: "universal", Run: okCheck}) // defaults to "all"
	r.Register(CheckDefinition{Name: "social-only", Run: okCheck, BotDomains: []string{"social"}})
	r.Register(CheckDefinition{Name: "urgent", Run: okCheck, Priority: 10})

	social := r.ForDomain("social")
	if len(social) != 3 {
		t.Fatalf("social sees %d checks, want 3", len(social))
	}
	if social[0].Name != "urgent" {
		t.Errorf("first check = %s, want highest priority first", social[0].Name)
	}

	research := r.ForDomain("research")
	if len(research) != 2 {
		t.Fatalf("research sees %d checks, want 2", len(research))
	}
	for _, def := range research {
		if def.Name == "social-only" {
			t.Error("domain-scoped check leaked into another domain")
		}
	}
}

func testService(t *testing.T, cfg config.HeartbeatConfig, reg *Registry) *Service {
	t.Helper()
	b := bus.New(bus.Config{Capacity: 16, AckDeadline: time.Second})
	return NewService("maya", "social", cfg, reg, b, slog.Default())
}

func TestTickRecordsResultsAndTripsBreaker(t *testing.T) {
	reg := NewRegistry()
	reg.Register(CheckDefinition{
		Name: "always-down",
		Run: func(context.Context, string, map[string]any) (Outcome, error) {
			return Outcome{Success: false, Message: "service unreachable"}, nil
		},
	})

	svc := testService(t, config.HeartbeatConfig{
		Enabled:          true,
		BreakerThreshold: 3,
		BreakerTimeoutS:  600,
		RetryAttempts:    1,
	}, reg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tick := svc.Tick(ctx, TriggerScheduled, "interval")
		if tick.Status != TickFailed {
			t.Fatalf("tick %d status = %s, want failed", i, tick.Status)
		}
	}
	if svc.Breaker().State() != BreakerOpen {
		t.Fatalf("breaker = %s after 3 failed ticks, want open", svc.Breaker().State())
	}

	// While open, ticks are skipped without running checks.
	tick := svc.Tick(ctx, TriggerScheduled, "interval")
	if tick.Status != TickSkipped || len(tick.Results) != 0 {
		t.Errorf("tick while open = %+v, want skipped with no results", tick)
	}
}

func TestTickRecoveryClosesBreaker(t *testing.T) {
	healthy := false
	reg := NewRegistry()
	reg.Register(CheckDefinition{
		Name: "flappy",
		Run: func(context.Context, string, map[string]any) (Outcome, error) {
			return Outcome{Success: healthy, Message: "probe"}, nil
		},
	})

	svc := testService(t, config.HeartbeatConfig{
		Enabled:          true,
		BreakerThreshold: 1,
		BreakerTimeoutS:  600,
		RetryAttempts:    1,
	}, reg)

	ctx := context.Background()
	svc.Tick(ctx, TriggerScheduled, "interval")
	if svc.Breaker().State() != BreakerOpen {
		t.Fatalf("breaker = %s, want open", svc.Breaker().State())
	}

	// Force the half_open probe window and recover.
	clock := time.Now()
	svc.Breaker().now = func() time.Time { return clock }
	clock = clock.Add(11 * time.Minute)
	if svc.Breaker().State() != BreakerHalfOpen {
		t.Fatalf("breaker = %s, want half_open", svc.Breaker().State())
	}

	healthy = true
	tick := svc.Tick(ctx, TriggerManual, "operator")
	if tick.Status != TickCompleted {
		t.Fatalf("recovery tick status = %s, want completed", tick.Status)
	}
	if svc.Breaker().State() != BreakerClosed {
		t.Errorf("breaker = %s after successful probe, want closed", svc.Breaker().State())
	}
}

func TestTickHonorsConfiguredCheckList(t *testing.T) {
	ran := make(map[string]bool)
	record := func(name string) CheckFunc {
		return func(context.Context, string, map[string]any) (Outcome, error) {
			ran[name] = true
			return Outcome{Success: true}, nil
		}
	}
	reg := NewRegistry()
	reg.Register(CheckDefinition{Name: "wanted", Run: record("wanted")})
	reg.Register(CheckDefinition{Name: "unwanted", Run: record("unwanted")})

	svc := testService(t, config.HeartbeatConfig{
		Enabled:       true,
		Checks:        []string{"wanted", "missing"},
		RetryAttempts: 1,
	}, reg)

	tick := svc.Tick(context.Background(), TriggerScheduled, "interval")
	if len(tick.Results) != 1 || tick.Results[0].CheckName != "wanted" {
		t.Fatalf("results = %+v, want only the configured check", tick.Results)
	}
	if ran["unwanted"] {
		t.Error("unconfigured check ran")
	}
}

func TestTickHistoryBounded(t *testing.T) {
	reg := NewRegistry()
	reg.Register(CheckDefinition{Name: "noop", Run: okCheck})

	svc := testService(t, config.HeartbeatConfig{
		Enabled:            true,
		RetryAttempts:      1,
		RetainHistoryCount: 3,
	}, reg)

	for i := 0; i < 5; i++ {
		svc.Tick(context.Background(), TriggerScheduled, "interval")
	}
	if got := len(svc.History()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestTickBudgetExpiryMarksOnlyRunningCheck(t *testing.T) {
	reg := NewRegistry()
	reg.Register(CheckDefinition{
		Name:     "slow",
		Priority: 10, // runs first
		Run: func(ctx context.Context, _ string, _ map[string]any) (Outcome, error) {
			<-ctx.Done()
			return Outcome{}, ctx.Err()
		},
	})
	reg.Register(CheckDefinition{Name: "fast-a", Run: okCheck})
	reg.Register(CheckDefinition{Name: "fast-b", Run: okCheck})

	svc := testService(t, config.HeartbeatConfig{
		Enabled:          true,
		BreakerThreshold: 5,
		RetryAttempts:    1,
	}, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	tick := svc.Tick(ctx, TriggerScheduled, "interval")

	if len(tick.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(tick.Results))
	}
	timeouts := 0
	for _, r := range tick.Results {
		switch r.CheckName {
		case "slow":
			if r.Status != CheckTimeout {
				t.Errorf("slow status = %s, want timeout", r.Status)
			}
		default:
			if r.Status != CheckSkipped {
				t.Errorf("%s status = %s, want skipped when the budget is gone", r.CheckName, r.Status)
			}
		}
		if r.Status == CheckTimeout {
			timeouts++
		}
	}
	if timeouts != 1 {
		t.Errorf("timeout results = %d, want exactly the check that was running", timeouts)
	}
}
