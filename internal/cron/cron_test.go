package cron

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func testScheduler(t *testing.T) (*Scheduler, *store.Stores, *bus.Bus) {
	t.Helper()
	stores, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	b := bus.New(bus.Config{Capacity: 16, AckDeadline: time.Minute})
	return NewScheduler(stores.Cron, b, slog.Default()), stores, b
}

func TestTickFiresDueJob(t *testing.T) {
	s, stores, b := testScheduler(t)

	id, err := stores.Cron.Add(store.CronJob{
		Name:    "standup",
		Expr:    "* * * * *",
		Message: "time for standup",
		RoomID:  "ops",
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	now := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if fired := s.tick(context.Background()); fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := b.Next(ctx, bus.KindInbound)
	if err != nil {
		t.Fatalf("no envelope published: %v", err)
	}
	if env.Channel != "cron" || env.ChatID != "ops" || env.SenderID != "cron:standup" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Content.Text != "time for standup" {
		t.Errorf("text = %q", env.Content.Text)
	}
	if env.Metadata["room"] != "ops" || env.Metadata["cron_job"] != id {
		t.Errorf("metadata = %v", env.Metadata)
	}
	b.Ack(bus.KindInbound, env.ID)

	jobs, _ := stores.Cron.List()
	if jobs[0].LastRunAt.IsZero() {
		t.Error("last run not recorded")
	}
}

func TestTickSkipsDisabledAndNotDue(t *testing.T) {
	s, stores, b := testScheduler(t)

	stores.Cron.Add(store.CronJob{
		Name: "disabled", Expr: "* * * * *", Message: "x", Enabled: false,
	})
	stores.Cron.Add(store.CronJob{
		Name: "friday-only", Expr: "0 9 * * 5", Message: "y", Enabled: true,
	})

	// A Tuesday at 9:30.
	s.now = func() time.Time { return time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC) }

	if fired := s.tick(context.Background()); fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}
	if b.Len(bus.KindInbound) != 0 {
		t.Errorf("queue length = %d", b.Len(bus.KindInbound))
	}
}

func TestTickGuardsAgainstDoubleFire(t *testing.T) {
	s, stores, _ := testScheduler(t)

	stores.Cron.Add(store.CronJob{
		Name: "minutely", Expr: "* * * * *", Message: "go", RoomID: "ops", Enabled: true,
	})

	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if fired := s.tick(context.Background()); fired != 1 {
		t.Fatalf("first tick fired = %d", fired)
	}
	// Second tick inside the same minute must not fire again.
	now = now.Add(20 * time.Second)
	if fired := s.tick(context.Background()); fired != 0 {
		t.Errorf("second tick fired = %d, want 0", fired)
	}
	// The next minute fires normally.
	now = now.Add(time.Minute)
	if fired := s.tick(context.Background()); fired != 1 {
		t.Errorf("next-minute tick fired = %d, want 1", fired)
	}
}

func TestTickBadExpressionDoesNotAbort(t *testing.T) {
	s, stores, _ := testScheduler(t)

	stores.Cron.Add(store.CronJob{
		Name: "broken", Expr: "not a cron", Message: "x", Enabled: true,
	})
	stores.Cron.Add(store.CronJob{
		Name: "fine", Expr: "* * * * *", Message: "y", RoomID: "ops", Enabled: true,
	})

	s.now = func() time.Time { return time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC) }
	if fired := s.tick(context.Background()); fired != 1 {
		t.Errorf("fired = %d, want the valid job only", fired)
	}
}
