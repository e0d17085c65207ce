package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
)

func TestInvokePublishesCompletion(t *testing.T) {
	b := bus.New(bus.Config{Capacity: 16, AckDeadline: time.Minute})

	var gotBot, gotTask, gotID string
	process := func(_ context.Context, bot, task, taskContext, invocationID string) (string, error) {
		gotBot, gotTask, gotID = bot, task, invocationID
		return "research done: " + taskContext, nil
	}
	inv := NewInvoker(b, process, time.Minute, slog.Default())

	ack, id := inv.Invoke("maya", "find competitors", "saas tools", "cli", "u1")
	if !strings.Contains(ack, "@maya") {
		t.Errorf("ack = %q", ack)
	}
	if id == "" {
		t.Fatal("no invocation id")
	}
	inv.Wait()

	if gotBot != "maya" || gotTask != "find competitors" || gotID != id {
		t.Errorf("process saw bot=%q task=%q id=%q", gotBot, gotTask, gotID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := b.Next(ctx, bus.KindSystem)
	if err != nil {
		t.Fatalf("no completion envelope: %v", err)
	}
	if env.Channel != "cli" || env.ChatID != "u1" || env.SenderID != "maya" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Reference != id {
		t.Errorf("reference = %q, want invocation id %q", env.Reference, id)
	}
	if env.Content.Text != "research done: saas tools" {
		t.Errorf("text = %q", env.Content.Text)
	}
	if env.Metadata["event"] != "invocation_complete" ||
		env.Metadata["bot"] != "maya" ||
		env.Metadata["status"] != "completed" {
		t.Errorf("metadata = %v", env.Metadata)
	}
}

func TestInvokeReportsFailure(t *testing.T) {
	b := bus.New(bus.Config{Capacity: 16, AckDeadline: time.Minute})

	process := func(context.Context, string, string, string, string) (string, error) {
		return "", errors.New("provider down")
	}
	inv := NewInvoker(b, process, time.Minute, slog.Default())

	inv.Invoke("devon", "ship it", "", "cli", "u1")
	inv.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := b.Next(ctx, bus.KindSystem)
	if err != nil {
		t.Fatalf("no envelope: %v", err)
	}
	if env.Metadata["status"] != "failed" {
		t.Errorf("status = %q", env.Metadata["status"])
	}
	want := "@devon could not finish the task: provider down"
	if env.Content.Text != want {
		t.Errorf("text = %q, want %q", env.Content.Text, want)
	}
}

func TestInvocationsCompleteIndependently(t *testing.T) {
	b := bus.New(bus.Config{Capacity: 16, AckDeadline: time.Minute})

	release := make(chan struct{})
	process := func(_ context.Context, bot, _, _, _ string) (string, error) {
		if bot == "slow" {
			<-release
		}
		return bot + " finished", nil
	}
	inv := NewInvoker(b, process, time.Minute, slog.Default())

	inv.Invoke("slow", "long task", "", "cli", "u1")
	inv.Invoke("fast", "quick task", "", "cli", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := b.Next(ctx, bus.KindSystem)
	if err != nil {
		t.Fatalf("fast completion blocked behind slow one: %v", err)
	}
	if env.Metadata["bot"] != "fast" {
		t.Errorf("first completion from %q, want fast", env.Metadata["bot"])
	}
	b.Ack(bus.KindSystem, env.ID)

	close(release)
	inv.Wait()
}

func TestInvokeShedsResultOnSaturatedBus(t *testing.T) {
	b := bus.New(bus.Config{Capacity: 1, AckDeadline: time.Minute})
	if err := b.TryPublish(bus.Envelope{
		ID: "filler", Kind: bus.KindSystem, Channel: "cli", ChatID: "u1",
	}); err != nil {
		t.Fatalf("fill queue: %v", err)
	}

	process := func(context.Context, string, string, string, string) (string, error) {
		return "ok", nil
	}
	inv := NewInvoker(b, process, time.Minute, slog.Default())

	start := time.Now()
	inv.Invoke("maya", "task", "", "cli", "u2")
	inv.Wait()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("invoker blocked %v against a full queue", elapsed)
	}
	if b.Dropped(bus.KindSystem) != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped(bus.KindSystem))
	}
}
