package bus

import (
	"context"
	"testing"
	"time"
)

func env(kind Kind, id, channel, chatID string) Envelope {
	return Envelope{
		ID:        id,
		Kind:      kind,
		Channel:   channel,
		ChatID:    chatID,
		Timestamp: time.Now(),
		Content:   Content{Text: "msg " + id},
	}
}

func TestFIFOPerPartition(t *testing.T) {
	b := New(Config{Capacity: 16})
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := b.Publish(ctx, env(KindInbound, id, "cli", "u1")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, want := range []string{"a1", "a2", "a3"} {
		got, err := b.Next(ctx, KindInbound)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got.ID != want {
			t.Fatalf("got %s, want %s", got.ID, want)
		}
		b.Ack(KindInbound, got.ID)
	}
}

func TestPartitionSerialization(t *testing.T) {
	// While an envelope for a partition is in flight, the same
	// partition must not deliver again, but other partitions must.
	b := New(Config{Capacity: 16})
	ctx := context.Background()

	b.Publish(ctx, env(KindInbound, "a1", "cli", "u1"))
	b.Publish(ctx, env(KindInbound, "a2", "cli", "u1"))
	b.Publish(ctx, env(KindInbound, "b1", "cli", "u2"))

	first, _ := b.Next(ctx, KindInbound)
	if first.ID != "a1" {
		t.Fatalf("first = %s, want a1", first.ID)
	}

	// u1 has a1 in flight, so the next deliverable envelope is b1.
	second, _ := b.Next(ctx, KindInbound)
	if second.ID != "b1" {
		t.Fatalf("second = %s, want b1 (partition u1 busy)", second.ID)
	}

	b.Ack(KindInbound, "a1")
	third, _ := b.Next(ctx, KindInbound)
	if third.ID != "a2" {
		t.Fatalf("third = %s, want a2", third.ID)
	}
}

func TestTryPublishShedsOnSaturation(t *testing.T) {
	b := New(Config{Capacity: 2})

	if err := b.TryPublish(env(KindSystem, "s1", "sys", "x")); err != nil {
		t.Fatalf("s1: %v", err)
	}
	if err := b.TryPublish(env(KindSystem, "s2", "sys", "x")); err != nil {
		t.Fatalf("s2: %v", err)
	}
	if err := b.TryPublish(env(KindSystem, "s3", "sys", "x")); err == nil {
		t.Fatal("expected saturation error for s3")
	}
	if got := b.Dropped(KindSystem); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestPublishBlocksUntilSpace(t *testing.T) {
	b := New(Config{Capacity: 1})
	ctx := context.Background()

	b.Publish(ctx, env(KindOutbound, "o1", "tg", "c1"))

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(ctx, env(KindOutbound, "o2", "tg", "c1"))
	}()

	select {
	case <-done:
		t.Fatal("publish returned while queue full")
	case <-time.After(100 * time.Millisecond):
	}

	got, _ := b.Next(ctx, KindOutbound)
	b.Ack(KindOutbound, got.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked publish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after space opened")
	}
}

func TestRedeliveryAfterAckDeadline(t *testing.T) {
	b := New(Config{Capacity: 4, AckDeadline: 50 * time.Millisecond})
	ctx := context.Background()

	b.Publish(ctx, env(KindInbound, "r1", "cli", "u1"))

	first, _ := b.Next(ctx, KindInbound)
	if first.ID != "r1" {
		t.Fatalf("first = %s", first.ID)
	}
	// No ack; wait past the deadline and expect a re-offer.
	time.Sleep(80 * time.Millisecond)

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	again, err := b.Next(ctx2, KindInbound)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if again.ID != "r1" {
		t.Fatalf("redelivered = %s, want r1", again.ID)
	}
}

func TestNextRespectsCancellation(t *testing.T) {
	b := New(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Next(ctx, KindInbound)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
