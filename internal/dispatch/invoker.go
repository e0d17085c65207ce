package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// ProcessFunc runs a specialist task and returns its result text. The
// invocation id doubles as the specialist's session key suffix.
type ProcessFunc func(ctx context.Context, bot, task, taskContext, invocationID string) (string, error)

// Invoker spawns specialist invocations as background work. Results
// re-enter the stream as system envelopes referencing the invocation
// id; completions arrive in completion order, not invocation order.
type Invoker struct {
	bus     *bus.Bus
	process ProcessFunc
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewInvoker(b *bus.Bus, process ProcessFunc, timeout time.Duration, log *slog.Logger) *Invoker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Invoker{
		bus:     b,
		process: process,
		timeout: timeout,
		log:     log.With("component", "invoker"),
	}
}

// Invoke starts a background invocation and immediately returns the
// acknowledgement text plus the invocation id.
func (i *Invoker) Invoke(bot, task, taskContext, originChannel, originChatID string) (string, string) {
	invocationID := store.NewID()
	ack := fmt.Sprintf("@%s is on it…", bot)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
		defer cancel()

		result, err := i.process(ctx, bot, task, taskContext, invocationID)
		status := "completed"
		if err != nil {
			status = "failed"
			result = fmt.Sprintf("@%s could not finish the task: %v", bot, err)
			i.log.Warn("invocation failed", "bot", bot, "invocation", invocationID, "error", err)
		}

		env := bus.Envelope{
			ID:        store.NewID(),
			Kind:      bus.KindSystem,
			Channel:   originChannel,
			ChatID:    originChatID,
			SenderID:  bot,
			Timestamp: time.Now(),
			Content:   bus.Content{Text: result},
			Reference: invocationID,
			Metadata: map[string]string{
				"event":  "invocation_complete",
				"bot":    bot,
				"status": status,
			},
		}

		// Internal producer: shed on saturation, never block the bus.
		if err := i.bus.TryPublish(env); err != nil {
			i.log.Warn("invocation result dropped",
				"bot", bot, "invocation", invocationID, "error", err)
		}
	}()

	return ack, invocationID
}

// Wait blocks until all in-flight invocations finish.
func (i *Invoker) Wait() { i.wg.Wait() }
