package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/dispatch"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Runner consumes the inbound and system queues and drives the bot
// loops. One Runner per process.
type Runner struct {
	bus        *bus.Bus
	dispatcher *dispatch.Dispatcher
	invoker    *dispatch.Invoker
	rooms      *store.RoomStore
	loops      map[string]*Loop
	leader     string
	limiter    *rate.Limiter
	log        *slog.Logger
	wg         sync.WaitGroup
}

func NewRunner(b *bus.Bus, d *dispatch.Dispatcher, inv *dispatch.Invoker, rooms *store.RoomStore, loops map[string]*Loop, leader string, outboundRPM int, log *slog.Logger) *Runner {
	if outboundRPM <= 0 {
		outboundRPM = 60
	}
	return &Runner{
		bus:        b,
		dispatcher: d,
		invoker:    inv,
		rooms:      rooms,
		loops:      loops,
		leader:     leader,
		limiter:    rate.NewLimiter(rate.Limit(float64(outboundRPM)/60.0), outboundRPM/6+1),
		log:        log.With("component", "runner"),
	}
}

// Run blocks until ctx is cancelled, then drains in-flight work.
func (r *Runner) Run(ctx context.Context) {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.consume(ctx, bus.KindInbound, r.handleInbound)
	}()
	go func() {
		defer r.wg.Done()
		r.consume(ctx, bus.KindSystem, r.handleSystem)
	}()

	<-ctx.Done()
	r.wg.Wait()
	r.invoker.Wait()
}

func (r *Runner) consume(ctx context.Context, kind bus.Kind, handle func(context.Context, bus.Envelope)) {
	for {
		env, err := r.bus.Next(ctx, kind)
		if err != nil {
			return
		}
		r.wg.Add(1)
		go func(env bus.Envelope) {
			defer r.wg.Done()
			handle(ctx, env)
			r.bus.Ack(kind, env.ID)
		}(env)
	}
}

func (r *Runner) handleInbound(ctx context.Context, env bus.Envelope) {
	room := r.resolveRoom(env)
	isDM := env.Metadata["dm"] == "true"
	decision := r.dispatcher.Dispatch(env.Content.Text, room, isDM, env.Metadata["dm_target"])

	ctx, span := otel.Tracer("goflock/agent").Start(ctx, "handle_message",
		trace.WithAttributes(
			attribute.String("bot", decision.PrimaryBot),
			attribute.String("channel", env.Channel),
			attribute.String("dispatch.target", decision.Target),
		))
	defer span.End()

	if room != nil {
		if raw, err := json.Marshal(env); err == nil {
			if err := r.rooms.AppendEnvelope(room.ID, raw, env.Timestamp); err != nil {
				r.log.Warn("room history append failed", "room", room.ID, "error", err)
			}
		}
	}

	loop, ok := r.loops[decision.PrimaryBot]
	if !ok {
		loop = r.loops[r.leader]
	}
	if loop == nil {
		r.log.Error("no loop for dispatch target", "bot", decision.PrimaryBot)
		return
	}

	reply, err := loop.ProcessMessage(ctx, env, room)
	if err != nil {
		span.RecordError(err)
		r.log.Error("message processing failed", "bot", decision.PrimaryBot, "error", err)
		r.publish(ctx, env, decision.PrimaryBot, "Something went wrong handling that message. Please try again.", nil)
		return
	}

	meta := map[string]string{
		"tier":             reply.Tier,
		"context_usage":    fmt.Sprintf("%.2f", reply.Usage.PercentUsed),
		"tokens_used":      strconv.Itoa(reply.Usage.TokensUsed),
		"tokens_remaining": strconv.Itoa(reply.Usage.Remaining),
		"compactions":      strconv.Itoa(reply.Compactions),
	}
	r.publish(ctx, env, decision.PrimaryBot, reply.Text, meta)
}

// handleSystem routes completed invocations back through the leader so
// the user sees one coherent report.
func (r *Runner) handleSystem(ctx context.Context, env bus.Envelope) {
	switch env.Metadata["event"] {
	case "invocation_complete":
		bot := env.Metadata["bot"]
		status := env.Metadata["status"]
		leaderLoop := r.loops[r.leader]
		if leaderLoop == nil {
			return
		}

		relay := env
		relay.SenderID = "system"
		relay.Content.Text = fmt.Sprintf("@%s finished a delegated task (%s). Relay the outcome to the user:\n\n%s",
			bot, status, env.Content.Text)
		reply, err := leaderLoop.ProcessMessage(ctx, relay, r.resolveRoom(env))
		if err != nil {
			r.log.Error("invocation relay failed", "bot", bot, "error", err)
			r.publish(ctx, env, r.leader, env.Content.Text, nil)
			return
		}
		r.publish(ctx, env, r.leader, reply.Text, nil)

	case "heartbeat_tick":
		r.log.Debug("heartbeat tick", "bot", env.SenderID, "reference", env.Reference)

	default:
		r.log.Debug("unhandled system envelope", "event", env.Metadata["event"], "id", env.ID)
	}
}

func (r *Runner) resolveRoom(env bus.Envelope) *store.Room {
	id := env.Metadata["room"]
	if id == "" {
		id = env.ChatID
	}
	room, err := r.rooms.Get(id)
	if err != nil {
		return nil
	}
	return room
}

// publish delivers an outbound envelope under the per-process rate
// limit.
func (r *Runner) publish(ctx context.Context, origin bus.Envelope, sender, text string, meta map[string]string) {
	if text == "" {
		return
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}
	out := bus.Envelope{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      bus.KindOutbound,
		Channel:   origin.Channel,
		ChatID:    origin.ChatID,
		SenderID:  sender,
		Timestamp: time.Now(),
		Content:   bus.Content{Text: text},
		Reference: origin.ID,
		Metadata:  meta,
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.bus.Publish(pubCtx, out); err != nil {
		r.log.Warn("outbound publish failed", "id", out.ID, "error", err)
	}
}
