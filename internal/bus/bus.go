// Package bus is the only communication substrate between components:
// three bounded queues (inbound, outbound, system) partitioned by
// (channel, chat_id) so that two conversations never head-of-line
// block each other.
//
// Delivery is at-least-once within the process: an envelope handed out
// by Next is re-offered when the consumer does not Ack it before the
// ack deadline. Within one partition, at most one envelope is in
// flight at a time, which keeps per-conversation processing serial.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

const (
	// DefaultCapacity bounds each queue (sum across partitions).
	DefaultCapacity = 256
	// DefaultAckDeadline is how long a consumer may hold an envelope
	// before it is re-offered.
	DefaultAckDeadline = 2 * time.Minute
)

// Config configures a Bus.
type Config struct {
	Capacity    int
	AckDeadline time.Duration
}

// Bus routes envelopes between channel adapters, agent loops, and
// internal producers.
type Bus struct {
	inbound  *queue
	outbound *queue
	system   *queue
}

// New creates a Bus with bounded queues.
func New(cfg Config) *Bus {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = DefaultAckDeadline
	}
	return &Bus{
		inbound:  newQueue(KindInbound, cfg),
		outbound: newQueue(KindOutbound, cfg),
		system:   newQueue(KindSystem, cfg),
	}
}

func (b *Bus) queueFor(kind Kind) *queue {
	switch kind {
	case KindInbound:
		return b.inbound
	case KindOutbound:
		return b.outbound
	default:
		return b.system
	}
}

// Publish enqueues an envelope, blocking while the queue is full.
// Channel adapters use this path; blocking is the backpressure.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	return b.queueFor(env.Kind).publish(ctx, env)
}

// TryPublish enqueues without blocking. Internal producers (heartbeat
// notifications, invocation results) use this path: on saturation the
// envelope is dropped with a warning counter so the producer can never
// deadlock against its own consumer.
func (b *Bus) TryPublish(env Envelope) error {
	q := b.queueFor(env.Kind)
	if q.tryPublish(env) {
		return nil
	}
	q.dropped.Add(1)
	slog.Warn("bus saturated, envelope dropped",
		"kind", env.Kind, "partition", env.PartitionKey(), "id", env.ID)
	return fault.New(fault.KindBusSaturation, "queue %s full, envelope %s dropped", env.Kind, env.ID)
}

// Next blocks until an envelope of the given kind is available or ctx
// is cancelled. The caller must Ack the envelope once processed.
func (b *Bus) Next(ctx context.Context, kind Kind) (Envelope, error) {
	return b.queueFor(kind).next(ctx)
}

// Ack marks an envelope as processed; its partition may deliver again.
func (b *Bus) Ack(kind Kind, id string) {
	b.queueFor(kind).ack(id)
}

// Dropped reports how many envelopes of a kind were shed on saturation.
func (b *Bus) Dropped(kind Kind) uint64 {
	return b.queueFor(kind).dropped.Load()
}

// Len reports queued (not in-flight) envelopes of a kind.
func (b *Bus) Len(kind Kind) int {
	return b.queueFor(kind).len()
}

type inflight struct {
	env      Envelope
	part     string
	deadline time.Time
}

type queue struct {
	kind        Kind
	capacity    int
	ackDeadline time.Duration

	mu       sync.Mutex
	parts    map[string][]Envelope // pending, FIFO per partition
	order    []string              // round-robin partition order
	rrNext   int
	inflight map[string]inflight // envelope id → entry
	size     int                 // pending count across partitions

	notify  chan struct{} // wakes one blocked consumer/publisher
	dropped atomic.Uint64
}

func newQueue(kind Kind, cfg Config) *queue {
	return &queue{
		kind:        kind,
		capacity:    cfg.Capacity,
		ackDeadline: cfg.AckDeadline,
		parts:       make(map[string][]Envelope),
		inflight:    make(map[string]inflight),
		notify:      make(chan struct{}, 1),
	}
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) tryPublish(env Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size >= q.capacity {
		return false
	}
	q.append(env)
	q.signal()
	return true
}

func (q *queue) publish(ctx context.Context, env Envelope) error {
	for {
		if q.tryPublish(env) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fault.Wrap(fault.KindBusSaturation, ctx.Err(), "publish %s cancelled", q.kind)
		case <-q.notify:
			// Space may have opened; signal again for other waiters.
			q.signal()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// append assumes q.mu held.
func (q *queue) append(env Envelope) {
	part := env.PartitionKey()
	if _, ok := q.parts[part]; !ok {
		q.order = append(q.order, part)
	}
	q.parts[part] = append(q.parts[part], env)
	q.size++
}

func (q *queue) next(ctx context.Context) (Envelope, error) {
	for {
		if env, ok := q.take(); ok {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-q.notify:
		case <-time.After(200 * time.Millisecond):
			// Periodic wake to re-offer expired in-flight envelopes.
		}
	}
}

// take pops the next deliverable envelope, round-robin across
// partitions, skipping partitions with an envelope already in flight.
func (q *queue) take() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpired()

	busy := make(map[string]bool, len(q.inflight))
	for _, f := range q.inflight {
		busy[f.part] = true
	}

	n := len(q.order)
	for i := 0; i < n; i++ {
		idx := (q.rrNext + i) % n
		part := q.order[idx]
		pending := q.parts[part]
		if len(pending) == 0 || busy[part] {
			continue
		}
		env := pending[0]
		q.parts[part] = pending[1:]
		q.size--
		q.inflight[env.ID] = inflight{env: env, part: part, deadline: time.Now().Add(q.ackDeadline)}
		q.rrNext = (idx + 1) % n
		q.signal() // space opened for publishers
		return env, true
	}
	return Envelope{}, false
}

// requeueExpired returns unacked envelopes to the head of their
// partition. Assumes q.mu held.
func (q *queue) requeueExpired() {
	now := time.Now()
	for id, f := range q.inflight {
		if now.Before(f.deadline) {
			continue
		}
		delete(q.inflight, id)
		q.parts[f.part] = append([]Envelope{f.env}, q.parts[f.part]...)
		q.size++
		slog.Warn("envelope ack deadline expired, re-offering",
			"kind", q.kind, "id", id, "partition", f.part)
	}
}

func (q *queue) ack(id string) {
	q.mu.Lock()
	delete(q.inflight, id)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
