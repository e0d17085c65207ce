// Package cron injects scheduled messages into the inbound queue.
// Expressions are standard five-field cron, evaluated per-job in the
// job's timezone.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goflock/internal/bus"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Scheduler polls the job table once a minute and publishes an
// inbound envelope for every due job. A job fires at most once per
// minute; missed minutes are not replayed.
type Scheduler struct {
	store *store.CronStore
	bus   *bus.Bus
	gron  gronx.Gronx
	log   *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

func NewScheduler(st *store.CronStore, b *bus.Bus, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store: st,
		bus:   b,
		gron:  *gronx.New(),
		log:   log.With("component", "cron"),
		now:   time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every job due at the current minute.
func (s *Scheduler) tick(ctx context.Context) int {
	jobs, err := s.store.List()
	if err != nil {
		s.log.Error("cron list failed", "error", err)
		return 0
	}

	now := s.now()
	fired := 0
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		ref := now
		if job.TZ != "" {
			if loc, err := time.LoadLocation(job.TZ); err == nil {
				ref = now.In(loc)
			}
		}
		due, err := s.gron.IsDue(job.Expr, ref)
		if err != nil {
			s.log.Warn("bad cron expression", "job", job.Name, "expr", job.Expr, "error", err)
			continue
		}
		if !due {
			continue
		}
		// Guard against double fire when a tick lands twice inside
		// one minute.
		if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) < time.Minute {
			continue
		}

		if err := s.fire(ctx, job, now); err != nil {
			s.log.Error("cron fire failed", "job", job.Name, "error", err)
			continue
		}
		fired++
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, job store.CronJob, now time.Time) error {
	env := bus.Envelope{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      bus.KindInbound,
		Channel:   "cron",
		ChatID:    job.RoomID,
		SenderID:  "cron:" + job.Name,
		Timestamp: now,
		Content:   bus.Content{Text: job.Message},
		Metadata:  map[string]string{"room": job.RoomID, "cron_job": job.ID},
	}
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.bus.Publish(pubCtx, env); err != nil {
		return err
	}
	return s.store.MarkRun(job.ID, now)
}
