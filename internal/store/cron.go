package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// CronJob is a scheduled message injection. The schedule is a
// standard cron expression evaluated in TZ.
type CronJob struct {
	ID        string
	Name      string
	Expr      string
	TZ        string
	Message   string
	RoomID    string
	Enabled   bool
	CreatedAt time.Time
	LastRunAt time.Time
}

// CronStore persists cron jobs (sessions.db).
type CronStore struct {
	db *sql.DB
}

func NewCronStore(db *sql.DB) *CronStore {
	return &CronStore{db: db}
}

func (c *CronStore) Init() error {
	_, err := c.db.Exec(`
	CREATE TABLE IF NOT EXISTS cron_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		expr TEXT NOT NULL,
		tz TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		last_run_at INTEGER NOT NULL DEFAULT 0
	)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init cron schema")
}

// Add inserts a job.
func (c *CronStore) Add(job CronJob) (string, error) {
	if job.ID == "" {
		job.ID = NewID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := c.db.Exec(
		`INSERT INTO cron_jobs (id, name, expr, tz, message, room_id, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Expr, job.TZ, job.Message, job.RoomID,
		boolToInt(job.Enabled), job.CreatedAt.UnixMilli())
	return job.ID, fault.Wrap(fault.KindStoreWrite, err, "add cron job %s", job.Name)
}

// List returns all jobs.
func (c *CronStore) List() ([]CronJob, error) {
	rows, err := c.db.Query(
		`SELECT id, name, expr, tz, message, room_id, enabled, created_at, last_run_at
		 FROM cron_jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		var j CronJob
		var enabled int
		var created, lastRun int64
		if err := rows.Scan(&j.ID, &j.Name, &j.Expr, &j.TZ, &j.Message, &j.RoomID, &enabled, &created, &lastRun); err != nil {
			return nil, err
		}
		j.Enabled = enabled != 0
		j.CreatedAt = msToTime(created)
		if lastRun > 0 {
			j.LastRunAt = msToTime(lastRun)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkRun records the last firing time.
func (c *CronStore) MarkRun(id string, at time.Time) error {
	_, err := c.db.Exec(`UPDATE cron_jobs SET last_run_at=? WHERE id=?`, at.UnixMilli(), id)
	return fault.Wrap(fault.KindStoreWrite, err, "mark cron run %s", id)
}
