package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// Learning package lifecycle states. Packages are never deleted.
const (
	PackageQueued      = "queued"
	PackageApproved    = "approved"
	PackageDistributed = "distributed"
	PackageArchived    = "archived"
)

// Learning package scopes.
const (
	ScopeGeneral     = "general"
	ScopeProject     = "project"
	ScopeTeam        = "team"
	ScopeBotSpecific = "bot_specific"
)

// LearningPackage is a learning promoted for cross-bot distribution.
type LearningPackage struct {
	ID              string    `json:"id"`
	Category        string    `json:"category"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Confidence      float64   `json:"confidence"`
	Scope           string    `json:"scope"`
	ApplicableRooms []string  `json:"applicable_rooms,omitempty"`
	ApplicableBots  []string  `json:"applicable_bots,omitempty"`
	SourceBot       string    `json:"source_bot"`
	SourceRoom      string    `json:"source_room,omitempty"`
	Evidence        string    `json:"evidence,omitempty"`
	Status          string    `json:"status"`
	DistributedTo   []string  `json:"distributed_to,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LearningID      string    `json:"learning_id,omitempty"`
}

// ExchangeStore persists queued learning packages in
// learning_exchange.db. Insertion order is the queue order.
type ExchangeStore struct {
	db *sql.DB
}

func NewExchangeStore(db *sql.DB) *ExchangeStore {
	return &ExchangeStore{db: db}
}

func (e *ExchangeStore) Close() error { return e.db.Close() }

func (e *ExchangeStore) Init() error {
	_, err := e.db.Exec(`
	CREATE TABLE IF NOT EXISTS queued_packages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL,
		scope TEXT NOT NULL,
		applicable_rooms TEXT NOT NULL DEFAULT '[]',
		applicable_bots TEXT NOT NULL DEFAULT '[]',
		source_bot TEXT NOT NULL,
		source_room TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		distributed_to TEXT NOT NULL DEFAULT '[]',
		learning_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_packages_status ON queued_packages(status, seq)`)
	return fault.Wrap(fault.KindStoreWrite, err, "init exchange schema")
}

// PromoteLearning atomically inserts a package and marks it queued.
// Returns the package id.
func (e *ExchangeStore) PromoteLearning(learningID string, p LearningPackage) (string, error) {
	if p.ID == "" {
		p.ID = NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	rooms, _ := json.Marshal(p.ApplicableRooms)
	bots, _ := json.Marshal(p.ApplicableBots)
	_, err := e.db.Exec(
		`INSERT INTO queued_packages
		 (id, category, title, description, confidence, scope, applicable_rooms,
		  applicable_bots, source_bot, source_room, evidence, status, learning_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Category, p.Title, p.Description, p.Confidence, p.Scope,
		string(rooms), string(bots), p.SourceBot, p.SourceRoom, p.Evidence,
		PackageQueued, learningID, p.CreatedAt.UnixMilli())
	return p.ID, fault.Wrap(fault.KindStoreWrite, err, "promote learning %s", learningID)
}

// MarkDistributed flips status to distributed and appends recipients
// in a single UPDATE.
func (e *ExchangeStore) MarkDistributed(packageID string, botNames []string) error {
	pkg, err := e.Get(packageID)
	if err != nil {
		return err
	}
	if pkg == nil {
		return fault.New(fault.KindNotFound, "package %s", packageID)
	}
	recipients, _ := json.Marshal(mergeStrings(pkg.DistributedTo, botNames))
	_, err = e.db.Exec(
		`UPDATE queued_packages SET status=?, distributed_to=? WHERE id=?`,
		PackageDistributed, string(recipients), packageID)
	return fault.Wrap(fault.KindStoreWrite, err, "mark distributed %s", packageID)
}

// ApprovePackage flips a queued package to approved so the next
// exchange cycle distributes it even with auto-approve off.
func (e *ExchangeStore) ApprovePackage(packageID string) error {
	res, err := e.db.Exec(
		`UPDATE queued_packages SET status=? WHERE id=? AND status=?`,
		PackageApproved, packageID, PackageQueued)
	if err != nil {
		return fault.Wrap(fault.KindStoreWrite, err, "approve %s", packageID)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	pkg, err := e.Get(packageID)
	if err != nil {
		return err
	}
	if pkg == nil {
		return fault.New(fault.KindNotFound, "package %s", packageID)
	}
	return fault.New(fault.KindInputValidation, "package %s is %s, not queued", packageID, pkg.Status)
}

// Archive marks a package archived (terminal, never deleted).
func (e *ExchangeStore) Archive(packageID string) error {
	_, err := e.db.Exec(`UPDATE queued_packages SET status=? WHERE id=?`, PackageArchived, packageID)
	return fault.Wrap(fault.KindStoreWrite, err, "archive %s", packageID)
}

// PendingPackages reads all queued packages in insertion order
// (startup recovery and each exchange cycle).
func (e *ExchangeStore) PendingPackages() ([]LearningPackage, error) {
	rows, err := e.db.Query(selectPackage+` WHERE status=? ORDER BY seq ASC`, PackageQueued)
	if err != nil {
		return nil, fmt.Errorf("pending packages: %w", err)
	}
	defer rows.Close()
	return scanPackages(rows)
}

// ApprovedPackages reads manually approved packages in insertion order.
func (e *ExchangeStore) ApprovedPackages() ([]LearningPackage, error) {
	rows, err := e.db.Query(selectPackage+` WHERE status=? ORDER BY seq ASC`, PackageApproved)
	if err != nil {
		return nil, fmt.Errorf("approved packages: %w", err)
	}
	defer rows.Close()
	return scanPackages(rows)
}

// Get returns one package by id.
func (e *ExchangeStore) Get(packageID string) (*LearningPackage, error) {
	rows, err := e.db.Query(selectPackage+` WHERE id=?`, packageID)
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}
	defer rows.Close()
	pkgs, err := scanPackages(rows)
	if err != nil || len(pkgs) == 0 {
		return nil, err
	}
	return &pkgs[0], nil
}

// History returns recent packages of any status, newest first.
func (e *ExchangeStore) History(limit int) ([]LearningPackage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.Query(selectPackage+` ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("package history: %w", err)
	}
	defer rows.Close()
	return scanPackages(rows)
}

const selectPackage = `SELECT id, category, title, description, confidence, scope,
	applicable_rooms, applicable_bots, source_bot, source_room, evidence,
	status, distributed_to, learning_id, created_at FROM queued_packages`

func scanPackages(rows *sql.Rows) ([]LearningPackage, error) {
	var out []LearningPackage
	for rows.Next() {
		var p LearningPackage
		var rooms, bots, recipients string
		var created int64
		if err := rows.Scan(&p.ID, &p.Category, &p.Title, &p.Description, &p.Confidence,
			&p.Scope, &rooms, &bots, &p.SourceBot, &p.SourceRoom, &p.Evidence,
			&p.Status, &recipients, &p.LearningID, &created); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(rooms), &p.ApplicableRooms)
		json.Unmarshal([]byte(bots), &p.ApplicableBots)
		json.Unmarshal([]byte(recipients), &p.DistributedTo)
		p.CreatedAt = msToTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}
