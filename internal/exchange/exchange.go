// Package exchange promotes high-confidence private learnings into
// durable packages and distributes them to the applicable peer bots.
package exchange

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// ReceiveFunc is a bot's registered receive-callback. The default
// receiver stores the package as a fresh Learning owned by the bot.
type ReceiveFunc func(pkg store.LearningPackage) error

// Exchange runs beside the memory layer: promotion on learning
// creation, distribution on each cycle. The store is the queue;
// startup recovery is reading what is still marked queued.
type Exchange struct {
	store *store.ExchangeStore
	rooms *store.RoomStore
	cfg   config.ExchangeConfig
	log   *slog.Logger

	mu        sync.RWMutex
	bots      []string
	receivers map[string]ReceiveFunc

	failures atomic.Int64
}

func New(st *store.ExchangeStore, rooms *store.RoomStore, cfg config.ExchangeConfig, log *slog.Logger) *Exchange {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.85
	}
	return &Exchange{
		store:     st,
		rooms:     rooms,
		cfg:       cfg,
		log:       log.With("component", "exchange"),
		receivers: make(map[string]ReceiveFunc),
	}
}

// RegisterBot adds a bot and its receive-callback.
func (e *Exchange) RegisterBot(name string, receive ReceiveFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bots = append(e.bots, name)
	e.receivers[name] = receive
}

// Failures returns the count of cycles that distributed to nobody.
func (e *Exchange) Failures() int64 { return e.failures.Load() }

// shareable reports whether the category participates in exchange.
func (e *Exchange) shareable(category string) bool {
	for _, c := range e.cfg.ShareableCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Promote packages a learning when it crosses the confidence
// threshold in a shareable category. Scope is inferred from the room
// the learning originated in.
func (e *Exchange) Promote(l store.Learning, roomID string) (string, error) {
	if !e.cfg.Enabled {
		return "", nil
	}
	if l.Confidence < e.cfg.MinConfidence || !e.shareable(l.Category) {
		return "", nil
	}

	pkg := store.LearningPackage{
		Category:    l.Category,
		Title:       title(l.Text),
		Description: l.Text,
		Confidence:  l.Confidence,
		SourceBot:   l.OwnerBot,
		SourceRoom:  roomID,
	}
	e.applyScope(&pkg, roomID)

	id, err := e.store.PromoteLearning(l.ID, pkg)
	if err != nil {
		return "", err
	}
	e.log.Info("learning promoted",
		"package", id, "category", l.Category, "scope", pkg.Scope, "source", l.OwnerBot)
	return id, nil
}

// applyScope infers the package scope from the owning room.
func (e *Exchange) applyScope(pkg *store.LearningPackage, roomID string) {
	pkg.Scope = store.ScopeGeneral

	if allowed, ok := e.cfg.WorkspaceScopes[roomID]; ok {
		pkg.Scope = store.ScopeTeam
		pkg.ApplicableBots = allowed
		pkg.ApplicableRooms = []string{roomID}
		return
	}

	room, err := e.rooms.Get(roomID)
	if err != nil || room == nil {
		return
	}
	switch room.Kind {
	case store.RoomProject:
		pkg.Scope = store.ScopeProject
		pkg.ApplicableRooms = []string{roomID}
	case store.RoomDirect:
		pkg.Scope = store.ScopeBotSpecific
		for _, p := range room.Participants {
			if p != pkg.SourceBot {
				pkg.ApplicableBots = append(pkg.ApplicableBots, p)
			}
		}
	}
}

// ApplicableBots computes the recipient set for a package, source bot
// excluded.
func (e *Exchange) ApplicableBots(pkg store.LearningPackage) []string {
	e.mu.RLock()
	registered := append([]string(nil), e.bots...)
	e.mu.RUnlock()

	var candidates []string
	switch pkg.Scope {
	case store.ScopeGeneral:
		candidates = registered
	case store.ScopeProject:
		members := make(map[string]bool)
		for _, roomID := range pkg.ApplicableRooms {
			if room, err := e.rooms.Get(roomID); err == nil && room != nil {
				for _, p := range room.Participants {
					members[p] = true
				}
			}
		}
		for _, b := range registered {
			if members[b] {
				candidates = append(candidates, b)
			}
		}
	case store.ScopeTeam:
		inRooms := make(map[string]bool)
		for _, roomID := range pkg.ApplicableRooms {
			if room, err := e.rooms.Get(roomID); err == nil && room != nil {
				for _, p := range room.Participants {
					inRooms[p] = true
				}
			}
		}
		for _, b := range pkg.ApplicableBots {
			if len(pkg.ApplicableRooms) == 0 || inRooms[b] {
				candidates = append(candidates, b)
			}
		}
	case store.ScopeBotSpecific:
		candidates = pkg.ApplicableBots
	}

	out := candidates[:0]
	for _, b := range candidates {
		if b != pkg.SourceBot {
			out = append(out, b)
		}
	}
	return out
}

// RunCycle distributes packages in insertion order: manually approved
// ones always, queued ones only under auto-approve. A package is
// marked distributed when at least one recipient succeeded; otherwise
// it stays for the next cycle.
func (e *Exchange) RunCycle(ctx context.Context) (int, error) {
	if !e.cfg.Enabled {
		return 0, nil
	}
	pending, err := e.store.ApprovedPackages()
	if err != nil {
		return 0, err
	}
	if e.cfg.AutoApprove {
		queued, err := e.store.PendingPackages()
		if err != nil {
			return 0, err
		}
		pending = append(pending, queued...)
	}

	distributed := 0
	for _, pkg := range pending {
		if ctx.Err() != nil {
			return distributed, ctx.Err()
		}
		if e.Distribute(pkg) {
			distributed++
		}
	}
	return distributed, nil
}

// Distribute delivers one package to its applicable bots. Callback
// errors are logged and skipped, never retried within the cycle.
func (e *Exchange) Distribute(pkg store.LearningPackage) bool {
	targets := e.ApplicableBots(pkg)
	if len(targets) == 0 {
		// Nobody applicable; archive rather than spin forever.
		e.store.Archive(pkg.ID)
		return false
	}

	var delivered []string
	for _, bot := range targets {
		e.mu.RLock()
		receive := e.receivers[bot]
		e.mu.RUnlock()
		if receive == nil {
			continue
		}
		if err := receive(pkg); err != nil {
			e.log.Warn("learning delivery failed",
				"package", pkg.ID, "bot", bot,
				"error", fault.Wrap(fault.KindLearningDistribution, err, "deliver to %s", bot))
			continue
		}
		delivered = append(delivered, bot)
	}

	if len(delivered) == 0 {
		e.failures.Add(1)
		return false
	}
	if err := e.store.MarkDistributed(pkg.ID, delivered); err != nil {
		e.log.Warn("mark distributed failed", "package", pkg.ID, "error", err)
		return false
	}
	e.log.Info("package distributed", "package", pkg.ID, "recipients", delivered)
	return true
}

// Approve distributes one queued package immediately (manual approval
// path when auto_approve is off).
func (e *Exchange) Approve(packageID string) error {
	pkg, err := e.store.Get(packageID)
	if err != nil {
		return err
	}
	if pkg == nil {
		return fault.New(fault.KindNotFound, "package %s", packageID)
	}
	if pkg.Status != store.PackageQueued {
		return fault.New(fault.KindInputValidation, "package %s is %s, not queued", packageID, pkg.Status)
	}
	e.Distribute(*pkg)
	return nil
}

// Run drives periodic exchange cycles until cancellation.
func (e *Exchange) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.CycleIntervalS) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.RunCycle(ctx); err != nil {
				e.log.Warn("exchange cycle failed", "error", err)
			} else if n > 0 {
				e.log.Info("exchange cycle", "distributed", n)
			}
		}
	}
}

func title(text string) string {
	const max = 80
	if len(text) <= max {
		return text
	}
	return text[:max-1] + "…"
}
