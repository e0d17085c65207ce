package rolecard

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Registry resolves role cards through the override chain:
// workspace file, then user-global file, then compiled-in default.
// Resolution is field-level: a missing field falls to the next tier.
type Registry struct {
	workspaceDir string // <workspace>/.goflock/role_cards
	userDir      string // ~/.config/goflock/role_cards
	defaults     map[string]RoleCard
	log          *slog.Logger

	mu    sync.RWMutex
	cache map[string]RoleCard

	watcher *fsnotify.Watcher
}

func NewRegistry(workspace string, log *slog.Logger) *Registry {
	home, _ := os.UserHomeDir()
	return &Registry{
		workspaceDir: filepath.Join(workspace, ".goflock", "role_cards"),
		userDir:      filepath.Join(home, ".config", "goflock", "role_cards"),
		defaults:     make(map[string]RoleCard),
		cache:        make(map[string]RoleCard),
		log:          log.With("component", "rolecards"),
	}
}

// SetDefault registers a compiled-in card for a bot.
func (r *Registry) SetDefault(bot string, card RoleCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[bot] = card
}

// Get resolves a bot's effective role card.
func (r *Registry) Get(bot string) RoleCard {
	r.mu.RLock()
	if card, ok := r.cache[bot]; ok {
		r.mu.RUnlock()
		return card
	}
	r.mu.RUnlock()

	card := r.resolve(bot)
	r.mu.Lock()
	r.cache[bot] = card
	r.mu.Unlock()
	return card
}

func (r *Registry) resolve(bot string) RoleCard {
	base, ok := r.defaults[bot]
	if !ok {
		base = DefaultCard(bot)
	}
	if userCard, err := loadFile(filepath.Join(r.userDir, bot+".yaml")); err == nil {
		base = userCard.merge(base)
	} else if !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("user role card unreadable", "bot", bot, "error", err)
	}
	if wsCard, err := loadFile(filepath.Join(r.workspaceDir, bot+".yaml")); err == nil {
		base = wsCard.merge(base)
	} else if !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("workspace role card unreadable", "bot", bot, "error", err)
	}
	base.Bot = bot
	return base
}

// loadFile parses one override file. Unknown fields are ignored.
func loadFile(path string) (RoleCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RoleCard{}, err
	}
	var card RoleCard
	if err := yaml.Unmarshal(raw, &card); err != nil {
		return RoleCard{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return card, nil
}

// Save writes a card to the workspace override tier.
func (r *Registry) Save(bot string, card RoleCard) error {
	if err := os.MkdirAll(r.workspaceDir, 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(card)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(r.workspaceDir, bot+".yaml"), raw, 0o644); err != nil {
		return err
	}
	r.Invalidate(bot)
	return nil
}

// Invalidate drops a bot's cached card; empty bot drops everything.
func (r *Registry) Invalidate(bot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bot == "" {
		r.cache = make(map[string]RoleCard)
		return
	}
	delete(r.cache, bot)
}

// Watch invalidates the cache when an override file changes on disk.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = watcher

	for _, dir := range []string{r.workspaceDir, r.userDir} {
		if _, err := os.Stat(dir); err == nil {
			if err := watcher.Add(dir); err != nil {
				r.log.Warn("role card watch failed", "dir", dir, "error", err)
			}
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					bot := botFromPath(ev.Name)
					r.Invalidate(bot)
					r.log.Info("role card reloaded", "bot", bot, "file", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn("role card watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func botFromPath(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".yml" {
		return ""
	}
	return base[:len(base)-len(ext)]
}

// ProposedChange is a bot-suggested card edit awaiting user approval.
type ProposedChange struct {
	ID        string    `yaml:"id"`
	Bot       string    `yaml:"bot"`
	Diff      string    `yaml:"diff"`
	Rationale string    `yaml:"rationale"`
	CreatedAt time.Time `yaml:"created_at"`
}

// ProposeChange persists a draft change. It never takes effect until
// the user accepts it explicitly.
func (r *Registry) ProposeChange(bot, diff, rationale string) (string, error) {
	draftDir := filepath.Join(r.workspaceDir, "drafts")
	if err := os.MkdirAll(draftDir, 0o755); err != nil {
		return "", err
	}
	change := ProposedChange{
		ID:        store.NewID(),
		Bot:       bot,
		Diff:      diff,
		Rationale: rationale,
		CreatedAt: time.Now(),
	}
	raw, err := yaml.Marshal(change)
	if err != nil {
		return "", err
	}
	path := filepath.Join(draftDir, bot+"-"+change.ID+".yaml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	r.log.Info("role card change proposed", "bot", bot, "draft", path)
	return change.ID, nil
}
