package heartbeat

import (
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goflock/internal/fault"
)

// defaultCheckTimeout applies when a definition carries none.
const defaultCheckTimeout = 60 * time.Second

// Registry is the named table of checks shared by all heartbeat
// services. Registration happens at startup.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]CheckDefinition
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]CheckDefinition)}
}

// Register adds a check definition. Names are unique.
func (r *Registry) Register(def CheckDefinition) error {
	if def.Name == "" || def.Run == nil {
		return fault.New(fault.KindInputValidation, "check needs a name and a handler")
	}
	if def.MaxDuration <= 0 {
		def.MaxDuration = defaultCheckTimeout
	}
	if len(def.BotDomains) == 0 {
		def.BotDomains = []string{"all"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[def.Name]; exists {
		return fault.New(fault.KindInputValidation, "check %q already registered", def.Name)
	}
	r.checks[def.Name] = def
	return nil
}

// Get returns one check by name.
func (r *Registry) Get(name string) (CheckDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.checks[name]
	return def, ok
}

// ForDomain lists the checks visible to a bot domain, highest
// priority first, name-ordered within a priority.
func (r *Registry) ForDomain(domain string) []CheckDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CheckDefinition
	for _, def := range r.checks {
		if visibleTo(def, domain) {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func visibleTo(def CheckDefinition, domain string) bool {
	for _, d := range def.BotDomains {
		if d == "all" || d == domain {
			return true
		}
	}
	return false
}
