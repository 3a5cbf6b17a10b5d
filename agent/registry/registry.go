// Package registry holds the capability contracts the planner works
// from. Capabilities are registered explicitly at startup; there is no
// filesystem or reflection discovery at runtime.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	contractx "github.com/voyagent/voyagent/agent/contract"
)

// Registry is a name-keyed, append-only set of capability contracts.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]contractx.Contract
	order     []string // registration order, kept for deterministic listings
}

func New() *Registry {
	return &Registry{
		contracts: make(map[string]contractx.Contract, 16),
	}
}

// Register adds a contract. Re-registering a name is an error:
// contracts are immutable once registered.
func (r *Registry) Register(c contractx.Contract) error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return fmt.Errorf("%w: contract name is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Intent) == "" {
		return fmt.Errorf("%w: contract %s has no intent", contractx.ErrValidation, name)
	}
	c.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[name]; exists {
		return fmt.Errorf("%w: contract %s already registered", contractx.ErrValidation, name)
	}
	r.contracts[name] = c
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on a registration error. Intended for startup
// seeding of the static catalog.
func (r *Registry) MustRegister(contracts ...contractx.Contract) {
	for _, c := range contracts {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Get returns the contract for a capability name.
func (r *Registry) Get(name string) (contractx.Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[name]
	return c, ok
}

// ForIntent returns every contract registered under the intent, in
// registration order.
func (r *Registry) ForIntent(intent string) []contractx.Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contractx.Contract, 0, len(r.order))
	for _, name := range r.order {
		if c := r.contracts[name]; c.Intent == intent {
			out = append(out, c)
		}
	}
	return out
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contracts)
}
