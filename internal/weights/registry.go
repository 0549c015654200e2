package weights

import (
	"sort"
	"sync"
)

// Registry holds the process-wide set of named weights. It is populated
// during startup and read-only afterwards; Register is still mutex-guarded
// so a misbehaving late registration cannot corrupt concurrent readers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Weight
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Weight)}
}

// Register adds a weight. Registering the same entry again is a no-op, so a
// setup path that runs twice stays safe; a different entry under an existing
// name returns DuplicateNameError.
func (r *Registry) Register(w *Weight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[w.Name]; ok {
		if existing == w {
			return nil
		}
		return &DuplicateNameError{Name: w.Name}
	}
	r.entries[w.Name] = w
	return nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (*Weight, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.entries[name]
	if !ok {
		return nil, &UnknownWeightError{Name: name}
	}
	return w, nil
}

// Has reports whether a weight is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the sorted names of all registered weights.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasVariation reports whether any registered weight declares the given
// variation name.
func (r *Registry) HasVariation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.entries {
		for _, v := range w.Variations {
			if v == name {
				return true
			}
		}
	}
	return false
}

// Variations returns the sorted union of variation names across all
// registered weights.
func (r *Registry) Variations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, w := range r.entries {
		for _, v := range w.Variations {
			seen[v] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Modifiers returns every applicable modifier token: the literal "nominal"
// plus <variation>Up and <variation>Down for each declared variation,
// sorted.
func (r *Registry) Modifiers() []string {
	vars := r.Variations()
	out := make([]string, 0, 2*len(vars)+1)
	out = append(out, "nominal")
	for _, v := range vars {
		out = append(out, v+"Up", v+"Down")
	}
	sort.Strings(out)
	return out
}

// defaultRegistry backs the package-level registration API. Production code
// populates it once in main; tests use ResetForTesting to isolate state.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds a weight to the process-wide registry.
func Register(w *Weight) error { return defaultRegistry.Register(w) }

// Lookup resolves a name in the process-wide registry.
func Lookup(name string) (*Weight, error) { return defaultRegistry.Lookup(name) }

// ResetForTesting replaces the process-wide registry with an empty one.
func ResetForTesting() { defaultRegistry = NewRegistry() }
